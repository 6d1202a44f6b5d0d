package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatehouse/pkg/api"
	"github.com/platinummonkey/gatehouse/pkg/assurance"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/login"
	"github.com/platinummonkey/gatehouse/pkg/loginstate"
	"github.com/platinummonkey/gatehouse/pkg/logout"
	"github.com/platinummonkey/gatehouse/pkg/metadata"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/saml"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/user"
)

const serviceVersion = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gatehouse: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.LogLevel), os.Stdout)
	logger.WithFields(map[string]interface{}{
		"entity_id":   cfg.EntityID,
		"listen_addr": cfg.ListenAddr,
		"environment": cfg.Environment,
	}).Info("Starting gatehouse identity provider")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.OTLPEndpoint != "",
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    "gatehouse",
		ServiceVersion: serviceVersion,
		Insecure:       cfg.Environment != "production",
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	keyPair, err := tls.LoadX509KeyPair(cfg.SigningCertFile, cfg.SigningKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load signing key pair: %w", err)
	}

	db, err := user.OpenPostgres(cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("failed to connect to user directory: %w", err)
	}
	defer db.Close()
	directory := user.NewPostgresDirectory(db, logger)
	verifier := user.NewDirectoryVerifier(directory, logger)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
	}

	registry, err := metadata.NewRegistry(logger, cfg.MetadataDir)
	if err != nil {
		return fmt.Errorf("failed to load service provider metadata: %w", err)
	}
	logger.WithField("service_providers", registry.Len()).Info("Metadata loaded")
	go func() {
		if err := registry.Watch(ctx); err != nil {
			logger.WithError(err).Error("Metadata watcher stopped")
		}
	}()

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	sessions, err := session.NewStore(logger, cfg.RedisAddr, cfg.RedisPassword,
		cfg.SessionLifetime, cfg.SessionExpireInterval)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	if mem, ok := sessions.(*session.MemoryStore); ok {
		mem.SetHooks(
			func(n int) {
				metrics.CacheEvictionsTotal.WithLabelValues("sso_sessions").Add(float64(n))
				metrics.SessionsActive.Sub(float64(n))
			},
			func() { metrics.CachePurgeSkips.WithLabelValues("sso_sessions").Inc() },
		)
	}

	parser := loginstate.NewParser(logger, registry, cfg.VerifyRequestSignatures)
	var tickets *loginstate.Store
	if redisClient != nil {
		tickets = loginstate.NewRedisStore(logger, parser, redisClient, cfg.LoginStateTTL)
	} else {
		tickets = loginstate.NewMemoryStore(logger, parser, cfg.LoginStateTTL)
	}
	tickets.SetHooks(
		func(n int) { metrics.CacheEvictionsTotal.WithLabelValues("login_tickets").Add(float64(n)) },
		func() { metrics.CachePurgeSkips.WithLabelValues("login_tickets").Inc() },
	)

	builder := saml.NewResponseBuilder(cfg.EntityID, keyPair)
	broker := assurance.DefaultBroker()

	loginEngine := login.NewEngine(login.Config{
		Logger:          logger,
		Metrics:         metrics,
		Tickets:         tickets,
		Sessions:        sessions,
		Registry:        registry,
		Broker:          broker,
		Verifier:        verifier,
		Directory:       directory,
		Builder:         builder,
		VerifyPath:      "/verify",
		DefaultScope:    cfg.DefaultScope,
		SessionLifetime: cfg.SessionLifetime,
	})
	logoutEngine := logout.NewEngine(logout.Config{
		Logger:    logger,
		Metrics:   metrics,
		Sessions:  sessions,
		Registry:  registry,
		Resolver:  verifier,
		Builder:   builder,
		VerifyAll: cfg.VerifyRequestSignatures,
	})

	server := api.NewServer(api.Config{
		Logger:            logger,
		Metrics:           metrics,
		Login:             loginEngine,
		Logout:            logoutEngine,
		Verifier:          verifier,
		Health:            observability.NewHealthChecker(db, redisClient),
		Cookie:            &httputil.SessionCookie{Name: cfg.CookieName, Secure: cfg.CookieSecure},
		SignupLink:        cfg.SignupLink,
		PasswordResetLink: cfg.PasswordResetLink,
	})

	// Background sweep of expired sessions, on top of the per-write
	// expiry the stores already do.
	sweeper := cron.New()
	_, err = sweeper.AddFunc(cfg.SessionSweepSchedule, func() {
		if err := sessions.ExpireOldSessions(ctx, true); err != nil {
			logger.WithError(err).Warn("Session sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid session sweep schedule %q: %w", cfg.SessionSweepSchedule, err)
	}
	sweeper.Start()

	handler := server.Handler()
	if providers != nil {
		handler = otelhttp.NewHandler(handler, "gatehouse")
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, 30*time.Second)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		<-sweeper.Stop().Done()
		return nil
	})
	if providers != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	shutdownErr := make(chan error, 1)
	go func() {
		shutdownErr <- shutdown.WaitForShutdown()
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case err := <-shutdownErr:
		return err
	}
}
