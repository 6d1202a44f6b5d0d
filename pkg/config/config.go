// Package config loads server configuration from the environment. Every
// variable is prefixed GATEHOUSE_.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full server configuration.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string
	// EntityID is this identity provider's SAML entity ID.
	EntityID string
	// SigningCertFile and SigningKeyFile hold the PEM key pair used to
	// sign assertions and logout responses.
	SigningCertFile string
	SigningKeyFile  string
	// MetadataDir holds service provider EntityDescriptor files and the
	// optional policy.yaml sidecar.
	MetadataDir string

	// SessionLifetime bounds how long an SSO session answers requests.
	SessionLifetime time.Duration
	// SessionExpireInterval throttles bulk session expiry sweeps.
	SessionExpireInterval time.Duration
	// SessionSweepSchedule is the cron schedule for periodic sweeps.
	SessionSweepSchedule string
	// LoginStateTTL bounds how long a rendered login form stays usable.
	LoginStateTTL time.Duration

	CookieName   string
	CookieSecure bool

	// DefaultScope is appended to unscoped eduPersonPrincipalName values.
	DefaultScope string
	// SignupLink and PasswordResetLink are shown on the login form.
	SignupLink        string
	PasswordResetLink string

	// VerifyRequestSignatures rejects every unsigned SAML request.
	VerifyRequestSignatures bool

	// RedisAddr selects shared Redis storage when non-empty.
	RedisAddr     string
	RedisPassword string
	// PostgresURL is the user directory connection string.
	PostgresURL string

	LogLevel string
	// OTLPEndpoint enables trace and metric export when non-empty.
	OTLPEndpoint string
	Environment  string
}

// Load reads configuration from the environment.
func Load() *Config {
	return &Config{
		ListenAddr:              getEnv("GATEHOUSE_LISTEN_ADDR", ":8088"),
		EntityID:                getEnv("GATEHOUSE_ENTITY_ID", ""),
		SigningCertFile:         getEnv("GATEHOUSE_SIGNING_CERT", ""),
		SigningKeyFile:          getEnv("GATEHOUSE_SIGNING_KEY", ""),
		MetadataDir:             getEnv("GATEHOUSE_METADATA_DIR", "./metadata"),
		SessionLifetime:         getEnvDuration("GATEHOUSE_SESSION_LIFETIME", time.Hour),
		SessionExpireInterval:   getEnvDuration("GATEHOUSE_SESSION_EXPIRE_INTERVAL", 5*time.Minute),
		SessionSweepSchedule:    getEnv("GATEHOUSE_SESSION_SWEEP_SCHEDULE", "@every 5m"),
		LoginStateTTL:           getEnvDuration("GATEHOUSE_LOGIN_STATE_TTL", 5*time.Minute),
		CookieName:              getEnv("GATEHOUSE_COOKIE_NAME", "idpauthn"),
		CookieSecure:            getEnvBool("GATEHOUSE_COOKIE_SECURE", true),
		DefaultScope:            getEnv("GATEHOUSE_DEFAULT_EPPN_SCOPE", ""),
		SignupLink:              getEnv("GATEHOUSE_SIGNUP_LINK", ""),
		PasswordResetLink:       getEnv("GATEHOUSE_PASSWORD_RESET_LINK", ""),
		VerifyRequestSignatures: getEnvBool("GATEHOUSE_VERIFY_REQUEST_SIGNATURES", false),
		RedisAddr:               getEnv("GATEHOUSE_REDIS_ADDR", ""),
		RedisPassword:           getEnv("GATEHOUSE_REDIS_PASSWORD", ""),
		PostgresURL:             getEnv("GATEHOUSE_POSTGRES_URL", ""),
		LogLevel:                getEnv("GATEHOUSE_LOG_LEVEL", "info"),
		OTLPEndpoint:            getEnv("GATEHOUSE_OTLP_ENDPOINT", ""),
		Environment:             getEnv("GATEHOUSE_ENVIRONMENT", "development"),
	}
}

// Validate reports missing or inconsistent settings.
func (c *Config) Validate() error {
	if c.EntityID == "" {
		return fmt.Errorf("GATEHOUSE_ENTITY_ID is required")
	}
	if c.SigningCertFile == "" || c.SigningKeyFile == "" {
		return fmt.Errorf("GATEHOUSE_SIGNING_CERT and GATEHOUSE_SIGNING_KEY are required")
	}
	if c.PostgresURL == "" {
		return fmt.Errorf("GATEHOUSE_POSTGRES_URL is required")
	}
	if c.SessionLifetime <= 0 {
		return fmt.Errorf("GATEHOUSE_SESSION_LIFETIME must be positive")
	}
	if c.LoginStateTTL <= 0 {
		return fmt.Errorf("GATEHOUSE_LOGIN_STATE_TTL must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
