package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GATEHOUSE_ENTITY_ID", "https://idp.example.org/idp.xml")
	t.Setenv("GATEHOUSE_SIGNING_CERT", "/etc/gatehouse/cert.pem")
	t.Setenv("GATEHOUSE_SIGNING_KEY", "/etc/gatehouse/key.pem")
	t.Setenv("GATEHOUSE_POSTGRES_URL", "postgres://localhost/gatehouse?sslmode=disable")
}

func TestLoadDefaults(t *testing.T) {
	validEnv(t)
	cfg := Load()

	assert.Equal(t, ":8088", cfg.ListenAddr)
	assert.Equal(t, time.Hour, cfg.SessionLifetime)
	assert.Equal(t, 5*time.Minute, cfg.LoginStateTTL)
	assert.Equal(t, "idpauthn", cfg.CookieName)
	assert.True(t, cfg.CookieSecure)
	assert.False(t, cfg.VerifyRequestSignatures)
	assert.Equal(t, "@every 5m", cfg.SessionSweepSchedule)
	assert.Equal(t, "info", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	validEnv(t)
	t.Setenv("GATEHOUSE_SESSION_LIFETIME", "30m")
	t.Setenv("GATEHOUSE_COOKIE_SECURE", "false")
	t.Setenv("GATEHOUSE_VERIFY_REQUEST_SIGNATURES", "true")
	t.Setenv("GATEHOUSE_DEFAULT_EPPN_SCOPE", "example.org")
	t.Setenv("GATEHOUSE_REDIS_ADDR", "localhost:6379")

	cfg := Load()
	assert.Equal(t, 30*time.Minute, cfg.SessionLifetime)
	assert.False(t, cfg.CookieSecure)
	assert.True(t, cfg.VerifyRequestSignatures)
	assert.Equal(t, "example.org", cfg.DefaultScope)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestBadValuesFallBack(t *testing.T) {
	validEnv(t)
	t.Setenv("GATEHOUSE_SESSION_LIFETIME", "sideways")
	t.Setenv("GATEHOUSE_COOKIE_SECURE", "perhaps")

	cfg := Load()
	assert.Equal(t, time.Hour, cfg.SessionLifetime)
	assert.True(t, cfg.CookieSecure)
}

func TestValidate(t *testing.T) {
	validEnv(t)
	cfg := Load()
	require.NoError(t, cfg.Validate())

	missing := *cfg
	missing.EntityID = ""
	assert.Error(t, missing.Validate())

	missing = *cfg
	missing.SigningKeyFile = ""
	assert.Error(t, missing.Validate())

	missing = *cfg
	missing.PostgresURL = ""
	assert.Error(t, missing.Validate())

	missing = *cfg
	missing.SessionLifetime = 0
	assert.Error(t, missing.Validate())
}
