package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("DB_ADAPTER", "memory")

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, "memory", c.DBAdapter)
	assert.True(t, c.RevealUnknownEmail)
	assert.Equal(t, 587, c.SMTPPort)
	assert.Empty(t, c.SMTPHost)
}

func TestBuildPostgresDSN(t *testing.T) {
	c := &Config{
		PostgresHost:     "db.internal",
		PostgresPort:     "5433",
		PostgresUser:     "svc",
		PostgresPassword: "secret",
		PostgresDB:       "accounts",
	}
	dsn, err := c.BuildPostgresDSN()
	require.NoError(t, err)
	assert.Equal(t, "host=db.internal port=5433 user=svc dbname=accounts sslmode=disable password=secret", dsn)

	c.PostgresDSN = "postgres://u:p@h/db"
	dsn, err = c.BuildPostgresDSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@h/db", dsn)
}

func TestBuildPostgresDSNMissingHost(t *testing.T) {
	c := &Config{PostgresUser: "svc", PostgresDB: "accounts"}
	_, err := c.BuildPostgresDSN()
	assert.Error(t, err)
}

func TestProductionRequiresJwtSecret(t *testing.T) {
	t.Setenv("DB_ADAPTER", "memory")
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := New()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "real-secret")
	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, "real-secret", c.JwtSecret)
}

func TestRevealUnknownEmailToggle(t *testing.T) {
	t.Setenv("DB_ADAPTER", "memory")
	t.Setenv("REVEAL_UNKNOWN_EMAIL", "false")

	c, err := New()
	require.NoError(t, err)
	assert.False(t, c.RevealUnknownEmail)
}

func TestAllowedOrigins(t *testing.T) {
	t.Setenv("DB_ADAPTER", "memory")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.AllowedOrigins)
}
