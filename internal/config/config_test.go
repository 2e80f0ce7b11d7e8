package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicguard.org/internal/config"
)

var keys = []string{
	"CIVIC_HTTP_ADDR", "CIVIC_GRPC_ADDR", "CIVIC_PG_DSN", "CIVIC_AUTH_SECRET",
	"CIVIC_AUTH_ISSUER", "CIVIC_MATRIX_FILE", "CIVIC_AUTH_CODES_FILE",
	"CIVIC_COUNTDOWN", "CIVIC_DISTINCT_IDENTITIES", "CIVIC_CODE_ATTEMPT_INTERVAL",
	"CIVIC_CODE_ATTEMPT_BURST", "CIVIC_RATE_BURST", "CIVIC_RATE_PER_SEC",
	"CIVIC_MAX_BODY_BYTES",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Empty(t, cfg.PostgresDSN)
	assert.Equal(t, "civicguard", cfg.AuthIssuer)
	assert.Equal(t, 3*time.Second, cfg.Countdown)
	assert.False(t, cfg.DistinctIdentities)
	assert.Equal(t, 20, cfg.RateBurst)
	assert.Equal(t, 10.0, cfg.RatePerSec)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, 5, cfg.CodeAttemptBurst)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CIVIC_HTTP_ADDR", "127.0.0.1:18080")
	t.Setenv("CIVIC_PG_DSN", "postgres://civic@db:5432/civic")
	t.Setenv("CIVIC_AUTH_SECRET", "s3cret")
	t.Setenv("CIVIC_AUTH_ISSUER", "sessions.civic")
	t.Setenv("CIVIC_MATRIX_FILE", "/etc/civic/matrix.yaml")
	t.Setenv("CIVIC_COUNTDOWN", "10s")
	t.Setenv("CIVIC_DISTINCT_IDENTITIES", "true")
	t.Setenv("CIVIC_RATE_PER_SEC", "3")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:18080", cfg.HTTPAddr)
	assert.Equal(t, "postgres://civic@db:5432/civic", cfg.PostgresDSN)
	assert.Equal(t, "s3cret", cfg.AuthSecret)
	assert.Equal(t, "sessions.civic", cfg.AuthIssuer)
	assert.Equal(t, "/etc/civic/matrix.yaml", cfg.MatrixFile)
	assert.Equal(t, 10*time.Second, cfg.Countdown)
	assert.True(t, cfg.DistinctIdentities)
	assert.Equal(t, 3.0, cfg.RatePerSec)
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	cases := map[string]string{
		"CIVIC_COUNTDOWN":           "soon",
		"CIVIC_RATE_BURST":          "-1",
		"CIVIC_MAX_BODY_BYTES":      "big",
		"CIVIC_DISTINCT_IDENTITIES": "maybe",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, val)
			_, err := config.Load()
			assert.ErrorContains(t, err, key)
		})
	}
}
