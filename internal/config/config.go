// Package config reads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	// PostgresDSN selects the durable crisis log. Empty keeps the log in memory.
	PostgresDSN string

	AuthSecret string
	AuthIssuer string

	MatrixFile    string
	AuthCodesFile string

	Countdown          time.Duration
	DistinctIdentities bool
	CodeAttemptEvery   time.Duration
	CodeAttemptBurst   int

	RateBurst    int
	RatePerSec   float64
	MaxBodyBytes int64
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:      envOr("CIVIC_HTTP_ADDR", ":8080"),
		GRPCAddr:      envOr("CIVIC_GRPC_ADDR", ":9090"),
		PostgresDSN:   strings.TrimSpace(os.Getenv("CIVIC_PG_DSN")),
		AuthSecret:    os.Getenv("CIVIC_AUTH_SECRET"),
		AuthIssuer:    envOr("CIVIC_AUTH_ISSUER", "civicguard"),
		MatrixFile:    strings.TrimSpace(os.Getenv("CIVIC_MATRIX_FILE")),
		AuthCodesFile: strings.TrimSpace(os.Getenv("CIVIC_AUTH_CODES_FILE")),
	}

	var err error
	if cfg.Countdown, err = durationEnv("CIVIC_COUNTDOWN", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.DistinctIdentities, err = boolEnv("CIVIC_DISTINCT_IDENTITIES", false); err != nil {
		return nil, err
	}
	if cfg.CodeAttemptEvery, err = durationEnv("CIVIC_CODE_ATTEMPT_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.CodeAttemptBurst, err = intEnv("CIVIC_CODE_ATTEMPT_BURST", 5); err != nil {
		return nil, err
	}
	if cfg.RateBurst, err = intEnv("CIVIC_RATE_BURST", 20); err != nil {
		return nil, err
	}
	perSec, err := intEnv("CIVIC_RATE_PER_SEC", 10)
	if err != nil {
		return nil, err
	}
	cfg.RatePerSec = float64(perSec)
	maxBody, err := intEnv("CIVIC_MAX_BODY_BYTES", 1<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxBodyBytes = int64(maxBody)
	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive integer, got %q", key, raw)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a boolean, got %q", key, raw)
	}
	return b, nil
}
