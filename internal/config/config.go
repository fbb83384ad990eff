// Package config loads server settings from the environment: an explicit
// env var always wins, and only its absence falls back to the named
// default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Backend selects which storage.Store implementation the server wires up.
type Backend string

const (
	BackendFilesystem Backend = "fs"
	BackendDatabase   Backend = "db"
)

// Config holds every environment-tunable setting the server needs.
type Config struct {
	Host string
	Port string

	StorageBackend Backend
	DataDir        string // used when StorageBackend == BackendFilesystem
	DatabaseURL    string // used when StorageBackend == BackendDatabase

	RedisURL      string // "" disables rate limiting (fail-open)
	RedisPassword string // only used when RedisURL is a bare "host:port"

	ReplayMaxAge    time.Duration
	ReplayClockSkew time.Duration
	UploadRateLimit int
	RateLimitWindow time.Duration
}

// Load reads Config from the process environment.
func Load() (Config, error) {
	backend := Backend(getEnv("STORAGE_BACKEND", string(BackendFilesystem)))
	if backend != BackendFilesystem && backend != BackendDatabase {
		return Config{}, fmt.Errorf("config: STORAGE_BACKEND must be %q or %q, got %q", BackendFilesystem, BackendDatabase, backend)
	}

	cfg := Config{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "8080"),
		StorageBackend:  backend,
		DataDir:         getEnv("DATA_DIR", "server_data"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		ReplayMaxAge:    300 * time.Second,
		ReplayClockSkew: 60 * time.Second,
		UploadRateLimit: 60,
		RateLimitWindow: time.Minute,
	}

	if v := os.Getenv("REPLAY_MAX_AGE_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: REPLAY_MAX_AGE_SECONDS: %w", err)
		}
		cfg.ReplayMaxAge = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("REPLAY_CLOCK_SKEW_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: REPLAY_CLOCK_SKEW_SECONDS: %w", err)
		}
		cfg.ReplayClockSkew = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("UPLOAD_RATE_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: UPLOAD_RATE_LIMIT: %w", err)
		}
		cfg.UploadRateLimit = limit
	}

	if cfg.StorageBackend == BackendDatabase && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required when STORAGE_BACKEND=%s", BackendDatabase)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
