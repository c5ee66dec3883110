// Package config loads runtime settings from the environment. A local .env
// file is honored when present; real deployments set the variables directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the binaries need to wire themselves up.
type Config struct {
	// Backend selects the persistence layer: "bigquery" or "memory".
	Backend string

	// BigQuery coordinates, required when Backend is "bigquery".
	ProjectID string
	Dataset   string

	// Bucket is the GCS bucket for raw statement bytes; empty disables
	// retention (the file registry still records uploads).
	Bucket string

	// GeminiModel is the model used for schema detection and enrichment.
	GeminiModel string

	// Currency is stamped on every imported transaction.
	Currency string

	Port string

	PollInterval time.Duration
	StaleTimeout time.Duration

	LogLevel string
}

// Load reads the environment, after merging in .env when one exists.
func Load() (*Config, error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Backend:      getEnv("BANKFEED_BACKEND", "bigquery"),
		ProjectID:    os.Getenv("GOOGLE_CLOUD_PROJECT"),
		Dataset:      getEnv("BIGQUERY_DATASET", "bankfeed"),
		Bucket:       os.Getenv("GCS_BUCKET"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		Currency:     getEnv("BANKFEED_CURRENCY", "EUR"),
		Port:         getEnv("PORT", "8080"),
		PollInterval: getDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		StaleTimeout: getDuration("JOB_STALE_TIMEOUT", 15*time.Minute),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case "bigquery":
		if c.ProjectID == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required with the bigquery backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("worker poll interval must be positive")
	}
	if c.StaleTimeout <= 0 {
		return fmt.Errorf("job stale timeout must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Accept bare seconds too.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
