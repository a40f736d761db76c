// Package config reads the small set of environment variables the pipeline
// binary needs at startup. A general CLI/YAML configuration loader is out of
// scope; this is intentionally a thin env-var reader in the same spirit.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds everything the composition root needs to wire a Pipeline.
type Config struct {
	DestinationDSN string
	EncryptionKey  string
	MetricsPort    int
	LogLevel       string
	LogFormat      string
	PoliteDelayMS  int
}

// FromEnv reads Config from the process environment, applying the same
// defaults the pipeline's components use when constructed directly.
func FromEnv() (Config, error) {
	cfg := Config{
		DestinationDSN: os.Getenv("ETL_DESTINATION_DSN"),
		EncryptionKey:  os.Getenv("ETL_ENCRYPTION_KEY"),
		MetricsPort:    envInt("ETL_METRICS_PORT", 9090),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", "json"),
		PoliteDelayMS:  envInt("ETL_POLITE_DELAY_MS", 100),
	}

	if cfg.DestinationDSN == "" {
		return Config{}, fmt.Errorf("ETL_DESTINATION_DSN is required")
	}
	if len(cfg.EncryptionKey) != 32 {
		return Config{}, fmt.Errorf("ETL_ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(cfg.EncryptionKey))
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
