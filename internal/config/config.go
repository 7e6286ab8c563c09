// Package config reads service configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"time"
)

// Postgres holds PostgreSQL connection settings.
type Postgres struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Config is the full service configuration.
type Config struct {
	Addr string

	// Backend selects the storage implementation: memory, postgres or redis.
	Backend string

	Postgres Postgres
	RedisURL string

	// StorageTimeout bounds every storage round trip; expiry surfaces as a
	// retryable 503 to clients.
	StorageTimeout time.Duration

	ShutdownTimeout time.Duration
}

// FromEnv builds a Config from environment variables, falling back to
// local-development defaults.
func FromEnv() Config {
	return Config{
		Addr:    ":" + getEnv("PORT", "8080"),
		Backend: getEnv("STORAGE_BACKEND", "memory"),
		Postgres: Postgres{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "eventdesk"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
		StorageTimeout:  getDuration("STORAGE_TIMEOUT", 5*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
