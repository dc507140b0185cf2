// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Catalog ("memory" or "postgres")
	Catalog       string
	DatabaseURL   string
	MigrationsDir string

	// Storage backend ("local" or "s3")
	StorageBackend   string
	LocalStoragePath string
	S3Endpoint       string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3Region         string

	// Auth. With AuthDisabled the API is open, for local development only.
	JWTSecret    string
	AuthUsers    map[string]string // username -> bcrypt hash
	TokenTTL     time.Duration
	AuthDisabled bool

	// Uploads
	MaxUploadSize int64
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:       envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:      envOr("METRICS_ADDR", ":9090"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		Catalog:          envOr("CATALOG", "memory"),
		DatabaseURL:      envOr("DATABASE_URL", ""),
		MigrationsDir:    envOr("MIGRATIONS_DIR", ""),
		StorageBackend:   envOr("STORAGE_BACKEND", "local"),
		LocalStoragePath: envOr("LOCAL_STORAGE_PATH", "/data/librarian"),
		S3Endpoint:       envOr("S3_ENDPOINT", ""),
		S3Bucket:         envOr("S3_BUCKET", "librarian"),
		S3AccessKey:      envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:      envOr("S3_SECRET_KEY", ""),
		S3Region:         envOr("S3_REGION", "us-east-1"),
		JWTSecret:        envOr("JWT_SECRET", ""),
		TokenTTL:         envDuration("TOKEN_TTL", 30*24*time.Hour),
		AuthDisabled:     envBool("AUTH_DISABLED", false),
		MaxUploadSize:    envInt64("MAX_UPLOAD_SIZE", 100*1024*1024), // 100MB default
	}

	users, err := ParseUsers(os.Getenv("AUTH_USERS"))
	if err != nil {
		return nil, err
	}
	cfg.AuthUsers = users

	switch cfg.Catalog {
	case "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when CATALOG=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown CATALOG %q", cfg.Catalog)
	}
	if !cfg.AuthDisabled && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// ParseUsers parses "name:bcrypt-hash,name:bcrypt-hash".
func ParseUsers(list string) (map[string]string, error) {
	users := make(map[string]string)
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, hash, ok := strings.Cut(entry, ":")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("AUTH_USERS: malformed entry %q", entry)
		}
		users[name] = hash
	}
	return users, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
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

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
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
