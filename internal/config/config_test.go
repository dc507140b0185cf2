package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("AUTH_USERS", "alice:$2a$10$abc, bob:$2a$10$def")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.Catalog != "memory" || cfg.StorageBackend != "local" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.TokenTTL != 30*24*time.Hour {
		t.Errorf("TokenTTL = %v", cfg.TokenTTL)
	}
	if len(cfg.AuthUsers) != 2 || cfg.AuthUsers["bob"] != "$2a$10$def" {
		t.Errorf("users = %v", cfg.AuthUsers)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{}},
		{"postgres without url", map[string]string{"JWT_SECRET": "x", "CATALOG": "postgres"}},
		{"unknown catalog", map[string]string{"JWT_SECRET": "x", "CATALOG": "redis"}},
		{"bad users", map[string]string{"JWT_SECRET": "x", "AUTH_USERS": "alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"JWT_SECRET", "CATALOG", "AUTH_USERS", "AUTH_DISABLED"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestAuthDisabledNeedsNoSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTH_DISABLED", "true")
	t.Setenv("TOKEN_TTL", "2h")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.AuthDisabled || cfg.TokenTTL != 2*time.Hour {
		t.Errorf("cfg = %+v", cfg)
	}
}
