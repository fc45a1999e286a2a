package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if !cfg.Persistence {
		t.Error("Persistence default must be true")
	}
	if cfg.SessionTTL != 60*time.Minute {
		t.Errorf("SessionTTL = %v, want 60m", cfg.SessionTTL)
	}
	if cfg.Cache.Capacity != 1024 {
		t.Errorf("Cache.Capacity = %d, want 1024", cfg.Cache.Capacity)
	}
	if cfg.Cache.TTL != 0 {
		t.Errorf("Cache.TTL = %v, want 0 (no expiry)", cfg.Cache.TTL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("PERSISTENCE_ENABLED", "false")
	t.Setenv("SESSION_TTL", "15m")
	t.Setenv("CACHE_CAPACITY", "32")
	t.Setenv("CACHE_TTL", "5m")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("Port = %q, want 9000", cfg.Port)
	}
	if cfg.Persistence {
		t.Error("Persistence = true, want false")
	}
	if cfg.SessionTTL != 15*time.Minute {
		t.Errorf("SessionTTL = %v, want 15m", cfg.SessionTTL)
	}
	if cfg.Cache.Capacity != 32 {
		t.Errorf("Cache.Capacity = %d, want 32", cfg.Cache.Capacity)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Cache.TTL = %v, want 5m", cfg.Cache.TTL)
	}
	if cfg.Cache.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("Cache.RedisURL = %q", cfg.Cache.RedisURL)
	}
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("PERSISTENCE_ENABLED", "maybe")
	t.Setenv("SESSION_TTL", "eleven")
	t.Setenv("CACHE_CAPACITY", "lots")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Persistence {
		t.Error("malformed bool must fall back to default true")
	}
	if cfg.SessionTTL != 60*time.Minute {
		t.Errorf("SessionTTL = %v, want default 60m", cfg.SessionTTL)
	}
	if cfg.Cache.Capacity != 1024 {
		t.Errorf("Cache.Capacity = %d, want default 1024", cfg.Cache.Capacity)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:        "8080",
			DBPath:      "./data/x.db",
			Persistence: true,
			SessionTTL:  time.Hour,
			Cache:       CacheConfig{Capacity: 16},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"empty port", func(c *Config) { c.Port = "" }, true},
		{"persistence without db path", func(c *Config) { c.DBPath = "" }, true},
		{"no db path without persistence", func(c *Config) { c.DBPath = ""; c.Persistence = false }, false},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }, true},
		{"zero cache capacity", func(c *Config) { c.Cache.Capacity = 0 }, true},
		{"negative cache ttl", func(c *Config) { c.Cache.TTL = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:5173", true},
		{"https://app.example.com", false},
	}
	for _, tt := range tests {
		cfg := &Config{FrontendURL: tt.url}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
