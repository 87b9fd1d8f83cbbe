package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "player.yaml")
	data := `
assets:
  manifest: frames/manifest.yaml
  tier: sd
cache:
  max_entries: 60
  retry_delay: 250ms
timing:
  animation: 1500ms
  easing: ease-in-out
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Assets.Tier != "sd" {
		t.Errorf("Expected tier sd, got %s", cfg.Assets.Tier)
	}
	if cfg.Cache.MaxEntries != 60 {
		t.Errorf("Expected max_entries 60, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.RetryDelay != 250*time.Millisecond {
		t.Errorf("Expected retry delay 250ms, got %s", cfg.Cache.RetryDelay)
	}
	if cfg.Timing.Animation != 1500*time.Millisecond {
		t.Errorf("Expected animation 1.5s, got %s", cfg.Timing.Animation)
	}
	// untouched values keep their defaults
	if cfg.Cache.MaxRetries != 3 {
		t.Errorf("Expected default retries 3, got %d", cfg.Cache.MaxRetries)
	}
	if cfg.Viewport.Background != "#050508" {
		t.Errorf("Expected default background, got %s", cfg.Viewport.Background)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "player.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  max_entires: 5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero budget", func(c *Config) { c.Cache.MaxEntries = 0 }},
		{"no workers", func(c *Config) { c.Cache.Workers = 0 }},
		{"negative retries", func(c *Config) { c.Cache.MaxRetries = -1 }},
		{"zero animation", func(c *Config) { c.Timing.Animation = 0 }},
		{"bad viewport", func(c *Config) { c.Viewport.Height = 0 }},
		{"bad easing", func(c *Config) { c.Timing.Easing = "bounce" }},
		{"bad tier", func(c *Config) { c.Assets.Tier = "8k" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
