package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Assets.MaxDimension != 2048 || cfg.Assets.JPEGQuality != 85 {
		t.Errorf("asset defaults = %+v", cfg.Assets)
	}
	if _, err := os.Stat(filepath.Join(dir, fileName)); err != nil {
		t.Errorf("default file not written: %v", err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.LogLevel = "debug"
	cfg.Quotas.MaxStorageBytes = 1 << 20
	cfg.Duplication.MaxDepth = 8
	if err := cfg.Save(dir); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.LogLevel != "debug" || got.Quotas.MaxStorageBytes != 1<<20 || got.Duplication.MaxDepth != 8 {
		t.Errorf("round trip = %+v", got)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte("log_level: loud\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("invalid log level accepted")
	}
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte("log_level: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("malformed yaml accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"negative dimension", func(c *Config) { c.Assets.MaxDimension = -1 }},
		{"quality out of range", func(c *Config) { c.Assets.JPEGQuality = 101 }},
		{"negative gc interval", func(c *Config) { c.GC.MinIntervalSeconds = -1 }},
		{"negative depth", func(c *Config) { c.Duplication.MaxDepth = -1 }},
		{"negative entities", func(c *Config) { c.Duplication.MaxEntities = -1 }},
		{"negative quota", func(c *Config) { c.Quotas.MaxStorageBytes = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 1)
	if err := Watch(ctx, dir, func(c *Config) {
		select {
		case changes <- c:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch error: %v", err)
	}

	cfg := Default()
	cfg.LogLevel = "warn"
	if err := cfg.Save(dir); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-changes:
		if got.LogLevel != "warn" {
			t.Errorf("reloaded LogLevel = %q, want warn", got.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
