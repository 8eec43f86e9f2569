// Package config manages server configuration stored in server_config.yaml.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/paperbase/paperbase/internal/storage"
)

const fileName = "server_config.yaml"

// Config stores all server-wide configuration. Loaded from
// server_config.yaml, created with defaults if missing.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Quotas are the server-wide default quotas. Per-owner quotas layer on
	// top of these; the effective value is the minimum positive per field.
	Quotas storage.Quotas `yaml:"quotas"`

	// Assets configures asset normalization.
	Assets AssetConfig `yaml:"assets"`

	// GC configures the garbage collector trigger.
	GC GCConfig `yaml:"gc"`

	// Duplication bounds recursive tree duplication.
	Duplication DupConfig `yaml:"duplication"`
}

// AssetConfig configures the image normalizer.
type AssetConfig struct {
	// MaxDimension bounds the longest side of a stored image in pixels.
	MaxDimension int `yaml:"max_dimension"`

	// JPEGQuality is the quality of the canonical JPEG encoding, 1-100.
	JPEGQuality int `yaml:"jpeg_quality"`
}

// GCConfig configures the best-effort garbage collection trigger.
type GCConfig struct {
	// MinIntervalSeconds throttles per-owner GC passes. 0 disables the
	// throttle.
	MinIntervalSeconds float64 `yaml:"min_interval_seconds"`
}

// DupConfig bounds recursive tree duplication.
type DupConfig struct {
	// MaxDepth is the hard ceiling on recursion depth.
	MaxDepth int `yaml:"max_depth"`

	// MaxEntities caps containers plus graph rows per operation.
	MaxEntities int `yaml:"max_entities"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Quotas:   storage.DefaultQuotas(),
		Assets: AssetConfig{
			MaxDimension: 2048,
			JPEGQuality:  85,
		},
		GC: GCConfig{
			MinIntervalSeconds: 5,
		},
		Duplication: DupConfig{
			MaxDepth:    32,
			MaxEntities: 10_000,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.LogLevel)
	}
	if err := c.Quotas.Validate(); err != nil {
		return fmt.Errorf("quotas: %w", err)
	}
	if c.Assets.MaxDimension < 0 {
		return errors.New("assets: max_dimension must be non-negative")
	}
	if c.Assets.JPEGQuality < 0 || c.Assets.JPEGQuality > 100 {
		return errors.New("assets: jpeg_quality must be in [0, 100]")
	}
	if c.GC.MinIntervalSeconds < 0 {
		return errors.New("gc: min_interval_seconds must be non-negative")
	}
	if c.Duplication.MaxDepth < 0 {
		return errors.New("duplication: max_depth must be non-negative")
	}
	if c.Duplication.MaxEntities < 0 {
		return errors.New("duplication: max_entities must be non-negative")
	}
	return nil
}

// Load loads configuration from dataDir/server_config.yaml. Creates the
// file with defaults if it doesn't exist.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, fileName)
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", fileName, err)
		}
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", fileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", fileName, err)
	}
	return cfg, nil
}

// Save saves configuration to dataDir/server_config.yaml.
func (c *Config) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, fileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", fileName, err)
	}
	return nil
}

// Watch reloads the configuration whenever the file changes and calls
// onChange with the new value. Invalid intermediate states are logged and
// skipped. Watch returns once the watcher is installed.
func Watch(ctx context.Context, dataDir string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Join(dataDir, fileName)); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(dataDir)
				if err != nil {
					slog.WarnContext(ctx, "Ignoring invalid config change", "error", err)
					continue
				}
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching config", "err", err)
			}
		}
	}()
	return nil
}
