package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "SITWELL_"
	envConfig  = envPrefix + "CONFIG"
	envNesting = "__"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if SITWELL_CONFIG is set
//  3. env (prefix SITWELL_, "__" separates nested keys)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(envConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: file %s: %w", ErrLoadConfig, path, err)
		}
	}

	// SITWELL_QUEUE_SIZE -> queue_size, SITWELL_ENGINE__FPS -> engine.fps
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		if s == envConfig {
			return ""
		}
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, envNesting, ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every configuration problem. Each wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Addr == "" {
		bad("addr must not be empty")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		bad("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.PersistEvery < 0 {
		bad("persist_every must not be negative, got %d", c.PersistEvery)
	}
	if c.PersistTimeoutMS <= 0 {
		bad("persist_timeout_ms must be positive, got %d", c.PersistTimeoutMS)
	}
	if c.MetricsRefreshMS <= 0 {
		bad("metrics_refresh_ms must be positive, got %d", c.MetricsRefreshMS)
	}
	if c.MaxUploadFrames < 0 {
		bad("max_upload_frames must not be negative, got %d", c.MaxUploadFrames)
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			bad("storage.path is required for the sqlite driver")
		}
	default:
		bad("storage.driver must be memory or sqlite, got %q", c.Storage.Driver)
	}
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: engine: %w", ErrInvalidConfig, err))
	}
	return errors.Join(errs...)
}
