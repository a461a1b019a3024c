// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and environment variables over the defaults.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"runtime"
	"time"

	"github.com/okian/sitwell/internal/domain/engine"
)

// Storage selects the session store.
type Storage struct {
	// Driver is "memory" or "sqlite".
	Driver string `koanf:"driver"`

	// Path is the SQLite database file. Ignored by the memory driver.
	Path string `koanf:"path"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the snapshot persistence queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of persistence workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets how many upload IDs are remembered.
	DedupeSize int `koanf:"dedupe_size"`

	// PersistEvery is the number of frames between intermediate snapshots.
	// Zero persists only at finalization.
	PersistEvery int `koanf:"persist_every"`

	// PersistTimeoutMS bounds each store write.
	PersistTimeoutMS int `koanf:"persist_timeout_ms"`

	// MaxUploadFrames caps the length of an uploaded recording.
	MaxUploadFrames int `koanf:"max_upload_frames"`

	// MetricsEnabled turns Prometheus recording on or off.
	MetricsEnabled bool `koanf:"metrics_enabled"`

	// MetricsRefreshMS is how often sampled gauges are refreshed.
	MetricsRefreshMS int `koanf:"metrics_refresh_ms"`

	Storage Storage `koanf:"storage"`

	// Engine holds the default session settings. Clients may override them
	// per session.
	Engine engine.Settings `koanf:"engine"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		QueueSize:        10_000,
		WorkerCount:      runtime.NumCPU(),
		DedupeSize:       100_000,
		PersistEvery:     75,
		PersistTimeoutMS: 2000,
		MaxUploadFrames:  216_000,
		MetricsEnabled:   true,
		MetricsRefreshMS: 10_000,
		Storage: Storage{
			Driver: "memory",
			Path:   "sitwell.db",
		},
		Engine: engine.DefaultSettings(),
	}
}

// PersistTimeout returns PersistTimeoutMS as a duration.
func (c *Config) PersistTimeout() time.Duration {
	return time.Duration(c.PersistTimeoutMS) * time.Millisecond
}

// MetricsRefresh returns MetricsRefreshMS as a duration.
func (c *Config) MetricsRefresh() time.Duration {
	return time.Duration(c.MetricsRefreshMS) * time.Millisecond
}
