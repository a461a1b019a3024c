package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Manager.
type Option func(*Manager)

// WithMetricsEnabled turns recording on or off. Disabled managers keep
// their collectors registered but never update them.
func WithMetricsEnabled(enabled bool) Option {
	return func(m *Manager) {
		m.enabled.Store(enabled)
	}
}

// WithRefreshInterval sets how often sampled gauges are refreshed.
func WithRefreshInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.refreshInterval.Store(int64(interval))
		}
	}
}

// WithPrometheusRegistry registers the collectors on registry instead of
// the default registerer. Only meaningful for NewManager.
func WithPrometheusRegistry(registry prometheus.Registerer) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// Configure applies runtime options to the global manager.
func Configure(opts ...Option) {
	if globalManager == nil {
		return
	}
	for _, opt := range opts {
		opt(globalManager)
	}
}
