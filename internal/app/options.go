package app

import (
	"log/slog"
	"time"

	"dilemma-cloud/internal/logging"
	"dilemma-cloud/internal/metrics"
)

// Option customises a service.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	now     func() time.Time
	metrics *metrics.Metrics
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics attaches a Prometheus recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(component string, opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.Component(o.logger, component)
	return o
}
