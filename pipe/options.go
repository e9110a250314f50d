package pipe

import (
	"log/slog"

	"github.com/c360/echopipe/metric"
)

// Option configures a Resource using the functional options pattern.
type Option func(*resourceOptions)

type resourceOptions struct {
	maxCapacity   int
	metricsReg    *metric.Registry
	metricsPrefix string
	logger        *slog.Logger
}

// WithMaxCapacity bounds Resize. Defaults to DefaultMaxCapacity.
func WithMaxCapacity(maxCapacity int) Option {
	return func(opts *resourceOptions) {
		if maxCapacity > 0 {
			opts.maxCapacity = maxCapacity
		}
	}
}

// WithMetrics enables Prometheus metrics export for resource
// statistics. If registry is nil or prefix empty, the option is
// ignored.
func WithMetrics(registry *metric.Registry, prefix string) Option {
	return func(opts *resourceOptions) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithLogger sets the logger for lifecycle debug logging. Defaults to
// slog.Default(). The resource never logs I/O errors; they are
// returned to callers.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *resourceOptions) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

func applyOptions(options ...Option) *resourceOptions {
	opts := &resourceOptions{
		maxCapacity: DefaultMaxCapacity,
		logger:      slog.Default(),
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
