package loader

import (
	"fmt"

	"github.com/chenyanchen/batchkit"
	"go.uber.org/zap"
)

// ErrorHandler maps the error of a failed group fetch to the error every item
// of that group reports.
type ErrorHandler func(path batchkit.ResourcePath, err error) error

// DefaultErrorHandler prefixes err with the resource path.
func DefaultErrorHandler(path batchkit.ResourcePath, err error) error {
	return fmt.Errorf("resource %s: %w", path.String(), err)
}

// Option configures a Loader.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	metrics      *Metrics
	concurrency  int
	errorHandler ErrorHandler
}

func defaultOptions() options {
	return options{
		logger:       zap.NewNop(),
		errorHandler: DefaultErrorHandler,
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records loader activity in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithConcurrency caps the number of group fetches in flight for one Load.
// Zero or less means no cap.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithErrorHandler replaces DefaultErrorHandler. A nil handler is ignored.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *options) {
		if h != nil {
			o.errorHandler = h
		}
	}
}
