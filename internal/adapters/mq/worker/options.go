// Package worker runs queued invoice analyses.
package worker

import (
	"time"

	"github.com/okian/invoicerisk/pkg/logger"
)

// Option applies a configuration option to a worker or pool.
type Option func(*settings)

type settings struct {
	name       string
	logger     logger.Logger
	jobTimeout time.Duration
}

// WithName sets the worker name for logging. Pools suffix it with the
// worker index.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithJobTimeout bounds the context passed to each analysis.
func WithJobTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		name:       "worker",
		logger:     logger.Named("worker"),
		jobTimeout: defaultJobTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
