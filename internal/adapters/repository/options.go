package repository

import (
	"time"

	"github.com/okian/invoicerisk/pkg/logger"
)

// Option applies a configuration option to the Repository.
type Option func(*Repository)

// WithRefreshInterval enables periodic reloads from the source.
func WithRefreshInterval(interval time.Duration) Option {
	return func(r *Repository) {
		if interval > 0 {
			r.refreshInterval = interval
		}
	}
}

// WithFallbackArea sets the practice area used when a lookup misses.
func WithFallbackArea(area string) Option {
	return func(r *Repository) {
		if area != "" {
			r.fallbackArea = area
		}
	}
}

// WithLogger sets the repository logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.log = l
		}
	}
}
