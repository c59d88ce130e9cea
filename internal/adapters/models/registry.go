package models

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/invoicerisk/internal/domain/scoring"
	"github.com/okian/invoicerisk/pkg/logger"
	"github.com/okian/invoicerisk/pkg/metrics"
)

// Reload outcomes recorded in metrics.
const (
	reloadSuccess = "success"
	reloadFailure = "failure"
)

// Option configures a Registry.
type Option func(*Registry)

// WithArtifacts sets where models are loaded from.
func WithArtifacts(a Artifacts) Option {
	return func(r *Registry) { r.artifacts = a }
}

// WithLogger sets the registry logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithLoader replaces the artifact loader.
func WithLoader(fn func(Artifacts) (*scoring.Bundle, error)) Option {
	return func(r *Registry) {
		if fn != nil {
			r.load = fn
		}
	}
}

// Registry holds the active model bundle. Readers acquire a reference so a
// reload never closes models that are still scoring.
type Registry struct {
	artifacts Artifacts
	load      func(Artifacts) (*scoring.Bundle, error)
	log       logger.Logger

	// mu orders Acquire against the swap so no reference is taken on a
	// bundle after its registry reference was dropped.
	mu       sync.RWMutex
	reloadMu sync.Mutex
	current  atomic.Pointer[scoring.Bundle]
	lastErr  atomic.Pointer[loadError]
}

type loadError struct {
	err error
	at  time.Time
}

// Status describes the registry for health and stats output.
type Status struct {
	Loaded      bool       `json:"loaded"`
	Version     string     `json:"version,omitempty"`
	Source      string     `json:"source,omitempty"`
	LoadedAt    *time.Time `json:"loaded_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		load: LoadBundle,
		log:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load performs the initial load. On failure the registry stays empty and
// scoring runs on the deterministic path.
func (r *Registry) Load(ctx context.Context) error {
	err := r.Reload(ctx)
	if err != nil {
		r.log.Warn(ctx, "models unavailable, deterministic scoring only",
			logger.String("dir", r.artifacts.Dir),
			logger.Error(err),
		)
	}
	return err
}

// Reload builds a new bundle and swaps it in only when both models loaded.
// The previous bundle stays active on failure.
func (r *Registry) Reload(ctx context.Context) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	start := time.Now()
	b, err := r.load(r.artifacts)
	if err != nil {
		r.lastErr.Store(&loadError{err: err, at: time.Now()})
		metrics.RecordModelReload(reloadFailure)
		return err
	}

	r.mu.Lock()
	old := r.current.Swap(b)
	r.mu.Unlock()
	r.lastErr.Store(nil)
	metrics.RecordModelReload(reloadSuccess)
	metrics.SetModelsLoaded(true)

	r.log.Info(ctx, "model bundle loaded",
		logger.String("version", b.Version),
		logger.String("source", b.Source),
		logger.Duration("took", time.Since(start)),
	)
	if old != nil {
		if err := old.Release(); err != nil {
			r.log.Warn(ctx, "closing previous bundle failed",
				logger.String("version", old.Version),
				logger.Error(err),
			)
		}
	}
	return nil
}

// Acquire returns the active bundle with a reference held. The caller must
// call Release on it.
func (r *Registry) Acquire() (*scoring.Bundle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b := r.current.Load()
	if b == nil || b.Retain() != nil {
		return nil, false
	}
	return b, true
}

// Current returns the active bundle without taking a reference. Use it
// only for reporting.
func (r *Registry) Current() *scoring.Bundle {
	return r.current.Load()
}

// ModelsLoaded reports whether a bundle is active.
func (r *Registry) ModelsLoaded() bool {
	return r.current.Load() != nil
}

// Status reports the active bundle and the last load error.
func (r *Registry) Status() Status {
	var s Status
	if b := r.current.Load(); b != nil {
		s.Loaded = true
		s.Version = b.Version
		s.Source = b.Source
		at := b.LoadedAt
		s.LoadedAt = &at
	}
	if le := r.lastErr.Load(); le != nil {
		at := le.at
		s.LastError = le.err.Error()
		s.LastErrorAt = &at
	}
	return s
}

// Close drops the active bundle.
func (r *Registry) Close() error {
	r.mu.Lock()
	old := r.current.Swap(nil)
	r.mu.Unlock()
	metrics.SetModelsLoaded(false)
	if old == nil {
		return nil
	}
	return old.Release()
}
