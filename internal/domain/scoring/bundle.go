package scoring

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// AnomalyDetector returns one decision value per row. Lower values are more
// anomalous; values below zero are outliers.
type AnomalyDetector interface {
	DecisionFunction(ctx context.Context, vectors [][]float64) ([]float64, error)
}

// Classifier returns the positive-class (overspend) probability per row.
type Classifier interface {
	PredictProba(ctx context.Context, vectors [][]float64) ([]float64, error)
}

// Bundle pairs a detector with a classifier. A bundle is never partial.
//
// Bundles are reference counted: the creator holds the first reference and
// every Retain must be matched by a Release. Model resources implementing
// io.Closer are closed when the last reference is released.
type Bundle struct {
	Detector   AnomalyDetector
	Classifier Classifier
	Version    string
	LoadedAt   time.Time
	Source     string

	refs      atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

// BundleOption configures a Bundle.
type BundleOption func(*Bundle)

// WithVersion overrides the generated bundle version.
func WithVersion(v string) BundleOption {
	return func(b *Bundle) {
		if v != "" {
			b.Version = v
		}
	}
}

// WithSource records where the artifacts were loaded from.
func WithSource(src string) BundleOption {
	return func(b *Bundle) { b.Source = src }
}

// WithLoadedAt overrides the load timestamp.
func WithLoadedAt(t time.Time) BundleOption {
	return func(b *Bundle) {
		if !t.IsZero() {
			b.LoadedAt = t
		}
	}
}

// NewBundle builds a bundle holding one reference.
func NewBundle(detector AnomalyDetector, classifier Classifier, opts ...BundleOption) (*Bundle, error) {
	if detector == nil || classifier == nil {
		return nil, ErrIncompleteBundle
	}
	b := &Bundle{
		Detector:   detector,
		Classifier: classifier,
		Version:    uuid.NewString(),
		LoadedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.refs.Store(1)
	return b, nil
}

// Retain adds a reference. It fails when the bundle has already been closed.
func (b *Bundle) Retain() error {
	for {
		n := b.refs.Load()
		if n <= 0 {
			return ErrBundleClosed
		}
		if b.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a reference and closes the models when none remain.
func (b *Bundle) Release() error {
	if b.refs.Add(-1) != 0 {
		return nil
	}
	b.closeOnce.Do(func() {
		var errs []error
		if c, ok := b.Detector.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		if c, ok := b.Classifier.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		b.closeErr = errors.Join(errs...)
	})
	return b.closeErr
}

// Refs reports the current reference count.
func (b *Bundle) Refs() int64 { return b.refs.Load() }
