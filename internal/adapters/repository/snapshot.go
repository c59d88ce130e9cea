package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/invoicerisk/internal/domain/benchmark"
	"github.com/okian/invoicerisk/internal/domain/model"
	"github.com/okian/invoicerisk/pkg/logger"
	"github.com/okian/invoicerisk/pkg/metrics"
)

// Repository publishes the benchmark store loaded from a Source. Readers get
// an immutable snapshot; reloads build a new store and swap it in whole.
type Repository struct {
	source          Source
	fallbackArea    string
	refreshInterval time.Duration
	log             logger.Logger

	snapshot atomic.Pointer[benchmark.Store]
	loadedAt atomic.Pointer[time.Time]
	reloadMu sync.Mutex

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// New creates a repository over src. Nothing is loaded until Reload.
func New(src Source, opts ...Option) *Repository {
	r := &Repository{
		source:       src,
		fallbackArea: benchmark.DefaultPracticeArea,
		log:          logger.Nop(),
		stopChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start loads once and, when a refresh interval is set, keeps reloading in
// the background until ctx ends or Close is called. A failed first load is
// returned but the background refresh still starts.
func (r *Repository) Start(ctx context.Context) error {
	err := r.Reload(ctx)
	if r.refreshInterval > 0 {
		r.startPeriodicRefresh(ctx)
	}
	return err
}

func (r *Repository) startPeriodicRefresh(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				if err := r.Reload(ctx); err != nil {
					r.log.Warn(ctx, "benchmark refresh failed, keeping previous snapshot", logger.Error(err))
				}
			}
		}
	}()
}

// Reload reads the source and publishes a new snapshot. The previous
// snapshot stays in place on any error.
func (r *Repository) Reload(ctx context.Context) error {
	if r.source == nil {
		return ErrNoSource
	}
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	start := time.Now()
	entries, err := r.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load %s: %w", r.source.Name(), err)
	}
	store, err := benchmark.NewStore(entries, benchmark.WithFallbackArea(r.fallbackArea))
	if err != nil {
		return fmt.Errorf("build %s: %w", r.source.Name(), err)
	}

	now := time.Now()
	r.snapshot.Store(store)
	r.loadedAt.Store(&now)
	metrics.UpdateBenchmarkEntries(store.Len())

	r.log.Info(ctx, "benchmarks loaded",
		logger.String("source", r.source.Name()),
		logger.Int("entries", store.Len()),
		logger.Duration("took", time.Since(start)),
	)
	return nil
}

// Store returns the current snapshot, or nil before the first load.
func (r *Repository) Store() *benchmark.Store {
	return r.snapshot.Load()
}

// Compare runs a comparison against the current snapshot.
func (r *Repository) Compare(practiceArea string, items []model.LineItem) (benchmark.Comparison, error) {
	s := r.snapshot.Load()
	if s == nil {
		return benchmark.Comparison{}, ErrNotLoaded
	}
	return s.Compare(practiceArea, items), nil
}

// LoadedAt returns when the current snapshot was published.
func (r *Repository) LoadedAt() (time.Time, bool) {
	t := r.loadedAt.Load()
	if t == nil {
		return time.Time{}, false
	}
	return *t, true
}

// SourceName reports the configured source.
func (r *Repository) SourceName() string {
	if r.source == nil {
		return ""
	}
	return r.source.Name()
}

// Close stops the refresh goroutine and releases an owned source.
func (r *Repository) Close() error {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
	if c, ok := r.source.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
