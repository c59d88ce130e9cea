// Package service wires model loading, scoring and benchmark comparison
// into the operations served by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/invoicerisk/internal/adapters/models"
	"github.com/okian/invoicerisk/internal/adapters/mq/queue"
	"github.com/okian/invoicerisk/internal/adapters/mq/worker"
	"github.com/okian/invoicerisk/internal/adapters/repository"
	"github.com/okian/invoicerisk/internal/domain/benchmark"
	"github.com/okian/invoicerisk/internal/domain/dedupe"
	"github.com/okian/invoicerisk/internal/domain/jobs"
	"github.com/okian/invoicerisk/internal/domain/model"
	"github.com/okian/invoicerisk/internal/domain/scoring"
	"github.com/okian/invoicerisk/internal/domain/types"
	"github.com/okian/invoicerisk/pkg/logger"
	"github.com/okian/invoicerisk/pkg/metrics"
	"github.com/robfig/cron/v3"
)

const (
	defaultMaxBatchSize = 5000
	defaultErrorMaxLen  = 200
	defaultJobQueueSize = 1024
	defaultJobRetention = 10000
)

// Sentinel errors returned by the service.
var (
	ErrNotStarted    = errors.New("service not started")
	ErrBatchTooLarge = errors.New("batch exceeds max_batch_size")
	ErrBackpressure  = errors.New("job queue full")
	ErrEmptyJob      = errors.New("job has no line items")
)

// Service implements the API dependencies for invoice risk scoring.
type Service struct {
	mu sync.RWMutex

	// Core components
	registry     *models.Registry
	orchestrator *scoring.Orchestrator
	benchmarks   *repository.Repository
	scheduler    *cron.Cron
	jobQueue     *queue.InMemoryQueue
	pool         *worker.Pool
	deduper      dedupe.Deduper
	tracker      *jobs.Tracker
	poolCancel   context.CancelFunc

	// Configuration
	artifacts        models.Artifacts
	reloadCron       string
	benchmarkSource  repository.Source
	benchmarkRefresh time.Duration
	defaultArea      string
	maxBatchSize     int
	errorMaxLen      int
	jobWorkers       int
	jobQueueSize     int
	jobRetention     int

	// State
	started   bool
	stopping  bool
	startedAt time.Time

	batches atomic.Int64
	lines   atomic.Int64
	flagged atomic.Int64

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithArtifacts sets where model artifacts are loaded from.
func WithArtifacts(a models.Artifacts) Option {
	return func(s *Service) { s.artifacts = a }
}

// WithModelReloadCron schedules model reloads with a 5-field cron spec.
func WithModelReloadCron(spec string) Option {
	return func(s *Service) { s.reloadCron = spec }
}

// WithBenchmarkSource sets where rate benchmarks come from.
func WithBenchmarkSource(src repository.Source) Option {
	return func(s *Service) { s.benchmarkSource = src }
}

// WithBenchmarkRefresh reloads benchmarks on a fixed interval.
func WithBenchmarkRefresh(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.benchmarkRefresh = d
		}
	}
}

// WithDefaultPracticeArea sets the practice area used when a request has none.
func WithDefaultPracticeArea(area string) Option {
	return func(s *Service) {
		if area != "" {
			s.defaultArea = area
		}
	}
}

// WithMaxBatchSize caps line items per call.
func WithMaxBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

// WithErrorMaxLen bounds error text in scoring metadata.
func WithErrorMaxLen(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.errorMaxLen = n
		}
	}
}

// WithJobWorkers sets the number of analysis workers. Zero uses NumCPU.
func WithJobWorkers(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.jobWorkers = n
		}
	}
}

// WithJobQueueSize caps queued analysis jobs.
func WithJobQueueSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.jobQueueSize = n
		}
	}
}

// WithJobRetention caps how many finished jobs stay queryable.
func WithJobRetention(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.jobRetention = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		defaultArea:  benchmark.DefaultPracticeArea,
		maxBatchSize: defaultMaxBatchSize,
		errorMaxLen:  defaultErrorMaxLen,
		jobQueueSize: defaultJobQueueSize,
		jobRetention: defaultJobRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads models and benchmarks and starts the reload schedule. Missing
// models or benchmarks are logged, not fatal: scoring falls back to the
// deterministic path and comparisons report ErrNotLoaded.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}

	s.logger.Info(ctx, "starting invoice risk service...")

	s.registry = models.NewRegistry(
		models.WithArtifacts(s.artifacts),
		models.WithLogger(s.logger.Named("models")),
	)
	_ = s.registry.Load(ctx)
	metrics.SetModelsLoaded(s.registry.ModelsLoaded())

	orch, err := scoring.NewOrchestrator(
		scoring.WithBundleSource(s.registry),
		scoring.WithErrorMaxLen(s.errorMaxLen),
		scoring.WithLogger(s.logger.Named("scoring")),
	)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	s.orchestrator = orch

	s.benchmarks = repository.New(s.benchmarkSource,
		repository.WithFallbackArea(s.defaultArea),
		repository.WithRefreshInterval(s.benchmarkRefresh),
		repository.WithLogger(s.logger.Named("benchmarks")),
	)
	if err := s.benchmarks.Start(ctx); err != nil {
		s.logger.Warn(ctx, "benchmarks unavailable, comparisons disabled", logger.Error(err))
	}

	if s.reloadCron != "" {
		s.scheduler = cron.New()
		if _, err := s.scheduler.AddFunc(s.reloadCron, func() {
			if err := s.ReloadModels(context.Background()); err != nil {
				s.logger.Warn(context.Background(), "scheduled model reload failed", logger.Error(err))
			}
		}); err != nil {
			_ = s.benchmarks.Close()
			_ = s.registry.Close()
			return fmt.Errorf("schedule model reload %q: %w", s.reloadCron, err)
		}
		s.scheduler.Start()
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.jobRetention))
	s.tracker = jobs.NewTracker(jobs.WithMaxJobs(s.jobRetention))
	s.jobQueue = queue.NewInMemoryQueue(queue.WithCapacity(s.jobQueueSize))
	s.pool = worker.NewPool(s.jobWorkers, s.jobQueue, s, s.tracker,
		worker.WithName("analysis"),
		worker.WithLogger(s.logger.Named("jobs")),
	)
	poolCtx, cancel := context.WithCancel(context.Background())
	s.poolCancel = cancel
	s.pool.Start(poolCtx)

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "invoice risk service started",
		logger.Bool("modelsLoaded", s.registry.ModelsLoaded()),
		logger.Int("benchmarkEntries", s.benchmarks.Store().Len()),
		logger.String("reloadCron", s.reloadCron),
		logger.Int("jobWorkers", s.pool.Size()),
	)
	return nil
}

// Stop gracefully shuts down the service. Queued analysis jobs are drained
// first, then a scheduled reload that is already running is allowed to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	pool, cancel := s.pool, s.poolCancel
	s.mu.Unlock()

	ctx := context.Background()
	s.logger.Info(ctx, "stopping invoice risk service...")

	if err := pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "analysis workers did not drain", logger.Error(err))
	}
	cancel()

	s.mu.Lock()
	s.started = false
	s.stopping = false
	scheduler, repo, reg := s.scheduler, s.benchmarks, s.registry
	s.mu.Unlock()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if err := repo.Close(); err != nil {
		s.logger.Warn(ctx, "closing benchmark source failed", logger.Error(err))
	}
	if err := reg.Close(); err != nil {
		s.logger.Warn(ctx, "closing models failed", logger.Error(err))
	}

	s.logger.Info(ctx, "invoice risk service stopped")
}

func (s *Service) components() (*scoring.Orchestrator, *repository.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.orchestrator, s.benchmarks, nil
}

func (s *Service) checkBatch(n int) error {
	if n > s.maxBatchSize {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, n, s.maxBatchSize)
	}
	return nil
}

// ScoreLines scores a batch. Scoring itself never fails; errors are only
// returned for requests the service refuses.
func (s *Service) ScoreLines(ctx context.Context, items []model.LineItem) (types.ScoreResponse, error) {
	orch, _, err := s.components()
	if err != nil {
		return types.ScoreResponse{}, err
	}
	if err := s.checkBatch(len(items)); err != nil {
		return types.ScoreResponse{}, err
	}

	results, meta := orch.ScoreLines(ctx, items)
	s.batches.Add(1)
	s.lines.Add(int64(len(results)))
	s.flagged.Add(int64(model.FlaggedCount(results)))

	s.logger.Debug(ctx, "batch scored",
		logger.String("batchID", meta.BatchID),
		logger.String("method", string(meta.Method)),
		logger.Int("lines", len(results)),
	)
	return types.ScoreResponse{Results: results, Metadata: meta}, nil
}

// ScoreRecords coerces loosely typed records and scores them.
func (s *Service) ScoreRecords(ctx context.Context, records []map[string]any) (types.ScoreResponse, error) {
	if err := s.checkBatch(len(records)); err != nil {
		return types.ScoreResponse{}, err
	}
	return s.ScoreLines(ctx, model.FromRecords(records))
}

// Compare classifies the invoice against market rates.
func (s *Service) Compare(ctx context.Context, practiceArea string, items []model.LineItem) (benchmark.Comparison, error) {
	_, repo, err := s.components()
	if err != nil {
		return benchmark.Comparison{}, err
	}
	if err := s.checkBatch(len(items)); err != nil {
		return benchmark.Comparison{}, err
	}
	if practiceArea == "" {
		practiceArea = s.defaultArea
	}

	c, err := repo.Compare(practiceArea, items)
	if err != nil {
		return benchmark.Comparison{}, err
	}
	metrics.RecordBenchmarkComparison(c.MarketPosition)
	metrics.RecordOutliers(len(c.RateOutliers))
	s.logger.Debug(ctx, "invoice compared",
		logger.String("practiceArea", c.PracticeArea),
		logger.String("position", c.MarketPosition),
		logger.Int("outliers", len(c.RateOutliers)),
	)
	return c, nil
}

// Analyze scores the invoice and, when benchmarks are loaded, compares it
// to market rates.
func (s *Service) Analyze(ctx context.Context, practiceArea string, items []model.LineItem) (types.Analysis, error) {
	scored, err := s.ScoreLines(ctx, items)
	if err != nil {
		return types.Analysis{}, err
	}
	out := types.Analysis{
		Summary:           types.Summarize(items, scored.Results),
		Results:           scored.Results,
		Metadata:          scored.Metadata,
		ReducedConfidence: scored.Metadata.ReducedConfidence(),
	}

	c, err := s.Compare(ctx, practiceArea, items)
	switch {
	case err == nil:
		out.Comparison = &c
	case errors.Is(err, repository.ErrNotLoaded):
	default:
		return types.Analysis{}, err
	}
	return out, nil
}

// SubmitJob queues an invoice for asynchronous analysis. An empty id gets a
// fresh uuid. Resubmitting a known id returns the existing record with
// duplicate set instead of queueing it again.
func (s *Service) SubmitJob(ctx context.Context, id, practiceArea string, items []model.LineItem) (rec jobs.Record, duplicate bool, err error) {
	s.mu.RLock()
	started, q, d, tr := s.started, s.jobQueue, s.deduper, s.tracker
	s.mu.RUnlock()
	if !started {
		return jobs.Record{}, false, ErrNotStarted
	}
	if len(items) == 0 {
		return jobs.Record{}, false, ErrEmptyJob
	}
	if err := s.checkBatch(len(items)); err != nil {
		return jobs.Record{}, false, err
	}
	if id == "" {
		id = uuid.NewString()
	}

	if d.SeenAndRecord(ctx, id) {
		metrics.RecordDuplicateJob()
		existing, err := tr.Get(id)
		if err != nil {
			// Accepted earlier but already evicted from the tracker.
			return jobs.Record{ID: id}, true, nil
		}
		return existing, true, nil
	}

	job := model.Job{ID: id, PracticeArea: practiceArea, Items: items, SubmittedAt: time.Now()}
	rec = tr.Add(job)
	if err := q.Enqueue(ctx, job); err != nil {
		tr.Remove(id)
		d.Unrecord(ctx, id)
		switch {
		case errors.Is(err, queue.ErrFull):
			return jobs.Record{}, false, fmt.Errorf("%w: %w", ErrBackpressure, err)
		case errors.Is(err, queue.ErrClosed):
			return jobs.Record{}, false, ErrNotStarted
		}
		return jobs.Record{}, false, err
	}
	s.logger.Debug(ctx, "analysis job queued", logger.String("jobID", id), logger.Int("lines", len(items)))
	return rec, false, nil
}

// Job returns the state of a submitted job.
func (s *Service) Job(id string) (jobs.Record, error) {
	s.mu.RLock()
	tr := s.tracker
	s.mu.RUnlock()
	if tr == nil {
		return jobs.Record{}, ErrNotStarted
	}
	return tr.Get(id)
}

// ReloadModels reloads model artifacts. The active bundle is kept on failure.
func (s *Service) ReloadModels(ctx context.Context) error {
	s.mu.RLock()
	reg, started := s.registry, s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	return reg.Reload(ctx)
}

// ReloadBenchmarks reloads benchmarks. The current snapshot is kept on failure.
func (s *Service) ReloadBenchmarks(ctx context.Context) error {
	_, repo, err := s.components()
	if err != nil {
		return err
	}
	return repo.Reload(ctx)
}

// Benchmarks lists benchmark entries, optionally limited to one practice area.
func (s *Service) Benchmarks(practiceArea string) ([]benchmark.RateBenchmark, error) {
	_, repo, err := s.components()
	if err != nil {
		return nil, err
	}
	store := repo.Store()
	if store == nil {
		return nil, repository.ErrNotLoaded
	}
	entries := store.Entries()
	if practiceArea == "" {
		return entries, nil
	}
	area := benchmark.NormalizeKey(practiceArea)
	out := entries[:0]
	for _, e := range entries {
		if e.PracticeArea == area {
			out = append(out, e)
		}
	}
	return out, nil
}

// ModelStatus reports the active model bundle.
func (s *Service) ModelStatus() models.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.registry == nil {
		return models.Status{}
	}
	return s.registry.Status()
}

// Started reports whether Start has completed.
func (s *Service) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() types.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := types.Stats{
		Started:         s.started,
		ModelReloadCron: s.reloadCron,
		BatchesScored:   s.batches.Load(),
		LinesScored:     s.lines.Load(),
		LinesFlagged:    s.flagged.Load(),
		MaxBatchSize:    s.maxBatchSize,
	}
	if s.tracker != nil {
		counts := s.tracker.Counts()
		stats.JobsQueued = counts[model.JobQueued]
		stats.JobsRunning = counts[model.JobRunning]
		stats.JobsDone = counts[model.JobDone]
		stats.JobsFailed = counts[model.JobFailed]
	}
	if !s.started {
		return stats
	}

	stats.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	st := s.registry.Status()
	stats.ModelsLoaded = st.Loaded
	stats.ModelVersion = st.Version
	stats.ModelError = st.LastError
	stats.BenchmarkSource = s.benchmarks.SourceName()
	stats.BenchmarkEntries = s.benchmarks.Store().Len()
	stats.JobWorkers = s.pool.Size()
	stats.JobQueueLength = s.jobQueue.Len()

	metrics.SetModelsLoaded(st.Loaded)
	metrics.UpdateBenchmarkEntries(stats.BenchmarkEntries)
	return stats
}
