package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/okian/invoicerisk/internal/domain/features"
	"github.com/okian/invoicerisk/internal/domain/model"
	"github.com/okian/invoicerisk/pkg/logger"
	"github.com/okian/invoicerisk/pkg/metrics"
)

const (
	defaultErrorMaxLen = 200
	emergencyScore     = 0.1
	emergencyReason    = "Emergency fallback: scoring unavailable"

	noteNoData       = "no line items to score"
	noteML           = "scored with anomaly detector and overspend classifier"
	noteMLFailed     = "ML scoring failed; deterministic fallback used"
	noteNoModels     = "models not loaded"
	noteEmergency    = "scoring unavailable; neutral results returned"
	reasonNoModels   = "deterministic fallback mode"
	reasonMLFailed   = "ML scoring failed: "
	reasonEmergency  = "unexpected scoring failure"
	fallbackMLError  = "ml_error"
	fallbackNoModels = "models_not_loaded"
	fallbackPanic    = "emergency"
)

var errFallbackLength = errors.New("fallback scorer returned wrong number of results")

// BundleSource hands out the active model bundle. A bundle returned with
// true is retained and must be released by the caller.
type BundleSource interface {
	Acquire() (*Bundle, bool)
}

// LineScorer scores raw line items without models.
type LineScorer interface {
	Score(ctx context.Context, items []model.LineItem) []model.ScoreResult
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBundleSource sets where models come from. Without one the
// orchestrator stays on the deterministic path.
func WithBundleSource(src BundleSource) Option {
	return func(o *Orchestrator) { o.source = src }
}

// WithFallbackScorer replaces the deterministic scorer.
func WithFallbackScorer(s LineScorer) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.fallback = s
		}
	}
}

// WithErrorMaxLen bounds the error text kept in metadata, in runes.
func WithErrorMaxLen(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.errMaxLen = n
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// Orchestrator routes each batch to the ML or deterministic scorer.
type Orchestrator struct {
	source    BundleSource
	fallback  LineScorer
	errMaxLen int
	log       logger.Logger
}

// NewOrchestrator builds an orchestrator. The default fallback is a
// DeterministicScorer with the default rules.
func NewOrchestrator(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		errMaxLen: defaultErrorMaxLen,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.fallback == nil {
		det, err := NewDeterministicScorer(WithDeterministicLogger(o.log))
		if err != nil {
			return nil, err
		}
		o.fallback = det
	}
	return o, nil
}

// ModelsLoaded reports whether a model bundle is currently available.
func (o *Orchestrator) ModelsLoaded() bool {
	b, ok := o.acquire()
	if ok {
		o.release(context.Background(), b)
	}
	return ok
}

// ScoreRecords coerces loosely typed records and scores them.
func (o *Orchestrator) ScoreRecords(ctx context.Context, records []map[string]any) ([]model.ScoreResult, model.Metadata) {
	return o.ScoreLines(ctx, model.FromRecords(records))
}

// ScoreLines returns one result per item plus batch metadata. It never
// panics and never fails; degradation is reported through the metadata.
func (o *Orchestrator) ScoreLines(ctx context.Context, items []model.LineItem) (results []model.ScoreResult, meta model.Metadata) {
	start := time.Now()
	meta = model.Metadata{BatchID: uuid.NewString(), LinesScored: len(items)}

	if len(items) == 0 {
		meta.Method = model.MethodNoData
		meta.ModelsLoaded = o.ModelsLoaded()
		meta.Note = noteNoData
		return []model.ScoreResult{}, meta
	}

	defer func() {
		if r := recover(); r != nil {
			results, meta = o.emergency(ctx, items, meta, fmt.Errorf("panic: %v", r))
		}
		o.record(meta, results, time.Since(start))
	}()

	bundle, loaded := o.acquire()
	if loaded {
		defer o.release(ctx, bundle)
	}
	meta.ModelsLoaded = loaded

	var mlErr error
	path := SelectPath(loaded, nil)
	if path == PathML {
		results, mlErr = o.scoreML(ctx, bundle, items)
		if mlErr == nil {
			meta.Method = model.MethodML
			meta.Note = noteML
			meta.ModelVersion = bundle.Version
			meta.Threshold = MLFlagThreshold
			return results, meta
		}
		path = SelectPath(loaded, mlErr)
		o.log.Warn(ctx, "ml scoring failed, rerouting batch",
			logger.String("batch_id", meta.BatchID),
			logger.Int("lines", len(items)),
			logger.String("path", path.String()),
			logger.Error(mlErr),
		)
		metrics.RecordFallback(fallbackMLError)
	} else {
		metrics.RecordFallback(fallbackNoModels)
	}
	if path != PathDeterministic {
		return o.emergency(ctx, items, meta, fmt.Errorf("no scoring path after %s", path))
	}

	results = o.fallback.Score(ctx, items)
	if len(results) != len(items) {
		return o.emergency(ctx, items, meta, errFallbackLength)
	}
	meta.Method = model.MethodDeterministic
	meta.Threshold = DeterministicFlagThreshold
	if mlErr != nil {
		msg := o.truncate(mlErr.Error())
		meta.Note = noteMLFailed
		meta.Reason = reasonMLFailed + msg
		meta.Error = msg
	} else {
		meta.Note = noteNoModels
		meta.Reason = reasonNoModels
	}
	return results, meta
}

func (o *Orchestrator) scoreML(ctx context.Context, b *Bundle, items []model.LineItem) (results []model.ScoreResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("ml path panic: %v", r)
		}
	}()
	scorer, err := NewMLScorer(b)
	if err != nil {
		return nil, err
	}
	results, err = scorer.Score(ctx, features.Build(items))
	if err == nil && len(results) != len(items) {
		return nil, fmt.Errorf("%w: %d results for %d items", ErrModelOutput, len(results), len(items))
	}
	return results, err
}

func (o *Orchestrator) emergency(ctx context.Context, items []model.LineItem, meta model.Metadata, cause error) ([]model.ScoreResult, model.Metadata) {
	o.log.Error(ctx, "scoring failed on every path, emitting neutral results",
		logger.String("batch_id", meta.BatchID),
		logger.Int("lines", len(items)),
		logger.Error(cause),
	)
	metrics.RecordFallback(fallbackPanic)

	results := make([]model.ScoreResult, len(items))
	for i := range results {
		results[i] = model.ScoreResult{RiskScore: emergencyScore, Reason: emergencyReason}
	}
	meta.Method = model.MethodEmergencyFallback
	meta.Note = noteEmergency
	meta.Reason = reasonEmergency
	meta.Error = o.truncate(cause.Error())
	meta.ModelVersion = ""
	meta.Threshold = 0
	return results, meta
}

func (o *Orchestrator) acquire() (*Bundle, bool) {
	if o.source == nil {
		return nil, false
	}
	b, ok := o.source.Acquire()
	if !ok || b == nil {
		return nil, false
	}
	return b, true
}

func (o *Orchestrator) release(ctx context.Context, b *Bundle) {
	if err := b.Release(); err != nil {
		o.log.Warn(ctx, "closing model bundle failed",
			logger.String("version", b.Version),
			logger.Error(err),
		)
	}
}

func (o *Orchestrator) record(meta model.Metadata, results []model.ScoreResult, elapsed time.Duration) {
	method := string(meta.Method)
	metrics.RecordBatchScored(method)
	metrics.RecordLinesScored(method, len(results))
	metrics.RecordLinesFlagged(method, model.FlaggedCount(results))
	metrics.RecordScoringLatency(method, float64(elapsed.Microseconds())/1000)
}

func (o *Orchestrator) truncate(s string) string {
	if utf8.RuneCountInString(s) <= o.errMaxLen {
		return s
	}
	return string([]rune(s)[:o.errMaxLen])
}
