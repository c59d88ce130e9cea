package scoring_test

import (
	"context"
	"errors"

	"github.com/okian/invoicerisk/internal/domain/model"
	"github.com/okian/invoicerisk/internal/domain/scoring"
)

var errBoom = errors.New("boom")

// constDetector returns the same decision value for every row.
type constDetector struct {
	value  float64
	err    error
	panics bool
	short  bool
	closed int
}

func (d *constDetector) DecisionFunction(_ context.Context, vectors [][]float64) ([]float64, error) {
	if d.panics {
		panic("detector exploded")
	}
	if d.err != nil {
		return nil, d.err
	}
	n := len(vectors)
	if d.short && n > 0 {
		n--
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = d.value
	}
	return out, nil
}

func (d *constDetector) Close() error {
	d.closed++
	return nil
}

// constClassifier returns the same probability for every row.
type constClassifier struct {
	prob float64
	err  error
}

func (c *constClassifier) PredictProba(_ context.Context, vectors [][]float64) ([]float64, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([]float64, len(vectors))
	for i := range out {
		out[i] = c.prob
	}
	return out, nil
}

// staticSource always hands out the same bundle.
type staticSource struct {
	bundle *scoring.Bundle
}

func (s *staticSource) Acquire() (*scoring.Bundle, bool) {
	if s.bundle == nil || s.bundle.Retain() != nil {
		return nil, false
	}
	return s.bundle, true
}

// panicScorer simulates a fallback that fails outright.
type panicScorer struct{ msg string }

func (p panicScorer) Score(context.Context, []model.LineItem) []model.ScoreResult {
	panic(p.msg)
}

// recordingScorer wraps the deterministic scorer and keeps the contexts it
// was called with.
type recordingScorer struct {
	inner *scoring.DeterministicScorer
	ctxs  []context.Context
}

func (r *recordingScorer) Score(ctx context.Context, items []model.LineItem) []model.ScoreResult {
	r.ctxs = append(r.ctxs, ctx)
	return r.inner.Score(ctx, items)
}

type ctxKey struct{}

// shortScorer drops the last result.
type shortScorer struct{}

func (shortScorer) Score(_ context.Context, items []model.LineItem) []model.ScoreResult {
	return make([]model.ScoreResult, len(items)-1)
}

func mustBundle(d scoring.AnomalyDetector, c scoring.Classifier) *scoring.Bundle {
	b, err := scoring.NewBundle(d, c, scoring.WithVersion("test-v1"), scoring.WithSource("memory"))
	if err != nil {
		panic(err)
	}
	return b
}

func emergencyItem() model.LineItem {
	return model.LineItem{Description: "EMERGENCY consultation", Amount: 12000, Rate: 1000, Hours: 2}
}

func routineItem() model.LineItem {
	return model.LineItem{Description: "Routine filing", Amount: 300, Rate: 150, Hours: 2}
}
