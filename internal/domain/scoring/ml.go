package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/okian/invoicerisk/internal/domain/model"
)

// MLFlagThreshold is the combined score above which the ML path flags a line.
// The comparison is strict.
const MLFlagThreshold = 0.7

// Ensemble weights and reason cut-offs.
const (
	anomalyWeight       = 0.6
	overspendWeight     = 0.4
	highProbability     = 0.8
	highAnomaly         = 0.8
	anomalyClipBound    = 0.5
	reasonHighOverspend = "ML: High overspend probability"
	reasonAnomalous     = "ML: Anomalous billing pattern"
	reasonCombined      = "ML: Combined risk factors"
	reasonNormalML      = "ML: Normal billing pattern"
)

// MLScorer combines anomaly detection and overspend classification.
type MLScorer struct {
	bundle *Bundle
}

// NewMLScorer returns a scorer over a complete bundle.
func NewMLScorer(b *Bundle) (*MLScorer, error) {
	if b == nil || b.Detector == nil || b.Classifier == nil {
		return nil, ErrIncompleteBundle
	}
	return &MLScorer{bundle: b}, nil
}

// Score evaluates both models over vectors. A panic inside model code is
// returned as an error.
func (s *MLScorer) Score(ctx context.Context, vectors [][]float64) (results []model.ScoreResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("model panic: %v", r)
		}
	}()

	decisions, err := s.bundle.Detector.DecisionFunction(ctx, vectors)
	if err != nil {
		return nil, fmt.Errorf("anomaly detector: %w", err)
	}
	probs, err := s.bundle.Classifier.PredictProba(ctx, vectors)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	if len(decisions) != len(vectors) || len(probs) != len(vectors) {
		return nil, fmt.Errorf("%w: got %d decisions and %d probabilities for %d rows",
			ErrModelOutput, len(decisions), len(probs), len(vectors))
	}

	results = make([]model.ScoreResult, len(vectors))
	for i := range vectors {
		d, p := decisions[i], probs[i]
		if !finite(d) || !finite(p) {
			return nil, fmt.Errorf("%w: non-finite value at row %d", ErrModelOutput, i)
		}
		results[i] = combine(d, p)
	}
	return results, nil
}

// NormalizeAnomaly maps a decision value into [0,1]; higher means more anomalous.
func NormalizeAnomaly(decision float64) float64 {
	return clip(-decision, -anomalyClipBound, anomalyClipBound) + anomalyClipBound
}

func combine(decision, prob float64) model.ScoreResult {
	normalized := NormalizeAnomaly(decision)
	p := clip(prob, 0, 1)
	combined := clip(anomalyWeight*normalized+overspendWeight*p, 0, 1)
	flagged := combined > MLFlagThreshold

	var reason string
	switch {
	case p > highProbability:
		reason = reasonHighOverspend
	case normalized > highAnomaly:
		reason = reasonAnomalous
	case flagged:
		reason = reasonCombined
	default:
		reason = reasonNormalML
	}
	return model.ScoreResult{RiskScore: combined, IsFlagged: flagged, Reason: reason}
}

func clip(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
