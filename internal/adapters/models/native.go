package models

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/okian/invoicerisk/internal/domain/features"
)

// Kinds of native artifacts.
const (
	KindIsolationForest    = "isolation_forest"
	KindLogisticRegression = "logistic_regression"
)

const eulerGamma = 0.5772156649015329

type artifactHeader struct {
	Kind      string `json:"kind"`
	NFeatures int    `json:"n_features"`
}

// IsolationForest evaluates an exported isolation forest. Decision values
// follow the usual convention: score_samples minus offset, negative for
// outliers.
type IsolationForest struct {
	NFeatures  int       `json:"n_features"`
	Offset     float64   `json:"offset"`
	MaxSamples int       `json:"max_samples"`
	Trees      []IsoTree `json:"trees"`

	norm float64
}

// IsoTree is one isolation tree as a flat node array rooted at index 0.
type IsoTree struct {
	Nodes []IsoNode `json:"nodes"`
}

// IsoNode is a split or, when Left is -1, a leaf.
type IsoNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Samples   int     `json:"n_samples"`
}

func (n IsoNode) leaf() bool { return n.Left < 0 }

// LogisticRegression evaluates a binary logistic model with an optional
// standard scaler in front.
type LogisticRegression struct {
	NFeatures   int       `json:"n_features"`
	Coef        []float64 `json:"coef"`
	Intercept   float64   `json:"intercept"`
	ScalerMean  []float64 `json:"scaler_mean,omitempty"`
	ScalerScale []float64 `json:"scaler_scale,omitempty"`
}

func readHeader(data []byte) (artifactHeader, error) {
	var h artifactHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	if h.NFeatures != features.Width {
		return h, fmt.Errorf("%w: expects %d features, builder produces %d", ErrInvalidArtifact, h.NFeatures, features.Width)
	}
	return h, nil
}

// LoadIsolationForest reads a native isolation forest artifact.
func LoadIsolationForest(path string) (*IsolationForest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	h, err := readHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Kind != KindIsolationForest {
		return nil, fmt.Errorf("%w: %s is %q, want %q", ErrInvalidArtifact, path, h.Kind, KindIsolationForest)
	}
	var f IsolationForest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	f.norm = averagePathLength(f.MaxSamples)
	return &f, nil
}

func (f *IsolationForest) validate() error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("%w: forest has no trees", ErrInvalidArtifact)
	}
	if f.MaxSamples < 2 {
		return fmt.Errorf("%w: max_samples must be at least 2", ErrInvalidArtifact)
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("%w: tree %d is empty", ErrInvalidArtifact, ti)
		}
		for ni, n := range t.Nodes {
			if n.leaf() {
				continue
			}
			if n.Feature < 0 || n.Feature >= f.NFeatures ||
				n.Left <= ni || n.Left >= len(t.Nodes) ||
				n.Right <= ni || n.Right >= len(t.Nodes) {
				return fmt.Errorf("%w: tree %d node %d is malformed", ErrInvalidArtifact, ti, ni)
			}
		}
	}
	return nil
}

// DecisionFunction returns one decision value per row.
func (f *IsolationForest) DecisionFunction(_ context.Context, vectors [][]float64) ([]float64, error) {
	out := make([]float64, len(vectors))
	for i, row := range vectors {
		if len(row) != f.NFeatures {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), f.NFeatures)
		}
		var depth float64
		for _, t := range f.Trees {
			depth += t.pathLength(row)
		}
		depth /= float64(len(f.Trees))
		out[i] = -math.Pow(2, -depth/f.norm) - f.Offset
	}
	return out, nil
}

// pathLength walks to a leaf. Child indexes always increase, so the walk
// terminates.
func (t IsoTree) pathLength(row []float64) float64 {
	idx, depth := 0, 0
	for {
		n := t.Nodes[idx]
		if n.leaf() {
			return float64(depth) + averagePathLength(n.Samples)
		}
		if row[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
		depth++
	}
}

// averagePathLength is the expected path length of an unsuccessful search in
// a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

// LoadLogisticRegression reads a native logistic regression artifact.
func LoadLogisticRegression(path string) (*LogisticRegression, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	h, err := readHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Kind != KindLogisticRegression {
		return nil, fmt.Errorf("%w: %s is %q, want %q", ErrInvalidArtifact, path, h.Kind, KindLogisticRegression)
	}
	var m LogisticRegression
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	if len(m.Coef) != m.NFeatures {
		return nil, fmt.Errorf("%w: %d coefficients for %d features", ErrInvalidArtifact, len(m.Coef), m.NFeatures)
	}
	if (m.ScalerMean != nil || m.ScalerScale != nil) &&
		(len(m.ScalerMean) != m.NFeatures || len(m.ScalerScale) != m.NFeatures) {
		return nil, fmt.Errorf("%w: scaler width does not match features", ErrInvalidArtifact)
	}
	return &m, nil
}

// PredictProba returns the positive-class probability per row.
func (m *LogisticRegression) PredictProba(_ context.Context, vectors [][]float64) ([]float64, error) {
	out := make([]float64, len(vectors))
	for i, row := range vectors {
		if len(row) != m.NFeatures {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), m.NFeatures)
		}
		z := m.Intercept
		for j, x := range row {
			if m.ScalerMean != nil {
				scale := m.ScalerScale[j]
				if scale == 0 {
					scale = 1
				}
				x = (x - m.ScalerMean[j]) / scale
			}
			z += m.Coef[j] * x
		}
		out[i] = 1 / (1 + math.Exp(-z))
	}
	return out, nil
}
