package model

// Method names the path that produced a batch of scores.
type Method string

// Scoring paths reported in Metadata.Method.
const (
	MethodML                Method = "ml"
	MethodDeterministic     Method = "deterministic"
	MethodNoData            Method = "no_data"
	MethodEmergencyFallback Method = "emergency_fallback"
)

// ScoreResult is the per-line outcome of a scoring call.
type ScoreResult struct {
	RiskScore float64 `json:"risk_score"`
	IsFlagged bool    `json:"is_flagged"`
	Reason    string  `json:"flag_reason"`
}

// Metadata describes how a batch was scored. One per batch, never per line.
type Metadata struct {
	Method       Method  `json:"method"`
	ModelsLoaded bool    `json:"models_loaded"`
	LinesScored  int     `json:"lines_scored"`
	Note         string  `json:"note"`
	Reason       string  `json:"reason,omitempty"`
	Error        string  `json:"error,omitempty"`
	BatchID      string  `json:"batch_id"`
	ModelVersion string  `json:"model_version,omitempty"`
	Threshold    float64 `json:"threshold,omitempty"`
}

// ReducedConfidence reports whether results came from a degraded path and
// should be presented with reduced-confidence messaging.
func (m Metadata) ReducedConfidence() bool {
	return m.Method == MethodDeterministic || m.Method == MethodEmergencyFallback
}

// FlaggedCount returns the number of flagged results.
func FlaggedCount(results []ScoreResult) int {
	n := 0
	for _, r := range results {
		if r.IsFlagged {
			n++
		}
	}
	return n
}
