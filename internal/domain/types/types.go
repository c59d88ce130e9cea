// Package types contains request and response envelopes shared by the
// service and its transports.
package types

import (
	"math"

	"github.com/okian/invoicerisk/internal/domain/benchmark"
	"github.com/okian/invoicerisk/internal/domain/model"
)

// ScoreRequest carries loosely typed line items.
type ScoreRequest struct {
	LineItems []map[string]any `json:"line_items"`
}

// ScoreResponse is the scoring output for one batch.
type ScoreResponse struct {
	Results  []model.ScoreResult `json:"results"`
	Metadata model.Metadata      `json:"metadata"`
}

// CompareRequest asks for a market comparison.
type CompareRequest struct {
	PracticeArea string           `json:"practice_area"`
	LineItems    []map[string]any `json:"line_items"`
}

// JobRequest submits an invoice for asynchronous analysis. JobID makes the
// submission idempotent.
type JobRequest struct {
	JobID        string           `json:"job_id"`
	PracticeArea string           `json:"practice_area"`
	LineItems    []map[string]any `json:"line_items"`
}

// Summary aggregates an invoice.
type Summary struct {
	LineCount     int     `json:"line_count"`
	TotalAmount   float64 `json:"total_amount"`
	TotalHours    float64 `json:"total_hours"`
	FlaggedCount  int     `json:"flagged_count"`
	FlaggedAmount float64 `json:"flagged_amount"`
	MaxRiskScore  float64 `json:"max_risk_score"`
	MeanRiskScore float64 `json:"mean_risk_score"`
}

// Analysis merges risk scores with the market comparison of one invoice.
// Comparison is nil when no benchmarks are loaded.
type Analysis struct {
	Summary           Summary               `json:"summary"`
	Results           []model.ScoreResult   `json:"results"`
	Metadata          model.Metadata        `json:"metadata"`
	Comparison        *benchmark.Comparison `json:"comparison,omitempty"`
	ReducedConfidence bool                  `json:"reduced_confidence"`
}

// Summarize builds the invoice summary from items and their parallel results.
func Summarize(items []model.LineItem, results []model.ScoreResult) Summary {
	s := Summary{LineCount: len(items)}
	var riskSum float64
	for i, item := range items {
		item = item.Sanitize()
		s.TotalAmount += item.Amount
		s.TotalHours += item.Hours
		if i >= len(results) {
			continue
		}
		r := results[i]
		riskSum += r.RiskScore
		s.MaxRiskScore = math.Max(s.MaxRiskScore, r.RiskScore)
		if r.IsFlagged {
			s.FlaggedCount++
			s.FlaggedAmount += item.Amount
		}
	}
	if n := min(len(items), len(results)); n > 0 {
		s.MeanRiskScore = riskSum / float64(n)
	}
	return s
}

// Stats is the service snapshot reported by the stats endpoint.
type Stats struct {
	Started          bool   `json:"started"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	ModelsLoaded     bool   `json:"models_loaded"`
	ModelVersion     string `json:"model_version,omitempty"`
	ModelError       string `json:"model_error,omitempty"`
	ModelReloadCron  string `json:"model_reload_cron,omitempty"`
	BenchmarkSource  string `json:"benchmark_source,omitempty"`
	BenchmarkEntries int    `json:"benchmark_entries"`
	BatchesScored    int64  `json:"batches_scored"`
	LinesScored      int64  `json:"lines_scored"`
	LinesFlagged     int64  `json:"lines_flagged"`
	MaxBatchSize     int    `json:"max_batch_size"`
	JobWorkers       int    `json:"job_workers"`
	JobQueueLength   int    `json:"job_queue_length"`
	JobsQueued       int    `json:"jobs_queued"`
	JobsRunning      int    `json:"jobs_running"`
	JobsDone         int    `json:"jobs_done"`
	JobsFailed       int    `json:"jobs_failed"`
}
