package testinvoices

import (
	"context"
	"fmt"
	"math"

	"github.com/okian/invoicerisk/internal/domain/model"
	"github.com/okian/invoicerisk/pkg/logger"
)

const scoreEpsilon = 1e-9

// verifyResults checks each finished job against its invoice and returns
// the number of violations found.
func verifyResults(ctx context.Context, cfg *Config, invoices []Invoice, records []JobRecord, stats *Stats) int {
	log := logger.Named("testinvoices")
	violations := 0
	for i, rec := range records {
		switch rec.Status {
		case model.JobDone:
			stats.Completed++
		case model.JobFailed:
			stats.JobsFailed++
			continue
		default:
			continue
		}
		for _, problem := range checkRecord(invoices[i], rec) {
			violations++
			if cfg.Verbose || violations <= 10 {
				log.Warn(ctx, "result violation", logger.String("jobID", rec.ID), logger.String("problem", problem))
			}
		}
		if rec.Result != nil {
			stats.LinesFlagged += rec.Result.Summary.FlaggedCount
		}
	}
	stats.Violations = violations
	return violations
}

// checkRecord lists every way rec disagrees with what inv must produce.
func checkRecord(inv Invoice, rec JobRecord) []string {
	var problems []string
	if rec.Result == nil {
		return []string{"done job has no result"}
	}
	res := rec.Result
	want := len(inv.LineItems)

	if len(res.Results) != want {
		problems = append(problems, fmt.Sprintf("got %d results for %d lines", len(res.Results), want))
	}
	if res.Summary.LineCount != want {
		problems = append(problems, fmt.Sprintf("summary line_count %d, want %d", res.Summary.LineCount, want))
	}
	if res.Metadata.LinesScored != len(res.Results) {
		problems = append(problems, fmt.Sprintf("metadata lines_scored %d, want %d", res.Metadata.LinesScored, len(res.Results)))
	}

	flagged := 0
	for j, r := range res.Results {
		if math.IsNaN(r.RiskScore) || r.RiskScore < -scoreEpsilon || r.RiskScore > 1+scoreEpsilon {
			problems = append(problems, fmt.Sprintf("line %d risk_score %v outside [0,1]", j, r.RiskScore))
		}
		if r.IsFlagged {
			flagged++
			if r.Reason == "" {
				problems = append(problems, fmt.Sprintf("line %d flagged without reason", j))
			}
		}
	}
	if flagged != res.Summary.FlaggedCount {
		problems = append(problems, fmt.Sprintf("summary flagged_count %d, counted %d", res.Summary.FlaggedCount, flagged))
	}

	switch res.Metadata.Method {
	case model.MethodML, model.MethodDeterministic, model.MethodEmergencyFallback:
	default:
		problems = append(problems, fmt.Sprintf("unexpected method %q for a non-empty invoice", res.Metadata.Method))
	}
	if res.ReducedConfidence != res.Metadata.ReducedConfidence() {
		problems = append(problems, "reduced_confidence disagrees with method")
	}
	return problems
}
