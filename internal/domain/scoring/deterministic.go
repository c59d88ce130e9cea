package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/okian/invoicerisk/internal/domain/model"
	"github.com/okian/invoicerisk/pkg/logger"
	"github.com/okian/invoicerisk/pkg/metrics"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DeterministicFlagThreshold is the score at or above which the
// deterministic path flags a line.
const DeterministicFlagThreshold = 0.5

const (
	reasonPrefix        = "Deterministic: "
	reasonNormal        = reasonPrefix + "Normal billing pattern"
	maxReasonFactors    = 2
	rowErrorScore       = 0.1
	keywordWeight       = 0.25
	keywordLabelPrefix  = "suspicious keyword: "
	ruleCostLimit       = 10000
	keywordRuleGroup    = "keyword"
	defaultRuleGroupKey = "extra"
)

// DefaultKeywords is the suspicious keyword list, in match priority order.
var DefaultKeywords = []string{
	"emergency",
	"urgent",
	"rush",
	"expedited",
	"overtime",
	"weekend",
	"holiday",
	"after hours",
	"miscellaneous",
	"various tasks",
	"administrative",
	"clerical",
}

// Rule is a weighted heuristic expressed in CEL over the variables rate,
// amount, hours and efficiency. Within a group only the first matching rule
// contributes.
type Rule struct {
	Group  string
	Label  string
	Weight float64
	Expr   string
}

// DefaultRules are evaluated in order. The keyword check runs between the
// amount and hours groups.
var DefaultRules = []Rule{
	{Group: "rate", Label: "extremely high rate", Weight: 0.40, Expr: "rate > 800.0"},
	{Group: "rate", Label: "high rate", Weight: 0.20, Expr: "rate > 500.0"},
	{Group: "amount", Label: "high amount", Weight: 0.30, Expr: "amount > 10000.0"},
	{Group: "amount", Label: "elevated amount", Weight: 0.15, Expr: "amount > 5000.0"},
	{Group: keywordRuleGroup},
	{Group: "hours", Label: "no billable hours with high amount", Weight: 0.30, Expr: "hours == 0.0 && amount > 1000.0"},
	{Group: "efficiency", Label: "extremely high hourly rate", Weight: 0.20, Expr: "hours > 0.0 && efficiency > 1000.0"},
	{Group: "efficiency", Label: "unusually low hourly rate", Weight: 0.10, Expr: "hours > 0.0 && efficiency < 50.0"},
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// DeterministicOption configures a DeterministicScorer.
type DeterministicOption func(*deterministicConfig)

type deterministicConfig struct {
	keywords []string
	extra    []Rule
	log      logger.Logger
}

// WithKeywords replaces the suspicious keyword list.
func WithKeywords(keywords ...string) DeterministicOption {
	return func(c *deterministicConfig) {
		if len(keywords) > 0 {
			c.keywords = keywords
		}
	}
}

// WithExtraRules appends rules after the defaults.
func WithExtraRules(rules ...Rule) DeterministicOption {
	return func(c *deterministicConfig) { c.extra = append(c.extra, rules...) }
}

// WithDeterministicLogger sets the logger used for per-row failures.
func WithDeterministicLogger(l logger.Logger) DeterministicOption {
	return func(c *deterministicConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// DeterministicScorer scores raw line items with fixed heuristics. It is
// safe for concurrent use.
type DeterministicScorer struct {
	rules    []compiledRule
	keywords []string
	log      logger.Logger
}

// NewDeterministicScorer compiles the rule table.
func NewDeterministicScorer(opts ...DeterministicOption) (*DeterministicScorer, error) {
	cfg := deterministicConfig{keywords: DefaultKeywords, log: logger.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	env, err := cel.NewEnv(
		cel.Variable("rate", cel.DoubleType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("hours", cel.DoubleType),
		cel.Variable("efficiency", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	table := append(append([]Rule{}, DefaultRules...), cfg.extra...)
	rules := make([]compiledRule, 0, len(table))
	for _, r := range table {
		if r.Group == keywordRuleGroup {
			rules = append(rules, compiledRule{Rule: r})
			continue
		}
		if r.Group == "" {
			r.Group = defaultRuleGroupKey + ":" + r.Label
		}
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrRuleCompile, r.Label, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("%w: %q must evaluate to bool", ErrRuleCompile, r.Label)
		}
		prg, err := env.Program(ast, cel.CostLimit(ruleCostLimit))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrRuleCompile, r.Label, err)
		}
		rules = append(rules, compiledRule{Rule: r, prg: prg})
	}

	keywords := make([]string, 0, len(cfg.keywords))
	for _, kw := range cfg.keywords {
		if kw = foldText(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}

	return &DeterministicScorer{rules: rules, keywords: keywords, log: cfg.log}, nil
}

// Score returns one result per item. A failing row gets a neutral result and
// the rest of the batch continues.
func (s *DeterministicScorer) Score(ctx context.Context, items []model.LineItem) []model.ScoreResult {
	out := make([]model.ScoreResult, len(items))
	for i, item := range items {
		res, err := s.scoreOne(item)
		if err != nil {
			s.log.Warn(ctx, "deterministic row failed",
				logger.Int("row", i),
				logger.Error(err),
			)
			metrics.RecordRowError()
			res = model.ScoreResult{
				RiskScore: rowErrorScore,
				Reason:    fmt.Sprintf("%sscoring error (%v)", reasonPrefix, err),
			}
		}
		out[i] = res
	}
	return out
}

func (s *DeterministicScorer) scoreOne(item model.LineItem) (res model.ScoreResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	for _, f := range []struct {
		name string
		v    float64
	}{{"hours", item.Hours}, {"rate", item.Rate}, {"amount", item.Amount}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return res, fmt.Errorf("non-finite %s", f.name)
		}
	}

	efficiency := item.Amount
	if item.Hours > 0 {
		efficiency = item.Amount / item.Hours
	}
	vars := map[string]any{
		"rate":       item.Rate,
		"amount":     item.Amount,
		"hours":      item.Hours,
		"efficiency": efficiency,
	}

	var (
		score  float64
		labels []string
		fired  = make(map[string]bool, len(s.rules))
	)
	for _, r := range s.rules {
		if fired[r.Group] {
			continue
		}
		if r.prg == nil {
			if kw, ok := s.matchKeyword(item.Description); ok {
				fired[r.Group] = true
				score += keywordWeight
				labels = append(labels, keywordLabelPrefix+kw)
			}
			continue
		}
		out, _, evalErr := r.prg.Eval(vars)
		if evalErr != nil {
			return res, fmt.Errorf("rule %q: %w", r.Label, evalErr)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return res, fmt.Errorf("rule %q returned %T", r.Label, out.Value())
		}
		if matched {
			fired[r.Group] = true
			score += r.Weight
			labels = append(labels, r.Label)
		}
	}

	score = clip(score, 0, 1)
	res = model.ScoreResult{RiskScore: score, IsFlagged: score >= DeterministicFlagThreshold, Reason: reasonNormal}
	if len(labels) > 0 {
		if len(labels) > maxReasonFactors {
			labels = labels[:maxReasonFactors]
		}
		res.Reason = reasonPrefix + strings.Join(labels, ", ")
	}
	return res, nil
}

func (s *DeterministicScorer) matchKeyword(description string) (string, bool) {
	text := foldText(description)
	if text == "" {
		return "", false
	}
	for _, kw := range s.keywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

// foldText applies NFKC and Unicode case folding. A Caser is not safe for
// concurrent use, so one is created per call.
func foldText(s string) string {
	return strings.TrimSpace(cases.Fold().String(norm.NFKC.String(s)))
}
