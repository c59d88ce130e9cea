package scoring_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/okian/invoicerisk/internal/domain/model"
	"github.com/okian/invoicerisk/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func newDeterministic(opts ...scoring.DeterministicOption) *scoring.DeterministicScorer {
	s, err := scoring.NewDeterministicScorer(opts...)
	So(err, ShouldBeNil)
	return s
}

func TestDeterministicScorerExamples(t *testing.T) {
	Convey("Given the default deterministic scorer", t, func() {
		s := newDeterministic()

		Convey("When scoring an emergency consultation", func() {
			res := s.Score(context.Background(), []model.LineItem{emergencyItem()})[0]

			Convey("Then the first two factors should be reported and the line flagged", func() {
				So(res.RiskScore, ShouldBeGreaterThanOrEqualTo, 0.95)
				So(res.RiskScore, ShouldBeLessThanOrEqualTo, 1.0)
				So(res.IsFlagged, ShouldBeTrue)
				So(res.Reason, ShouldEqual, "Deterministic: extremely high rate, high amount")
			})
		})

		Convey("When scoring a routine filing", func() {
			res := s.Score(context.Background(), []model.LineItem{routineItem()})[0]

			Convey("Then nothing should be triggered", func() {
				So(res.RiskScore, ShouldEqual, 0.0)
				So(res.IsFlagged, ShouldBeFalse)
				So(res.Reason, ShouldEqual, "Deterministic: Normal billing pattern")
			})
		})
	})
}

func TestDeterministicScorerRules(t *testing.T) {
	Convey("Given the default deterministic scorer", t, func() {
		s := newDeterministic()
		score := func(item model.LineItem) model.ScoreResult { return s.Score(context.Background(), []model.LineItem{item})[0] }

		Convey("When the rate and amount hit the lower tiers", func() {
			res := score(model.LineItem{Description: "Research", Rate: 600, Amount: 6000, Hours: 10})

			Convey("Then only one rule per tier should contribute", func() {
				So(res.RiskScore, ShouldAlmostEqual, 0.35, 1e-9)
				So(res.IsFlagged, ShouldBeFalse)
				So(res.Reason, ShouldEqual, "Deterministic: high rate, elevated amount")
			})
		})

		Convey("When the description carries a suspicious keyword", func() {
			res := score(model.LineItem{Description: "Weekend review of filings", Rate: 300, Amount: 600, Hours: 2})

			Convey("Then the keyword should be named", func() {
				So(res.RiskScore, ShouldAlmostEqual, 0.25, 1e-9)
				So(res.Reason, ShouldEqual, "Deterministic: suspicious keyword: weekend")
			})
		})

		Convey("When several keywords match", func() {
			res := score(model.LineItem{Description: "urgent emergency motion", Rate: 300, Amount: 600, Hours: 2})

			Convey("Then the first keyword in list order should win", func() {
				So(res.Reason, ShouldEqual, "Deterministic: suspicious keyword: emergency")
				So(res.RiskScore, ShouldAlmostEqual, 0.25, 1e-9)
			})
		})

		Convey("When the keyword is written in full-width capitals", func() {
			res := score(model.LineItem{Description: "ＵＲＧＥＮＴ filing", Rate: 300, Amount: 600, Hours: 2})

			Convey("Then it should still match after normalization", func() {
				So(res.Reason, ShouldEqual, "Deterministic: suspicious keyword: urgent")
			})
		})

		Convey("When a large amount has no hours", func() {
			res := score(model.LineItem{Description: "Flat fee", Amount: 2000})

			Convey("Then the missing hours should be flagged as a factor", func() {
				So(res.RiskScore, ShouldAlmostEqual, 0.30, 1e-9)
				So(res.Reason, ShouldEqual, "Deterministic: no billable hours with high amount")
			})
		})

		Convey("When the effective hourly rate is very low", func() {
			res := score(model.LineItem{Description: "Document review", Rate: 20, Amount: 200, Hours: 10})

			Convey("Then the low efficiency should be reported", func() {
				So(res.RiskScore, ShouldAlmostEqual, 0.10, 1e-9)
				So(res.Reason, ShouldEqual, "Deterministic: unusually low hourly rate")
			})
		})

		Convey("When many factors trigger", func() {
			res := score(model.LineItem{Description: "Rush overtime work", Rate: 900, Amount: 20000, Hours: 0})

			Convey("Then the score should be clipped to one", func() {
				So(res.RiskScore, ShouldEqual, 1.0)
				So(res.IsFlagged, ShouldBeTrue)
				So(strings.Count(res.Reason, ","), ShouldEqual, 1)
			})
		})

		Convey("When a row is malformed", func() {
			results := s.Score(context.Background(), []model.LineItem{
				routineItem(),
				{Description: "broken", Rate: math.NaN(), Amount: 100, Hours: 1},
				emergencyItem(),
			})

			Convey("Then only that row should get the neutral default", func() {
				So(len(results), ShouldEqual, 3)
				So(results[1].RiskScore, ShouldEqual, 0.1)
				So(results[1].IsFlagged, ShouldBeFalse)
				So(results[1].Reason, ShouldEqual, "Deterministic: scoring error (non-finite rate)")
				So(results[0].Reason, ShouldEqual, "Deterministic: Normal billing pattern")
				So(results[2].IsFlagged, ShouldBeTrue)
			})
		})
	})
}

func TestDeterministicScorerProperties(t *testing.T) {
	Convey("Given a varied batch", t, func() {
		s := newDeterministic()
		items := []model.LineItem{emergencyItem(), routineItem()}
		for i := 0; i < 50; i++ {
			items = append(items, model.LineItem{
				Description: []string{"call", "holiday prep", "clerical", ""}[i%4],
				Hours:       float64(i % 7),
				Rate:        float64(i * 23),
				Amount:      float64(i * i * 11),
			})
		}

		first := s.Score(context.Background(), items)
		second := s.Score(context.Background(), items)

		Convey("Then every row should get a bounded score", func() {
			So(len(first), ShouldEqual, len(items))
			for _, r := range first {
				So(r.RiskScore, ShouldBeBetweenOrEqual, 0, 1)
				So(r.IsFlagged, ShouldEqual, r.RiskScore >= scoring.DeterministicFlagThreshold)
				So(r.Reason, ShouldStartWith, "Deterministic: ")
			}
		})

		Convey("And scoring should be deterministic", func() {
			So(second, ShouldResemble, first)
		})
	})
}

func TestDeterministicScorerOptions(t *testing.T) {
	Convey("Given custom options", t, func() {
		Convey("When a keyword list is supplied", func() {
			s := newDeterministic(scoring.WithKeywords("Retainer"))
			res := s.Score(context.Background(), []model.LineItem{{Description: "retainer top-up", Rate: 100, Amount: 200, Hours: 2}})[0]

			Convey("Then it should replace the defaults", func() {
				So(res.Reason, ShouldEqual, "Deterministic: suspicious keyword: retainer")
				emergency := s.Score(context.Background(), []model.LineItem{{Description: "emergency", Rate: 100, Amount: 200, Hours: 2}})[0]
				So(emergency.Reason, ShouldEqual, "Deterministic: Normal billing pattern")
			})
		})

		Convey("When an extra rule fails at evaluation", func() {
			s := newDeterministic(scoring.WithExtraRules(scoring.Rule{
				Label: "broken ratio", Weight: 0.1, Expr: "int(hours) / 0 > 1",
			}))
			res := s.Score(context.Background(), []model.LineItem{routineItem()})[0]

			Convey("Then the row should get the neutral default", func() {
				So(res.RiskScore, ShouldEqual, 0.1)
				So(res.IsFlagged, ShouldBeFalse)
				So(res.Reason, ShouldStartWith, "Deterministic: scoring error (")
			})
		})

		Convey("When an extra rule matches", func() {
			s := newDeterministic(scoring.WithExtraRules(scoring.Rule{
				Group: "round", Label: "round amount", Weight: 0.05, Expr: "amount == 300.0",
			}))
			res := s.Score(context.Background(), []model.LineItem{routineItem()})[0]

			Convey("Then it should contribute after the defaults", func() {
				So(res.RiskScore, ShouldAlmostEqual, 0.05, 1e-9)
				So(res.Reason, ShouldEqual, "Deterministic: round amount")
			})
		})

		Convey("When an extra rule does not compile", func() {
			_, err := scoring.NewDeterministicScorer(scoring.WithExtraRules(scoring.Rule{Label: "bad", Expr: "rate >"}))
			So(errors.Is(err, scoring.ErrRuleCompile), ShouldBeTrue)
		})

		Convey("When an extra rule is not boolean", func() {
			_, err := scoring.NewDeterministicScorer(scoring.WithExtraRules(scoring.Rule{Label: "sum", Expr: "rate + 1.0"}))
			So(errors.Is(err, scoring.ErrRuleCompile), ShouldBeTrue)
		})
	})
}
