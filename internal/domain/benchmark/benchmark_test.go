package benchmark_test

import (
	"errors"
	"testing"

	"github.com/okian/invoicerisk/internal/domain/benchmark"
	"github.com/okian/invoicerisk/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func sampleEntries() []benchmark.RateBenchmark {
	return []benchmark.RateBenchmark{
		{PracticeArea: "litigation", Role: "partner", Mean: 500, Std: 50, Median: 490, P25: 460, P75: 540, P90: 580, Count: 120},
		{PracticeArea: "litigation", Role: "Senior Associate", Mean: 350, Std: 40, Median: 345, Count: 200},
		{PracticeArea: "general", Role: "paralegal", Mean: 150, Std: 20, Median: 150, Count: 300},
		{PracticeArea: "General", Role: "partner", Mean: 450, Std: 60, Median: 440, Count: 500},
	}
}

func mustStore(entries []benchmark.RateBenchmark, opts ...benchmark.StoreOption) *benchmark.Store {
	s, err := benchmark.NewStore(entries, opts...)
	So(err, ShouldBeNil)
	return s
}

func TestNewStore(t *testing.T) {
	Convey("Given benchmark entries", t, func() {
		Convey("When they are valid", func() {
			s := mustStore(sampleEntries())

			Convey("Then keys should be normalized and listed in order", func() {
				So(s.Len(), ShouldEqual, 4)
				So(s.PracticeAreas(), ShouldResemble, []string{"general", "litigation"})
				entries := s.Entries()
				So(entries[0].PracticeArea, ShouldEqual, "general")
				So(entries[0].Role, ShouldEqual, "paralegal")
				So(entries[3].Role, ShouldEqual, "senior_associate")
			})
		})

		Convey("When an entry is invalid", func() {
			invalid := []benchmark.RateBenchmark{
				{Role: "partner", Mean: 1},
				{PracticeArea: "tax", Mean: 1},
				{PracticeArea: "tax", Role: "partner"},
				{PracticeArea: "tax", Role: "partner", Mean: 1, Std: -1},
				{PracticeArea: "tax", Role: "partner", Mean: 1, Count: -3},
			}
			for _, e := range invalid {
				_, err := benchmark.NewStore([]benchmark.RateBenchmark{e})
				So(errors.Is(err, benchmark.ErrInvalidBenchmark), ShouldBeTrue)
			}
		})

		Convey("When two entries share a normalized key", func() {
			_, err := benchmark.NewStore([]benchmark.RateBenchmark{
				{PracticeArea: "tax", Role: "Senior Associate", Mean: 300},
				{PracticeArea: "TAX", Role: "senior-associate", Mean: 310},
			})

			Convey("Then the store should be rejected", func() {
				So(errors.Is(err, benchmark.ErrInvalidBenchmark), ShouldBeTrue)
			})
		})
	})
}

func TestLookup(t *testing.T) {
	Convey("Given a store", t, func() {
		s := mustStore(sampleEntries())

		Convey("When the area has the role", func() {
			b, ok := s.Lookup(" Litigation ", "PARTNER")
			So(ok, ShouldBeTrue)
			So(b.Mean, ShouldEqual, 500)
		})

		Convey("When the role is spelled differently", func() {
			b, ok := s.Lookup("litigation", "senior-associate")
			So(ok, ShouldBeTrue)
			So(b.Mean, ShouldEqual, 350)
		})

		Convey("When the area lacks the role", func() {
			b, ok := s.Lookup("litigation", "paralegal")

			Convey("Then the general area should be used", func() {
				So(ok, ShouldBeTrue)
				So(b.PracticeArea, ShouldEqual, "general")
			})
		})

		Convey("When nothing matches", func() {
			_, ok := s.Lookup("tax", "intern")
			So(ok, ShouldBeFalse)
			_, ok = s.Lookup("litigation", "")
			So(ok, ShouldBeFalse)
		})

		Convey("When a custom fallback area is configured", func() {
			custom := mustStore(sampleEntries(), benchmark.WithFallbackArea("Litigation"))
			b, ok := custom.Lookup("tax", "senior associate")
			So(ok, ShouldBeTrue)
			So(b.PracticeArea, ShouldEqual, "litigation")
		})
	})

	Convey("Given a nil store", t, func() {
		var s *benchmark.Store
		_, ok := s.Lookup("litigation", "partner")
		So(ok, ShouldBeFalse)
		So(s.Len(), ShouldEqual, 0)
	})
}

func TestNormalizeKey(t *testing.T) {
	Convey("Given raw keys", t, func() {
		So(benchmark.NormalizeKey("  Senior Associate "), ShouldEqual, "senior_associate")
		So(benchmark.NormalizeKey("senior-associate"), ShouldEqual, "senior_associate")
		So(benchmark.NormalizeKey("Of  Counsel"), ShouldEqual, "of_counsel")
		So(benchmark.NormalizeKey(""), ShouldEqual, "")
	})
}

func TestCompare(t *testing.T) {
	Convey("Given a store with a partner benchmark of 500", t, func() {
		s := mustStore(sampleEntries())

		Convey("When partners bill 20% above the mean", func() {
			c := s.Compare("litigation", []model.LineItem{
				{Description: "Hearing", Role: "partner", Rate: 600, Hours: 2, Amount: 1200},
				{Description: "Prep", Role: "partner", Rate: 600, Hours: 1, Amount: 600},
			})

			Convey("Then the invoice should be above market", func() {
				So(c.MarketPosition, ShouldEqual, benchmark.PositionAboveMarket)
				So(c.WeightedDeviation, ShouldAlmostEqual, 0.2, 1e-9)
				So(c.AverageRate, ShouldEqual, 600)
				So(len(c.BenchmarkComparisons), ShouldEqual, 1)
				cmp := c.BenchmarkComparisons[0]
				So(cmp.Role, ShouldEqual, "partner")
				So(cmp.ActualRate, ShouldEqual, 600)
				So(cmp.LineCount, ShouldEqual, 2)
				So(cmp.PercentileBand, ShouldEqual, benchmark.BandAboveP90)
			})
		})

		Convey("When rates are close to the mean", func() {
			c := s.Compare("litigation", []model.LineItem{{Role: "partner", Rate: 520, Amount: 520, Hours: 1}})
			So(c.MarketPosition, ShouldEqual, benchmark.PositionMarketRate)
			So(c.BenchmarkComparisons[0].PercentileBand, ShouldEqual, benchmark.BandP25P75)
			So(len(c.RateOutliers), ShouldEqual, 0)
		})

		Convey("When rates are well below the mean", func() {
			c := s.Compare("litigation", []model.LineItem{{Role: "senior associate", Rate: 280, Amount: 560, Hours: 2}})
			So(c.MarketPosition, ShouldEqual, benchmark.PositionBelowMarket)
			So(c.BenchmarkComparisons[0].PercentileBand, ShouldEqual, "")
		})

		Convey("When no role matches a benchmark", func() {
			c := s.Compare("tax", []model.LineItem{
				{Role: "intern", Rate: 90, Amount: 90, Hours: 1},
				{Role: "", Rate: 300, Amount: 300, Hours: 1},
			})

			Convey("Then the position should be unknown", func() {
				So(c.MarketPosition, ShouldEqual, benchmark.PositionUnknown)
				So(c.WeightedDeviation, ShouldEqual, 0)
				So(c.AverageRate, ShouldEqual, 195)
				So(c.BenchmarkComparisons, ShouldBeEmpty)
				So(c.RateOutliers, ShouldBeEmpty)
			})
		})

		Convey("When roles differ in billed amounts", func() {
			c := s.Compare("litigation", []model.LineItem{
				{Role: "partner", Rate: 600, Amount: 3000, Hours: 5},
				{Role: "paralegal", Rate: 120, Amount: 1000, Hours: 8},
			})

			Convey("Then deviations should be weighted by amount", func() {
				// partner +0.20 weighted 3000, paralegal -0.20 weighted 1000
				So(c.WeightedDeviation, ShouldAlmostEqual, 0.1, 1e-9)
				So(c.MarketPosition, ShouldEqual, benchmark.PositionMarketRate)
				So(c.BenchmarkComparisons[1].PracticeArea, ShouldEqual, "general")
			})
		})

		Convey("When all amounts are zero", func() {
			c := s.Compare("litigation", []model.LineItem{
				{Role: "partner", Rate: 600},
				{Role: "paralegal", Rate: 120},
			})

			Convey("Then groups should be weighted equally", func() {
				So(c.WeightedDeviation, ShouldAlmostEqual, 0, 1e-9)
			})
		})

		Convey("When a line item overrides the practice area", func() {
			c := s.Compare("tax", []model.LineItem{{Role: "partner", PracticeArea: "litigation", Rate: 500, Amount: 500}})
			So(c.BenchmarkComparisons[0].PracticeArea, ShouldEqual, "litigation")
			So(c.MarketPosition, ShouldEqual, benchmark.PositionMarketRate)
		})

		Convey("When individual lines are far from the mean", func() {
			c := s.Compare("litigation", []model.LineItem{
				{Description: "a", Role: "partner", Rate: 500, Amount: 500},
				{Description: "b", Role: "partner", Rate: 650, Amount: 650},
				{Description: "c", Role: "partner", Rate: 350, Amount: 350},
				{Description: "d", Role: "partner", Rate: 800, Amount: 800},
			})

			Convey("Then outliers should be ordered by absolute deviation, ties by line", func() {
				So(len(c.RateOutliers), ShouldEqual, 3)
				So(c.RateOutliers[0].LineIndex, ShouldEqual, 3)
				So(c.RateOutliers[0].ZScore, ShouldAlmostEqual, 6, 1e-9)
				So(c.RateOutliers[1].LineIndex, ShouldEqual, 1)
				So(c.RateOutliers[2].LineIndex, ShouldEqual, 2)
				So(c.RateOutliers[2].ZScore, ShouldAlmostEqual, -3, 1e-9)
				So(c.RateOutliers[2].Deviation, ShouldAlmostEqual, -0.3, 1e-9)
			})
		})
	})

	Convey("Given outliers from roles with different spreads", t, func() {
		s := mustStore([]benchmark.RateBenchmark{
			{PracticeArea: "general", Role: "paralegal", Mean: 100, Std: 5},
			{PracticeArea: "general", Role: "partner", Mean: 500, Std: 100},
		})

		Convey("When the tighter role has the larger z-score", func() {
			c := s.Compare("general", []model.LineItem{
				{Description: "filing", Role: "paralegal", Rate: 120, Amount: 120},
				{Description: "strategy", Role: "partner", Rate: 800, Amount: 800},
			})

			Convey("Then the larger relative deviation should still come first", func() {
				So(len(c.RateOutliers), ShouldEqual, 2)
				So(c.RateOutliers[0].LineIndex, ShouldEqual, 1)
				So(c.RateOutliers[0].Deviation, ShouldAlmostEqual, 0.6, 1e-9)
				So(c.RateOutliers[0].ZScore, ShouldAlmostEqual, 3, 1e-9)
				So(c.RateOutliers[1].LineIndex, ShouldEqual, 0)
				So(c.RateOutliers[1].Deviation, ShouldAlmostEqual, 0.2, 1e-9)
				So(c.RateOutliers[1].ZScore, ShouldAlmostEqual, 4, 1e-9)
			})
		})
	})
}

func TestPosition(t *testing.T) {
	Convey("Given deviations around the market band", t, func() {
		So(benchmark.Position(0.11), ShouldEqual, benchmark.PositionAboveMarket)
		So(benchmark.Position(0.10), ShouldEqual, benchmark.PositionMarketRate)
		So(benchmark.Position(-0.10), ShouldEqual, benchmark.PositionMarketRate)
		So(benchmark.Position(-0.11), ShouldEqual, benchmark.PositionBelowMarket)
	})
}
