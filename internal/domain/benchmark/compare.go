package benchmark

import (
	"math"
	"sort"

	"github.com/okian/invoicerisk/internal/domain/model"
)

// Market positions.
const (
	PositionAboveMarket = "above_market"
	PositionBelowMarket = "below_market"
	PositionMarketRate  = "market_rate"
	PositionUnknown     = "unknown"
)

// Percentile bands of an observed rate within its benchmark.
const (
	BandBelowP25 = "below_p25"
	BandP25P75   = "p25_p75"
	BandP75P90   = "p75_p90"
	BandAboveP90 = "above_p90"
)

const (
	marketBand    = 0.10
	outlierZScore = 2.0
)

// RoleComparison is the observed average rate of one role against its benchmark.
type RoleComparison struct {
	Role            string  `json:"role"`
	PracticeArea    string  `json:"practice_area"`
	ActualRate      float64 `json:"actual_rate"`
	BenchmarkMean   float64 `json:"benchmark_mean"`
	BenchmarkMedian float64 `json:"benchmark_median"`
	Deviation       float64 `json:"deviation"`
	PercentileBand  string  `json:"percentile_band,omitempty"`
	LineCount       int     `json:"line_count"`
}

// RateOutlier is a line whose rate is far from its benchmark mean.
type RateOutlier struct {
	LineIndex     int     `json:"line_index"`
	Description   string  `json:"description"`
	Role          string  `json:"role"`
	Rate          float64 `json:"rate"`
	BenchmarkMean float64 `json:"benchmark_mean"`
	Deviation     float64 `json:"deviation"`
	ZScore        float64 `json:"z_score"`
}

// Comparison is the market analysis of an invoice.
type Comparison struct {
	MarketPosition       string           `json:"market_position"`
	PracticeArea         string           `json:"practice_area"`
	AverageRate          float64          `json:"average_rate"`
	WeightedDeviation    float64          `json:"weighted_deviation"`
	BenchmarkComparisons []RoleComparison `json:"benchmark_comparisons"`
	RateOutliers         []RateOutlier    `json:"rate_outliers"`
}

type roleGroup struct {
	area    string
	role    string
	rateSum float64
	amount  float64
	lines   []int
}

// Compare classifies the invoice against market rates. Items without a role
// or with a non-positive rate are left out of the role groups. An item's own
// practice area overrides practiceArea.
func (s *Store) Compare(practiceArea string, items []model.LineItem) Comparison {
	area := NormalizeKey(practiceArea)
	out := Comparison{
		MarketPosition:       PositionUnknown,
		PracticeArea:         area,
		AverageRate:          averageRate(items),
		BenchmarkComparisons: []RoleComparison{},
		RateOutliers:         []RateOutlier{},
	}

	groups, order := groupByRole(area, items)

	var (
		deviations []float64
		weights    []float64
	)
	for _, k := range order {
		g := groups[k]
		bench, ok := s.Lookup(g.area, g.role)
		if !ok {
			continue
		}
		actual := g.rateSum / float64(len(g.lines))
		dev := (actual - bench.Mean) / bench.Mean
		out.BenchmarkComparisons = append(out.BenchmarkComparisons, RoleComparison{
			Role:            g.role,
			PracticeArea:    bench.PracticeArea,
			ActualRate:      actual,
			BenchmarkMean:   bench.Mean,
			BenchmarkMedian: bench.Median,
			Deviation:       dev,
			PercentileBand:  percentileBand(actual, bench),
			LineCount:       len(g.lines),
		})
		deviations = append(deviations, dev)
		weights = append(weights, math.Max(g.amount, 0))

		if bench.Std > 0 {
			for _, idx := range g.lines {
				item := items[idx]
				z := (item.Rate - bench.Mean) / bench.Std
				if math.Abs(z) > outlierZScore {
					out.RateOutliers = append(out.RateOutliers, RateOutlier{
						LineIndex:     idx,
						Description:   item.Description,
						Role:          g.role,
						Rate:          item.Rate,
						BenchmarkMean: bench.Mean,
						Deviation:     (item.Rate - bench.Mean) / bench.Mean,
						ZScore:        z,
					})
				}
			}
		}
	}

	sort.SliceStable(out.RateOutliers, func(i, j int) bool {
		di, dj := math.Abs(out.RateOutliers[i].Deviation), math.Abs(out.RateOutliers[j].Deviation)
		if di != dj {
			return di > dj
		}
		return out.RateOutliers[i].LineIndex < out.RateOutliers[j].LineIndex
	})

	if len(deviations) == 0 {
		return out
	}
	out.WeightedDeviation = weightedMean(deviations, weights)
	out.MarketPosition = Position(out.WeightedDeviation)
	return out
}

// Position maps a weighted deviation to a market position.
func Position(deviation float64) string {
	switch {
	case deviation > marketBand:
		return PositionAboveMarket
	case deviation < -marketBand:
		return PositionBelowMarket
	default:
		return PositionMarketRate
	}
}

func groupByRole(area string, items []model.LineItem) (map[key]*roleGroup, []key) {
	groups := make(map[key]*roleGroup)
	var order []key
	for i, item := range items {
		role := NormalizeKey(item.Role)
		if role == "" || !(item.Rate > 0) || math.IsInf(item.Rate, 0) {
			continue
		}
		itemArea := area
		if a := NormalizeKey(item.PracticeArea); a != "" {
			itemArea = a
		}
		k := key{area: itemArea, role: role}
		g, ok := groups[k]
		if !ok {
			g = &roleGroup{area: itemArea, role: role}
			groups[k] = g
			order = append(order, k)
		}
		g.rateSum += item.Rate
		if !math.IsNaN(item.Amount) && !math.IsInf(item.Amount, 0) {
			g.amount += item.Amount
		}
		g.lines = append(g.lines, i)
	}
	return groups, order
}

func weightedMean(values, weights []float64) float64 {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	}
	var acc float64
	for i, v := range values {
		acc += v * weights[i]
	}
	return acc / total
}

func averageRate(items []model.LineItem) float64 {
	var (
		sum float64
		n   int
	)
	for _, item := range items {
		if item.Rate > 0 && !math.IsInf(item.Rate, 0) {
			sum += item.Rate
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func percentileBand(rate float64, b RateBenchmark) string {
	if !b.HasPercentiles() {
		return ""
	}
	switch {
	case rate < b.P25:
		return BandBelowP25
	case rate <= b.P75:
		return BandP25P75
	case rate <= b.P90:
		return BandP75P90
	default:
		return BandAboveP90
	}
}
