// Package features turns line items into fixed-width numeric vectors for the
// anomaly detector and the overspend classifier.
package features

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/okian/invoicerisk/internal/domain/model"
	"golang.org/x/text/unicode/norm"
)

// Column indexes of a feature vector.
const (
	ColAmount = iota
	ColHours
	ColRate
	ColLogAmount
	ColLogHours
	ColLogRate
	ColDescriptionLength
	ColRateBand
	ColAmountBand
	ColEfficiency
	ColLogEfficiency

	// Width is the number of columns in every vector.
	Width
)

var columnNames = [Width]string{
	"amount",
	"hours",
	"rate",
	"log_amount",
	"log_hours",
	"log_rate",
	"description_length",
	"rate_category",
	"amount_category",
	"efficiency",
	"log_efficiency",
}

// Upper bounds (inclusive) of the rate and amount bands. Values above the
// last bound fall into the final band.
var (
	rateBandEdges   = []float64{150, 250, 350, 500}
	amountBandEdges = []float64{1000, 5000, 10000}
)

// Names returns the column names in vector order.
func Names() []string {
	out := make([]string, Width)
	copy(out, columnNames[:])
	return out
}

// Build returns one vector per item, preserving order and count.
func Build(items []model.LineItem) [][]float64 {
	out := make([][]float64, len(items))
	for i, item := range items {
		out[i] = BuildOne(item)
	}
	return out
}

// BuildOne derives the feature vector for a single item.
func BuildOne(item model.LineItem) []float64 {
	item = item.Sanitize()

	efficiency := item.Amount
	if item.Hours > 0 {
		efficiency = item.Amount / item.Hours
	}

	v := make([]float64, Width)
	v[ColAmount] = item.Amount
	v[ColHours] = item.Hours
	v[ColRate] = item.Rate
	v[ColLogAmount] = safeLog1p(item.Amount)
	v[ColLogHours] = safeLog1p(item.Hours)
	v[ColLogRate] = safeLog1p(item.Rate)
	v[ColDescriptionLength] = float64(DescriptionLength(item.Description))
	v[ColRateBand] = float64(band(item.Rate, rateBandEdges))
	v[ColAmountBand] = float64(band(item.Amount, amountBandEdges))
	v[ColEfficiency] = efficiency
	v[ColLogEfficiency] = safeLog1p(efficiency)
	return v
}

// DescriptionLength counts runes of the NFKC-normalized, trimmed text.
func DescriptionLength(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(norm.NFKC.String(s)))
}

// RateBand returns the 0-4 rate category.
func RateBand(rate float64) int { return band(rate, rateBandEdges) }

// AmountBand returns the 0-3 amount category.
func AmountBand(amount float64) int { return band(amount, amountBandEdges) }

func band(x float64, edges []float64) int {
	for i, edge := range edges {
		if x <= edge {
			return i
		}
	}
	return len(edges)
}

// safeLog1p never returns NaN: negative inputs (credits) are taken as 0.
func safeLog1p(x float64) float64 {
	return math.Log1p(math.Max(x, 0))
}
