// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// LineItem is one billed entry on a legal invoice.
type LineItem struct {
	Description string `json:"description"`
	// Hours are billable hours, never negative.
	Hours float64 `json:"hours"`
	// Rate is currency per hour, never negative.
	Rate float64 `json:"rate"`
	// Amount is usually Hours*Rate but may be supplied independently.
	Amount float64 `json:"amount"`
	// Role is the timekeeper seniority, e.g. "partner".
	Role         string     `json:"role,omitempty"`
	PracticeArea string     `json:"practice_area,omitempty"`
	Date         *time.Time `json:"date,omitempty"`
}

// Record field aliases accepted by FromRecord, in lookup order.
var (
	descriptionKeys  = []string{"description", "task_description", "narrative"}
	hoursKeys        = []string{"billable_hours", "hours"}
	rateKeys         = []string{"rate", "billing_rate", "hourly_rate"}
	amountKeys       = []string{"amount", "total", "line_total"}
	roleKeys         = []string{"role", "attorney_role", "timekeeper_role", "attorney"}
	practiceAreaKeys = []string{"practice_area"}
	dateKeys         = []string{"date", "work_date"}
)

var dateLayouts = []string{time.RFC3339, "2006-01-02", "01/02/2006"}

// FromRecord coerces a loosely typed record into a LineItem. It never fails:
// missing or unparseable numbers become 0, NaN and Inf become 0, negative hours
// and rates clamp to 0. When no amount is present, amount is hours*rate.
func FromRecord(r map[string]any) LineItem {
	item := LineItem{
		Description:  lookupString(r, descriptionKeys),
		Role:         lookupString(r, roleKeys),
		PracticeArea: lookupString(r, practiceAreaKeys),
		Date:         lookupDate(r, dateKeys),
	}

	item.Hours, _ = lookupFloat(r, hoursKeys)
	item.Rate, _ = lookupFloat(r, rateKeys)
	item.Hours = math.Max(item.Hours, 0)
	item.Rate = math.Max(item.Rate, 0)

	amount, present := lookupFloat(r, amountKeys)
	if !present {
		amount = item.Hours * item.Rate
	}
	item.Amount = amount

	return item
}

// FromRecords converts every record, preserving order and count.
func FromRecords(records []map[string]any) []LineItem {
	items := make([]LineItem, len(records))
	for i, r := range records {
		items[i] = FromRecord(r)
	}
	return items
}

// Sanitize returns a copy with non-finite numbers zeroed and negative hours
// and rates clamped, so typed callers get the same guarantees as FromRecord.
func (l LineItem) Sanitize() LineItem {
	l.Hours = math.Max(finiteOrZero(l.Hours), 0)
	l.Rate = math.Max(finiteOrZero(l.Rate), 0)
	l.Amount = finiteOrZero(l.Amount)
	return l
}

func lookup(r map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

func lookupString(r map[string]any, keys []string) string {
	v, ok := lookup(r, keys)
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	default:
		return ""
	}
}

// lookupFloat reports present=true when a key held a non-empty value, even
// if that value could not be parsed (it then coerces to 0).
func lookupFloat(r map[string]any, keys []string) (float64, bool) {
	v, ok := lookup(r, keys)
	if !ok {
		return 0, false
	}
	return ToFloat(v), true
}

// ToFloat converts v to a finite float64, returning 0 when it cannot.
func ToFloat(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		f = parseNumber(x)
	default:
		return 0
	}
	return finiteOrZero(f)
}

// parseNumber accepts "1200", "$1,200.50", " 95.5 ", "USD 300".
func parseNumber(s string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-', r == 'e', r == 'E', r == '+':
			return r
		default:
			return -1
		}
	}, strings.TrimSpace(s))
	if cleaned == "" {
		return 0
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return f
}

func lookupDate(r map[string]any, keys []string) *time.Time {
	v, ok := lookup(r, keys)
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case time.Time:
		return &x
	case *time.Time:
		return x
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return &t
			}
		}
	}
	return nil
}

func finiteOrZero(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
