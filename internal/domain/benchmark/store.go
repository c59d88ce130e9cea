// Package benchmark holds market rate benchmarks and compares invoice rates
// against them.
package benchmark

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultPracticeArea is consulted when the requested area has no entry.
const DefaultPracticeArea = "general"

// RateBenchmark is the market rate distribution for one role in one
// practice area. Percentiles are optional and zero when unknown.
type RateBenchmark struct {
	PracticeArea string  `json:"practice_area" yaml:"practice_area"`
	Role         string  `json:"role" yaml:"role"`
	Mean         float64 `json:"mean" yaml:"mean"`
	Std          float64 `json:"std" yaml:"std"`
	Min          float64 `json:"min" yaml:"min"`
	Max          float64 `json:"max" yaml:"max"`
	Median       float64 `json:"median" yaml:"median"`
	P25          float64 `json:"p25,omitempty" yaml:"p25"`
	P75          float64 `json:"p75,omitempty" yaml:"p75"`
	P90          float64 `json:"p90,omitempty" yaml:"p90"`
	Count        int     `json:"count" yaml:"count"`
}

// HasPercentiles reports whether p25, p75 and p90 are all known.
func (b RateBenchmark) HasPercentiles() bool {
	return b.P25 > 0 && b.P75 > 0 && b.P90 > 0
}

type key struct {
	area string
	role string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithFallbackArea sets the practice area used when a lookup misses.
func WithFallbackArea(area string) StoreOption {
	return func(s *Store) {
		if a := NormalizeKey(area); a != "" {
			s.fallbackArea = a
		}
	}
}

// Store is an immutable benchmark snapshot keyed by practice area and role.
type Store struct {
	entries      map[key]RateBenchmark
	fallbackArea string
}

// NewStore validates entries and builds a snapshot. Keys are normalized.
func NewStore(entries []RateBenchmark, opts ...StoreOption) (*Store, error) {
	s := &Store{
		entries:      make(map[key]RateBenchmark, len(entries)),
		fallbackArea: DefaultPracticeArea,
	}
	for _, opt := range opts {
		opt(s)
	}

	for i, e := range entries {
		e.PracticeArea = NormalizeKey(e.PracticeArea)
		e.Role = NormalizeKey(e.Role)
		if err := validate(e); err != nil {
			return nil, fmt.Errorf("entry %d (%s/%s): %w", i, e.PracticeArea, e.Role, err)
		}
		k := key{area: e.PracticeArea, role: e.Role}
		if _, dup := s.entries[k]; dup {
			return nil, fmt.Errorf("%w: duplicate entry %s/%s", ErrInvalidBenchmark, k.area, k.role)
		}
		s.entries[k] = e
	}
	return s, nil
}

func validate(e RateBenchmark) error {
	switch {
	case e.PracticeArea == "":
		return fmt.Errorf("%w: empty practice area", ErrInvalidBenchmark)
	case e.Role == "":
		return fmt.Errorf("%w: empty role", ErrInvalidBenchmark)
	case !(e.Mean > 0) || math.IsInf(e.Mean, 0):
		return fmt.Errorf("%w: mean must be positive", ErrInvalidBenchmark)
	case !(e.Std >= 0) || math.IsInf(e.Std, 0):
		return fmt.Errorf("%w: std must not be negative", ErrInvalidBenchmark)
	case e.Count < 0:
		return fmt.Errorf("%w: count must not be negative", ErrInvalidBenchmark)
	}
	return nil
}

// Lookup returns the benchmark for role in area, falling back to the
// fallback practice area when the area has no entry for the role.
func (s *Store) Lookup(area, role string) (RateBenchmark, bool) {
	if s == nil {
		return RateBenchmark{}, false
	}
	r := NormalizeKey(role)
	if r == "" {
		return RateBenchmark{}, false
	}
	if b, ok := s.entries[key{area: NormalizeKey(area), role: r}]; ok {
		return b, true
	}
	b, ok := s.entries[key{area: s.fallbackArea, role: r}]
	return b, ok
}

// Entries returns every benchmark ordered by practice area then role.
func (s *Store) Entries() []RateBenchmark {
	if s == nil {
		return nil
	}
	out := make([]RateBenchmark, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PracticeArea != out[j].PracticeArea {
			return out[i].PracticeArea < out[j].PracticeArea
		}
		return out[i].Role < out[j].Role
	})
	return out
}

// PracticeAreas returns the distinct practice areas, sorted.
func (s *Store) PracticeAreas() []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for k := range s.entries {
		seen[k.area] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// NormalizeKey lower-cases and trims s and joins words with underscores,
// so "Senior Associate" and "senior-associate" are the same key.
func NormalizeKey(s string) string {
	s = cases.Lower(language.Und).String(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '\t' {
			return '_'
		}
		return r
	}, s)
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' })
	return strings.Join(parts, "_")
}
