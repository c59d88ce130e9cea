// Package repository loads rate benchmarks from files or SQL tables and
// publishes them as immutable snapshots.
package repository

import (
	"context"

	"github.com/okian/invoicerisk/internal/domain/benchmark"
)

// Source reads the full set of benchmark entries.
type Source interface {
	// Load returns every entry. It must not return a partial set on error.
	Load(ctx context.Context) ([]benchmark.RateBenchmark, error)
	// Name identifies the source in logs.
	Name() string
}

// stats is the per-role payload shared by the file and SQL formats.
type stats struct {
	Mean   float64  `yaml:"mean"`
	Std    float64  `yaml:"std"`
	Min    float64  `yaml:"min"`
	Max    float64  `yaml:"max"`
	Median float64  `yaml:"median"`
	P25    *float64 `yaml:"p25"`
	P75    *float64 `yaml:"p75"`
	P90    *float64 `yaml:"p90"`
	Count  int      `yaml:"count"`
}

func (s stats) entry(area, role string) benchmark.RateBenchmark {
	return benchmark.RateBenchmark{
		PracticeArea: area,
		Role:         role,
		Mean:         s.Mean,
		Std:          s.Std,
		Min:          s.Min,
		Max:          s.Max,
		Median:       s.Median,
		P25:          deref(s.P25),
		P75:          deref(s.P75),
		P90:          deref(s.P90),
		Count:        s.Count,
	}
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
