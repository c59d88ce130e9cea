package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/okian/invoicerisk/internal/domain/benchmark"
)

const (
	defaultTable        = "rate_benchmarks"
	defaultQueryTimeout = 5 * time.Second
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLOption configures an SQLSource.
type SQLOption func(*SQLSource)

// WithTable sets the benchmark table name.
func WithTable(name string) SQLOption {
	return func(s *SQLSource) {
		if name != "" {
			s.table = name
		}
	}
}

// WithQueryTimeout bounds each load.
func WithQueryTimeout(d time.Duration) SQLOption {
	return func(s *SQLSource) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// SQLSource reads benchmarks from a table with the columns practice_area,
// role, mean, std, min, max, median, p25, p75, p90 and count. The query uses
// no placeholders, so it runs unchanged on sqlite3 and postgres.
type SQLSource struct {
	db      *sql.DB
	driver  string
	table   string
	timeout time.Duration
	owned   bool
}

// NewSQLSource wraps an open database.
func NewSQLSource(db *sql.DB, driver string, opts ...SQLOption) (*SQLSource, error) {
	s := &SQLSource{db: db, driver: driver, table: defaultTable, timeout: defaultQueryTimeout}
	for _, opt := range opts {
		opt(s)
	}
	if db == nil {
		return nil, ErrNoSource
	}
	if !tableName.MatchString(s.table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, s.table)
	}
	return s, nil
}

// OpenSQLSource opens driver/dsn and owns the resulting pool. The driver
// must be registered by the caller's imports.
func OpenSQLSource(ctx context.Context, driver, dsn string, opts ...SQLOption) (*SQLSource, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s, err := NewSQLSource(db, driver, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Name implements Source.
func (s *SQLSource) Name() string { return "sql:" + s.driver + ":" + s.table }

// Load implements Source.
func (s *SQLSource) Load(ctx context.Context) ([]benchmark.RateBenchmark, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	//nolint:gosec // table name is validated against tableName
	query := `SELECT practice_area, role, mean, std, min, max, median, p25, p75, p90, count
		FROM ` + s.table + ` ORDER BY practice_area, role`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	var out []benchmark.RateBenchmark
	for rows.Next() {
		var (
			area, role          string
			st                  stats
			std, lo, hi, median sql.NullFloat64
			p25, p75, p90       sql.NullFloat64
			count               sql.NullInt64
		)
		if err := rows.Scan(&area, &role, &st.Mean, &std, &lo, &hi, &median, &p25, &p75, &p90, &count); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		st.Std, st.Min, st.Max, st.Median = std.Float64, lo.Float64, hi.Float64, median.Float64
		st.P25, st.P75, st.P90 = nullable(p25), nullable(p75), nullable(p90)
		st.Count = int(count.Int64)
		out = append(out, st.entry(area, role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", s.table, err)
	}
	return out, nil
}

// Close closes the pool when the source opened it.
func (s *SQLSource) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
