package repository

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/okian/invoicerisk/internal/domain/benchmark"
	"gopkg.in/yaml.v3"
)

// FileSource reads a YAML (or JSON) document shaped as
// practice_area -> role -> stats.
type FileSource struct {
	path string
}

// NewFileSource returns a source reading path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Name implements Source.
func (s *FileSource) Name() string { return "file:" + s.path }

// Load implements Source.
func (s *FileSource) Load(_ context.Context) ([]benchmark.RateBenchmark, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read benchmarks %s: %w", s.path, err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes the nested benchmark document. Entries come back sorted
// by practice area then role.
func ParseYAML(data []byte) ([]benchmark.RateBenchmark, error) {
	var doc map[string]map[string]stats
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	areas := make([]string, 0, len(doc))
	for a := range doc {
		areas = append(areas, a)
	}
	sort.Strings(areas)

	var out []benchmark.RateBenchmark
	for _, area := range areas {
		roles := make([]string, 0, len(doc[area]))
		for r := range doc[area] {
			roles = append(roles, r)
		}
		sort.Strings(roles)
		for _, role := range roles {
			out = append(out, doc[area][role].entry(area, role))
		}
	}
	return out, nil
}
