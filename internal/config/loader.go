package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
)

const (
	envPrefix     = "INVOICERISK_"
	envConfigPath = "INVOICERISK_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if INVOICERISK_CONFIG is set
//  3. env (prefix INVOICERISK_)
func Load(_ context.Context) (*Config, error) {
	base := New()
	k := koanf.New(".")

	if path := os.Getenv(envConfigPath); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrLoadConfig, path, err)
		}
	}

	// INVOICERISK_MODEL_DIR -> model_dir. Underscores are preserved to match
	// the flat koanf tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that would otherwise surface at runtime.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: max_batch_size must be positive", ErrInvalidConfig)
	}
	if c.EmergencyErrorMaxLen <= 0 {
		return fmt.Errorf("%w: emergency_error_max_len must be positive", ErrInvalidConfig)
	}
	if c.JobWorkers < 0 {
		return fmt.Errorf("%w: job_workers must not be negative", ErrInvalidConfig)
	}
	if c.JobQueueSize <= 0 || c.JobRetention <= 0 {
		return fmt.Errorf("%w: job_queue_size and job_retention must be positive", ErrInvalidConfig)
	}
	if c.ModelReloadCron != "" {
		if _, err := cron.ParseStandard(c.ModelReloadCron); err != nil {
			return fmt.Errorf("%w: model_reload_cron: %w", ErrInvalidConfig, err)
		}
	}
	switch c.BenchmarkDriver {
	case "", "sqlite3", "postgres":
	default:
		return fmt.Errorf("%w: %w %q", ErrInvalidConfig, ErrUnsupportedDriver, c.BenchmarkDriver)
	}
	if c.BenchmarkRefreshInterval < 0 {
		return fmt.Errorf("%w: benchmark_refresh_interval must not be negative", ErrInvalidConfig)
	}
	if c.BenchmarkDriver != "" && c.BenchmarkDSN == "" {
		return fmt.Errorf("%w: benchmark_dsn is required with benchmark_driver", ErrInvalidConfig)
	}
	return nil
}
