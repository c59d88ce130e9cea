// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New() returns a Config populated with defaults.
//   - Load(ctx) layers defaults, an optional YAML file and INVOICERISK_* env vars.
//   - Errors returned from this package wrap ErrInvalidConfig or ErrLoadConfig.
package config

import "time"

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogJSON switches log output to JSON.
	LogJSON bool `koanf:"log_json"`
	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// ModelDir holds the anomaly detector and classifier artifacts.
	ModelDir string `koanf:"model_dir"`
	// AnomalyModelFile and ClassifierModelFile are file names inside ModelDir.
	// The extension selects the format: .onnx or .json.
	AnomalyModelFile    string `koanf:"anomaly_model_file"`
	ClassifierModelFile string `koanf:"classifier_model_file"`
	// ONNXLibraryPath points at the onnxruntime shared library. Only needed
	// for .onnx artifacts.
	ONNXLibraryPath string `koanf:"onnx_library_path"`
	// ModelReloadCron schedules periodic model reloads (5-field cron spec).
	// Empty disables scheduled reloads.
	ModelReloadCron string `koanf:"model_reload_cron"`

	// BenchmarkFile is a YAML or JSON benchmark table.
	BenchmarkFile string `koanf:"benchmark_file"`
	// BenchmarkDriver and BenchmarkDSN select an SQL benchmark table instead
	// of BenchmarkFile. Drivers: sqlite3, postgres.
	BenchmarkDriver string `koanf:"benchmark_driver"`
	BenchmarkDSN    string `koanf:"benchmark_dsn"`
	// BenchmarkTable names the SQL table. Defaults to rate_benchmarks.
	BenchmarkTable string `koanf:"benchmark_table"`
	// BenchmarkRefreshInterval reloads benchmarks periodically; zero disables.
	BenchmarkRefreshInterval time.Duration `koanf:"benchmark_refresh_interval"`
	// DefaultPracticeArea is used when a request names none.
	DefaultPracticeArea string `koanf:"default_practice_area"`

	// MaxBatchSize caps the number of line items per request.
	MaxBatchSize int `koanf:"max_batch_size"`
	// EmergencyErrorMaxLen truncates error text reported in metadata.
	EmergencyErrorMaxLen int `koanf:"emergency_error_max_len"`

	// JobWorkers is the number of asynchronous analysis workers; 0 uses NumCPU.
	JobWorkers int `koanf:"job_workers"`
	// JobQueueSize caps queued analysis jobs before submissions get 429.
	JobQueueSize int `koanf:"job_queue_size"`
	// JobRetention is how many jobs stay queryable and deduplicated.
	JobRetention int `koanf:"job_retention"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		Addr:                 ":9080",
		ModelDir:             "./models",
		AnomalyModelFile:     "anomaly_detector.json",
		ClassifierModelFile:  "overspend_classifier.json",
		BenchmarkFile:        "./config/rate_benchmarks.yaml",
		BenchmarkTable:       "rate_benchmarks",
		DefaultPracticeArea:  "general",
		MaxBatchSize:         5000,
		EmergencyErrorMaxLen: 200,
		JobQueueSize:         1024,
		JobRetention:         10000,
	}
}
