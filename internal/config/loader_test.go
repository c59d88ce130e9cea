package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/invoicerisk/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.MaxBatchSize, convey.ShouldEqual, 5000)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("INVOICERISK_ADDR", ":8080")
			_ = os.Setenv("INVOICERISK_MODEL_DIR", "/srv/models")
			_ = os.Setenv("INVOICERISK_MAX_BATCH_SIZE", "250")
			_ = os.Setenv("INVOICERISK_MODEL_RELOAD_CRON", "*/15 * * * *")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.ModelDir, convey.ShouldEqual, "/srv/models")
				convey.So(cfg.MaxBatchSize, convey.ShouldEqual, 250)
				convey.So(cfg.ModelReloadCron, convey.ShouldEqual, "*/15 * * * *")
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			tmpFile := createTempConfigFile(`
addr: ":9090"
model_dir: "/opt/models"
anomaly_model_file: "iso.onnx"
classifier_model_file: "clf.onnx"
onnx_library_path: "/usr/lib/libonnxruntime.so"
benchmark_file: "/etc/invoicerisk/benchmarks.yaml"
default_practice_area: "litigation"
benchmark_refresh_interval: "5m"
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("INVOICERISK_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.ModelDir, convey.ShouldEqual, "/opt/models")
				convey.So(cfg.AnomalyModelFile, convey.ShouldEqual, "iso.onnx")
				convey.So(cfg.ClassifierModelFile, convey.ShouldEqual, "clf.onnx")
				convey.So(cfg.ONNXLibraryPath, convey.ShouldEqual, "/usr/lib/libonnxruntime.so")
				convey.So(cfg.DefaultPracticeArea, convey.ShouldEqual, "litigation")
				convey.So(cfg.BenchmarkRefreshInterval, convey.ShouldEqual, 5*time.Minute)
				convey.So(cfg.BenchmarkTable, convey.ShouldEqual, "rate_benchmarks")
				convey.So(cfg.MaxBatchSize, convey.ShouldEqual, 5000) // From defaults
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := createTempConfigFile(`
addr: ":9090"
max_batch_size: 100
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("INVOICERISK_CONFIG", tmpFile)
			_ = os.Setenv("INVOICERISK_ADDR", ":8080")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.MaxBatchSize, convey.ShouldEqual, 100)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("INVOICERISK_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("INVOICERISK_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("INVOICERISK_ADDR", "")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with an invalid cron spec", func() {
			_ = os.Setenv("INVOICERISK_MODEL_RELOAD_CRON", "every tuesday")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should reject the schedule", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "model_reload_cron")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with an unknown benchmark driver", func() {
			_ = os.Setenv("INVOICERISK_BENCHMARK_DRIVER", "mysql")
			_ = os.Setenv("INVOICERISK_BENCHMARK_DSN", "user@/db")

			_, err := config.Load(ctx)

			convey.Convey("Then it should reject the driver", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(errors.Is(err, config.ErrUnsupportedDriver), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a benchmark driver is set without a DSN", func() {
			_ = os.Setenv("INVOICERISK_BENCHMARK_DRIVER", "sqlite3")

			_, err := config.Load(ctx)

			convey.Convey("Then it should require the DSN", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "benchmark_dsn")
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("INVOICERISK_MAX_BATCH_SIZE", "lots")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading job settings from the environment", func() {
			_ = os.Setenv("INVOICERISK_JOB_WORKERS", "3")
			_ = os.Setenv("INVOICERISK_JOB_QUEUE_SIZE", "64")

			cfg, err := config.Load(ctx)

			convey.Convey("Then they should override the defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.JobWorkers, convey.ShouldEqual, 3)
				convey.So(cfg.JobQueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.JobRetention, convey.ShouldEqual, 10000)
			})
		})

		convey.Convey("When the job queue size is zero", func() {
			_ = os.Setenv("INVOICERISK_JOB_QUEUE_SIZE", "0")

			_, err := config.Load(ctx)

			convey.Convey("Then it should fail validation", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "job_queue_size")
			})
		})

		convey.Convey("When loading config with a zero batch size", func() {
			_ = os.Setenv("INVOICERISK_MAX_BATCH_SIZE", "0")

			_, err := config.Load(ctx)

			convey.Convey("Then it should fail validation", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

// Helper functions.
func clearConfigEnvVars() {
	envVars := []string{
		"INVOICERISK_CONFIG",
		"INVOICERISK_ADDR",
		"INVOICERISK_MODEL_DIR",
		"INVOICERISK_MAX_BATCH_SIZE",
		"INVOICERISK_MODEL_RELOAD_CRON",
		"INVOICERISK_JOB_WORKERS",
		"INVOICERISK_JOB_QUEUE_SIZE",
		"INVOICERISK_BENCHMARK_DRIVER",
		"INVOICERISK_BENCHMARK_DSN",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "invoicerisk-config-*.yaml")
	if err != nil {
		panic(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	if err := tmpFile.Close(); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
