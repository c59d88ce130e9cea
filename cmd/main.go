package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/okian/invoicerisk/internal/adapters/http/api"
	"github.com/okian/invoicerisk/internal/adapters/http/swagger"
	"github.com/okian/invoicerisk/internal/adapters/models"
	"github.com/okian/invoicerisk/internal/adapters/repository"
	app "github.com/okian/invoicerisk/internal/app"
	"github.com/okian/invoicerisk/internal/config"
	"github.com/okian/invoicerisk/pkg/logger"
	"github.com/okian/invoicerisk/pkg/metrics"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 90 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithJSON(cfg.LogJSON)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "invoicerisk exited", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	svc, err := buildService(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(ctx, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

// buildService translates configuration into service options. An SQL
// benchmark source replaces the file source when a driver is configured.
func buildService(ctx context.Context, cfg *config.Config, log logger.Logger) (*app.Service, error) {
	var src repository.Source
	if cfg.BenchmarkDriver != "" {
		sqlSrc, err := repository.OpenSQLSource(ctx, cfg.BenchmarkDriver, cfg.BenchmarkDSN,
			repository.WithTable(cfg.BenchmarkTable))
		if err != nil {
			return nil, fmt.Errorf("open benchmark database: %w", err)
		}
		src = sqlSrc
	} else if cfg.BenchmarkFile != "" {
		src = repository.NewFileSource(cfg.BenchmarkFile)
	}

	opts := []app.Option{
		app.WithLogger(log),
		app.WithArtifacts(models.Artifacts{
			Dir:            cfg.ModelDir,
			AnomalyFile:    cfg.AnomalyModelFile,
			ClassifierFile: cfg.ClassifierModelFile,
			ONNXLibrary:    cfg.ONNXLibraryPath,
		}),
		app.WithModelReloadCron(cfg.ModelReloadCron),
		app.WithBenchmarkRefresh(cfg.BenchmarkRefreshInterval),
		app.WithDefaultPracticeArea(cfg.DefaultPracticeArea),
		app.WithMaxBatchSize(cfg.MaxBatchSize),
		app.WithErrorMaxLen(cfg.EmergencyErrorMaxLen),
		app.WithJobWorkers(cfg.JobWorkers),
		app.WithJobQueueSize(cfg.JobQueueSize),
		app.WithJobRetention(cfg.JobRetention),
	}
	if src != nil {
		opts = append(opts, app.WithBenchmarkSource(src))
	}
	return app.New(opts...), nil
}

// newRouter mounts the API docs and business routes on one chi router.
func newRouter(ctx context.Context, svc api.Dependencies) http.Handler {
	r := chi.NewRouter()
	api.NewServer(svc, api.WithLogger(logger.Named("http"))).Register(ctx, r)
	swagger.Register(ctx, r)
	return r
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
