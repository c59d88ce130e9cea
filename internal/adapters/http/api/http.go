// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/okian/invoicerisk/internal/adapters/models"
	"github.com/okian/invoicerisk/internal/domain/benchmark"
	"github.com/okian/invoicerisk/internal/domain/jobs"
	"github.com/okian/invoicerisk/internal/domain/model"
	"github.com/okian/invoicerisk/internal/domain/types"
	"github.com/okian/invoicerisk/pkg/logger"
)

const (
	defaultMaxBodyBytes   = 32 << 20
	defaultRequestTimeout = 60 * time.Second
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	StatsProvider

	ScoreRecords(ctx context.Context, records []map[string]any) (types.ScoreResponse, error)
	Compare(ctx context.Context, practiceArea string, items []model.LineItem) (benchmark.Comparison, error)
	Analyze(ctx context.Context, practiceArea string, items []model.LineItem) (types.Analysis, error)

	SubmitJob(ctx context.Context, id, practiceArea string, items []model.LineItem) (jobs.Record, bool, error)
	Job(id string) (jobs.Record, error)

	ReloadModels(ctx context.Context) error
	ReloadBenchmarks(ctx context.Context) error
	Benchmarks(practiceArea string) ([]benchmark.RateBenchmark, error)
	ModelStatus() models.Status
}

// Option configures a Server.
type Option func(*Server)

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithRequestTimeout bounds request handling time.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	scoreHandler  *ScoreHandler
	jobsHandler   *JobsHandler
	adminHandler  *AdminHandler

	maxBodyBytes   int64
	requestTimeout time.Duration
	logger         logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		maxBodyBytes:   defaultMaxBodyBytes,
		requestTimeout: defaultRequestTimeout,
		logger:         logger.Named("http"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler(deps)
	s.statsHandler = NewStatsHandler(deps)
	s.scoreHandler = NewScoreHandler(deps, s.maxBodyBytes)
	s.jobsHandler = NewJobsHandler(deps, s.maxBodyBytes)
	s.adminHandler = NewAdminHandler(deps)
	return s
}

// Register attaches all HTTP routes and middleware to r.
func (s *Server) Register(_ context.Context, r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))
	r.Use(MetricsMiddleware(s.logger))

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/metrics", s.healthHandler.HandleMetrics)
	r.Get("/stats", s.statsHandler.HandleStats)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/score", s.scoreHandler.HandleScore)
		r.Post("/benchmark", s.scoreHandler.HandleBenchmark)
		r.Post("/analyze", s.scoreHandler.HandleAnalyze)

		r.Post("/jobs", s.jobsHandler.HandleSubmit)
		r.Get("/jobs/{jobID}", s.jobsHandler.HandleGet)

		r.Get("/models", s.adminHandler.HandleModelStatus)
		r.Post("/models/reload", s.adminHandler.HandleReloadModels)
		r.Get("/benchmarks", s.adminHandler.HandleListBenchmarks)
		r.Post("/benchmarks/reload", s.adminHandler.HandleReloadBenchmarks)
	})
}

// Router returns a chi router with every route registered.
func (s *Server) Router(ctx context.Context) chi.Router {
	r := chi.NewRouter()
	s.Register(ctx, r)
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// decodeJSON reads one JSON document into v, rejecting unknown trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("decode body: unexpected data after JSON document")
	}
	return nil
}
