package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/okian/invoicerisk/pkg/logger"
	"github.com/okian/invoicerisk/pkg/metrics"
)

// HTTP status code constants.
const (
	statusBadRequest      = 400
	statusNotFound        = 404
	statusTooManyRequests = 429
	statusUnavailable     = 503
	statusInternalError   = 500
)

// MetricsMiddleware records Prometheus metrics per matched route and logs
// failed requests. Unmatched paths are labelled "unmatched" to bound
// label cardinality.
func MetricsMiddleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			endpoint := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					endpoint = p
				}
			}
			elapsed := time.Since(start)
			statusCode := strconv.Itoa(status)

			metrics.RecordHTTPRequest(endpoint, r.Method, statusCode)
			metrics.RecordHTTPRequestDuration(endpoint, r.Method, statusCode, float64(elapsed.Milliseconds()))

			if status >= statusBadRequest {
				errorType := getErrorType(status)
				metrics.RecordErrorByEndpoint(endpoint, r.Method, errorType)
				metrics.RecordErrorByComponent("http", errorType)
				log.Warn(r.Context(), "request failed",
					logger.String("method", r.Method),
					logger.String("endpoint", endpoint),
					logger.Int("status", status),
					logger.Duration("elapsed", elapsed),
					logger.String("request_id", middleware.GetReqID(r.Context())),
				)
			}
		})
	}
}

// getErrorType returns a standardized error type based on HTTP status code.
func getErrorType(statusCode int) string {
	switch {
	case statusCode == statusUnavailable:
		return "unavailable"
	case statusCode >= statusInternalError:
		return "server_error"
	case statusCode == statusTooManyRequests:
		return "rate_limit"
	case statusCode == statusNotFound:
		return "not_found"
	case statusCode >= statusBadRequest:
		return "client_error"
	default:
		return "unknown"
	}
}
