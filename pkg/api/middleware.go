package api

import (
	"net/http"

	"github.com/cuemby/meek/pkg/metrics"
)

// statusRecorder captures the status code written by the wrapped
// handler so middleware can observe it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// recoverMiddleware turns a handler panic into a 500 instead of taking
// the process down (spec.md §7: "the controller never crashes on a
// per-message error", applied to the HTTP boundary).
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("recovered from handler panic")
				writeError(w, http.StatusInternalServerError, kindTransient, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs every request with structured context and
// records the Lifecycle API's request-count and latency metrics.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method+" "+r.URL.Path)
		metrics.APIRequestsTotal.WithLabelValues(r.Method+" "+r.URL.Path, http.StatusText(rec.status)).Inc()
		s.logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", rec.status).Msg("api request")
	})
}

// requireAPIKey gates a handler behind a static API key (SPEC_FULL.md
// §6.1's "authN/authZ beyond an API-key check" scope for the model
// marketplace). An empty configured key means model sync is disabled
// entirely, not "open to everyone".
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			writeError(w, http.StatusServiceUnavailable, kindConfig, "model sync is not configured")
			return
		}
		if r.Header.Get("X-API-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, kindInvalidInput, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
