// Package api exposes the HTTP interface of the mirroring service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hxlab/bookmirror/internal/ingest"
	"github.com/hxlab/bookmirror/internal/metrics"
)

// ingestTimeout bounds one synchronous ingest request. Chapter mirroring
// pauses between chunks, so large takes legitimately run for minutes.
const ingestTimeout = 15 * time.Minute

// Ingester runs one ingest request end to end.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

// Server wires HTTP handlers to the orchestrator.
type Server struct {
	router   chi.Router
	ingester Ingester
	ready    func(ctx context.Context) error
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil
// when no downstream needs a readiness probe.
func NewServer(ingester Ingester, ready func(ctx context.Context) error, logger *zap.Logger) *Server {
	s := &Server{
		ingester: ingester,
		ready:    ready,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.With(timeoutMiddleware(ingestTimeout)).Post("/ingest", s.submitIngest)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(s.logger, w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitIngest(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.ingester.Ingest(r.Context(), req)
	if err != nil {
		writeJSON(s.logger, w, statusFor(err), ingestErrorResponse{
			Error:  err.Error(),
			Result: result,
		})
		return
	}
	writeJSON(s.logger, w, http.StatusOK, result)
}

func validateRequest(req ingest.Request) error {
	if !req.Source.Valid() {
		return errors.New("unknown source_type")
	}
	if req.BookURL == "" {
		return errors.New("book_url is required")
	}
	if req.Take < 0 {
		return errors.New("take must not be negative")
	}
	if req.AccountEmail == "" {
		return errors.New("account_email is required")
	}
	return nil
}

// statusFor maps pipeline failures onto HTTP statuses. Upstream-site trouble
// is a bad gateway here, not an internal error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrQuotaExceeded):
		return http.StatusInsufficientStorage
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var fetchErr *ingest.FetchError
	var extractErr *ingest.ExtractionError
	var mirrorErr *ingest.MirrorError
	if errors.As(err, &fetchErr) || errors.As(err, &extractErr) || errors.As(err, &mirrorErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ingestErrorResponse carries the partial result alongside the error so
// callers can see which chapters were committed before the run stopped.
type ingestErrorResponse struct {
	Error  string        `json:"error"`
	Result ingest.Result `json:"result"`
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
