package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	errs "github.com/c360/tablecache/errors"
	"github.com/c360/tablecache/health"
	"github.com/c360/tablecache/metric"
	"github.com/c360/tablecache/pkg/cache"
	"github.com/c360/tablecache/tablebase"
)

const maxBatchBody = 1 << 20

// Evaluator is the part of tablebase.Service the HTTP API serves.
type Evaluator interface {
	Evaluate(ctx context.Context, fen string) (*tablebase.Evaluation, error)
	EvaluateBatch(ctx context.Context, fens []string) ([]tablebase.BatchResult, error)
	Invalidate(fen string) (bool, error)
	Clear()
	Stats() cache.LoaderStats
	Health() health.Status
}

type apiServer struct {
	svc     Evaluator
	metrics *metric.Metrics
	logger  *slog.Logger
}

type batchRequest struct {
	FENs []string `json:"fens"`
}

type batchResponse struct {
	Results []tablebase.BatchResult `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

func newRouter(svc Evaluator, metrics *metric.Metrics, logger *slog.Logger) http.Handler {
	s := &apiServer{svc: svc, metrics: metrics, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/evaluate", s.handleEvaluate)
		r.Post("/evaluate/batch", s.handleBatch)
		r.Get("/cache/stats", s.handleStats)
		r.Delete("/cache", s.handleClear)
		r.Delete("/cache/{fen}", s.handleInvalidate)
	})

	return r
}

// instrument records request metrics by route pattern and logs each request.
func (s *apiServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		duration := time.Since(start)

		if s.metrics != nil {
			s.metrics.RecordRequest(route, r.Method, status, duration)
		}
		s.logger.Debug("Request served",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", duration,
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *apiServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	fen := r.URL.Query().Get("fen")
	if fen == "" {
		s.writeError(w, errs.WrapInvalid(fmt.Errorf("%w: missing fen parameter", errs.ErrInvalidData), "api", "Evaluate", "read query"))
		return
	}

	eval, err := s.svc.Evaluate(r.Context(), fen)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

func (s *apiServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody)).Decode(&req); err != nil {
		s.writeError(w, errs.WrapInvalid(errs.ErrParsingFailed, "api", "EvaluateBatch", "decode body"))
		return
	}

	results, err := s.svc.EvaluateBatch(r.Context(), req.FENs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

func (s *apiServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats())
}

func (s *apiServer) handleClear(w http.ResponseWriter, _ *http.Request) {
	s.svc.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	fen, err := url.PathUnescape(chi.URLParam(r, "fen"))
	if err != nil {
		s.writeError(w, errs.WrapInvalid(errs.ErrInvalidData, "api", "Invalidate", "unescape fen"))
		return
	}

	removed, err := s.svc.Invalidate(fen)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.svc.Health()
	writeJSON(w, status.HTTPStatus(), status)
}

// writeError maps the error class to a status code. Unknown positions are 404.
func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	var code int
	switch {
	case errs.IsInvalid(err) && errors.Is(err, errs.ErrNotFound):
		code = http.StatusNotFound
	case errs.IsInvalid(err):
		code = http.StatusBadRequest
	case errs.IsTransient(err):
		code = http.StatusServiceUnavailable
	default:
		code = http.StatusInternalServerError
		s.logger.Error("Request failed", "error", err)
	}

	writeJSON(w, code, errorResponse{
		Error: err.Error(),
		Class: errs.Classify(err).String(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
