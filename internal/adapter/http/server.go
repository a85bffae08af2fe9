// Package http serves the operational endpoints of an engine run: liveness,
// readiness, Prometheus metrics and the summary of the last completed run.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/storm-overlap-engine/internal/pipeline"
)

// RunStatus reports on the pipeline behind the server. *pipeline.Pipeline
// implements it.
type RunStatus interface {
	CheckReadiness(ctx context.Context) error
	LastRun() *pipeline.Summary
}

// Server exposes /healthz, /readyz, /metrics and /runs/latest.
type Server struct {
	httpServer *http.Server
	status     RunStatus
	logger     *slog.Logger
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, status RunStatus, logger *slog.Logger) *Server {
	s := &Server{status: status, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /runs/latest", s.handleLatestRun)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.logRequests(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start listens until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains open connections until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP routes one request without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.status.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	body := map[string]string{"status": "ready"}
	if sum := s.status.LastRun(); sum != nil {
		body["run_id"] = sum.RunID
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleLatestRun(w http.ResponseWriter, _ *http.Request) {
	sum := s.status.LastRun()
	if sum == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "no completed run"})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}
