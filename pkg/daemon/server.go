package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/shaneisley/patience-gate/pkg/logging"
	"github.com/shaneisley/patience-gate/pkg/monitoring"
	"github.com/shaneisley/patience-gate/pkg/storage"
)

// Server is the HTTP status server
type Server struct {
	backend    Backend
	storage    *storage.MetricsStorage
	addr       string
	logger     *logging.Logger
	monitor    *monitoring.ResourceMonitor
	listener   net.Listener
	httpServer *http.Server
}

// NewServer creates a status server bound to addr once Listen is called
func NewServer(backend Backend, storage *storage.MetricsStorage, addr string, logger *logging.Logger) *Server {
	s := &Server{
		backend: backend,
		storage: storage,
		addr:    addr,
		logger:  logger,
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetMonitor makes /health report degraded while resource limits are exceeded
func (s *Server) SetMonitor(monitor *monitoring.ResourceMonitor) {
	s.monitor = monitor
}

// Handler returns the status routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Route("/api/metrics", func(r chi.Router) {
		r.Get("/recent", s.handleRecentMetrics)
		r.Get("/stats", s.handleAggregatedStats)
		r.Get("/export", s.handleExportMetrics)
	})
	return r
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLogger logs every request at debug level
func requestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status,
				"duration", time.Since(start),
			)
		})
	}
}

// Listen binds the listening socket so address errors surface at startup
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.logger.Info("HTTP status server listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Listen
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Serve blocks serving requests until Stop
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.monitor != nil {
		if err := s.monitor.CheckLimits(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status":    "degraded",
				"reason":    err.Error(),
				"timestamp": time.Now().Unix(),
			})
			return
		}
	}
	writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// handleStats handles GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.backend.Stats(r.Context()))
}

// handleRecentMetrics handles GET /api/metrics/recent
func (s *Server) handleRecentMetrics(w http.ResponseWriter, r *http.Request) {

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	recent := s.storage.GetRecent(limit)
	writeJSON(w, map[string]interface{}{
		"metrics": recent,
		"count":   len(recent),
	})
}

// handleAggregatedStats handles GET /api/metrics/stats
func (s *Server) handleAggregatedStats(w http.ResponseWriter, r *http.Request) {

	now := time.Now()
	start := now.Add(-24 * time.Hour)
	end := now

	if startStr := r.URL.Query().Get("start"); startStr != "" {
		parsed, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			http.Error(w, "start must be RFC3339", http.StatusBadRequest)
			return
		}
		start = parsed
	}
	if endStr := r.URL.Query().Get("end"); endStr != "" {
		parsed, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			http.Error(w, "end must be RFC3339", http.StatusBadRequest)
			return
		}
		end = parsed
	}

	writeJSON(w, s.storage.GetAggregatedStats(start, end))
}

// handleExportMetrics handles GET /api/metrics/export
func (s *Server) handleExportMetrics(w http.ResponseWriter, r *http.Request) {

	data, err := s.storage.ExportJSON()
	if err != nil {
		s.logger.LogError("export_metrics", err)
		http.Error(w, "Failed to export metrics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=patience-gate-metrics-%s.json", time.Now().Format("2006-01-02")))
	w.Write(data)
}
