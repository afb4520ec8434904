// Package api exposes the admin/observability HTTP surface: pool
// listing and stats, health and readiness probes, and Prometheus
// metrics. The surface is read-only by design — pools are defined in
// config, not created over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbcore/dbcore/config"
	"github.com/dbcore/dbcore/health"
	"github.com/dbcore/dbcore/metrics"
	"github.com/dbcore/dbcore/pool"
)

// Server is the admin REST API and metrics server.
type Server struct {
	manager     *pool.Manager
	healthCheck *health.Checker
	metrics     *metrics.Collector
	httpServer  *http.Server
	startTime   time.Time
	apiCfg      config.APIConfig
}

// NewServer creates a Server. It does not start listening until Start
// is called.
func NewServer(m *pool.Manager, hc *health.Checker, mc *metrics.Collector, apiCfg config.APIConfig) *Server {
	return &Server{
		manager:     m,
		healthCheck: hc,
		metrics:     mc,
		startTime:   time.Now(),
		apiCfg:      apiCfg,
	}
}

// Routes builds the route table. Split out from Start so tests can
// drive the handlers through httptest without binding a listener.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/pools", s.listPools).Methods("GET")
	r.HandleFunc("/pools/{name}", s.getPool).Methods("GET")
	r.HandleFunc("/pools/{name}/stats", s.poolStats).Methods("GET")

	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")

	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	return r
}

// Start begins serving in the background.
func (s *Server) Start() error {
	r := s.Routes()

	addr := fmt.Sprintf("%s:%d", s.apiCfg.Bind, s.apiCfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	slog.Info("admin API listening", "addr", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin API server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

type poolResponse struct {
	Name   string            `json:"name"`
	Driver string            `json:"driver"`
	Stats  pool.Stats        `json:"stats"`
	Health health.PoolHealth `json:"health"`
}

func (s *Server) listPools(w http.ResponseWriter, r *http.Request) {
	var result []poolResponse
	for _, ns := range s.manager.AllStats() {
		result = append(result, poolResponse{
			Name:   ns.Name,
			Driver: ns.Driver.String(),
			Stats:  ns.Stats,
			Health: s.healthCheck.GetStatus(ns.Name),
		})
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	kinds := s.manager.List()
	kind, ok := kinds[name]
	if !ok {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	p, _ := s.manager.Get(name)
	writeJSON(w, http.StatusOK, poolResponse{
		Name:   name,
		Driver: kind.String(),
		Stats:  p.Stats(),
		Health: s.healthCheck.GetStatus(name),
	})
}

func (s *Server) poolStats(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	p, ok := s.manager.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	writeJSON(w, http.StatusOK, p.Stats())
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	statuses := s.healthCheck.GetAllStatuses()
	allHealthy := s.healthCheck.OverallHealthy()

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status": boolToStatus(allHealthy),
		"pools":  statuses,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	pools := s.manager.List()
	if len(pools) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	for name := range pools {
		if s.healthCheck.IsHealthy(name) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}

	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"num_pools":      len(s.manager.List()),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
