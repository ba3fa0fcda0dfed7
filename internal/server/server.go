// Package server exposes the reconciliation engine over HTTP: document
// intake, entity and category toggles, previews, annotation listings and
// flattened exports. Every mutating endpoint funnels through the owning
// job's operation queue.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/doc-sentinel/internal/audit"
	"github.com/raaihank/doc-sentinel/internal/config"
	"github.com/raaihank/doc-sentinel/internal/event"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/metrics"
	"github.com/raaihank/doc-sentinel/internal/session"
)

// Server is the HTTP front of the service. A nil audit recorder disables
// the trail; a nil hub disables event broadcasting.
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	jobs    *session.Manager
	hub     *event.Hub
	audit   *audit.Recorder
	metrics *metrics.Metrics
	router  *mux.Router
	server  *http.Server
}

// New wires the server from its collaborators.
func New(cfg *config.Config, jobs *session.Manager, hub *event.Hub, rec *audit.Recorder, met *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("server"),
		jobs:    jobs,
		hub:     hub,
		audit:   rec,
		metrics: met,
		router:  mux.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.recoveryMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)

	api.HandleFunc("/documents/text", s.handleAnalyzeText).Methods("POST")
	api.HandleFunc("/documents", s.handleUploadDocument).Methods("POST")

	api.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/jobs/{job_id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{job_id}", s.handleDeleteJob).Methods("DELETE")
	api.HandleFunc("/jobs/{job_id}/categories", s.handleCategories).Methods("GET")
	api.HandleFunc("/jobs/{job_id}/entities/{entity_id}/toggle", s.handleToggleEntity).Methods("POST")
	api.HandleFunc("/jobs/{job_id}/categories/{category}/toggle", s.handleToggleCategory).Methods("POST")
	api.HandleFunc("/jobs/{job_id}/entities/{entity_id}/preview", s.handlePreviewEntity).Methods("POST")
	api.HandleFunc("/jobs/{job_id}/preview", s.handleClearPreview).Methods("DELETE")
	api.HandleFunc("/jobs/{job_id}/redactions", s.handleClearRedactions).Methods("DELETE")
	api.HandleFunc("/jobs/{job_id}/annotations", s.handleAnnotations).Methods("GET")
	api.HandleFunc("/jobs/{job_id}/export", s.handleExport).Methods("POST")
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("Starting doc-sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.String("detection_endpoint", s.config.Detection.Endpoint),
		zap.Bool("cache_enabled", s.config.Cache.Enabled),
		zap.Bool("audit_enabled", s.config.Audit.Enabled),
	)
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping doc-sentinel server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":          "doc-sentinel",
		"version":       "0.1.0",
		"jobs_live":     s.jobs.Len(),
		"cache_enabled": s.config.Cache.Enabled,
		"audit_enabled": s.config.Audit.Enabled,
	})
}

// handleWebSocket hands the connection to the event hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "events disabled", http.StatusNotImplemented)
		return
	}
	s.hub.HandleWebSocket(w, r)
}
