// Package server exposes the pseudonymization engine over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/veilware/textveil/internal/config"
	"github.com/veilware/textveil/internal/events"
	"github.com/veilware/textveil/internal/logger"
	"github.com/veilware/textveil/internal/pseudonymizer"
)

// Server is the HTTP front end around the engine.
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	engine  *pseudonymizer.Engine
	hub     *events.Hub
	router  *mux.Router
	server  *http.Server
	limiter *clientLimiter
}

// New creates the HTTP server. hub may be nil when the event surface is
// disabled.
func New(cfg *config.Config, engine *pseudonymizer.Engine, hub *events.Hub, log *logger.Logger) *Server {
	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("server"),
		engine:  engine,
		hub:     hub,
		router:  mux.NewRouter(),
		limiter: newClientLimiter(cfg.Server.RateLimit),
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
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if s.hub != nil && s.config.Events.Enabled {
		s.router.HandleFunc(s.config.Events.Path, s.hub.HandleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/pseudonymize", s.handlePseudonymize).Methods("POST")
	api.HandleFunc("/detect-language", s.handleDetectLanguage).Methods("POST")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/import", s.handleImportMappings).Methods("POST")
	api.HandleFunc("/sessions/{id}/mappings", s.handleGetMappings).Methods("GET")
	api.HandleFunc("/sessions/{id}/export", s.handleExportMappings).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleClearSession).Methods("DELETE")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting textveil server", zap.Int("port", s.config.Server.Port))
	if s.hub != nil && s.config.Events.Enabled {
		go s.hub.Run()
	}
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping textveil server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo reports service capabilities and session count.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":                "textveil",
		"version":             "0.1.0",
		"supported_languages": s.engine.SupportedLanguages(),
		"detectors":           s.engine.EnabledDetectors(),
		"model_enabled":       s.config.Model.Enabled,
		"session_count":       len(s.engine.ListSessions()),
	})
}
