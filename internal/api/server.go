// Package api provides the read-only HTTP API over the volume adapters.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/models"
	"github.com/subgraph-volume/internal/service"
	"github.com/subgraph-volume/internal/types"
)

// VolumeServiceInterface defines the volume operations served by the API
type VolumeServiceInterface interface {
	Info() *service.AdapterInfo
	Fetch(ctx context.Context, chain types.ChainID, timestamp int64) (*types.VolumeResult, error)
	Start(ctx context.Context, chain types.ChainID) (int64, error)
	History(ctx context.Context, chain types.ChainID, from, to time.Time) ([]*models.DailyVolume, error)
	Stats() *service.FetchStats
}

// PingFunc checks that a dependency is reachable
type PingFunc func(ctx context.Context) error

// Server represents the HTTP API server.
type Server struct {
	router        *mux.Router
	httpServer    *http.Server
	volumeService VolumeServiceInterface
	dependencies  map[string]PingFunc
	config        *ServerConfig
	now           func() time.Time
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RPS             int // Requests per second per client
}

// NewServer creates a new API server instance. dependencies are pinged by the
// health check and may be nil.
func NewServer(config *ServerConfig, volumeService VolumeServiceInterface, dependencies map[string]PingFunc) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		volumeService: volumeService,
		dependencies:  dependencies,
		config:        config,
		now:           time.Now,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RPS)

	// order matters
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/adapters", s.handleGetAdapters).Methods("GET", "OPTIONS")
	api.HandleFunc("/volume/{chain}", s.handleGetVolume).Methods("GET", "OPTIONS")
	api.HandleFunc("/volume/{chain}/start", s.handleGetStart).Methods("GET", "OPTIONS")
	api.HandleFunc("/volume/{chain}/history", s.handleGetHistory).Methods("GET", "OPTIONS")
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Info(fmt.Sprintf("Starting API server on %s", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
