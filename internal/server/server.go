// Package server provides the realtime gateway HTTP API: document
// open/update, session control, command submission and the SSE event
// stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/codewave-dev/codewave/internal/docsync"
	"github.com/codewave-dev/codewave/internal/pubsub"
	"github.com/codewave-dev/codewave/internal/queue"
	"github.com/codewave-dev/codewave/internal/session"
)

// Config holds server configuration.
type Config struct {
	Port         int
	Hostname     string
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		Hostname:     "127.0.0.1",
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// Server is the HTTP gateway.
type Server struct {
	config   *Config
	router   *chi.Mux
	httpSrv  *http.Server
	docs     *docsync.Service
	queue    *queue.Queue
	sessions *session.Manager
	bus      *pubsub.Bus
}

// New creates a Server instance.
func New(cfg *Config, docs *docsync.Service, q *queue.Queue, sessions *session.Manager, bus *pubsub.Bus) *Server {
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		docs:     docs,
		queue:    q,
		sessions: sessions,
		bus:      bus,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	// Request ID
	s.router.Use(middleware.RequestID)

	// Logging
	s.router.Use(middleware.Logger)

	// Recover from panics
	s.router.Use(middleware.Recoverer)

	// Real IP
	s.router.Use(middleware.RealIP)

	// CORS
	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Codewave-Connection"},
			ExposedHeaders:   []string{"X-Request-ID", "X-Codewave-Connection"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Hostname, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
