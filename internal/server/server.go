// Package server exposes coaching turns over HTTP and live session events
// over websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/ChamsBouzaiene/spotter/internal/config"
	"github.com/ChamsBouzaiene/spotter/internal/stream"
)

// Server is the HTTP server that wires all routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	hub        *Hub
}

// New creates a Server. The context bounds background middleware work such
// as rate limiter cleanup.
func New(ctx context.Context, cfg config.ServerConfig, coach Coach, broker stream.Broker, logger zerolog.Logger) *Server {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router: router,
		hub:    NewHub(coach, broker, logger),
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}

	authenticated := func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(Auth(cfg.JWTSecret))
		}
	}

	router.Route("/api/v1", func(r chi.Router) {
		authenticated(r)
		r.Use(RateLimit(ctx, cfg.RatePerMinute))

		apiConfig := huma.DefaultConfig("Spotter API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		registerRoutes(api, coach)
	})

	router.Route("/ws", func(r chi.Router) {
		authenticated(r)
		r.Get("/sessions/{id}", s.hub.ServeSession)
	})

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	logger.Info().Str("addr", cfg.Addr).Bool("auth", cfg.JWTSecret != "").Msg("http server configured")
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
