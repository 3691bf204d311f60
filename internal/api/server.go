// Package api serves the worker's operational endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/langboard/botengine/internal/api/handlers"
	"github.com/langboard/botengine/internal/api/middleware"
	"github.com/langboard/botengine/internal/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type Server struct {
	router     *chi.Mux
	httpServer *http.Server
}

func NewServer(addr, service string, db *gorm.DB, redisClient *redis.Client) *Server {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(middleware.Logger())
	router.Use(middleware.Recoverer())
	router.Use(metrics.MetricsMiddleware)
	router.Use(chimiddleware.Timeout(10 * time.Second))

	health := handlers.NewHealthHandler(service, db, redisClient)
	router.Get("/healthz", health.Live)
	router.Get("/readyz", health.Ready)
	router.Handle("/metrics", metrics.Handler())

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start serves in the background. Listen errors other than a clean close
// are fatal.
func (s *Server) Start() {
	log.Info().Str("addr", s.httpServer.Addr).Msg("Starting ops HTTP server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	log.Info().Msg("Ops HTTP server stopped")
	return nil
}

func (s *Server) Router() *chi.Mux {
	return s.router
}
