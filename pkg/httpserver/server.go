// Package httpserver exposes metrics, health probes and a read-only
// positions API.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/avivsh/polystrat/internal/positions"
	"github.com/avivsh/polystrat/internal/riskguard"
	"github.com/avivsh/polystrat/pkg/healthprobe"
)

// Server provides HTTP endpoints for metrics, health checks and positions.
type Server struct {
	server        *http.Server
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
}

// Config holds server configuration.
type Config struct {
	Port          string
	Logger        *zap.Logger
	HealthChecker *healthprobe.HealthChecker
	Stores        []*positions.Store // one per account, read-only
	Guard         *riskguard.Guard   // optional
}

// New creates the HTTP server.
func New(cfg *Config) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", cfg.HealthChecker.Health())
	r.Get("/ready", cfg.HealthChecker.Ready())
	r.Get("/api/positions", positionsHandler(cfg.Stores))

	if cfg.Guard != nil {
		r.Get("/api/risk", riskHandler(cfg.Guard))
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		server:        server,
		logger:        cfg.Logger,
		healthChecker: cfg.HealthChecker,
	}
}

func positionsHandler(stores []*positions.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type accountPositions struct {
			Path      string      `json:"store_path"`
			Count     int         `json:"count"`
			Committed float64     `json:"committed_usd"`
			Positions interface{} `json:"positions"`
		}

		out := make([]accountPositions, 0, len(stores))
		for _, store := range stores {
			out = append(out, accountPositions{
				Path:      store.Path(),
				Count:     store.Count(),
				Committed: store.CommittedCapital(),
				Positions: store.GetAll(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

func riskHandler(guard *riskguard.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(guard.GetStatus())
	}
}

// Start blocks until the server stops or fails.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
