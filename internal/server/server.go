package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/therealutkarshpriyadarshi/nodewatch/internal/health"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/nodewatch/pkg/types"
)

// API routes
const (
	StatsPath     = "/api/eth-node-stats"
	HealthPath    = "/api/health"
	ReadinessPath = "/api/health/ready"
)

// Builder produces the snapshot served by the stats endpoint
type Builder interface {
	Build(ctx context.Context) (*types.NodeStats, error)
}

// RequestObserver receives per-request telemetry
type RequestObserver interface {
	ObserveRequest(route, method, code string, duration time.Duration)
	ObserveRateLimited()
}

// Config holds server configuration
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	StaticDir    string
	RateLimit    int
	Profiling    bool
	MetricsPath  string
	Metrics      http.Handler
	Builder      Builder
	Health       *health.Checker
	Observer     RequestObserver
	Logger       *logging.Logger
}

// Server serves the dashboard API
type Server struct {
	config   Config
	router   chi.Router
	server   *http.Server
	listener net.Listener
	logger   *logging.Logger
}

// New creates a new server and builds its router
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Health == nil {
		cfg.Health = health.NewChecker(0)
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger.WithComponent("server"),
	}
	s.router = s.routes()

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.logger, s.config.Observer))
	r.Use(recovery(s.logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(cors)
		if s.config.RateLimit > 0 {
			r.Use(newRateLimiter(s.config.RateLimit, s.config.Observer, s.logger).middleware)
		}

		r.Get("/eth-node-stats", s.handleStats)
		r.Get("/health", s.config.Health.LivenessHandler())
		r.Get("/health/ready", s.config.Health.ReadinessHandler())
	})

	if s.config.Metrics != nil {
		r.Handle(s.config.MetricsPath, s.config.Metrics)
	}

	if s.config.Profiling {
		r.Mount("/debug", chimiddleware.Profiler())
	}

	if s.config.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.config.StaticDir)))
	}

	return r
}

// Handler returns the server's router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.listener = ln

	s.logger.Info().
		Str("address", ln.Addr().String()).
		Msg("Starting HTTP server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// Name implements shutdown.Component
func (s *Server) Name() string {
	return "http-server"
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}
	return nil
}
