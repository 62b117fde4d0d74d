package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/delahq/dela/api"
	"github.com/delahq/dela/api/handlers"
	"github.com/delahq/dela/config"
	"github.com/delahq/dela/engine"
	"github.com/delahq/dela/graph"
	"github.com/delahq/dela/internal/metrics"
	"github.com/delahq/dela/internal/server"
	"github.com/delahq/dela/internal/telemetry"
	"github.com/delahq/dela/notify"
	"github.com/delahq/dela/store"
)

// Server assembles the engine and its two listeners: the API server and the
// Prometheus metrics server.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	stores    *store.Stores
	engine    *engine.Engine
	collector *metrics.Collector
	telemetry *telemetry.Providers

	httpManager    *server.Manager
	metricsManager *server.Manager

	rateLimiterCancel context.CancelFunc
}

// NewServer creates the server from loaded configuration.
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) *Server {
	return &Server{cfg: cfg, logger: logger, telemetry: providers}
}

// Start opens the stores, assembles the engine, and starts both listeners.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("dela", s.logger)

	stores, err := store.Open(s.cfg.Store, s.logger)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	s.stores = stores

	s.engine = engine.New(
		s.cfg.Engine,
		stores,
		graph.NewInMemoryStore(s.logger),
		newLoggingExecutor(s.logger),
		notify.NewLogSink(s.logger),
		s.collector,
		s.logger,
	)

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("store_type", s.cfg.Store.Type),
	)
	return nil
}

func (s *Server) startHTTPServer() error {
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewPingCheck("step_log", func(ctx context.Context) error {
		_, err := s.stores.Steps.Steps(ctx, "_readyz", 1)
		return err
	}))

	mux := api.NewRouter(s.engine, health, s.logger)

	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return s.metricsManager.Start()
}

// WaitForShutdown blocks until a shutdown signal arrives, then tears down in
// order: listeners first, then the engine, then the stores.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops all components gracefully.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	if s.engine != nil {
		if err := s.engine.Close(ctx); err != nil {
			s.logger.Error("Engine shutdown error", zap.Error(err))
		}
	}
	if s.stores != nil {
		if err := s.stores.Close(); err != nil {
			s.logger.Error("Store shutdown error", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}
}
