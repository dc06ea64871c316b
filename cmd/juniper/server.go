package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/juniperhq/juniper/api/handlers"
	"github.com/juniperhq/juniper/assistant"
	"github.com/juniperhq/juniper/config"
	"github.com/juniperhq/juniper/decompose"
	"github.com/juniperhq/juniper/expert"
	"github.com/juniperhq/juniper/internal/metrics"
	"github.com/juniperhq/juniper/internal/server"
	"github.com/juniperhq/juniper/internal/telemetry"
	"github.com/juniperhq/juniper/memory"
	"github.com/juniperhq/juniper/orchestrate"
	"github.com/juniperhq/juniper/types"
)

// Server wires the assistant pipeline behind the HTTP API and manages
// startup and graceful shutdown of every component.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	store         memory.Store
	memoryManager *memory.Manager
	registry      *expert.Registry
	service       *assistant.Service

	assistHandler *handlers.AssistHandler
	memoryHandler *handlers.MemoryHandler
	healthHandler *handlers.HealthHandler

	collector     *metrics.Collector
	otelProviders *telemetry.Providers
	watcher       *config.FileWatcher

	sweepCancel       context.CancelFunc
	rateLimiterCancel context.CancelFunc
}

// NewServer creates a server from validated configuration. configPath
// may be empty; when set, expert registrations reload on file change.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		configPath:    configPath,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// Start brings up the pipeline, the HTTP server, and the metrics
// server.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("juniper", nil, s.logger)

	if err := s.initPipeline(); err != nil {
		return fmt.Errorf("failed to init pipeline: %w", err)
	}
	s.initHandlers()
	s.initConfigWatcher()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("memory_backend", s.cfg.Memory.Backend),
	)
	return nil
}

// initPipeline builds the memory manager, expert invocation chain,
// decomposer, engine, and assistant service.
func (s *Server) initPipeline() error {
	store, err := memory.NewStore(s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.store = store
	s.memoryManager = memory.NewManager(store, s.cfg.Memory, s.logger)

	sweepCtx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	if err := s.memoryManager.Start(sweepCtx); err != nil {
		return err
	}

	s.registry = expert.NewRegistryFromConfig(s.cfg.Experts, s.logger)

	local := expert.NewLocalInvoker(s.logger)
	remote := expert.NewHTTPInvoker(s.registry, s.logger)
	var invoker expert.Invoker = expert.NewDispatchInvoker(s.registry, local, remote, s.logger)
	invoker = expert.NewRateLimitedInvoker(invoker, s.registry)

	decomposer := decompose.NewDecomposer(s.registry, nil, s.cfg.Orchestrator, s.logger)
	engine := orchestrate.NewEngine(invoker, s.cfg.Orchestrator, s.logger,
		orchestrate.WithObserver(s.collector))

	s.service = assistant.NewService(s.memoryManager, decomposer, engine, s.logger)
	return nil
}

func (s *Server) initHandlers() {
	s.assistHandler = handlers.NewAssistHandler(s.service, s.logger)
	s.memoryHandler = handlers.NewMemoryHandler(s.memoryManager, s.logger)

	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("store", func(ctx context.Context) error {
		_, err := s.store.EpisodesByStatus(ctx, types.EpisodeActive, 1)
		return err
	}))
}

// initConfigWatcher reloads expert registrations when the config file
// changes. Server settings still require a restart.
func (s *Server) initConfigWatcher() {
	if s.configPath == "" {
		return
	}

	s.watcher = config.NewFileWatcher([]string{s.configPath}, 10*time.Second, s.logger)
	s.watcher.OnChange(func(event config.FileEvent) {
		cfg, err := config.NewLoader().WithConfigPath(s.configPath).Load()
		if err != nil {
			s.logger.Error("config reload failed", zap.Error(err))
			return
		}
		s.registry.Load(cfg.Experts)
		s.logger.Info("expert registry reloaded",
			zap.String("path", event.Path),
			zap.Int("experts", len(cfg.Experts.Entries)))
	})
	s.watcher.Start(context.Background())
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, GitCommit))

	mux.HandleFunc("POST /v1/assist", s.assistHandler.HandleAssist)
	mux.HandleFunc("POST /v1/assist/stream", s.assistHandler.HandleAssistStream)
	mux.HandleFunc("GET /v1/assist/ws", s.assistHandler.HandleAssistWS)

	mux.HandleFunc("POST /v1/memory/facts", s.memoryHandler.HandleRemember)
	mux.HandleFunc("POST /v1/memory/recall", s.memoryHandler.HandleRecall)
	mux.HandleFunc("GET /v1/episodes/{id}", s.memoryHandler.HandleEpisode)

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
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
		WriteTimeout:    s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.metricsManager.Start()
}

// WaitForShutdown blocks until a termination signal, then shuts
// everything down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops components in dependency order: listeners first, then
// the pipeline, then telemetry.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.watcher != nil {
		s.watcher.Stop()
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

	if s.memoryManager != nil {
		s.memoryManager.Stop()
	}
	if s.sweepCancel != nil {
		s.sweepCancel()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("store close error", zap.Error(err))
		}
	}

	if s.otelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.otelProviders.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	s.logger.Info("Graceful shutdown completed")
}
