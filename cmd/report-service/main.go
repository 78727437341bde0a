package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/dejavuplus/engine/internal/common/config"
	logutil "github.com/dejavuplus/engine/internal/common/logger"
	"github.com/dejavuplus/engine/internal/common/metricsserver"
	"github.com/dejavuplus/engine/internal/common/redis"
	"github.com/dejavuplus/engine/internal/report/cache"
	"github.com/dejavuplus/engine/internal/report/ledger"
	"github.com/dejavuplus/engine/internal/report/metrics"
	"github.com/dejavuplus/engine/internal/report/pipeline"
	"github.com/dejavuplus/engine/internal/report/render"
	"github.com/dejavuplus/engine/internal/report/render/chrome"
	"github.com/dejavuplus/engine/internal/report/server"
	"github.com/dejavuplus/engine/internal/report/translate"
	"github.com/dejavuplus/engine/internal/report/upstream"
)

func main() {
	// Parse command line flags
	configPath := flag.String("c", "configs/report-service.yaml",
		"Path to report service configuration file")
	flag.Parse()

	// Initialize logger (will be reconfigured from config)
	initialLogger, err := logutil.NewDefaultLogger()
	if err != nil {
		panic(err)
	}

	// Load configuration
	initialLogger.Info("Loading configuration", zap.String("path", *configPath))

	absPath, err := config.GetConfigPath(*configPath)
	if err != nil {
		initialLogger.Fatal("Invalid config path", zap.Error(err))
	}

	cfg, err := config.Load(absPath)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Reconfigure logger based on config settings (uses INFO level during startup if configured level is higher)
	dynamicLogger, err := logutil.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}

	logger := dynamicLogger.Logger

	logger.Info("Report Service starting",
		zap.String("listen", cfg.Server.Listen),
		zap.String("render_pool_size", cfg.Render.PoolSize),
		zap.Int("translate_backends", len(cfg.Translate.Backends)))

	redisClient, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Credit ledger
	creditLedger := ledger.New(redisClient, cfg.Ledger.MaxEntries, cfg.Ledger.EntryTTL.ToDuration(), logger)

	// Translation
	translator, err := translate.NewTranslator(&cfg.Translate, logger)
	if err != nil {
		logger.Fatal("Failed to create translator", zap.Error(err))
	}

	// Rendering
	chromeConfig := chrome.FromService(&cfg.Render)
	if err := chromeConfig.Validate(); err != nil {
		logger.Fatal("Invalid render configuration", zap.Error(err))
	}

	logger.Info("Initializing render pool")
	pool, err := chrome.NewPool(chromeConfig, logger)
	if err != nil {
		logger.Fatal("Failed to create render pool", zap.Error(err))
	}

	renderer := render.NewRenderer(pool, chromeConfig, cfg.Render.MinDocumentSize, logger)

	// Fingerprint caches
	rawCache := cache.New(cfg.Cache.RawTTL.ToDuration(), cfg.Cache.Compression, logger)
	docCache := cache.New(cfg.Cache.DocumentTTL.ToDuration(), cfg.Cache.Compression, logger)

	// Upstream client and pipeline
	fetcher := upstream.NewClient(&cfg.Upstream, logger)
	reportPipeline := pipeline.New(fetcher, translator, renderer, rawCache, docCache, logger)

	// Metrics
	metricsCollector := metrics.NewMetricsCollector(cfg.Metrics.Namespace, logger)

	metricsServer, err := metricsserver.StartMetricsServer(
		cfg.Metrics.Enabled,
		cfg.Metrics.Listen,
		cfg.Metrics.Path,
		metricsCollector,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	// HTTP server
	httpHandler := server.CreateHTTPHandler(&server.Deps{
		Generator: reportPipeline,
		Billing:   creditLedger,
		Store:     redisClient,
		Pool:      pool,
		Metrics:   metricsCollector,
		Logger:    logger,
	})

	serverTimeout := cfg.Server.Timeout.ToDuration()
	httpServer := &fasthttp.Server{
		Handler:      httpHandler,
		ReadTimeout:  serverTimeout,
		WriteTimeout: serverTimeout,
		IdleTimeout:  serverTimeout,
		Name:         "ReportService",
		// Finished reports run large; give uploads headroom too
		MaxRequestBodySize: 1 * 1024 * 1024,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("listen", cfg.Server.Listen))
		if err := httpServer.ListenAndServe(cfg.Server.Listen); err != nil {
			serverErrCh <- err
		}
	}()

	// Wait briefly for HTTP server to start listening
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErrCh:
		logger.Fatal("HTTP server failed to start", zap.Error(err))
	default:
	}

	logger.Info("Report Service fully ready",
		zap.String("listen", cfg.Server.Listen),
		zap.Int("render_pool_size", pool.Size()))

	// Switch to configured log level after startup is complete
	dynamicLogger.SwitchToConfiguredLevel()

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		logger.Error("Server error", zap.Error(err))
	}

	dynamicLogger.EnsureInfoLevelForShutdown()
	logger.Info("Shutting down gracefully...")

	// Shutdown separate metrics server if exists
	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.ShutdownWithContext(metricsShutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", zap.Error(err))
		} else {
			logger.Info("Metrics server shutdown complete")
		}
		metricsShutdownCancel()
	}

	// Graceful HTTP server shutdown - complete in-flight requests
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	// Shutdown render pool last: in-flight requests may still hold handles
	if err := pool.Shutdown(); err != nil {
		logger.Error("Render pool shutdown error", zap.Error(err))
	}

	logger.Info("Report Service stopped")
}
