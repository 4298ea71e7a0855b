package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/naipunyaailabs/sts/internal/config"
	"github.com/naipunyaailabs/sts/internal/logging"
	"github.com/naipunyaailabs/sts/internal/metrics"
	"github.com/naipunyaailabs/sts/internal/models"
	"github.com/naipunyaailabs/sts/internal/pipeline"
	"github.com/naipunyaailabs/sts/internal/ratelimit"
	"github.com/naipunyaailabs/sts/internal/server"
)

const (
	serviceName    = "sts-gateway"
	serviceVersion = "1.0.0"
	modelLoadLimit = 5 * time.Minute
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (defaults and environment only when empty)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("http_address", cfg.HTTP.Address),
		slog.String("engine", cfg.Engines.Kind),
		slog.String("stt_model", cfg.Engines.STTModel),
		slog.Bool("auth", cfg.Gateway.APIKey != ""),
		slog.Int("max_upload_mb", cfg.Gateway.MaxUploadMB),
		slog.Bool("eager_load", cfg.Gateway.EagerLoad),
		slog.Int("rate_limit", cfg.Gateway.RateLimit),
		slog.Int("rate_window", cfg.Gateway.RateWindow),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(nil)
	logger.Info("Prometheus metrics initialized")

	loader := models.NewLoader(models.NewFactory(cfg, appMetrics, logger), modelLoadLimit, appMetrics, logger)
	defer loader.Close()

	bus := pipeline.NewBus()
	defer bus.Close()
	orchestrator := pipeline.NewOrchestrator(loader, bus, pipeline.Options{}, appMetrics, logger)

	limiter, err := ratelimit.New(cfg.Gateway.RateLimit, cfg.Gateway.GetRateWindowDuration())
	if err != nil {
		logger.Error("Failed to create rate limiter", slog.String("error", err.Error()))
		os.Exit(1)
	}
	go pruneLimiter(ctx, limiter)

	gateway := server.NewGateway(server.GatewayConfig{
		Address:         net.JoinHostPort(cfg.HTTP.Address, strconv.Itoa(cfg.HTTP.Port)),
		APIKey:          cfg.Gateway.APIKey,
		MaxUploadBytes:  cfg.Gateway.GetMaxUploadBytes(),
		EagerLoad:       cfg.Gateway.EagerLoad,
		InputSampleRate: cfg.Audio.InputSampleRate,
		ReadTimeout:     cfg.HTTP.GetReadTimeoutDuration(),
		WriteTimeout:    cfg.HTTP.GetWriteTimeoutDuration(),
	}, loader, orchestrator, limiter, appMetrics, logger)

	if err := gateway.Start(); err != nil {
		logger.Error("Failed to start HTTP gateway", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Eager mode loads in the background; /ready reports 503 until done.
	if cfg.Gateway.EagerLoad {
		go preload(ctx, loader, logger)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := gateway.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP gateway", slog.String("error", err.Error()))
	}
	cancel()

	status := loader.Status()
	logger.Info("Final service statistics",
		slog.Bool("models_loaded", status.Loaded),
		slog.Int64("load_attempts", status.Attempts),
		slog.Uint64("dropped_events", bus.Dropped()),
	)

	logger.Info("Service stopped")
}

// preload loads the models, retrying until it succeeds or ctx is done
func preload(ctx context.Context, loader *models.Loader, logger *slog.Logger) {
	const retryDelay = 30 * time.Second

	for {
		_, err := loader.Get(ctx)
		if err == nil {
			return
		}
		logger.Warn("Eager model load failed, retrying",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", retryDelay),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

// pruneLimiter forgets idle clients once per window
func pruneLimiter(ctx context.Context, limiter *ratelimit.Window) {
	ticker := time.NewTicker(limiter.Period())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			limiter.Prune(now)
		}
	}
}
