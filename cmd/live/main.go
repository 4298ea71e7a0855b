package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/naipunyaailabs/sts/internal/audio"
	"github.com/naipunyaailabs/sts/internal/config"
	"github.com/naipunyaailabs/sts/internal/logging"
	"github.com/naipunyaailabs/sts/internal/metrics"
	"github.com/naipunyaailabs/sts/internal/models"
	"github.com/naipunyaailabs/sts/internal/pipeline"
	"github.com/naipunyaailabs/sts/internal/realtime"
	"github.com/naipunyaailabs/sts/internal/server"
)

const (
	serviceName    = "sts-live"
	serviceVersion = "1.0.0"
	modelLoadLimit = 5 * time.Minute
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults and environment only when empty)")
	filePath := flag.String("file", "", "Translate one WAV file, play the result and exit")
	flag.Parse()

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
		slog.String("engine", cfg.Engines.Kind),
		slog.String("input_device", cfg.Audio.InputDevice),
		slog.String("output_device", cfg.Audio.OutputDevice),
		slog.Float64("chunk_duration", cfg.Audio.ChunkDuration),
	)

	if err := run(cfg, *filePath, logger); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		logCloser.Close()
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

func run(cfg *config.Config, filePath string, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	appMetrics := metrics.NewMetrics(nil)

	// Live mode always loads up front: the first chunk should not wait.
	loader := models.NewLoader(models.NewFactory(cfg, appMetrics, logger), modelLoadLimit, appMetrics, logger)
	defer loader.Close()
	if _, err := loader.Get(ctx); err != nil {
		return err
	}

	bus := pipeline.NewBus()
	defer bus.Close()

	orchestrator := pipeline.NewOrchestrator(loader, bus, pipeline.Options{
		EnergyGate: true,
		Filter:     pipeline.NewTranscriptFilter(cfg.Pipeline.IgnorePhrases, cfg.Pipeline.DropRepeats),
	}, appMetrics, logger)

	var sink realtime.Sink
	if cfg.Realtime.Playback {
		player, err := audio.OpenPlayer(cfg.Audio.OutputDevice, cfg.Audio.OutputSampleRate, cfg.Audio.FramesPerBuffer)
		if err != nil {
			return err
		}
		defer player.Close()
		sink = realtime.Normalized(player, realtime.PlaybackPeak)
	}

	open := func() (audio.Source, error) {
		src, err := audio.OpenDevice(cfg.Audio.InputDevice, cfg.Audio.InputSampleRate, cfg.Audio.FramesPerBuffer)
		if err != nil {
			return nil, err
		}
		return src, nil
	}

	controller, err := realtime.NewController(realtime.Config{
		Device:          cfg.Audio.InputDevice,
		ChunkDuration:   cfg.Audio.GetChunkDuration(),
		QueueSize:       cfg.Realtime.QueueSize,
		MonitorInterval: cfg.Realtime.GetMonitorIntervalDuration(),
	}, open, orchestrator, bus, sink, appMetrics, logger)
	if err != nil {
		return err
	}

	if filePath != "" {
		result, err := controller.ProcessFile(ctx, filePath)
		if err != nil {
			return err
		}
		fmt.Printf("English: %s\nRussian: %s\nAudio samples: %d\n", result.EnglishText, result.RussianText, result.AudioSamples)
		return nil
	}

	var monitor *server.Monitor
	if cfg.Realtime.MonitorAddr != "" {
		monitor = server.NewMonitor(cfg.Realtime.MonitorAddr, controller, nil, appMetrics, logger)
		if err := monitor.Start(); err != nil {
			return err
		}
	}

	if err := controller.Start(ctx); err != nil {
		var devErr *audio.DeviceError
		if errors.As(err, &devErr) {
			return fmt.Errorf("cannot start live translation: %w", err)
		}
		return err
	}

	logger.Info("Listening, press Ctrl+C to stop")

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case <-controller.Done():
		logger.Info("Audio input ended")
	}

	stopErr := controller.Stop()

	if monitor != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := monitor.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping monitor server", slog.String("error", err.Error()))
		}
	}

	status := controller.GetStatus()
	logger.Info("Final pipeline statistics",
		slog.Uint64("captured", status.Captured),
		slog.Uint64("processed", status.Processed),
		slog.Uint64("failed", status.Failed),
		slog.Uint64("skipped", status.Skipped),
		slog.Uint64("dropped_events", bus.Dropped()),
	)

	return stopErr
}
