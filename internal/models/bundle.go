package models

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/naipunyaailabs/sts/internal/config"
	"github.com/naipunyaailabs/sts/internal/engine"
	"github.com/naipunyaailabs/sts/internal/logging"
	"github.com/naipunyaailabs/sts/internal/metrics"
	"github.com/naipunyaailabs/sts/internal/stage"
	"github.com/naipunyaailabs/sts/internal/vad"
)

// Bundle holds the three stage adapters over their loaded engines. It is
// read-only once published by the Loader; the only state that changes
// afterwards is the Detector's atomic statistics, which never affect results.
type Bundle struct {
	Transcriber *stage.Transcriber
	Translator  *stage.Translator
	Synthesizer *stage.Synthesizer
	Detector    *vad.Detector
	EngineKind  string
	LoadedAt    time.Time

	engines *engine.Set
}

// NewBundle wires already constructed engines into a bundle
func NewBundle(engines *engine.Set, detector *vad.Detector, opts stage.Options) *Bundle {
	var silence stage.SilenceDetector
	if detector != nil {
		silence = detector
	}

	return &Bundle{
		Transcriber: stage.NewTranscriber(engines.Transcriber, silence, opts),
		Translator:  stage.NewTranslator(engines.Translator, opts),
		Synthesizer: stage.NewSynthesizer(engines.Synthesizer, config.OutputSampleRate, opts),
		Detector:    detector,
		EngineKind:  engines.Kind,
		engines:     engines,
	}
}

// Close releases engine resources
func (b *Bundle) Close() error {
	if b.engines == nil {
		return nil
	}
	return b.engines.Close()
}

// NewFactory returns a Factory that builds the engines selected in cfg,
// probes them and wraps them in stage adapters.
func NewFactory(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) Factory {
	if logger == nil {
		logger = logging.Discard()
	}
	return func(ctx context.Context) (*Bundle, error) {
		detector, err := vad.NewDetector(cfg.Pipeline.SilenceThreshold, cfg.Pipeline.EnergyGate, cfg.Audio.InputSampleRate*30/1000)
		if err != nil {
			return nil, fmt.Errorf("voice detector: %w", err)
		}

		engines, err := engine.New(cfg.Engines, m)
		if err != nil {
			return nil, err
		}

		if err := engines.Probe(ctx); err != nil {
			engines.Close()
			return nil, fmt.Errorf("engine probe: %w", err)
		}

		logger.Info("Engines ready",
			slog.String("kind", engines.Kind),
			slog.String("stt_model", cfg.Engines.STTModel),
			slog.String("translation_model", cfg.Engines.TranslationModel),
			slog.String("tts_model", cfg.Engines.TTSModel),
		)

		return NewBundle(engines, detector, stage.Options{
			Timeout: cfg.Engines.GetTimeoutDuration(),
			Metrics: m,
			Logger:  logger,
		}), nil
	}
}
