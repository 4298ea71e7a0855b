package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/naipunyaailabs/sts/internal/config"
	"github.com/naipunyaailabs/sts/internal/metrics"
	"github.com/naipunyaailabs/sts/internal/stage"
)

// Set is the trio of engines selected by configuration
type Set struct {
	Kind        string
	Transcriber stage.TranscriptionEngine
	Translator  stage.TranslationEngine
	Synthesizer stage.SynthesisEngine

	probe   func(context.Context) error
	closers []io.Closer
}

// New builds the engines named by cfg.Kind. No network traffic happens here;
// see Probe.
func New(cfg config.EnginesConfig, m *metrics.Metrics) (*Set, error) {
	switch cfg.Kind {
	case config.EngineStub:
		return &Set{
			Kind:        cfg.Kind,
			Transcriber: &StubTranscriber{Phrase: cfg.StubPhrase, Threshold: 0.01},
			Translator:  StubTranslator{},
			Synthesizer: &StubSynthesizer{SampleRate: config.OutputSampleRate},
		}, nil

	case config.EngineOpenAI, config.EngineWhisperHTTP:
		oa, err := NewOpenAI(OpenAIConfig{
			APIKey:           cfg.APIKey,
			BaseURL:          cfg.BaseURL,
			STTModel:         cfg.STTModel,
			TranslationModel: cfg.TranslationModel,
			TTSModel:         cfg.TTSModel,
			TTSVoice:         cfg.TTSVoice,
			TTSSampleRate:    cfg.TTSSampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("openai engine: %w", err)
		}

		set := &Set{
			Kind:        cfg.Kind,
			Transcriber: oa,
			Translator:  oa,
			Synthesizer: oa,
		}
		if cfg.Probe {
			set.probe = oa.Probe
		}

		if cfg.Kind == config.EngineWhisperHTTP {
			wc, err := NewWhisperClient(WhisperConfig{
				Endpoint:      cfg.WhisperHTTP.Endpoint,
				APIKey:        cfg.WhisperHTTP.APIKey,
				Model:         cfg.STTModel,
				Timeout:       cfg.GetTimeoutDuration(),
				MaxRetries:    cfg.WhisperHTTP.MaxRetries,
				MaxConcurrent: cfg.WhisperHTTP.MaxConcurrent,
			}, m)
			if err != nil {
				return nil, fmt.Errorf("whisper-http engine: %w", err)
			}
			set.Transcriber = wc
			set.closers = append(set.closers, wc)
		}

		return set, nil

	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.Kind)
	}
}

// Probe checks that the engines are reachable when probing is enabled
func (s *Set) Probe(ctx context.Context) error {
	if s.probe == nil {
		return nil
	}
	return s.probe(ctx)
}

// Close releases engine resources
func (s *Set) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
