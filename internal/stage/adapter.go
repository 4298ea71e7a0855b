package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/naipunyaailabs/sts/internal/audio"
	"github.com/naipunyaailabs/sts/internal/metrics"
)

// TranscriptionEngine converts mono PCM-16 English speech to text.
type TranscriptionEngine interface {
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error)
}

// TranslationEngine translates English text to Russian.
type TranslationEngine interface {
	Translate(ctx context.Context, text string) (string, error)
}

// SynthesisEngine speaks Russian text. It returns mono PCM-16 samples at the
// engine's native rate.
type SynthesisEngine interface {
	Synthesize(ctx context.Context, text string) ([]int16, int, error)
}

// SilenceDetector decides whether a buffer contains any speech.
type SilenceDetector interface {
	IsSilent(samples []int16) bool
}

// Options are shared by all three adapters
type Options struct {
	Timeout time.Duration // per engine call, 0 disables
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// invoke runs fn under the stage timeout. The engine runs in its own goroutine
// so an engine that ignores ctx still cannot hang the caller; panics are
// reported as engine failures.
func invoke[T any](ctx context.Context, s Stage, opts Options, fn func(context.Context) (T, error)) (T, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	type result struct {
		value T
		err   error
	}

	start := time.Now()
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if opts.Logger != nil {
					opts.Logger.Error("Engine panicked",
						slog.String("stage", s.String()),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)
				}
				done <- result{err: fmt.Errorf("engine panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}

	var zero T
	if r.err != nil {
		engineErr := newEngineError(ctx, s, r.err)
		opts.Metrics.RecordStage(s.String(), string(engineErr.Cause), time.Since(start).Seconds())
		return zero, engineErr
	}

	opts.Metrics.RecordStage(s.String(), "", time.Since(start).Seconds())
	return r.value, nil
}

// Transcriber wraps a TranscriptionEngine. Empty or silence-only input yields
// an empty transcript without calling the engine.
type Transcriber struct {
	engine  TranscriptionEngine
	silence SilenceDetector
	opts    Options
}

// NewTranscriber creates a transcriber. silence may be nil, in which case only
// empty input short-circuits.
func NewTranscriber(engine TranscriptionEngine, silence SilenceDetector, opts Options) *Transcriber {
	return &Transcriber{engine: engine, silence: silence, opts: opts}
}

// Process transcribes samples recorded at sampleRate
func (t *Transcriber) Process(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	if sampleRate <= 0 {
		return "", &EngineError{
			Stage: Transcription,
			Cause: CauseInvalidInput,
			Err:   fmt.Errorf("invalid sample rate %d", sampleRate),
		}
	}

	if t.silence != nil && t.silence.IsSilent(samples) {
		return "", nil
	}

	text, err := invoke(ctx, Transcription, t.opts, func(ctx context.Context) (string, error) {
		return t.engine.Transcribe(ctx, samples, sampleRate)
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(text), nil
}

// Translator wraps a TranslationEngine. Empty input is returned as is.
type Translator struct {
	engine TranslationEngine
	opts   Options
}

// NewTranslator creates a translator
func NewTranslator(engine TranslationEngine, opts Options) *Translator {
	return &Translator{engine: engine, opts: opts}
}

// Process translates English text to Russian
func (t *Translator) Process(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	translated, err := invoke(ctx, Translation, t.opts, func(ctx context.Context) (string, error) {
		return t.engine.Translate(ctx, text)
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(translated), nil
}

// Synthesizer wraps a SynthesisEngine and delivers audio at a fixed output rate.
type Synthesizer struct {
	engine     SynthesisEngine
	outputRate int
	opts       Options
}

// NewSynthesizer creates a synthesizer whose output is resampled to outputRate
func NewSynthesizer(engine SynthesisEngine, outputRate int, opts Options) *Synthesizer {
	return &Synthesizer{engine: engine, outputRate: outputRate, opts: opts}
}

// OutputRate returns the sample rate of synthesized audio
func (s *Synthesizer) OutputRate() int {
	return s.outputRate
}

// Process speaks text. Empty text is an error: there is nothing to say.
func (s *Synthesizer) Process(ctx context.Context, text string) ([]int16, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &EngineError{
			Stage: Synthesis,
			Cause: CauseEmptyInput,
			Err:   errors.New("no text to synthesize"),
		}
	}

	type speech struct {
		samples []int16
		rate    int
	}

	out, err := invoke(ctx, Synthesis, s.opts, func(ctx context.Context) (speech, error) {
		samples, rate, err := s.engine.Synthesize(ctx, text)
		return speech{samples: samples, rate: rate}, err
	})
	if err != nil {
		return nil, err
	}

	if len(out.samples) == 0 {
		return nil, &EngineError{Stage: Synthesis, Cause: CauseEngine, Err: errors.New("engine returned no audio")}
	}
	if out.rate <= 0 {
		return nil, &EngineError{Stage: Synthesis, Cause: CauseEngine, Err: fmt.Errorf("engine returned invalid sample rate %d", out.rate)}
	}

	return audio.Resample(out.samples, out.rate, s.outputRate), nil
}
