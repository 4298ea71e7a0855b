package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/naipunyaailabs/sts/internal/audio"
	"github.com/naipunyaailabs/sts/internal/logging"
	"github.com/naipunyaailabs/sts/internal/metrics"
	"github.com/naipunyaailabs/sts/internal/models"
	"github.com/naipunyaailabs/sts/internal/stage"
)

// Event modes
const (
	ModeStream  = "stream"
	ModeRequest = "request"
)

// Bundles provides the loaded model bundle
type Bundles interface {
	Get(ctx context.Context) (*models.Bundle, error)
}

// Options configures the streaming-only policies of the orchestrator
type Options struct {
	EnergyGate bool              // drop chunks below the detector's energy gate
	Filter     *TranscriptFilter // nil disables transcript filtering
}

// Orchestrator runs utterances through Transcriber, Translator and
// Synthesizer in order. ProcessFile is safe for concurrent use; ProcessChunk
// is meant for the single streaming consumer.
type Orchestrator struct {
	bundles Bundles
	bus     *Bus
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger

	counter atomic.Uint64
}

// NewOrchestrator creates an orchestrator. bus may be nil.
func NewOrchestrator(bundles Bundles, bus *Bus, opts Options, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Orchestrator{
		bundles: bundles,
		bus:     bus,
		opts:    opts,
		metrics: m,
		logger:  logger,
	}
}

// ProcessChunk processes one captured chunk. Streaming policies (energy gate,
// transcript filter) apply.
func (o *Orchestrator) ProcessChunk(ctx context.Context, chunk *audio.Chunk) *Utterance {
	n := o.counter.Add(1)
	id := "utt_" + strconv.FormatUint(n, 10) + "_" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	u := newUtterance(id, len(chunk.Samples))

	o.run(ctx, u, chunk.Samples, chunk.SampleRate, true)
	o.complete(ModeStream, u)
	return u
}

// ProcessFile processes one complete in-memory buffer. It touches no state
// shared between calls apart from the read-only bundle.
func (o *Orchestrator) ProcessFile(ctx context.Context, samples []int16, sampleRate int) *Utterance {
	u := newUtterance(uuid.NewString(), len(samples))

	o.run(ctx, u, samples, sampleRate, false)
	o.complete(ModeRequest, u)
	return u
}

// ProcessPath reads a WAV file and processes it as one buffer
func (o *Orchestrator) ProcessPath(ctx context.Context, path string) (*Utterance, error) {
	src, err := audio.OpenWAVFile(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	samples := make([]int16, 0)
	buf := make([]int16, 4096)
	for {
		n, err := src.Read(buf)
		samples = append(samples, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	return o.ProcessFile(ctx, samples, src.SampleRate()), nil
}

func (o *Orchestrator) run(ctx context.Context, u *Utterance, samples []int16, sampleRate int, streaming bool) {
	defer u.finish()

	bundle, err := o.bundles.Get(ctx)
	if err != nil {
		u.fail(stage.Transcription, &stage.EngineError{
			Stage: stage.Transcription,
			Cause: stage.CauseEngine,
			Err:   fmt.Errorf("models unavailable: %w", err),
		})
		return
	}

	if streaming && o.opts.EnergyGate && bundle.Detector != nil && !bundle.Detector.PassesGate(samples) {
		u.skip(SkipEnergyGate)
		return
	}

	// Transcription
	start := time.Now()
	english, err := bundle.Transcriber.Process(ctx, samples, sampleRate)
	u.StageTimes[stage.Transcription.String()] = time.Since(start)
	if err != nil {
		u.fail(stage.Transcription, err)
		return
	}
	if english == "" {
		u.skip(SkipSilence)
		return
	}
	if streaming && o.opts.Filter != nil {
		if reason := o.opts.Filter.Check(english); reason != "" {
			u.EnglishText = english
			u.skip(reason)
			return
		}
	}
	u.EnglishText = english
	u.advance(Transcribed)

	// Translation
	start = time.Now()
	russian, err := bundle.Translator.Process(ctx, english)
	u.StageTimes[stage.Translation.String()] = time.Since(start)
	if err != nil {
		u.fail(stage.Translation, err)
		return
	}
	u.RussianText = russian
	u.advance(Translated)

	// Synthesis
	start = time.Now()
	speech, err := bundle.Synthesizer.Process(ctx, russian)
	u.StageTimes[stage.Synthesis.String()] = time.Since(start)
	if err != nil {
		u.fail(stage.Synthesis, err)
		return
	}
	u.RussianAudio = speech
	u.SampleRate = bundle.Synthesizer.OutputRate()
	u.advance(Synthesized)
}

func (o *Orchestrator) complete(mode string, u *Utterance) {
	switch u.Outcome() {
	case OutcomeSynthesized:
		o.metrics.RecordUtterance(u.Latency().Seconds(), len(u.RussianAudio))
	case OutcomeEmpty:
		o.metrics.RecordChunkSkipped(u.SkipReason)
	case OutcomeFailed:
		o.logger.Warn("Utterance failed",
			slog.String("id", u.ID),
			slog.String("mode", mode),
			slog.String("stage", u.Error.Stage),
			slog.String("cause", string(u.Error.Cause)),
			slog.String("error", u.Error.Message),
		)
	}

	if o.bus != nil {
		o.bus.Publish(mode, u)
	}
}
