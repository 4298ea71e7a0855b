package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/naipunyaailabs/sts/internal/audio"
	"github.com/naipunyaailabs/sts/internal/logging"
	"github.com/naipunyaailabs/sts/internal/metrics"
	"github.com/naipunyaailabs/sts/internal/pipeline"
)

// State of the controller
type State int

const (
	Stopped State = iota
	Running
)

// String returns the upper-case state name
func (s State) String() string {
	if s == Running {
		return "RUNNING"
	}
	return "STOPPED"
}

// Opener opens the capture source for one session
type Opener func() (audio.Source, error)

// Config holds controller configuration
type Config struct {
	Device          string        // reported in DeviceError, "" is the default device
	ChunkDuration   time.Duration // nominal chunk length
	QueueSize       int           // chunks buffered between producer and consumer
	MonitorInterval time.Duration // status log period, 0 disables
}

// Status is a snapshot of the controller
type Status struct {
	State        string    `json:"state"`
	Running      bool      `json:"running"`
	Processed    uint64    `json:"processed"`
	Failed       uint64    `json:"failed"`
	Skipped      uint64    `json:"skipped"`
	Captured     uint64    `json:"captured"`
	QueueDepth   int       `json:"queue_depth"`
	QueueSize    int       `json:"queue_size"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	LastActivity time.Time `json:"last_activity,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// FileResult is returned by ProcessFile
type FileResult struct {
	EnglishText  string `json:"english_text"`
	RussianText  string `json:"russian_text"`
	AudioSamples int    `json:"audio_samples"`
}

// item is what travels from producer to consumer. The zero chunk marks the
// end of the session.
type item struct {
	chunk *audio.Chunk
}

// Controller runs the live loop: a producer capturing chunks into a bounded
// queue and a single consumer pushing each chunk through the orchestrator and
// playing the result.
type Controller struct {
	cfg     Config
	open    Opener
	orch    *pipeline.Orchestrator
	bus     *pipeline.Bus
	sink    Sink
	metrics *metrics.Metrics
	logger  *slog.Logger

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex
	state     State
	queue     chan item
	cancel    context.CancelFunc
	done      chan struct{}
	err       error

	// status is written by the consumer and read by GetStatus
	mu     sync.RWMutex
	status Status
	active chan item
}

// NewController creates a controller in the STOPPED state. bus and sink may
// be nil.
func NewController(cfg Config, open Opener, orch *pipeline.Orchestrator, bus *pipeline.Bus, sink Sink, m *metrics.Metrics, logger *slog.Logger) (*Controller, error) {
	if open == nil {
		return nil, fmt.Errorf("source opener cannot be nil")
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.ChunkDuration <= 0 {
		return nil, fmt.Errorf("chunk duration must be positive, got %v", cfg.ChunkDuration)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	done := make(chan struct{})
	close(done)

	return &Controller{
		cfg:     cfg,
		open:    open,
		orch:    orch,
		bus:     bus,
		sink:    sink,
		metrics: m,
		logger:  logger,
		done:    done,
		status:  Status{State: Stopped.String(), QueueSize: cfg.QueueSize},
	}, nil
}

// Start opens the source and starts the producer and consumer. Starting a
// running controller is a no-op. A source that cannot be opened is reported
// as *audio.DeviceError and the controller stays STOPPED.
//
// The session ends on Stop, when ctx is done, or when a finite source is
// exhausted; Done is closed once both goroutines have exited.
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.state == Running {
		return nil
	}

	chunker, err := audio.OpenChunker(c.cfg.Device, c.open, c.cfg.ChunkDuration)
	if err != nil {
		c.logger.Error("Failed to open audio source",
			slog.String("device", c.cfg.Device),
			slog.String("error", err.Error()),
		)
		return err
	}

	captureCtx, cancel := context.WithCancel(ctx)
	// In-flight utterances finish even after ctx is done; engine timeouts
	// bound them.
	processCtx := context.WithoutCancel(ctx)

	c.queue = make(chan item, c.cfg.QueueSize)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.err = nil
	c.state = Running

	now := time.Now()
	c.mu.Lock()
	c.status = Status{
		State:        Running.String(),
		Running:      true,
		QueueSize:    c.cfg.QueueSize,
		StartedAt:    now,
		LastActivity: now,
	}
	c.active = c.queue
	c.mu.Unlock()
	c.metrics.SetRunning(true)

	c.logger.Info("Realtime pipeline started",
		slog.String("device", c.cfg.Device),
		slog.Duration("chunk_duration", c.cfg.ChunkDuration),
		slog.Int("queue_size", c.cfg.QueueSize),
	)

	queue, done := c.queue, c.done
	consumerDone := make(chan struct{})

	g := new(errgroup.Group)
	g.Go(func() error {
		return c.produce(captureCtx, chunker, queue)
	})
	g.Go(func() error {
		defer close(consumerDone)
		c.consume(processCtx, queue)
		return nil
	})
	if c.cfg.MonitorInterval > 0 {
		g.Go(func() error {
			c.monitor(consumerDone)
			return nil
		})
	}

	go func() {
		err := g.Wait()
		chunker.Close()
		cancel()
		c.finish(err)
		close(done)
	}()

	return nil
}

// produce captures chunks until the capture context is done or the source
// ends, then hands the end marker to the consumer through the queue.
func (c *Controller) produce(ctx context.Context, chunker *audio.Chunker, queue chan<- item) error {
	defer func() {
		queue <- item{}
	}()

	for {
		chunk, err := chunker.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.logger.Info("Audio source exhausted")
				return nil
			case ctx.Err() != nil:
				return nil
			default:
				c.logger.Error("Audio capture failed", slog.String("error", err.Error()))
				return fmt.Errorf("capture: %w", err)
			}
		}

		c.metrics.RecordChunkCaptured()
		c.mu.Lock()
		c.status.Captured++
		c.mu.Unlock()

		// Block when the consumer falls behind rather than grow the queue.
		queue <- item{chunk: chunk}
		c.metrics.SetQueueDepth(len(queue))

		if chunk.Final {
			return nil
		}
	}
}

// consume processes chunks in order until the end marker arrives. A failed
// utterance is logged and counted; it never ends the loop.
func (c *Controller) consume(ctx context.Context, queue <-chan item) {
	for it := range queue {
		c.metrics.SetQueueDepth(len(queue))
		if it.chunk == nil {
			return
		}

		u := c.orch.ProcessChunk(ctx, it.chunk)
		c.record(u)

		if u.Outcome() != pipeline.OutcomeSynthesized || c.sink == nil {
			continue
		}
		if err := c.sink.Play(ctx, u.RussianAudio, u.SampleRate); err != nil {
			c.logger.Warn("Playback failed",
				slog.String("id", u.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *Controller) record(u *pipeline.Utterance) {
	c.mu.Lock()
	c.status.LastActivity = time.Now()
	switch u.Outcome() {
	case pipeline.OutcomeSynthesized:
		c.status.Processed++
	case pipeline.OutcomeFailed:
		c.status.Failed++
		c.status.LastError = u.Error.Stage + ": " + u.Error.Message
	default:
		c.status.Skipped++
	}
	c.mu.Unlock()

	switch u.Outcome() {
	case pipeline.OutcomeSynthesized:
		c.logger.Info("Utterance translated",
			slog.String("id", u.ID),
			slog.String("english", u.EnglishText),
			slog.String("russian", u.RussianText),
			slog.Duration("latency", u.Latency()),
			slog.Duration("audio", u.AudioDuration()),
		)
	case pipeline.OutcomeEmpty:
		c.logger.Debug("Chunk skipped",
			slog.String("id", u.ID),
			slog.String("reason", u.SkipReason),
			slog.String("english", u.EnglishText),
		)
	}
}

func (c *Controller) monitor(done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s := c.GetStatus()
			c.logger.Info("Pipeline status",
				slog.String("state", s.State),
				slog.Uint64("processed", s.Processed),
				slog.Uint64("failed", s.Failed),
				slog.Uint64("skipped", s.Skipped),
				slog.Int("queue_depth", s.QueueDepth),
				slog.Time("last_activity", s.LastActivity),
			)
		}
	}
}

func (c *Controller) finish(err error) {
	c.lifecycle.Lock()
	c.state = Stopped
	c.err = err
	c.lifecycle.Unlock()

	c.mu.Lock()
	c.status.State = Stopped.String()
	c.status.Running = false
	c.active = nil
	if err != nil {
		c.status.LastError = err.Error()
	}
	s := c.status
	c.mu.Unlock()

	c.metrics.SetRunning(false)
	c.metrics.SetQueueDepth(0)

	c.logger.Info("Realtime pipeline stopped",
		slog.Uint64("processed", s.Processed),
		slog.Uint64("failed", s.Failed),
		slog.Uint64("skipped", s.Skipped),
	)
}

// Stop ends capture, lets the consumer finish every chunk already handed off
// and waits for both goroutines. Stopping a stopped controller is a no-op.
func (c *Controller) Stop() error {
	c.lifecycle.Lock()
	if c.state != Running {
		err := c.err
		c.lifecycle.Unlock()
		return err
	}
	cancel, done := c.cancel, c.done
	c.lifecycle.Unlock()

	cancel()
	<-done

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.err
}

// Done is closed when the current session has fully stopped
func (c *Controller) Done() <-chan struct{} {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.done
}

// Err returns the error that ended the last session, if any
func (c *Controller) Err() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.err
}

// GetStatus returns a snapshot without waiting on pipeline activity
func (c *Controller) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.status
	if c.active != nil {
		s.QueueDepth = len(c.active)
	}
	return s
}

// Subscribe registers an observer for completed utterances
func (c *Controller) Subscribe(buffer int) (<-chan pipeline.Event, func()) {
	if c.bus == nil {
		ch := make(chan pipeline.Event)
		close(ch)
		return ch, func() {}
	}
	return c.bus.Subscribe(buffer)
}

// ProcessFile runs one WAV file through the pipeline outside the live loop
// and plays the result on the sink.
func (c *Controller) ProcessFile(ctx context.Context, path string) (*FileResult, error) {
	u, err := c.orch.ProcessPath(ctx, path)
	if err != nil {
		return nil, err
	}

	result := &FileResult{
		EnglishText:  u.EnglishText,
		RussianText:  u.RussianText,
		AudioSamples: len(u.RussianAudio),
	}

	switch u.Outcome() {
	case pipeline.OutcomeFailed:
		return result, fmt.Errorf("%s failed: %w", u.Error.Stage, u.Error.Err())
	case pipeline.OutcomeSynthesized:
		if c.sink != nil {
			if err := c.sink.Play(ctx, u.RussianAudio, u.SampleRate); err != nil {
				return result, fmt.Errorf("playback: %w", err)
			}
		}
	}

	c.logger.Info("File processed",
		slog.String("path", path),
		slog.String("id", u.ID),
		slog.String("english", u.EnglishText),
		slog.String("russian", u.RussianText),
		slog.Duration("latency", u.Latency()),
	)
	return result, nil
}
