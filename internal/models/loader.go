package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/naipunyaailabs/sts/internal/logging"
	"github.com/naipunyaailabs/sts/internal/metrics"
)

// ErrNotLoaded is returned by Loaded callers that require a bundle.
var ErrNotLoaded = errors.New("models not loaded yet")

// Factory constructs a bundle. It may block for as long as loading takes.
type Factory func(ctx context.Context) (*Bundle, error)

// Loader owns the process-wide Bundle. At most one load runs at a time;
// concurrent callers share its outcome. A successful load is kept forever and
// a failed one may be retried by the next caller.
type Loader struct {
	factory     Factory
	loadTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger

	group    singleflight.Group
	bundle   atomic.Pointer[Bundle]
	attempts atomic.Int64
	loading  atomic.Bool

	mu      sync.RWMutex
	lastErr error
}

// LoaderStatus is a snapshot of the loading state
type LoaderStatus struct {
	Loaded    bool      `json:"loaded"`
	Loading   bool      `json:"loading"`
	Attempts  int64     `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	LoadedAt  time.Time `json:"loaded_at,omitempty"`
}

// NewLoader creates a loader. loadTimeout bounds a single load attempt (0
// disables the bound).
func NewLoader(factory Factory, loadTimeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Loader{
		factory:     factory,
		loadTimeout: loadTimeout,
		metrics:     m,
		logger:      logger,
	}
}

// Loaded returns the bundle if loading has completed, nil otherwise. It never
// blocks.
func (l *Loader) Loaded() *Bundle {
	return l.bundle.Load()
}

// Get returns the bundle, loading it first if necessary. A caller whose ctx
// ends while waiting returns early; the shared load keeps running for the
// other waiters.
func (l *Loader) Get(ctx context.Context) (*Bundle, error) {
	if b := l.bundle.Load(); b != nil {
		return b, nil
	}

	ch := l.group.DoChan("bundle", func() (interface{}, error) {
		return l.load(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Bundle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) load(ctx context.Context) (*Bundle, error) {
	if b := l.bundle.Load(); b != nil {
		return b, nil
	}

	if l.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.loadTimeout)
		defer cancel()
	}

	attempt := l.attempts.Add(1)
	l.loading.Store(true)
	defer l.loading.Store(false)

	l.logger.Info("Loading models", slog.Int64("attempt", attempt))
	start := time.Now()

	b, err := l.safeFactory(ctx)
	l.metrics.RecordModelLoad(err == nil, time.Since(start).Seconds())

	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()

	if err != nil {
		l.logger.Error("Model loading failed",
			slog.Int64("attempt", attempt),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to load models: %w", err)
	}

	b.LoadedAt = time.Now()
	l.bundle.Store(b)

	l.logger.Info("Models loaded",
		slog.Int64("attempt", attempt),
		slog.Duration("elapsed", time.Since(start)),
	)
	return b, nil
}

func (l *Loader) safeFactory(ctx context.Context) (b *Bundle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model factory panic: %v", r)
		}
	}()

	b, err = l.factory(ctx)
	if err == nil && b == nil {
		err = errors.New("model factory returned no bundle")
	}
	return b, err
}

// Status returns a snapshot of the loading state
func (l *Loader) Status() LoaderStatus {
	l.mu.RLock()
	lastErr := l.lastErr
	l.mu.RUnlock()

	status := LoaderStatus{
		Loading:  l.loading.Load(),
		Attempts: l.attempts.Load(),
	}
	if b := l.bundle.Load(); b != nil {
		status.Loaded = true
		status.LoadedAt = b.LoadedAt
	} else if lastErr != nil {
		status.LastError = lastErr.Error()
	}
	return status
}

// Close releases the engines of a loaded bundle
func (l *Loader) Close() error {
	if b := l.bundle.Load(); b != nil {
		return b.Close()
	}
	return nil
}
