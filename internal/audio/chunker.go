package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Chunk is a fixed-duration segment of mono PCM-16 audio. It is not modified
// after the chunker returns it.
type Chunk struct {
	Seq        uint64    `json:"seq"`
	Samples    []int16   `json:"-"`
	SampleRate int       `json:"sample_rate"`
	CapturedAt time.Time `json:"captured_at"`
	Final      bool      `json:"final"` // last chunk of a finite source, may be short
}

// Duration returns the playback length of the chunk
func (c *Chunk) Duration() time.Duration {
	return Duration(len(c.Samples), c.SampleRate)
}

// ChunkerStats represents chunker statistics
type ChunkerStats struct {
	ChunksCreated uint64        `json:"chunks_created"`
	TotalDuration time.Duration `json:"total_duration"`
	ChunkSamples  int           `json:"chunk_samples"`
	Closed        bool          `json:"closed"`
}

// Chunker cuts a Source into chunks of exactly floor(duration * rate) samples.
// Only the final chunk of a finite source may be shorter.
type Chunker struct {
	src          Source
	chunkSamples int

	mu            sync.Mutex
	seq           uint64
	eof           bool
	closed        bool
	chunksCreated uint64
	totalDuration time.Duration
}

// NewChunker creates a chunker over an already opened source
func NewChunker(src Source, duration time.Duration) (*Chunker, error) {
	if src == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}

	n := ChunkSamples(duration, src.SampleRate())
	if n <= 0 {
		return nil, fmt.Errorf("chunk of %v at %d Hz holds no samples", duration, src.SampleRate())
	}

	return &Chunker{src: src, chunkSamples: n}, nil
}

// OpenChunker opens a source with open and wraps it in a chunker. The source is
// closed again if the chunker cannot be built. Open failures that are not
// already a *DeviceError are wrapped in one.
func OpenChunker(device string, open func() (Source, error), duration time.Duration) (*Chunker, error) {
	src, err := open()
	if err != nil {
		var devErr *DeviceError
		if errors.As(err, &devErr) {
			return nil, err
		}
		return nil, &DeviceError{Device: device, Err: err}
	}

	c, err := NewChunker(src, duration)
	if err != nil {
		src.Close()
		return nil, err
	}
	return c, nil
}

// ChunkSamples returns floor(duration * rate)
func ChunkSamples(duration time.Duration, sampleRate int) int {
	return int(int64(duration) * int64(sampleRate) / int64(time.Second))
}

// Next blocks until a full chunk has been captured. At the end of a finite
// source it returns the remaining samples as a short final chunk, then io.EOF.
// Context cancellation is observed between source reads.
func (c *Chunker) Next(ctx context.Context) (*Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, io.ErrClosedPipe
	}
	if c.eof {
		return nil, io.EOF
	}

	buf := make([]int16, c.chunkSamples)
	filled := 0
	for filled < len(buf) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := c.src.Read(buf[filled:])
		filled += n
		if errors.Is(err, io.EOF) {
			c.eof = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read audio: %w", err)
		}
	}

	if filled == 0 {
		return nil, io.EOF
	}

	chunk := &Chunk{
		Seq:        c.seq,
		Samples:    buf[:filled],
		SampleRate: c.src.SampleRate(),
		CapturedAt: time.Now(),
		Final:      c.eof,
	}
	c.seq++
	c.chunksCreated++
	c.totalDuration += chunk.Duration()

	return chunk, nil
}

// Close releases the underlying source. It is safe to call more than once.
func (c *Chunker) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.src.Close()
}

// GetStats returns current chunker statistics
func (c *Chunker) GetStats() ChunkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ChunkerStats{
		ChunksCreated: c.chunksCreated,
		TotalDuration: c.totalDuration,
		ChunkSamples:  c.chunkSamples,
		Closed:        c.closed,
	}
}
