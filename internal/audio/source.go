package audio

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Source delivers mono 16-bit PCM at a fixed sample rate. Read blocks until at
// least one sample is available and returns io.EOF once the source is
// exhausted.
type Source interface {
	Read(buf []int16) (int, error)
	SampleRate() int
	Close() error
}

// DeviceError reports that an audio device could not be opened or used.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	name := e.Device
	if name == "" {
		name = "default"
	}
	return fmt.Sprintf("audio device %q unavailable: %v", name, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// SliceSource replays an in-memory buffer. It is safe for concurrent use.
type SliceSource struct {
	mu      sync.Mutex
	samples []int16
	pos     int
	rate    int
	closed  bool
}

// NewSliceSource creates a source that yields samples and then io.EOF.
func NewSliceSource(samples []int16, sampleRate int) *SliceSource {
	return &SliceSource{samples: samples, rate: sampleRate}
}

// Read copies the next samples into buf
func (s *SliceSource) Read(buf []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if s.pos >= len(s.samples) {
		return 0, io.EOF
	}

	n := copy(buf, s.samples[s.pos:])
	s.pos += n
	return n, nil
}

// SampleRate returns the rate of the buffered samples
func (s *SliceSource) SampleRate() int {
	return s.rate
}

// Close marks the source closed
func (s *SliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// OpenWAVFile reads a mono WAV file from disk into a SliceSource. Multi-channel
// files are downmixed.
func OpenWAVFile(path string) (*SliceSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file %s: %w", path, err)
	}

	samples, info, err := DecodeMonoWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio file %s: %w", path, err)
	}

	return NewSliceSource(samples, info.SampleRate), nil
}
