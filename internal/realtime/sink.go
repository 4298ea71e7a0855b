package realtime

import (
	"context"

	"github.com/naipunyaailabs/sts/internal/audio"
)

// PlaybackPeak is the peak level synthesized audio is normalized to
const PlaybackPeak = 0.9

// Sink receives synthesized audio. *audio.Player implements it.
type Sink interface {
	Play(ctx context.Context, samples []int16, sampleRate int) error
}

type normalizedSink struct {
	next Sink
	peak float64
}

// Normalized returns a sink that scales every buffer to peak before passing
// it on.
func Normalized(next Sink, peak float64) Sink {
	return &normalizedSink{next: next, peak: peak}
}

func (s *normalizedSink) Play(ctx context.Context, samples []int16, sampleRate int) error {
	return s.next.Play(ctx, audio.Normalize(samples, s.peak), sampleRate)
}
