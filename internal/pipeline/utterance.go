package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/naipunyaailabs/sts/internal/stage"
)

// StageReached records how far an utterance has progressed
type StageReached int

const (
	Received StageReached = iota
	Transcribed
	Translated
	Synthesized
	Failed
)

// String returns the upper-case state name
func (s StageReached) String() string {
	switch s {
	case Received:
		return "RECEIVED"
	case Transcribed:
		return "TRANSCRIBED"
	case Translated:
		return "TRANSLATED"
	case Synthesized:
		return "SYNTHESIZED"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("StageReached(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON
func (s StageReached) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome is the terminal result of an utterance. Exactly one applies.
type Outcome string

const (
	OutcomeEmpty       Outcome = "empty"       // nothing was said
	OutcomeFailed      Outcome = "failed"      // a stage errored
	OutcomeSynthesized Outcome = "synthesized" // translated speech produced
)

// Skip reasons for utterances that end empty
const (
	SkipSilence    = "silence"
	SkipEnergyGate = "energy_gate"
	SkipIgnored    = "ignored_phrase"
	SkipRepeat     = "repeat"
)

// StageFailure describes the stage that failed and why
type StageFailure struct {
	Stage   string      `json:"stage"`
	Cause   stage.Cause `json:"cause"`
	Message string      `json:"message"`
	err     error
}

// Err returns the underlying error
func (f *StageFailure) Err() error {
	return f.err
}

// Utterance is one unit of audio-in/audio-out work. Only the orchestrator
// mutates it, and only forward through the stages.
type Utterance struct {
	ID           string                   `json:"id"`
	Stage        StageReached             `json:"stage_reached"`
	EnglishText  string                   `json:"english_text,omitempty"`
	RussianText  string                   `json:"russian_text,omitempty"`
	RussianAudio []int16                  `json:"-"`
	SampleRate   int                      `json:"sample_rate,omitempty"`
	InputSamples int                      `json:"input_samples"`
	Error        *StageFailure            `json:"error,omitempty"`
	SkipReason   string                   `json:"skip_reason,omitempty"`
	StartedAt    time.Time                `json:"started_at"`
	FinishedAt   time.Time                `json:"finished_at"`
	StageTimes   map[string]time.Duration `json:"stage_times,omitempty"`
}

func newUtterance(id string, inputSamples int) *Utterance {
	return &Utterance{
		ID:           id,
		Stage:        Received,
		InputSamples: inputSamples,
		StartedAt:    time.Now(),
		StageTimes:   make(map[string]time.Duration, 3),
	}
}

// advance moves the utterance exactly one stage forward. It panics on any
// other transition since that would be a programming error in the
// orchestrator.
func (u *Utterance) advance(to StageReached) {
	if u.Stage == Failed || to != u.Stage+1 || to > Synthesized {
		panic(fmt.Sprintf("utterance %s: illegal transition %s -> %s", u.ID, u.Stage, to))
	}
	u.Stage = to
}

// fail marks the utterance FAILED. Text produced by earlier stages stays
// attached for diagnostics.
func (u *Utterance) fail(s stage.Stage, err error) {
	failure := &StageFailure{Stage: s.String(), Cause: stage.CauseEngine, Message: err.Error(), err: err}

	var engineErr *stage.EngineError
	if errors.As(err, &engineErr) {
		failure.Stage = engineErr.Stage.String()
		failure.Cause = engineErr.Cause
	}

	u.Stage = Failed
	u.Error = failure
}

func (u *Utterance) skip(reason string) {
	u.SkipReason = reason
}

func (u *Utterance) finish() {
	u.FinishedAt = time.Now()
}

// Outcome returns the terminal outcome of a finished utterance
func (u *Utterance) Outcome() Outcome {
	switch u.Stage {
	case Failed:
		return OutcomeFailed
	case Synthesized:
		return OutcomeSynthesized
	default:
		return OutcomeEmpty
	}
}

// Latency returns the processing time of the utterance
func (u *Utterance) Latency() time.Duration {
	if u.FinishedAt.IsZero() {
		return time.Since(u.StartedAt)
	}
	return u.FinishedAt.Sub(u.StartedAt)
}

// AudioDuration returns the length of the synthesized audio
func (u *Utterance) AudioDuration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(len(u.RussianAudio)) * int64(time.Second) / int64(u.SampleRate))
}
