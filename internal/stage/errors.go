package stage

import (
	"context"
	"errors"
	"fmt"
)

// Stage identifies one of the three pipeline stages
type Stage int

const (
	Transcription Stage = iota
	Translation
	Synthesis
)

// String returns the lower-case stage name used in logs, metrics and responses
func (s Stage) String() string {
	switch s {
	case Transcription:
		return "transcription"
	case Translation:
		return "translation"
	case Synthesis:
		return "synthesis"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Cause classifies why a stage failed
type Cause string

const (
	CauseTimeout      Cause = "TIMEOUT"
	CauseCanceled     Cause = "CANCELED"
	CauseInvalidInput Cause = "INVALID_INPUT"
	CauseEmptyInput   Cause = "EMPTY_INPUT"
	CauseEngine       Cause = "ENGINE"
)

// ErrTimeout is wrapped by every EngineError with CauseTimeout.
var ErrTimeout = errors.New("engine call timed out")

// EngineError reports the failure of one stage for one utterance.
type EngineError struct {
	Stage Stage
	Cause Cause
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Cause, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// newEngineError classifies err for stage. ctx is the context the engine call
// ran under.
func newEngineError(ctx context.Context, s Stage, err error) *EngineError {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return &EngineError{Stage: s, Cause: CauseTimeout, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, context.Canceled):
		return &EngineError{Stage: s, Cause: CauseCanceled, Err: err}
	default:
		return &EngineError{Stage: s, Cause: CauseEngine, Err: err}
	}
}
