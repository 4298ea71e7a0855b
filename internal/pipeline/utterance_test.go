package pipeline

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/naipunyaailabs/sts/internal/stage"
)

func TestUtteranceAdvanceIsMonotonic(t *testing.T) {
	u := newUtterance("u1", 10)

	u.advance(Transcribed)
	u.advance(Translated)
	u.advance(Synthesized)

	if u.Stage != Synthesized {
		t.Fatalf("Expected SYNTHESIZED, got %s", u.Stage)
	}
}

func TestUtteranceIllegalTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(u *Utterance)
		to    StageReached
	}{
		{"skip a stage", func(u *Utterance) {}, Translated},
		{"go backwards", func(u *Utterance) { u.advance(Transcribed) }, Received},
		{"advance after failure", func(u *Utterance) { u.fail(stage.Transcription, errors.New("x")) }, Transcribed},
		{"advance past synthesized", func(u *Utterance) {
			u.advance(Transcribed)
			u.advance(Translated)
			u.advance(Synthesized)
		}, Failed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newUtterance("u", 0)
			tt.setup(u)
			defer func() {
				if recover() == nil {
					t.Error("Expected panic for illegal transition")
				}
			}()
			u.advance(tt.to)
		})
	}
}

func TestUtteranceFailClassifiesEngineErrors(t *testing.T) {
	u := newUtterance("u", 0)
	u.fail(stage.Translation, &stage.EngineError{Stage: stage.Translation, Cause: stage.CauseTimeout, Err: stage.ErrTimeout})

	if u.Error.Stage != "translation" || u.Error.Cause != stage.CauseTimeout {
		t.Errorf("Unexpected failure: %+v", u.Error)
	}
	if !errors.Is(u.Error.Err(), stage.ErrTimeout) {
		t.Error("Expected wrapped ErrTimeout")
	}
}

func TestUtteranceJSON(t *testing.T) {
	u := newUtterance("u", 0)
	u.advance(Transcribed)
	u.finish()

	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"stage_reached":"TRANSCRIBED"`) {
		t.Errorf("Expected stage name in JSON, got %s", data)
	}
}

func TestTranscriptFilterNormalization(t *testing.T) {
	f := NewTranscriptFilter([]string{"Thank you", "thanks for watching!"}, false)

	for _, text := range []string{"thank you", "Thank you.", "  THANK   YOU!! ", "Thanks for watching"} {
		if got := f.Check(text); got != SkipIgnored {
			t.Errorf("Check(%q) = %q, want %q", text, got, SkipIgnored)
		}
	}
	if got := f.Check("thank you very much"); got != "" {
		t.Errorf("Longer phrase should pass, got %q", got)
	}
	if got := f.Check("thank you very much"); got != "" {
		t.Errorf("Repeats pass when repeat dropping is off, got %q", got)
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus()
	events, unsubscribe := bus.Subscribe(1)

	u := newUtterance("u", 0)
	bus.Publish(ModeStream, u)
	bus.Publish(ModeStream, u)

	if bus.Dropped() != 1 {
		t.Errorf("Expected 1 dropped event, got %d", bus.Dropped())
	}
	if ev := <-events; ev.Seq != 1 {
		t.Errorf("Expected first event, got seq %d", ev.Seq)
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-events; ok {
		t.Error("Expected closed channel after unsubscribe")
	}

	bus.Close()
	late, _ := bus.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("Expected closed channel after bus close")
	}
}
