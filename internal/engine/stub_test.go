package engine

import (
	"context"
	"testing"
	"unicode"

	"github.com/naipunyaailabs/sts/internal/config"
)

func TestTransliterate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"privet", "привет"},
		{"Shchuka", "Щука"},
		{"Hello, how are you?", "Хелло, хов аре ёу?"},
		{"123 !", "123 !"},
		{"уже", "уже"},
	}

	for _, tt := range tests {
		if got := Transliterate(tt.in); got != tt.want {
			t.Errorf("Transliterate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStubTranscriber(t *testing.T) {
	s := &StubTranscriber{Phrase: "Hello, how are you?", Threshold: 0.01}

	text, err := s.Transcribe(context.Background(), make([]int16, 100), 16000)
	if err != nil || text != "" {
		t.Errorf("Expected empty transcript for silence, got %q, %v", text, err)
	}

	text, err = s.Transcribe(context.Background(), []int16{0, 5000, -5000}, 16000)
	if err != nil || text != "Hello, how are you?" {
		t.Errorf("Expected phrase, got %q, %v", text, err)
	}
}

func TestStubSynthesizerLength(t *testing.T) {
	s := &StubSynthesizer{SampleRate: 22050}

	samples, rate, err := s.Synthesize(context.Background(), "привет")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if rate != 22050 {
		t.Errorf("Expected rate 22050, got %d", rate)
	}
	if want := 6 * 22050 * 60 / 1000; len(samples) != want {
		t.Errorf("Expected %d samples, got %d", want, len(samples))
	}
}

func TestNewStubSet(t *testing.T) {
	cfg := config.Default().Engines
	cfg.Kind = config.EngineStub

	set, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer set.Close()

	russian, err := set.Translator.Translate(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	for _, r := range russian {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Cyrillic, r) {
			t.Errorf("Expected only Cyrillic letters, got %q", russian)
			break
		}
	}
	if err := set.Probe(context.Background()); err != nil {
		t.Errorf("Stub probe should succeed, got %v", err)
	}
}

func TestNewUnknownKind(t *testing.T) {
	cfg := config.Default().Engines
	cfg.Kind = "quantum"
	if _, err := New(cfg, nil); err == nil {
		t.Error("Expected error for unknown kind")
	}
}
