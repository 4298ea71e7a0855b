package engine

import (
	"context"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/naipunyaailabs/sts/internal/audio"
)

// Stub engines are deterministic and offline. They let the service run end to
// end without any model server.

// StubTranscriber returns a fixed phrase for any buffer that is not silent.
type StubTranscriber struct {
	Phrase    string
	Threshold float64 // peak level below which the buffer counts as silent
}

// Transcribe returns Phrase, or "" for quiet input
func (s *StubTranscriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if audio.Peak(samples) <= s.Threshold {
		return "", nil
	}
	return s.Phrase, nil
}

var latinToCyrillic = map[string]string{
	"shch": "щ", "sch": "щ", "zh": "ж", "kh": "х", "ts": "ц", "ch": "ч", "sh": "ш",
	"yu": "ю", "ya": "я", "yo": "ё", "th": "т", "ph": "ф",
	"a": "а", "b": "б", "c": "к", "d": "д", "e": "е", "f": "ф", "g": "г", "h": "х",
	"i": "и", "j": "дж", "k": "к", "l": "л", "m": "м", "n": "н", "o": "о", "p": "п",
	"q": "к", "r": "р", "s": "с", "t": "т", "u": "у", "v": "в", "w": "в", "x": "кс",
	"y": "й", "z": "з",
}

// StubTranslator transliterates Latin letters to Cyrillic.
type StubTranslator struct{}

// Translate returns a Cyrillic rendering of text
func (StubTranslator) Translate(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return Transliterate(text), nil
}

// Transliterate maps Latin letters to Cyrillic, preferring the longest digraph
// and keeping the case of the first letter. Other runes pass through.
func Transliterate(text string) string {
	var b strings.Builder

	for i := 0; i < len(text); {
		matched := false
		for n := 4; n >= 1 && text[i] < utf8.RuneSelf; n-- {
			if i+n > len(text) {
				continue
			}
			cyr, ok := latinToCyrillic[strings.ToLower(text[i:i+n])]
			if !ok {
				continue
			}
			first, _ := utf8.DecodeRuneInString(text[i:])
			if unicode.IsUpper(first) {
				r, size := utf8.DecodeRuneInString(cyr)
				cyr = string(unicode.ToUpper(r)) + cyr[size:]
			}
			b.WriteString(cyr)
			i += n
			matched = true
			break
		}
		if !matched {
			r, size := utf8.DecodeRuneInString(text[i:])
			b.WriteRune(r)
			i += size
		}
	}

	return b.String()
}

// StubSynthesizer renders text as a sine tone, 60ms per rune.
type StubSynthesizer struct {
	SampleRate int
	Frequency  float64
}

// Synthesize returns a tone whose length is proportional to the text
func (s *StubSynthesizer) Synthesize(ctx context.Context, text string) ([]int16, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	rate := s.SampleRate
	if rate <= 0 {
		rate = 22050
	}
	freq := s.Frequency
	if freq <= 0 {
		freq = 440
	}

	n := utf8.RuneCountInString(text) * rate * 60 / 1000
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}

	return samples, rate, nil
}
