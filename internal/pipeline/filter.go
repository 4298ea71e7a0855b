package pipeline

import (
	"strings"
	"sync"
)

// TranscriptFilter drops hallucinated or duplicated transcripts in streaming
// mode: configured phrases and an immediate repeat of the previous accepted
// transcript.
type TranscriptFilter struct {
	ignore      map[string]struct{}
	dropRepeats bool

	mu   sync.Mutex
	last string
}

// NewTranscriptFilter creates a filter. Phrases are matched case-insensitively
// with surrounding punctuation ignored.
func NewTranscriptFilter(ignorePhrases []string, dropRepeats bool) *TranscriptFilter {
	ignore := make(map[string]struct{}, len(ignorePhrases))
	for _, p := range ignorePhrases {
		if n := normalizeTranscript(p); n != "" {
			ignore[n] = struct{}{}
		}
	}
	return &TranscriptFilter{ignore: ignore, dropRepeats: dropRepeats}
}

// Check returns a skip reason for text, or "" if it should be processed.
// Accepted text becomes the new reference for repeat detection.
func (f *TranscriptFilter) Check(text string) string {
	n := normalizeTranscript(text)

	if _, ok := f.ignore[n]; ok {
		return SkipIgnored
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dropRepeats && n == f.last {
		return SkipRepeat
	}
	f.last = n
	return ""
}

// Reset forgets the previous transcript
func (f *TranscriptFilter) Reset() {
	f.mu.Lock()
	f.last = ""
	f.mu.Unlock()
}

func normalizeTranscript(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".,!?;:\"' ")
	return strings.Join(strings.Fields(s), " ")
}
