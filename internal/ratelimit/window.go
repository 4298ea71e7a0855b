package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Window admits at most Limit requests per identity within any trailing
// Period. Each identity has its own lock, so different identities never
// block each other.
type Window struct {
	limit  int
	period time.Duration

	identities sync.Map // string -> *identityWindow
}

type identityWindow struct {
	mu       sync.Mutex
	admitted []time.Time // ascending
	dead     bool        // removed by Prune, holders must reload
}

// New creates a sliding window limiter
func New(limit int, period time.Duration) (*Window, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be at least 1, got %d", limit)
	}
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %v", period)
	}
	return &Window{limit: limit, period: period}, nil
}

// Admit records a request from identity at now and reports whether it is
// within the limit. Rejected requests are not counted.
func (w *Window) Admit(identity string, now time.Time) bool {
	for {
		v, _ := w.identities.LoadOrStore(identity, &identityWindow{})
		if admitted, live := w.admit(v.(*identityWindow), now); live {
			return admitted
		}
	}
}

// admit applies the limit to iw. live is false when Prune removed iw after
// it was loaded, in which case nothing was recorded.
func (w *Window) admit(iw *identityWindow, now time.Time) (admitted, live bool) {
	iw.mu.Lock()
	defer iw.mu.Unlock()

	if iw.dead {
		return false, false
	}

	iw.expire(now.Add(-w.period))
	if len(iw.admitted) >= w.limit {
		return false, true
	}
	iw.admitted = append(iw.admitted, now)
	return true, true
}

// Remaining returns how many more requests identity may make at now
func (w *Window) Remaining(identity string, now time.Time) int {
	v, ok := w.identities.Load(identity)
	if !ok {
		return w.limit
	}
	iw := v.(*identityWindow)

	iw.mu.Lock()
	defer iw.mu.Unlock()

	iw.expire(now.Add(-w.period))
	return w.limit - len(iw.admitted)
}

// Prune forgets identities with no request inside the window ending at now
// and returns how many were removed.
func (w *Window) Prune(now time.Time) int {
	cutoff := now.Add(-w.period)
	removed := 0

	w.identities.Range(func(key, value any) bool {
		iw := value.(*identityWindow)
		iw.mu.Lock()
		defer iw.mu.Unlock()

		iw.expire(cutoff)
		if len(iw.admitted) == 0 && w.identities.CompareAndDelete(key, value) {
			iw.dead = true
			removed++
		}
		return true
	})

	return removed
}

// Limit returns the configured request limit
func (w *Window) Limit() int {
	return w.limit
}

// Period returns the configured window length
func (w *Window) Period() time.Duration {
	return w.period
}

// expire drops timestamps at or before cutoff. Caller holds mu.
func (iw *identityWindow) expire(cutoff time.Time) {
	i := 0
	for i < len(iw.admitted) && !iw.admitted[i].After(cutoff) {
		i++
	}
	if i > 0 {
		iw.admitted = append(iw.admitted[:0], iw.admitted[i:]...)
	}
}
