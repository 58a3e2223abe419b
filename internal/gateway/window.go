package gateway

import (
	"context"
	"sync"
	"time"
)

// DefaultSpan is the rolling window length budgets are measured over.
const DefaultSpan = time.Minute

// Limits caps admitted calls within any rolling Span. A zero cap is unlimited.
type Limits struct {
	MaxCalls  int
	MaxTokens int
	Span      time.Duration
}

func (l Limits) span() time.Duration {
	if l.Span <= 0 {
		return DefaultSpan
	}
	return l.Span
}

// Usage summarizes the calls currently inside the window.
type Usage struct {
	Calls  int
	Tokens int
}

// Window is a budget ledger.
type Window interface {
	// Reserve records a call of units tokens at now when it fits. Otherwise it
	// records nothing and returns how long until it could fit.
	Reserve(ctx context.Context, now time.Time, units int) (time.Duration, error)
	Usage(ctx context.Context, now time.Time) (Usage, error)
}

type entry struct {
	at    time.Time
	units int
}

// admit decides whether a call of units fits alongside live entries, which
// must be ordered oldest first and all newer than now-span. When it does not
// fit, wait is the time until enough of the oldest entries expire.
//
// A call larger than the token cap is admitted once the window is empty.
func admit(live []entry, limits Limits, now time.Time, units int) (bool, time.Duration) {
	fits := func(calls, tokens int) bool {
		if limits.MaxCalls > 0 && calls+1 > limits.MaxCalls {
			return false
		}
		if limits.MaxTokens > 0 && calls > 0 && tokens+units > limits.MaxTokens {
			return false
		}
		return true
	}

	calls := len(live)
	tokens := 0
	for _, e := range live {
		tokens += e.units
	}
	if fits(calls, tokens) {
		return true, 0
	}
	for _, e := range live {
		calls--
		tokens -= e.units
		if fits(calls, tokens) {
			return false, e.at.Add(limits.span()).Sub(now)
		}
	}
	return false, limits.span()
}

// MemoryWindow is an in-process sliding ledger.
type MemoryWindow struct {
	limits Limits

	mu      sync.Mutex
	entries []entry
}

// NewMemoryWindow returns an empty in-process window.
func NewMemoryWindow(limits Limits) *MemoryWindow {
	return &MemoryWindow{limits: limits}
}

func (w *MemoryWindow) prune(now time.Time) {
	cutoff := now.Add(-w.limits.span())
	i := 0
	for i < len(w.entries) && !w.entries[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = append(w.entries[:0], w.entries[i:]...)
	}
}

// Reserve implements Window.
func (w *MemoryWindow) Reserve(_ context.Context, now time.Time, units int) (time.Duration, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	ok, wait := admit(w.entries, w.limits, now, units)
	if !ok {
		return wait, nil
	}
	w.entries = append(w.entries, entry{at: now, units: units})
	return 0, nil
}

// Usage implements Window.
func (w *MemoryWindow) Usage(_ context.Context, now time.Time) (Usage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	u := Usage{Calls: len(w.entries)}
	for _, e := range w.entries {
		u.Tokens += e.units
	}
	return u, nil
}
