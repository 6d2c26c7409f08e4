package model

// WindowEntry is the sliding window state of one rate-limit key.
//
// Every timestamp lies within [now-window, now] after Prune; an entry whose list is
// empty after pruning is garbage and may be dropped by its owner.
type WindowEntry struct {
	// Timestamps holds admitted request times in epoch milliseconds, oldest first.
	Timestamps  []int64 `json:"timestamps"`
	FirstSeenAt int64   `json:"first_seen_at"`
}

// WindowDecision is the result of one check-and-record call.
type WindowDecision struct {
	Allowed   bool
	Count     int
	Remaining int
	// ResetInMs is the time until the oldest retained request leaves the window.
	ResetInMs int64
	// Saturated is set when the key was refused because the store tracks too many keys.
	Saturated bool
}

// NewWindowEntry creates an empty entry first observed at nowMs.
func NewWindowEntry(nowMs int64) *WindowEntry {
	return &WindowEntry{FirstSeenAt: nowMs}
}

// Prune drops timestamps older than nowMs-windowMs.
func (e *WindowEntry) Prune(nowMs, windowMs int64) {
	cutoff := nowMs - windowMs
	i := 0
	for i < len(e.Timestamps) && e.Timestamps[i] < cutoff {
		i++
	}
	if i > 0 {
		e.Timestamps = append(e.Timestamps[:0], e.Timestamps[i:]...)
	}
}

// Empty reports whether the entry tracks no request.
func (e *WindowEntry) Empty() bool {
	return len(e.Timestamps) == 0
}

// Slide prunes the window and, when fewer than max requests remain in it, records
// nowMs and admits the request.
func (e *WindowEntry) Slide(nowMs, windowMs int64, max int) WindowDecision {
	e.Prune(nowMs, windowMs)

	if len(e.Timestamps) >= max {
		return WindowDecision{
			Allowed:   false,
			Count:     len(e.Timestamps),
			Remaining: 0,
			ResetInMs: e.resetIn(nowMs, windowMs),
		}
	}

	e.Timestamps = append(e.Timestamps, nowMs)
	return WindowDecision{
		Allowed:   true,
		Count:     len(e.Timestamps),
		Remaining: max - len(e.Timestamps),
		ResetInMs: e.resetIn(nowMs, windowMs),
	}
}

// resetIn returns when the oldest timestamp stops counting. A timestamp t counts
// while now <= t+window.
func (e *WindowEntry) resetIn(nowMs, windowMs int64) int64 {
	if len(e.Timestamps) == 0 {
		return 0
	}
	reset := e.Timestamps[0] + windowMs + 1 - nowMs
	if reset < 0 {
		return 0
	}
	return reset
}
