package biz

import (
	"strconv"
	"strings"
	"time"

	"HookGuard/internal/conf"
)

const (
	defaultMaxAge    = 5 * time.Minute
	defaultClockSkew = 30 * time.Second

	// Epoch values at or above this are milliseconds. 1e12 ms is September 2001;
	// 1e12 s is thousands of years away.
	epochMillisThreshold = 1_000_000_000_000
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// ReplayGuard rejects stale and future-dated request timestamps. It holds no state.
type ReplayGuard struct {
	maxAge time.Duration
	skew   time.Duration
	now    func() time.Time
}

// NewReplayGuard creates a guard from the replay settings of c.
func NewReplayGuard(c *conf.Gate) *ReplayGuard {
	g := &ReplayGuard{maxAge: defaultMaxAge, skew: defaultClockSkew, now: time.Now}
	if c != nil && c.Replay != nil {
		if c.Replay.MaxAge > 0 {
			g.maxAge = c.Replay.MaxAge
		}
		if c.Replay.ClockSkewTolerance > 0 {
			g.skew = c.Replay.ClockSkewTolerance
		}
	}
	return g
}

// CheckTimestamp validates header against the current time.
func (g *ReplayGuard) CheckTimestamp(header string) ValidationOutcome {
	return CheckTimestamp(header, g.now(), g.maxAge, g.skew)
}

// CheckTimestamp accepts a Unix epoch in seconds or milliseconds, or an ISO-8601
// string. It rejects values it cannot parse, values more than maxAge away from now,
// and values more than skew in the future.
func CheckTimestamp(header string, now time.Time, maxAge, skew time.Duration) ValidationOutcome {
	header = strings.TrimSpace(header)
	if header == "" {
		return failed(ReasonTimestampMissing, nil)
	}

	ts, format, ok := ParseTimestamp(header)
	if !ok {
		return failed(ReasonTimestampInvalid, nil)
	}

	delta := now.Sub(ts)
	meta := map[string]any{
		"format": format,
		"age_ms": delta.Milliseconds(),
	}
	if -delta > skew {
		return failed(ReasonTimestampFuture, meta)
	}
	if delta > maxAge || -delta > maxAge {
		return failed(ReasonTimestampExpired, meta)
	}
	return passed(meta)
}

// ParseTimestamp parses the timestamp header and names the format it matched.
func ParseTimestamp(s string) (time.Time, string, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return time.Time{}, "", false
		}
		if n >= epochMillisThreshold {
			return time.UnixMilli(n), "unix_ms", true
		}
		return time.Unix(n, 0), "unix_s", true
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, "iso8601", true
		}
	}
	return time.Time{}, "", false
}
