package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SyncTimestamp is a count of 10ms ticks since the Unix epoch.
type SyncTimestamp int64

// TickMillis is the quantization granularity of a SyncTimestamp.
const TickMillis = 10

// Zero is the timestamp a (user, collection) has before its first write.
const Zero SyncTimestamp = 0

// Never is a sentinel "expires at the end of time" timestamp. It is chosen
// far enough in the future that now+ttl arithmetic never overflows int64,
// while still comparing greater than any timestamp derived from a real
// clock reading.
const Never SyncTimestamp = 1<<62 - 1

// FromTime quantizes a wall-clock time down to whole 10ms ticks.
func FromTime(t time.Time) SyncTimestamp {
	return SyncTimestamp(t.UnixMilli() / TickMillis)
}

// AddSeconds returns t advanced by the given number of whole seconds,
// clamped so it never reaches the Never sentinel.
func (t SyncTimestamp) AddSeconds(seconds int64) SyncTimestamp {
	if t == Never {
		return Never
	}
	ticks := seconds * 1000 / TickMillis
	sum := t + SyncTimestamp(ticks)
	if sum < t || sum >= Never {
		// seconds was large enough to approach the Never sentinel; clamp
		// rather than let it compare equal to or past "forever".
		return Never - 1
	}
	return sum
}

// Duration returns the SyncTimestamp as a time.Duration since the epoch.
func (t SyncTimestamp) Duration() time.Duration {
	return time.Duration(t) * TickMillis * time.Millisecond
}

// Time returns the SyncTimestamp as a wall-clock time.
func (t SyncTimestamp) Time() time.Time {
	return time.UnixMilli(int64(t) * TickMillis)
}

// String renders the timestamp as decimal seconds with two fractional
// digits, the wire format used throughout the Sync 1.5 protocol.
func (t SyncTimestamp) String() string {
	whole := int64(t) / 100
	frac := int64(t) % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d", whole, frac)
}

// ParseSyncTimestamp parses the wire format produced by String.
func ParseSyncTimestamp(s string) (SyncTimestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("clock: empty timestamp")
	}
	parts := strings.SplitN(s, ".", 2)
	whole, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("clock: invalid timestamp %q: %w", s, err)
	}
	var frac int64
	if len(parts) == 2 {
		fracStr := parts[1]
		if len(fracStr) > 2 {
			fracStr = fracStr[:2]
		}
		for len(fracStr) < 2 {
			fracStr += "0"
		}
		frac, err = strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("clock: invalid timestamp %q: %w", s, err)
		}
	}
	return SyncTimestamp(whole*100 + frac), nil
}

// Clock yields the current SyncTimestamp. It is a one-method interface so
// tests can substitute a fake without the engine caring which backend it
// is driving.
type Clock interface {
	Now() SyncTimestamp
}

// System is the production Clock, backed by the wall clock.
type System struct{}

// Now returns the current wall-clock time quantized to 10ms ticks.
func (System) Now() SyncTimestamp {
	return FromTime(time.Now())
}

// Next computes the timestamp a write to a collection currently at
// previous should use, given a wall-clock reading. It never returns a value
// less than or equal to previous: if the wall clock has not advanced by at
// least one tick since the last write, it bumps forward by exactly one tick
// (invariant I1: modified >= previous_modified + 10ms).
func Next(wallClock, previous SyncTimestamp) SyncTimestamp {
	if wallClock > previous {
		return wallClock
	}
	return previous + 1
}

// ExpiryFromTTL converts a ttl-seconds-from-now input into an absolute
// expiry timestamp. A nil ttl means "never expire".
func ExpiryFromTTL(now SyncTimestamp, ttlSeconds *int64) SyncTimestamp {
	if ttlSeconds == nil {
		return Never
	}
	return now.AddSeconds(*ttlSeconds)
}

// IsExpired reports whether a row with the given expiry is invisible to a
// reader observing at now (invariant I2: expiry > now to be visible).
func IsExpired(expiry, now SyncTimestamp) bool {
	return !(expiry > now)
}
