package timex

import "time"

// ResetTimer stops, drains and re-arms t. Negative durations fire at once.
func ResetTimer(t *time.Timer, d time.Duration) {
	if d < 0 {
		d = 0
	}
	if !t.Stop() {
		DrainTimer(t)
	}
	t.Reset(d)
}

// DrainTimer empties t.C without blocking.
func DrainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}

// Earliest returns the earlier of two optional instants. The zero time means
// "none".
func Earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	}
	return a
}

// NextMinute returns the start of the minute after t.
func NextMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute).Add(time.Minute)
}

// Clock abstracts wall time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
