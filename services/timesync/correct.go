package timesync

import (
	"time"

	"watchcode-go/x/mathx"
)

// Correct computes the correction that moves rtc toward server. Drift is
// rtc-server; the applied step has magnitude min(|drift|, maxJump) and the
// opposite sign. A non-positive maxJump disables clamping.
func Correct(rtc, server time.Time, maxJump time.Duration) (drift, applied time.Duration, clamped bool) {
	drift = rtc.Sub(server)
	applied = -drift
	if maxJump <= 0 {
		return drift, applied, false
	}
	step := mathx.Clamp(applied, -maxJump, maxJump)
	return drift, step, step != applied
}
