package watch

import (
	"time"

	"watchcode-go/evq"
	"watchcode-go/sched"
	"watchcode-go/types"
	"watchcode-go/x/timex"
)

// vibrateTask drives one motor pulse. Cancelling it stops the motor.
type vibrateTask struct {
	a     *App
	on    bool
	until time.Time
}

func (t *vibrateTask) Poll(c *sched.Ctx) sched.Status {
	v := t.a.board.Vibrator
	if v == nil {
		return sched.Done
	}
	if c.Cancelled() || (t.on && !c.Now().Before(t.until)) {
		v.Set(false)
		t.on = false
		return sched.Done
	}
	if !t.on {
		v.Set(true)
		t.on = true
		t.until = c.Now().Add(t.a.cfg.VibratePulse)
	}
	c.WakeAt(t.until)
	return sched.Pending
}

// pollSensor reads the step counter after an accelerometer interrupt.
func (a *App) pollSensor(c *sched.Ctx) sched.Status {
	acc := a.board.Accel
	if acc == nil {
		return sched.Done
	}
	if !c.Lease(sched.BusI2C) {
		return sched.Pending
	}
	steps, err := acc.ReadSteps()
	c.Release(sched.BusI2C)
	if err != nil {
		a.log.Warn("step read", "err", err)
		return sched.Done
	}
	a.store.Update(func(s *AppState) {
		if s.StepCount != steps {
			s.StepCount = steps
			if s.Mode == types.ModeSteps {
				s.Dirty = true
			}
		}
	})
	return sched.Done
}

// pollClock reads the RTC, acknowledges its alarm and schedules the next
// minute tick.
func (a *App) pollClock(c *sched.Ctx) sched.Status {
	now := c.Now()
	rt := now
	if rtc := a.board.RTC; rtc != nil {
		if !c.Lease(sched.BusI2C) {
			return sched.Pending
		}
		t, err := rtc.ReadTime()
		if err == nil {
			err = rtc.ClearAlarm()
		}
		c.Release(sched.BusI2C)
		if err != nil {
			a.log.Warn("rtc read", "err", err)
			t = a.store.Get().CurrentTime.Add(now.Sub(a.clockReadAt))
		}
		rt = t
	}
	a.clockReadAt = now
	a.minuteAt = now.Add(timex.NextMinute(rt).Sub(rt))

	a.store.Update(func(s *AppState) {
		if s.CurrentTime.Truncate(time.Minute) != rt.Truncate(time.Minute) {
			s.Dirty = true
		}
		s.CurrentTime = rt
	})
	return sched.Done
}

// pollBattery samples the cell and raises BatteryLow on the falling edge.
func (a *App) pollBattery(c *sched.Ctx) sched.Status {
	b := a.board.Battery
	if b == nil {
		return sched.Done
	}
	mv, err := b.ReadMilliVolts()
	if err != nil {
		a.log.Warn("battery read", "err", err)
		return sched.Done
	}
	pct := types.BatteryPercent(mv)
	charging := b.Charging()
	a.store.Update(func(s *AppState) {
		if s.BatteryPct != pct || s.Charging != charging {
			s.Dirty = true
		}
		s.BatteryMV = mv
		s.BatteryPct = pct
		s.Charging = charging
	})

	low := a.cfg.LowBatteryPercent
	switch {
	case !a.lowBattery && pct < low && !charging:
		a.q.Push(evq.LowBattery())
	case a.lowBattery && (charging || pct >= low+lowBatteryHysteresis):
		a.recoverBattery()
	}
	return sched.Done
}
