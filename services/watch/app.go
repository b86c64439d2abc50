// Package watch is the application core: it owns AppState, turns events into
// state changes and tasks, and evaluates the power machine after every
// dispatch round.
package watch

import (
	"context"
	"time"

	"watchcode-go/bus"
	"watchcode-go/errcode"
	"watchcode-go/evq"
	"watchcode-go/hal"
	"watchcode-go/sched"
	"watchcode-go/services/display"
	"watchcode-go/services/power"
	"watchcode-go/services/timesync"
	"watchcode-go/types"
	"watchcode-go/x/critical"
	"watchcode-go/x/logx"
	"watchcode-go/x/timex"
)

// Bus topics.
var (
	TopicState  = bus.T("watch", "state")
	TopicPower  = bus.T("watch", "power")
	TopicHealth = bus.T("watch", "health")
	TopicSync   = bus.T("watch", "sync")
)

const (
	initRetries          = 3
	maxRefreshFailures   = 3
	refreshRetryDelay    = time.Second
	lowBatteryHysteresis = 5
)

type App struct {
	cfg   types.WatchConfig
	board hal.Board
	q     *evq.Queue
	ex    *sched.Executor
	pm    *power.Machine
	store Store
	conn  *bus.Connection

	comp    *display.Compositor
	refresh *display.RefreshTask
	syncT   *timesync.Task
	vibrate vibrateTask

	hVibrate, hSensor, hClock, hBattery, hRefresh, hSync sched.Handle

	health       types.Health
	lowBattery   bool
	refreshFails int
	reinitDone   bool
	refreshAt    time.Time // no refresh before this after a failure
	lastPress    [types.NumButtons + 1]time.Time
	minuteAt     time.Time
	batteryAt    time.Time
	clockReadAt  time.Time
	published    uint32
	overflows    uint32
	diag         sched.Stats // guarded by critical

	log logx.Logger
}

// New wires the core. ctx bounds background network work; conn may be nil.
func New(ctx context.Context, cfg types.WatchConfig, board hal.Board, q *evq.Queue, clock timex.Clock, conn *bus.Connection) *App {
	if clock == nil {
		clock = timex.SystemClock{}
	}
	now := clock.Now()
	a := &App{
		cfg:   cfg,
		board: board,
		q:     q,
		conn:  conn,
		pm:    power.New(power.ConfigFrom(cfg), now),
		comp:  display.NewCompositor(cfg.FullRefreshEvery, display.NewFace(cfg.UTCOffset)),
		log:   logx.New("watch"),
	}
	a.vibrate.a = a
	a.ex = sched.New(q, clock, a)
	a.ex.SetTicker(a)
	if board.Watchdog != nil {
		a.ex.SetWatchdog(board.Watchdog.Feed)
	}
	a.pm.OnTransition(a.onTransition)

	var rtc timesync.RTC
	if board.RTC != nil {
		rtc = board.RTC
	}
	a.refresh = display.NewRefreshTask(a.comp, board.Panel, a.renderSource, q.Push)
	a.syncT = timesync.NewTask(ctx, timesync.ConfigFrom(cfg), board.Network, rtc, q.Push)

	a.hVibrate = a.ex.MustAdd(sched.Spec{Name: "vibrate", Prio: sched.PrioWake, Cancellable: true, Task: &a.vibrate})
	a.hClock = a.ex.MustAdd(sched.Spec{Name: "clock", Prio: sched.PrioNormal, Task: sched.TaskFunc(a.pollClock)})
	a.hSensor = a.ex.MustAdd(sched.Spec{Name: "sensor", Prio: sched.PrioNormal, Task: sched.TaskFunc(a.pollSensor)})
	a.hBattery = a.ex.MustAdd(sched.Spec{Name: "battery", Prio: sched.PrioNormal, Task: sched.TaskFunc(a.pollBattery)})
	a.hRefresh = a.ex.MustAdd(sched.Spec{Name: "refresh", Prio: sched.PrioNormal, Task: a.refresh})
	a.hSync = a.ex.MustAdd(sched.Spec{Name: "sync", Prio: sched.PrioBestEffort, Task: a.syncT})
	return a
}

// Executor exposes the scheduler for Run and diagnostics.
func (a *App) Executor() *sched.Executor { return a.ex }

// Power exposes the state machine (read-only use).
func (a *App) Power() *power.Machine { return a.pm }

// Store exposes the model (read-only use).
func (a *App) Store() *Store { return &a.store }

// Health is the current peripheral report.
func (a *App) Health() types.Health { return a.health }

// Diagnostics returns the executor counters as of the last round. Safe from
// any goroutine.
func (a *App) Diagnostics() sched.Stats {
	st := critical.Enter()
	d := a.diag
	critical.Exit(st)
	return d
}

// Run drives the executor until ctx ends.
func (a *App) Run(ctx context.Context) error { return a.ex.Run(ctx) }

// Start initialises peripherals and seeds the first round from the wake cause.
func (a *App) Start(now time.Time) {
	a.initPeripherals()
	a.store.Update(func(s *AppState) {
		s.Dirty = true
		s.CurrentTime = now
	})
	a.clockReadAt = now
	a.ex.Start(a.hClock)
	a.ex.Start(a.hBattery)
	a.batteryAt = now.Add(a.cfg.BatteryInterval)

	a.log.Info("boot", "board", a.board.Name, "wake", a.board.WakeCause)
	switch a.board.WakeCause {
	case types.WakeButton:
		a.q.Push(evq.Button(a.board.WakeBtn))
	case types.WakeRTCAlarm:
		a.q.Push(evq.Alarm())
	case types.WakeAccel:
		a.q.Push(evq.Accel())
	}
	a.publishHealth()
	a.publishPower(a.pm.State(), a.pm.State(), "boot", now)
}

func (a *App) initPeripherals() {
	b := &a.board
	if b.Accel != nil {
		if a.health.Accel = initOne(types.PeriphAccel, b.Accel.Init); a.health.Accel.Link != types.LinkUp {
			b.Accel = nil
		}
	} else {
		a.health.Accel = notFitted()
	}
	if b.RTC != nil {
		if a.health.RTC = initOne(types.PeriphRTC, b.RTC.Init); a.health.RTC.Link != types.LinkUp {
			b.RTC = nil
		}
	} else {
		a.health.RTC = notFitted()
	}
	if b.Panel != nil {
		if a.health.Panel = initOne(types.PeriphPanel, b.Panel.Init); a.health.Panel.Link != types.LinkUp {
			b.Panel = nil
		}
	} else {
		a.health.Panel = notFitted()
	}
	a.health.Radio = statusOf(b.Network != nil)
	a.health.Battery = statusOf(b.Battery != nil)

	// Sync needs both ends: a radio to ask and an RTC to correct.
	if b.Network == nil || b.RTC == nil {
		a.pm.SetSyncEnabled(false)
	}
	a.refresh.SetPanel(b.Panel)
}

// initOne retries transient failures a few times; a permanent failure, or
// running out of retries, leaves the peripheral down for the session.
func initOne(name string, init func() error) types.PeripheralStatus {
	l := logx.New("init")
	var err error
	for i := 0; i < initRetries; i++ {
		if err = init(); err == nil {
			return types.PeripheralStatus{Link: types.LinkUp}
		}
		if errcode.ClassOf(err) != errcode.Transient {
			break
		}
	}
	l.Error("peripheral down", "name", name, "err", err)
	return types.PeripheralStatus{Link: types.LinkDown, Error: string(errcode.Of(err))}
}

func notFitted() types.PeripheralStatus {
	return types.PeripheralStatus{Link: types.LinkDown, Error: string(errcode.NotFitted)}
}

func statusOf(fitted bool) types.PeripheralStatus {
	if fitted {
		return types.PeripheralStatus{Link: types.LinkUp}
	}
	return notFitted()
}

func (a *App) renderSource() (types.StateSnapshot, types.Health) {
	a.health.Overflows = a.q.Overflows()
	return a.store.Snapshot(), a.health
}

// ---- Dispatch ----

// Dispatch implements sched.Dispatcher. Events arrive in queue order.
func (a *App) Dispatch(now time.Time, ev evq.Event) {
	if ev.Kind.IsWake() && a.pm.Wake(now, ev.Kind.String()) {
		if a.board.Sleeper != nil {
			a.board.Sleeper.ExitSleep()
		}
	}
	switch ev.Kind {
	case evq.ButtonPress:
		a.onButton(now, ev.Button)
	case evq.AccelInterrupt:
		a.ex.Start(a.hSensor)
	case evq.RtcAlarm:
		a.ex.Start(a.hClock)
	case evq.SyncComplete:
		a.onSynced(now, ev.Outcome)
	case evq.BatteryLow:
		a.onLowBattery()
	case evq.RefreshDone:
		a.onRefreshed(now, ev.Err)
	}
}

func (a *App) onButton(now time.Time, id types.ButtonID) {
	if id == types.ButtonNone || int(id) > types.NumButtons {
		return
	}
	if last := a.lastPress[id]; !last.IsZero() && now.Sub(last) < a.cfg.Debounce {
		return
	}
	a.lastPress[id] = now
	a.ex.Start(a.hVibrate)

	switch id {
	case types.ButtonTopRight:
		a.store.Update(func(s *AppState) { s.Mode = s.Mode.Next(); s.Dirty = true })
	case types.ButtonBottomRight:
		a.store.Update(func(s *AppState) { s.Mode = s.Mode.Prev(); s.Dirty = true })
	case types.ButtonTopLeft:
		a.comp.ForceFull()
		a.store.MarkDirty()
	case types.ButtonBottomLeft:
		if a.pm.SyncEnabled() {
			_ = a.pm.RequestSync(now)
		}
	}
}

func (a *App) onSynced(now time.Time, out types.SyncOutcome) {
	a.pm.SyncComplete(now, out.OK)
	a.store.Update(func(s *AppState) {
		s.LastSync = out
		s.Dirty = true
	})
	if out.OK {
		a.ex.Start(a.hClock)
	}
	a.publish(TopicSync, out, false)
}

func (a *App) onLowBattery() {
	if a.lowBattery {
		return
	}
	a.log.Warn("battery low, sync suspended")
	a.lowBattery = true
	a.health.LowBattery = true
	a.pm.SetSyncEnabled(false)
	a.store.MarkDirty()
	a.publishHealth()
}

func (a *App) recoverBattery() {
	a.lowBattery = false
	a.health.LowBattery = false
	a.pm.SetSyncEnabled(a.board.Network != nil && a.board.RTC != nil)
	a.store.MarkDirty()
	a.publishHealth()
}

func (a *App) onRefreshed(now time.Time, code errcode.Code) {
	var err error
	if code != errcode.OK {
		err = code
	}
	a.pm.RefreshDone(now, err)
	if err == nil {
		a.refreshFails = 0
		a.reinitDone = false
		a.refreshAt = time.Time{}
		return
	}
	a.refreshFails++
	a.log.Warn("refresh failed", "err", code, "count", a.refreshFails)
	if a.board.Panel == nil {
		return
	}
	a.refreshAt = now.Add(refreshRetryDelay)
	a.store.MarkDirty()
	if a.refreshFails < maxRefreshFailures {
		return
	}
	// Repeated failures: re-initialise the glass once before giving up on it.
	a.refreshFails = 0
	if !a.reinitDone {
		a.reinitDone = true
		if err = a.board.Panel.Init(); err == nil {
			a.comp.Invalidate()
			return
		}
	}
	a.log.Error("panel down", "err", err)
	a.board.Panel = nil
	a.refreshAt = time.Time{}
	a.health.Panel = types.PeripheralStatus{Link: types.LinkDown, Error: string(errcode.Of(err))}
	a.refresh.SetPanel(nil)
	a.publishHealth()
}

// ---- Tick ----

// Tick implements sched.Ticker: the per-round power evaluation.
func (a *App) Tick(now time.Time) {
	d := a.ex.Stats()
	st := critical.Enter()
	a.diag = d
	critical.Exit(st)

	a.publishState()
	if n := a.q.Overflows(); n != a.overflows {
		a.overflows = n
		a.health.Overflows = n
		a.log.Warn("events dropped", "total", n)
		a.publishHealth()
	}
	if a.pm.State() != types.StateActive {
		return
	}

	if !a.minuteAt.IsZero() && !now.Before(a.minuteAt) {
		a.ex.Start(a.hClock)
	}
	if !now.Before(a.batteryAt) {
		a.batteryAt = now.Add(a.cfg.BatteryInterval)
		a.ex.Start(a.hBattery)
	}

	if a.store.Get().Dirty {
		switch {
		case a.board.Panel == nil:
			a.store.TakeDirty()
		case now.Before(a.refreshAt):
			// backing off a failing panel
		case a.pm.RequestRefresh(now):
			a.store.TakeDirty()
			a.ex.Start(a.hRefresh)
			return
		}
	}

	if a.pm.SyncDue(now) {
		if a.pm.BeginSync(now, a.linkAvailable()) {
			a.syncT.SetAttempt(a.pm.Attempts())
			a.ex.Start(a.hSync)
			return
		}
	}

	quiescent := a.q.Empty() && !a.ex.Busy() && !a.store.Get().Dirty
	if a.pm.TrySleep(now, quiescent) {
		a.enterSleep(now)
	}
}

func (a *App) linkAvailable() bool {
	if a.board.Network == nil {
		return false
	}
	if a.board.LinkAvailable != nil {
		return a.board.LinkAvailable()
	}
	return true
}

// enterSleep powers down around the SLEEPING state: stop cancellable work,
// park the glass, and arm the RTC for the next minute or sync.
func (a *App) enterSleep(now time.Time) {
	if n := a.ex.CancelCancellable(now); n > 0 {
		a.log.Debug("cancelled on sleep", "tasks", n)
	}
	if p := a.board.Panel; p != nil {
		if err := p.Sleep(); err != nil {
			a.log.Warn("panel sleep", "err", err)
		}
	}

	// RTC time advances with the executor clock since the last read.
	rt := a.store.Get().CurrentTime.Add(now.Sub(a.clockReadAt))
	alarm := timex.NextMinute(rt)
	if a.pm.SyncEnabled() {
		if due := rt.Add(a.pm.SyncDueAt().Sub(now)); due.Before(alarm) {
			alarm = due
		}
	}
	if rtc := a.board.RTC; rtc != nil {
		if err := rtc.SetAlarm(alarm); err != nil {
			a.log.Warn("rtc alarm", "err", err)
		}
	}
	if s := a.board.Sleeper; s != nil {
		if err := s.EnterSleep(alarm); err != nil {
			a.log.Warn("sleep", "err", err)
		}
	}
}

// NextDeadline implements sched.Ticker.
func (a *App) NextDeadline() (time.Time, bool) {
	at, ok := a.pm.NextDeadline()
	if !ok {
		return time.Time{}, false
	}
	at = timex.Earliest(at, a.minuteAt)
	at = timex.Earliest(at, a.batteryAt)
	at = timex.Earliest(at, a.refreshAt)
	return at, true
}

// ---- Bus ----

func (a *App) onTransition(from, to types.PowerState, reason string, at time.Time) {
	a.log.Info("power", "from", from, "to", to, "reason", reason)
	a.publishPower(from, to, reason, at)
}

func (a *App) publishPower(from, to types.PowerState, reason string, at time.Time) {
	dl, _ := a.pm.NextDeadline()
	a.publish(TopicPower, types.PowerValue{State: to, Prev: from, Reason: reason, At: at, Deadline: dl}, true)
}

func (a *App) publishState() {
	if v := a.store.Version(); v != a.published {
		a.published = v
		a.publish(TopicState, a.store.Snapshot(), true)
	}
}

func (a *App) publishHealth() { a.publish(TopicHealth, a.health, true) }

func (a *App) publish(t bus.Topic, payload any, retained bool) {
	if a.conn == nil {
		return
	}
	a.conn.Publish(&bus.Message{Topic: t, Payload: payload, Retained: retained})
}
