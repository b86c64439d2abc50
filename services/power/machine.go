// Package power owns the single power/display state of the watch and the
// timers that move it: idle expiry and the network sync schedule.
//
// The machine is passive. Callers feed it activity and completions and ask it
// whether a transition is allowed; it never touches peripherals itself.
package power

import (
	"time"

	"watchcode-go/types"
	"watchcode-go/x/logx"
	"watchcode-go/x/mathx"
)

// Config holds the cadence tunables.
type Config struct {
	IdleTimeout  time.Duration
	SyncInterval time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	MaxAttempts  int
	// SyncOnBoot makes the first sync due immediately instead of one
	// interval after boot.
	SyncOnBoot bool
}

// ConfigFrom extracts the machine's settings from the watch config.
func ConfigFrom(c types.WatchConfig) Config {
	return Config{
		IdleTimeout:  c.IdleTimeout,
		SyncInterval: c.SyncInterval,
		BackoffBase:  c.BackoffBase,
		BackoffMax:   c.BackoffMax,
		MaxAttempts:  c.MaxSyncAttempts,
		SyncOnBoot:   true,
	}
}

// TransitionFunc observes every state change.
type TransitionFunc func(from, to types.PowerState, reason string, at time.Time)

type Machine struct {
	cfg   Config
	state types.PowerState

	lastActivity time.Time

	syncEnabled bool
	syncDue     time.Time
	periodStart time.Time
	attempt     int  // attempts used in the current period
	exhausted   bool // the period's attempts are spent

	onTransition TransitionFunc
	log          logx.Logger
}

// New starts the machine in ACTIVE at now.
func New(cfg Config, now time.Time) *Machine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	m := &Machine{
		cfg:          cfg,
		state:        types.StateActive,
		lastActivity: now,
		syncEnabled:  true,
		periodStart:  now,
		log:          logx.New("power"),
	}
	m.syncDue = now.Add(cfg.SyncInterval)
	if cfg.SyncOnBoot {
		m.syncDue = now
	}
	return m
}

// OnTransition installs the observer. Setup only.
func (m *Machine) OnTransition(fn TransitionFunc) { m.onTransition = fn }

func (m *Machine) State() types.PowerState { return m.state }

func (m *Machine) set(to types.PowerState, reason string, now time.Time) {
	from := m.state
	m.state = to
	m.log.Debug("transition", "from", from, "to", to, "reason", reason)
	if m.onTransition != nil {
		m.onTransition(from, to, reason, now)
	}
}

// Activity resets the idle timer.
func (m *Machine) Activity(now time.Time) {
	if now.After(m.lastActivity) {
		m.lastActivity = now
	}
}

// IdleDeadline is when the device may sleep if nothing else happens.
func (m *Machine) IdleDeadline() time.Time { return m.lastActivity.Add(m.cfg.IdleTimeout) }

// ---- Refresh ----

// RequestRefresh moves ACTIVE to REFRESH. It reports false when a refresh is
// already in flight or another state holds the device.
func (m *Machine) RequestRefresh(now time.Time) bool {
	if m.state != types.StateActive {
		return false
	}
	m.set(types.StateRefresh, "dirty", now)
	return true
}

// RefreshDone ends the refresh. A display error still returns to ACTIVE; the
// caller decides how to recover the panel.
func (m *Machine) RefreshDone(now time.Time, err error) {
	if m.state != types.StateRefresh {
		return
	}
	reason := "refresh-done"
	if err != nil {
		reason = "refresh-failed"
	}
	m.set(types.StateActive, reason, now)
}

// ---- Sync ----

// SetSyncEnabled suspends or resumes periodic sync (no radio, low battery).
func (m *Machine) SetSyncEnabled(on bool) { m.syncEnabled = on }

func (m *Machine) SyncEnabled() bool { return m.syncEnabled }

// SyncDueAt is the next scheduled attempt.
func (m *Machine) SyncDueAt() time.Time { return m.syncDue }

// Attempts is the number of attempts used in the current period.
func (m *Machine) Attempts() int { return m.attempt }

// SyncDue reports whether an attempt should start now.
func (m *Machine) SyncDue(now time.Time) bool {
	return m.syncEnabled && !now.Before(m.syncDue)
}

// RequestSync makes a sync due immediately. It draws on the current
// period's attempts and is refused once they are spent.
func (m *Machine) RequestSync(now time.Time) bool {
	if m.exhausted && now.Before(m.syncDue) {
		m.log.Info("manual sync refused, attempts spent")
		return false
	}
	m.syncDue = now
	return true
}

// BeginSync moves ACTIVE to SYNCING when a sync is due. If the link is not
// available the attempt is skipped and the schedule moves to the next period.
func (m *Machine) BeginSync(now time.Time, linkAvailable bool) bool {
	if m.state != types.StateActive || !m.SyncDue(now) {
		return false
	}
	if m.attempt == 0 {
		m.periodStart = now
		m.exhausted = false
	}
	if !linkAvailable {
		m.log.Info("sync skipped, no link")
		m.deferToNextPeriod(now)
		return false
	}
	m.attempt++
	m.set(types.StateSyncing, "sync-due", now)
	return true
}

// SyncComplete ends SYNCING. Failures retry with exponential backoff until the
// attempt budget for the period is spent.
func (m *Machine) SyncComplete(now time.Time, ok bool) {
	if m.state != types.StateSyncing {
		return
	}
	switch {
	case ok:
		m.deferToNextPeriod(now)
		m.set(types.StateActive, "sync-ok", now)
	case m.attempt >= m.cfg.MaxAttempts:
		m.log.Warn("sync attempts exhausted", "attempts", m.attempt)
		m.deferToNextPeriod(now)
		m.exhausted = true
		m.set(types.StateActive, "sync-exhausted", now)
	default:
		m.syncDue = now.Add(m.Backoff(m.attempt))
		m.set(types.StateActive, "sync-retry", now)
	}
}

// Backoff is the delay after the given failed attempt: base, 2*base, 4*base,
// capped at BackoffMax.
func (m *Machine) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := m.cfg.BackoffBase
	for i := 1; i < attempt && d < m.cfg.BackoffMax; i++ {
		d <<= 1
	}
	return mathx.Min(d, m.cfg.BackoffMax)
}

func (m *Machine) deferToNextPeriod(now time.Time) {
	next := m.periodStart.Add(m.cfg.SyncInterval)
	if !next.After(now) {
		next = now.Add(m.cfg.SyncInterval)
	}
	m.syncDue = next
	m.attempt = 0
}

// ---- Sleep ----

// TrySleep enters SLEEPING when ACTIVE, quiescent (empty queue, no
// non-cancellable task) and idle for the full timeout.
func (m *Machine) TrySleep(now time.Time, quiescent bool) bool {
	if m.state != types.StateActive || !quiescent {
		return false
	}
	if now.Before(m.IdleDeadline()) {
		return false
	}
	m.set(types.StateSleeping, "idle", now)
	return true
}

// Wake leaves SLEEPING. Any call counts as activity.
func (m *Machine) Wake(now time.Time, reason string) bool {
	m.Activity(now)
	if m.state != types.StateSleeping {
		return false
	}
	m.set(types.StateActive, reason, now)
	return true
}

// NextDeadline is the next instant the machine wants to be evaluated. While
// sleeping only an external wake (RTC alarm included) moves it.
func (m *Machine) NextDeadline() (time.Time, bool) {
	if m.state != types.StateActive {
		return time.Time{}, false
	}
	at := m.IdleDeadline()
	if m.syncEnabled && m.syncDue.Before(at) {
		at = m.syncDue
	}
	return at, true
}
