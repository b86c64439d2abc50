//go:build !tinygo

package platform

import (
	"sync"
	"time"

	"github.com/beevik/ntp"

	"watchcode-go/errcode"
	"watchcode-go/evq"
	"watchcode-go/hal"
	"watchcode-go/services/display"
	"watchcode-go/services/timesync"
	"watchcode-go/types"
	"watchcode-go/x/logx"
)

// SimOptions shape the simulated watch.
type SimOptions struct {
	// RTCOffset is the initial RTC error against the host clock.
	RTCOffset time.Duration
	// PartialLatency and FullLatency are how long the panel stays busy.
	PartialLatency time.Duration
	FullLatency    time.Duration
	BatteryMV      uint32
	// RealNTP queries a real server; otherwise the host clock answers.
	RealNTP bool
	// Mirror, if set, also receives every frame (e.g. an e-paper HAT).
	Mirror display.Panel
	// NVRAM, if set, persists RTC error and step count.
	NVRAM *NVRAM
	// WakeCause and WakeBtn are reported as the boot reason.
	WakeCause types.WakeCause
	WakeBtn   types.ButtonID
}

// Sim is a simulated watch. Its RTC runs on the host clock plus an error
// that the injection helpers can change. All methods are safe for
// concurrent use.
type Sim struct {
	q   *evq.Queue
	opt SimOptions
	now func() time.Time

	mu        sync.Mutex
	rtcOffset time.Duration
	alarm     *time.Timer
	alarmAt   time.Time
	alarmFlag bool
	steps     uint32
	mv        uint32
	charging  bool
	link      bool
	vibrating bool
	sleeping  bool
	pressed   [types.NumButtons + 1]bool

	panel *SimPanel
	log   logx.Logger
}

func NewSim(q *evq.Queue, opt SimOptions) *Sim {
	if opt.BatteryMV == 0 {
		opt.BatteryMV = 4000
	}
	s := &Sim{
		q:         q,
		opt:       opt,
		now:       time.Now,
		rtcOffset: opt.RTCOffset,
		mv:        opt.BatteryMV,
		link:      true,
		log:       logx.New("sim"),
	}
	if nv := opt.NVRAM; nv != nil {
		if v, ok, err := nv.Get(KeyRTCOffset); err == nil && ok {
			s.rtcOffset = time.Duration(v)
		}
		if v, ok, err := nv.Get(KeySteps); err == nil && ok {
			s.steps = uint32(v)
		}
	}
	s.panel = &SimPanel{sim: s, Screen: display.NewFramebuffer()}
	return s
}

// Board assembles the capability set.
func (s *Sim) Board() hal.Board {
	query := ntp.QueryWithOptions
	if !s.opt.RealNTP {
		query = s.hostNTP
	}
	return hal.Board{
		Name:          "sim",
		Accel:         simAccel{s},
		RTC:           simRTC{s},
		Panel:         s.panel,
		Buttons:       simButtons{s},
		Vibrator:      simVibrator{s},
		Battery:       simBattery{s},
		Network:       &timesync.NTPNetwork{Link: s.Link, Query: query},
		LinkAvailable: s.Link,
		Sleeper:       simSleeper{s},
		WakeCause:     s.opt.WakeCause,
		WakeBtn:       s.opt.WakeBtn,
	}
}

// Panel exposes the simulated glass.
func (s *Sim) Panel() *SimPanel { return s.panel }

// hostNTP answers as a perfect server would: zero offset from the host.
func (s *Sim) hostNTP(string, ntp.QueryOptions) (*ntp.Response, error) {
	now := time.Now()
	return &ntp.Response{
		Time:          now,
		ReferenceTime: now.Add(-time.Second),
		Stratum:       1,
		Leap:          ntp.LeapNoWarning,
		RootDelay:     time.Millisecond,
		RTT:           time.Millisecond,
		Precision:     time.Microsecond,
		ReferenceID:   0x4C4F434C, // "LOCL"
	}, nil
}

// ---- injection ----

// Press simulates a button interrupt.
func (s *Sim) Press(id types.ButtonID) {
	s.mu.Lock()
	s.pressed[id] = true
	s.mu.Unlock()
	s.q.Push(evq.Button(id))
	time.AfterFunc(80*time.Millisecond, func() {
		s.mu.Lock()
		s.pressed[id] = false
		s.mu.Unlock()
	})
}

// Walk adds steps and raises the accelerometer interrupt.
func (s *Sim) Walk(steps uint32) {
	s.mu.Lock()
	s.steps += steps
	n := s.steps
	s.mu.Unlock()
	s.persist(KeySteps, int64(n))
	s.q.Push(evq.Accel())
}

// FireAlarm raises the RTC interrupt now.
func (s *Sim) FireAlarm() {
	s.mu.Lock()
	s.alarmFlag = true
	s.mu.Unlock()
	s.q.Push(evq.Alarm())
}

// Drift moves the RTC by d.
func (s *Sim) Drift(d time.Duration) {
	s.mu.Lock()
	s.rtcOffset += d
	off := s.rtcOffset
	s.mu.Unlock()
	s.persist(KeyRTCOffset, int64(off))
}

// RTCError is the RTC's current error against the host clock.
func (s *Sim) RTCError() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtcOffset
}

func (s *Sim) SetBattery(mv uint32, charging bool) {
	s.mu.Lock()
	s.mv, s.charging = mv, charging
	s.mu.Unlock()
}

func (s *Sim) SetLink(up bool) {
	s.mu.Lock()
	s.link = up
	s.mu.Unlock()
}

func (s *Sim) Link() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Vibrating reports the motor state.
func (s *Sim) Vibrating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vibrating
}

// Sleeping reports whether the board was last told to sleep.
func (s *Sim) Sleeping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sleeping
}

// AlarmAt is the armed RTC alarm, zero if none.
func (s *Sim) AlarmAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarmAt
}

// AlarmPending reports an unacknowledged alarm.
func (s *Sim) AlarmPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarmFlag
}

// Close stops the alarm and flushes NVRAM.
func (s *Sim) Close() {
	s.mu.Lock()
	if s.alarm != nil {
		s.alarm.Stop()
	}
	off, steps := s.rtcOffset, s.steps
	s.mu.Unlock()
	s.persist(KeyRTCOffset, int64(off))
	s.persist(KeySteps, int64(steps))
}

func (s *Sim) persist(key string, v int64) {
	if s.opt.NVRAM == nil {
		return
	}
	if err := s.opt.NVRAM.Put(key, v); err != nil {
		s.log.Warn("nvram", "err", err)
	}
}

// ---- peripherals ----

type simRTC struct{ s *Sim }

func (r simRTC) Init() error { return nil }

func (r simRTC) ReadTime() (time.Time, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.now().Add(r.s.rtcOffset).UTC().Truncate(time.Second), nil
}

func (r simRTC) WriteTime(t time.Time) error {
	r.s.mu.Lock()
	r.s.rtcOffset = t.Sub(r.s.now())
	off := r.s.rtcOffset
	r.s.mu.Unlock()
	r.s.persist(KeyRTCOffset, int64(off))
	return nil
}

// SetAlarm fires at the first whole RTC minute at or after at, like the
// real part.
func (r simRTC) SetAlarm(at time.Time) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := at.Truncate(time.Minute); !t.Equal(at) {
		at = t.Add(time.Minute)
	}
	if s.alarm != nil {
		s.alarm.Stop()
	}
	s.alarmAt = at
	d := at.Sub(s.now().Add(s.rtcOffset))
	s.alarm = time.AfterFunc(d, s.FireAlarm)
	return nil
}

func (r simRTC) ClearAlarm() error {
	r.s.mu.Lock()
	r.s.alarmFlag = false
	r.s.mu.Unlock()
	return nil
}

type simAccel struct{ s *Sim }

func (a simAccel) Init() error { return nil }

func (a simAccel) ReadAcceleration() (hal.Vector3, error) {
	return hal.Vector3{Z: 1000}, nil
}

func (a simAccel) ReadSteps() (uint32, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return a.s.steps, nil
}

type simButtons struct{ s *Sim }

func (b simButtons) ReadButton(id types.ButtonID) bool {
	if int(id) > types.NumButtons {
		return false
	}
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	return b.s.pressed[id]
}

type simVibrator struct{ s *Sim }

func (v simVibrator) Set(on bool) {
	v.s.mu.Lock()
	v.s.vibrating = on
	v.s.mu.Unlock()
}

type simBattery struct{ s *Sim }

func (b simBattery) ReadMilliVolts() (uint32, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	return b.s.mv, nil
}

func (b simBattery) Charging() bool {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	return b.s.charging
}

type simSleeper struct{ s *Sim }

func (z simSleeper) EnterSleep(until time.Time) error {
	z.s.mu.Lock()
	z.s.sleeping = true
	z.s.mu.Unlock()
	z.s.log.Debug("sleep", "until", until)
	return nil
}

func (z simSleeper) ExitSleep() {
	z.s.mu.Lock()
	z.s.sleeping = false
	z.s.mu.Unlock()
}

// SimPanel holds the last image shown and stays busy for the configured
// refresh latency.
type SimPanel struct {
	sim *Sim

	mu        sync.Mutex
	Screen    *display.Framebuffer
	busyUntil time.Time
	asleep    bool
	counts    [3]uint32 // per RefreshKind
	Fail      bool      // next writes fail
}

func (p *SimPanel) Init() error {
	p.mu.Lock()
	p.asleep = false
	p.mu.Unlock()
	if m := p.sim.opt.Mirror; m != nil {
		return m.Init()
	}
	return nil
}

func (p *SimPanel) SetDisplay(fb *display.Framebuffer, r display.Region, kind display.RefreshKind) error {
	p.mu.Lock()
	if p.Fail {
		p.mu.Unlock()
		return errcode.DisplayWrite
	}
	p.Screen.CopyFrom(fb)
	p.asleep = false
	p.counts[kind]++
	lat := p.sim.opt.PartialLatency
	if kind == display.RefreshFull {
		lat = p.sim.opt.FullLatency
	}
	p.busyUntil = p.sim.now().Add(lat)
	p.mu.Unlock()

	if m := p.sim.opt.Mirror; m != nil {
		return m.SetDisplay(fb, r, kind)
	}
	return nil
}

func (p *SimPanel) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m := p.sim.opt.Mirror; m != nil && m.Busy() {
		return true
	}
	return p.sim.now().Before(p.busyUntil)
}

func (p *SimPanel) Sleep() error {
	p.mu.Lock()
	p.asleep = true
	p.mu.Unlock()
	if m := p.sim.opt.Mirror; m != nil {
		return m.Sleep()
	}
	return nil
}

// Snapshot copies the visible image.
func (p *SimPanel) Snapshot() *display.Framebuffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	fb := display.NewFramebuffer()
	fb.CopyFrom(p.Screen)
	return fb
}

// Counts returns refreshes per kind: none, partial, full.
func (p *SimPanel) Counts() [3]uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts
}

// Asleep reports whether the glass was parked.
func (p *SimPanel) Asleep() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.asleep
}

// SetFail makes subsequent writes fail.
func (p *SimPanel) SetFail(fail bool) {
	p.mu.Lock()
	p.Fail = fail
	p.mu.Unlock()
}
