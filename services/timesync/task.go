// Package timesync corrects the RTC against a network time server. The work
// runs as a scheduler task: connect, request, apply a bounded correction, and
// always tear the radio down before reporting SyncComplete.
package timesync

import (
	"context"
	"errors"
	"time"

	"watchcode-go/errcode"
	"watchcode-go/evq"
	"watchcode-go/sched"
	"watchcode-go/types"
	"watchcode-go/x/logx"
)

// Credentials for the access point.
type Credentials struct {
	SSID       string
	Passphrase string
}

// Network brings the link up. Connect blocks until associated or ctx ends.
type Network interface {
	Connect(ctx context.Context, creds Credentials) (Conn, error)
}

// Conn is an associated link. Close powers the radio down.
type Conn interface {
	TimeSync(ctx context.Context, server string) (time.Time, error)
	Close() error
}

// RTC is the part of the real-time clock the task needs.
type RTC interface {
	ReadTime() (time.Time, error)
	WriteTime(time.Time) error
}

// Config for one attempt.
type Config struct {
	Server         string
	Creds          Credentials
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	MaxJump        time.Duration
}

// ConfigFrom extracts the task's settings from the watch config.
func ConfigFrom(c types.WatchConfig) Config {
	return Config{
		Server:         c.NTPServer,
		Creds:          Credentials{SSID: c.SSID, Passphrase: c.Passphrase},
		ConnectTimeout: c.ConnectTimeout,
		RequestTimeout: c.RequestTimeout,
		MaxJump:        c.MaxJump,
	}
}

type step uint8

const (
	stIdle step = iota
	stConnecting
	stRequesting
	stApply
	stTeardown
)

// Results carry the attempt generation so a late answer from an attempt
// that already timed out is recognised and dropped.
type connResult struct {
	gen  uint32
	conn Conn
	err  error
}

type timeResult struct {
	gen uint32
	at  time.Time
	err error
}

// Task is one sync attempt. It is restarted by the owner for each attempt.
type Task struct {
	cfg  Config
	net  Network
	rtc  RTC
	push func(evq.Event) bool
	base context.Context

	step     step
	attempt  uint8
	gen      uint32
	deadline time.Time
	conn     Conn
	server   time.Time
	out      types.SyncOutcome
	connCh   chan connResult
	timeCh   chan timeResult

	log logx.Logger
}

// NewTask builds the task. base bounds every network call; cancel it to abort
// in-flight attempts at shutdown.
func NewTask(base context.Context, cfg Config, net Network, rtc RTC, push func(evq.Event) bool) *Task {
	return &Task{
		cfg:    cfg,
		net:    net,
		rtc:    rtc,
		push:   push,
		base:   base,
		connCh: make(chan connResult, 2),
		timeCh: make(chan timeResult, 2),
		log:    logx.New("sync"),
	}
}

// SetAttempt records the attempt number reported in the outcome.
func (t *Task) SetAttempt(n int) { t.attempt = uint8(n) }

// Poll implements sched.Task.
func (t *Task) Poll(c *sched.Ctx) sched.Status {
	for {
		switch t.step {
		case stIdle:
			t.out = types.SyncOutcome{Attempt: t.attempt}
			if t.net == nil || t.rtc == nil {
				t.fail(errcode.NotFitted)
				t.step = stTeardown
				continue
			}
			t.log.Info("connecting", "attempt", t.attempt)
			t.gen++
			t.startConnect(c.Waker())
			t.step = stConnecting
			t.arm(c, t.cfg.ConnectTimeout)
			return sched.Pending

		case stConnecting:
			r, ok := t.connResult()
			if !ok {
				if t.expired(c) {
					t.fail(errcode.Timeout)
					t.step = stTeardown
					continue
				}
				return sched.Pending
			}
			if r.err != nil {
				t.fail(mapErr(r.err, errcode.ConnectFailed))
				t.step = stTeardown
				continue
			}
			t.conn = r.conn
			t.startRequest(c.Waker())
			t.step = stRequesting
			t.arm(c, t.cfg.RequestTimeout)
			return sched.Pending

		case stRequesting:
			r, ok := t.timeResult()
			if !ok {
				if t.expired(c) {
					t.fail(errcode.Timeout)
					t.step = stTeardown
					continue
				}
				return sched.Pending
			}
			if r.err != nil {
				t.fail(mapErr(r.err, errcode.InvalidResponse))
				t.step = stTeardown
				continue
			}
			t.server = r.at
			t.step = stApply

		case stApply:
			if !c.Lease(sched.BusI2C) {
				return sched.Pending
			}
			t.apply()
			c.Release(sched.BusI2C)
			t.step = stTeardown

		case stTeardown:
			if t.conn != nil {
				if err := t.conn.Close(); err != nil {
					t.log.Warn("radio teardown", "err", err)
				}
				t.conn = nil
			}
			t.out.At = c.Now()
			t.step = stIdle
			t.log.Info("sync complete", "ok", t.out.OK, "err", t.out.Err, "drift", t.out.Drift, "applied", t.out.Applied)
			t.push(evq.Synced(t.out))
			return sched.Done
		}
	}
}

// arm sets the executor deadline for the current step. The network call
// gets the same bound through its context, but a driver that ignores ctx
// must not hold the task in flight.
func (t *Task) arm(c *sched.Ctx, d time.Duration) {
	t.deadline = time.Time{}
	if d > 0 {
		t.deadline = c.Now().Add(d)
		c.WakeAt(t.deadline)
	}
}

// expired reports whether the step deadline has passed, re-arming the
// wake-up otherwise.
func (t *Task) expired(c *sched.Ctx) bool {
	if t.deadline.IsZero() {
		return false
	}
	if !c.Now().Before(t.deadline) {
		return true
	}
	c.WakeAt(t.deadline)
	return false
}

// connResult returns this attempt's connect result, if any. Stale links from
// abandoned attempts are closed.
func (t *Task) connResult() (connResult, bool) {
	for {
		select {
		case r := <-t.connCh:
			if r.gen == t.gen {
				return r, true
			}
			if r.conn != nil {
				_ = r.conn.Close()
			}
		default:
			return connResult{}, false
		}
	}
}

func (t *Task) timeResult() (timeResult, bool) {
	for {
		select {
		case r := <-t.timeCh:
			if r.gen == t.gen {
				return r, true
			}
		default:
			return timeResult{}, false
		}
	}
}

func (t *Task) startConnect(wake func()) {
	net, creds, d, gen := t.net, t.cfg.Creds, t.cfg.ConnectTimeout, t.gen
	go func() {
		ctx, cancel := context.WithTimeout(t.base, d)
		conn, err := net.Connect(ctx, creds)
		cancel()
		t.connCh <- connResult{gen: gen, conn: conn, err: err}
		wake()
	}()
}

func (t *Task) startRequest(wake func()) {
	conn, server, d, gen := t.conn, t.cfg.Server, t.cfg.RequestTimeout, t.gen
	go func() {
		ctx, cancel := context.WithTimeout(t.base, d)
		at, err := conn.TimeSync(ctx, server)
		cancel()
		t.timeCh <- timeResult{gen: gen, at: at, err: err}
		wake()
	}()
}

func (t *Task) apply() {
	rtcNow, err := t.rtc.ReadTime()
	if err != nil {
		t.fail(errcode.MapDriverErr(err))
		return
	}
	drift, applied, clamped := Correct(rtcNow, t.server, t.cfg.MaxJump)
	if err := t.rtc.WriteTime(rtcNow.Add(applied)); err != nil {
		t.fail(errcode.MapDriverErr(err))
		return
	}
	if clamped {
		t.log.Warn("correction clamped", "drift", drift, "applied", applied)
	}
	t.out.OK = true
	t.out.Drift = drift
	t.out.Applied = applied
	t.out.Clamped = clamped
}

func (t *Task) fail(c errcode.Code) {
	t.out.OK = false
	t.out.Err = string(c)
}

func mapErr(err error, fallback errcode.Code) errcode.Code {
	if errors.Is(err, context.DeadlineExceeded) {
		return errcode.Timeout
	}
	if c := errcode.MapDriverErr(err); c != errcode.Error {
		return c
	}
	return fallback
}
