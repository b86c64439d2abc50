// Package sched is the cooperative executor. A fixed table of tasks, each an
// explicit state machine, is polled on one thread. Events from the queue are
// always dispatched before the next task runs, and ready tasks are polled
// highest priority first.
package sched

import (
	"context"
	"time"

	"watchcode-go/errcode"
	"watchcode-go/evq"
	"watchcode-go/x/critical"
	"watchcode-go/x/logx"
	"watchcode-go/x/timex"
)

// MaxTasks is the size of the task table.
const MaxTasks = 8

// watchdogIdle bounds an idle wait while a watchdog is installed.
const watchdogIdle = 2 * time.Second

// Prio orders ready tasks. Lower values run first.
type Prio uint8

const (
	PrioWake Prio = iota // input feedback, wake handling
	PrioNormal
	PrioBestEffort // radio, anything that may take seconds
	numPrio
)

func (p Prio) String() string {
	switch p {
	case PrioWake:
		return "wake"
	case PrioNormal:
		return "normal"
	case PrioBestEffort:
		return "best-effort"
	}
	return "?"
}

// Status is returned by Poll.
type Status uint8

const (
	Pending Status = iota
	Done
)

// Task is a resumable state machine. Poll advances it as far as it can
// without blocking. A Pending task must have arranged to be woken: through
// Ctx.WakeAt, a Waker handed to an async operation, or a failed Lease.
// Deadlines do not survive a poll; re-arm on every Pending return.
type Task interface {
	Poll(c *Ctx) Status
}

// TaskFunc adapts a function to Task.
type TaskFunc func(c *Ctx) Status

func (f TaskFunc) Poll(c *Ctx) Status { return f(c) }

// Spec registers a task.
type Spec struct {
	Name        string
	Prio        Prio
	Cancellable bool // may be abandoned on entry to sleep
	Task        Task
}

// Handle identifies a registered task. The zero Handle is invalid.
type Handle uint8

// Bus names a shared peripheral bus.
type Bus uint8

const (
	BusI2C Bus = iota
	BusSPI
	numBus
)

// Dispatcher consumes events in arrival order.
type Dispatcher interface {
	Dispatch(now time.Time, ev evq.Event)
}

// Ticker runs after each dispatch round. It owns power decisions and reports
// the next instant it wants to run at.
type Ticker interface {
	Tick(now time.Time)
	NextDeadline() (time.Time, bool)
}

type slot struct {
	spec      Spec
	inFlight  bool
	ready     bool // guarded by critical
	cancelled bool
	deadline  time.Time
	waitBus   [numBus]bool
	polls     uint32
	waker     func()
}

// Stats are counters for diagnostics.
type Stats struct {
	Steps      uint32
	Polls      uint32
	Dispatched uint32
	InFlight   int
}

type Executor struct {
	q        *evq.Queue
	clock    timex.Clock
	dispatch Dispatcher
	ticker   Ticker
	watchdog func()

	slots  [MaxTasks]slot
	n      int
	leases [numBus]Handle
	wake   chan struct{}
	ctx    Ctx

	steps, polls, dispatched uint32
	log                      logx.Logger
}

// New creates an executor draining q into d.
func New(q *evq.Queue, clock timex.Clock, d Dispatcher) *Executor {
	if clock == nil {
		clock = timex.SystemClock{}
	}
	return &Executor{
		q:        q,
		clock:    clock,
		dispatch: d,
		wake:     make(chan struct{}, 1),
		log:      logx.New("sched"),
	}
}

// SetDispatcher replaces the event consumer. Setup only.
func (e *Executor) SetDispatcher(d Dispatcher) { e.dispatch = d }

// SetTicker installs the post-round hook. Setup only.
func (e *Executor) SetTicker(t Ticker) { e.ticker = t }

// SetWatchdog installs a function fed once per Step. Idle waits are then
// capped so the feed keeps coming while the device sleeps.
func (e *Executor) SetWatchdog(feed func()) { e.watchdog = feed }

// Add registers a task. Only valid during setup.
func (e *Executor) Add(s Spec) (Handle, error) {
	if e.n == MaxTasks {
		return 0, errcode.TaskTable
	}
	if s.Task == nil || s.Prio >= numPrio {
		return 0, errcode.InvalidParams
	}
	h := Handle(e.n + 1)
	e.slots[e.n] = slot{spec: s, waker: func() { e.Wake(h) }}
	e.n++
	return h, nil
}

// MustAdd is Add for fixed setup code; a full table is a build error.
func (e *Executor) MustAdd(s Spec) Handle {
	h, err := e.Add(s)
	if err != nil {
		panic("sched: add " + s.Name + ": " + err.Error())
	}
	return h
}

func (e *Executor) slot(h Handle) *slot {
	if h == 0 || int(h) > e.n {
		return nil
	}
	return &e.slots[h-1]
}

// Start puts a task in flight and makes it ready. Starting a task already in
// flight is a no-op and returns false.
func (e *Executor) Start(h Handle) bool {
	s := e.slot(h)
	if s == nil || s.inFlight {
		return false
	}
	s.inFlight = true
	s.cancelled = false
	s.deadline = time.Time{}
	e.Wake(h)
	return true
}

// Wake marks an in-flight task ready. Safe from any goroutine or interrupt.
func (e *Executor) Wake(h Handle) {
	s := e.slot(h)
	if s == nil {
		return
	}
	st := critical.Enter()
	s.ready = true
	critical.Exit(st)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// InFlight reports whether the task has been started and not finished.
func (e *Executor) InFlight(h Handle) bool {
	s := e.slot(h)
	return s != nil && s.inFlight
}

// Busy reports whether any non-cancellable task is in flight.
func (e *Executor) Busy() bool {
	for i := 0; i < e.n; i++ {
		if e.slots[i].inFlight && !e.slots[i].spec.Cancellable {
			return true
		}
	}
	return false
}

// CancelCancellable finishes every in-flight cancellable task. Each gets one
// final poll with Ctx.Cancelled set so it can release what it holds.
func (e *Executor) CancelCancellable(now time.Time) int {
	n := 0
	for i := 0; i < e.n; i++ {
		s := &e.slots[i]
		if !s.inFlight || !s.spec.Cancellable {
			continue
		}
		s.cancelled = true
		e.poll(Handle(i+1), now)
		e.finish(Handle(i + 1))
		n++
	}
	return n
}

// Step runs one round: expire deadlines, dispatch all queued events, poll
// every ready task once in priority order, then tick. It returns true if more
// work is immediately runnable.
func (e *Executor) Step(now time.Time) bool {
	e.steps++
	if e.watchdog != nil {
		e.watchdog()
	}
	e.expire(now)
	e.drain(now)

	var polled [MaxTasks]bool
	for {
		h := e.nextReady(&polled)
		if h == 0 {
			break
		}
		polled[h-1] = true
		e.poll(h, now)
		e.drain(now)
	}
	if e.ticker != nil {
		e.ticker.Tick(now)
	}
	return e.runnable()
}

func (e *Executor) drain(now time.Time) {
	for {
		ev, ok := e.q.TryPop()
		if !ok {
			return
		}
		e.dispatched++
		if e.dispatch != nil {
			e.dispatch.Dispatch(now, ev)
		}
	}
}

func (e *Executor) expire(now time.Time) {
	for i := 0; i < e.n; i++ {
		s := &e.slots[i]
		if s.inFlight && !s.deadline.IsZero() && !now.Before(s.deadline) {
			s.deadline = time.Time{}
			st := critical.Enter()
			s.ready = true
			critical.Exit(st)
		}
	}
}

func (e *Executor) nextReady(polled *[MaxTasks]bool) Handle {
	st := critical.Enter()
	defer critical.Exit(st)
	for p := Prio(0); p < numPrio; p++ {
		for i := 0; i < e.n; i++ {
			s := &e.slots[i]
			if s.spec.Prio == p && s.ready && s.inFlight && !polled[i] {
				return Handle(i + 1)
			}
		}
	}
	return 0
}

func (e *Executor) poll(h Handle, now time.Time) {
	s := e.slot(h)
	st := critical.Enter()
	s.ready = false
	critical.Exit(st)
	s.deadline = time.Time{}
	e.ctx = Ctx{ex: e, h: h, now: now}
	s.polls++
	e.polls++
	if s.spec.Task.Poll(&e.ctx) == Done {
		e.finish(h)
	}
}

func (e *Executor) finish(h Handle) {
	s := e.slot(h)
	s.inFlight = false
	s.deadline = time.Time{}
	st := critical.Enter()
	s.ready = false
	critical.Exit(st)
	for b := Bus(0); b < numBus; b++ {
		s.waitBus[b] = false
		if e.leases[b] == h {
			e.release(b)
		}
	}
}

func (e *Executor) runnable() bool {
	if !e.q.Empty() {
		return true
	}
	st := critical.Enter()
	defer critical.Exit(st)
	for i := 0; i < e.n; i++ {
		if e.slots[i].ready && e.slots[i].inFlight {
			return true
		}
	}
	return false
}

// NextDeadline is the earliest task or ticker deadline.
func (e *Executor) NextDeadline() (time.Time, bool) {
	var at time.Time
	for i := 0; i < e.n; i++ {
		s := &e.slots[i]
		if s.inFlight {
			at = timex.Earliest(at, s.deadline)
		}
	}
	if e.ticker != nil {
		if t, ok := e.ticker.NextDeadline(); ok {
			at = timex.Earliest(at, t)
		}
	}
	return at, !at.IsZero()
}

func (e *Executor) lease(h Handle, b Bus) bool {
	if cur := e.leases[b]; cur == 0 || cur == h {
		e.leases[b] = h
		e.slot(h).waitBus[b] = false
		return true
	}
	e.slot(h).waitBus[b] = true
	return false
}

func (e *Executor) release(b Bus) {
	e.leases[b] = 0
	for i := 0; i < e.n; i++ {
		s := &e.slots[i]
		if s.waitBus[b] && s.inFlight {
			s.waitBus[b] = false
			e.Wake(Handle(i + 1))
		}
	}
}

// Stats returns diagnostic counters.
func (e *Executor) Stats() Stats {
	st := Stats{Steps: e.steps, Polls: e.polls, Dispatched: e.dispatched}
	for i := 0; i < e.n; i++ {
		if e.slots[i].inFlight {
			st.InFlight++
		}
	}
	return st
}

// Run steps until ctx ends. Between rounds it suspends on the event queue,
// task wakes, or the earliest deadline.
func (e *Executor) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	timex.DrainTimer(timer)
	defer timer.Stop()

	e.log.Info("executor running", "tasks", e.n)
	for {
		if e.Step(e.clock.Now()) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		d := time.Hour
		if at, ok := e.NextDeadline(); ok {
			d = at.Sub(e.clock.Now())
		}
		if e.watchdog != nil && d > watchdogIdle {
			d = watchdogIdle
		}
		timex.ResetTimer(timer, d)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.q.Ready():
		case <-e.wake:
		case <-timer.C:
		}
	}
}

// Ctx is handed to Task.Poll. It is only valid for the duration of the call.
type Ctx struct {
	ex  *Executor
	h   Handle
	now time.Time
}

// Now is the time of the current round.
func (c *Ctx) Now() time.Time { return c.now }

// Handle of the running task.
func (c *Ctx) Handle() Handle { return c.h }

// WakeAt asks to be polled again no later than t.
func (c *Ctx) WakeAt(t time.Time) { c.ex.slot(c.h).deadline = t }

// WakeAfter is WakeAt(Now()+d).
func (c *Ctx) WakeAfter(d time.Duration) { c.WakeAt(c.now.Add(d)) }

// Cancelled is set on the final poll of a cancelled task.
func (c *Ctx) Cancelled() bool { return c.ex.slot(c.h).cancelled }

// Waker returns a function that makes this task ready. It does not allocate
// and may be called from any goroutine.
func (c *Ctx) Waker() func() { return c.ex.slot(c.h).waker }

// Lease takes exclusive ownership of b. On false the task stays registered
// as a waiter and is woken when the holder releases.
func (c *Ctx) Lease(b Bus) bool { return c.ex.lease(c.h, b) }

// Release gives up b if held.
func (c *Ctx) Release(b Bus) {
	if c.ex.leases[b] == c.h {
		c.ex.release(b)
	}
}
