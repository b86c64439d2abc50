// Package evq is the bounded event queue between interrupt handlers and the
// dispatcher. Push never blocks and never allocates; when the queue is full
// the oldest unread event is dropped and counted.
package evq

import (
	"context"

	"watchcode-go/errcode"
	"watchcode-go/types"
	"watchcode-go/x/critical"
)

// Capacity is the fixed number of queued events.
const Capacity = 8

// Kind tags an Event.
type Kind uint8

const (
	KindNone Kind = iota
	ButtonPress
	AccelInterrupt
	RtcAlarm
	SyncComplete
	BatteryLow
	RefreshDone
)

func (k Kind) String() string {
	switch k {
	case ButtonPress:
		return "button"
	case AccelInterrupt:
		return "accel"
	case RtcAlarm:
		return "rtc-alarm"
	case SyncComplete:
		return "sync-complete"
	case BatteryLow:
		return "battery-low"
	case RefreshDone:
		return "refresh-done"
	}
	return "none"
}

// IsWake reports whether the event brings the device out of SLEEPING.
func (k Kind) IsWake() bool {
	return k == ButtonPress || k == AccelInterrupt || k == RtcAlarm
}

// Event is a fixed-size tagged value. Only the field matching Kind is set.
type Event struct {
	Kind    Kind
	Seq     uint32
	Button  types.ButtonID    // ButtonPress
	Outcome types.SyncOutcome // SyncComplete
	Err     errcode.Code      // RefreshDone
}

// Constructors.
func Button(id types.ButtonID) Event   { return Event{Kind: ButtonPress, Button: id} }
func Accel() Event                     { return Event{Kind: AccelInterrupt} }
func Alarm() Event                     { return Event{Kind: RtcAlarm} }
func Synced(o types.SyncOutcome) Event { return Event{Kind: SyncComplete, Outcome: o} }
func LowBattery() Event                { return Event{Kind: BatteryLow} }
func Refreshed(c errcode.Code) Event   { return Event{Kind: RefreshDone, Err: c} }

// Queue is a fixed ring. The zero value is not usable; call New.
type Queue struct {
	buf      [Capacity]Event
	head     int // index of oldest
	n        int
	seq      uint32
	overflow uint32
	ready    chan struct{}
}

func New() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends ev. Safe from interrupt context. Returns false when the oldest
// event was dropped to make room.
func (q *Queue) Push(ev Event) bool {
	kept := true
	st := critical.Enter()
	q.seq++
	ev.Seq = q.seq
	if q.n == Capacity {
		q.head = (q.head + 1) % Capacity
		q.n--
		q.overflow++
		kept = false
	}
	q.buf[(q.head+q.n)%Capacity] = ev
	q.n++
	critical.Exit(st)

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return kept
}

// TryPop removes and returns the oldest event.
func (q *Queue) TryPop() (Event, bool) {
	st := critical.Enter()
	defer critical.Exit(st)
	if q.n == 0 {
		return Event{}, false
	}
	ev := q.buf[q.head]
	q.buf[q.head] = Event{}
	q.head = (q.head + 1) % Capacity
	q.n--
	return ev, true
}

// Pop suspends until an event is available or ctx ends. It serves
// consumers outside the executor; the executor itself waits on Ready and
// drains with TryPop so that timers and tasks can also end its wait.
func (q *Queue) Pop(ctx context.Context) (Event, error) {
	for {
		if ev, ok := q.TryPop(); ok {
			return ev, nil
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Len is the number of queued events.
func (q *Queue) Len() int {
	st := critical.Enter()
	n := q.n
	critical.Exit(st)
	return n
}

func (q *Queue) Empty() bool { return q.Len() == 0 }

// Overflows is the number of events dropped since boot.
func (q *Queue) Overflows() uint32 {
	st := critical.Enter()
	n := q.overflow
	critical.Exit(st)
	return n
}

// Ready is signalled after every Push. It may fire spuriously.
func (q *Queue) Ready() <-chan struct{} { return q.ready }
