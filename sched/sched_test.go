package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"watchcode-go/errcode"
	"watchcode-go/evq"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type recorder struct{ log []string }

func (r *recorder) Dispatch(_ time.Time, ev evq.Event) { r.log = append(r.log, "ev:"+ev.Kind.String()) }

func (r *recorder) task(name string, st Status) Task {
	return TaskFunc(func(c *Ctx) Status {
		r.log = append(r.log, name)
		return st
	})
}

func TestPriorityOrder(t *testing.T) {
	rec := &recorder{}
	ex := New(evq.New(), nil, rec)
	best := ex.MustAdd(Spec{Name: "best", Prio: PrioBestEffort, Task: rec.task("best", Done)})
	norm := ex.MustAdd(Spec{Name: "norm", Prio: PrioNormal, Task: rec.task("norm", Done)})
	wake := ex.MustAdd(Spec{Name: "wake", Prio: PrioWake, Task: rec.task("wake", Done)})

	ex.Start(best)
	ex.Start(norm)
	ex.Start(wake)
	require.False(t, ex.Step(t0))
	require.Equal(t, []string{"wake", "norm", "best"}, rec.log)
	require.False(t, ex.InFlight(best))
}

func TestEventsDispatchedBeforeLowerPriorityTask(t *testing.T) {
	rec := &recorder{}
	q := evq.New()
	ex := New(q, nil, rec)
	hi := ex.MustAdd(Spec{Name: "hi", Prio: PrioWake, Task: TaskFunc(func(c *Ctx) Status {
		rec.log = append(rec.log, "hi")
		q.Push(evq.Alarm())
		return Done
	})})
	lo := ex.MustAdd(Spec{Name: "lo", Prio: PrioBestEffort, Task: rec.task("lo", Done)})

	q.Push(evq.Accel())
	ex.Start(lo)
	ex.Start(hi)
	ex.Step(t0)
	require.Equal(t, []string{"ev:accel", "hi", "ev:rtc-alarm", "lo"}, rec.log)
}

func TestWakeAfterDeadline(t *testing.T) {
	polls := 0
	ex := New(evq.New(), nil, nil)
	h := ex.MustAdd(Spec{Name: "timer", Prio: PrioNormal, Task: TaskFunc(func(c *Ctx) Status {
		polls++
		if polls == 1 {
			c.WakeAfter(time.Second)
			return Pending
		}
		return Done
	})})
	ex.Start(h)
	ex.Step(t0)
	require.Equal(t, 1, polls)

	at, ok := ex.NextDeadline()
	require.True(t, ok)
	require.Equal(t, t0.Add(time.Second), at)

	ex.Step(t0.Add(500 * time.Millisecond))
	require.Equal(t, 1, polls)
	ex.Step(t0.Add(time.Second))
	require.Equal(t, 2, polls)
	require.False(t, ex.InFlight(h))
}

func TestBusyIgnoresCancellable(t *testing.T) {
	var sawCancel bool
	ex := New(evq.New(), nil, nil)
	vib := ex.MustAdd(Spec{Name: "vibrate", Prio: PrioWake, Cancellable: true, Task: TaskFunc(func(c *Ctx) Status {
		if c.Cancelled() {
			sawCancel = true
			return Done
		}
		c.WakeAfter(time.Minute)
		return Pending
	})})
	ex.Start(vib)
	ex.Step(t0)
	require.True(t, ex.InFlight(vib))
	require.False(t, ex.Busy())

	require.Equal(t, 1, ex.CancelCancellable(t0))
	require.True(t, sawCancel)
	require.False(t, ex.InFlight(vib))
}

func TestBusyWithNonCancellable(t *testing.T) {
	ex := New(evq.New(), nil, nil)
	h := ex.MustAdd(Spec{Name: "sync", Prio: PrioBestEffort, Task: TaskFunc(func(c *Ctx) Status { return Pending })})
	ex.Start(h)
	ex.Step(t0)
	require.True(t, ex.Busy())
	require.Zero(t, ex.CancelCancellable(t0))
	require.True(t, ex.InFlight(h))
}

func TestLeaseHandOff(t *testing.T) {
	var order []string
	holdA := true
	ex := New(evq.New(), nil, nil)
	var a, b Handle
	a = ex.MustAdd(Spec{Name: "a", Prio: PrioNormal, Task: TaskFunc(func(c *Ctx) Status {
		if !c.Lease(BusI2C) {
			return Pending
		}
		if holdA {
			order = append(order, "a-holds")
			return Pending
		}
		order = append(order, "a-done")
		return Done
	})})
	b = ex.MustAdd(Spec{Name: "b", Prio: PrioNormal, Task: TaskFunc(func(c *Ctx) Status {
		if !c.Lease(BusI2C) {
			order = append(order, "b-waits")
			return Pending
		}
		order = append(order, "b-has")
		c.Release(BusI2C)
		return Done
	})})

	ex.Start(a)
	ex.Start(b)
	ex.Step(t0)
	require.Equal(t, []string{"a-holds", "b-waits"}, order)

	// Releasing the lease wakes b within the same round.
	holdA = false
	ex.Wake(a)
	ex.Step(t0)
	require.Equal(t, []string{"a-holds", "b-waits", "a-done", "b-has"}, order)
	require.False(t, ex.InFlight(b))
}

func TestTableFull(t *testing.T) {
	ex := New(evq.New(), nil, nil)
	for i := 0; i < MaxTasks; i++ {
		_, err := ex.Add(Spec{Name: "t", Task: TaskFunc(func(*Ctx) Status { return Done })})
		require.NoError(t, err)
	}
	_, err := ex.Add(Spec{Name: "extra", Task: TaskFunc(func(*Ctx) Status { return Done })})
	require.Equal(t, errcode.TaskTable, err)
	require.Equal(t, errcode.Fatal, errcode.ClassOf(err))
}

func TestStartWhileInFlight(t *testing.T) {
	ex := New(evq.New(), nil, nil)
	h := ex.MustAdd(Spec{Name: "p", Task: TaskFunc(func(*Ctx) Status { return Pending })})
	require.True(t, ex.Start(h))
	require.False(t, ex.Start(h))
}

type countTicker struct {
	ticks int
	at    time.Time
}

func (c *countTicker) Tick(time.Time)                  { c.ticks++ }
func (c *countTicker) NextDeadline() (time.Time, bool) { return c.at, !c.at.IsZero() }

func TestTickerAndWatchdog(t *testing.T) {
	ex := New(evq.New(), nil, nil)
	tk := &countTicker{at: t0.Add(30 * time.Second)}
	feeds := 0
	ex.SetTicker(tk)
	ex.SetWatchdog(func() { feeds++ })
	ex.Step(t0)
	ex.Step(t0)
	require.Equal(t, 2, tk.ticks)
	require.Equal(t, 2, feeds)
	at, ok := ex.NextDeadline()
	require.True(t, ok)
	require.Equal(t, tk.at, at)
}

func TestRunCompletesAsyncTask(t *testing.T) {
	done := make(chan struct{})
	started := false
	ex := New(evq.New(), nil, nil)
	var result bool
	h := ex.MustAdd(Spec{Name: "async", Prio: PrioBestEffort, Task: TaskFunc(func(c *Ctx) Status {
		if !started {
			started = true
			wake := c.Waker()
			go func() {
				time.Sleep(5 * time.Millisecond)
				result = true
				wake()
			}()
			return Pending
		}
		close(done)
		return Done
	})})
	ex.Start(h)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		<-done
		cancel()
	}()
	err := ex.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, result)
	require.False(t, ex.InFlight(h))
}
