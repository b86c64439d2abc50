package display

import (
	"errors"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"watchcode-go/errcode"
	"watchcode-go/evq"
	"watchcode-go/sched"
	"watchcode-go/types"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func snap(at time.Time) types.StateSnapshot {
	return types.StateSnapshot{Time: at, BatteryPct: 80, Mode: types.ModeTime}
}

func TestFramebufferPixels(t *testing.T) {
	fb := NewFramebuffer()
	require.False(t, fb.Ink(3, 4))
	fb.SetPixel(3, 4, black)
	require.True(t, fb.Ink(3, 4))
	require.Equal(t, byte(0xEF), fb.Bytes()[4*Stride])
	fb.SetPixel(3, 4, color.RGBA{200, 200, 200, 255})
	require.False(t, fb.Ink(3, 4))
	fb.SetPixel(-1, 500, black) // clipped
}

func TestDiffIsByteAligned(t *testing.T) {
	a, b := NewFramebuffer(), NewFramebuffer()
	require.True(t, Diff(a, b).Empty())

	b.SetPixel(13, 40, black)
	b.SetPixel(30, 42, black)
	require.Equal(t, Region{X0: 8, Y0: 40, X1: 32, Y1: 43}, Diff(a, b))
}

func TestFirstFrameIsFull(t *testing.T) {
	c := NewCompositor(10, NewFace(0))
	f := c.Compose(snap(t0), types.Health{})
	require.Equal(t, RefreshFull, f.Kind)
	require.Equal(t, Full, f.Region)
}

func TestUnchangedStateNeedsNoRefresh(t *testing.T) {
	c := NewCompositor(10, NewFace(0))
	c.Commit(c.Compose(snap(t0), types.Health{}))
	f := c.Compose(snap(t0.Add(10*time.Second)), types.Health{})
	require.Equal(t, RefreshNone, f.Kind)
}

func TestFullAfterKPartials(t *testing.T) {
	const k = 4
	c := NewCompositor(k, NewFace(0))
	at := t0
	c.Commit(c.Compose(snap(at), types.Health{}))

	for i := 0; i < k; i++ {
		at = at.Add(time.Minute)
		f := c.Compose(snap(at), types.Health{})
		require.Equal(t, RefreshPartial, f.Kind, "refresh %d", i)
		require.False(t, f.Region.Empty())
		c.Commit(f)
	}
	require.Equal(t, k, c.Partials())

	at = at.Add(time.Minute)
	f := c.Compose(snap(at), types.Health{})
	require.Equal(t, RefreshFull, f.Kind)
	c.Commit(f)
	require.Zero(t, c.Partials())
}

func TestForceFullAndInvalidate(t *testing.T) {
	c := NewCompositor(10, NewFace(0))
	c.Commit(c.Compose(snap(t0), types.Health{}))

	c.ForceFull()
	require.Equal(t, RefreshFull, c.Compose(snap(t0), types.Health{}).Kind)
	c.Commit(Frame{Kind: RefreshFull, Region: Full})

	c.Invalidate()
	require.Equal(t, RefreshFull, c.Compose(snap(t0), types.Health{}).Kind)
}

func TestFaceModesDiffer(t *testing.T) {
	face := NewFace(time.Hour)
	var prev *Framebuffer
	for _, m := range []types.DisplayMode{types.ModeTime, types.ModeDate, types.ModeSteps, types.ModeStatus} {
		fb := NewFramebuffer()
		s := snap(t0)
		s.Mode = m
		s.Steps = 1234
		face.Draw(fb, s, types.Health{})
		if prev != nil {
			require.False(t, Diff(prev, fb).Empty(), "mode %v renders like the previous one", m)
		}
		prev = fb
	}
}

type fakePanel struct {
	busyPolls int
	writes    []RefreshKind
	err       error
}

func (p *fakePanel) Init() error { return nil }
func (p *fakePanel) SetDisplay(_ *Framebuffer, _ Region, k RefreshKind) error {
	if p.err != nil {
		return p.err
	}
	p.writes = append(p.writes, k)
	p.busyPolls = 2
	return nil
}
func (p *fakePanel) Busy() bool {
	if p.busyPolls > 0 {
		p.busyPolls--
		return true
	}
	return false
}
func (p *fakePanel) Sleep() error { return nil }

func runRefresh(t *testing.T, task *RefreshTask, q *evq.Queue) evq.Event {
	t.Helper()
	ex := sched.New(evq.New(), nil, nil)
	h := ex.MustAdd(sched.Spec{Name: "refresh", Prio: sched.PrioNormal, Task: task})
	ex.Start(h)
	now := t0
	for i := 0; i < 20 && ex.InFlight(h); i++ {
		ex.Step(now)
		now = now.Add(busyPoll)
	}
	require.False(t, ex.InFlight(h))
	ev, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, evq.RefreshDone, ev.Kind)
	return ev
}

func TestRefreshTaskWaitsForBusy(t *testing.T) {
	q := evq.New()
	panel := &fakePanel{}
	comp := NewCompositor(10, nil)
	src := func() (types.StateSnapshot, types.Health) { return snap(t0), types.Health{} }
	task := NewRefreshTask(comp, panel, src, q.Push)

	ev := runRefresh(t, task, q)
	require.Equal(t, errcode.OK, ev.Err)
	require.Equal(t, []RefreshKind{RefreshFull}, panel.writes)
	require.Zero(t, panel.busyPolls)
	require.Equal(t, uint32(1), task.Refreshes[RefreshFull])

	// Same state again: nothing written.
	ev = runRefresh(t, task, q)
	require.Equal(t, errcode.OK, ev.Err)
	require.Len(t, panel.writes, 1)
}

func TestRefreshTaskWriteError(t *testing.T) {
	q := evq.New()
	panel := &fakePanel{}
	comp := NewCompositor(10, nil)
	at := t0
	src := func() (types.StateSnapshot, types.Health) { return snap(at), types.Health{} }
	task := NewRefreshTask(comp, panel, src, q.Push)
	runRefresh(t, task, q)

	panel.err = errors.New("spi stalled")
	at = at.Add(time.Minute)
	ev := runRefresh(t, task, q)
	require.Equal(t, errcode.DisplayWrite, ev.Err)

	// Recovery redraws the whole glass.
	panel.err = nil
	runRefresh(t, task, q)
	require.Equal(t, []RefreshKind{RefreshFull, RefreshFull}, panel.writes)
}

func TestRefreshTaskWithoutPanel(t *testing.T) {
	q := evq.New()
	src := func() (types.StateSnapshot, types.Health) { return snap(t0), types.Health{} }
	task := NewRefreshTask(NewCompositor(10, nil), nil, src, q.Push)
	ev := runRefresh(t, task, q)
	require.Equal(t, errcode.NotFitted, ev.Err)
}

// sleepyPanel needs a staged wake-up before it accepts an image.
type sleepyPanel struct {
	fakePanel
	t       *testing.T
	asleep  bool
	pending int
	resumes int
	wakeErr error
}

func (p *sleepyPanel) Asleep() bool { return p.asleep }
func (p *sleepyPanel) Resume() (bool, error) {
	p.resumes++
	if p.wakeErr != nil {
		return false, p.wakeErr
	}
	if p.pending > 0 {
		p.pending--
		return false, nil
	}
	p.asleep = false
	return true, nil
}
func (p *sleepyPanel) SetDisplay(fb *Framebuffer, r Region, k RefreshKind) error {
	if p.asleep {
		p.t.Fatal("SetDisplay on a sleeping panel")
	}
	return p.fakePanel.SetDisplay(fb, r, k)
}

func TestRefreshTaskResumesSleepingPanel(t *testing.T) {
	q := evq.New()
	panel := &sleepyPanel{t: t, asleep: true, pending: 3}
	src := func() (types.StateSnapshot, types.Health) { return snap(t0), types.Health{} }
	task := NewRefreshTask(NewCompositor(10, nil), panel, src, q.Push)

	ev := runRefresh(t, task, q)
	require.Equal(t, errcode.OK, ev.Err)
	require.Equal(t, 4, panel.resumes, "one stage per poll")
	require.Equal(t, []RefreshKind{RefreshFull}, panel.writes)
}

func TestRefreshTaskWakeError(t *testing.T) {
	q := evq.New()
	panel := &sleepyPanel{t: t, asleep: true, wakeErr: errcode.BusNack}
	src := func() (types.StateSnapshot, types.Health) { return snap(t0), types.Health{} }
	task := NewRefreshTask(NewCompositor(10, nil), panel, src, q.Push)

	ev := runRefresh(t, task, q)
	require.Equal(t, errcode.DisplayWrite, ev.Err)
	require.Empty(t, panel.writes)
}
