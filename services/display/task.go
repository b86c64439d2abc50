package display

import (
	"time"

	"watchcode-go/errcode"
	"watchcode-go/evq"
	"watchcode-go/sched"
	"watchcode-go/types"
	"watchcode-go/x/logx"
)

// Panel is the e-paper glass. SetDisplay starts an update and returns once
// the image is in panel RAM; Busy stays true until the waveform finishes.
type Panel interface {
	Init() error
	SetDisplay(fb *Framebuffer, r Region, kind RefreshKind) error
	Busy() bool
	Sleep() error
}

// Resumer is a Panel whose wake-up from Sleep is staged. Resume advances it
// one step without blocking and reports when the panel is ready.
type Resumer interface {
	Asleep() bool
	Resume() (done bool, err error)
}

// Source supplies the state to render.
type Source func() (types.StateSnapshot, types.Health)

const (
	busyPoll    = 20 * time.Millisecond
	busyTimeout = 5 * time.Second
)

type refreshStep uint8

const (
	stepCompose refreshStep = iota
	stepWrite
	stepResume
	stepBusy
)

// RefreshTask pushes one frame to the panel and reports RefreshDone.
type RefreshTask struct {
	comp  *Compositor
	panel Panel
	src   Source
	push  func(evq.Event) bool

	step    refreshStep
	frame   Frame
	started time.Time

	Refreshes [3]uint32 // per RefreshKind
	log       logx.Logger
}

func NewRefreshTask(comp *Compositor, panel Panel, src Source, push func(evq.Event) bool) *RefreshTask {
	return &RefreshTask{comp: comp, panel: panel, src: src, push: push, log: logx.New("display")}
}

// SetPanel swaps the glass, nil when it is down. Only call while the task is
// not in flight.
func (t *RefreshTask) SetPanel(p Panel) { t.panel = p }

// Poll implements sched.Task.
func (t *RefreshTask) Poll(c *sched.Ctx) sched.Status {
	for {
		switch t.step {
		case stepCompose:
			if t.panel == nil {
				return t.finish(c, errcode.NotFitted)
			}
			t.frame = t.comp.Compose(t.src())
			if t.frame.Kind == RefreshNone {
				return t.finish(c, errcode.OK)
			}
			t.step = stepWrite

		case stepWrite:
			if !c.Lease(sched.BusSPI) {
				return sched.Pending
			}
			if r, ok := t.panel.(Resumer); ok && r.Asleep() {
				t.started = c.Now()
				t.step = stepResume
				continue
			}
			if err := t.panel.SetDisplay(t.comp.Back(), t.frame.Region, t.frame.Kind); err != nil {
				t.log.Error("write failed", "err", err)
				return t.finish(c, errcode.DisplayWrite)
			}
			t.started = c.Now()
			t.step = stepBusy

		case stepResume:
			done, err := t.panel.(Resumer).Resume()
			if err != nil {
				t.log.Error("wake failed", "err", err)
				return t.finish(c, errcode.DisplayWrite)
			}
			if !done {
				if c.Now().Sub(t.started) > busyTimeout {
					return t.finish(c, errcode.Timeout)
				}
				c.WakeAfter(busyPoll)
				return sched.Pending
			}
			t.step = stepWrite

		case stepBusy:
			if t.panel.Busy() {
				if c.Now().Sub(t.started) > busyTimeout {
					return t.finish(c, errcode.Timeout)
				}
				c.WakeAfter(busyPoll)
				return sched.Pending
			}
			t.comp.Commit(t.frame)
			t.Refreshes[t.frame.Kind]++
			t.log.Debug("refreshed", "kind", t.frame.Kind, "partials", t.comp.Partials())
			return t.finish(c, errcode.OK)
		}
	}
}

func (t *RefreshTask) finish(c *sched.Ctx, code errcode.Code) sched.Status {
	c.Release(sched.BusSPI)
	if code != errcode.OK {
		t.comp.Invalidate()
	}
	t.step = stepCompose
	t.push(evq.Refreshed(code))
	return sched.Done
}
