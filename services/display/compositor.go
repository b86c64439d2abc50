package display

import "watchcode-go/types"

// RefreshKind is how the panel updates.
type RefreshKind uint8

const (
	RefreshNone RefreshKind = iota
	RefreshPartial
	RefreshFull
)

func (k RefreshKind) String() string {
	switch k {
	case RefreshPartial:
		return "partial"
	case RefreshFull:
		return "full"
	}
	return "none"
}

// Frame is the compositor's decision for one refresh.
type Frame struct {
	Kind   RefreshKind
	Region Region
}

// Compositor renders state into a back buffer, diffs against what the panel
// shows, and decides between partial and full refresh. A full refresh clears
// ghosting and is forced after FullEvery consecutive partials.
type Compositor struct {
	front, back Framebuffer
	valid       bool // front matches the glass
	forceFull   bool
	partials    int
	fullEvery   int
	face        *Face
}

// NewCompositor returns a compositor whose first frame is full.
func NewCompositor(fullEvery int, face *Face) *Compositor {
	if fullEvery < 1 {
		fullEvery = 1
	}
	if face == nil {
		face = NewFace(0)
	}
	c := &Compositor{fullEvery: fullEvery, face: face}
	c.front.Clear()
	c.back.Clear()
	return c
}

// Compose renders the snapshot and picks the refresh kind.
func (c *Compositor) Compose(s types.StateSnapshot, h types.Health) Frame {
	c.back.Clear()
	c.face.Draw(&c.back, s, h)
	return c.decide()
}

func (c *Compositor) decide() Frame {
	if !c.valid || c.forceFull || c.partials >= c.fullEvery {
		return Frame{Kind: RefreshFull, Region: Full}
	}
	r := Diff(&c.front, &c.back)
	if r.Empty() {
		return Frame{Kind: RefreshNone}
	}
	return Frame{Kind: RefreshPartial, Region: r}
}

// Back is the buffer the last Compose drew into.
func (c *Compositor) Back() *Framebuffer { return &c.back }

// Commit records that f reached the glass.
func (c *Compositor) Commit(f Frame) {
	switch f.Kind {
	case RefreshFull:
		c.partials = 0
		c.forceFull = false
	case RefreshPartial:
		c.partials++
	default:
		return
	}
	c.front.CopyFrom(&c.back)
	c.valid = true
}

// Invalidate forgets what the glass shows; the next frame is full.
func (c *Compositor) Invalidate() { c.valid = false }

// ForceFull makes the next frame full regardless of the ratio.
func (c *Compositor) ForceFull() { c.forceFull = true }

// Partials is the number of partial refreshes since the last full one.
func (c *Compositor) Partials() int { return c.partials }
