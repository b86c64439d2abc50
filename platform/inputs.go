// Package platform wires concrete boards into a hal.Board: the Watchy on
// TinyGo and a simulated watch on the host.
package platform

import (
	"watchcode-go/evq"
	"watchcode-go/types"
)

// InPin is a readable GPIO level.
type InPin interface {
	Get() bool
}

// IRQPin is an input with an edge interrupt. The handler runs in interrupt
// context and must not block.
type IRQPin interface {
	InPin
	SetIRQ(falling bool, handler func()) error
}

// PinButtons reads active-low buttons.
type PinButtons struct {
	Pins [types.NumButtons + 1]InPin // indexed by ButtonID; [0] unused
}

func (b *PinButtons) ReadButton(id types.ButtonID) bool {
	if int(id) > types.NumButtons || b.Pins[id] == nil {
		return false
	}
	return !b.Pins[id].Get()
}

// ButtonIRQ arms a falling-edge interrupt that posts a press for id. Bounce
// is filtered by the dispatcher, not here.
func ButtonIRQ(q *evq.Queue, pin IRQPin, id types.ButtonID) error {
	ev := evq.Button(id)
	return pin.SetIRQ(true, func() { q.Push(ev) })
}

// EventIRQ arms an interrupt that posts ev on the given edge.
func EventIRQ(q *evq.Queue, pin IRQPin, falling bool, ev evq.Event) error {
	return pin.SetIRQ(falling, func() { q.Push(ev) })
}

// WakeFromLines infers the wake cause from the lines still asserted at boot:
// the RTC interrupt (active low, latched until the alarm flag is cleared) or
// a held button. Anything else is a plain reset.
func WakeFromLines(rtcInt InPin, buttons *PinButtons) (types.WakeCause, types.ButtonID) {
	if rtcInt != nil && !rtcInt.Get() {
		return types.WakeRTCAlarm, types.ButtonNone
	}
	for id := types.ButtonBottomLeft; id <= types.ButtonBottomRight; id++ {
		if buttons.ReadButton(id) {
			return types.WakeButton, id
		}
	}
	return types.WakeReset, types.ButtonNone
}
