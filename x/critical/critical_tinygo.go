//go:build tinygo

package critical

import "runtime/interrupt"

// State is the saved interrupt mask.
type State = interrupt.State

// Enter disables interrupts and returns the previous mask.
func Enter() State { return interrupt.Disable() }

// Exit restores the mask saved by Enter.
func Exit(st State) { interrupt.Restore(st) }
