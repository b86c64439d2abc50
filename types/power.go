package types

import (
	"time"

	"watchcode-go/x/mathx"
)

// PowerState is the single power/display state of the device.
type PowerState uint8

const (
	StateActive PowerState = iota
	StateRefresh
	StateSyncing
	StateSleeping
)

func (s PowerState) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateRefresh:
		return "REFRESH"
	case StateSyncing:
		return "SYNCING"
	case StateSleeping:
		return "SLEEPING"
	}
	return "?"
}

// Retained value: watch/power
type PowerValue struct {
	State    PowerState `json:"state"`
	Prev     PowerState `json:"prev"`
	Reason   string     `json:"reason"`
	At       time.Time  `json:"at"`
	Deadline time.Time  `json:"deadline"`
}

// Battery curve endpoints for the 1S LiPo cell.
const (
	BatteryEmptyMV = 3400
	BatteryFullMV  = 4200
)

// BatteryPercent maps a cell voltage linearly onto 0..100.
func BatteryPercent(mv uint32) uint8 {
	return uint8(mathx.MapU32(mv, BatteryEmptyMV, BatteryFullMV, 0, 100))
}
