package types

import "time"

// ---- Health (retained on watch/health) ----

// Link is the state reported for a peripheral.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

// Peripheral names used in health reports and logs.
const (
	PeriphAccel   = "accel"
	PeriphRTC     = "rtc"
	PeriphPanel   = "panel"
	PeriphRadio   = "radio"
	PeriphBattery = "battery"
)

type PeripheralStatus struct {
	Link  Link   `json:"link" yaml:"link"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Health summarises which subsystems are running. A peripheral whose init
// failed permanently stays down for the session.
type Health struct {
	Accel      PeripheralStatus `json:"accel"`
	RTC        PeripheralStatus `json:"rtc"`
	Panel      PeripheralStatus `json:"panel"`
	Radio      PeripheralStatus `json:"radio"`
	Battery    PeripheralStatus `json:"battery"`
	LowBattery bool             `json:"low_battery"`
	Overflows  uint32           `json:"queue_overflows"`
}

// ---- Buttons ----

// ButtonID names the four case buttons.
type ButtonID uint8

const (
	ButtonNone ButtonID = iota
	ButtonBottomLeft
	ButtonTopLeft
	ButtonTopRight
	ButtonBottomRight
)

// NumButtons is the number of physical buttons.
const NumButtons = 4

func (b ButtonID) String() string {
	switch b {
	case ButtonBottomLeft:
		return "bottom-left"
	case ButtonTopLeft:
		return "top-left"
	case ButtonTopRight:
		return "top-right"
	case ButtonBottomRight:
		return "bottom-right"
	}
	return "none"
}

// ---- Display modes ----

type DisplayMode uint8

const (
	ModeTime DisplayMode = iota
	ModeDate
	ModeSteps
	ModeStatus
	numModes
)

// Next cycles forward through the modes.
func (m DisplayMode) Next() DisplayMode { return (m + 1) % numModes }

// Prev cycles backward through the modes.
func (m DisplayMode) Prev() DisplayMode { return (m + numModes - 1) % numModes }

func (m DisplayMode) String() string {
	switch m {
	case ModeTime:
		return "time"
	case ModeDate:
		return "date"
	case ModeSteps:
		return "steps"
	case ModeStatus:
		return "status"
	}
	return "?"
}

// ---- Wake cause ----

type WakeCause uint8

const (
	WakeReset WakeCause = iota
	WakeRTCAlarm
	WakeButton
	WakeAccel
)

func (w WakeCause) String() string {
	switch w {
	case WakeRTCAlarm:
		return "rtc-alarm"
	case WakeButton:
		return "button"
	case WakeAccel:
		return "accel"
	}
	return "reset"
}

// ---- Sync outcome ----

// SyncOutcome is the result carried by a SyncComplete event.
type SyncOutcome struct {
	OK      bool          `json:"ok"`
	Err     string        `json:"error,omitempty"`
	Drift   time.Duration `json:"drift_ns"`   // rtc - server
	Applied time.Duration `json:"applied_ns"` // correction written to the RTC
	Clamped bool          `json:"clamped"`
	Attempt uint8         `json:"attempt"`
	At      time.Time     `json:"at"`
}

// ---- Snapshot (retained on watch/state) ----

type StateSnapshot struct {
	Time       time.Time   `json:"time"`
	BatteryPct uint8       `json:"battery_pct"`
	BatteryMV  uint32      `json:"battery_mV"`
	Charging   bool        `json:"charging"`
	Steps      uint32      `json:"steps"`
	Mode       DisplayMode `json:"mode"`
	Dirty      bool        `json:"dirty"`
	LastSync   SyncOutcome `json:"last_sync"`
}
