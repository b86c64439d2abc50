// Package hal lists the peripheral capabilities the core drives. Each board
// fills a Board with concrete drivers; a nil member is a peripheral that is
// not fitted or failed to initialise, and the core degrades around it.
package hal

import (
	"time"

	"watchcode-go/services/display"
	"watchcode-go/services/timesync"
	"watchcode-go/types"
)

// Vector3 is an acceleration sample in milli-g.
type Vector3 struct{ X, Y, Z int16 }

type Accelerometer interface {
	Init() error
	ReadAcceleration() (Vector3, error)
	ReadSteps() (uint32, error)
}

type RTC interface {
	Init() error
	ReadTime() (time.Time, error)
	WriteTime(time.Time) error
	SetAlarm(at time.Time) error
	ClearAlarm() error
}

// Buttons reports the current level of a button; true is pressed.
type Buttons interface {
	ReadButton(id types.ButtonID) bool
}

type Vibrator interface {
	Set(on bool)
}

type Battery interface {
	ReadMilliVolts() (uint32, error)
	Charging() bool
}

// Sleeper powers the board down between wake events. EnterSleep must return
// promptly; the executor's idle wait is the actual sleep.
type Sleeper interface {
	EnterSleep(until time.Time) error
	ExitSleep()
}

type Watchdog interface {
	Feed()
}

// Board is the fixed capability set of one watch.
type Board struct {
	Name     string
	Accel    Accelerometer
	RTC      RTC
	Panel    display.Panel
	Buttons  Buttons
	Vibrator Vibrator
	Battery  Battery
	Network  timesync.Network
	// LinkAvailable reports whether the radio can currently associate.
	// Nil means "whenever Network is fitted".
	LinkAvailable func() bool
	Sleeper       Sleeper
	Watchdog      Watchdog
	WakeCause     types.WakeCause
	WakeBtn       types.ButtonID // set when WakeCause is WakeButton
}
