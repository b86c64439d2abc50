// Package pcf8563 is a driver for the NXP PCF8563 real-time clock.
//
// The clock keeps UTC. Time registers are BCD; the alarm matches on minute,
// hour and day, so alarms have minute resolution and are rounded up.
//
// NOTE: I2C.Tx MUST perform a write followed by a repeated-start read when both
// w and r are provided.
package pcf8563

import (
	"time"

	"tinygo.org/x/drivers"

	"watchcode-go/errcode"
)

// I2C address.
const Address = 0x51

// Registers.
const (
	regControl1 = 0x00
	regControl2 = 0x01
	regSeconds  = 0x02 // through 0x08
	regAlarmMin = 0x09 // through 0x0C
)

// Bits.
const (
	ctrl1Stop    = 1 << 5
	ctrl2AIE     = 1 << 1
	ctrl2AF      = 1 << 3
	secondsVL    = 1 << 7
	monthCentury = 1 << 7
	alarmDisable = 1 << 7
)

type Device struct {
	bus     drivers.I2C
	Address uint16

	// ClockLost is set when the oscillator stopped since the time was last
	// written (VL flag); the time read is not trustworthy.
	ClockLost bool

	w [8]byte
	r [7]byte
}

// New creates a driver. It does not touch the device.
func New(bus drivers.I2C) *Device {
	return &Device{bus: bus, Address: Address}
}

// Init starts the oscillator and checks the device answers.
func (d *Device) Init() error {
	if err := d.write(regControl1, 0); err != nil {
		return errcode.Wrap(errcode.InitFailed, "pcf8563.init", err)
	}
	if _, err := d.read(regControl2, 1); err != nil {
		return errcode.Wrap(errcode.InitFailed, "pcf8563.init", err)
	}
	return nil
}

// ReadTime returns the current clock value in UTC.
func (d *Device) ReadTime() (time.Time, error) {
	b, err := d.read(regSeconds, 7)
	if err != nil {
		return time.Time{}, errcode.Wrap(errcode.MapDriverErr(err), "pcf8563.read", err)
	}
	d.ClockLost = b[0]&secondsVL != 0
	year := 2000 + int(fromBCD(b[6]))
	if b[5]&monthCentury != 0 {
		year += 100
	}
	return time.Date(year,
		time.Month(fromBCD(b[5]&0x1F)),
		int(fromBCD(b[3]&0x3F)),
		int(fromBCD(b[2]&0x3F)),
		int(fromBCD(b[1]&0x7F)),
		int(fromBCD(b[0]&0x7F)),
		0, time.UTC), nil
}

// WriteTime sets the clock. Sub-second precision is dropped.
func (d *Device) WriteTime(t time.Time) error {
	t = t.UTC()
	year := t.Year() - 2000
	var century byte
	if year >= 100 {
		year -= 100
		century = monthCentury
	}
	if year < 0 {
		return &errcode.E{C: errcode.InvalidParams, Op: "pcf8563.write", Msg: "year before 2000"}
	}
	err := d.write(regSeconds,
		toBCD(uint8(t.Second())),
		toBCD(uint8(t.Minute())),
		toBCD(uint8(t.Hour())),
		toBCD(uint8(t.Day())),
		uint8(t.Weekday()),
		toBCD(uint8(t.Month()))|century,
		toBCD(uint8(year)),
	)
	if err != nil {
		return errcode.Wrap(errcode.MapDriverErr(err), "pcf8563.write", err)
	}
	d.ClockLost = false
	return nil
}

// SetAlarm arms the interrupt for the first whole minute at or after at.
func (d *Device) SetAlarm(at time.Time) error {
	at = AlarmTime(at)
	err := d.write(regAlarmMin,
		toBCD(uint8(at.Minute())),
		toBCD(uint8(at.Hour())),
		toBCD(uint8(at.Day())),
		alarmDisable, // weekday not matched
	)
	if err == nil {
		err = d.updateControl2(ctrl2AIE, ctrl2AF)
	}
	if err != nil {
		return errcode.Wrap(errcode.MapDriverErr(err), "pcf8563.alarm", err)
	}
	return nil
}

// ClearAlarm acknowledges a fired alarm. The alarm stays armed until
// overwritten; the next match is a month away.
func (d *Device) ClearAlarm() error {
	if err := d.updateControl2(0, ctrl2AF); err != nil {
		return errcode.Wrap(errcode.MapDriverErr(err), "pcf8563.clear", err)
	}
	return nil
}

// AlarmFired reports the AF flag.
func (d *Device) AlarmFired() (bool, error) {
	b, err := d.read(regControl2, 1)
	if err != nil {
		return false, err
	}
	return b[0]&ctrl2AF != 0, nil
}

// AlarmTime is the instant the alarm actually fires for a requested time.
func AlarmTime(at time.Time) time.Time {
	at = at.UTC()
	if t := at.Truncate(time.Minute); !t.Equal(at) {
		return t.Add(time.Minute)
	}
	return at
}

// updateControl2 sets and clears bits. Flags are cleared by writing 0;
// writing 1 leaves them unchanged.
func (d *Device) updateControl2(set, clear byte) error {
	b, err := d.read(regControl2, 1)
	if err != nil {
		return err
	}
	return d.write(regControl2, (b[0]|set)&^clear&0x1F)
}

func (d *Device) read(reg byte, n int) ([]byte, error) {
	d.w[0] = reg
	if err := d.bus.Tx(d.Address, d.w[:1], d.r[:n]); err != nil {
		return nil, err
	}
	return d.r[:n], nil
}

func (d *Device) write(reg byte, vals ...byte) error {
	d.w[0] = reg
	n := copy(d.w[1:], vals)
	return d.bus.Tx(d.Address, d.w[:1+n], nil)
}

func toBCD(v uint8) uint8   { return (v/10)<<4 | v%10 }
func fromBCD(b uint8) uint8 { return (b>>4)*10 + b&0x0F }
