// Package ssd1681 drives the Solomon SSD1681 e-paper controller behind the
// 200x200 GDEH0154D67 panel. It implements display.Panel.
//
// Updates are asynchronous: SetDisplay loads RAM and starts the waveform,
// then Busy reports the BUSY line until the panel settles. Partial updates
// use the controller's differential waveform, which compares the new image
// (RAM 0x24) against the previous one (RAM 0x26); the driver keeps a copy of
// what is on the glass to load the latter.
package ssd1681

import (
	"time"

	"tinygo.org/x/drivers"

	"watchcode-go/errcode"
	"watchcode-go/services/display"
)

// OutPin is a push-pull output such as machine.Pin.
type OutPin interface {
	Set(high bool)
}

// InPin is an input such as machine.Pin.
type InPin interface {
	Get() bool
}

// Commands.
const (
	cmdDriverOutput = 0x01
	cmdDeepSleep    = 0x10
	cmdDataEntry    = 0x11
	cmdSWReset      = 0x12
	cmdTempSensor   = 0x18
	cmdActivate     = 0x20
	cmdUpdateCtrl2  = 0x22
	cmdWriteBW      = 0x24
	cmdWritePrev    = 0x26
	cmdBorder       = 0x3C
	cmdRAMX         = 0x44
	cmdRAMY         = 0x45
	cmdRAMXCount    = 0x4E
	cmdRAMYCount    = 0x4F
)

const (
	seqFull    = 0xF7 // clock, analog, load temp, full waveform, power off
	seqPartial = 0xFF // as above with display mode 2 (differential)

	resetPulse = 10 * time.Millisecond
	idlePolls  = 200 // of resetPulse
)

// wake-up stages, advanced by Resume.
const (
	wakeStart uint8 = iota
	wakeResetLow
	wakeResetHigh
	wakeSWReset
)

type Device struct {
	spi         drivers.SPI
	dc, cs, rst OutPin
	busy        InPin
	asleep      bool
	stage       uint8
	shown       [display.Stride * display.Height]byte
	cmd         [1]byte
	buf         [4]byte
}

func New(spi drivers.SPI, dc, cs, rst OutPin, busy InPin) *Device {
	return &Device{spi: spi, dc: dc, cs: cs, rst: rst, busy: busy}
}

// sleep is swapped out by tests.
var sleep = time.Sleep

// Init resets the controller and programs geometry. It blocks for the reset
// and software reset, bounded by a timeout; use Resume where blocking is
// not allowed.
func (d *Device) Init() error {
	d.stage = wakeStart
	for i := 0; ; i++ {
		done, err := d.Resume()
		if err != nil || done {
			return err
		}
		if i == idlePolls {
			d.stage = wakeStart
			return &errcode.E{C: errcode.Timeout, Op: "ssd1681.init", Msg: "busy stuck"}
		}
		sleep(resetPulse)
	}
}

// Asleep reports whether the controller needs a wake-up before the next
// update.
func (d *Device) Asleep() bool { return d.asleep }

// Resume advances the reset sequence by one stage without blocking and
// reports whether the controller is ready. Calls must be at least 10ms
// apart so the reset pulse is long enough.
func (d *Device) Resume() (bool, error) {
	switch d.stage {
	case wakeStart:
		d.cs.Set(true)
		d.rst.Set(false)
		d.stage = wakeResetLow
		return false, nil
	case wakeResetLow:
		d.rst.Set(true)
		d.stage = wakeResetHigh
		return false, nil
	case wakeResetHigh:
		if d.busy.Get() {
			return false, nil
		}
		if err := d.command(cmdSWReset); err != nil {
			d.stage = wakeStart
			return false, errcode.Wrap(errcode.InitFailed, "ssd1681.init", err)
		}
		d.stage = wakeSWReset
		return false, nil
	}
	if d.busy.Get() {
		return false, nil
	}
	d.stage = wakeStart
	if err := d.geometry(); err != nil {
		return false, err
	}
	d.asleep = false
	return true, nil
}

func (d *Device) geometry() error {
	last := byte(display.Height - 1)
	seq := []struct {
		cmd  byte
		data []byte
	}{
		{cmdDriverOutput, []byte{last, 0x00, 0x00}},
		{cmdDataEntry, []byte{0x03}}, // X+, Y+
		{cmdRAMX, []byte{0x00, display.Stride - 1}},
		{cmdRAMY, []byte{0x00, 0x00, last, 0x00}},
		{cmdBorder, []byte{0x05}},
		{cmdTempSensor, []byte{0x80}}, // internal sensor
	}
	for _, s := range seq {
		if err := d.commandData(s.cmd, s.data...); err != nil {
			return errcode.Wrap(errcode.InitFailed, "ssd1681.init", err)
		}
	}
	return nil
}

// SetDisplay loads region r of fb and starts the update. A full update
// always loads the whole panel. If the controller is asleep it is woken
// with the blocking Init first.
func (d *Device) SetDisplay(fb *display.Framebuffer, r display.Region, kind display.RefreshKind) error {
	if d.asleep {
		if err := d.Init(); err != nil {
			return err
		}
	}
	if kind == display.RefreshFull {
		r = display.Full
	}
	if r.Empty() {
		return nil
	}
	bx0, bx1 := int(r.X0/8), int(r.X1/8)
	if err := d.window(bx0, bx1, int(r.Y0), int(r.Y1)); err != nil {
		return errcode.Wrap(errcode.DisplayWrite, "ssd1681.window", err)
	}

	if kind == display.RefreshPartial {
		if err := d.load(cmdWritePrev, bx0, bx1, r, d.shownRow); err != nil {
			return errcode.Wrap(errcode.DisplayWrite, "ssd1681.prev", err)
		}
	}
	for y := int(r.Y0); y < int(r.Y1); y++ {
		copy(d.shown[y*display.Stride+bx0:y*display.Stride+bx1], fb.Row(y, bx0, bx1))
	}
	if err := d.load(cmdWriteBW, bx0, bx1, r, d.shownRow); err != nil {
		return errcode.Wrap(errcode.DisplayWrite, "ssd1681.ram", err)
	}
	if kind == display.RefreshFull {
		// Base image for the next partial update.
		if err := d.load(cmdWritePrev, bx0, bx1, r, d.shownRow); err != nil {
			return errcode.Wrap(errcode.DisplayWrite, "ssd1681.prev", err)
		}
	}

	seq := byte(seqFull)
	if kind == display.RefreshPartial {
		seq = seqPartial
	}
	if err := d.commandData(cmdUpdateCtrl2, seq); err != nil {
		return errcode.Wrap(errcode.DisplayWrite, "ssd1681.update", err)
	}
	if err := d.command(cmdActivate); err != nil {
		return errcode.Wrap(errcode.DisplayWrite, "ssd1681.update", err)
	}
	return nil
}

// Busy reports the BUSY line; high while the waveform runs.
func (d *Device) Busy() bool { return d.busy.Get() }

// Sleep enters deep sleep mode 1; RAM is kept but the next update needs a
// reset, through Resume or lazily in SetDisplay.
func (d *Device) Sleep() error {
	if d.asleep {
		return nil
	}
	if err := d.commandData(cmdDeepSleep, 0x01); err != nil {
		return errcode.Wrap(errcode.MapDriverErr(err), "ssd1681.sleep", err)
	}
	d.asleep = true
	return nil
}

func (d *Device) shownRow(y, bx0, bx1 int) []byte {
	return d.shown[y*display.Stride+bx0 : y*display.Stride+bx1]
}

func (d *Device) window(bx0, bx1, y0, y1 int) error {
	if err := d.commandData(cmdRAMX, byte(bx0), byte(bx1-1)); err != nil {
		return err
	}
	if err := d.commandData(cmdRAMY, byte(y0), byte(y0>>8), byte(y1-1), byte((y1-1)>>8)); err != nil {
		return err
	}
	return nil
}

// load writes rows into one RAM plane starting at the window origin.
func (d *Device) load(plane byte, bx0, bx1 int, r display.Region, row func(y, bx0, bx1 int) []byte) error {
	if err := d.commandData(cmdRAMXCount, byte(bx0)); err != nil {
		return err
	}
	if err := d.commandData(cmdRAMYCount, byte(r.Y0), byte(r.Y0>>8)); err != nil {
		return err
	}
	if err := d.command(plane); err != nil {
		return err
	}
	d.dc.Set(true)
	d.cs.Set(false)
	defer d.cs.Set(true)
	for y := int(r.Y0); y < int(r.Y1); y++ {
		if err := d.spi.Tx(row(y, bx0, bx1), nil); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) command(c byte) error {
	d.dc.Set(false)
	d.cs.Set(false)
	d.cmd[0] = c
	err := d.spi.Tx(d.cmd[:], nil)
	d.cs.Set(true)
	return err
}

func (d *Device) commandData(c byte, data ...byte) error {
	if err := d.command(c); err != nil {
		return err
	}
	d.dc.Set(true)
	d.cs.Set(false)
	n := copy(d.buf[:], data)
	err := d.spi.Tx(d.buf[:n], nil)
	d.cs.Set(true)
	return err
}
