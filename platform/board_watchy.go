//go:build tinygo && esp32s3

package platform

import (
	"machine"
	"time"

	"watchcode-go/drivers/bma423"
	"watchcode-go/drivers/pcf8563"
	"watchcode-go/drivers/ssd1681"
	"watchcode-go/evq"
	"watchcode-go/hal"
	"watchcode-go/types"
	"watchcode-go/x/logx"
)

// Watchy v3 wiring.
const (
	pinBtnMenu = machine.Pin(7) // bottom left
	pinBtnBack = machine.Pin(6) // top left
	pinBtnUp   = machine.Pin(0) // top right
	pinBtnDown = machine.Pin(8) // bottom right

	pinSDA    = machine.Pin(12)
	pinSCL    = machine.Pin(11)
	pinRTCInt = machine.Pin(1)
	pinAccInt = machine.Pin(14)

	pinEPDCS   = machine.Pin(33)
	pinEPDDC   = machine.Pin(34)
	pinEPDRst  = machine.Pin(35)
	pinEPDBusy = machine.Pin(36)
	pinSCK     = machine.Pin(47)
	pinMOSI    = machine.Pin(48)

	pinVibrate = machine.Pin(17)
	pinBattADC = machine.Pin(9)
	pinUSBDet  = machine.Pin(21)

	watchdogTimeoutMS = 8000
)

type machinePin struct{ p machine.Pin }

func (m machinePin) Get() bool      { return m.p.Get() }
func (m machinePin) Set(level bool) { m.p.Set(level) }

func (m machinePin) SetIRQ(falling bool, handler func()) error {
	change := machine.PinRising
	if falling {
		change = machine.PinFalling
	}
	return m.p.SetInterrupt(change, func(machine.Pin) { handler() })
}

func input(p machine.Pin, mode machine.PinMode) machinePin {
	p.Configure(machine.PinConfig{Mode: mode})
	return machinePin{p}
}

func output(p machine.Pin, initial bool) machinePin {
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.Set(initial)
	return machinePin{p}
}

// Watchy assembles the board. Interrupts post straight into q; drops are
// counted by the queue. There is no radio driver on this target yet, so the
// board runs without time sync.
func Watchy(q *evq.Queue) hal.Board {
	log := logx.New("board")

	i2c := machine.I2C0
	if err := i2c.Configure(machine.I2CConfig{SDA: pinSDA, SCL: pinSCL, Frequency: 400 * machine.KHz}); err != nil {
		log.Error("i2c", "err", err)
	}
	spi := machine.SPI1
	if err := spi.Configure(machine.SPIConfig{SCK: pinSCK, SDO: pinMOSI, Frequency: 20 * machine.MHz}); err != nil {
		log.Error("spi", "err", err)
	}

	buttons := &PinButtons{}
	for id, p := range map[types.ButtonID]machine.Pin{
		types.ButtonBottomLeft:  pinBtnMenu,
		types.ButtonTopLeft:     pinBtnBack,
		types.ButtonTopRight:    pinBtnUp,
		types.ButtonBottomRight: pinBtnDown,
	} {
		pin := input(p, machine.PinInputPullup)
		buttons.Pins[id] = pin
		if err := ButtonIRQ(q, pin, id); err != nil {
			log.Warn("button irq", "id", id, "err", err)
		}
	}
	rtcInt := input(pinRTCInt, machine.PinInputPullup)
	wake, wakeBtn := WakeFromLines(rtcInt, buttons)
	if err := EventIRQ(q, rtcInt, true, evq.Alarm()); err != nil {
		log.Warn("rtc irq", "err", err)
	}
	if err := EventIRQ(q, input(pinAccInt, machine.PinInput), false, evq.Accel()); err != nil {
		log.Warn("accel irq", "err", err)
	}

	panel := ssd1681.New(spi,
		output(pinEPDDC, true), output(pinEPDCS, true), output(pinEPDRst, true),
		input(pinEPDBusy, machine.PinInput))

	machine.InitADC()
	adc := machine.ADC{Pin: pinBattADC}
	adc.Configure(machine.ADCConfig{})

	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: watchdogTimeoutMS})
	if err := machine.Watchdog.Start(); err != nil {
		log.Warn("watchdog", "err", err)
	}

	return hal.Board{
		Name:      "watchy",
		Accel:     bma423.New(i2c, bma423.Config{}),
		RTC:       pcf8563.New(i2c),
		Panel:     panel,
		Buttons:   buttons,
		Vibrator:  vibrator{output(pinVibrate, false)},
		Battery:   &battery{adc: adc, usb: input(pinUSBDet, machine.PinInput)},
		Sleeper:   sleeper{log},
		Watchdog:  watchdog{},
		WakeCause: wake,
		WakeBtn:   wakeBtn,
	}
}

type vibrator struct{ pin machinePin }

func (v vibrator) Set(on bool) { v.pin.Set(on) }

// battery reads the cell through the on-board 1:2 divider.
type battery struct {
	adc machine.ADC
	usb machinePin
}

func (b *battery) ReadMilliVolts() (uint32, error) {
	raw := uint32(b.adc.Get()) // 0..65535 over 0..3.3V
	return raw * 3300 * 2 / 65535, nil
}

func (b *battery) Charging() bool { return b.usb.Get() }

type watchdog struct{}

func (watchdog) Feed() { machine.Watchdog.Update() }

// sleeper only logs: the executor's timer wait idles the core, and the
// peripherals have already been parked by the time it is called.
type sleeper struct{ log logx.Logger }

func (s sleeper) EnterSleep(until time.Time) error {
	s.log.Debug("idle", "until", until)
	return nil
}

func (s sleeper) ExitSleep() {}
