// Package bma423 is a driver for the Bosch BMA423 accelerometer.
//
// Acceleration works out of the box. The step counter runs inside the
// sensor's feature engine, which needs Bosch's configuration image uploaded
// at init; pass it in Config.Features. Without it ReadSteps reports
// errcode.Unsupported.
package bma423

import (
	"time"

	"tinygo.org/x/drivers"

	"watchcode-go/errcode"
	"watchcode-go/hal"
)

// I2C addresses (SDO low / high).
const (
	Address    = 0x18
	AddressAlt = 0x19
)

const ChipID = 0x13

// Registers.
const (
	regChipID     = 0x00
	regAccX       = 0x12 // X,Y,Z little-endian, through 0x17
	regSteps      = 0x1E // 32-bit little-endian, through 0x21
	regIntStatus  = 0x1C
	regInternal   = 0x2A
	regAccConf    = 0x40
	regAccRange   = 0x41
	regInt1IOCtrl = 0x53
	regInt1Map    = 0x56
	regInitCtrl   = 0x59
	regFeatAddr0  = 0x5B
	regFeatAddr1  = 0x5C
	regFeatures   = 0x5E
	regPwrConf    = 0x7C
	regPwrCtrl    = 0x7D
	regCmd        = 0x7E
)

const (
	cmdSoftReset   = 0xB6
	pwrCtrlAccEn   = 0x04
	accConf100Hz   = 0x17 // ODR 100 Hz, avg4, continuous
	range2G        = 0x00
	int1OutPushHi  = 0x0A // output enable, active high
	int1MapStep    = 0x02
	internalInitOK = 0x01

	featureChunk = 8 // bytes per burst to the feature window
)

type Config struct {
	// Address defaults to 0x18 if zero.
	Address uint16
	// Features is the feature engine image. Optional.
	Features []byte
}

type Device struct {
	bus     drivers.I2C
	Address uint16
	cfg     Config

	features bool
	w        [1 + featureChunk]byte
	r        [6]byte
}

// New creates a driver. It does not touch the device.
func New(bus drivers.I2C, cfg Config) *Device {
	if cfg.Address == 0 {
		cfg.Address = Address
	}
	return &Device{bus: bus, Address: cfg.Address, cfg: cfg}
}

// sleep is swapped out by tests.
var sleep = time.Sleep

// Init checks the chip, powers the accelerometer and, when an image is
// configured, starts the step counter and routes it to INT1.
func (d *Device) Init() error {
	id, err := d.read(regChipID, 1)
	if err != nil {
		return errcode.Wrap(errcode.InitFailed, "bma423.init", err)
	}
	if id[0] != ChipID {
		return &errcode.E{C: errcode.BadChipID, Op: "bma423.init"}
	}
	_ = d.write(regCmd, cmdSoftReset)
	sleep(2 * time.Millisecond)

	// Advanced power save off while configuring.
	steps := []struct{ reg, val byte }{
		{regPwrConf, 0x00},
		{regAccConf, accConf100Hz},
		{regAccRange, range2G},
		{regPwrCtrl, pwrCtrlAccEn},
	}
	for _, s := range steps {
		if err := d.write(s.reg, s.val); err != nil {
			return errcode.Wrap(errcode.InitFailed, "bma423.init", err)
		}
	}
	if len(d.cfg.Features) == 0 {
		return nil
	}
	if err := d.loadFeatures(); err != nil {
		return err
	}
	if err := d.write(regInt1IOCtrl, int1OutPushHi); err != nil {
		return errcode.Wrap(errcode.InitFailed, "bma423.init", err)
	}
	if err := d.write(regInt1Map, int1MapStep); err != nil {
		return errcode.Wrap(errcode.InitFailed, "bma423.init", err)
	}
	d.features = true
	return nil
}

func (d *Device) loadFeatures() error {
	if err := d.write(regInitCtrl, 0x00); err != nil {
		return errcode.Wrap(errcode.InitFailed, "bma423.features", err)
	}
	img := d.cfg.Features
	for off := 0; off < len(img); off += featureChunk {
		// The window address counts 16-bit words.
		word := off / 2
		if err := d.write(regFeatAddr0, byte(word&0x0F)); err != nil {
			return errcode.Wrap(errcode.InitFailed, "bma423.features", err)
		}
		if err := d.write(regFeatAddr1, byte(word>>4)); err != nil {
			return errcode.Wrap(errcode.InitFailed, "bma423.features", err)
		}
		end := off + featureChunk
		if end > len(img) {
			end = len(img)
		}
		if err := d.write(regFeatures, img[off:end]...); err != nil {
			return errcode.Wrap(errcode.InitFailed, "bma423.features", err)
		}
	}
	if err := d.write(regInitCtrl, 0x01); err != nil {
		return errcode.Wrap(errcode.InitFailed, "bma423.features", err)
	}
	sleep(150 * time.Millisecond)
	st, err := d.read(regInternal, 1)
	if err != nil {
		return errcode.Wrap(errcode.InitFailed, "bma423.features", err)
	}
	if st[0]&0x0F != internalInitOK {
		return &errcode.E{C: errcode.InitFailed, Op: "bma423.features", Msg: "feature engine did not start"}
	}
	return nil
}

// ReadAcceleration returns the last sample in milli-g.
func (d *Device) ReadAcceleration() (hal.Vector3, error) {
	b, err := d.read(regAccX, 6)
	if err != nil {
		return hal.Vector3{}, errcode.Wrap(errcode.MapDriverErr(err), "bma423.accel", err)
	}
	return hal.Vector3{X: milliG(b[0], b[1]), Y: milliG(b[2], b[3]), Z: milliG(b[4], b[5])}, nil
}

// ReadSteps returns the step counter.
func (d *Device) ReadSteps() (uint32, error) {
	if !d.features {
		return 0, errcode.Unsupported
	}
	b, err := d.read(regSteps, 4)
	if err != nil {
		return 0, errcode.Wrap(errcode.MapDriverErr(err), "bma423.steps", err)
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// AckInterrupt reads (and so clears) the feature interrupt status.
func (d *Device) AckInterrupt() (byte, error) {
	b, err := d.read(regIntStatus, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// 12-bit left-justified, 1024 LSB/g at +-2g.
func milliG(lo, hi byte) int16 {
	raw := int16(uint16(lo)|uint16(hi)<<8) >> 4
	return int16(int32(raw) * 1000 / 1024)
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
