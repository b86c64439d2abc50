package bma423

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"watchcode-go/errcode"
)

type fakeBMA struct {
	regs    [256]byte
	image   []byte
	writes  []byte // register of every write, in order
	initOK  bool
	failAll bool
}

func newFake() *fakeBMA {
	f := &fakeBMA{initOK: true}
	f.regs[regChipID] = ChipID
	return f
}

func (f *fakeBMA) Tx(addr uint16, w, r []byte) error {
	if f.failAll || addr != Address {
		return errors.New("nack")
	}
	reg := w[0]
	if len(w) > 1 {
		f.writes = append(f.writes, reg)
		switch reg {
		case regFeatures:
			f.image = append(f.image, w[1:]...)
		case regInitCtrl:
			if w[1] == 0x01 && f.initOK {
				f.regs[regInternal] = internalInitOK
			}
		default:
			for i, b := range w[1:] {
				f.regs[int(reg)+i] = b
			}
		}
	}
	for i := range r {
		r[i] = f.regs[int(reg)+i]
	}
	return nil
}

func noSleep(t *testing.T) {
	old := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = old })
}

func TestInitWithoutFeatures(t *testing.T) {
	noSleep(t)
	f := newFake()
	d := New(f, Config{})
	require.NoError(t, d.Init())
	require.Equal(t, byte(pwrCtrlAccEn), f.regs[regPwrCtrl])
	require.Equal(t, byte(0x00), f.regs[regPwrConf])

	_, err := d.ReadSteps()
	require.Equal(t, errcode.Unsupported, errcode.Of(err))
}

func TestBadChipID(t *testing.T) {
	f := newFake()
	f.regs[regChipID] = 0x11
	err := New(f, Config{}).Init()
	require.Equal(t, errcode.BadChipID, errcode.Of(err))
	require.Equal(t, errcode.Permanent, errcode.ClassOf(err))
}

func TestFeatureUploadAndSteps(t *testing.T) {
	noSleep(t)
	f := newFake()
	img := make([]byte, 21)
	for i := range img {
		img[i] = byte(i + 1)
	}
	d := New(f, Config{Features: img})
	require.NoError(t, d.Init())
	require.Equal(t, img, f.image)
	require.Equal(t, byte(int1MapStep), f.regs[regInt1Map])

	f.regs[regSteps] = 0x39
	f.regs[regSteps+1] = 0x30
	f.regs[regSteps+2] = 0x01
	steps, err := d.ReadSteps()
	require.NoError(t, err)
	require.Equal(t, uint32(0x13039), steps)
}

func TestFeatureEngineFailure(t *testing.T) {
	noSleep(t)
	f := newFake()
	f.initOK = false
	err := New(f, Config{Features: []byte{1, 2}}).Init()
	require.Equal(t, errcode.InitFailed, errcode.Of(err))
}

func TestReadAcceleration(t *testing.T) {
	f := newFake()
	d := New(f, Config{})
	// X = +1g, Y = -0.5g, Z = 0 (12-bit values, left-justified).
	put := func(reg byte, v int16) {
		u := uint16(v << 4)
		f.regs[reg] = byte(u)
		f.regs[reg+1] = byte(u >> 8)
	}
	put(regAccX, 1024)
	put(regAccX+2, -512)
	put(regAccX+4, 0)

	v, err := d.ReadAcceleration()
	require.NoError(t, err)
	require.Equal(t, int16(1000), v.X)
	require.Equal(t, int16(-500), v.Y)
	require.Equal(t, int16(0), v.Z)

	f.failAll = true
	_, err = d.ReadAcceleration()
	require.Equal(t, errcode.BusNack, errcode.Of(err))
}
