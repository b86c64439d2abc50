//go:build !tinygo

package platform

import (
	"context"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"watchcode-go/errcode"
	"watchcode-go/evq"
	"watchcode-go/services/display"
	"watchcode-go/services/timesync"
	"watchcode-go/types"
)

type fakeIRQPin struct {
	level   bool
	falling bool
	handler func()
}

func (p *fakeIRQPin) Get() bool { return p.level }
func (p *fakeIRQPin) SetIRQ(falling bool, h func()) error {
	p.falling, p.handler = falling, h
	return nil
}

func TestButtonIRQPostsPress(t *testing.T) {
	q := evq.New()
	pin := &fakeIRQPin{level: true}
	require.NoError(t, ButtonIRQ(q, pin, types.ButtonTopRight))
	require.True(t, pin.falling)

	pin.handler()
	ev, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, evq.ButtonPress, ev.Kind)
	require.Equal(t, types.ButtonTopRight, ev.Button)
}

func TestPinButtonsActiveLow(t *testing.T) {
	b := &PinButtons{}
	pin := &fakeIRQPin{level: true}
	b.Pins[types.ButtonBottomLeft] = pin
	require.False(t, b.ReadButton(types.ButtonBottomLeft))
	pin.level = false
	require.True(t, b.ReadButton(types.ButtonBottomLeft))
	require.False(t, b.ReadButton(types.ButtonTopLeft), "unwired")
}

func TestNVRAMRoundTrip(t *testing.T) {
	nv, err := OpenNVRAM(":memory:")
	require.NoError(t, err)
	defer nv.Close()

	_, ok, err := nv.Get(KeySteps)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, nv.Put(KeySteps, 42))
	require.NoError(t, nv.Put(KeySteps, 43))
	v, ok, err := nv.Get(KeySteps)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(43), v)
}

func TestSimRestoresFromNVRAM(t *testing.T) {
	nv, err := OpenNVRAM(":memory:")
	require.NoError(t, err)
	defer nv.Close()

	s := NewSim(evq.New(), SimOptions{NVRAM: nv})
	s.Drift(90 * time.Second)
	s.Walk(12)
	s.Close()

	s2 := NewSim(evq.New(), SimOptions{NVRAM: nv})
	require.Equal(t, 90*time.Second, s2.RTCError())
	steps, err := s2.Board().Accel.ReadSteps()
	require.NoError(t, err)
	require.Equal(t, uint32(12), steps)
}

func TestSimRTCFollowsDriftAndWrites(t *testing.T) {
	s := NewSim(evq.New(), SimOptions{})
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	rtc := s.Board().RTC

	s.Drift(-3 * time.Minute)
	got, err := rtc.ReadTime()
	require.NoError(t, err)
	require.Equal(t, base.Add(-3*time.Minute), got)

	require.NoError(t, rtc.WriteTime(base.Add(time.Second)))
	require.Equal(t, time.Second, s.RTCError())
}

func TestSimAlarmFires(t *testing.T) {
	q := evq.New()
	s := NewSim(q, SimOptions{})
	defer s.Close()
	base := time.Date(2024, 6, 1, 10, 0, 59, 980_000_000, time.UTC)
	s.now = func() time.Time { return base }

	// Rounded up to 10:01:00, 20ms away.
	rtc := s.Board().RTC
	require.NoError(t, rtc.SetAlarm(base.Add(time.Millisecond)))
	require.Equal(t, base.Truncate(time.Minute).Add(time.Minute), s.AlarmAt())

	select {
	case <-q.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("alarm did not fire")
	}
	ev, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, evq.RtcAlarm, ev.Kind)
	require.True(t, s.AlarmPending())
	require.NoError(t, rtc.ClearAlarm())
	require.False(t, s.AlarmPending())
}

func TestSimPanelLatencyAndFailure(t *testing.T) {
	s := NewSim(evq.New(), SimOptions{FullLatency: time.Hour})
	p := s.Panel()
	fb := display.NewFramebuffer()
	fb.FillRect(0, 0, 8, 8, color.RGBA{A: 255})

	require.NoError(t, p.SetDisplay(fb, display.Full, display.RefreshFull))
	require.True(t, p.Busy())
	require.Equal(t, uint32(1), p.Counts()[display.RefreshFull])
	require.True(t, p.Snapshot().Ink(0, 0))

	require.NoError(t, p.SetDisplay(fb, display.Full, display.RefreshPartial))
	require.False(t, p.Busy(), "partial latency defaults to zero")

	p.SetFail(true)
	require.Equal(t, errcode.DisplayWrite, errcode.Of(p.SetDisplay(fb, display.Full, display.RefreshPartial)))

	require.NoError(t, p.Sleep())
	require.True(t, p.Asleep())
}

func TestSimNetworkHonoursLink(t *testing.T) {
	s := NewSim(evq.New(), SimOptions{RTCOffset: time.Minute})
	b := s.Board()
	ctx := context.Background()

	s.SetLink(false)
	require.False(t, b.LinkAvailable())
	_, err := b.Network.Connect(ctx, timesync.Credentials{})
	require.Equal(t, errcode.LinkDown, errcode.Of(err))

	s.SetLink(true)
	conn, err := b.Network.Connect(ctx, timesync.Credentials{})
	require.NoError(t, err)
	at, err := conn.TimeSync(ctx, "local")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), at, time.Second)
	require.NoError(t, conn.Close())
}

func TestSimInjection(t *testing.T) {
	q := evq.New()
	s := NewSim(q, SimOptions{})
	b := s.Board()

	s.Press(types.ButtonTopLeft)
	require.True(t, b.Buttons.ReadButton(types.ButtonTopLeft))
	ev, _ := q.TryPop()
	require.Equal(t, evq.ButtonPress, ev.Kind)

	s.SetBattery(3500, true)
	mv, err := b.Battery.ReadMilliVolts()
	require.NoError(t, err)
	require.Equal(t, uint32(3500), mv)
	require.True(t, b.Battery.Charging())

	b.Vibrator.Set(true)
	require.True(t, s.Vibrating())

	require.NoError(t, b.Sleeper.EnterSleep(time.Now()))
	require.True(t, s.Sleeping())
	b.Sleeper.ExitSleep()
	require.False(t, s.Sleeping())
}

func TestWakeFromLines(t *testing.T) {
	rtcInt := &fakeIRQPin{level: true}
	b := &PinButtons{}
	held := &fakeIRQPin{level: true}
	b.Pins[types.ButtonTopRight] = held

	cause, _ := WakeFromLines(rtcInt, b)
	require.Equal(t, types.WakeReset, cause)

	held.level = false
	cause, id := WakeFromLines(rtcInt, b)
	require.Equal(t, types.WakeButton, cause)
	require.Equal(t, types.ButtonTopRight, id)

	rtcInt.level = false
	cause, _ = WakeFromLines(rtcInt, b)
	require.Equal(t, types.WakeRTCAlarm, cause, "alarm line wins")
}

func TestSimReportsWakeCause(t *testing.T) {
	s := NewSim(evq.New(), SimOptions{WakeCause: types.WakeButton, WakeBtn: types.ButtonBottomLeft})
	b := s.Board()
	require.Equal(t, types.WakeButton, b.WakeCause)
	require.Equal(t, types.ButtonBottomLeft, b.WakeBtn)
}
