package display

import (
	"image/color"
	"time"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/freemono"

	"watchcode-go/types"
	"watchcode-go/x/conv"
)

var (
	black = color.RGBA{0, 0, 0, 255}
	white = color.RGBA{255, 255, 255, 255}
)

var (
	weekdays = [7]string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}
	months   = [12]string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}
)

// Face draws the watch face for each display mode.
type Face struct {
	zone *time.Location
	buf  [32]byte
}

// NewFace renders times shifted by offset from UTC.
func NewFace(offset time.Duration) *Face {
	return &Face{zone: time.FixedZone("", int(offset/time.Second))}
}

// Draw renders s into fb, which the caller has cleared.
func (f *Face) Draw(fb *Framebuffer, s types.StateSnapshot, h types.Health) {
	local := s.Time.In(f.zone)
	f.statusBar(fb, s, h)
	switch s.Mode {
	case types.ModeTime:
		f.centre(fb, &freemono.Bold24pt7b, 110, f.clock(local))
		f.centre(fb, &freemono.Regular12pt7b, 160, f.date(local))
	case types.ModeDate:
		f.centre(fb, &freemono.Bold24pt7b, 100, weekdays[local.Weekday()])
		f.centre(fb, &freemono.Regular12pt7b, 150, f.date(local))
	case types.ModeSteps:
		f.centre(fb, &freemono.Regular12pt7b, 80, "STEPS")
		f.centre(fb, &freemono.Bold24pt7b, 130, string(conv.Utoa(f.buf[:], uint64(s.Steps))))
	case types.ModeStatus:
		f.status(fb, s, h)
	}
}

func (f *Face) statusBar(fb *Framebuffer, s types.StateSnapshot, h types.Health) {
	var b [8]byte
	pct := conv.Utoa(b[:4], uint64(s.BatteryPct))
	line := string(pct) + "%"
	if s.Charging {
		line += "+"
	}
	_, w := tinyfont.LineWidth(&freemono.Regular9pt7b, line)
	tinyfont.WriteLine(fb, &freemono.Regular9pt7b, Width-int16(w)-4, 16, line, black)

	// Sync marker: filled when the last sync succeeded.
	if s.LastSync.OK {
		fb.FillRect(4, 6, 10, 10, black)
	} else {
		outline(fb, 4, 6, 10, 10)
	}
	if h.LowBattery {
		tinyfont.WriteLine(fb, &freemono.Regular9pt7b, 20, 16, "LOW", black)
	}
	fb.FillRect(0, 22, Width, 1, black)
}

func (f *Face) status(fb *Framebuffer, s types.StateSnapshot, h types.Health) {
	font := &freemono.Regular9pt7b
	y := int16(50)
	line := func(label, value string) {
		tinyfont.WriteLine(fb, font, 6, y, label+" "+value, black)
		y += 22
	}
	var b [24]byte
	line("BAT", string(conv.Utoa(b[:], uint64(s.BatteryMV)))+"mV")
	if s.LastSync.At.IsZero() {
		line("SYNC", "never")
	} else if s.LastSync.OK {
		line("SYNC", "ok "+s.LastSync.Drift.Round(time.Second).String())
	} else {
		line("SYNC", s.LastSync.Err)
	}
	line("ACC", string(h.Accel.Link))
	line("RTC", string(h.RTC.Link))
	line("NET", string(h.Radio.Link))
	line("DROP", string(conv.Utoa(b[:], uint64(h.Overflows))))
}

func (f *Face) clock(t time.Time) string {
	var b [5]byte
	two(b[0:2], t.Hour())
	b[2] = ':'
	two(b[3:5], t.Minute())
	return string(b[:])
}

func (f *Face) date(t time.Time) string {
	var b [2]byte
	two(b[:], t.Day())
	return string(b[:]) + " " + months[t.Month()-1] + " " + string(conv.Itoa(f.buf[:], int64(t.Year())))
}

func (f *Face) centre(fb *Framebuffer, font tinyfont.Fonter, y int16, s string) {
	_, w := tinyfont.LineWidth(font, s)
	x := (Width - int16(w)) / 2
	if x < 0 {
		x = 0
	}
	tinyfont.WriteLine(fb, font, x, y, s, black)
}

func two(dst []byte, v int) {
	dst[0] = byte('0' + v/10%10)
	dst[1] = byte('0' + v%10)
}

func outline(fb *Framebuffer, x, y, w, h int16) {
	fb.FillRect(x, y, w, 1, black)
	fb.FillRect(x, y+h-1, w, 1, black)
	fb.FillRect(x, y, 1, h, black)
	fb.FillRect(x+w-1, y, 1, h, black)
	fb.FillRect(x+1, y+1, w-2, h-2, white)
}
