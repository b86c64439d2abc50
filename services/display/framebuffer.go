package display

import "image/color"

// Panel geometry for the 1.54" SSD1681 glass.
const (
	Width  = 200
	Height = 200
	Stride = Width / 8
)

// Framebuffer is a 1-bpp image in panel RAM layout: rows top to bottom,
// MSB is the leftmost pixel, a set bit is white.
type Framebuffer struct {
	buf [Stride * Height]byte
}

// NewFramebuffer returns a white buffer.
func NewFramebuffer() *Framebuffer {
	fb := &Framebuffer{}
	fb.Clear()
	return fb
}

// Size implements drivers.Displayer.
func (fb *Framebuffer) Size() (x, y int16) { return Width, Height }

// SetPixel implements drivers.Displayer. Dark colours ink the pixel.
func (fb *Framebuffer) SetPixel(x, y int16, c color.RGBA) {
	if x < 0 || y < 0 || x >= Width || y >= Height {
		return
	}
	i := int(y)*Stride + int(x)/8
	bit := byte(0x80) >> (uint(x) & 7)
	if isInk(c) {
		fb.buf[i] &^= bit
	} else {
		fb.buf[i] |= bit
	}
}

// Display implements drivers.Displayer. Flushing is the refresh task's job.
func (fb *Framebuffer) Display() error { return nil }

// Ink reports whether the pixel is black.
func (fb *Framebuffer) Ink(x, y int16) bool {
	if x < 0 || y < 0 || x >= Width || y >= Height {
		return false
	}
	return fb.buf[int(y)*Stride+int(x)/8]&(0x80>>(uint(x)&7)) == 0
}

// Clear paints the buffer white.
func (fb *Framebuffer) Clear() {
	for i := range fb.buf {
		fb.buf[i] = 0xFF
	}
}

// Bytes exposes the raw panel RAM image.
func (fb *Framebuffer) Bytes() []byte { return fb.buf[:] }

// Row returns the bytes of row y between byte columns [bx0,bx1).
func (fb *Framebuffer) Row(y, bx0, bx1 int) []byte {
	off := y * Stride
	return fb.buf[off+bx0 : off+bx1]
}

// CopyFrom overwrites fb with src.
func (fb *Framebuffer) CopyFrom(src *Framebuffer) { fb.buf = src.buf }

// FillRect inks or clears a rectangle.
func (fb *Framebuffer) FillRect(x, y, w, h int16, c color.RGBA) {
	for j := y; j < y+h; j++ {
		for i := x; i < x+w; i++ {
			fb.SetPixel(i, j, c)
		}
	}
}

func isInk(c color.RGBA) bool {
	// Rec. 601 luma, integer form.
	return (299*uint32(c.R)+587*uint32(c.G)+114*uint32(c.B))/1000 < 128
}

// Region is a byte-aligned rectangle: X0 and X1 are multiples of 8, X1 and
// Y1 exclusive.
type Region struct {
	X0, Y0, X1, Y1 int16
}

// Full covers the whole panel.
var Full = Region{0, 0, Width, Height}

func (r Region) Empty() bool { return r.X1 <= r.X0 || r.Y1 <= r.Y0 }

func (r Region) Dx() int16 { return r.X1 - r.X0 }
func (r Region) Dy() int16 { return r.Y1 - r.Y0 }

// Diff returns the smallest byte-aligned region containing every byte that
// differs between a and b.
func Diff(a, b *Framebuffer) Region {
	minX, minY := Stride, Height
	maxX, maxY := -1, -1
	for y := 0; y < Height; y++ {
		off := y * Stride
		for bx := 0; bx < Stride; bx++ {
			if a.buf[off+bx] == b.buf[off+bx] {
				continue
			}
			if bx < minX {
				minX = bx
			}
			if bx > maxX {
				maxX = bx
			}
			if y < minY {
				minY = y
			}
			maxY = y
		}
	}
	if maxX < 0 {
		return Region{}
	}
	return Region{
		X0: int16(minX * 8), Y0: int16(minY),
		X1: int16((maxX + 1) * 8), Y1: int16(maxY + 1),
	}
}
