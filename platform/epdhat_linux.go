//go:build linux && !tinygo

package platform

import (
	"image"
	"image/color"
	"image/draw"

	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/devices/v3/waveshare2in13v4"
	"periph.io/x/host/v3"

	"watchcode-go/errcode"
	"watchcode-go/services/display"
)

// EPDHat mirrors the watch face onto a Waveshare 2.13" e-paper HAT on a
// Linux SBC. The 200x200 image is scaled into the largest square that fits.
// Updates are synchronous, so Busy is always false.
type EPDHat struct {
	port spi.PortCloser
	dev  *waveshare2in13v4.Dev
	img  *image1bit.VerticalLSB
}

// OpenEPDHat initialises the host drivers and the HAT on the default SPI
// port ("" picks the first).
func OpenEPDHat(port string) (*EPDHat, error) {
	if _, err := host.Init(); err != nil {
		return nil, errcode.Wrap(errcode.InitFailed, "epd.host", err)
	}
	p, err := spireg.Open(port)
	if err != nil {
		return nil, errcode.Wrap(errcode.NotFitted, "epd.spi", err)
	}
	opts := waveshare2in13v4.EPD2in13v4
	dev, err := waveshare2in13v4.NewHat(p, &opts)
	if err != nil {
		p.Close()
		return nil, errcode.Wrap(errcode.InitFailed, "epd.hat", err)
	}
	return &EPDHat{port: p, dev: dev, img: image1bit.NewVerticalLSB(dev.Bounds())}, nil
}

func (h *EPDHat) Init() error {
	if err := h.dev.Init(); err != nil {
		return errcode.Wrap(errcode.InitFailed, "epd.init", err)
	}
	return h.dev.Clear(color.White)
}

// SetDisplay redraws the whole HAT; region and kind are left to the
// controller's own driver.
func (h *EPDHat) SetDisplay(fb *display.Framebuffer, _ display.Region, _ display.RefreshKind) error {
	b := h.img.Bounds()
	draw.Draw(h.img, b, image.White, image.Point{}, draw.Src)
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	off := image.Pt(b.Min.X+(b.Dx()-side)/2, b.Min.Y+(b.Dy()-side)/2)
	draw.Draw(h.img, image.Rectangle{Min: off, Max: off.Add(image.Pt(side, side))}, scaled{fb, side}, image.Point{}, draw.Src)
	if err := h.dev.Draw(b, h.img, image.Point{}); err != nil {
		return errcode.Wrap(errcode.DisplayWrite, "epd.draw", err)
	}
	return nil
}

func (h *EPDHat) Busy() bool { return false }

func (h *EPDHat) Sleep() error { return h.dev.Sleep() }

// Close parks the panel and releases the port.
func (h *EPDHat) Close() error {
	_ = h.dev.Halt()
	return h.port.Close()
}

// scaled presents a framebuffer as a side x side image, nearest neighbour.
type scaled struct {
	fb   *display.Framebuffer
	side int
}

func (s scaled) ColorModel() color.Model { return color.GrayModel }

func (s scaled) Bounds() image.Rectangle { return image.Rect(0, 0, s.side, s.side) }

func (s scaled) At(x, y int) color.Color {
	fx := int16(x * display.Width / s.side)
	fy := int16(y * display.Height / s.side)
	if s.fb.Ink(fx, fy) {
		return color.Black
	}
	return color.White
}
