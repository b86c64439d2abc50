//go:build !linux && !tinygo

package platform

import (
	"watchcode-go/errcode"
	"watchcode-go/services/display"
)

// EPDHat is only available on Linux.
type EPDHat struct{}

func OpenEPDHat(string) (*EPDHat, error) {
	return nil, &errcode.E{C: errcode.NotFitted, Op: "epd.open", Msg: "linux only"}
}

func (*EPDHat) Init() error { return errcode.NotFitted }

func (*EPDHat) SetDisplay(*display.Framebuffer, display.Region, display.RefreshKind) error {
	return errcode.NotFitted
}

func (*EPDHat) Busy() bool   { return false }
func (*EPDHat) Sleep() error { return nil }
func (*EPDHat) Close() error { return nil }
