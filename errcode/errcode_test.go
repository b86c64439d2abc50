package errcode

import (
	"errors"
	"testing"
)

func TestOf(t *testing.T) {
	wrapped := Wrap(BusNack, "pcf8563.read", errors.New("i2c: nack"))
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"code", Timeout, Timeout},
		{"wrapper", &E{C: LinkDown}, LinkDown},
		{"wrap", wrapped, BusNack},
		{"plain", errors.New("boom"), Error},
	}
	for _, tc := range cases {
		if got := Of(tc.err); got != tc.want {
			t.Errorf("%s: Of=%q want %q", tc.name, got, tc.want)
		}
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(Timeout, "op", nil) != nil {
		t.Fatal("Wrap(nil) must stay nil")
	}
}

func TestWrapMessage(t *testing.T) {
	err := Wrap(DisplayWrite, "ssd1681.flush", errors.New("spi stalled"))
	if got := err.Error(); got != "ssd1681.flush: display_write: spi stalled" {
		t.Fatalf("Error()=%q", got)
	}
	if !errors.Is(err, err.(*E).Err) {
		t.Fatal("cause must be reachable through Unwrap")
	}
}

func TestClassOf(t *testing.T) {
	if ClassOf(Timeout) != Transient {
		t.Fatal("timeout is transient")
	}
	if ClassOf(Wrap(InitFailed, "bma423.init", errors.New("x"))) != Permanent {
		t.Fatal("init failure is permanent")
	}
	if ClassOf(QueueCorrupt) != Fatal {
		t.Fatal("queue corruption is fatal")
	}
	if ClassOf(errors.New("unknown")) != Transient {
		t.Fatal("unknown errors default to transient")
	}
}

func TestMapDriverErr(t *testing.T) {
	if MapDriverErr(errors.New("I2C timeout on read")) != Timeout {
		t.Fatal("timeout text not mapped")
	}
	if MapDriverErr(errors.New("address NACK")) != BusNack {
		t.Fatal("nack text not mapped")
	}
	if MapDriverErr(InvalidResponse) != InvalidResponse {
		t.Fatal("codes pass through")
	}
	if MapDriverErr(nil) != OK {
		t.Fatal("nil maps to OK")
	}
}
