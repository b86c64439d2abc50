package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"watchcode-go/bus"
	"watchcode-go/platform"
	"watchcode-go/services/display"
	"watchcode-go/services/watch"
	"watchcode-go/types"
)

const prompt = "watch> "

var buttonNames = map[string]types.ButtonID{
	"bl": types.ButtonBottomLeft, "menu": types.ButtonBottomLeft,
	"tl": types.ButtonTopLeft, "back": types.ButtonTopLeft,
	"tr": types.ButtonTopRight, "up": types.ButtonTopRight,
	"br": types.ButtonBottomRight, "down": types.ButtonBottomRight,
}

// arg returns the i'th argument or reports usage.
func arg(c *ishell.Context, i int, usage string) (string, bool) {
	if len(c.Args) <= i {
		c.Err(fmt.Errorf("usage: %s", usage))
		return "", false
	}
	return c.Args[i], true
}

func onOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "up", "1", "true":
		return true, nil
	case "off", "down", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func newShell(sim *platform.Sim, b *bus.Bus, cfg types.WatchConfig) *ishell.Shell {
	sh := ishell.New()
	sh.SetPrompt(prompt)

	sh.AddCmd(&ishell.Cmd{
		Name: "press",
		Help: "press <bl|tl|tr|br>: press a button",
		Func: func(c *ishell.Context) {
			name, ok := arg(c, 0, "press <bl|tl|tr|br>")
			if !ok {
				return
			}
			id, ok := buttonNames[strings.ToLower(name)]
			if !ok {
				c.Err(fmt.Errorf("unknown button %q", name))
				return
			}
			sim.Press(id)
		},
	})

	sh.AddCmd(&ishell.Cmd{
		Name: "walk",
		Help: "walk <steps>: add steps and raise the accelerometer interrupt",
		Func: func(c *ishell.Context) {
			s, ok := arg(c, 0, "walk <steps>")
			if !ok {
				return
			}
			n, err := strconv.ParseUint(s, 10, 32)
			if err != nil {
				c.Err(err)
				return
			}
			sim.Walk(uint32(n))
		},
	})

	sh.AddCmd(&ishell.Cmd{
		Name: "alarm",
		Help: "alarm: fire the RTC alarm now",
		Func: func(c *ishell.Context) { sim.FireAlarm() },
	})

	sh.AddCmd(&ishell.Cmd{
		Name: "drift",
		Help: "drift <duration>: shift the RTC, e.g. drift -3m",
		Func: func(c *ishell.Context) {
			s, ok := arg(c, 0, "drift <duration>")
			if !ok {
				return
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				c.Err(err)
				return
			}
			sim.Drift(d)
			c.Printf("rtc error %v\n", sim.RTCError())
		},
	})

	sh.AddCmd(&ishell.Cmd{
		Name: "battery",
		Help: "battery <mV> [charging]: set the cell voltage",
		Func: func(c *ishell.Context) {
			s, ok := arg(c, 0, "battery <mV> [charging]")
			if !ok {
				return
			}
			mv, err := strconv.ParseUint(s, 10, 32)
			if err != nil {
				c.Err(err)
				return
			}
			charging := len(c.Args) > 1 && c.Args[1] == "charging"
			sim.SetBattery(uint32(mv), charging)
		},
	})

	sh.AddCmd(&ishell.Cmd{
		Name: "link",
		Help: "link <up|down>: bring the network up or down",
		Func: func(c *ishell.Context) {
			s, ok := arg(c, 0, "link <up|down>")
			if !ok {
				return
			}
			up, err := onOff(s)
			if err != nil {
				c.Err(err)
				return
			}
			sim.SetLink(up)
		},
	})

	sh.AddCmd(&ishell.Cmd{
		Name: "fail",
		Help: "fail <on|off>: make panel writes fail",
		Func: func(c *ishell.Context) {
			s, ok := arg(c, 0, "fail <on|off>")
			if !ok {
				return
			}
			on, err := onOff(s)
			if err != nil {
				c.Err(err)
				return
			}
			sim.Panel().SetFail(on)
		},
	})

	sh.AddCmd(&ishell.Cmd{
		Name: "state",
		Help: "state: show the published watch state",
		Func: func(c *ishell.Context) {
			for _, t := range []bus.Topic{watch.TopicPower, watch.TopicState, watch.TopicHealth} {
				if m, ok := b.Retained(t); ok {
					c.Printf("%-14s %+v\n", t.String(), m.Payload)
				}
			}
			c.Printf("%-14s err=%v vibrating=%v sleeping=%v alarm=%v pending=%v\n", "sim",
				sim.RTCError(), sim.Vibrating(), sim.Sleeping(), sim.AlarmAt().Format(time.TimeOnly), sim.AlarmPending())
		},
	})

	sh.AddCmd(&ishell.Cmd{
		Name: "stats",
		Help: "stats: refresh counters",
		Func: func(c *ishell.Context) {
			n := sim.Panel().Counts()
			c.Printf("partial=%d full=%d asleep=%v\n",
				n[display.RefreshPartial], n[display.RefreshFull], sim.Panel().Asleep())
		},
	})

	sh.AddCmd(&ishell.Cmd{
		Name: "frame",
		Help: "frame [scale]: print the glass",
		Func: func(c *ishell.Context) {
			step := 2
			if len(c.Args) > 0 {
				n, err := strconv.Atoi(c.Args[0])
				if err != nil {
					c.Err(err)
					return
				}
				step = n
			}
			for _, l := range render(sim.Panel().Snapshot(), step) {
				c.Println(l)
			}
		},
	})

	sh.AddCmd(&ishell.Cmd{
		Name: "config",
		Help: "config: show the watch config in effect",
		Func: func(c *ishell.Context) { c.Printf("%+v\n", cfg) },
	})

	return sh
}
