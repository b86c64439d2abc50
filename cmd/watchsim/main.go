// Command watchsim runs the watch core against a simulated board on the
// host, with an interactive shell for injecting button presses, steps,
// alarms, RTC drift and link changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"watchcode-go/bus"
	"watchcode-go/evq"
	"watchcode-go/platform"
	"watchcode-go/services/config"
	"watchcode-go/services/display"
	"watchcode-go/services/heartbeat"
	"watchcode-go/services/watch"
	"watchcode-go/types"
	"watchcode-go/x/logx"
)

var (
	device     = flag.String("device", "sim", "Embedded config to boot with.")
	configFile = flag.String("config", "", "YAML file overlaid on the device's watch config.")
	nvramPath  = flag.String("nvram", "", "SQLite file persisting RTC error and steps (empty: none).")
	epdPort    = flag.String("epd", "", "Mirror frames to a Waveshare e-paper HAT on this SPI port.")
	useEPD     = flag.Bool("use-epd", false, "Enable the e-paper mirror.")
	realNTP    = flag.Bool("realntp", false, "Query the configured NTP server instead of the host clock.")
	rtcOffset  = flag.Duration("rtc-offset", 0, "Initial RTC error.")
	fullLat    = flag.Duration("full-latency", 2*time.Second, "Simulated full refresh time.")
	partLat    = flag.Duration("partial-latency", 300*time.Millisecond, "Simulated partial refresh time.")
	wakeButton = flag.String("wake-button", "", "Boot as if woken by this button (bl, tl, tr, br).")
	evalOnly   = flag.Bool("e", false, "Run the command line arguments and exit, no interactive shell.")
)

func glogSink(lvl logx.Level, line string) {
	switch lvl {
	case logx.Error:
		glog.ErrorDepth(2, line)
	case logx.Warn:
		glog.WarningDepth(2, line)
	case logx.Debug:
		if glog.V(1) {
			glog.InfoDepth(2, line)
		}
	default:
		glog.InfoDepth(2, line)
	}
}

// loadOverlay reads a YAML mapping of watch config keys. Numbers are
// normalised to float64 so they decode the same way as the JSON configs.
func loadOverlay(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config overlay: %w", err)
	}
	m := map[string]any{}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse config overlay: %w", err)
	}
	for k, v := range m {
		if n, ok := v.(int); ok {
			m[k] = float64(n)
		}
	}
	return m, nil
}

func resolveConfig() (types.WatchConfig, error) {
	cfg, err := config.Resolve(*device)
	if err != nil {
		return cfg, err
	}
	if *configFile == "" {
		return cfg, nil
	}
	overlay, err := loadOverlay(*configFile)
	if err != nil {
		return cfg, err
	}
	next := cfg
	if err := config.Apply(&next, overlay); err != nil {
		return cfg, err
	}
	if err := config.Validate(next); err != nil {
		return cfg, err
	}
	return next, nil
}

func main() {
	flag.Parse()
	defer glog.Flush()
	logx.SetSink(glogSink)
	if glog.V(1) {
		logx.SetLevel(logx.Debug)
	}

	cfg, err := resolveConfig()
	if err != nil {
		glog.Warningf("config: %v (continuing with defaults)", err)
	}

	opts := platform.SimOptions{
		RTCOffset:      *rtcOffset,
		PartialLatency: *partLat,
		FullLatency:    *fullLat,
		RealNTP:        *realNTP,
	}
	if *wakeButton != "" {
		id, ok := buttonNames[*wakeButton]
		if !ok {
			glog.Exitf("unknown wake button %q", *wakeButton)
		}
		opts.WakeCause, opts.WakeBtn = types.WakeButton, id
	}
	if *nvramPath != "" {
		nv, err := platform.OpenNVRAM(*nvramPath)
		if err != nil {
			glog.Exitf("nvram: %v", err)
		}
		defer nv.Close()
		opts.NVRAM = nv
	}
	if *useEPD {
		hat, err := platform.OpenEPDHat(*epdPort)
		if err != nil {
			glog.Exitf("epd: %v", err)
		}
		defer hat.Close()
		opts.Mirror = hat
	}

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), config.CtxDeviceKey, *device))
	defer cancel()

	q := evq.New()
	sim := platform.NewSim(q, opts)
	defer sim.Close()

	b := bus.NewBus(8)
	app := watch.New(ctx, cfg, sim.Board(), q, nil, b.NewConnection("watch"))

	config.NewConfigService().Start(ctx, b.NewConnection("config"))
	hb := heartbeat.New(cfg.HeartbeatInterval, func() heartbeat.Sample {
		return heartbeat.Sample{QueueLen: q.Len(), Overflows: q.Overflows(), Exec: app.Diagnostics()}
	})
	if err := hb.Start(ctx, b.NewConnection("heartbeat")); err != nil {
		glog.Warningf("heartbeat: %v", err)
	}

	app.Start(time.Now())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	sh := newShell(sim, b, cfg)
	if *evalOnly || flag.NArg() > 0 {
		if err := sh.Process(flag.Args()...); err != nil {
			glog.Errorf("%v", err)
		}
	}
	if !*evalOnly {
		sh.Run()
	}
	cancel()
	if err := <-done; err != nil && err != context.Canceled {
		glog.Errorf("executor: %v", err)
	}
}

// render draws the glass as text, two rows per line.
func render(fb *display.Framebuffer, step int) []string {
	if step < 1 {
		step = 1
	}
	var lines []string
	for y := 0; y < display.Height; y += 2 * step {
		row := make([]byte, 0, display.Width/step)
		for x := 0; x < display.Width; x += step {
			top := fb.Ink(int16(x), int16(y))
			bot := y+step < display.Height && fb.Ink(int16(x), int16(y+step))
			switch {
			case top && bot:
				row = append(row, '#')
			case top:
				row = append(row, '"')
			case bot:
				row = append(row, '.')
			default:
				row = append(row, ' ')
			}
		}
		lines = append(lines, string(row))
	}
	return lines
}
