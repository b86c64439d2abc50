//go:build tinygo && esp32s3

package main

import (
	"context"
	"time"

	"watchcode-go/bus"
	"watchcode-go/evq"
	"watchcode-go/platform"
	"watchcode-go/services/config"
	"watchcode-go/services/heartbeat"
	"watchcode-go/services/watch"
)

const device = "watchy"

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("boot")

	defer func() {
		if r := recover(); r != nil {
			// Stop feeding the watchdog; it resets the chip.
			println("panic:", r)
			select {}
		}
	}()

	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, device)
	cfg, err := config.Resolve(device)
	if err != nil {
		println("config:", err.Error())
	}

	q := evq.New()
	board := platform.Watchy(q)
	b := bus.NewBus(4)

	app := watch.New(ctx, cfg, board, q, nil, b.NewConnection("watch"))

	config.NewConfigService().Start(ctx, b.NewConnection("config"))
	hb := heartbeat.New(cfg.HeartbeatInterval, func() heartbeat.Sample {
		return heartbeat.Sample{QueueLen: q.Len(), Overflows: q.Overflows(), Exec: app.Diagnostics()}
	})
	if err := hb.Start(ctx, b.NewConnection("heartbeat")); err != nil {
		println("heartbeat:", err.Error())
	}

	app.Start(time.Now())
	if err := app.Run(ctx); err != nil {
		println("executor:", err.Error())
	}
}
