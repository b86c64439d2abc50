package config

import (
	"context"
	"errors"
	"time"

	"watchcode-go/bus"
	"watchcode-go/errcode"
	"watchcode-go/types"
	"watchcode-go/x/logx"

	"github.com/andreyvit/tinyjson"
)

// -----------------------------------------------------------------------------
// String constants (live in flash, not RAM)
// -----------------------------------------------------------------------------

const (
	serviceName  = "config"
	configPrefix = "config"
	watchKey     = "watch"
	CtxDeviceKey = "device" // context key used for device ID
)

// TopicWatch carries the resolved types.WatchConfig, retained.
var TopicWatch = bus.T(configPrefix, watchKey)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// -----------------------------------------------------------------------------
// Decoding
// -----------------------------------------------------------------------------

// parse decodes a JSON document into a generic object. tinyjson panics on
// malformed input; that is turned into an error here.
func parse(raw []byte) (m map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errcode.Wrap(errcode.InvalidParams, "config.parse", errors.New("malformed json"))
		}
	}()
	r := tinyjson.Raw(raw)
	val := r.Value()
	r.EnsureEOF()

	m, ok := val.(map[string]any)
	if !ok {
		return nil, errcode.Wrap(errcode.InvalidParams, "config.parse", errors.New("not a JSON object"))
	}
	return m, nil
}

// Durations are given in (fractional) seconds.
func seconds(v any) (time.Duration, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}

func integer(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// Apply overlays the keys of a "watch" object onto c. Unknown keys are
// ignored; a known key of the wrong type is an error.
func Apply(c *types.WatchConfig, m map[string]any) error {
	durations := map[string]*time.Duration{
		"sync_interval":      &c.SyncInterval,
		"idle_timeout":       &c.IdleTimeout,
		"battery_interval":   &c.BatteryInterval,
		"max_jump":           &c.MaxJump,
		"connect_timeout":    &c.ConnectTimeout,
		"request_timeout":    &c.RequestTimeout,
		"backoff_base":       &c.BackoffBase,
		"backoff_max":        &c.BackoffMax,
		"debounce":           &c.Debounce,
		"vibrate_pulse":      &c.VibratePulse,
		"utc_offset":         &c.UTCOffset,
		"heartbeat_interval": &c.HeartbeatInterval,
	}
	strs := map[string]*string{
		"ntp_server": &c.NTPServer,
		"ssid":       &c.SSID,
		"passphrase": &c.Passphrase,
	}
	for k, v := range m {
		if p, ok := durations[k]; ok {
			d, ok := seconds(v)
			if !ok {
				return badKey(k)
			}
			*p = d
			continue
		}
		if p, ok := strs[k]; ok {
			s, ok := v.(string)
			if !ok {
				return badKey(k)
			}
			*p = s
			continue
		}
		switch k {
		case "full_refresh_every":
			n, ok := integer(v)
			if !ok {
				return badKey(k)
			}
			c.FullRefreshEvery = n
		case "max_sync_attempts":
			n, ok := integer(v)
			if !ok {
				return badKey(k)
			}
			c.MaxSyncAttempts = n
		case "low_battery_pct":
			n, ok := integer(v)
			if !ok || n < 0 || n > 100 {
				return badKey(k)
			}
			c.LowBatteryPercent = uint8(n)
		}
	}
	return nil
}

func badKey(k string) error {
	return &errcode.E{C: errcode.InvalidParams, Op: "config.apply", Msg: k}
}

// Validate rejects settings the core cannot run with.
func Validate(c types.WatchConfig) error {
	fail := func(msg string) error {
		return &errcode.E{C: errcode.InvalidParams, Op: "config.validate", Msg: msg}
	}
	switch {
	case c.IdleTimeout <= 0:
		return fail("idle_timeout must be positive")
	case c.SyncInterval <= 0:
		return fail("sync_interval must be positive")
	case c.BatteryInterval <= 0:
		return fail("battery_interval must be positive")
	case c.FullRefreshEvery < 1:
		return fail("full_refresh_every must be at least 1")
	case c.MaxSyncAttempts < 1:
		return fail("max_sync_attempts must be at least 1")
	case c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase:
		return fail("backoff_max must not be below backoff_base")
	case c.MaxJump <= 0:
		return fail("max_jump must be positive")
	case c.ConnectTimeout <= 0 || c.RequestTimeout <= 0:
		return fail("timeouts must be positive")
	case c.NTPServer == "":
		return fail("ntp_server is empty")
	}
	return nil
}

// Resolve builds the watch config for a device: defaults, overlaid by the
// device's embedded "watch" object, then validated.
func Resolve(device string) (types.WatchConfig, error) {
	c := types.DefaultWatchConfig()
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return c, &errcode.E{C: errcode.NotFitted, Op: "config.resolve", Msg: "no embedded config for device: " + device}
	}
	m, err := parse(raw)
	if err != nil {
		return c, err
	}
	if w, ok := m[watchKey].(map[string]any); ok {
		if err := Apply(&c, w); err != nil {
			return types.DefaultWatchConfig(), err
		}
	}
	if err := Validate(c); err != nil {
		return types.DefaultWatchConfig(), err
	}
	return c, nil
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
	log  logx.Logger
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName, log: logx.New(serviceName)}
}

// publishConfig reads the device config from embedded data and publishes each
// top-level key as a retained message. The "watch" key is published resolved,
// as a types.WatchConfig.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return errors.New("missing device ID in context")
	}

	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return errors.New("no embedded config for device: " + device)
	}
	m, err := parse(raw)
	if err != nil {
		return err
	}

	for k, v := range m {
		if k == watchKey {
			continue
		}
		conn.Publish(&bus.Message{
			Topic:    bus.T(configPrefix, k),
			Payload:  v,
			Retained: true,
		})
	}

	wc, err := Resolve(device)
	if err != nil {
		s.log.Warn("watch config rejected, using defaults", "err", err)
	}
	conn.Publish(&bus.Message{Topic: TopicWatch, Payload: wc, Retained: true})
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			s.log.Error("publish failed", "err", err)
		}
	}()
}
