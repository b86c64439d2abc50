// config/config_test.go
package config

import (
	"context"
	"testing"
	"time"

	"watchcode-go/bus"
	"watchcode-go/errcode"
	"watchcode-go/types"
)

func withLookup(t *testing.T, device, doc string) {
	t.Helper()
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(d string) ([]byte, bool) {
		if d != device {
			return nil, false
		}
		return []byte(doc), true
	}
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })
}

func TestConfig_PublishEmbedded_RetainedPerKey(t *testing.T) {
	withLookup(t, "watchy", `{
		"mode": "dev",
		"heartbeat": {"interval": 5},
		"watch": {"idle_timeout": 12, "ntp_server": "10.0.0.1"}
	}`)

	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "watchy")
	svc.Start(ctx, conn)

	sub := conn.Subscribe(bus.Topic{configPrefix, "#"})
	got := map[string]any{}
	deadline := time.Now().Add(600 * time.Millisecond)
	for len(got) < 3 && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if len(m.Topic) != 2 || m.Topic[0] != configPrefix {
				t.Fatalf("unexpected topic: %v", m.Topic)
			}
			got[m.Topic[1]] = m.Payload
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 retained messages, got %d (%v)", len(got), got)
	}

	if s, ok := got["mode"].(string); !ok || s != "dev" {
		t.Fatalf("mode payload = %#v, want \"dev\"", got["mode"])
	}
	if m, ok := got["heartbeat"].(map[string]any); !ok || m["interval"] != float64(5) {
		t.Fatalf("heartbeat payload = %#v", got["heartbeat"])
	}
	wc, ok := got["watch"].(types.WatchConfig)
	if !ok {
		t.Fatalf("watch payload type = %T, want types.WatchConfig", got["watch"])
	}
	if wc.IdleTimeout != 12*time.Second || wc.NTPServer != "10.0.0.1" {
		t.Fatalf("watch overlay not applied: %+v", wc)
	}
	if wc.SyncInterval != time.Hour {
		t.Fatalf("unset key lost its default: %v", wc.SyncInterval)
	}
}

func TestConfig_PublishConfig_MissingDevice(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test-missing-device")
	svc := NewConfigService()

	if err := svc.publishConfig(context.Background(), conn); err == nil {
		t.Fatal("expected error for missing device ID, got nil")
	}
}

func TestConfig_PublishConfig_NoConfigFound(t *testing.T) {
	withLookup(t, "watchy", `{}`)

	b := bus.NewBus(4)
	conn := b.NewConnection("test-no-config")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "unknown-device")
	if err := svc.publishConfig(ctx, conn); err == nil {
		t.Fatal("expected error for missing embedded config, got nil")
	}
}

func TestResolve_EmbeddedDevices(t *testing.T) {
	c, err := Resolve("watchy")
	if err != nil {
		t.Fatalf("watchy: %v", err)
	}
	if c.NTPServer != "185.83.169.27" || c.Debounce != 5*time.Millisecond || c.VibratePulse != 60*time.Millisecond {
		t.Fatalf("watchy config = %+v", c)
	}
	if c.MaxJump != 15*time.Minute || c.MaxSyncAttempts != 3 || c.FullRefreshEvery != 10 {
		t.Fatalf("watchy config = %+v", c)
	}

	c, err = Resolve("sim")
	if err != nil {
		t.Fatalf("sim: %v", err)
	}
	if c.SyncInterval != 2*time.Minute || c.UTCOffset != 0 {
		t.Fatalf("sim config = %+v", c)
	}
}

func TestResolve_Errors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"malformed", `{"watch": `},
		{"not object", `[1, 2]`},
		{"wrong type", `{"watch": {"idle_timeout": "soon"}}`},
		{"fractional count", `{"watch": {"max_sync_attempts": 1.5}}`},
		{"invalid value", `{"watch": {"full_refresh_every": 0}}`},
		{"backoff inverted", `{"watch": {"backoff_base": 120, "backoff_max": 60}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withLookup(t, "dev", tc.doc)
			c, err := Resolve("dev")
			if errcode.Of(err) != errcode.InvalidParams {
				t.Fatalf("err = %v, want invalid_params", err)
			}
			if c != types.DefaultWatchConfig() {
				t.Fatalf("rejected config should fall back to defaults, got %+v", c)
			}
		})
	}
}

func TestResolve_UnknownDevice(t *testing.T) {
	withLookup(t, "dev", `{}`)
	if _, err := Resolve("other"); errcode.Of(err) != errcode.NotFitted {
		t.Fatalf("err = %v, want not_fitted", err)
	}
}

func TestValidate_Defaults(t *testing.T) {
	if err := Validate(types.DefaultWatchConfig()); err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}
}
