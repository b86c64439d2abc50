package types

import "time"

// WatchConfig carries every tunable of the core. Supplied on topic
// "config/watch" and resolved by services/config.
type WatchConfig struct {
	// Cadence.
	SyncInterval     time.Duration `json:"sync_interval" yaml:"sync_interval"`
	IdleTimeout      time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	FullRefreshEvery int           `json:"full_refresh_every" yaml:"full_refresh_every"`
	BatteryInterval  time.Duration `json:"battery_interval" yaml:"battery_interval"`

	// Time sync.
	MaxJump         time.Duration `json:"max_jump" yaml:"max_jump"`
	ConnectTimeout  time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	RequestTimeout  time.Duration `json:"request_timeout" yaml:"request_timeout"`
	BackoffBase     time.Duration `json:"backoff_base" yaml:"backoff_base"`
	BackoffMax      time.Duration `json:"backoff_max" yaml:"backoff_max"`
	MaxSyncAttempts int           `json:"max_sync_attempts" yaml:"max_sync_attempts"`
	NTPServer       string        `json:"ntp_server" yaml:"ntp_server"`
	SSID            string        `json:"ssid" yaml:"ssid"`
	Passphrase      string        `json:"passphrase" yaml:"passphrase"`

	// Input and UI.
	Debounce          time.Duration `json:"debounce" yaml:"debounce"`
	VibratePulse      time.Duration `json:"vibrate_pulse" yaml:"vibrate_pulse"`
	LowBatteryPercent uint8         `json:"low_battery_pct" yaml:"low_battery_pct"`
	UTCOffset         time.Duration `json:"utc_offset" yaml:"utc_offset"`

	// Diagnostics.
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// DefaultWatchConfig returns the shipping defaults.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		SyncInterval:      time.Hour,
		IdleTimeout:       30 * time.Second,
		FullRefreshEvery:  10,
		BatteryInterval:   time.Minute,
		MaxJump:           15 * time.Minute,
		ConnectTimeout:    10 * time.Second,
		RequestTimeout:    5 * time.Second,
		BackoffBase:       5 * time.Second,
		BackoffMax:        time.Minute,
		MaxSyncAttempts:   3,
		NTPServer:         "pool.ntp.org",
		Debounce:          5 * time.Millisecond,
		VibratePulse:      60 * time.Millisecond,
		LowBatteryPercent: 10,
		UTCOffset:         time.Hour,
		HeartbeatInterval: 10 * time.Second,
	}
}
