package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
//
// Durations in "watch" are seconds; fractions are allowed.
// -----------------------------------------------------------------------------

const cfgWatchy = `{
  "watch": {
      "sync_interval": 3600,
      "idle_timeout": 30,
      "full_refresh_every": 10,
      "max_jump": 900,
      "connect_timeout": 10,
      "request_timeout": 5,
      "max_sync_attempts": 3,
      "ntp_server": "185.83.169.27",
      "debounce": 0.005,
      "vibrate_pulse": 0.06,
      "low_battery_pct": 10,
      "utc_offset": 3600
  },
  "heartbeat": {
      "interval": 60
  }
}`

const cfgSim = `{
  "watch": {
      "sync_interval": 120,
      "idle_timeout": 15,
      "full_refresh_every": 5,
      "ntp_server": "pool.ntp.org",
      "utc_offset": 0
  },
  "heartbeat": {
      "interval": 10
  }
}`

var embeddedConfigs = map[string][]byte{
	"watchy": []byte(cfgWatchy),
	"sim":    []byte(cfgSim),
}
