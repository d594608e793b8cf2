package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Populate embeddedConfigs at build time (e.g. via code generation) or
// manually during development.
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

const cfgPico = `{
  "link": {
    "node": "PICO",
    "peer": "ESP8266",
    "heartbeat_ms": 10000,
    "jitter_ms": 2000,
    "reply_wait_ms": 1000,
    "send_timeout_ms": 100,
    "retry_delay_ms": 10,
    "send_attempts": 3,
    "read_timeout_ms": 100
  },
  "watchdog": {
    "period_ms": 1000,
    "slots": 3
  },
  "logging": {
    "depth": 5,
    "post_timeout_ms": 100,
    "recv_timeout_ms": 2000
  }
}`

// Loopback host demo: tighter timing so link behavior shows up quickly.
const cfgLoopback = `{
  "link": {
    "node": "PICO",
    "peer": "LOOP",
    "heartbeat_ms": 2000,
    "jitter_ms": 500,
    "reply_wait_ms": 500
  },
  "watchdog": {
    "period_ms": 1000,
    "slots": 3
  },
  "logging": {
    "depth": 16
  }
}`

var embeddedConfigs = map[string][]byte{
	"pico":     []byte(cfgPico),
	"loopback": []byte(cfgLoopback),
}
