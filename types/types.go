package types

// ---- Link state (retained) ----

// Link is the peer health reported on link/state.
type Link string

const (
	LinkUp   Link = "up"
	LinkDown Link = "down"
)

// LinkState is published retained whenever peer health flips.
type LinkState struct {
	Link  Link   `json:"link"`
	TS    int64  `json:"ts_ms"`
	Error string `json:"error,omitempty"`
}

// ---- Events ----

// CommandEvent is published on link/event/cmd for every dispatched line.
type CommandEvent struct {
	Token string `json:"token"`
	OK    bool   `json:"ok"`
	Reply string `json:"reply,omitempty"`
	TS    int64  `json:"ts_ms"`
}

// WatchdogAlert is published on watchdog/alert when a task misses its
// feeding deadline.
type WatchdogAlert struct {
	Task      string `json:"task"`
	ElapsedMs uint32 `json:"elapsed_ms"`
	TimeoutMs uint32 `json:"timeout_ms"`
	TS        int64  `json:"ts_ms"`
}

// ---- Generic replies ----

type OKReply struct {
	OK bool `json:"ok"`
}
type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// ---- Service configuration ----

// LinkConfig is supplied on topic "config/link". Zero fields fall back to
// firmware defaults.
type LinkConfig struct {
	Node          string `json:"node,omitempty"`          // local node tag, e.g. "PICO"
	Peer          string `json:"peer,omitempty"`          // peer name used in diagnostics
	HeartbeatMs   uint32 `json:"heartbeat_ms,omitempty"`  // base probe interval
	JitterMs      uint32 `json:"jitter_ms,omitempty"`     // uniform jitter bound added per cycle
	ReplyWaitMs   uint32 `json:"reply_wait_ms,omitempty"` // probe response deadline
	SendTimeoutMs uint32 `json:"send_timeout_ms,omitempty"`
	RetryDelayMs  uint32 `json:"retry_delay_ms,omitempty"`
	SendAttempts  uint8  `json:"send_attempts,omitempty"`
	ReadTimeoutMs uint32 `json:"read_timeout_ms,omitempty"` // per-byte receive poll bound
}

// WatchdogConfig is supplied on topic "config/watchdog".
type WatchdogConfig struct {
	PeriodMs uint32 `json:"period_ms,omitempty"`
	Slots    uint8  `json:"slots,omitempty"`
}

// LogConfig is supplied on topic "config/logging".
type LogConfig struct {
	Depth         uint8  `json:"depth,omitempty"`
	PostTimeoutMs uint32 `json:"post_timeout_ms,omitempty"`
	RecvTimeoutMs uint32 `json:"recv_timeout_ms,omitempty"`
}
