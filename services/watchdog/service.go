package watchdog

import (
	"context"
	"encoding/json"
	"time"

	"linkcore-go/bus"
	"linkcore-go/services/logq"
	"linkcore-go/types"
	"linkcore-go/x/conv"
	"linkcore-go/x/timex"
)

var (
	topicAlert  = bus.Topic{"watchdog", "alert"}
	topicConfig = bus.Topic{"config", "watchdog"}
)

// Service wraps a Monitor with bus and log plumbing: alerts become log
// lines plus watchdog/alert events, and config/watchdog retunes the check
// period at runtime.
type Service struct {
	mon  *Monitor
	q    *logq.Queue
	conn *bus.Connection
}

// NewService builds the monitor with its Alert and Log routed through the
// service; any Alert or Log already set on cfg is replaced.
func NewService(cfg Config, q *logq.Queue) *Service {
	s := &Service{q: q}
	cfg.Alert = s.onAlert
	cfg.Log = s.post
	s.mon = New(cfg)
	return s
}

// Monitor exposes the underlying table for Register/Feed wiring.
func (s *Service) Monitor() *Monitor { return s.mon }

// Start runs the check loop and the config listener.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	s.conn = conn
	go s.mon.Run(ctx)
	go s.serviceLoop(ctx, conn)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfig)
	defer conn.Unsubscribe(cfgSub)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-cfgSub.Channel():
			var c types.WatchdogConfig
			if err := decodeConfig(msg.Payload, &c); err != nil {
				s.post("WARN: watchdog config rejected: " + err.Error())
				continue
			}
			if c.PeriodMs > 0 {
				s.mon.SetPeriod(time.Duration(c.PeriodMs) * time.Millisecond)
			}
		}
	}
}

func (s *Service) onAlert(task string, elapsed, timeout time.Duration) {
	s.post("*** WATCHDOG ALERT ***")
	s.post(alertLine(task, elapsed, timeout))
	if s.conn != nil {
		s.conn.Publish(s.conn.NewMessage(topicAlert, types.WatchdogAlert{
			Task:      task,
			ElapsedMs: uint32(elapsed / time.Millisecond),
			TimeoutMs: uint32(timeout / time.Millisecond),
			TS:        timex.NowMs(),
		}, false))
	}
}

func (s *Service) post(line string) {
	if s.q != nil {
		s.q.Post(line)
	}
}

func alertLine(task string, elapsed, timeout time.Duration) string {
	var buf [128]byte
	var num [20]byte
	b := append(buf[:0], "[WATCHDOG] Task '"...)
	b = append(b, task...)
	b = append(b, "' unresponsive! (elapsed="...)
	b = append(b, conv.Utoa(num[:], uint64(elapsed/time.Millisecond))...)
	b = append(b, "ms, timeout="...)
	b = append(b, conv.Utoa(num[:], uint64(timeout/time.Millisecond))...)
	b = append(b, "ms)"...)
	return string(b)
}

func decodeConfig(p any, dst *types.WatchdogConfig) error {
	switch v := p.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}
