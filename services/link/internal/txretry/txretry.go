// Package txretry sends frames with bounded per-attempt time and a fixed
// delay between attempts. The caller gets a single errcode.SendFailed once
// every attempt is spent.
package txretry

import (
	"context"
	"time"

	"linkcore-go/errcode"
)

// Port is the transmit half of a serial link.
type Port interface {
	SendContext(ctx context.Context, p []byte) error
}

type Config struct {
	Attempts       int           // default 3
	RetryDelay     time.Duration // default 10ms
	AttemptTimeout time.Duration // default 100ms
}

type Sender struct {
	port Port
	cfg  Config
}

func New(port Port, cfg Config) *Sender {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Millisecond
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 100 * time.Millisecond
	}
	return &Sender{port: port, cfg: cfg}
}

// Send pushes frame through the port, retrying on error. It returns nil on
// the first successful attempt.
func (s *Sender) Send(ctx context.Context, frame []byte) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.Attempts; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, s.cfg.RetryDelay) {
				return &errcode.E{C: errcode.SendFailed, Op: "txretry.send", Err: ctx.Err()}
			}
		}
		actx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		err := s.port.SendContext(actx, frame)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return &errcode.E{C: errcode.SendFailed, Op: "txretry.send", Err: lastErr}
}

// sleep waits for d and reports false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
