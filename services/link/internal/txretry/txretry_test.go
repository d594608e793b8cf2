package txretry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"linkcore-go/errcode"
)

// scriptPort fails the first failN sends, then succeeds.
type scriptPort struct {
	mu    sync.Mutex
	failN int
	calls []time.Time
	got   [][]byte
}

func (p *scriptPort) SendContext(_ context.Context, b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, time.Now())
	if len(p.calls) <= p.failN {
		return errcode.Busy
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	p.got = append(p.got, cp)
	return nil
}

func (p *scriptPort) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func TestFirstAttemptSucceeds(t *testing.T) {
	p := &scriptPort{}
	s := New(p, Config{})
	if err := s.Send(context.Background(), []byte("PONG\r\n")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if p.callCount() != 1 {
		t.Fatalf("attempts = %d, want 1", p.callCount())
	}
	if string(p.got[0]) != "PONG\r\n" {
		t.Fatalf("frame = %q", p.got[0])
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	p := &scriptPort{failN: 2}
	s := New(p, Config{RetryDelay: 10 * time.Millisecond})

	start := time.Now()
	if err := s.Send(context.Background(), []byte("x")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if p.callCount() != 3 {
		t.Fatalf("attempts = %d, want 3", p.callCount())
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("retry delays not applied, elapsed %v", elapsed)
	}
}

func TestAllAttemptsFail(t *testing.T) {
	p := &scriptPort{failN: 99}
	s := New(p, Config{RetryDelay: 10 * time.Millisecond})

	err := s.Send(context.Background(), []byte("x"))
	if err == nil {
		t.Fatal("expected error")
	}
	if errcode.Of(err) != errcode.SendFailed {
		t.Fatalf("code = %v, want send_failed", errcode.Of(err))
	}
	if !errors.Is(err, errcode.Busy) {
		t.Fatalf("cause not preserved: %v", err)
	}
	if p.callCount() != 3 {
		t.Fatalf("attempts = %d, want 3", p.callCount())
	}

	// Attempts spaced by the retry delay.
	p.mu.Lock()
	gaps := []time.Duration{p.calls[1].Sub(p.calls[0]), p.calls[2].Sub(p.calls[1])}
	p.mu.Unlock()
	for i, g := range gaps {
		if g < 8*time.Millisecond {
			t.Fatalf("gap %d = %v, want >= ~10ms", i, g)
		}
	}
}

// stuckPort blocks until the attempt context expires.
type stuckPort struct {
	mu   sync.Mutex
	errs []error
}

func (p *stuckPort) SendContext(ctx context.Context, _ []byte) error {
	<-ctx.Done()
	p.mu.Lock()
	p.errs = append(p.errs, ctx.Err())
	p.mu.Unlock()
	return ctx.Err()
}

func TestPerAttemptTimeout(t *testing.T) {
	p := &stuckPort{}
	s := New(p, Config{AttemptTimeout: 30 * time.Millisecond, RetryDelay: 5 * time.Millisecond})

	start := time.Now()
	err := s.Send(context.Background(), []byte("x"))
	elapsed := time.Since(start)

	if errcode.Of(err) != errcode.SendFailed {
		t.Fatalf("code = %v, want send_failed", errcode.Of(err))
	}
	p.mu.Lock()
	n := len(p.errs)
	p.mu.Unlock()
	if n != 3 {
		t.Fatalf("attempts = %d, want 3", n)
	}
	if elapsed < 90*time.Millisecond {
		t.Fatalf("attempt timeouts not honored, elapsed %v", elapsed)
	}
}

func TestParentCancelStopsRetries(t *testing.T) {
	p := &scriptPort{failN: 99}
	s := New(p, Config{RetryDelay: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := s.Send(ctx, []byte("x"))
	if errcode.Of(err) != errcode.SendFailed {
		t.Fatalf("code = %v, want send_failed", errcode.Of(err))
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancellation cause not preserved: %v", err)
	}
	if p.callCount() != 1 {
		t.Fatalf("attempts = %d, want 1 (cancelled during backoff)", p.callCount())
	}
}
