package link

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"linkcore-go/bus"
	"linkcore-go/errcode"
	"linkcore-go/patterns"
	"linkcore-go/services/logq"
	"linkcore-go/types"
	"linkcore-go/x/bytering"
)

// testPort records transmitted frames. failN > 0 fails that many sends,
// failN < 0 fails every send.
type testPort struct {
	mu     sync.Mutex
	failN  int
	frames []string
	times  []time.Time
}

func (p *testPort) SendContext(ctx context.Context, b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.times = append(p.times, time.Now())
	if p.failN != 0 {
		if p.failN > 0 {
			p.failN--
		}
		return errcode.Busy
	}
	p.frames = append(p.frames, string(b))
	return nil
}

func (p *testPort) snapshot() ([]string, []time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.frames...), append([]time.Time(nil), p.times...)
}

func (p *testPort) hasFrame(frame string) bool {
	fs, _ := p.snapshot()
	for _, f := range fs {
		if f == frame {
			return true
		}
	}
	return false
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

type fixture struct {
	svc  *Service
	port *testPort
	ring *bytering.Ring
	bus  *bus.Bus
	q    *logq.Queue
	out  *syncBuffer
}

// newFixture starts a service with probing parked (hour-long interval)
// unless cfg overrides it. Inbound bytes go through f.ring.
func newFixture(t *testing.T, ctx context.Context, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		port: &testPort{},
		ring: bytering.New(128),
		bus:  bus.NewBus(16),
		out:  &syncBuffer{},
	}
	f.q = logq.New(logq.Config{Depth: 64})
	go f.q.Run(ctx, f.out, nil)

	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = time.Hour
	}
	if cfg.JitterMs == 0 {
		cfg.JitterMs = 1
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Millisecond
	}
	actions := patterns.NewActions(func(patterns.Pattern) {})
	f.svc = NewService(cfg, Deps{
		Port:   f.port,
		Ring:   f.ring,
		Log:    f.q,
		Invoke: actions.Invoke,
	})
	if err := f.svc.Start(ctx, f.bus.NewConnection("link")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return f
}

func (f *fixture) feed(s string) {
	f.ring.WriteFrom([]byte(s))
}

func TestCommandAckRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, ctx, Config{})

	cli := f.bus.NewConnection("cli")
	events := cli.Subscribe(bus.Topic{"link", "event", "cmd"})

	f.feed("LED_CMD:2\n")
	waitFor(t, 2*time.Second, func() bool { return f.port.hasFrame("OK:Pattern2\r\n") })

	select {
	case msg := <-events.Channel():
		ev, ok := msg.Payload.(types.CommandEvent)
		if !ok {
			t.Fatalf("event payload %T", msg.Payload)
		}
		if ev.Token != "2" || !ev.OK || ev.Reply != "OK:Pattern2" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no command event")
	}

	f.feed("LED_CMD:9\r\n")
	waitFor(t, 2*time.Second, func() bool { return f.port.hasFrame("ERROR:InvalidPattern\r\n") })

	select {
	case msg := <-events.Channel():
		ev := msg.Payload.(types.CommandEvent)
		if ev.Token != "9" || ev.OK || ev.Reply != "ERROR:InvalidPattern" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no command event for bad token")
	}
}

func TestAllPatternTokensAcked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, ctx, Config{})

	for token, ack := range map[string]string{
		"1": "OK:Pattern1\r\n",
		"2": "OK:Pattern2\r\n",
		"3": "OK:Pattern3\r\n",
		"4": "OK:AllOFF\r\n",
	} {
		f.feed("LED_CMD:" + token + "\n")
		waitFor(t, 2*time.Second, func() bool { return f.port.hasFrame(ack) })
	}
}

func TestAckSendFailureLogged(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, ctx, Config{
		Send: SendConfig{Attempts: 3, RetryDelay: 10 * time.Millisecond, AttemptTimeout: 50 * time.Millisecond},
	})
	f.port.failN = -1

	f.feed("PING\n")
	waitFor(t, 2*time.Second, func() bool {
		return strings.Contains(f.out.String(), "ERROR: Failed to send PONG")
	})

	frames, times := f.port.snapshot()
	if len(frames) != 0 {
		t.Fatalf("frames sent despite failures: %q", frames)
	}
	if len(times) != 3 {
		t.Fatalf("attempts = %d, want 3", len(times))
	}
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < 8*time.Millisecond {
			t.Fatalf("attempt gap %d = %v, want >= ~10ms", i, gap)
		}
	}
}

func TestLinkHealthEdges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, ctx, Config{
		Heartbeat: 50 * time.Millisecond,
		ReplyWait: 60 * time.Millisecond,
	})

	cli := f.bus.NewConnection("cli")
	states := cli.Subscribe(bus.Topic{"link", "state"})

	next := func(want types.Link) types.LinkState {
		t.Helper()
		select {
		case msg := <-states.Channel():
			st, ok := msg.Payload.(types.LinkState)
			if !ok {
				t.Fatalf("state payload %T", msg.Payload)
			}
			if st.Link != want {
				t.Fatalf("link = %q, want %q", st.Link, want)
			}
			return st
		case <-time.After(2 * time.Second):
			t.Fatalf("no %q state", want)
		}
		return types.LinkState{}
	}

	next(types.LinkUp) // retained boot state

	down := next(types.LinkDown) // probe unanswered
	if down.Error == "" {
		t.Fatal("down state should carry a reason")
	}

	f.feed("PICO_PONG\n")
	up := next(types.LinkUp)
	if up.Error != "" {
		t.Fatalf("recovered state carries error %q", up.Error)
	}
	if !strings.Contains(f.out.String(), "connection restored!") {
		t.Fatal("recovery not logged")
	}
}

func TestPeerProbeAnswered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, ctx, Config{})

	f.feed("PING\n")
	waitFor(t, 2*time.Second, func() bool { return f.port.hasFrame("PONG\r\n") })

	// Named pairs are answered too: our own tag and the peer's.
	f.feed("PICO_PING\n")
	waitFor(t, 2*time.Second, func() bool { return f.port.hasFrame("PICO_PONG\r\n") })

	f.feed("ESP8266_PING\n")
	waitFor(t, 2*time.Second, func() bool { return f.port.hasFrame("ESP8266_PONG\r\n") })
}

func TestOverflowSignalsAndRecovers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, ctx, Config{})

	f.feed(strings.Repeat("A", 70))
	waitFor(t, 2*time.Second, func() bool { return f.port.hasFrame("ERROR:BufferOverflow\r\n") })
	waitFor(t, 2*time.Second, func() bool {
		return strings.Contains(f.out.String(), "ERROR: RX buffer overflow!")
	})

	// The assembler resets; the next line dispatches normally.
	f.feed("\nPING\n")
	waitFor(t, 2*time.Second, func() bool { return f.port.hasFrame("PONG\r\n") })
}

func TestUnknownLineLogged(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, ctx, Config{})

	f.feed("STATUS\n")
	waitFor(t, 2*time.Second, func() bool {
		return strings.Contains(f.out.String(), "Unknown command: 'STATUS'")
	})
	if frames, _ := f.port.snapshot(); len(frames) != 0 {
		t.Fatalf("unknown line produced frames: %q", frames)
	}
}

func TestSendRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, ctx, Config{})

	cli := f.bus.NewConnection("cli")
	rctx, rcancel := context.WithTimeout(ctx, 2*time.Second)
	defer rcancel()
	reply, err := cli.RequestWait(rctx, cli.NewMessage(bus.Topic{"link", "send"}, "STATUS_REQ", false))
	if err != nil {
		t.Fatalf("RequestWait: %v", err)
	}
	if ok, is := reply.Payload.(types.OKReply); !is || !ok.OK {
		t.Fatalf("reply = %+v", reply.Payload)
	}
	if !f.port.hasFrame("STATUS_REQ\r\n") {
		t.Fatal("request payload not framed onto the wire")
	}

	rctx2, rcancel2 := context.WithTimeout(ctx, 2*time.Second)
	defer rcancel2()
	reply, err = cli.RequestWait(rctx2, cli.NewMessage(bus.Topic{"link", "send"}, 42, false))
	if err != nil {
		t.Fatalf("RequestWait: %v", err)
	}
	if er, is := reply.Payload.(types.ErrorReply); !is || er.OK || er.Error == "" {
		t.Fatalf("reply = %+v", reply.Payload)
	}
}

func TestConfigRetunesHeartbeat(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, ctx, Config{}) // probing parked at an hour

	cli := f.bus.NewConnection("cli")
	cli.Publish(cli.NewMessage(bus.Topic{"config", "link"}, types.LinkConfig{HeartbeatMs: 30}, false))

	waitFor(t, 2*time.Second, func() bool { return f.port.hasFrame("PICO_PING\r\n") })
}

func TestLoopFeedsWatchdog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var feeds atomic.Uint32
	ring := bytering.New(128)
	svc := NewService(Config{Heartbeat: time.Hour, JitterMs: 1, ReadTimeout: 10 * time.Millisecond}, Deps{
		Port: &testPort{},
		Ring: ring,
		Feed: func() { feeds.Add(1) },
	})
	b := bus.NewBus(0)
	if err := svc.Start(ctx, b.NewConnection("link")); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return feeds.Load() >= 5 })
}

func TestBacklogWarnedOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fixture{
		port: &testPort{},
		ring: bytering.New(128),
		bus:  bus.NewBus(16),
		out:  &syncBuffer{},
	}
	f.q = logq.New(logq.Config{Depth: 64})
	go f.q.Run(ctx, f.out, nil)

	// Pile up inbound bytes before the consumer starts.
	f.feed(strings.Repeat("AB\n", 24))

	f.svc = NewService(Config{Heartbeat: time.Hour, JitterMs: 1, ReadTimeout: 10 * time.Millisecond}, Deps{
		Port: f.port,
		Ring: f.ring,
		Log:  f.q,
	})
	if err := f.svc.Start(ctx, f.bus.NewConnection("link")); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return strings.Contains(f.out.String(), "RX ring filling up")
	})
	time.Sleep(200 * time.Millisecond)
	if n := strings.Count(f.out.String(), "RX ring filling up"); n != 1 {
		t.Fatalf("backlog warned %d times, want 1", n)
	}
}
