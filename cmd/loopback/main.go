package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"linkcore-go/bus"
	"linkcore-go/patterns"
	"linkcore-go/platform"
	"linkcore-go/services/config"
	"linkcore-go/services/link"
	"linkcore-go/services/logq"
	"linkcore-go/services/watchdog"
	"linkcore-go/types"
)

// Host demo: the full service stack on one end of an in-memory pair, a
// scripted peer on the other. Walks the command round-trip, the probe
// exchange and the outbound send path, then exits.

const scenarioTimeout = 5 * time.Second

// peer plays the remote device: it answers probes on its own and hands
// every other line to the driver.
type peer struct {
	end   *platform.LoopEnd
	lines chan string
}

func newPeer(end *platform.LoopEnd) *peer {
	return &peer{end: end, lines: make(chan string, 16)}
}

func (p *peer) run(ctx context.Context) {
	var acc []byte
	for {
		c, err := p.end.Ring().ReadByteContext(ctx)
		if err != nil {
			return
		}
		if c != '\n' {
			acc = append(acc, c)
			continue
		}
		line := strings.TrimRight(string(acc), "\r")
		acc = acc[:0]
		if line == "" {
			continue
		}
		if line == "PICO_PING" {
			p.send(ctx, "PICO_PONG")
			continue
		}
		select {
		case p.lines <- line:
		default:
		}
	}
}

func (p *peer) send(ctx context.Context, line string) {
	_ = p.end.SendContext(ctx, []byte(line+"\r\n"))
}

// expect waits for the next line from the device and compares it.
func (p *peer) expect(ctx context.Context, want string) bool {
	for {
		select {
		case <-ctx.Done():
			println("FAIL: timed out waiting for", want)
			return false
		case got := <-p.lines:
			if got == want {
				println("  <-", got)
				return true
			}
			println("  <- (skip)", got)
		}
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewBus(8)

	cfgCtx := context.WithValue(ctx, config.CtxDeviceKey, "loopback")
	if err := config.NewService().Start(cfgCtx, b.NewConnection("config")); err != nil {
		println("config:", err.Error())
		os.Exit(1)
	}

	// The shipped link section decides node and peer names before the
	// service exists; runtime retunes go through the same topic later.
	ui := b.NewConnection("ui")
	var lc types.LinkConfig
	readSection(ui, "link", &lc)
	var lg types.LogConfig
	readSection(ui, "logging", &lg)

	q := logq.New(logq.Config{
		Depth:       int(lg.Depth),
		PostTimeout: time.Duration(lg.PostTimeoutMs) * time.Millisecond,
		RecvTimeout: time.Duration(lg.RecvTimeoutMs) * time.Millisecond,
	})
	go q.Run(ctx, os.Stdout, nil)

	devEnd, peerEnd := platform.NewLoopPair(128)
	rem := newPeer(peerEnd)
	go rem.run(ctx)

	wd := watchdog.NewService(watchdog.Config{}, q)
	linkSlot := wd.Monitor().Register("link", 5*time.Second)
	wd.Start(ctx, b.NewConnection("watchdog"))

	eng := patterns.NewEngine(patterns.NullSink{})
	go eng.Run(ctx)

	svc := link.NewService(link.Config{Node: lc.Node, Peer: lc.Peer}, link.Deps{
		Port:   devEnd,
		Ring:   devEnd.Ring(),
		Log:    q,
		Invoke: patterns.NewActions(eng.Set).Invoke,
		Feed:   func() { wd.Monitor().Feed(linkSlot) },
	})
	if err := svc.Start(ctx, b.NewConnection("link")); err != nil {
		println("link:", err.Error())
		os.Exit(1)
	}

	events := ui.Subscribe(bus.T("link", "event", "cmd"))
	states := ui.Subscribe(bus.T("link", "state"))

	sctx, scancel := context.WithTimeout(ctx, scenarioTimeout)
	defer scancel()

	// Boot publishes the link as healthy.
	if st, ok := awaitState(sctx, states); !ok || st.Link != types.LinkUp {
		println("FAIL: no healthy boot state")
		os.Exit(1)
	}
	println("scenario: boot state up")

	// Command round-trip: token 2 acks with its pattern name.
	println("scenario: command round-trip")
	rem.send(sctx, "LED_CMD:2")
	if !rem.expect(sctx, "OK:Pattern2") {
		os.Exit(1)
	}
	if ev, ok := awaitEvent(sctx, events); !ok || !ev.OK || ev.Token != "2" {
		println("FAIL: command event missing or wrong")
		os.Exit(1)
	}

	// Invalid token is rejected on the wire.
	println("scenario: invalid token")
	rem.send(sctx, "LED_CMD:9")
	if !rem.expect(sctx, "ERROR:InvalidPattern") {
		os.Exit(1)
	}

	// Bare probe from the peer side.
	println("scenario: peer probe")
	rem.send(sctx, "PING")
	if !rem.expect(sctx, "PONG") {
		os.Exit(1)
	}

	// The device probes on its own; the peer auto-answers, so the
	// retained state must still be up afterwards.
	println("scenario: heartbeat exchange")
	probeCtx, pcancel := context.WithTimeout(ctx, 4*time.Second)
	healthy := awaitQuietLink(probeCtx, states)
	pcancel()
	if !healthy {
		println("FAIL: link flipped during heartbeat exchange")
		os.Exit(1)
	}

	// Outbound path: link/send frames an arbitrary line.
	println("scenario: outbound send")
	reply, err := ui.RequestWait(sctx, ui.NewMessage(bus.T("link", "send"), "HELLO_PEER", false))
	if err != nil {
		println("FAIL: send request:", err.Error())
		os.Exit(1)
	}
	if r, ok := reply.Payload.(types.OKReply); !ok || !r.OK {
		println("FAIL: send rejected")
		os.Exit(1)
	}
	if !rem.expect(sctx, "HELLO_PEER") {
		os.Exit(1)
	}

	println("loopback: all scenarios passed")
	cancel()
	time.Sleep(50 * time.Millisecond)
}

// readSection decodes one retained config section into dst; a missing
// section leaves dst zeroed so constructors fall back to their defaults.
func readSection(conn *bus.Connection, section string, dst any) {
	sub := conn.Subscribe(bus.T("config", section))
	defer conn.Unsubscribe(sub)

	select {
	case m := <-sub.Channel():
		if raw, err := json.Marshal(m.Payload); err == nil {
			_ = json.Unmarshal(raw, dst)
		}
	case <-time.After(time.Second):
	}
}

func awaitState(ctx context.Context, sub *bus.Subscription) (types.LinkState, bool) {
	select {
	case <-ctx.Done():
		return types.LinkState{}, false
	case m := <-sub.Channel():
		st, ok := m.Payload.(types.LinkState)
		return st, ok
	}
}

func awaitEvent(ctx context.Context, sub *bus.Subscription) (types.CommandEvent, bool) {
	select {
	case <-ctx.Done():
		return types.CommandEvent{}, false
	case m := <-sub.Channel():
		ev, ok := m.Payload.(types.CommandEvent)
		return ev, ok
	}
}

// awaitQuietLink watches link/state until ctx expires; any transition to
// down fails the check.
func awaitQuietLink(ctx context.Context, sub *bus.Subscription) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case m := <-sub.Channel():
			if st, ok := m.Payload.(types.LinkState); ok && st.Link == types.LinkDown {
				return false
			}
		}
	}
}
