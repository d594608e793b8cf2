// Package link runs the command and heartbeat loop for one serial peer.
// A receive interrupt deposits raw bytes into a ring; this service drains
// the ring one byte at a time, assembles lines, answers probes, invokes
// commands and probes the peer on a jittered interval. Everything runs on
// a single goroutine so the protocol state needs no locking.
package link

import (
	"context"
	"time"

	"linkcore-go/bus"
	"linkcore-go/services/link/internal/lineasm"
	"linkcore-go/services/link/internal/probe"
	"linkcore-go/services/link/internal/proto"
	"linkcore-go/services/link/internal/txretry"
	"linkcore-go/services/logq"
	"linkcore-go/types"
	"linkcore-go/x/bytering"
	"linkcore-go/x/conv"
	"linkcore-go/x/randx"
	"linkcore-go/x/strx"
	"linkcore-go/x/timex"
)

var (
	topicState  = bus.Topic{"link", "state"}
	topicEvent  = bus.Topic{"link", "event", "cmd"}
	topicSend   = bus.Topic{"link", "send"}
	topicConfig = bus.Topic{"config", "link"}
)

var crlf = []byte("\r\n")

type Config struct {
	Node        string        // token tag for this side's probe pair
	Peer        string        // peer name used in diagnostics
	CmdPrefix   string        // head of inbound command lines
	Heartbeat   time.Duration // base probe interval
	JitterMs    uint32        // uniform jitter bound added per cycle
	ReplyWait   time.Duration // probe reply deadline
	ReadTimeout time.Duration // per-iteration byte wait
	LineMax     int           // line assembler capacity
	Send        SendConfig
}

// Port is the raw frame transmitter under the reliable sender.
type Port = txretry.Port

// SendConfig tunes the reliable transmitter: attempt count, fixed retry
// backoff and the per-attempt deadline.
type SendConfig = txretry.Config

// Deps are the collaborators the loop drives. Port and Ring are required;
// the rest degrade to no-ops when nil.
type Deps struct {
	Port   Port
	Ring   *bytering.Ring
	Log    *logq.Queue
	Invoke func(token string) (string, error) // command action
	Feed   func()                             // watchdog feed
	RNG    *randx.LCG                         // jitter source
}

type Service struct {
	cfg    Config
	port   txretry.Port
	tx     *txretry.Sender
	ring   *bytering.Ring
	q      *logq.Queue
	invoke func(string) (string, error)
	feed   func()
	rng    *randx.LCG

	table  *proto.Table
	asm    *lineasm.Assembler
	prober *probe.Prober
	resp   probe.Responder

	tag        string // log line prefix, "[<peer>] "
	probeToken string
	replyToken string
	probeFrame []byte

	conn          *bus.Connection
	warnedBacklog bool
}

func NewService(cfg Config, d Deps) *Service {
	cfg.Node = strx.Coalesce(cfg.Node, "PICO")
	cfg.Peer = strx.Coalesce(cfg.Peer, "ESP8266")
	cfg.CmdPrefix = strx.Coalesce(cfg.CmdPrefix, "LED_CMD:")
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = 10 * time.Second
	}
	if cfg.JitterMs == 0 {
		cfg.JitterMs = 2000
	}
	if cfg.ReplyWait == 0 {
		cfg.ReplyWait = time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.LineMax == 0 {
		cfg.LineMax = 64
	}

	s := &Service{
		cfg:    cfg,
		port:   d.Port,
		tx:     txretry.New(d.Port, cfg.Send),
		ring:   d.Ring,
		q:      d.Log,
		invoke: d.Invoke,
		feed:   d.Feed,
		rng:    d.RNG,
		asm:    lineasm.New(cfg.LineMax),

		tag:        "[" + cfg.Peer + "] ",
		probeToken: cfg.Node + "_PING",
		replyToken: cfg.Node + "_PONG",
	}
	// Three directions: ours, the peer's named one, and the bare pair.
	// Answering our own probe token is harmless and keeps the table
	// symmetric, so two nodes running this code interoperate.
	s.table = proto.NewTable(cfg.CmdPrefix,
		proto.Pair{Probe: s.probeToken, Reply: s.replyToken},
		proto.Pair{Probe: cfg.Peer + "_PING", Reply: cfg.Peer + "_PONG"},
		proto.Pair{Probe: "PING", Reply: "PONG"},
	)
	s.probeFrame = append([]byte(s.probeToken), crlf...)
	return s
}

// Start publishes the boot link state and spawns the loop.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	s.conn = conn
	subCfg := conn.Subscribe(topicConfig)
	subSend := conn.Subscribe(topicSend)

	if s.rng == nil {
		s.rng = randx.NewLCG(uint32(timex.NowMs()))
	}
	s.prober = probe.NewProber(s.cfg.Heartbeat, s.cfg.ReplyWait, s.cfg.JitterMs, s.rng, time.Now())
	s.publishState("")

	go s.serviceLoop(ctx, subCfg, subSend)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context, subCfg, subSend *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if s.feed != nil {
			s.feed()
		}

		select {
		case msg := <-subCfg.Channel():
			s.applyConfig(msg.Payload)
		case msg := <-subSend.Channel():
			s.handleSend(ctx, msg)
		default:
		}

		if s.prober.Due(time.Now()) {
			s.sendProbe(ctx)
		}
		if s.prober.Expired(time.Now()) {
			s.probeTimeout()
		}
		s.checkBacklog()

		rctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
		b, err := s.ring.ReadByteContext(rctx)
		cancel()
		if err != nil {
			continue // idle cycle, go feed the watchdog again
		}

		line, ferr := s.asm.Feed(b)
		if ferr != nil {
			if serr := s.sendLine(ctx, "ERROR:BufferOverflow"); serr != nil {
				s.post(s.tag + "ERROR: Failed to send ERROR:BufferOverflow")
			}
			s.post(s.tag + "ERROR: RX buffer overflow!")
			continue
		}
		if line != "" {
			s.handleLine(ctx, line)
		}
	}
}

func (s *Service) sendProbe(ctx context.Context) {
	if err := s.tx.Send(ctx, s.probeFrame); err != nil {
		s.post(s.tag + "ERROR: Failed to send " + s.probeToken)
		return // state untouched, retried next cycle
	}
	s.post(s.tag + "Sending " + s.probeToken + "...")
	s.prober.Sent(time.Now())
}

func (s *Service) probeTimeout() {
	if !s.prober.Timeout() {
		return
	}
	s.post(s.tag + "ALERT: No " + s.replyToken + " response!")
	if s.resp.Count() > 0 && time.Since(s.resp.LastSeen()) < 2*s.cfg.Heartbeat {
		// Peer probes still arriving while our replies go unanswered
		// points at a one-way wire, not a dead peer.
		s.post(s.tag + "peer probes still arriving, one-way link?")
	}
	s.post(s.tag + "connection may be broken")
	s.publishState("no " + s.replyToken + " response")
}

// checkBacklog emits the soft backpressure warning once per run when the
// consumer falls behind the interrupt producer.
func (s *Service) checkBacklog() {
	if s.warnedBacklog {
		return
	}
	used := s.ring.Available()
	if used <= s.ring.Cap()/2 {
		return
	}
	s.warnedBacklog = true
	var num [8]byte
	s.post(s.tag + "WARNING: RX ring filling up! " +
		string(conv.Utoa(num[:], uint64(used))) + "/" +
		string(conv.Utoa(num[:], uint64(s.ring.Cap()))) + " bytes used")
}

func (s *Service) sendLine(ctx context.Context, token string) error {
	frame := make([]byte, 0, len(token)+2)
	frame = append(frame, token...)
	frame = append(frame, crlf...)
	return s.tx.Send(ctx, frame)
}

func (s *Service) post(msg string) {
	if s.q != nil {
		s.q.Post(msg)
	}
}

func (s *Service) publishState(errText string) {
	st := types.LinkState{Link: types.LinkUp, TS: timex.NowMs()}
	if s.prober != nil && !s.prober.Healthy() {
		st.Link = types.LinkDown
		st.Error = errText
	}
	s.conn.Publish(s.conn.NewMessage(topicState, st, true))
}
