package link

import (
	"context"
	"encoding/json"
	"time"

	"linkcore-go/bus"
	"linkcore-go/errcode"
	"linkcore-go/services/link/internal/proto"
	"linkcore-go/services/link/internal/txretry"
	"linkcore-go/types"
	"linkcore-go/x/timex"
)

func (s *Service) handleLine(ctx context.Context, line string) {
	s.post(s.tag + "Received: '" + line + "'")

	m := s.table.Classify(line)
	switch m.Kind {
	case proto.Probe:
		s.resp.Saw(time.Now())
		if err := s.sendLine(ctx, m.Reply); err != nil {
			s.post(s.tag + "ERROR: Failed to send " + m.Reply)
			return
		}
		s.post(s.tag + "probe received, sent " + m.Reply)

	case proto.Reply:
		if s.prober.GotReply() {
			s.post(s.tag + "connection restored!")
			s.publishState("")
		}

	case proto.Command:
		s.handleCommand(ctx, m.Token)

	default:
		s.post(s.tag + "Unknown command: '" + line + "'")
	}
}

// handleCommand invokes the actuator action for a token and acks the
// result on the wire. The ack frame goes through the reliable
// transmitter; a send failure is logged and otherwise accepted.
func (s *Service) handleCommand(ctx context.Context, token string) {
	reply, err := s.run(token)
	ok := err == nil
	ack := "OK:" + reply
	if err != nil {
		reason := errcode.Msg(err)
		if reason == "" {
			reason = string(errcode.Of(err))
		}
		ack = "ERROR:" + reason
	}

	if ok {
		s.post(s.tag + "Applied " + reply)
	} else {
		s.post(s.tag + "Rejected command token '" + token + "'")
	}
	if serr := s.sendLine(ctx, ack); serr != nil {
		s.post(s.tag + "ERROR: Failed to send ACK")
	}
	s.conn.Publish(s.conn.NewMessage(topicEvent, types.CommandEvent{
		Token: token,
		OK:    ok,
		Reply: ack,
		TS:    timex.NowMs(),
	}, false))
}

func (s *Service) run(token string) (string, error) {
	if s.invoke == nil {
		return "", &errcode.E{C: errcode.Unsupported, Op: "link.run", Msg: "NoHandler"}
	}
	return s.invoke(token)
}

// handleSend answers link/send requests: the payload is framed and
// transmitted, the reply reports the outcome.
func (s *Service) handleSend(ctx context.Context, msg *bus.Message) {
	raw, ok := payloadBytes(msg.Payload)
	if !ok || len(raw) == 0 {
		s.conn.Reply(msg, types.ErrorReply{Error: "payload must be a non-empty string"}, false)
		return
	}
	frame := make([]byte, 0, len(raw)+2)
	frame = append(frame, raw...)
	frame = append(frame, crlf...)
	if err := s.tx.Send(ctx, frame); err != nil {
		s.conn.Reply(msg, types.ErrorReply{Error: err.Error()}, false)
		return
	}
	s.conn.Reply(msg, types.OKReply{OK: true}, false)
}

func payloadBytes(p any) ([]byte, bool) {
	switch v := p.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	default:
		return nil, false
	}
}

// applyConfig retunes the loop from a config/link payload. Zero fields
// keep their current values; node and peer names are fixed at boot.
func (s *Service) applyConfig(p any) {
	var c types.LinkConfig
	if err := decodeConfig(p, &c); err != nil {
		s.post(s.tag + "ERROR: bad link config: " + err.Error())
		return
	}
	if c.HeartbeatMs > 0 {
		s.cfg.Heartbeat = time.Duration(c.HeartbeatMs) * time.Millisecond
	}
	if c.JitterMs > 0 {
		s.cfg.JitterMs = c.JitterMs
	}
	if c.ReplyWaitMs > 0 {
		s.cfg.ReplyWait = time.Duration(c.ReplyWaitMs) * time.Millisecond
	}
	if c.ReadTimeoutMs > 0 {
		s.cfg.ReadTimeout = time.Duration(c.ReadTimeoutMs) * time.Millisecond
	}
	if c.SendTimeoutMs > 0 {
		s.cfg.Send.AttemptTimeout = time.Duration(c.SendTimeoutMs) * time.Millisecond
	}
	if c.RetryDelayMs > 0 {
		s.cfg.Send.RetryDelay = time.Duration(c.RetryDelayMs) * time.Millisecond
	}
	if c.SendAttempts > 0 {
		s.cfg.Send.Attempts = int(c.SendAttempts)
	}
	s.tx = txretry.New(s.port, s.cfg.Send)
	s.prober.Retune(s.cfg.Heartbeat, s.cfg.ReplyWait, s.cfg.JitterMs)
}

func decodeConfig(p any, dst *types.LinkConfig) error {
	switch v := p.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dst)
	}
}
