// Package platform provides the transport ports the link service runs
// over: an in-memory loop pair for hosts and a uartx-backed UART for
// rp2040 boards. Both expose the same shape, a context-bounded send plus
// a receive ring.
package platform

import (
	"context"

	"linkcore-go/errcode"
	"linkcore-go/services/link"
	"linkcore-go/x/bytering"
)

// LoopEnd is one side of an in-memory serial pair. Bytes sent on one end
// land in the other end's receive ring, so two full stacks (or a stack
// and a scripted peer) can talk without hardware.
type LoopEnd struct {
	peer *bytering.Ring
	rx   *bytering.Ring
}

var _ link.Port = (*LoopEnd)(nil)

// NewLoopPair builds both ends with rings of the given capacity.
func NewLoopPair(size int) (*LoopEnd, *LoopEnd) {
	if size <= 0 {
		size = 128
	}
	a := bytering.New(size)
	b := bytering.New(size)
	return &LoopEnd{peer: b, rx: a}, &LoopEnd{peer: a, rx: b}
}

// Ring is this end's inbound byte channel.
func (e *LoopEnd) Ring() *bytering.Ring { return e.rx }

// SendContext queues the whole frame into the peer's ring, waiting for
// drain when it is full.
func (e *LoopEnd) SendContext(ctx context.Context, p []byte) error {
	for len(p) > 0 {
		p = p[e.peer.WriteFrom(p):]
		if len(p) == 0 {
			break
		}
		select {
		case <-e.peer.Writable():
		case <-ctx.Done():
			return &errcode.E{C: errcode.Timeout, Op: "platform.loop.send", Err: ctx.Err()}
		}
	}
	return nil
}
