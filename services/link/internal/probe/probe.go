// Package probe holds the heartbeat bookkeeping for both directions of a
// link: the prober that sends periodic liveness probes and judges the
// peer, and the responder that records probes arriving from the peer.
// Both are pure state machines driven by explicit clock readings, so the
// owning loop decides when time passes.
package probe

import (
	"time"

	"linkcore-go/x/randx"
)

// Prober tracks one outbound probe cycle. The peer starts out assumed
// healthy; only a missed reply window flips it down, and any reply flips
// it back up.
type Prober struct {
	base time.Duration // probe interval
	wait time.Duration // reply deadline after a sent probe
	jcap uint32        // jitter bound in ms, 0 disables
	rng  *randx.LCG

	jitter   time.Duration
	lastSent time.Time
	awaiting bool
	healthy  bool
}

// NewProber seeds the cycle clock at now so the first probe falls one full
// interval (plus jitter) later.
func NewProber(base, wait time.Duration, jitterMs uint32, rng *randx.LCG, now time.Time) *Prober {
	p := &Prober{
		base:     base,
		wait:     wait,
		jcap:     jitterMs,
		rng:      rng,
		lastSent: now,
		healthy:  true,
	}
	p.jitter = p.draw()
	return p
}

func (p *Prober) draw() time.Duration {
	if p.rng == nil || p.jcap == 0 {
		return 0
	}
	return time.Duration(p.rng.Uint32n(p.jcap)) * time.Millisecond
}

// Due reports whether a probe should be sent now. A cycle in flight is
// never due.
func (p *Prober) Due(now time.Time) bool {
	return !p.awaiting && now.Sub(p.lastSent) >= p.base+p.jitter
}

// Sent records a successfully transmitted probe and draws the next
// cycle's jitter. A failed transmit must NOT call Sent: leaving the state
// untouched retries the probe on the next pass.
func (p *Prober) Sent(now time.Time) {
	p.lastSent = now
	p.awaiting = true
	p.jitter = p.draw()
}

// Expired reports whether the in-flight probe has outlived its reply
// window.
func (p *Prober) Expired(now time.Time) bool {
	return p.awaiting && now.Sub(p.lastSent) >= p.wait
}

// Timeout marks the cycle failed. It reports true only on the
// healthy-to-down edge; the wait state clears either way.
func (p *Prober) Timeout() (lostEdge bool) {
	lostEdge = p.healthy
	p.healthy = false
	p.awaiting = false
	return lostEdge
}

// GotReply absorbs a reply token. It reports true only on the
// down-to-healthy edge; the wait state clears either way.
func (p *Prober) GotReply() (recoveredEdge bool) {
	recoveredEdge = !p.healthy
	p.healthy = true
	p.awaiting = false
	return recoveredEdge
}

// Retune changes the cycle timing without disturbing link state or an
// in-flight probe. The jitter draw for the current cycle is redone under
// the new bound.
func (p *Prober) Retune(base, wait time.Duration, jitterMs uint32) {
	p.base = base
	p.wait = wait
	p.jcap = jitterMs
	p.jitter = p.draw()
}

func (p *Prober) Healthy() bool         { return p.healthy }
func (p *Prober) Awaiting() bool        { return p.awaiting }
func (p *Prober) Jitter() time.Duration { return p.jitter }

// Responder records probes seen from the peer.
type Responder struct {
	lastSeen time.Time
	count    uint32
}

func (r *Responder) Saw(now time.Time) {
	r.lastSeen = now
	r.count++
}

func (r *Responder) LastSeen() time.Time { return r.lastSeen }
func (r *Responder) Count() uint32       { return r.count }
