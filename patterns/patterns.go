// Package patterns drives the two status LEDs through timer-based blink
// patterns. A pattern change always stops the running timers first so a
// stale toggle from the previous pattern cannot land.
package patterns

import (
	"context"
	"time"

	"linkcore-go/errcode"
	"linkcore-go/x/strconvx"
	"linkcore-go/x/timex"
)

type Pattern uint8

const (
	None Pattern = iota // both LEDs off, timers stopped
	Pattern1            // both LEDs steady on
	Pattern2            // LED 0 toggles at 100ms, LED 1 at 1s
	Pattern3            // both LEDs toggle at 100ms
)

// Name returns the acknowledgement token for a pattern.
func (p Pattern) Name() string {
	switch p {
	case Pattern1:
		return "Pattern1"
	case Pattern2:
		return "Pattern2"
	case Pattern3:
		return "Pattern3"
	default:
		return "AllOFF"
	}
}

// Parse maps a command token to a pattern: "1".."3" select the blink
// patterns, "4" selects AllOFF. Anything else is rejected.
func Parse(token string) (Pattern, error) {
	n, err := strconvx.Atoi(token)
	switch {
	case err == nil && n >= 1 && n <= 3:
		return Pattern(n), nil
	case err == nil && n == 4:
		return None, nil
	default:
		return None, &errcode.E{C: errcode.InvalidParams, Op: "patterns.parse", Msg: "InvalidPattern"}
	}
}

// Sink receives LED level writes. Implementations must be cheap; they are
// called from the engine loop.
type Sink interface {
	SetLED(idx int, on bool)
}

// NullSink discards writes (hosts without LEDs).
type NullSink struct{}

func (NullSink) SetLED(int, bool) {}

const (
	ledFast = 100 * time.Millisecond
	ledSlow = 1000 * time.Millisecond
)

// Engine owns the blink timers. Set may be called from any goroutine; the
// latest request wins when the loop is busy.
type Engine struct {
	sink Sink
	cmd  chan Pattern
}

func NewEngine(sink Sink) *Engine {
	if sink == nil {
		sink = NullSink{}
	}
	return &Engine{
		sink: sink,
		cmd:  make(chan Pattern, 1),
	}
}

// Set requests a pattern change without blocking.
func (e *Engine) Set(p Pattern) {
	select {
	case e.cmd <- p:
	default:
		select {
		case <-e.cmd:
		default:
		}
		select {
		case e.cmd <- p:
		default:
		}
	}
}

// Run applies pattern changes and toggles LEDs until ctx is done. LEDs
// start and finish off.
func (e *Engine) Run(ctx context.Context) {
	t0 := time.NewTimer(time.Hour)
	t1 := time.NewTimer(time.Hour)
	stop := func(t *time.Timer) {
		if !t.Stop() {
			timex.DrainTimer(t)
		}
	}
	stop(t0)
	stop(t1)
	defer stop(t0)
	defer stop(t1)

	var led0, led1 bool
	var per0, per1 time.Duration

	setLED := func(idx int, on bool) {
		if idx == 0 {
			led0 = on
		} else {
			led1 = on
		}
		e.sink.SetLED(idx, on)
	}

	apply := func(p Pattern) {
		stop(t0)
		stop(t1)
		per0, per1 = 0, 0

		switch p {
		case Pattern1:
			setLED(0, true)
			setLED(1, true)
		case Pattern2:
			setLED(0, false)
			setLED(1, false)
			per0, per1 = ledFast, ledSlow
			timex.ResetTimer(t0, per0)
			timex.ResetTimer(t1, per1)
		case Pattern3:
			setLED(0, false)
			setLED(1, false)
			per0, per1 = ledFast, ledFast
			timex.ResetTimer(t0, per0)
			timex.ResetTimer(t1, per1)
		default:
			setLED(0, false)
			setLED(1, false)
		}
	}
	apply(None)

	for {
		select {
		case p := <-e.cmd:
			apply(p)
		case <-t0.C:
			setLED(0, !led0)
			t0.Reset(per0)
		case <-t1.C:
			setLED(1, !led1)
			t1.Reset(per1)
		case <-ctx.Done():
			apply(None)
			return
		}
	}
}

// Actions adapts the engine to the command dispatcher: a token selects a
// pattern and the acknowledgement carries its name.
type Actions struct {
	set func(Pattern)
}

func NewActions(set func(Pattern)) *Actions {
	return &Actions{set: set}
}

func (a *Actions) Invoke(token string) (string, error) {
	p, err := Parse(token)
	if err != nil {
		return "", err
	}
	if a.set != nil {
		a.set(p)
	}
	return p.Name(), nil
}
