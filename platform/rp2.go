//go:build rp2040

package platform

import (
	"context"
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"linkcore-go/errcode"
	"linkcore-go/services/link"
	"linkcore-go/x/bytering"
)

// UART adapts a uartx port to the link transport: interrupt-buffered
// receive pumped into a ring, context-bounded transmit.
type UART struct {
	u    *uartx.UART
	ring *bytering.Ring
}

var _ link.Port = (*UART)(nil)

type UARTConfig struct {
	Baud     uint32
	TX, RX   machine.Pin
	RingSize int // receive ring capacity, default 128
}

// NewUART configures the hardware and allocates the receive ring. Pass
// uartx.UART0 or uartx.UART1.
func NewUART(hw *uartx.UART, cfg UARTConfig) (*UART, error) {
	if cfg.RingSize <= 0 {
		cfg.RingSize = 128
	}
	if err := hw.Configure(uartx.UARTConfig{
		BaudRate: cfg.Baud,
		TX:       cfg.TX,
		RX:       cfg.RX,
	}); err != nil {
		return nil, &errcode.E{C: errcode.Error, Op: "platform.uart.configure", Err: err}
	}
	return &UART{u: hw, ring: bytering.New(cfg.RingSize)}, nil
}

// Ring is the inbound byte channel for the link loop.
func (p *UART) Ring() *bytering.Ring { return p.ring }

// SendContext queues the whole frame, waiting event-driven on TX space.
func (p *UART) SendContext(ctx context.Context, b []byte) error {
	for len(b) > 0 {
		n, err := p.u.SendSomeContext(ctx, b)
		if err != nil {
			return &errcode.E{C: errcode.SendFailed, Op: "platform.uart.send", Err: err}
		}
		b = b[n:]
	}
	return nil
}

// Pump moves received bytes into the ring until ctx is done. Run it on
// its own goroutine. When the ring is full the byte is dropped and the
// ring's drop counter advances.
func (p *UART) Pump(ctx context.Context) {
	buf := make([]byte, 32)
	for {
		n, err := p.u.RecvSomeContext(ctx, buf)
		if err != nil {
			return
		}
		for _, b := range buf[:n] {
			p.ring.TryWriteByte(b)
		}
	}
}

// PinSink drives pattern LEDs on GPIO pins.
type PinSink struct {
	pins []machine.Pin
}

// NewPinSink configures each pin as an output, initially low.
func NewPinSink(pins ...machine.Pin) *PinSink {
	for _, p := range pins {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.Low()
	}
	return &PinSink{pins: pins}
}

func (s *PinSink) SetLED(idx int, on bool) {
	if idx < 0 || idx >= len(s.pins) {
		return
	}
	s.pins[idx].Set(on)
}
