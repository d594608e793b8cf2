//go:build rp2040

package main

import (
	"context"
	"image/color"
	"machine"
	"runtime"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers/ws2812"

	"linkcore-go/bus"
	"linkcore-go/patterns"
	"linkcore-go/platform"
	"linkcore-go/services/config"
	"linkcore-go/services/link"
	"linkcore-go/services/logq"
	"linkcore-go/services/watchdog"
	"linkcore-go/types"
)

// Stock Pico wiring: the peer link on UART0 (GP0/GP1), the diagnostic
// console on UART1 (GP8/GP9), one WS2812 pixel for the pattern LEDs.
const (
	linkBaud = 115200
	diagBaud = 115200

	pixelPin = machine.GPIO16
)

// pixelSink maps the two logical LEDs onto one WS2812 pixel: LED 0
// drives the green channel, LED 1 the red channel.
type pixelSink struct {
	dev ws2812.Device
	px  [1]color.RGBA
}

func newPixelSink(pin machine.Pin) *pixelSink {
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &pixelSink{dev: ws2812.NewWS2812(pin)}
}

func (s *pixelSink) SetLED(idx int, on bool) {
	var v uint8
	if on {
		v = 0x40
	}
	switch idx {
	case 0:
		s.px[0].G = v
	case 1:
		s.px[0].R = v
	}
	s.dev.WriteColors(s.px[:])
}

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("Pico LED Controller Ready (Ring Buffer Mode)")

	ctx := context.Background()

	// LED pattern engine.
	eng := patterns.NewEngine(newPixelSink(pixelPin))
	go eng.Run(ctx)

	// Diagnostics drain over UART1 so the link UART stays clean.
	diag := uartx.UART1
	if err := diag.Configure(uartx.UARTConfig{
		BaudRate: diagBaud,
		TX:       machine.UART1_TX_PIN,
		RX:       machine.UART1_RX_PIN,
	}); err != nil {
		println("[main] uart1 configure:", err.Error())
		return
	}
	q := logq.New(logq.Config{})

	// Watchdog table; the check loop starts once everything below is up.
	wd := watchdog.NewService(watchdog.Config{}, q)
	linkSlot := wd.Monitor().Register("link", 5*time.Second)
	logSlot := wd.Monitor().Register("logger", 5*time.Second)

	go q.Run(ctx, diag, func() { wd.Monitor().Feed(logSlot) })

	println("[main] bootstrapping bus ...")
	b := bus.NewBus(4)

	// Shipped config sections go out retained before anyone subscribes,
	// so late services still pick them up.
	cfgCtx := context.WithValue(ctx, config.CtxDeviceKey, "pico")
	if err := config.NewService().Start(cfgCtx, b.NewConnection("config")); err != nil {
		println("[main] config:", err.Error())
		return
	}

	println("[main] opening link uart ...")
	port, err := platform.NewUART(uartx.UART0, platform.UARTConfig{
		Baud: linkBaud,
		TX:   machine.UART0_TX_PIN,
		RX:   machine.UART0_RX_PIN,
	})
	if err != nil {
		println("[main] uart0 configure:", err.Error())
		return
	}
	go port.Pump(ctx)

	svc := link.NewService(link.Config{}, link.Deps{
		Port:   port,
		Ring:   port.Ring(),
		Log:    q,
		Invoke: patterns.NewActions(eng.Set).Invoke,
		Feed:   func() { wd.Monitor().Feed(linkSlot) },
	})
	if err := svc.Start(ctx, b.NewConnection("link")); err != nil {
		println("[main] link:", err.Error())
		return
	}

	// Watchdog checks begin only now that both tasks are feeding.
	wd.Start(ctx, b.NewConnection("watchdog"))

	// Console mirror of link traffic for bench debugging.
	ui := b.NewConnection("ui")
	mon := ui.Subscribe(bus.T("link", "#"))
	go func() {
		for m := range mon.Channel() {
			printTopicWith("[monitor] <-", m.Topic)
		}
	}()

	// Onboard LED mirrors link health; the retained state lights it at
	// boot.
	health := platform.NewPinSink(machine.LED)
	states := ui.Subscribe(bus.T("link", "state"))
	go func() {
		for m := range states.Channel() {
			if st, ok := m.Payload.(types.LinkState); ok {
				health.SetLED(0, st.Link == types.LinkUp)
			}
		}
	}()

	tick := time.NewTicker(10 * time.Second)
	defer tick.Stop()
	for range tick.C {
		printMem(q.Dropped())
	}
}

func printTopicWith(prefix string, t bus.Topic) {
	print(prefix)
	print(" ")
	for i := 0; i < t.Len(); i++ {
		if i > 0 {
			print("/")
		}
		switch v := t.At(i).(type) {
		case string:
			print(v)
		case int:
			print(v)
		default:
			print("?")
		}
	}
	println()
}

// printMem prints a compact snapshot of TinyGo runtime memory stats.
// Uses builtin println to avoid fmt overhead/allocations.
func printMem(dropped uint32) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	println(
		"[mem]",
		"alloc:", uint32(ms.Alloc),
		"heapInuse:", uint32(ms.HeapInuse),
		"mallocs:", uint32(ms.Mallocs),
		"frees:", uint32(ms.Frees),
		"logDrops:", dropped,
	)
}
