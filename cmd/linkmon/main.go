// linkmon is a bench console for a device running the link firmware: it
// prints every inbound line, answers the device's probes so the link
// stays healthy, and turns console commands into wire frames.
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/google/shlex"
	"go.bug.st/serial"
)

type monitor struct {
	port    serial.Port
	cfg     MonitorConfig
	writeCh chan string
}

func (m *monitor) readLoop() {
	r := bufio.NewReader(m.port)
	probe := m.cfg.Node + "_PING"

	for {
		raw, err := r.ReadBytes('\n')
		if err != nil {
			slog.Error("serial read", "error", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		// Discard CRs and non-printables.
		line := string(bytes.Map(func(r rune) rune {
			if r == '\r' || !unicode.IsPrint(r) {
				return -1
			}
			return r
		}, raw))
		if line == "" {
			continue
		}

		slog.Info("recv", "line", line)
		if m.cfg.AutoAnswer && line == probe {
			m.send(m.cfg.Node + "_PONG")
		}
	}
}

func (m *monitor) writeLoop() {
	for line := range m.writeCh {
		if _, err := m.port.Write([]byte(line + "\r\n")); err != nil {
			slog.Error("serial write", "error", err)
			continue
		}
		slog.Info("sent", "line", line)
	}
}

func (m *monitor) send(line string) {
	m.writeCh <- line
}

func main() {
	cfgPath := flag.String("config", "linkmon.yaml", "path to the monitor config")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if err := validate(cfg); err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}

	mode := &serial.Mode{BaudRate: cfg.Monitor.Baud}
	port, err := serial.Open(cfg.Monitor.Port, mode)
	if err != nil {
		slog.Error("serial open failed", "port", cfg.Monitor.Port, "error", err)
		os.Exit(1)
	}
	defer port.Close()
	slog.Info("opened serial port", "port", cfg.Monitor.Port, "baud", cfg.Monitor.Baud)

	m := &monitor{port: port, cfg: cfg.Monitor, writeCh: make(chan string, 8)}
	go m.readLoop()
	go m.writeLoop()

	console(m)
}

// console reads stdin commands until quit or EOF.
func console(m *monitor) {
	fmt.Println("commands: send <text...> | ping | led <n> | quit")

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		argv, err := shlex.Split(in.Text())
		if err != nil {
			slog.Error("bad input", "error", err)
			continue
		}
		if len(argv) == 0 {
			continue
		}

		switch argv[0] {
		case "send":
			if len(argv) < 2 {
				fmt.Println("usage: send <text...>")
				continue
			}
			m.send(strings.Join(argv[1:], " "))
		case "ping":
			m.send("PING")
		case "led":
			if len(argv) != 2 {
				fmt.Println("usage: led <n>")
				continue
			}
			m.send(m.cfg.CmdPrefix + argv[1])
		case "quit", "exit":
			return
		default:
			fmt.Println("unknown command:", argv[0])
		}
	}
}
