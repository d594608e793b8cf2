package main

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Monitor MonitorConfig `yaml:"monitor"`
}

type MonitorConfig struct {
	Port       string `yaml:"port"`        // e.g. /dev/ttyACM0
	Baud       int    `yaml:"baud"`        // default 115200
	Node       string `yaml:"node"`        // device node tag; probes arrive as <node>_PING
	CmdPrefix  string `yaml:"cmd_prefix"`  // default LED_CMD:
	AutoAnswer bool   `yaml:"auto_answer"` // answer device probes automatically
}

func loadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks required fields and fills defaults. It may mutate cfg.
func validate(cfg *Config) error {
	m := &cfg.Monitor
	if m.Port == "" {
		return errors.New("monitor.port is required")
	}
	if m.Baud == 0 {
		m.Baud = 115200
	}
	if m.Baud < 0 {
		return errors.New("monitor.baud must be positive")
	}
	if m.Node == "" {
		m.Node = "PICO"
	}
	if m.CmdPrefix == "" {
		m.CmdPrefix = "LED_CMD:"
	}
	return nil
}
