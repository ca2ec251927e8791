// Package config loads the sync deployment settings from YAML.
// Load("") returns the defaults; Normalize clamps whatever a file
// supplied into workable ranges.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerHz        float64 `yaml:"server_hz"`
	ClientHz        float64 `yaml:"client_hz"`
	HistoryWindowMs int64   `yaml:"history_window_ms"`

	// LagMs is the simulated one-way delay of the in-memory network.
	LagMs int64 `yaml:"lag_ms"`

	ListenAddr string `yaml:"listen_addr"`

	// CompressThreshold enables zstd on state batches at or above this
	// many encoded bytes; zero disables compression.
	CompressThreshold int `yaml:"compress_threshold"`

	// UnreliableStates sends state batches over the transport's
	// unreliable channel when it has one.
	UnreliableStates bool `yaml:"unreliable_states"`

	// InboundRate / InboundBurst bound per-client inbound messages on
	// the websocket transport. Zero rate disables limiting.
	InboundRate  float64 `yaml:"inbound_rate"`
	InboundBurst int     `yaml:"inbound_burst"`
}

func defaults() Config {
	return Config{
		ServerHz:        10,
		ClientHz:        60,
		HistoryWindowMs: 1000,
		ListenAddr:      "localhost:7430",
		InboundBurst:    8,
	}
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

func (c *Config) Normalize() {
	if c.ServerHz <= 0 {
		c.ServerHz = 10
	}
	if c.ClientHz <= 0 {
		c.ClientHz = 60
	}
	if c.HistoryWindowMs <= 0 {
		c.HistoryWindowMs = 1000
	}
	// The history window must reach at least one server frame back or
	// every compensation request is already out of range.
	if frame := int64(1000 / c.ServerHz); c.HistoryWindowMs < frame {
		c.HistoryWindowMs = frame
	}
	if c.LagMs < 0 {
		c.LagMs = 0
	}
	if c.CompressThreshold < 0 {
		c.CompressThreshold = 0
	}
	if c.InboundRate < 0 {
		c.InboundRate = 0
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = 8
	}
}
