package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadDefaults tests that an empty path yields the defaults.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerHz != 10 || cfg.ClientHz != 60 {
		t.Errorf("Expected default rates 10/60, got %v/%v", cfg.ServerHz, cfg.ClientHz)
	}
	if cfg.HistoryWindowMs != 1000 {
		t.Errorf("Expected default window 1000, got %d", cfg.HistoryWindowMs)
	}
	if cfg.LagMs != 0 {
		t.Errorf("Expected no simulated lag by default, got %d", cfg.LagMs)
	}
}

// TestLoadFile tests parsing a YAML file over the defaults.
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.yaml")
	body := `server_hz: 20
client_hz: 120
history_window_ms: 2500
lag_ms: 80
compress_threshold: 512
unreliable_states: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerHz != 20 || cfg.ClientHz != 120 {
		t.Errorf("Expected rates 20/120, got %v/%v", cfg.ServerHz, cfg.ClientHz)
	}
	if cfg.HistoryWindowMs != 2500 || cfg.LagMs != 80 {
		t.Errorf("Expected window 2500 and lag 80, got %d and %d", cfg.HistoryWindowMs, cfg.LagMs)
	}
	if cfg.CompressThreshold != 512 || !cfg.UnreliableStates {
		t.Errorf("Transport settings mangled: %+v", cfg)
	}
	// The file kept the default listen address.
	if cfg.ListenAddr == "" {
		t.Error("Expected the default listen address to survive")
	}
}

// TestLoadMissingFile tests the error path.
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

// TestNormalizeClamps tests that nonsense values are clamped.
func TestNormalizeClamps(t *testing.T) {
	cfg := Config{ServerHz: -1, ClientHz: 0, HistoryWindowMs: -5, LagMs: -10}
	cfg.Normalize()

	if cfg.ServerHz <= 0 || cfg.ClientHz <= 0 {
		t.Errorf("Expected positive rates, got %v/%v", cfg.ServerHz, cfg.ClientHz)
	}
	if cfg.HistoryWindowMs < int64(1000/cfg.ServerHz) {
		t.Errorf("Expected window to cover a server frame, got %d", cfg.HistoryWindowMs)
	}
	if cfg.LagMs != 0 {
		t.Errorf("Expected lag clamped to 0, got %d", cfg.LagMs)
	}
}
