package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.MaxAttempts != 5 {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.BackoffFloor != time.Second || cfg.BackoffCeiling != 30*time.Second {
		t.Fatalf("backoff defaults: %+v", cfg)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "streamUrl: ws://file.example/stream\nlistenAddr: \":9999\"\nmaxAttempts: 7\nvehicles: [7, 12]\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LISTEN_ADDR", ":7070") // env wins over file
	t.Setenv("BACKOFF_FLOOR", "250ms")
	t.Setenv("WATCH_ROUTES", "3, 5,bad,9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StreamURL != "ws://file.example/stream" {
		t.Fatalf("file value lost: %q", cfg.StreamURL)
	}
	if cfg.ListenAddr != ":7070" {
		t.Fatalf("env must override file: %q", cfg.ListenAddr)
	}
	if cfg.MaxAttempts != 7 {
		t.Fatalf("maxAttempts: %d", cfg.MaxAttempts)
	}
	if cfg.BackoffFloor != 250*time.Millisecond {
		t.Fatalf("backoffFloor: %v", cfg.BackoffFloor)
	}
	if len(cfg.Vehicles) != 2 || cfg.Vehicles[0] != 7 || cfg.Vehicles[1] != 12 {
		t.Fatalf("vehicles: %v", cfg.Vehicles)
	}
	// malformed entries in the id list are skipped, not fatal
	if len(cfg.Routes) != 3 || cfg.Routes[0] != 3 || cfg.Routes[1] != 5 || cfg.Routes[2] != 9 {
		t.Fatalf("routes: %v", cfg.Routes)
	}
}
