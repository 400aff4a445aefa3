package config

import (
	"path/filepath"
	"testing"
)

func TestLoadConfigWritesDefaultWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Modules) != 5 {
		t.Fatalf("expected 5 default module priorities, got %d", len(cfg.Modules))
	}
	matches, err := filepath.Glob(filepath.Join(dir, "walletd.yaml"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected walletd.yaml to be written, found %v", matches)
	}
}

func TestLoadConfigRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.RPC.ListenAddr = "0.0.0.0:9999"
	path := filepath.Join(dir, "walletd.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.RPC.ListenAddr != "0.0.0.0:9999" {
		t.Fatalf("expected custom listen addr to round-trip, got %q", loaded.RPC.ListenAddr)
	}
}

func TestSecretsDBPathResolvesAgainstDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/walletd"
	cfg.Storage.SecretsDB = "secrets.db"
	want := filepath.Join("/var/lib/walletd", "secrets.db")
	if got := cfg.SecretsDBPath(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSecretsDBPathHonorsAbsoluteOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/walletd"
	cfg.Storage.SecretsDB = "/elsewhere/secrets.db"
	if got := cfg.SecretsDBPath(); got != "/elsewhere/secrets.db" {
		t.Fatalf("expected absolute override to be returned unchanged, got %q", got)
	}
}
