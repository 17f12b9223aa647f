package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "negochain.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("address = %q, want :8080", cfg.Server.Address)
	}
	if cfg.Storage.SessionStore.Driver != "memory" || cfg.Queue.Driver != "memory" {
		t.Fatalf("unexpected drivers: %+v", cfg)
	}
	if cfg.Queue.Worker != 4 {
		t.Fatalf("worker = %d, want 4", cfg.Queue.Worker)
	}
	if cfg.Market.Provider != "none" || cfg.Market.APIKeyEnv != "ALPHA_VANTAGE_API_KEY" {
		t.Fatalf("unexpected market defaults: %+v", cfg.Market)
	}
	if cfg.Ledger.Chain != "local" {
		t.Fatalf("chain = %q, want local", cfg.Ledger.Chain)
	}
	if cfg.Ledger.ChainsFile != filepath.Join(filepath.Dir(path), "chains.yaml") {
		t.Fatalf("chains file should resolve relative to the config dir, got %q", cfg.Ledger.ChainsFile)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"address": ":9090"},
		"storage": {"session_store": {"driver": "mysql", "dsn": "user:pass@tcp(127.0.0.1:3306)/negochain"}},
		"queue": {"driver": "redis", "worker": 8, "redis": {"address": "127.0.0.1:6379", "queue": "sess"}},
		"market": {"provider": "alphavantage", "api_key": "demo", "timeout_seconds": 5, "cache_ttl_seconds": 30},
		"ledger": {"enabled": true, "chain": "sepolia", "chains_file": "chains.yaml"},
		"logging": {"level": "debug", "format": "text"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
	if cfg.Storage.SessionStore.Driver != "mysql" || cfg.Queue.Driver != "redis" || cfg.Queue.Worker != 8 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Market.Timeout() != 5*time.Second || cfg.Market.CacheTTL() != 30*time.Second {
		t.Fatalf("duration helpers wrong: %v / %v", cfg.Market.Timeout(), cfg.Market.CacheTTL())
	}
	if !cfg.Ledger.Enabled || cfg.Ledger.Chain != "sepolia" {
		t.Fatalf("unexpected ledger config: %+v", cfg.Ledger)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("empty path should fail")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("missing file should fail")
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{"server": `)
	if _, err := Load(path); err == nil {
		t.Fatal("truncated JSON should fail")
	}
}
