package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kvmonitor/kvmonitor/internal/store"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("address = %s", cfg.Server.Address)
	}
	if cfg.Engine.PollInterval != time.Second {
		t.Errorf("pollInterval = %v", cfg.Engine.PollInterval)
	}
	if cfg.Store.MaxEvents != 50_000 || cfg.Store.MaxGroups != 5_000 {
		t.Errorf("retention = %d/%d", cfg.Store.MaxEvents, cfg.Store.MaxGroups)
	}
}

// The store config is populated field-for-field from the file config in
// main; the retention fields must share the store's types.
func TestStoreConfigFieldsFeedStore(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	sc := store.Config{
		Addr:      cfg.Store.Addr,
		KeyPrefix: cfg.Store.KeyPrefix,
		MaxEvents: cfg.Store.MaxEvents,
		MaxGroups: cfg.Store.MaxGroups,
	}
	if sc.MaxEvents != cfg.Store.MaxEvents {
		t.Errorf("maxEvents = %d", sc.MaxEvents)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvmonitor.yaml")
	data := []byte(`
server:
  address: ":9090"
store:
  enabled: true
  maxEvents: 100
engine:
  pollInterval: 2s
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("KVMONITOR_VALKEY_ADDR", "valkey.internal:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("address = %s", cfg.Server.Address)
	}
	if !cfg.Store.Enabled || cfg.Store.MaxEvents != 100 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Engine.PollInterval != 2*time.Second {
		t.Errorf("pollInterval = %v", cfg.Engine.PollInterval)
	}
	if cfg.Valkey.Addr != "valkey.internal:6379" {
		t.Errorf("env override lost: %s", cfg.Valkey.Addr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
