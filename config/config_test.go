package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Username != "" {
		t.Fatalf("Username = %q, want empty", cfg.Username)
	}
	if cfg.APIAddr != DefaultAPIAddr {
		t.Fatalf("APIAddr = %q, want %q", cfg.APIAddr, DefaultAPIAddr)
	}
	if cfg.RecordLifetime != DefaultRecordLifetime {
		t.Fatalf("RecordLifetime = %s, want %s", cfg.RecordLifetime, DefaultRecordLifetime)
	}
}

func TestSetUsernameRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.SetUsername("alice"); err != nil {
		t.Fatalf("SetUsername: %v", err)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}
	if reloaded.Username != "alice" {
		t.Fatalf("Username = %q, want alice", reloaded.Username)
	}
}

func TestLoadRejectsInvalidAPIAddr(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"api_addr": "localhost:5001"}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("Load accepted a non-multiaddr api_addr")
	}
}

func TestLoadRejectsBadLifetime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"record_lifetime": "soon"}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("Load accepted an unparseable record_lifetime")
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", ".scipfs")
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.RecordLifetime = 48 * time.Hour
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}
	if reloaded.RecordLifetime != 48*time.Hour {
		t.Fatalf("RecordLifetime = %s, want 48h", reloaded.RecordLifetime)
	}
}
