package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", "/data")
	t.Chdir(t.TempDir())

	cfg, used, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if used != "" {
		t.Errorf("expected no config file, got %s", used)
	}
	if cfg.Ledger.Algorithm != "sha256" {
		t.Errorf("algorithm: got %q", cfg.Ledger.Algorithm)
	}
	if cfg.Storage.Driver != "file" {
		t.Errorf("driver: got %q", cfg.Storage.Driver)
	}
	if want := filepath.Join("/data", "chronochain", "chain.ccl"); cfg.Storage.Path != want {
		t.Errorf("path: got %q, want %q", cfg.Storage.Path, want)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
}

func TestLoad_file(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chronochain.yaml")
	content := `
ledger:
  algorithm: blake2b-256
  max_blocks: 100
storage:
  driver: leveldb
  path: /var/lib/chronochain
server:
  cors_origins: ["*"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, used, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if used != path {
		t.Errorf("used: got %q, want %q", used, path)
	}
	if cfg.Ledger.Algorithm != "blake2b-256" || cfg.Ledger.MaxBlocks != 100 {
		t.Errorf("ledger: got %+v", cfg.Ledger)
	}
	if cfg.Storage.Driver != "leveldb" || cfg.Storage.Path != "/var/lib/chronochain" {
		t.Errorf("storage: got %+v", cfg.Storage)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "*" {
		t.Errorf("cors: got %v", cfg.Server.CORSOrigins)
	}
}

func TestLoad_env(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("CHRONOCHAIN_LEDGER_MAX_BLOCKS", "5")
	t.Setenv("CHRONOCHAIN_STORAGE_DRIVER", "postgres")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ledger.MaxBlocks != 5 {
		t.Errorf("max_blocks: got %d, want 5", cfg.Ledger.MaxBlocks)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("driver: got %q", cfg.Storage.Driver)
	}
}

func TestLoad_missingExplicitFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = "s3"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown driver")
	}

	cfg = Default()
	cfg.Storage.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty file path")
	}

	cfg = Default()
	cfg.Ledger.Algorithm = "md5"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown algorithm")
	}

	cfg = Default()
	cfg.Server.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for out-of-range port")
	}
}

func TestGetDataHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := GetDataHome(); got != "/custom/data" {
		t.Errorf("got %s, want /custom/data", got)
	}
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", "/home/test")
	if got := GetDataHome(); got != filepath.Join("/home/test", ".local", "share") {
		t.Errorf("fallback: got %s", got)
	}
}
