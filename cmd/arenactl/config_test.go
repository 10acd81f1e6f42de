package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServerURL != "ws://localhost:8000/ws/session" {
		t.Errorf("server url = %q", cfg.ServerURL)
	}
	if cfg.CatalogURL != "http://localhost:8000/api/v1" {
		t.Errorf("catalog url = %q", cfg.CatalogURL)
	}
	if cfg.Archive.Driver != "sqlite" || cfg.Archive.Path != "arenactl.db" {
		t.Errorf("archive = %+v", cfg.Archive)
	}
	if len(cfg.Detector.BalanceFields) == 0 {
		t.Error("detector has no balance fields")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
server_url = "ws://arena.internal:9000/ws/session"
log_level = "DEBUG"

[detector]
balance_fields = ["gold"]

[archive]
driver = "redis"
redis_addr = "localhost:6379"
redis_ttl = "48h"
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServerURL != "ws://arena.internal:9000/ws/session" {
		t.Errorf("server url = %q", cfg.ServerURL)
	}
	// Untouched keys keep their defaults.
	if cfg.CatalogURL != "http://localhost:8000/api/v1" {
		t.Errorf("catalog url = %q", cfg.CatalogURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if len(cfg.Detector.BalanceFields) != 1 || cfg.Detector.BalanceFields[0] != "gold" {
		t.Errorf("balance fields = %v", cfg.Detector.BalanceFields)
	}
	if len(cfg.Detector.InventoryFields) == 0 {
		t.Error("inventory fields lost their default")
	}
	if cfg.Archive.Driver != "redis" || cfg.Archive.RedisAddr != "localhost:6379" {
		t.Errorf("archive = %+v", cfg.Archive)
	}
	if cfg.Archive.RedisTTL != 48*time.Hour {
		t.Errorf("redis ttl = %v", cfg.Archive.RedisTTL)
	}
	// The sqlite path default survives a driver switch.
	if cfg.Archive.Path != "arenactl.db" {
		t.Errorf("archive path = %q", cfg.Archive.Path)
	}
}

func TestLoadConfigBadTTL(t *testing.T) {
	path := writeConfig(t, `
[archive]
redis_ttl = "abc"
`)
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"debug": "DEBUG",
		"info":  "INFO",
		"warn":  "WARN",
		"error": "ERROR",
		"":      "INFO",
		"bogus": "INFO",
	}
	for in, want := range cases {
		if got := parseLogLevel(in).String(); got != want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
