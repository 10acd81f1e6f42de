package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/arenalab/arenactl/pkg/archive"
	"github.com/arenalab/arenactl/pkg/protocol"
)

// config is the resolved console configuration.
type config struct {
	ServerURL  string
	CatalogURL string
	LogFile    string
	LogLevel   string
	Detector   protocol.StatusDetector
	Archive    archive.Config
}

func defaultConfig() config {
	return config{
		ServerURL:  "ws://localhost:8000/ws/session",
		CatalogURL: "http://localhost:8000/api/v1",
		LogFile:    "arenactl.log",
		LogLevel:   "info",
		Detector:   protocol.DefaultDetector(),
		Archive: archive.Config{
			Driver: "sqlite",
			Path:   "arenactl.db",
		},
	}
}

type fileConfig struct {
	ServerURL  string `toml:"server_url"`
	CatalogURL string `toml:"catalog_url"`
	LogFile    string `toml:"log_file"`
	LogLevel   string `toml:"log_level"`
	Detector   struct {
		BalanceFields   []string `toml:"balance_fields"`
		InventoryFields []string `toml:"inventory_fields"`
	} `toml:"detector"`
	Archive struct {
		Driver        string `toml:"driver"`
		Path          string `toml:"path"`
		RedisAddr     string `toml:"redis_addr"`
		RedisPassword string `toml:"redis_password"`
		RedisDB       int    `toml:"redis_db"`
		RedisTTL      string `toml:"redis_ttl"`
	} `toml:"archive"`
}

// loadConfig reads the TOML file at path onto the defaults. Only keys
// present in the file override; an empty path returns the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("server_url") {
		if v := strings.TrimSpace(raw.ServerURL); v != "" {
			cfg.ServerURL = v
		}
	}
	if meta.IsDefined("catalog_url") {
		if v := strings.TrimSpace(raw.CatalogURL); v != "" {
			cfg.CatalogURL = v
		}
	}
	if meta.IsDefined("log_file") {
		if v := strings.TrimSpace(raw.LogFile); v != "" {
			cfg.LogFile = v
		}
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}

	if meta.IsDefined("detector", "balance_fields") {
		cfg.Detector.BalanceFields = raw.Detector.BalanceFields
	}
	if meta.IsDefined("detector", "inventory_fields") {
		cfg.Detector.InventoryFields = raw.Detector.InventoryFields
	}

	if meta.IsDefined("archive", "driver") {
		cfg.Archive.Driver = strings.TrimSpace(raw.Archive.Driver)
	}
	if meta.IsDefined("archive", "path") {
		cfg.Archive.Path = strings.TrimSpace(raw.Archive.Path)
	}
	if meta.IsDefined("archive", "redis_addr") {
		cfg.Archive.RedisAddr = strings.TrimSpace(raw.Archive.RedisAddr)
	}
	if meta.IsDefined("archive", "redis_password") {
		cfg.Archive.RedisPassword = raw.Archive.RedisPassword
	}
	if meta.IsDefined("archive", "redis_db") {
		cfg.Archive.RedisDB = raw.Archive.RedisDB
	}
	if meta.IsDefined("archive", "redis_ttl") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Archive.RedisTTL))
		if err != nil {
			return config{}, fmt.Errorf("parse archive.redis_ttl: %w", err)
		}
		cfg.Archive.RedisTTL = d
	}

	return cfg, nil
}
