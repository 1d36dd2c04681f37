package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all agent-core server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr        string `json:"listen_addr"`
	DBPath            string `json:"db_path"`
	LogLevel          string `json:"log_level"`
	WorkerIntervalMs  int    `json:"worker_interval_ms"`
	RetentionSchedule string `json:"retention_schedule"`
	RetentionDays     int    `json:"retention_days"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:        ":4400",
		DBPath:            filepath.Join(agentcoreDir(), "agentcore.db"),
		LogLevel:          "info",
		WorkerIntervalMs:  5000,
		RetentionSchedule: "0 3 * * *",
		RetentionDays:     30,
	}
}

func agentcoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentcore"
	}
	return filepath.Join(home, ".agentcore")
}

func settingsPath() string {
	return filepath.Join(agentcoreDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("AGENTCORE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("AGENTCORE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AGENTCORE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AGENTCORE_WORKER_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerIntervalMs = n
		}
	}
	if v := os.Getenv("AGENTCORE_RETENTION_SCHEDULE"); v != "" {
		cfg.RetentionSchedule = v
	}
	if v := os.Getenv("AGENTCORE_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetentionDays = n
		}
	}

	return cfg
}

func (c Config) workerInterval() time.Duration {
	return time.Duration(c.WorkerIntervalMs) * time.Millisecond
}

func (c Config) retentionWindow() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
