package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all skillrun configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string `json:"db_path"`
	SkillsDir      string `json:"skills_dir"`
	LogLevel       string `json:"log_level"`
	PoolSize       int    `json:"pool_size"`
	RetainPerSkill int    `json:"retain_per_skill"`
}

func defaultConfig() Config {
	return Config{
		DBPath:         filepath.Join(skillrunDir(), "skillrun.db"),
		SkillsDir:      filepath.Join(skillrunDir(), "skills"),
		LogLevel:       "info",
		PoolSize:       8,
		RetainPerSkill: 100,
	}
}

func skillrunDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".skillrun"
	}
	return filepath.Join(home, ".skillrun")
}

func settingsPath() string {
	return filepath.Join(skillrunDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("SKILLRUN_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SKILLRUN_SKILLS_DIR"); v != "" {
		cfg.SkillsDir = v
	}
	if v := os.Getenv("SKILLRUN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SKILLRUN_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("SKILLRUN_RETAIN_PER_SKILL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetainPerSkill = n
		}
	}

	return cfg
}
