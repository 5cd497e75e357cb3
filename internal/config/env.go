package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnv overlays environment variables on top of the parsed file.
// The env names match the ones the deployment scripts export, so a config
// file is optional when everything arrives through the environment.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("API_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("CHAT_ID")); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHECK_RATE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Watch.CheckRateMinutes = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("WATCH_URL")); v != "" {
		cfg.Watch.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_DRIVER")); v != "" {
		cfg.Storage.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_PATH")); v != "" {
		cfg.Storage.Path = v
	}
}

// FromEnv builds a config purely from the environment, for running without
// a config file at all.
func FromEnv() *Config {
	cfg := &Config{}
	cfg.Logging.Console = true
	applyEnv(cfg)
	return cfg
}
