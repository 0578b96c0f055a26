package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from ~/.config/apiflow/config.yaml. A missing or
// unreadable file yields the defaults.
func Load() Config {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg
	}
	dir := filepath.Join(home, ".config", "apiflow")
	cfg.StatePath = filepath.Join(dir, "state.db")
	cfg.HistoryPath = filepath.Join(dir, "history.db")

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		return cfg
	}
	_ = yaml.Unmarshal(data, &cfg)
	if cfg.StatePath == "" {
		cfg.StatePath = filepath.Join(dir, "state.db")
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = filepath.Join(dir, "history.db")
	}
	return cfg
}
