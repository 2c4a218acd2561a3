package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// deviceEntry is one remembered device with its negotiated key, so later
// invocations can skip the bind handshake.
type deviceEntry struct {
	IP      string `yaml:"ip"`
	Port    int    `yaml:"port"`
	Name    string `yaml:"name,omitempty"`
	Version string `yaml:"version,omitempty"`
	Key     string `yaml:"key,omitempty"`
	Modern  bool   `yaml:"modern,omitempty"`
}

// timeoutConfig holds optional timeout overrides as duration strings, for
// example "2s" or "500ms".
type timeoutConfig struct {
	Discovery string `yaml:"discovery,omitempty"`
	Bind      string `yaml:"bind,omitempty"`
	Request   string `yaml:"request,omitempty"`
}

type cliConfig struct {
	Broadcast []string               `yaml:"broadcast,omitempty"`
	Timeouts  timeoutConfig          `yaml:"timeouts,omitempty"`
	Devices   map[string]deviceEntry `yaml:"devices,omitempty"` // keyed by MAC
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".greectl.yaml"
	}
	return filepath.Join(home, ".greectl.yaml")
}

func loadConfig() *cliConfig {
	cfg := &cliConfig{Devices: make(map[string]deviceEntry)}

	data, err := os.ReadFile(configPath())
	if errors.Is(err, os.ErrNotExist) {
		return cfg
	}
	if err != nil {
		fmt.Printf("Error reading config %s: %v\n", configPath(), err)
		os.Exit(1)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		fmt.Printf("Error parsing config %s: %v\n", configPath(), err)
		os.Exit(1)
	}
	if cfg.Devices == nil {
		cfg.Devices = make(map[string]deviceEntry)
	}
	return cfg
}

func saveConfig(cfg *cliConfig) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Printf("Error encoding config: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(configPath(), data, 0o600); err != nil {
		fmt.Printf("Error writing config %s: %v\n", configPath(), err)
		os.Exit(1)
	}
}
