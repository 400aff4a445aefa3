// Package config provides centralized configuration for the wallet bus
// framework. ALL process-level parameters (module start priorities, data
// directory, listen addresses, log level) MUST be defined here. No
// hardcoded values should exist elsewhere in the codebase.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ModulePriority pins one collaborator module to a priority bucket in the
// bus's start list (lower runs first, per spec §4.3/§4.4).
type ModulePriority struct {
	Module   string `yaml:"module"`
	Priority int32  `yaml:"priority"`
}

// RPCConfig configures the JSON-RPC-over-WebSocket adapter.
type RPCConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// StorageConfig points the sqlite-backed collaborators at their database
// files, relative to DataDir unless absolute.
type StorageConfig struct {
	SecretsDB string `yaml:"secrets_db"`
	UsersDB   string `yaml:"users_db"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config is the root configuration for cmd/walletd.
type Config struct {
	DataDir  string           `yaml:"data_dir"`
	Modules  []ModulePriority `yaml:"modules"`
	RPC      RPCConfig        `yaml:"rpc"`
	Storage  StorageConfig    `yaml:"storage"`
	Logging  LoggingConfig    `yaml:"logging"`
}

// Default module priorities. Lower values start earlier; these mirror the
// worked example S1 ordering (collaborator stores before the coin-selection
// seam, transaction/tx_conn last; tx_conn's mod_initial pages through the
// secret store).
const (
	PrioritySecret      int32 = 0
	PriorityUser        int32 = 1
	PriorityCurrencies  int32 = 2
	PriorityTransaction int32 = 3
	PriorityTxConn      int32 = 4
)

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "~/.walletd",
		Modules: []ModulePriority{
			{Module: "secret", Priority: PrioritySecret},
			{Module: "user", Priority: PriorityUser},
			{Module: "currencies", Priority: PriorityCurrencies},
			{Module: "transaction", Priority: PriorityTransaction},
			{Module: "tx_conn", Priority: PriorityTxConn},
		},
		RPC: RPCConfig{
			ListenAddr: "127.0.0.1:8766",
		},
		Storage: StorageConfig{
			SecretsDB: "secrets.db",
			UsersDB:   "users.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads dataDir/walletd.yaml, writing out the default
// configuration first if the file doesn't exist yet.
func LoadConfig(dataDir string) (*Config, error) {
	dataDir, err := expandPath(dataDir)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dataDir, "walletd.yaml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.DataDir = dataDir
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// SecretsDBPath resolves the secrets database path against DataDir.
func (c *Config) SecretsDBPath() string {
	return resolveDBPath(c.DataDir, c.Storage.SecretsDB)
}

// UsersDBPath resolves the users database path against DataDir.
func (c *Config) UsersDBPath() string {
	return resolveDBPath(c.DataDir, c.Storage.UsersDB)
}

func resolveDBPath(dataDir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dataDir, name)
}

func expandPath(path string) (string, error) {
	if path == "~" || len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
