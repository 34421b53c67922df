// config.go - Configuration for the notechain daemon.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the daemon configuration.
type Config struct {
	// Scenario settings
	NumAccounts    int    `json:"num_accounts"`
	BaseFunding    uint64 `json:"base_funding"`
	TransferAmount uint64 `json:"transfer_amount"`

	// Fee parameters
	BaseFee    uint64 `json:"base_fee"`
	PerNoteFee uint64 `json:"per_note_fee"`

	// File paths
	LedgerPath string `json:"ledger_path"`
	KeyDir     string `json:"key_dir"`

	// Proving
	ProverListenAddr string   `json:"prover_listen_addr"`
	ProverWorkers    []string `json:"prover_workers"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Performance
	TimeoutSeconds int `json:"timeout_seconds"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		NumAccounts:      4,
		BaseFunding:      1000,
		TransferAmount:   20,
		BaseFee:          10,
		PerNoteFee:       5,
		LedgerPath:       "ledger.json",
		KeyDir:           "keys",
		ProverListenAddr: "127.0.0.1:9090",
		ProverWorkers:    nil,
		LogLevel:         "info",
		LogFile:          "notechain.log",
		TimeoutSeconds:   300,
	}
}

// LoadConfig loads the configuration from file, writing the default
// configuration first if the file does not exist.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		var config Config
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return &config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig writes the configuration to file.
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.NumAccounts <= 0 {
		return fmt.Errorf("num_accounts must be positive")
	}
	if c.NumAccounts > 8 {
		return fmt.Errorf("num_accounts must not exceed 8, one batch's worth")
	}
	if c.BaseFunding == 0 {
		return fmt.Errorf("base_funding must be positive")
	}
	if c.TransferAmount == 0 {
		return fmt.Errorf("transfer_amount must be positive")
	}
	if c.BaseFee+uint64(c.NumAccounts)*c.PerNoteFee > c.BaseFunding {
		return fmt.Errorf("base_funding too small to cover fees")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	return nil
}
