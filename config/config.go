package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"taskgate/log"
)

const ConfigFileName = "config.json"

// GetConfigDir returns the path to the application's configuration directory
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config home directory: %w", err)
	}
	return filepath.Join(homeDir, ".taskgate"), nil
}

// Config represents the application configuration
type Config struct {
	// DefaultCapacity is the admission capacity used when the caller does
	// not specify one.
	DefaultCapacity int `json:"default_capacity"`
	// RetryIntervalMs is how long (ms) a host waits before retrying a
	// rejected admission. The controller itself never queues waiters.
	RetryIntervalMs int `json:"retry_interval_ms"`
	// HeartbeatTimeoutMs is the liveness deadline (ms) for heartbeat-based
	// workers.
	HeartbeatTimeoutMs int `json:"heartbeat_timeout_ms"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultCapacity:    4,
		RetryIntervalMs:    100,
		HeartbeatTimeoutMs: 30000,
	}
}

// RetryInterval returns RetryIntervalMs as a duration.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMs) * time.Millisecond
}

// HeartbeatTimeout returns HeartbeatTimeoutMs as a duration.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutMs) * time.Millisecond
}

// LoadConfig loads the configuration from disk, falling back to the
// defaults when the file is missing or unreadable.
func LoadConfig() *Config {
	configDir, err := GetConfigDir()
	if err != nil {
		log.ErrorLog.Printf("failed to get config directory: %v", err)
		return DefaultConfig()
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create and save default config if file doesn't exist
			defaultCfg := DefaultConfig()
			if saveErr := SaveConfig(defaultCfg); saveErr != nil {
				log.WarningLog.Printf("failed to save default config: %v", saveErr)
			}
			return defaultCfg
		}

		log.WarningLog.Printf("failed to get config file: %v", err)
		return DefaultConfig()
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		log.ErrorLog.Printf("failed to parse config file: %v", err)
		return DefaultConfig()
	}

	return &config
}

// SaveConfig saves the configuration to disk
func SaveConfig(config *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}
