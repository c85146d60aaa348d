package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for functrace
type Config struct {
	// SnapshotPath is the default program snapshot loaded when a command
	// is not given one explicitly
	SnapshotPath string `yaml:"snapshot_path" env:"FT_SNAPSHOT_PATH"`

	// Bits overrides the architecture word size from the snapshot (16, 32 or 64).
	// 0 means trust the snapshot.
	Bits int `yaml:"bits" env:"FT_BITS"`

	// ByteOrder overrides the snapshot byte order ("little" or "big").
	// Empty means trust the snapshot.
	ByteOrder string `yaml:"byte_order" env:"FT_BYTE_ORDER"`

	// MaxPaths limits how many execution paths a trace examines per address.
	// -1 means unlimited.
	MaxPaths int `yaml:"max_paths" env:"FT_MAX_PATHS"`

	// FlowchartCacheSize is the number of function flowcharts kept in memory
	FlowchartCacheSize int `yaml:"flowchart_cache_size" env:"FT_FLOWCHART_CACHE_SIZE"`

	// CachePath persists decoded values between runs. Empty disables persistence.
	CachePath string `yaml:"cache_path" env:"FT_CACHE_PATH"`

	// Logging
	Verbose  bool `yaml:"verbose" env:"FT_VERBOSE"`
	JSONLogs bool `yaml:"json_logs" env:"FT_JSON_LOGS"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SnapshotPath:       "",
		Bits:               0,
		ByteOrder:          "",
		MaxPaths:           10,
		FlowchartCacheSize: 64,
		CachePath:          "",
		Verbose:            false,
		JSONLogs:           false,
	}
}

// globalConfigFilePath returns the global config file path (~/.functrace/config.yaml)
func globalConfigFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".functrace/config.yaml"
	}
	return filepath.Join(home, ".functrace", "config.yaml")
}

// projectConfigFilePath returns the project-level config file path (./.functrace/config.yaml)
func projectConfigFilePath() string {
	return ".functrace/config.yaml"
}

// Load reads configuration with the following priority (highest to lowest):
// 1. Environment variables
// 2. Project-level config (./.functrace/config.yaml)
// 3. Global config (~/.functrace/config.yaml)
// 4. Defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	globalConfigPath := globalConfigFilePath()
	if data, err := os.ReadFile(globalConfigPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", globalConfigPath, err)
		}
	}

	projectConfigPath := projectConfigFilePath()
	if data, err := os.ReadFile(projectConfigPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", projectConfigPath, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific YAML file path
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if data, err := os.ReadFile(path); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the specified YAML file path.
// It creates parent directories if they don't exist.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FT_SNAPSHOT_PATH"); v != "" {
		cfg.SnapshotPath = v
	}
	if v := os.Getenv("FT_BITS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Bits = i
		}
	}
	if v := os.Getenv("FT_BYTE_ORDER"); v != "" {
		cfg.ByteOrder = v
	}
	if v := os.Getenv("FT_MAX_PATHS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.MaxPaths = i
		}
	}
	if v := os.Getenv("FT_FLOWCHART_CACHE_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			cfg.FlowchartCacheSize = i
		}
	}
	if v := os.Getenv("FT_CACHE_PATH"); v != "" {
		cfg.CachePath = v
	}
	if v := os.Getenv("FT_VERBOSE"); v != "" {
		cfg.Verbose = v == "true" || v == "1" || v == "yes"
	}
	if v := os.Getenv("FT_JSON_LOGS"); v != "" {
		cfg.JSONLogs = v == "true" || v == "1" || v == "yes"
	}
}

// Validate checks that the configuration has valid required fields
func (c *Config) Validate() error {
	switch c.Bits {
	case 0, 16, 32, 64:
	default:
		return fmt.Errorf("bits must be 0, 16, 32 or 64, got %d", c.Bits)
	}

	switch c.ByteOrder {
	case "", "little", "big":
	default:
		return fmt.Errorf("byte_order must be \"little\" or \"big\", got %q", c.ByteOrder)
	}

	if c.MaxPaths < -1 {
		return fmt.Errorf("max_paths must be -1, 0 or positive, got %d", c.MaxPaths)
	}
	if c.FlowchartCacheSize <= 0 {
		return fmt.Errorf("flowchart_cache_size must be positive, got %d", c.FlowchartCacheSize)
	}

	return nil
}
