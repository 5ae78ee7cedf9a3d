package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, ANTHROUTE_CONFIG env, ./config.yaml, /etc/anthroute/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. ANTHROUTE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/anthroute/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("ANTHROUTE_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/anthroute/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps ANTHROUTE_* environment variables to config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ANTHROUTE_BIND_ADDR"); v != "" {
		cfg.Server.BindAddr = v
	}
	if v := os.Getenv("ANTHROUTE_BASE_URL"); v != "" {
		cfg.Downstream.BaseURL = v
	}
	if v := os.Getenv("ANTHROUTE_API_KEY"); v != "" {
		cfg.Downstream.APIKey = v
	}
	if v := os.Getenv("ANTHROUTE_FORWARD_MODE"); v != "" {
		cfg.ForwardMode = v
	}
	if v := os.Getenv("ANTHROUTE_MAX_INFLIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxInflight = n
		}
	}
	if v := os.Getenv("ANTHROUTE_AUDIT_PATH"); v != "" {
		cfg.Audit.Enabled = true
		cfg.Audit.Path = v
	}
	if v := os.Getenv("ANTHROUTE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ANTHROUTE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. The value field wins when both are set.
func resolveFileReferences(cfg *Config) error {
	if cfg.Downstream.APIKeyFile != "" && cfg.Downstream.APIKey == "" {
		val, err := readSecretFile(cfg.Downstream.APIKeyFile)
		if err != nil {
			return fmt.Errorf("downstream.api_key_file: %w", err)
		}
		cfg.Downstream.APIKey = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding
// whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
