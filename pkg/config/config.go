// Package config provides unified configuration for the anthroute gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (ANTHROUTE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the anthroute gateway.
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Downstream  DownstreamConfig `yaml:"downstream"`
	ForwardMode string           `yaml:"forward_mode"` // "passthrough" or "translate", default: "passthrough"
	Models      ModelsConfig     `yaml:"models"`
	Limits      LimitsConfig     `yaml:"limits"`
	Audit       AuditConfig      `yaml:"audit"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	BindAddr     string `yaml:"bind_addr"`      // default: "0.0.0.0:8080"
	MaxBodyBytes int64  `yaml:"max_body_bytes"` // request body cap, default: 10 MiB
}

// DownstreamConfig holds settings for the Chat Completions backend.
type DownstreamConfig struct {
	BaseURL            string `yaml:"base_url"` // default: "https://api.openai.com"
	APIKey             string `yaml:"api_key"`
	APIKeyFile         string `yaml:"api_key_file"`           // _file variant for api_key
	ConnectTimeoutMS   int    `yaml:"connect_timeout_ms"`     // default: 5000
	ReadTimeoutMS      int    `yaml:"read_timeout_ms"`        // default: 60000
	PoolMaxIdlePerHost int    `yaml:"pool_max_idle_per_host"` // default: 64
}

// ConnectTimeout returns the dial timeout as a Duration.
func (d DownstreamConfig) ConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeoutMS) * time.Millisecond
}

// ReadTimeout returns the full-response timeout as a Duration.
func (d DownstreamConfig) ReadTimeout() time.Duration {
	return time.Duration(d.ReadTimeoutMS) * time.Millisecond
}

// ModelsConfig holds model naming, gating, and translation policy.
type ModelsConfig struct {
	ModelMap       map[string]string `yaml:"model_map"`   // caller name -> downstream name
	DisplayMap     map[string]string `yaml:"display_map"` // downstream id -> display name
	Allowlist      []string          `yaml:"allowlist"`
	Blocklist      []string          `yaml:"blocklist"`
	ThinkingMap    map[int]string    `yaml:"thinking_map"` // budget threshold -> reasoning effort
	OutputStrict   bool              `yaml:"output_strict"`   // default: true
	AllowImages    bool              `yaml:"allow_images"`    // default: true
	DocumentPolicy string            `yaml:"document_policy"` // "reject", "strip", or "text_only", default: "reject"
	ModelsOverride []ModelOverride   `yaml:"models_override"` // served instead of querying downstream
}

// ModelOverride is one statically configured model listing entry.
type ModelOverride struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	CreatedAt   string `yaml:"created_at"`
}

// LimitsConfig holds admission control settings.
type LimitsConfig struct {
	MaxInflight int `yaml:"max_inflight"` // default: 512
}

// AuditConfig holds audit log settings.
type AuditConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Path         string `yaml:"path"`           // required when enabled
	MaxBodyBytes int    `yaml:"max_body_bytes"` // per-body capture cap, default: 1 MiB
	MaxSizeMB    int    `yaml:"max_size_mb"`    // rotation threshold, default: 10
	MaxBackups   int    `yaml:"max_backups"`    // rotated files kept, default: 3
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "text" or "json", default: "text"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			BindAddr:     "0.0.0.0:8080",
			MaxBodyBytes: 10 << 20,
		},
		Downstream: DownstreamConfig{
			BaseURL:            "https://api.openai.com",
			ConnectTimeoutMS:   5000,
			ReadTimeoutMS:      60000,
			PoolMaxIdlePerHost: 64,
		},
		ForwardMode: "passthrough",
		Models: ModelsConfig{
			OutputStrict:   true,
			AllowImages:    true,
			DocumentPolicy: "reject",
		},
		Limits: LimitsConfig{
			MaxInflight: 512,
		},
		Audit: AuditConfig{
			MaxBodyBytes: 1 << 20,
			MaxSizeMB:    10,
			MaxBackups:   3,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
