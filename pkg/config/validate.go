package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/anthroute/anthroute/pkg/translate"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.BindAddr == "" {
		errs = append(errs, fmt.Errorf("server.bind_addr is required"))
	}
	if c.Downstream.BaseURL == "" {
		errs = append(errs, fmt.Errorf("downstream.base_url is required"))
	}

	c.ForwardMode = strings.ToLower(c.ForwardMode)
	switch c.ForwardMode {
	case "passthrough", "translate":
		// valid
	default:
		errs = append(errs, fmt.Errorf("forward_mode must be \"passthrough\" or \"translate\", got %q", c.ForwardMode))
	}

	// Translate mode always authenticates against the downstream itself.
	if c.ForwardMode == "translate" && strings.TrimSpace(c.Downstream.APIKey) == "" {
		errs = append(errs, fmt.Errorf("downstream.api_key is required when forward_mode is \"translate\""))
	}

	if _, err := translate.ParseDocumentPolicy(c.Models.DocumentPolicy); err != nil {
		errs = append(errs, fmt.Errorf("models.document_policy must be \"reject\", \"strip\", or \"text_only\", got %q", c.Models.DocumentPolicy))
	}

	for threshold, effort := range c.Models.ThinkingMap {
		switch effort {
		case "low", "medium", "high":
			// valid
		default:
			errs = append(errs, fmt.Errorf("models.thinking_map[%d] must be low, medium, or high, got %q", threshold, effort))
		}
	}

	if c.Limits.MaxInflight <= 0 {
		errs = append(errs, fmt.Errorf("limits.max_inflight must be > 0, got %d", c.Limits.MaxInflight))
	}

	if c.Audit.Enabled {
		if strings.TrimSpace(c.Audit.Path) == "" {
			errs = append(errs, fmt.Errorf("audit.path is required when audit.enabled is true"))
		}
		if c.Audit.MaxBodyBytes <= 0 {
			errs = append(errs, fmt.Errorf("audit.max_body_bytes must be > 0, got %d", c.Audit.MaxBodyBytes))
		}
		if c.Audit.MaxSizeMB <= 0 {
			errs = append(errs, fmt.Errorf("audit.max_size_mb must be > 0, got %d", c.Audit.MaxSizeMB))
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with \"/\", got %q", c.Metrics.Path))
	}

	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must be > 0, got %d", c.Server.MaxBodyBytes))
	}

	switch c.Logging.Format {
	case "text", "json":
		// valid
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// Policy builds the immutable translation policy from the models section.
// Call only after Validate has succeeded.
func (c *Config) Policy() *translate.Policy {
	documents, _ := translate.ParseDocumentPolicy(c.Models.DocumentPolicy)

	p := &translate.Policy{
		Rename:       c.Models.ModelMap,
		Display:      c.Models.DisplayMap,
		Allow:        toSet(c.Models.Allowlist),
		Block:        toSet(c.Models.Blocklist),
		OutputStrict: c.Models.OutputStrict,
		AllowImages:  c.Models.AllowImages,
		Documents:    documents,
	}
	for threshold, effort := range c.Models.ThinkingMap {
		p.Efforts = append(p.Efforts, translate.EffortLevel{Threshold: threshold, Effort: effort})
	}
	p.SortEfforts()
	return p
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
