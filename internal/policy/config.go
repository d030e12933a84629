package policy

import "strings"

// Mode defines the policy engine operating mode.
type Mode string

const (
	// ModeOff disables policy evaluation entirely.
	ModeOff Mode = "off"
	// ModeDryRun evaluates policies but doesn't enforce them (log only).
	ModeDryRun Mode = "dry-run"
	// ModeEnforce evaluates and enforces policies.
	ModeEnforce Mode = "enforce"
)

// Config holds policy engine configuration.
type Config struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Mode        Mode   `yaml:"mode" mapstructure:"mode"`
	Path        string `yaml:"path" mapstructure:"path"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	// FailClosed denies submissions when evaluation itself fails. Off by
	// default: a broken policy bundle should not take the product down.
	FailClosed bool `yaml:"fail_closed" mapstructure:"fail_closed"`
}

func (c *Config) applyDefaults() {
	switch Mode(strings.ToLower(string(c.Mode))) {
	case ModeOff, ModeDryRun, ModeEnforce:
		c.Mode = Mode(strings.ToLower(string(c.Mode)))
	default:
		c.Mode = ModeDryRun
	}
	if c.Path == "" {
		c.Path = "config/policies"
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
}
