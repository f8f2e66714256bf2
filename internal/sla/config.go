package sla

import (
	"fmt"
	"slices"
)

// Config tunes SLA warnings and escalation.
type Config struct {
	// WarningThresholds are percentages of the SLA window elapsed at which a
	// warning is sent.
	WarningThresholds []int    `toml:"warning_thresholds"`
	EscalationRoles   []string `toml:"escalation_roles"`
	RearmWorkers      int      `toml:"rearm_workers"`
	MaxRetries        int      `toml:"max_retries"`
}

// Finalize applies defaults and validation.
func (c *Config) Finalize() error {
	if c.WarningThresholds == nil {
		c.WarningThresholds = []int{50, 75}
	}
	if len(c.EscalationRoles) == 0 {
		c.EscalationRoles = []string{"manager", "admin"}
	}
	if c.RearmWorkers <= 0 {
		c.RearmWorkers = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	for _, pct := range c.WarningThresholds {
		if pct <= 0 || pct >= 100 {
			return fmt.Errorf("warning threshold %d must be between 1 and 99", pct)
		}
	}
	slices.Sort(c.WarningThresholds)
	c.WarningThresholds = slices.Compact(c.WarningThresholds)
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.WarningThresholds != nil {
		c.WarningThresholds = overlay.WarningThresholds
	}
	if len(overlay.EscalationRoles) > 0 {
		c.EscalationRoles = overlay.EscalationRoles
	}
	if overlay.RearmWorkers != 0 {
		c.RearmWorkers = overlay.RearmWorkers
	}
	if overlay.MaxRetries != 0 {
		c.MaxRetries = overlay.MaxRetries
	}
}
