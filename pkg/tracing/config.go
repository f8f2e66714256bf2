package tracing

import (
	"os"
	"strconv"
)

// Config controls span export.
type Config struct {
	Enabled bool   `toml:"enabled"`
	Output  string `toml:"output"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Enabled string
	Output  string
}

// Finalize applies defaults and environment variable overrides.
func (c *Config) Finalize(env *Env) error {
	if c.Output == "" {
		c.Output = "stdout"
	}
	if env == nil {
		return nil
	}
	if env.Enabled != "" {
		if v := os.Getenv(env.Enabled); v != "" {
			if enabled, err := strconv.ParseBool(v); err == nil {
				c.Enabled = enabled
			}
		}
	}
	if env.Output != "" {
		if v := os.Getenv(env.Output); v != "" {
			c.Output = v
		}
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Enabled {
		c.Enabled = true
	}
	if overlay.Output != "" {
		c.Output = overlay.Output
	}
}
