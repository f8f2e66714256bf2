package middleware

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// CORSConfig holds the cross-origin policy of a module.
type CORSConfig struct {
	Enabled          bool     `toml:"enabled"`
	Origins          []string `toml:"origins"`
	AllowedMethods   []string `toml:"allowed_methods"`
	AllowedHeaders   []string `toml:"allowed_headers"`
	AllowCredentials bool     `toml:"allow_credentials"`
	MaxAge           int      `toml:"max_age"`
}

// Finalize applies defaults, then overrides from variables named prefix_ENABLED,
// prefix_ORIGINS, prefix_ALLOWED_METHODS, prefix_ALLOWED_HEADERS,
// prefix_ALLOW_CREDENTIALS and prefix_MAX_AGE. An empty prefix skips the
// environment.
func (c *CORSConfig) Finalize(prefix string) error {
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	if len(c.AllowedHeaders) == 0 {
		c.AllowedHeaders = []string{"Content-Type", "Authorization", UserHeader}
	}
	if c.MaxAge == 0 {
		c.MaxAge = 3600
	}

	if prefix != "" {
		envBool(prefix+"_ENABLED", &c.Enabled)
		envList(prefix+"_ORIGINS", &c.Origins)
		envList(prefix+"_ALLOWED_METHODS", &c.AllowedMethods)
		envList(prefix+"_ALLOWED_HEADERS", &c.AllowedHeaders)
		envBool(prefix+"_ALLOW_CREDENTIALS", &c.AllowCredentials)
		envInt(prefix+"_MAX_AGE", &c.MaxAge)
	}

	if c.MaxAge < 0 {
		return fmt.Errorf("invalid max_age: %d", c.MaxAge)
	}
	if c.AllowCredentials && len(c.Origins) == 1 && c.Origins[0] == "*" {
		return fmt.Errorf("allow_credentials requires explicit origins")
	}
	return nil
}

// Merge applies overlay fields that are set. An overlay can switch the
// booleans on but not off; use the environment to disable them.
func (c *CORSConfig) Merge(overlay *CORSConfig) {
	if overlay.Enabled {
		c.Enabled = true
	}
	if overlay.AllowCredentials {
		c.AllowCredentials = true
	}
	if overlay.Origins != nil {
		c.Origins = overlay.Origins
	}
	if overlay.AllowedMethods != nil {
		c.AllowedMethods = overlay.AllowedMethods
	}
	if overlay.AllowedHeaders != nil {
		c.AllowedHeaders = overlay.AllowedHeaders
	}
	if overlay.MaxAge != 0 {
		c.MaxAge = overlay.MaxAge
	}
}

func envBool(name string, dst *bool) {
	if v, err := strconv.ParseBool(os.Getenv(name)); err == nil {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v, err := strconv.Atoi(os.Getenv(name)); err == nil {
		*dst = v
	}
}

// envList reads a comma-separated list, dropping blank entries.
func envList(name string, dst *[]string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	var out []string
	for item := range strings.SplitSeq(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}
