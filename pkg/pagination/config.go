// Package pagination provides page requests, page results and the page size
// limits applied to list endpoints.
package pagination

import (
	"errors"
	"os"
	"strconv"
)

// Config bounds the page sizes a caller may request.
type Config struct {
	DefaultPageSize int `toml:"default_page_size"`
	MaxPageSize     int `toml:"max_page_size"`
}

// Finalize applies defaults, then overrides from prefix_DEFAULT_PAGE_SIZE and
// prefix_MAX_PAGE_SIZE, then validates. An empty prefix skips the environment.
func (c *Config) Finalize(prefix string) error {
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 20
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 100
	}

	if prefix != "" {
		if n, err := strconv.Atoi(os.Getenv(prefix + "_DEFAULT_PAGE_SIZE")); err == nil {
			c.DefaultPageSize = n
		}
		if n, err := strconv.Atoi(os.Getenv(prefix + "_MAX_PAGE_SIZE")); err == nil {
			c.MaxPageSize = n
		}
	}

	switch {
	case c.DefaultPageSize < 1:
		return errors.New("default_page_size must be positive")
	case c.MaxPageSize < 1:
		return errors.New("max_page_size must be positive")
	case c.DefaultPageSize > c.MaxPageSize:
		return errors.New("default_page_size cannot exceed max_page_size")
	}
	return nil
}

// Merge applies non-zero values from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.DefaultPageSize != 0 {
		c.DefaultPageSize = overlay.DefaultPageSize
	}
	if overlay.MaxPageSize != 0 {
		c.MaxPageSize = overlay.MaxPageSize
	}
}
