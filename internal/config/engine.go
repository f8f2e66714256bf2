package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/JaimeStill/steward/internal/notifications"
	"github.com/JaimeStill/steward/internal/sla"
)

const (
	EnvEngineStore          = "STEWARD_ENGINE_STORE"
	EnvEngineDefinitionsDir = "STEWARD_ENGINE_DEFINITIONS_DIR"
	EnvEngineMaxRetries     = "STEWARD_ENGINE_MAX_RETRIES"
	EnvEngineArchive        = "STEWARD_ENGINE_ARCHIVE"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// EngineConfig selects the persistence backend and tunes the workflow engine,
// the SLA scheduler and notification delivery.
type EngineConfig struct {
	Store          string               `toml:"store"`
	DefinitionsDir string               `toml:"definitions_dir"`
	MaxRetries     int                  `toml:"max_retries"`
	Archive        bool                 `toml:"archive"`
	SLA            sla.Config           `toml:"sla"`
	Notifications  notifications.Config `toml:"notifications"`
}

// UsesDatabase reports whether the engine persists to PostgreSQL.
func (c *EngineConfig) UsesDatabase() bool {
	return c.Store == StorePostgres
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *EngineConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	if err := c.validate(); err != nil {
		return err
	}
	if err := c.SLA.Finalize(); err != nil {
		return fmt.Errorf("sla: %w", err)
	}
	if err := c.Notifications.Finalize(); err != nil {
		return fmt.Errorf("notifications: %w", err)
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *EngineConfig) Merge(overlay *EngineConfig) {
	if overlay.Store != "" {
		c.Store = overlay.Store
	}
	if overlay.DefinitionsDir != "" {
		c.DefinitionsDir = overlay.DefinitionsDir
	}
	if overlay.MaxRetries != 0 {
		c.MaxRetries = overlay.MaxRetries
	}
	if overlay.Archive {
		c.Archive = true
	}
	c.SLA.Merge(&overlay.SLA)
	c.Notifications.Merge(&overlay.Notifications)
}

func (c *EngineConfig) loadDefaults() {
	if c.Store == "" {
		c.Store = StorePostgres
	}
	if c.DefinitionsDir == "" {
		c.DefinitionsDir = "definitions"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

func (c *EngineConfig) loadEnv() {
	if v := os.Getenv(EnvEngineStore); v != "" {
		c.Store = v
	}
	if v := os.Getenv(EnvEngineDefinitionsDir); v != "" {
		c.DefinitionsDir = v
	}
	if v := os.Getenv(EnvEngineMaxRetries); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv(EnvEngineArchive); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Archive = b
		}
	}
}

func (c *EngineConfig) validate() error {
	if c.Store != StorePostgres && c.Store != StoreMemory {
		return fmt.Errorf("invalid store: %q", c.Store)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be positive")
	}
	return nil
}
