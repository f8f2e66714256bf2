// Package infrastructure provides core service initialization for application startup.
// It assembles the shared systems (logging, tracing, database, blob storage)
// that the workflow engine is built on.
package infrastructure

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/JaimeStill/steward/internal/config"
	"github.com/JaimeStill/steward/pkg/database"
	"github.com/JaimeStill/steward/pkg/lifecycle"
	"github.com/JaimeStill/steward/pkg/storage"
	"github.com/JaimeStill/steward/pkg/tracing"
)

// Infrastructure holds the core systems required by the API module.
// Database is nil when the engine runs on the in-memory store, and Storage is
// nil when no blob endpoint is configured.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Database  database.System
	Storage   storage.System
	Tracing   bool
}

// New creates an Infrastructure from the application configuration.
// It initializes all systems but does not start them; call Start separately.
func New(cfg *config.Config) (*Infrastructure, error) {
	infra := &Infrastructure{
		Lifecycle: lifecycle.New(),
		Logger:    NewLogger(os.Stderr, cfg.LogFormat, cfg.Level()),
	}

	if cfg.Engine.UsesDatabase() {
		db, err := database.New(&cfg.Database, infra.Logger)
		if err != nil {
			return nil, fmt.Errorf("database init failed: %w", err)
		}
		infra.Database = db
	}

	store, err := storage.New(&cfg.Storage, infra.Logger)
	switch {
	case errors.Is(err, storage.ErrDisabled):
		infra.Logger.Info("blob storage not configured, archiving disabled")
	case err != nil:
		return nil, fmt.Errorf("storage init failed: %w", err)
	default:
		infra.Storage = store
	}

	if cfg.Tracing.Enabled {
		if err := tracing.Init("steward", cfg.Version, cfg.Tracing.Output); err != nil {
			return nil, fmt.Errorf("tracing init failed: %w", err)
		}
		infra.Tracing = true
	}

	return infra, nil
}

// NewLogger builds the service logger. format is "json" or "text".
func NewLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Start registers all infrastructure systems with the lifecycle coordinator.
// The database is a readiness requirement; storage and tracing are not.
func (i *Infrastructure) Start() error {
	if i.Database != nil {
		if err := i.Database.Start(i.Lifecycle); err != nil {
			return fmt.Errorf("database start failed: %w", err)
		}
		i.Lifecycle.Require("database", i.Database)
	}
	if i.Storage != nil {
		if err := i.Storage.Start(i.Lifecycle); err != nil {
			return fmt.Errorf("storage start failed: %w", err)
		}
	}
	if i.Tracing {
		tracing.Start(i.Lifecycle)
	}
	return nil
}
