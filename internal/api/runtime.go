package api

import (
	"github.com/JaimeStill/steward/internal/config"
	"github.com/JaimeStill/steward/internal/identity"
	"github.com/JaimeStill/steward/internal/infrastructure"
	"github.com/JaimeStill/steward/pkg/pagination"
)

// Runtime extends Infrastructure with API-specific configuration.
type Runtime struct {
	*infrastructure.Infrastructure
	Engine     config.EngineConfig
	Identity   identity.Config
	Pagination pagination.Config
}

// NewRuntime creates an API runtime with a module-scoped logger.
func NewRuntime(cfg *config.Config, infra *infrastructure.Infrastructure) *Runtime {
	scoped := *infra
	scoped.Logger = infra.Logger.With("module", "api")
	return &Runtime{
		Infrastructure: &scoped,
		Engine:         cfg.Engine,
		Identity:       cfg.Identity,
		Pagination:     cfg.API.Pagination,
	}
}
