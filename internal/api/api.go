// Package api assembles the API module: the workflow engine, its supporting
// systems and the HTTP routes that expose them.
package api

import (
	"github.com/JaimeStill/steward/internal/config"
	"github.com/JaimeStill/steward/internal/infrastructure"
	"github.com/JaimeStill/steward/pkg/middleware"
	"github.com/JaimeStill/steward/pkg/module"
)

// NewModule creates the API module and the domain behind it. The caller
// starts the domain and runs Bootstrap once infrastructure is ready.
func NewModule(cfg *config.Config, infra *infrastructure.Infrastructure) (*module.Module, *Domain, error) {
	runtime := NewRuntime(cfg, infra)
	domain := NewDomain(runtime)

	m, err := module.New(cfg.API.BasePath, routeGroups(domain, runtime.Logger, runtime.Pagination)...)
	if err != nil {
		return nil, nil, err
	}
	m.Use(
		middleware.Recover(runtime.Logger),
		middleware.CORS(&cfg.API.CORS),
		middleware.User(),
		middleware.Logger(runtime.Logger),
	)

	return m, domain, nil
}
