package api

import (
	"log/slog"

	"github.com/JaimeStill/steward/internal/workflow"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/routes"
)

func routeGroups(domain *Domain, logger *slog.Logger, page pagination.Config) []routes.Group {
	return workflow.NewHandler(domain.Engine, logger, page).Routes()
}
