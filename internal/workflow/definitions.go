package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/definitions"
	"github.com/JaimeStill/steward/internal/store"
	"github.com/JaimeStill/steward/pkg/tracing"
)

// CreateDefinition validates def and stores it as the next active version of
// its name, deactivating the previous version in the same unit.
func (e *Engine) CreateDefinition(ctx context.Context, def definitions.Definition, actor string) (result definitions.Definition, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.create_definition", "name", def.Name)
	defer func() { span.End(err) }()

	if err := def.Validate(); err != nil {
		return definitions.Definition{}, err
	}

	err = e.atomic(ctx, "create_definition", func(tx store.Tx) error {
		result, err = e.activate(ctx, tx, def.Clone())
		return err
	})
	if err != nil {
		return definitions.Definition{}, err
	}

	e.definitionCreated(ctx, result, actor)
	return result, nil
}

// NewDefinitionVersion copies the active version of name, applies edit and
// stores the result as the next active version. Running instances keep the
// version they started on.
func (e *Engine) NewDefinitionVersion(ctx context.Context, name, actor string, edit func(*definitions.Definition)) (result definitions.Definition, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.new_definition_version", "name", name)
	defer func() { span.End(err) }()

	err = e.atomic(ctx, "new_definition_version", func(tx store.Tx) error {
		current, err := tx.ActiveDefinition(ctx, name)
		if err != nil {
			return notFound(err, definitions.ErrNotFound)
		}

		next := current.NewVersion()
		if edit != nil {
			edit(&next)
		}
		next.Name = name
		if err := next.Validate(); err != nil {
			return err
		}

		result, err = e.activate(ctx, tx, next)
		return err
	})
	if err != nil {
		return definitions.Definition{}, err
	}

	e.definitionCreated(ctx, result, actor)
	return result, nil
}

func (e *Engine) activate(ctx context.Context, tx store.Tx, def definitions.Definition) (definitions.Definition, error) {
	latest, err := tx.LatestVersion(ctx, def.Name)
	if err != nil {
		return def, err
	}
	if err := tx.DeactivateDefinitions(ctx, def.Name); err != nil {
		return def, err
	}

	def.ID = uuid.New()
	def.Version = latest + 1
	def.Active = true
	def.CreatedAt = e.now()
	if err := tx.InsertDefinition(ctx, &def); err != nil {
		return def, fmt.Errorf("store definition %s v%d: %w", def.Name, def.Version, err)
	}
	return def, nil
}

func (e *Engine) definitionCreated(ctx context.Context, def definitions.Definition, actor string) {
	e.logger.Info("definition activated", "name", def.Name, "version", def.Version, "id", def.ID)
	e.record(ctx, audit.Event{
		EventType:  audit.TypeWorkflow,
		Action:     "definition_activated",
		TargetType: "definition",
		TargetID:   def.ID.String(),
		Actor:      actor,
		Metadata:   map[string]any{"name": def.Name, "version": def.Version},
		At:         def.CreatedAt,
	})
}

// SeedDefinitions activates each template whose shape differs from the
// active version of its name and returns how many were stored.
func (e *Engine) SeedDefinitions(ctx context.Context, defs []definitions.Definition) (int, error) {
	seeded := 0
	for _, def := range defs {
		current, err := e.ActiveDefinition(ctx, def.Name)
		switch {
		case err == nil && definitions.SameShape(current, def):
			continue
		case err != nil && !errors.Is(err, definitions.ErrNotFound):
			return seeded, err
		}
		if _, err := e.CreateDefinition(ctx, def, "system"); err != nil {
			return seeded, fmt.Errorf("seed %s: %w", def.Name, err)
		}
		seeded++
	}
	return seeded, nil
}

// Definition returns a definition version by id.
func (e *Engine) Definition(ctx context.Context, id uuid.UUID) (def definitions.Definition, err error) {
	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		def, err = tx.FindDefinition(ctx, id)
		return notFound(err, definitions.ErrNotFound)
	})
	return def, err
}

// ActiveDefinition returns the active version of name.
func (e *Engine) ActiveDefinition(ctx context.Context, name string) (def definitions.Definition, err error) {
	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		def, err = tx.ActiveDefinition(ctx, name)
		return notFound(err, definitions.ErrNotFound)
	})
	return def, err
}

// Definitions lists stored definitions, optionally only active versions.
func (e *Engine) Definitions(ctx context.Context, activeOnly bool) (defs []definitions.Definition, err error) {
	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		defs, err = tx.ListDefinitions(ctx, activeOnly)
		return err
	})
	return defs, err
}
