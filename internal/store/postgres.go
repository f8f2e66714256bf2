package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/definitions"
	"github.com/JaimeStill/steward/internal/instances"
	"github.com/JaimeStill/steward/internal/tasks"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

// Postgres is a Store backed by a PostgreSQL database.
type Postgres struct {
	db     *sql.DB
	opts   *sql.TxOptions
	logger *slog.Logger
}

// NewPostgres creates a Postgres store. opts selects the isolation level
// units run with and may be nil.
func NewPostgres(db *sql.DB, opts *sql.TxOptions, logger *slog.Logger) *Postgres {
	return &Postgres{
		db:     db,
		opts:   opts,
		logger: logger.With("system", "store"),
	}
}

func (p *Postgres) Atomic(ctx context.Context, fn func(Tx) error) error {
	_, err := repository.WithTxOptions(ctx, p.db, p.opts, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, fn(&pgTx{tx: tx})
	})
	return repository.MapError(err, ErrNotFound, ErrDuplicate)
}

type pgTx struct {
	tx *sql.Tx
}

func mapErr(err error) error {
	return repository.MapError(err, ErrNotFound, ErrDuplicate)
}

const definitionColumns = `id, name, version, description, initial_state, states, final_states,
	transitions, steps, default_sla_hours, active, created_at`

func scanDefinition(s repository.Scanner) (definitions.Definition, error) {
	var (
		d                                     definitions.Definition
		states, finals, transitions, stepsRaw []byte
	)
	err := s.Scan(
		&d.ID, &d.Name, &d.Version, &d.Description, &d.InitialState,
		&states, &finals, &transitions, &stepsRaw,
		&d.DefaultSLAHours, &d.Active, &d.CreatedAt,
	)
	if err != nil {
		return d, err
	}
	for _, f := range []struct {
		raw  []byte
		dest any
	}{
		{states, &d.States},
		{finals, &d.FinalStates},
		{transitions, &d.Transitions},
		{stepsRaw, &d.Steps},
	} {
		if err := json.Unmarshal(f.raw, f.dest); err != nil {
			return d, fmt.Errorf("decode definition %s: %w", d.ID, err)
		}
	}
	return d, nil
}

func (t *pgTx) InsertDefinition(ctx context.Context, def *definitions.Definition) error {
	states, _ := json.Marshal(def.States)
	finals, _ := json.Marshal(def.FinalStates)
	transitions, _ := json.Marshal(def.Transitions)
	steps := def.Steps
	if steps == nil {
		steps = map[string]definitions.Step{}
	}
	stepsRaw, _ := json.Marshal(steps)

	q := `INSERT INTO definitions(` + definitionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := t.tx.ExecContext(ctx, q,
		def.ID, def.Name, def.Version, def.Description, def.InitialState,
		states, finals, transitions, stepsRaw,
		def.DefaultSLAHours, def.Active, def.CreatedAt,
	)
	return mapErr(err)
}

func (t *pgTx) DeactivateDefinitions(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE definitions SET active = FALSE WHERE name = $1 AND active`, name)
	return mapErr(err)
}

func (t *pgTx) LatestVersion(ctx context.Context, name string) (int, error) {
	var v int
	err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM definitions WHERE name = $1`, name).Scan(&v)
	return v, mapErr(err)
}

func (t *pgTx) FindDefinition(ctx context.Context, id uuid.UUID) (definitions.Definition, error) {
	q := `SELECT ` + definitionColumns + ` FROM definitions WHERE id = $1`
	d, err := repository.QueryOne(ctx, t.tx, q, []any{id}, scanDefinition)
	return d, mapErr(err)
}

func (t *pgTx) ActiveDefinition(ctx context.Context, name string) (definitions.Definition, error) {
	q := `SELECT ` + definitionColumns + ` FROM definitions WHERE name = $1 AND active`
	d, err := repository.QueryOne(ctx, t.tx, q, []any{name}, scanDefinition)
	return d, mapErr(err)
}

func (t *pgTx) ListDefinitions(ctx context.Context, activeOnly bool) ([]definitions.Definition, error) {
	q := `SELECT ` + definitionColumns + ` FROM definitions`
	if activeOnly {
		q += ` WHERE active`
	}
	q += ` ORDER BY name, version`
	defs, err := repository.QueryMany(ctx, t.tx, q, nil, scanDefinition)
	return defs, mapErr(err)
}

var instanceProjection = query.
	NewProjectionMap("public", "instances", "i").
	Project("id", "ID").
	Project("definition_id", "DefinitionID").
	Project("document_id", "DocumentID").
	Project("organization", "Organization").
	Project("initiator", "Initiator").
	Project("current_state", "CurrentState").
	Project("status", "Status").
	Project("started_at", "StartedAt").
	Project("completed_at", "CompletedAt").
	Project("cancelled_at", "CancelledAt").
	Project("version", "Version")

var instanceDefaultSort = query.SortField{Field: "StartedAt", Descending: true}

func scanInstance(s repository.Scanner) (instances.Instance, error) {
	var (
		i      instances.Instance
		status string
	)
	err := s.Scan(
		&i.ID, &i.DefinitionID, &i.DocumentID, &i.Organization, &i.Initiator,
		&i.CurrentState, &status, &i.StartedAt, &i.CompletedAt, &i.CancelledAt, &i.Version,
	)
	i.Status = instances.Status(status)
	return i, err
}

func scanHistoryEntry(s repository.Scanner) (instances.HistoryEntry, error) {
	var e instances.HistoryEntry
	err := s.Scan(&e.From, &e.To, &e.Action, &e.Actor, &e.Timestamp, &e.Comment)
	return e, err
}

func (t *pgTx) InsertInstance(ctx context.Context, inst *instances.Instance) error {
	q := `INSERT INTO instances(id, definition_id, document_id, organization, initiator,
			current_state, status, started_at, completed_at, cancelled_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)`
	_, err := t.tx.ExecContext(ctx, q,
		inst.ID, inst.DefinitionID, inst.DocumentID, inst.Organization, inst.Initiator,
		inst.CurrentState, string(inst.Status), inst.StartedAt, inst.CompletedAt, inst.CancelledAt,
	)
	if err != nil {
		return mapErr(err)
	}
	if err := t.appendHistory(ctx, inst.ID, 0, inst.History.Entries()); err != nil {
		return err
	}
	inst.Version = 1
	return nil
}

func (t *pgTx) FindInstance(ctx context.Context, id uuid.UUID) (instances.Instance, error) {
	q, args := query.NewBuilder(instanceProjection).BuildSingle("ID", id)
	inst, err := repository.QueryOne(ctx, t.tx, q, args, scanInstance)
	if err != nil {
		return inst, mapErr(err)
	}
	return t.withHistory(ctx, inst)
}

func (t *pgTx) withHistory(ctx context.Context, inst instances.Instance) (instances.Instance, error) {
	entries, err := repository.QueryMany(ctx, t.tx,
		`SELECT from_state, to_state, action, actor, at, comment
		FROM instance_history WHERE instance_id = $1 ORDER BY seq`,
		[]any{inst.ID}, scanHistoryEntry,
	)
	if err != nil {
		return inst, mapErr(err)
	}
	inst.History = instances.NewHistory(entries)
	return inst, nil
}

func (t *pgTx) UpdateInstance(ctx context.Context, inst *instances.Instance) error {
	q := `UPDATE instances SET current_state = $3, status = $4, completed_at = $5,
			cancelled_at = $6, version = version + 1
		WHERE id = $1 AND version = $2`
	err := repository.ExecCompareAndSwap(ctx, t.tx, q,
		inst.ID, inst.Version, inst.CurrentState, string(inst.Status), inst.CompletedAt, inst.CancelledAt,
	)
	if err != nil {
		return mapErr(err)
	}

	var stored int
	if err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM instance_history WHERE instance_id = $1`, inst.ID,
	).Scan(&stored); err != nil {
		return mapErr(err)
	}
	if err := t.appendHistory(ctx, inst.ID, stored, inst.History.Since(stored)); err != nil {
		return err
	}

	inst.Version++
	return nil
}

func (t *pgTx) appendHistory(ctx context.Context, id uuid.UUID, from int, entries []instances.HistoryEntry) error {
	for n, e := range entries {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO instance_history(instance_id, seq, from_state, to_state, action, actor, at, comment)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, from+n, e.From, e.To, e.Action, e.Actor, e.Timestamp, e.Comment,
		)
		if err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (t *pgTx) ListInstances(ctx context.Context, page pagination.PageRequest, f InstanceFilter) (pagination.PageResult[instances.Instance], error) {
	var empty pagination.PageResult[instances.Instance]

	qb := query.NewBuilder(instanceProjection, instanceDefaultSort).
		WhereSearch(page.Search, "DocumentID", "CurrentState").
		WhereEquals("Organization", nonEmpty(f.Organization)).
		WhereEquals("Status", nonEmpty(string(f.Status))).
		WhereEquals("DefinitionID", f.DefinitionID).
		WhereEquals("DocumentID", nonEmpty(f.DocumentID)).
		WhereEquals("Initiator", nonEmpty(f.Initiator))
	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := t.tx.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return empty, fmt.Errorf("count instances: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	found, err := repository.QueryMany(ctx, t.tx, pageSQL, pageArgs, scanInstance)
	if err != nil {
		return empty, fmt.Errorf("query instances: %w", err)
	}
	for n := range found {
		if found[n], err = t.withHistory(ctx, found[n]); err != nil {
			return empty, err
		}
	}
	return pagination.NewPageResult(found, total, page.Page, page.PageSize), nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

const taskColumns = `id, instance_id, organization, state, status, assigned_role, assignee, due_at,
	sla_hours, priority, escalation_level, escalation_history, last_escalated_at, created_at,
	started_at, completed_at, completed_by, completion_comment, cancelled_at, version`

var openStatuses = []any{
	string(tasks.StatusPending),
	string(tasks.StatusInProgress),
	string(tasks.StatusOverdue),
}

func scanTask(s repository.Scanner) (tasks.Task, error) {
	var (
		t          tasks.Task
		status     string
		priority   int
		escalation []byte
	)
	err := s.Scan(
		&t.ID, &t.InstanceID, &t.Organization, &t.State, &status, &t.AssignedRole, &t.Assignee, &t.DueAt,
		&t.SLAHours, &priority, &t.EscalationLevel, &escalation, &t.LastEscalatedAt, &t.CreatedAt,
		&t.StartedAt, &t.CompletedAt, &t.CompletedBy, &t.CompletionComment, &t.CancelledAt, &t.Version,
	)
	if err != nil {
		return t, err
	}
	t.Status = tasks.Status(status)
	t.Priority = tasks.Priority(priority)
	if err := json.Unmarshal(escalation, &t.EscalationHistory); err != nil {
		return t, fmt.Errorf("decode escalation history %s: %w", t.ID, err)
	}
	return t, nil
}

func escalationJSON(t *tasks.Task) []byte {
	history := t.EscalationHistory
	if history == nil {
		history = []tasks.Escalation{}
	}
	b, _ := json.Marshal(history)
	return b
}

func (t *pgTx) InsertTask(ctx context.Context, task *tasks.Task) error {
	q := `INSERT INTO tasks(` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, 1)`
	_, err := t.tx.ExecContext(ctx, q,
		task.ID, task.InstanceID, task.Organization, task.State, string(task.Status), task.AssignedRole,
		task.Assignee, task.DueAt, task.SLAHours, int(task.Priority), task.EscalationLevel,
		escalationJSON(task), task.LastEscalatedAt, task.CreatedAt, task.StartedAt, task.CompletedAt,
		task.CompletedBy, task.CompletionComment, task.CancelledAt,
	)
	if err != nil {
		return mapErr(err)
	}
	task.Version = 1
	return nil
}

func (t *pgTx) FindTask(ctx context.Context, id uuid.UUID) (tasks.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task, err := repository.QueryOne(ctx, t.tx, q, []any{id}, scanTask)
	return task, mapErr(err)
}

func (t *pgTx) UpdateTask(ctx context.Context, task *tasks.Task) error {
	q := `UPDATE tasks SET status = $3, assignee = $4, due_at = $5, priority = $6,
			escalation_level = $7, escalation_history = $8, last_escalated_at = $9,
			started_at = $10, completed_at = $11, completed_by = $12, completion_comment = $13,
			cancelled_at = $14, version = version + 1
		WHERE id = $1 AND version = $2`
	err := repository.ExecCompareAndSwap(ctx, t.tx, q,
		task.ID, task.Version, string(task.Status), task.Assignee, task.DueAt, int(task.Priority),
		task.EscalationLevel, escalationJSON(task), task.LastEscalatedAt,
		task.StartedAt, task.CompletedAt, task.CompletedBy, task.CompletionComment, task.CancelledAt,
	)
	if err != nil {
		return mapErr(err)
	}
	task.Version++
	return nil
}

func (t *pgTx) TasksForInstance(ctx context.Context, instanceID uuid.UUID) ([]tasks.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE instance_id = $1 ORDER BY created_at, id`
	found, err := repository.QueryMany(ctx, t.tx, q, []any{instanceID}, scanTask)
	return found, mapErr(err)
}

func (t *pgTx) ActiveTask(ctx context.Context, instanceID uuid.UUID, state string) (tasks.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks
		WHERE instance_id = $1 AND state = $2 AND status IN ($3, $4, $5)
		FOR UPDATE`
	args := append([]any{instanceID, state}, openStatuses...)
	task, err := repository.QueryOne(ctx, t.tx, q, args, scanTask)
	return task, mapErr(err)
}

func (t *pgTx) OpenTasks(ctx context.Context) ([]tasks.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status IN ($1, $2) AND due_at IS NOT NULL
		ORDER BY due_at`
	found, err := repository.QueryMany(ctx, t.tx, q, openStatuses[:2], scanTask)
	return found, mapErr(err)
}

func (t *pgTx) TasksForUser(ctx context.Context, user string, roles []string, org string) ([]tasks.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status IN ($1, $2, $3)
		AND (assignee = $4 OR assigned_role = '' OR assigned_role = ANY($5))
		AND ($6 = '' OR organization = $6)
		ORDER BY created_at, id`
	if roles == nil {
		roles = []string{}
	}
	args := append(openStatuses[:3:3], user, roles, org)
	found, err := repository.QueryMany(ctx, t.tx, q, args, scanTask)
	return found, mapErr(err)
}

var _ Store = (*Postgres)(nil)
