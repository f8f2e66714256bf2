package workflow

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/definitions"
	"github.com/JaimeStill/steward/internal/instances"
	"github.com/JaimeStill/steward/internal/store"
	"github.com/JaimeStill/steward/internal/tasks"
	"github.com/JaimeStill/steward/pkg/handlers"
	"github.com/JaimeStill/steward/pkg/middleware"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/routes"
)

// Handler exposes the engine over HTTP. The acting user is read from the
// X-User header.
type Handler struct {
	engine     *Engine
	logger     *slog.Logger
	pagination pagination.Config
}

// NewHandler creates a Handler for engine.
func NewHandler(engine *Engine, logger *slog.Logger, pagination pagination.Config) *Handler {
	return &Handler{
		engine:     engine,
		logger:     logger.With("handler", "workflow"),
		pagination: pagination,
	}
}

// StartRequest is the body of POST /workflows.
type StartRequest struct {
	Definition string   `json:"definition"`
	Document   Document `json:"document"`
}

// ActionRequest is the body of instance and task operations.
type ActionRequest struct {
	Action  string `json:"action,omitempty"`
	To      string `json:"to,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// VersionRequest edits the active version of a definition. Nil fields keep
// the current value; Steps entries replace the step of the same state.
type VersionRequest struct {
	Description     *string                     `json:"description,omitempty"`
	DefaultSLAHours *int                        `json:"default_sla_hours,omitempty"`
	Steps           map[string]definitions.Step `json:"steps,omitempty"`
}

func (v VersionRequest) apply(def *definitions.Definition) {
	if v.Description != nil {
		def.Description = *v.Description
	}
	if v.DefaultSLAHours != nil {
		def.DefaultSLAHours = *v.DefaultSLAHours
	}
	for state, step := range v.Steps {
		if def.Steps == nil {
			def.Steps = make(map[string]definitions.Step)
		}
		def.Steps[state] = step
	}
}

// TaskView adds SLA status to a task.
type TaskView struct {
	tasks.Task
	SLACompliant  bool   `json:"sla_compliant"`
	TimeRemaining string `json:"time_remaining"`
}

func (h *Handler) view(t tasks.Task) TaskView {
	now := h.engine.now()
	return TaskView{Task: t, SLACompliant: t.SLACompliant(now), TimeRemaining: t.TimeRemainingText(now)}
}

func (h *Handler) views(found []tasks.Task) []TaskView {
	out := make([]TaskView, len(found))
	for i, t := range found {
		out[i] = h.view(t)
	}
	return out
}

// Routes returns the route groups for definitions, workflows and tasks.
func (h *Handler) Routes() []routes.Group {
	return []routes.Group{
		{
			Prefix: "/definitions",
			Routes: []routes.Route{
				routes.Get("", h.ListDefinitions),
				routes.Post("", h.CreateDefinition),
				routes.Get("/{id}", h.FindDefinition),
				routes.Get("/active/{name}", h.FindActiveDefinition),
				routes.Post("/active/{name}/versions", h.NewVersion),
			},
		},
		{
			Prefix: "/workflows",
			Routes: []routes.Route{
				routes.Get("", h.ListInstances),
				routes.Post("", h.Start),
				routes.Get("/{id}", h.FindInstance),
				routes.Get("/{id}/tasks", h.InstanceTasks),
				routes.Get("/{id}/current-task", h.CurrentTask),
				routes.Get("/{id}/durations", h.Durations),
				routes.Post("/{id}/actions", h.PerformAction),
				routes.Post("/{id}/transition", h.Transition),
				routes.Post("/{id}/cancel", h.Cancel),
				routes.Post("/{id}/suspend", h.Suspend),
				routes.Post("/{id}/resume", h.Resume),
			},
		},
		{
			Prefix: "/tasks",
			Routes: []routes.Route{
				routes.Get("/mine", h.MyTasks),
				routes.Get("/{id}", h.FindTask),
				routes.Post("/{id}/claim", h.Claim),
				routes.Post("/{id}/release", h.Release),
				routes.Post("/{id}/complete", h.Complete),
				routes.Post("/{id}/cancel", h.CancelTask),
			},
		},
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
}

func (h *Handler) id(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errors.Join(ErrInvalidInput, err))
		return uuid.Nil, false
	}
	return id, true
}

func user(r *http.Request) string {
	if u, ok := middleware.UserFrom(r.Context()); ok {
		return u
	}
	return r.Header.Get(middleware.UserHeader)
}

func (h *Handler) body(w http.ResponseWriter, r *http.Request) (ActionRequest, bool) {
	if r.ContentLength == 0 {
		return ActionRequest{}, true
	}
	req, err := handlers.DecodeJSON[ActionRequest](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errors.Join(ErrInvalidInput, err))
		return req, false
	}
	return req, true
}

// ListDefinitions returns stored definitions. ?active=true limits the list
// to active versions.
func (h *Handler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.engine.Definitions(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, defs)
}

// CreateDefinition stores the body as the next active version of its name.
func (h *Handler) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := handlers.DecodeJSON[definitions.Definition](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errors.Join(ErrInvalidInput, err))
		return
	}

	created, err := h.engine.CreateDefinition(r.Context(), def, user(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusCreated, created)
}

// FindDefinition returns a definition version by id.
func (h *Handler) FindDefinition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	def, err := h.engine.Definition(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, def)
}

// FindActiveDefinition returns the active version of a definition name.
func (h *Handler) FindActiveDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.engine.ActiveDefinition(r.Context(), r.PathValue("name"))
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, def)
}

// NewVersion stores an edited copy of the active version as the next version.
func (h *Handler) NewVersion(w http.ResponseWriter, r *http.Request) {
	req, err := handlers.DecodeJSON[VersionRequest](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errors.Join(ErrInvalidInput, err))
		return
	}

	def, err := h.engine.NewDefinitionVersion(r.Context(), r.PathValue("name"), user(r), req.apply)
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusCreated, def)
}

// Start creates a workflow instance for a document.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	req, err := handlers.DecodeJSON[StartRequest](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errors.Join(ErrInvalidInput, err))
		return
	}

	inst, err := h.engine.StartWorkflow(r.Context(), req.Definition, req.Document, user(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusCreated, inst)
}

// ListInstances returns a page of instances filtered by query parameters.
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := pagination.PageRequestFromQuery(q, h.pagination)
	filter := store.InstanceFilter{
		Organization: q.Get("organization"),
		Status:       instances.Status(q.Get("status")),
		DocumentID:   q.Get("document_id"),
		Initiator:    q.Get("initiator"),
	}
	if v := q.Get("definition_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, errors.Join(ErrInvalidInput, err))
			return
		}
		filter.DefinitionID = &id
	}

	result, err := h.engine.Instances(r.Context(), page, filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, result)
}

// FindInstance returns an instance with its history.
func (h *Handler) FindInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	inst, err := h.engine.Instance(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, inst)
}

// InstanceTasks returns every task of an instance.
func (h *Handler) InstanceTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	found, err := h.engine.Tasks(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, h.views(found))
}

// CurrentTask returns the open task at the instance's current state.
func (h *Handler) CurrentTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	t, err := h.engine.CurrentTask(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, h.view(t))
}

// Durations returns seconds spent per visited state.
func (h *Handler) Durations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	durations, err := h.engine.StateDurations(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make(map[string]float64, len(durations))
	for state, d := range durations {
		out[state] = d.Round(time.Second).Seconds()
	}
	handlers.RespondJSON(w, http.StatusOK, out)
}

// PerformAction follows the named action out of the current state.
func (h *Handler) PerformAction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	req, ok := h.body(w, r)
	if !ok {
		return
	}
	inst, err := h.engine.PerformAction(r.Context(), id, user(r), req.Action, req.Comment)
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, inst)
}

// Transition moves the instance to the requested state.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	req, ok := h.body(w, r)
	if !ok {
		return
	}
	inst, err := h.engine.Transition(r.Context(), id, user(r), req.To, req.Comment)
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, inst)
}

// Cancel cancels the instance; the comment is recorded as the reason.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.instanceOp(w, r, h.engine.CancelWorkflow)
}

// Suspend pauses an active instance.
func (h *Handler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.instanceOp(w, r, h.engine.SuspendWorkflow)
}

// Resume reactivates a suspended instance.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.instanceOp(w, r, h.engine.ResumeWorkflow)
}

type instanceFunc func(ctx context.Context, id uuid.UUID, actor, comment string) (instances.Instance, error)

func (h *Handler) instanceOp(w http.ResponseWriter, r *http.Request, op instanceFunc) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	req, ok := h.body(w, r)
	if !ok {
		return
	}
	inst, err := op(r.Context(), id, user(r), req.Comment)
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, inst)
}

// MyTasks lists the caller's work queue. ?organization scopes it.
func (h *Handler) MyTasks(w http.ResponseWriter, r *http.Request) {
	found, err := h.engine.MyTasks(r.Context(), user(r), r.URL.Query().Get("organization"))
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, h.views(found))
}

// FindTask returns a task by id.
func (h *Handler) FindTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	t, err := h.engine.Task(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, h.view(t))
}

// Claim assigns the task to the caller.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	t, err := h.engine.ClaimTask(r.Context(), id, user(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, t)
}

// Release returns the caller's task to the pool.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	t, err := h.engine.ReleaseTask(r.Context(), id, user(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, t)
}

// Complete completes the task and advances its instance.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	req, ok := h.body(w, r)
	if !ok {
		return
	}
	inst, err := h.engine.CompleteTask(r.Context(), id, user(r), req.Action, req.Comment)
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, inst)
}

// CancelTask cancels a single task.
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	t, err := h.engine.CancelTask(r.Context(), id, user(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, t)
}
