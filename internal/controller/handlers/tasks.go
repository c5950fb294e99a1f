package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"docflow/internal/auth"
	"docflow/internal/scheduler"
	"docflow/internal/store"
	"docflow/pkg/api"

	"github.com/google/uuid"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// requireAdmin writes 403 unless the caller is an admin.
func (h *Handlers) requireAdmin(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := h.principal(w, r)
	if !ok {
		return p, false
	}
	if !p.CanOverride() {
		h.httpError(w, "Task management requires ADMIN", http.StatusForbidden)
		return p, false
	}
	return p, true
}

// ListTasks handles GET /tasks.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	tasks, err := h.tasks.ListTasks(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	now := h.tasks.Now()
	resp := api.ListTasksResponse{Tasks: make([]api.TaskResponse, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, toTaskResponse(t, now))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// TaskAction handles POST /tasks: execute one task, process all due tasks,
// or seed the default tasks.
func (h *Handlers) TaskAction(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	var req api.TaskActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch req.Action {
	case api.TaskActionExecute:
		id, err := uuid.Parse(req.TaskID)
		if err != nil {
			h.httpError(w, "Invalid task id", http.StatusBadRequest)
			return
		}
		exec, err := h.tasks.ExecuteTask(ctx, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.respondJson(w, http.StatusOK, toExecutionResponse(*exec))

	case api.TaskActionProcessAll:
		h.processDue(w, r)

	case api.TaskActionInitialize:
		created, err := h.tasks.InitializeDefaultTasks(ctx)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.respondJson(w, http.StatusOK, api.InitializeResponse{Created: created})

	default:
		h.httpError(w, "Unknown action: "+req.Action, http.StatusBadRequest)
	}
}

// ToggleTask handles PUT /tasks. It never runs the task.
func (h *Handlers) ToggleTask(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var req api.ToggleTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(req.TaskID)
	if err != nil {
		h.httpError(w, "Invalid task id", http.StatusBadRequest)
		return
	}
	if req.Enabled == nil {
		h.httpError(w, "enabled is required", http.StatusBadRequest)
		return
	}

	task, err := h.tasks.SetEnabled(r.Context(), id, *req.Enabled, &p.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toTaskResponse(*task, h.tasks.Now()))
}

// TaskExecutions handles GET /tasks/{id}/executions?limit=N.
func (h *Handlers) TaskExecutions(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	id, ok := h.pathID(w, r, "id", "task")
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil || limit == 0 {
		h.httpError(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	execs, err := h.tasks.History(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := api.ListExecutionsResponse{Executions: make([]api.ExecutionResponse, 0, len(execs))}
	for _, e := range execs {
		resp.Executions = append(resp.Executions, toExecutionResponse(e))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// InternalProcessTasks handles POST /internal/tasks/process, the entry point
// for an external driver such as a cron job.
func (h *Handlers) InternalProcessTasks(w http.ResponseWriter, r *http.Request) {
	h.processDue(w, r)
}

func (h *Handlers) processDue(w http.ResponseWriter, r *http.Request) {
	report, err := h.tasks.ProcessDueTasks(r.Context(), h.tasks.Now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toProcessResponse(report))
}

func toTaskResponse(t store.ScheduledTask, now time.Time) api.TaskResponse {
	return api.TaskResponse{
		ID:             t.ID.String(),
		Name:           t.Name,
		JobType:        string(t.JobType),
		Schedule:       t.Schedule,
		Status:         string(t.Status),
		Enabled:        t.Enabled,
		NextRunAt:      t.NextRunAt,
		LastRunAt:      t.LastRunAt,
		LastDurationMs: millis(t.LastDuration),
		RunCount:       t.RunCount,
		FailCount:      t.FailCount,
		LastError:      t.LastError,
		Stale:          scheduler.IsStale(t, now),
	}
}

func toExecutionResponse(e store.TaskExecution) api.ExecutionResponse {
	resp := api.ExecutionResponse{
		ID:          e.ID.String(),
		TaskID:      e.TaskID.String(),
		Status:      string(e.Status),
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		DurationMs:  millis(e.Duration),
		Error:       e.ErrorMessage,
	}
	if e.Result != nil {
		if raw, err := json.Marshal(e.Result); err == nil {
			resp.Result = raw
		}
	}
	return resp
}

func toProcessResponse(report *scheduler.ProcessReport) api.ProcessResponse {
	resp := api.ProcessResponse{
		Processed: report.Processed,
		Outcomes:  make([]api.TaskOutcomeResponse, 0, len(report.Outcomes)),
	}
	for _, o := range report.Outcomes {
		out := api.TaskOutcomeResponse{
			TaskID: o.TaskID.String(),
			Name:   o.Name,
			Status: string(o.Status),
			Error:  o.Error,
		}
		if o.ExecutionID != uuid.Nil {
			out.ExecutionID = o.ExecutionID.String()
		}
		resp.Outcomes = append(resp.Outcomes, out)
	}
	for _, t := range report.Stale {
		resp.Stale = append(resp.Stale, t.Name)
	}
	return resp
}
