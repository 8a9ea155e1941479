package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/barbosaigor/investrack/internal/task"
	"github.com/barbosaigor/investrack/internal/transport/httpapi/middleware"
)

// TaskHandler exposes background-job history to the UI.
type TaskHandler struct {
	tasks task.Repository
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(tasks task.Repository) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// TaskResponse is one task history record.
type TaskResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	State       string  `json:"state"`
	DisplayText string  `json:"display_text,omitempty"`
	StartedAt   *string `json:"started_at,omitempty"`
	FinishedAt  *string `json:"finished_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func toTaskResponse(t *task.Task) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID.String(),
		Name:        t.Name,
		State:       string(t.State),
		DisplayText: t.DisplayText,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   t.UpdatedAt.Format(time.RFC3339),
	}
	if t.StartedAt != nil {
		started := t.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &started
	}
	if t.FinishedAt != nil {
		finished := t.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &finished
	}
	return resp
}

// ListTasks handles GET /tasks. With ?unnotified=true it returns only
// tasks awaiting acknowledgment, for notification polling.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var (
		tasks []*task.Task
		err   error
	)
	if r.URL.Query().Get("unnotified") == "true" {
		tasks, err = h.tasks.ListUnnotified(r.Context(), userID)
	} else {
		page, size := parsePagination(r)
		tasks, err = h.tasks.List(r.Context(), userID, page, size)
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	resp := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		resp[i] = toTaskResponse(t)
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// MarkNotifiedRequest acknowledges a batch of tasks.
type MarkNotifiedRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

// MarkNotified handles POST /tasks/notified
func (h *TaskHandler) MarkNotified(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req MarkNotifiedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		respondWithError(w, http.StatusBadRequest, "ids is required")
		return
	}

	if err := h.tasks.MarkNotified(r.Context(), userID, req.IDs, time.Now().UTC()); err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to acknowledge tasks")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}
