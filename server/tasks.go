package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// orderGap leaves room between order values so a task can be reordered
// between two neighbours without renumbering the list.
const orderGap = 1000

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// updateTaskRequest distinguishes absent fields from explicit zero values,
// so a client can set completed=false without touching anything else.
type updateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
	Priority    *bool   `json:"priority"`
	Archived    *bool   `json:"archived"`
	Order       *int64  `json:"order"`
}

// handleListTasks returns the user's non-archived tasks sorted by order.
func (a *App) handleListTasks(w http.ResponseWriter, r *http.Request) {
	info, _ := AuthFromContext(r.Context())

	all, err := a.Store.ListTasks(r.Context(), info.User.UserID)
	if err != nil {
		a.Logger.Error("list tasks failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch tasks")
		return
	}

	tasks := make([]Task, 0, len(all))
	for _, task := range all {
		if !task.Archived {
			tasks = append(tasks, task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Order < tasks[j].Order })

	writeJSON(w, http.StatusOK, tasks)
}

// handleCreateTask inserts a task at the top of the list.
func (a *App) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	info, _ := AuthFromContext(r.Context())

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, http.StatusBadRequest, "Title is required")
		return
	}

	existing, err := a.Store.ListTasks(r.Context(), info.User.UserID)
	if err != nil {
		a.Logger.Error("list tasks failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}

	var highest int64
	for _, task := range existing {
		if !task.Archived && task.Order > highest {
			highest = task.Order
		}
	}

	now := time.Now()
	task := Task{
		TaskID:      uuid.New().String(),
		UserID:      info.User.UserID,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Order:       highest + orderGap,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := a.Store.PutTask(r.Context(), task); err != nil {
		a.Logger.Error("create task failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

// handleUpdateTask applies a partial update and returns the result.
func (a *App) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	info, _ := AuthFromContext(r.Context())
	taskID := chi.URLParam(r, "id")

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	task, err := a.Store.GetTask(r.Context(), info.User.UserID, taskID)
	if notFoundErr(err) {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		a.Logger.Error("load task failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update task")
		return
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			writeError(w, http.StatusBadRequest, "Title cannot be empty")
			return
		}
		task.Title = title
	}
	if req.Description != nil {
		task.Description = strings.TrimSpace(*req.Description)
	}
	if req.Completed != nil {
		task.Completed = *req.Completed
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if req.Archived != nil {
		task.Archived = *req.Archived
	}
	if req.Order != nil {
		task.Order = *req.Order
	}
	task.UpdatedAt = time.Now()

	if err := a.Store.PutTask(r.Context(), task); err != nil {
		a.Logger.Error("update task failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update task")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// handleDeleteTask archives the task rather than removing the document.
func (a *App) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	info, _ := AuthFromContext(r.Context())
	taskID := chi.URLParam(r, "id")

	task, err := a.Store.GetTask(r.Context(), info.User.UserID, taskID)
	if notFoundErr(err) {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		a.Logger.Error("load task failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete task")
		return
	}

	task.Archived = true
	task.UpdatedAt = time.Now()

	if err := a.Store.PutTask(r.Context(), task); err != nil {
		a.Logger.Error("delete task failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete task")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
