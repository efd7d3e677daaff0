package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fluxdigest/internal/domain"
	"fluxdigest/internal/scheduler"
)

type taskRequest struct {
	Name        string `json:"name"`
	Scope       string `json:"scope"`
	ScopeID     int64  `json:"scopeId"`
	ScopeName   string `json:"scopeName"`
	WindowHours int    `json:"windowHours"`
	TargetLang  string `json:"targetLang"`
	UnreadOnly  bool   `json:"unreadOnly"`
	PushEnabled bool   `json:"pushEnabled"`
	PushURL     string `json:"pushUrl"`
	PushMethod  string `json:"pushMethod"`
	PushBody    string `json:"pushBody"`
	CronExpr    string `json:"cronExpr"`
	Timezone    string `json:"timezone"`
	IsActive    *bool  `json:"isActive"`
}

func (r taskRequest) task() domain.ScheduledTask {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}

	return domain.ScheduledTask{
		Name:           r.Name,
		Scope:          domain.Scope(r.Scope),
		ScopeID:        r.ScopeID,
		ScopeName:      r.ScopeName,
		WindowHours:    r.WindowHours,
		TargetLanguage: r.TargetLang,
		UnreadOnly:     r.UnreadOnly,
		PushEnabled:    r.PushEnabled,
		Push: domain.PushConfig{
			URL:          r.PushURL,
			Method:       r.PushMethod,
			BodyTemplate: r.PushBody,
		},
		CronExpr: r.CronExpr,
		Timezone: r.Timezone,
		IsActive: active,
	}
}

func taskIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tasks, err := s.db.ListTasks(ctx)
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, toTaskResponse(t))
	}

	s.writeJSON(ctx, w, http.StatusOK, resp)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req taskRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	task := req.task()
	if !task.Scope.Valid() {
		s.writeError(ctx, w, http.StatusBadRequest, "invalid scope")
		return
	}

	if err := s.sched.CreateTask(ctx, &task); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(ctx, w, http.StatusCreated, map[string]any{
		"id":        task.ID,
		"nextRunAt": task.NextRunAt,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := taskIDParam(r)
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, "invalid task id")
		return
	}

	task, err := s.db.GetTask(ctx, id)
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		s.writeError(ctx, w, http.StatusNotFound, "task not found")
		return
	}

	s.writeJSON(ctx, w, http.StatusOK, toTaskResponse(*task))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := taskIDParam(r)
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, "invalid task id")
		return
	}

	existing, err := s.db.GetTask(ctx, id)
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	if existing == nil {
		s.writeError(ctx, w, http.StatusNotFound, "task not found")
		return
	}

	var req taskRequest
	if err = decodeJSON(r, &req); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	task := req.task()
	task.ID = id
	if !task.Scope.Valid() {
		s.writeError(ctx, w, http.StatusBadRequest, "invalid scope")
		return
	}

	if err = s.sched.UpdateTask(ctx, &task); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(ctx, w, http.StatusOK, map[string]any{
		"id":        task.ID,
		"nextRunAt": task.NextRunAt,
	})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := taskIDParam(r)
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, "invalid task id")
		return
	}

	if err = s.sched.DeleteTask(ctx, id); err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleEnableTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := taskIDParam(r)
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, "invalid task id")
		return
	}

	if err = s.sched.EnableTask(ctx, id); err != nil {
		s.writeError(ctx, w, s.taskStatus(err), err.Error())
		return
	}

	s.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (s *Server) handleDisableTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := taskIDParam(r)
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, "invalid task id")
		return
	}

	if err = s.sched.DisableTask(ctx, id); err != nil {
		s.writeError(ctx, w, s.taskStatus(err), err.Error())
		return
	}

	s.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := taskIDParam(r)
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, "invalid task id")
		return
	}

	if err = s.sched.RunTaskNow(ctx, id); err != nil {
		s.writeError(ctx, w, s.taskStatus(err), err.Error())
		return
	}

	s.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) taskStatus(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrTaskRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
