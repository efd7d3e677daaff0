// Package server exposes the HTTP API consumed by the reader UI.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fluxdigest/internal/database"
	"fluxdigest/internal/digest"
	"fluxdigest/internal/domain"
	"fluxdigest/internal/jobs"
	"fluxdigest/internal/push"
	"fluxdigest/internal/scheduler"
	"fluxdigest/internal/settings"
)

type Server struct {
	db         *database.Database
	settings   *settings.Service
	gen        *digest.Generator
	jobs       jobs.Store
	sched      *scheduler.Scheduler
	dispatcher *push.Dispatcher
	router     chi.Router
	log        *slog.Logger
}

func New(
	db *database.Database,
	settingsSvc *settings.Service,
	gen *digest.Generator,
	jobStore jobs.Store,
	sched *scheduler.Scheduler,
	dispatcher *push.Dispatcher,
	log *slog.Logger,
) *Server {
	s := &Server{
		db:         db,
		settings:   settingsSvc,
		gen:        gen,
		jobs:       jobStore,
		sched:      sched,
		dispatcher: dispatcher,
		log:        log,
	}
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/digests", func(r chi.Router) {
			r.Post("/generate", s.handleGenerate)
			r.Get("/jobs/{jobID}", s.handleGetJob)
			r.Post("/preview", s.handlePreview)

			r.Get("/", s.handleListDigests)
			r.Get("/{digestID}", s.handleGetDigest)
			r.Put("/{digestID}", s.handleUpdateDigest)
			r.Delete("/{digestID}", s.handleDeleteDigest)
			r.Post("/{digestID}/read", s.handleSetDigestRead)
			r.Post("/{digestID}/push", s.handlePushDigest)
		})

		r.Route("/schedule", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Get("/{taskID}", s.handleGetTask)
			r.Put("/{taskID}", s.handleUpdateTask)
			r.Delete("/{taskID}", s.handleDeleteTask)
			r.Post("/{taskID}/enable", s.handleEnableTask)
			r.Post("/{taskID}/disable", s.handleDisableTask)
			r.Post("/{taskID}/run", s.handleRunTask)
		})

		r.Post("/ai/chat", s.handleChat)

		r.Route("/settings", func(r chi.Router) {
			r.Get("/ai", s.handleGetAISettings)
			r.Put("/ai", s.handlePutAISettings)
			r.Post("/ai/test", s.handleTestAISettings)
			r.Get("/miniflux", s.handleGetMinifluxSettings)
			r.Put("/miniflux", s.handlePutMinifluxSettings)
		})
	})

	s.router = r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.ErrorContext(ctx, "Failed to encode response",
			"error", err)
	}
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	s.writeJSON(ctx, w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}

	return nil
}

// configStatus maps missing-config errors to 400 and everything else to 500.
func (s *Server) configStatus(err error) int {
	if errors.Is(err, settings.ErrNoProviderConfig) || errors.Is(err, settings.ErrNoSourceConfig) {
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}

type digestResponse struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Scope          string    `json:"scope"`
	ScopeID        int64     `json:"scopeId"`
	ScopeName      string    `json:"scopeName"`
	ArticleCount   int       `json:"articleCount"`
	WindowHours    int       `json:"windowHours"`
	TargetLanguage string    `json:"targetLanguage"`
	IsRead         bool      `json:"isRead"`
	GeneratedAt    time.Time `json:"generatedAt"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toDigestResponse(d domain.Digest) digestResponse {
	return digestResponse{
		ID:             d.ID,
		Title:          d.Title,
		Content:        d.Content,
		Scope:          string(d.Scope),
		ScopeID:        d.ScopeID,
		ScopeName:      d.ScopeName,
		ArticleCount:   d.ArticleCount,
		WindowHours:    d.WindowHours,
		TargetLanguage: d.TargetLanguage,
		IsRead:         d.IsRead,
		GeneratedAt:    d.GeneratedAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

type taskResponse struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Scope          string     `json:"scope"`
	ScopeID        int64      `json:"scopeId"`
	ScopeName      string     `json:"scopeName"`
	WindowHours    int        `json:"windowHours"`
	TargetLanguage string     `json:"targetLanguage"`
	UnreadOnly     bool       `json:"unreadOnly"`
	PushEnabled    bool       `json:"pushEnabled"`
	PushURL        string     `json:"pushUrl"`
	PushMethod     string     `json:"pushMethod"`
	PushBody       string     `json:"pushBody"`
	CronExpr       string     `json:"cronExpr"`
	Timezone       string     `json:"timezone"`
	IsActive       bool       `json:"isActive"`
	LastRunAt      *time.Time `json:"lastRunAt"`
	NextRunAt      *time.Time `json:"nextRunAt"`
	LastError      string     `json:"lastError"`
}

func toTaskResponse(t domain.ScheduledTask) taskResponse {
	return taskResponse{
		ID:             t.ID,
		Name:           t.Name,
		Scope:          string(t.Scope),
		ScopeID:        t.ScopeID,
		ScopeName:      t.ScopeName,
		WindowHours:    t.WindowHours,
		TargetLanguage: t.TargetLanguage,
		UnreadOnly:     t.UnreadOnly,
		PushEnabled:    t.PushEnabled,
		PushURL:        t.Push.URL,
		PushMethod:     t.Push.Method,
		PushBody:       t.Push.BodyTemplate,
		CronExpr:       t.CronExpr,
		Timezone:       t.Timezone,
		IsActive:       t.IsActive,
		LastRunAt:      t.LastRunAt,
		NextRunAt:      t.NextRunAt,
		LastError:      t.LastError,
	}
}
