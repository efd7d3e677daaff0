package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"fluxdigest/internal/digest"
	"fluxdigest/internal/domain"
	"fluxdigest/internal/jobs"
	"fluxdigest/internal/provider"
)

type generateRequest struct {
	Scope        string `json:"scope"`
	FeedID       int64  `json:"feedId"`
	GroupID      int64  `json:"groupId"`
	Hours        int    `json:"hours"`
	TargetLang   string `json:"targetLang"`
	UnreadOnly   bool   `json:"unreadOnly"`
	CustomPrompt string `json:"customPrompt"`
	Timezone     string `json:"timezone"`
	PushConfig   *struct {
		URL    string `json:"url"`
		Method string `json:"method"`
		Body   string `json:"body"`
	} `json:"pushConfig"`
}

func (r generateRequest) options() digest.Options {
	scope := domain.Scope(r.Scope)

	opts := digest.Options{
		Scope:          scope,
		Hours:          r.Hours,
		TargetLanguage: r.TargetLang,
		UnreadOnly:     r.UnreadOnly,
		CustomPrompt:   r.CustomPrompt,
		Timezone:       r.Timezone,
	}

	switch scope {
	case domain.ScopeFeed:
		opts.ScopeID = r.FeedID
	case domain.ScopeGroup:
		opts.ScopeID = r.GroupID
	}

	return opts
}

// handleGenerate starts async generation and returns immediately with a job
// id. The background task cannot be cancelled, only abandoned.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	if !domain.Scope(req.Scope).Valid() {
		s.writeError(ctx, w, http.StatusBadRequest, "invalid scope")
		return
	}

	providerCfg, err := s.settings.ProviderConfig(ctx)
	if err != nil {
		s.writeError(ctx, w, s.configStatus(err), err.Error())
		return
	}

	sourceCfg, err := s.settings.SourceConfig(ctx)
	if err != nil {
		s.writeError(ctx, w, s.configStatus(err), err.Error())
		return
	}

	job := s.jobs.Create()

	go s.runGenerationJob(job, sourceCfg, providerCfg, req)

	s.writeJSON(ctx, w, http.StatusAccepted, map[string]any{
		"jobId":  job.ID(),
		"status": jobs.StatusPending,
	})
}

func (s *Server) runGenerationJob(
	job *jobs.Job,
	sourceCfg domain.SourceConfig,
	providerCfg provider.Config,
	req generateRequest,
) {
	// Detached from the request: the handler has already returned.
	ctx := context.Background()

	opts := req.options()
	opts.Progress = job.SetGenerating

	dg, err := s.gen.Generate(ctx, sourceCfg, providerCfg, opts)
	if err != nil {
		s.log.ErrorContext(ctx, "Generation job failed",
			"error", err,
			"jobID", job.ID(),
			"scope", req.Scope)
		job.Fail(err.Error())

		return
	}

	if req.PushConfig != nil && req.PushConfig.URL != "" {
		result := s.dispatcher.Send(ctx, domain.PushConfig{
			URL:          req.PushConfig.URL,
			Method:       req.PushConfig.Method,
			BodyTemplate: req.PushConfig.Body,
		}, dg.Title, dg.Content)
		if !result.Success {
			s.log.WarnContext(ctx, "Post-generation push failed",
				"jobID", job.ID(),
				"digestID", dg.ID,
				"platform", result.Platform,
				"pushError", result.Error)
		}
	}

	job.Complete(dg)
}

// handleGetJob serves pollers. A missing job gets one answer whether it
// expired or never existed.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	job := s.jobs.Get(chi.URLParam(r, "jobID"))
	if job == nil {
		s.writeError(ctx, w, http.StatusNotFound, "job not found or expired")
		return
	}

	view := job.Snapshot()

	resp := map[string]any{
		"status":   view.Status,
		"progress": view.Progress,
	}
	if view.Error != "" {
		resp["error"] = view.Error
	}
	if view.Digest != nil {
		resp["digest"] = toDigestResponse(*view.Digest)
	}

	s.writeJSON(ctx, w, http.StatusOK, resp)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	if !domain.Scope(req.Scope).Valid() {
		s.writeError(ctx, w, http.StatusBadRequest, "invalid scope")
		return
	}

	sourceCfg, err := s.settings.SourceConfig(ctx)
	if err != nil {
		s.writeError(ctx, w, s.configStatus(err), err.Error())
		return
	}

	preview, err := s.gen.EstimatePreview(ctx, sourceCfg, req.options())
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(ctx, w, http.StatusOK, preview)
}

func (s *Server) handleListDigests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	digests, err := s.db.ListDigests(ctx)
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]digestResponse, 0, len(digests))
	for _, d := range digests {
		resp = append(resp, toDigestResponse(d))
	}

	s.writeJSON(ctx, w, http.StatusOK, resp)
}

func (s *Server) handleGetDigest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dg, err := s.db.GetDigest(ctx, chi.URLParam(r, "digestID"))
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	if dg == nil {
		s.writeError(ctx, w, http.StatusNotFound, "digest not found")
		return
	}

	s.writeJSON(ctx, w, http.StatusOK, toDigestResponse(*dg))
}

func (s *Server) handleUpdateDigest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "digestID")

	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		s.writeError(ctx, w, http.StatusBadRequest, "content must not be empty")
		return
	}

	if err := s.db.UpdateDigestContent(ctx, id, req.Title, req.Content); err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteDigest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.db.DeleteDigest(ctx, chi.URLParam(r, "digestID")); err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSetDigestRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		IsRead bool `json:"isRead"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.db.SetDigestRead(ctx, chi.URLParam(r, "digestID"), req.IsRead); err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handlePushDigest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		URL    string `json:"url"`
		Method string `json:"method"`
		Body   string `json:"body"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	if req.URL == "" {
		s.writeError(ctx, w, http.StatusBadRequest, "push URL is required")
		return
	}

	dg, err := s.db.GetDigest(ctx, chi.URLParam(r, "digestID"))
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	if dg == nil {
		s.writeError(ctx, w, http.StatusNotFound, "digest not found")
		return
	}

	result := s.dispatcher.Send(ctx, domain.PushConfig{
		URL:          req.URL,
		Method:       req.Method,
		BodyTemplate: req.Body,
	}, dg.Title, dg.Content)

	s.writeJSON(ctx, w, http.StatusOK, result)
}

// handleChat proxies one chat request as canonical SSE. The client closing
// the connection cancels the provider call through the request context.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Model       string                 `json:"model"`
		Messages    []provider.ChatMessage `json:"messages"`
		Stream      bool                   `json:"stream"`
		Temperature *float64               `json:"temperature"`
		MaxTokens   int64                  `json:"maxTokens"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	if len(req.Messages) == 0 {
		s.writeError(ctx, w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	providerCfg, err := s.settings.ProviderConfig(ctx)
	if err != nil {
		s.writeError(ctx, w, s.configStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	err = provider.SendChat(ctx, providerCfg, provider.ChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}, w)
	if err != nil {
		// Headers are out; surface the failure inside the stream.
		s.log.ErrorContext(ctx, "Chat proxy failed",
			"error", err,
			"provider", providerCfg.Provider)
		_, _ = w.Write([]byte("data: {\"error\": " + jsonString(err.Error()) + "}\n\n"))
	}
}

func jsonString(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		return `""`
	}

	return string(encoded)
}
