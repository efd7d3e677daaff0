package server

import (
	"errors"
	"net/http"

	"fluxdigest/internal/domain"
	"fluxdigest/internal/provider"
	"fluxdigest/internal/settings"
)

// Credential fields never leave the server; responses only say whether one
// is stored.

func (s *Server) handleGetAISettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cfg, err := s.settings.ProviderConfig(ctx)
	if err != nil {
		if errors.Is(err, settings.ErrNoProviderConfig) {
			s.writeJSON(ctx, w, http.StatusOK, map[string]any{"configured": false})
			return
		}

		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())

		return
	}

	s.writeJSON(ctx, w, http.StatusOK, map[string]any{
		"configured": true,
		"provider":   cfg.Provider,
		"apiUrl":     cfg.APIURL,
		"model":      cfg.Model,
		"hasKey":     cfg.APIKey != "",
	})
}

func (s *Server) handlePutAISettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Provider string `json:"provider"`
		APIURL   string `json:"apiUrl"`
		APIKey   string `json:"apiKey"`
		Model    string `json:"model"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	err := s.settings.SaveProviderConfig(ctx, provider.Config{
		Provider: req.Provider,
		APIURL:   req.APIURL,
		APIKey:   req.APIKey,
		Model:    req.Model,
	})
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleTestAISettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Provider string `json:"provider"`
		APIURL   string `json:"apiUrl"`
		APIKey   string `json:"apiKey"`
		Model    string `json:"model"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := provider.Config{
		Provider: req.Provider,
		APIURL:   req.APIURL,
		APIKey:   req.APIKey,
		Model:    req.Model,
	}

	// Fall back to the stored key so a saved config can be re-tested
	// without re-entering the credential.
	if cfg.APIKey == "" {
		stored, err := s.settings.ProviderConfig(ctx)
		if err == nil {
			cfg.APIKey = stored.APIKey
		}
	}

	ok, message := provider.TestConnection(ctx, cfg)

	s.writeJSON(ctx, w, http.StatusOK, map[string]any{
		"success": ok,
		"message": message,
	})
}

func (s *Server) handleGetMinifluxSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cfg, err := s.settings.SourceConfig(ctx)
	if err != nil {
		if errors.Is(err, settings.ErrNoSourceConfig) {
			s.writeJSON(ctx, w, http.StatusOK, map[string]any{"configured": false})
			return
		}

		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())

		return
	}

	s.writeJSON(ctx, w, http.StatusOK, map[string]any{
		"configured": true,
		"serverUrl":  cfg.ServerURL,
		"hasToken":   cfg.Token != "",
	})
}

func (s *Server) handlePutMinifluxSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		ServerURL string `json:"serverUrl"`
		Token     string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	if req.ServerURL == "" {
		s.writeError(ctx, w, http.StatusBadRequest, "server URL is required")
		return
	}

	err := s.settings.SaveSourceConfig(ctx, domain.SourceConfig{
		ServerURL: req.ServerURL,
		Token:     req.Token,
	})
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "saved"})
}
