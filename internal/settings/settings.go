// Package settings owns the provider and feed-backend configuration records,
// keeping credentials encrypted at rest and decrypting only on read.
package settings

import (
	"context"
	"errors"
	"fmt"

	"fluxdigest/internal/database"
	"fluxdigest/internal/domain"
	"fluxdigest/internal/provider"
	"fluxdigest/internal/vault"
)

var (
	ErrNoProviderConfig = errors.New("no active AI provider is configured")
	ErrNoSourceConfig   = errors.New("no active feed backend is configured")
)

type Service struct {
	db    *database.Database
	vault vault.Vault
}

func NewService(db *database.Database, v vault.Vault) *Service {
	return &Service{db: db, vault: v}
}

// ProviderConfig returns the active provider record with the key decrypted.
func (s *Service) ProviderConfig(ctx context.Context) (provider.Config, error) {
	row, err := s.db.ActiveAIConfig(ctx)
	if err != nil {
		return provider.Config{}, fmt.Errorf("load AI config: %w", err)
	}
	if row == nil {
		return provider.Config{}, ErrNoProviderConfig
	}

	apiKey, err := s.vault.Decrypt(row.APIKey)
	if err != nil {
		return provider.Config{}, fmt.Errorf("decrypt API key: %w", err)
	}

	return provider.Config{
		Provider: row.Provider,
		APIURL:   row.APIURL,
		APIKey:   apiKey,
		Model:    row.Model,
	}, nil
}

// SourceConfig returns the active feed-backend record with the credential
// decrypted.
func (s *Service) SourceConfig(ctx context.Context) (domain.SourceConfig, error) {
	row, err := s.db.ActiveMinifluxConfig(ctx)
	if err != nil {
		return domain.SourceConfig{}, fmt.Errorf("load miniflux config: %w", err)
	}
	if row == nil {
		return domain.SourceConfig{}, ErrNoSourceConfig
	}

	token, err := s.vault.Decrypt(row.Token)
	if err != nil {
		return domain.SourceConfig{}, fmt.Errorf("decrypt token: %w", err)
	}

	return domain.SourceConfig{
		ServerURL: row.ServerURL,
		Token:     token,
	}, nil
}

// SaveProviderConfig encrypts the key and replaces the active record. An
// empty key keeps the stored one.
func (s *Service) SaveProviderConfig(ctx context.Context, cfg provider.Config) error {
	encrypted := ""

	if cfg.APIKey != "" {
		var err error
		encrypted, err = s.vault.Encrypt(cfg.APIKey)
		if err != nil {
			return fmt.Errorf("encrypt API key: %w", err)
		}
	} else if row, err := s.db.ActiveAIConfig(ctx); err == nil && row != nil {
		encrypted = row.APIKey
	}

	return s.db.UpsertAIConfig(ctx, &database.AIConfigRow{
		Provider: cfg.Provider,
		APIURL:   cfg.APIURL,
		APIKey:   encrypted,
		Model:    cfg.Model,
		IsActive: true,
	})
}

// SaveSourceConfig encrypts the credential and replaces the active record.
// An empty credential keeps the stored one.
func (s *Service) SaveSourceConfig(ctx context.Context, cfg domain.SourceConfig) error {
	encrypted := ""

	if cfg.Token != "" {
		var err error
		encrypted, err = s.vault.Encrypt(cfg.Token)
		if err != nil {
			return fmt.Errorf("encrypt token: %w", err)
		}
	} else if row, err := s.db.ActiveMinifluxConfig(ctx); err == nil && row != nil {
		encrypted = row.Token
	}

	return s.db.UpsertMinifluxConfig(ctx, &database.MinifluxConfigRow{
		ServerURL: cfg.ServerURL,
		Token:     encrypted,
		IsActive:  true,
	})
}
