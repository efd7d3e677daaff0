package digest

import (
	"context"
	"fmt"
	"log/slog"

	"fluxdigest/internal/domain"
	"fluxdigest/internal/provider"
	"fluxdigest/internal/push"
)

// ConfigSource resolves the active provider and feed-backend configuration
// fresh for every run.
type ConfigSource interface {
	ProviderConfig(ctx context.Context) (provider.Config, error)
	SourceConfig(ctx context.Context) (domain.SourceConfig, error)
}

// Pusher delivers a finished digest to a webhook.
type Pusher interface {
	Send(ctx context.Context, cfg domain.PushConfig, title, content string) push.Result
}

// TaskRunner executes one scheduled task end to end: generate, then push
// when the task asks for it.
type TaskRunner struct {
	cfgs   ConfigSource
	gen    *Generator
	pusher Pusher
	log    *slog.Logger
}

func NewTaskRunner(cfgs ConfigSource, gen *Generator, pusher Pusher, log *slog.Logger) *TaskRunner {
	return &TaskRunner{
		cfgs:   cfgs,
		gen:    gen,
		pusher: pusher,
		log:    log,
	}
}

func (r *TaskRunner) RunTask(ctx context.Context, task domain.ScheduledTask) error {
	providerCfg, err := r.cfgs.ProviderConfig(ctx)
	if err != nil {
		return fmt.Errorf("resolve provider config: %w", err)
	}

	sourceCfg, err := r.cfgs.SourceConfig(ctx)
	if err != nil {
		return fmt.Errorf("resolve source config: %w", err)
	}

	dg, err := r.gen.Generate(ctx, sourceCfg, providerCfg, Options{
		Scope:          task.Scope,
		ScopeID:        task.ScopeID,
		Hours:          task.WindowHours,
		TargetLanguage: task.TargetLanguage,
		UnreadOnly:     task.UnreadOnly,
		Timezone:       task.Timezone,
	})
	if err != nil {
		return fmt.Errorf("generate digest: %w", err)
	}

	if !task.PushEnabled || task.Push.URL == "" {
		return nil
	}

	result := r.pusher.Send(ctx, task.Push, dg.Title, dg.Content)
	if !result.Success {
		return fmt.Errorf("push digest: %s", result.Error)
	}

	r.log.InfoContext(ctx, "Task digest is pushed",
		"taskID", task.ID,
		"digestID", dg.ID,
		"platform", result.Platform,
		"chunks", result.Chunks)

	return nil
}
