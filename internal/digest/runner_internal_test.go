package digest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"fluxdigest/internal/domain"
	"fluxdigest/internal/provider"
	"fluxdigest/internal/push"
)

type stubConfigSource struct {
	providerCfg provider.Config
	sourceCfg   domain.SourceConfig
	err         error
}

func (s *stubConfigSource) ProviderConfig(_ context.Context) (provider.Config, error) {
	return s.providerCfg, s.err
}

func (s *stubConfigSource) SourceConfig(_ context.Context) (domain.SourceConfig, error) {
	return s.sourceCfg, s.err
}

type stubPusher struct {
	calls  int
	title  string
	result push.Result
}

func (p *stubPusher) Send(_ context.Context, _ domain.PushConfig, title, _ string) push.Result {
	p.calls++
	p.title = title

	return p.result
}

func testRunner(pusher *stubPusher) (*TaskRunner, *stubStore) {
	src := &stubSource{articles: sampleArticles(), scopeName: "All Subscriptions"}
	store := &stubStore{}
	g := testGenerator(src, store, []string{"digest text"}, nil)

	sourceCfg, providerCfg := validConfigs()
	cfgs := &stubConfigSource{providerCfg: providerCfg, sourceCfg: sourceCfg}

	return NewTaskRunner(cfgs, g, pusher, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func sampleTask(pushEnabled bool) domain.ScheduledTask {
	task := domain.ScheduledTask{
		ID:          1,
		Name:        "daily",
		Scope:       domain.ScopeAll,
		WindowHours: 24,
		Timezone:    "UTC",
	}

	if pushEnabled {
		task.PushEnabled = true
		task.Push = domain.PushConfig{URL: "https://hooks.slack.com/services/T/B/x"}
	}

	return task
}

func TestRunTaskGeneratesAndPushes(t *testing.T) {
	pusher := &stubPusher{result: push.Result{Success: true, Platform: "slack", Chunks: 1}}
	runner, store := testRunner(pusher)

	if err := runner.RunTask(context.Background(), sampleTask(true)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.lastSaved() == nil {
		t.Fatalf("digest not persisted")
	}

	if pusher.calls != 1 {
		t.Fatalf("unexpected push calls: %d", pusher.calls)
	}

	if pusher.title != store.lastSaved().Title {
		t.Fatalf("pushed title differs from saved digest title")
	}
}

func TestRunTaskSkipsPushWhenDisabled(t *testing.T) {
	pusher := &stubPusher{result: push.Result{Success: true}}
	runner, store := testRunner(pusher)

	if err := runner.RunTask(context.Background(), sampleTask(false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.lastSaved() == nil {
		t.Fatalf("digest not persisted")
	}

	if pusher.calls != 0 {
		t.Fatalf("push called for disabled task")
	}
}

func TestRunTaskFailsOnPushFailure(t *testing.T) {
	pusher := &stubPusher{result: push.Result{Success: false, Error: "webhook returned 500"}}
	runner, _ := testRunner(pusher)

	err := runner.RunTask(context.Background(), sampleTask(true))
	if err == nil || err.Error() != "push digest: webhook returned 500" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunTaskFailsOnConfigError(t *testing.T) {
	runner, _ := testRunner(&stubPusher{})
	runner.cfgs = &stubConfigSource{err: errors.New("no active config")}

	if err := runner.RunTask(context.Background(), sampleTask(false)); err == nil {
		t.Fatalf("expected error for missing configuration")
	}
}
