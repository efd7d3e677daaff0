package digest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"fluxdigest/internal/domain"
	"fluxdigest/internal/miniflux"
	"fluxdigest/internal/provider"
)

type stubSource struct {
	articles  []domain.Article
	listErr   error
	scopeName string
	lastQuery miniflux.Query
}

func (s *stubSource) ListRecentArticles(_ context.Context, q miniflux.Query) ([]domain.Article, error) {
	s.lastQuery = q

	return s.articles, s.listErr
}

func (s *stubSource) CountRecentArticles(_ context.Context, _ miniflux.Query) (int, error) {
	return len(s.articles), nil
}

func (s *stubSource) ResolveScopeName(_ context.Context, _ domain.Scope, _ int64) string {
	return s.scopeName
}

type stubStore struct {
	mu     sync.Mutex
	saved  []*domain.Digest
	tested error
}

func (s *stubStore) SaveDigest(_ context.Context, digest *domain.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tested != nil {
		return s.tested
	}

	s.saved = append(s.saved, digest)

	return nil
}

func (s *stubStore) lastSaved() *domain.Digest {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.saved) == 0 {
		return nil
	}

	return s.saved[len(s.saved)-1]
}

func fixedTime() time.Time {
	return time.Date(2025, 4, 15, 9, 30, 0, 0, time.UTC)
}

func testGenerator(src *stubSource, store *stubStore, deltas []string, collectErr error) *Generator {
	g := NewGenerator(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	g.newSource = func(_ domain.SourceConfig) Source { return src }
	g.now = fixedTime
	g.collect = func(_ context.Context, _ provider.Config, _ provider.ChatRequest) (string, error) {
		if collectErr != nil {
			return "", collectErr
		}

		return strings.Join(deltas, ""), nil
	}

	return g
}

func sampleArticles() []domain.Article {
	return []domain.Article{
		{
			ID:          1,
			Title:       "First",
			Content:     "<p>body one</p>",
			FeedID:      10,
			FeedTitle:   "Feed Ten",
			FeedSiteURL: "https://ten.example.com",
		},
		{
			ID:          2,
			Title:       "Second",
			Content:     "<p>body two</p>",
			FeedID:      20,
			FeedTitle:   "Feed Twenty",
			FeedSiteURL: "https://twenty.example.com",
		},
		{
			ID:          3,
			Title:       "Third",
			Content:     "<p>body three</p>",
			FeedID:      10,
			FeedTitle:   "Feed Ten",
			FeedSiteURL: "https://ten.example.com",
		},
	}
}

func validConfigs() (domain.SourceConfig, provider.Config) {
	return domain.SourceConfig{ServerURL: "https://rss.example.com", Token: "tok"},
		provider.Config{Provider: "openai", APIKey: "k", Model: "m"}
}

func TestGenerateAssemblesDigestFromStreamedDeltas(t *testing.T) {
	src := &stubSource{articles: sampleArticles(), scopeName: "All Subscriptions"}
	store := &stubStore{}
	g := testGenerator(src, store, []string{"A", "B", "C"}, nil)

	var progress []int

	sourceCfg, providerCfg := validConfigs()
	dg, err := g.Generate(context.Background(), sourceCfg, providerCfg, Options{
		Scope:    domain.ScopeAll,
		Hours:    24,
		Timezone: "UTC",
		Progress: func(p int) { progress = append(progress, p) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dg.Title != "All Subscriptions · Last 24h · Digest 04-15-09:30" {
		t.Fatalf("unexpected title: %q", dg.Title)
	}

	if !strings.HasPrefix(dg.Content, "ABC") {
		t.Fatalf("unexpected content prefix: %q", dg.Content)
	}

	appendix := "\n\n---\n\n**Sources**\n\n" +
		"- [Feed Ten](https://ten.example.com)\n" +
		"- [Feed Twenty](https://twenty.example.com)"
	if !strings.HasSuffix(dg.Content, appendix) {
		t.Fatalf("unexpected sources appendix:\n%q", dg.Content)
	}

	if strings.Count(dg.Content, "Feed Ten") != 1 {
		t.Fatalf("sources appendix not deduplicated by feed")
	}

	if dg.ArticleCount != 3 || dg.Scope != domain.ScopeAll || dg.WindowHours != 24 {
		t.Fatalf("unexpected digest metadata: %+v", dg)
	}

	if store.lastSaved() != dg {
		t.Fatalf("digest not persisted")
	}

	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Fatalf("unexpected progress reports: %v", progress)
	}
}

func TestGenerateEmptyWindowSavesPlaceholder(t *testing.T) {
	src := &stubSource{scopeName: "Tech"}
	store := &stubStore{}
	g := testGenerator(src, store, nil, errors.New("must not be called"))

	sourceCfg, providerCfg := validConfigs()
	dg, err := g.Generate(context.Background(), sourceCfg, providerCfg, Options{
		Scope:    domain.ScopeGroup,
		ScopeID:  5,
		Hours:    12,
		Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasSuffix(dg.Title, "(no articles)") {
		t.Fatalf("unexpected placeholder title: %q", dg.Title)
	}

	if !strings.Contains(dg.Content, "No articles were found for Tech") {
		t.Fatalf("unexpected placeholder content: %q", dg.Content)
	}

	if dg.ArticleCount != 0 {
		t.Fatalf("unexpected article count: %d", dg.ArticleCount)
	}

	if store.lastSaved() != dg {
		t.Fatalf("placeholder digest not persisted")
	}
}

func TestGenerateEmptyWindowIsRepeatable(t *testing.T) {
	src := &stubSource{scopeName: "Tech"}
	store := &stubStore{}
	g := testGenerator(src, store, nil, nil)

	sourceCfg, providerCfg := validConfigs()
	opts := Options{Scope: domain.ScopeAll, Hours: 12, Timezone: "UTC"}

	first, err := g.Generate(context.Background(), sourceCfg, providerCfg, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := g.Generate(context.Background(), sourceCfg, providerCfg, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.ID == second.ID {
		t.Fatalf("placeholder digests share an id")
	}

	if first.Title != second.Title || first.Content != second.Content {
		t.Fatalf("placeholder runs are not equivalent")
	}

	if len(store.saved) != 2 {
		t.Fatalf("expected 2 saved digests, got %d", len(store.saved))
	}
}

func TestGenerateAllTimeWindowLabel(t *testing.T) {
	src := &stubSource{articles: sampleArticles(), scopeName: "All Subscriptions"}
	store := &stubStore{}
	g := testGenerator(src, store, []string{"text"}, nil)

	sourceCfg, providerCfg := validConfigs()
	dg, err := g.Generate(context.Background(), sourceCfg, providerCfg, Options{
		Scope:    domain.ScopeAll,
		Hours:    0,
		Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(dg.Title, "· All time ·") {
		t.Fatalf("unexpected title: %q", dg.Title)
	}

	if src.lastQuery.Hours != 0 {
		t.Fatalf("unexpected query hours: %d", src.lastQuery.Hours)
	}
}

func TestGenerateRejectsMissingConfiguration(t *testing.T) {
	g := testGenerator(&stubSource{}, &stubStore{}, nil, nil)

	sourceCfg, providerCfg := validConfigs()

	if _, err := g.Generate(context.Background(), sourceCfg, provider.Config{}, Options{}); err == nil {
		t.Fatalf("expected error for missing provider config")
	}

	if _, err := g.Generate(context.Background(), domain.SourceConfig{}, providerCfg, Options{}); err == nil {
		t.Fatalf("expected error for missing source config")
	}
}

func TestGenerateScopedQueryCarriesIDs(t *testing.T) {
	src := &stubSource{articles: sampleArticles(), scopeName: "Feed Ten"}
	g := testGenerator(src, &stubStore{}, []string{"x"}, nil)

	sourceCfg, providerCfg := validConfigs()
	if _, err := g.Generate(context.Background(), sourceCfg, providerCfg, Options{
		Scope:      domain.ScopeFeed,
		ScopeID:    10,
		Hours:      24,
		UnreadOnly: true,
		Timezone:   "UTC",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if src.lastQuery.FeedID != 10 || src.lastQuery.GroupID != 0 {
		t.Fatalf("unexpected query ids: %+v", src.lastQuery)
	}

	if !src.lastQuery.UnreadOnly {
		t.Fatalf("unread filter not propagated")
	}
}

func TestGenerateTimeoutIsDistinctError(t *testing.T) {
	src := &stubSource{articles: sampleArticles(), scopeName: "All Subscriptions"}
	store := &stubStore{}

	g := testGenerator(src, store, nil, nil)
	g.timeout = time.Millisecond
	g.collect = func(ctx context.Context, _ provider.Config, _ provider.ChatRequest) (string, error) {
		<-ctx.Done()

		return "", ctx.Err()
	}

	sourceCfg, providerCfg := validConfigs()
	_, err := g.Generate(context.Background(), sourceCfg, providerCfg, Options{
		Scope: domain.ScopeAll,
		Hours: 24,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	if store.lastSaved() != nil {
		t.Fatalf("timed-out run persisted a digest")
	}
}

func TestGenerateEmptyProviderTextFails(t *testing.T) {
	src := &stubSource{articles: sampleArticles(), scopeName: "All Subscriptions"}
	store := &stubStore{}
	g := testGenerator(src, store, []string{"   \n"}, nil)

	sourceCfg, providerCfg := validConfigs()
	if _, err := g.Generate(context.Background(), sourceCfg, providerCfg, Options{
		Scope: domain.ScopeAll,
		Hours: 24,
	}); err == nil {
		t.Fatalf("expected error for empty provider text")
	}

	if store.lastSaved() != nil {
		t.Fatalf("empty digest persisted")
	}
}

func TestEstimatePreviewCountsWithoutProvider(t *testing.T) {
	src := &stubSource{articles: sampleArticles(), scopeName: "All Subscriptions"}
	g := testGenerator(src, &stubStore{}, nil, errors.New("provider must not be called"))

	sourceCfg, _ := validConfigs()
	preview, err := g.EstimatePreview(context.Background(), sourceCfg, Options{
		Scope: domain.ScopeAll,
		Hours: 24,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if preview.ArticleCount != 3 {
		t.Fatalf("unexpected article count: %d", preview.ArticleCount)
	}

	if preview.EstimatedTokens <= 0 {
		t.Fatalf("unexpected token estimate: %d", preview.EstimatedTokens)
	}
}
