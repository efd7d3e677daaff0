// Package digest orchestrates fetching, preparation, prompt composition, the
// provider call, and persistence into one generated document.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"fluxdigest/internal/content"
	"fluxdigest/internal/domain"
	"fluxdigest/internal/miniflux"
	"fluxdigest/internal/prompt"
	"fluxdigest/internal/provider"
)

// generationTimeout bounds the AI call. The source fetch and push dispatch
// ride on transport-level defaults.
const generationTimeout = 10 * time.Minute

// ErrTimeout marks an AI call that exceeded the hard bound, distinct from a
// generic upstream failure.
var ErrTimeout = errors.New("AI request timed out")

// Source is the article backend surface the generator needs.
type Source interface {
	ListRecentArticles(ctx context.Context, q miniflux.Query) ([]domain.Article, error)
	CountRecentArticles(ctx context.Context, q miniflux.Query) (int, error)
	ResolveScopeName(ctx context.Context, scope domain.Scope, id int64) string
}

// Store persists finished digests.
type Store interface {
	SaveDigest(ctx context.Context, digest *domain.Digest) error
}

type Generator struct {
	store     Store
	newSource func(cfg domain.SourceConfig) Source
	collect   func(ctx context.Context, cfg provider.Config, req provider.ChatRequest) (string, error)
	now       func() time.Time
	timeout   time.Duration
	log       *slog.Logger
}

func NewGenerator(store Store, log *slog.Logger) *Generator {
	return &Generator{
		store: store,
		newSource: func(cfg domain.SourceConfig) Source {
			return miniflux.NewClient(cfg, log)
		},
		collect: provider.Collect,
		now:     time.Now,
		timeout: generationTimeout,
		log:     log,
	}
}

// Options selects what one generation run covers.
type Options struct {
	Scope          domain.Scope
	ScopeID        int64
	Hours          int
	TargetLanguage string
	UnreadOnly     bool
	CustomPrompt   string
	Timezone       string
	Progress       func(percent int)
}

// Generate runs the whole pipeline and persists the result. Zero matching
// articles is not an error: a placeholder digest is synthesized instead.
func (g *Generator) Generate(
	ctx context.Context,
	sourceCfg domain.SourceConfig,
	providerCfg provider.Config,
	opts Options,
) (*domain.Digest, error) {
	if strings.TrimSpace(providerCfg.APIKey) == "" || strings.TrimSpace(providerCfg.Model) == "" {
		return nil, errors.New("AI provider is not configured")
	}

	if strings.TrimSpace(sourceCfg.ServerURL) == "" {
		return nil, errors.New("feed backend is not configured")
	}

	report := func(percent int) {
		if opts.Progress != nil {
			opts.Progress(percent)
		}
	}

	src := g.newSource(sourceCfg)

	scopeName := src.ResolveScopeName(ctx, opts.Scope, opts.ScopeID)
	report(10)

	articles, err := src.ListRecentArticles(ctx, g.query(opts))
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	report(30)

	if len(articles) == 0 {
		dg := g.placeholderDigest(scopeName, opts)
		if err = g.store.SaveDigest(ctx, dg); err != nil {
			return nil, fmt.Errorf("save digest: %w", err)
		}

		g.log.InfoContext(ctx, "No articles in window, placeholder digest saved",
			"digestID", dg.ID,
			"scope", opts.Scope,
			"windowHours", opts.Hours)
		report(100)

		return dg, nil
	}

	prepared, err := content.Prepare(ctx, articles)
	if err != nil {
		return nil, err
	}
	report(50)

	promptText := prompt.Compose(prepared, prompt.Options{
		TargetLanguage: opts.TargetLanguage,
		ScopeName:      scopeName,
		Template:       opts.CustomPrompt,
	})

	aiCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text, err := g.collect(aiCtx, providerCfg, provider.ChatRequest{
		Model:    providerCfg.Model,
		Messages: []provider.ChatMessage{{Role: "user", Content: promptText}},
		Stream:   true,
	})
	if err != nil {
		if errors.Is(aiCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		}

		return nil, fmt.Errorf("provider request: %w", err)
	}
	report(90)

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty response from provider")
	}

	dg := &domain.Digest{
		ID:             uuid.NewString(),
		Title:          g.title(scopeName, opts, false),
		Content:        text + sourcesAppendix(articles),
		Scope:          opts.Scope,
		ScopeID:        opts.ScopeID,
		ScopeName:      scopeName,
		ArticleCount:   len(articles),
		WindowHours:    opts.Hours,
		TargetLanguage: opts.TargetLanguage,
		GeneratedAt:    g.now(),
	}

	if err = g.store.SaveDigest(ctx, dg); err != nil {
		return nil, fmt.Errorf("save digest: %w", err)
	}

	g.log.InfoContext(ctx, "Digest is generated",
		"digestID", dg.ID,
		"scope", opts.Scope,
		"articleCount", dg.ArticleCount,
		"windowHours", opts.Hours)
	report(100)

	return dg, nil
}

// Preview estimates one run without calling the provider.
type Preview struct {
	ArticleCount    int `json:"articleCount"`
	EstimatedTokens int `json:"estimatedTokens"`
}

func (g *Generator) EstimatePreview(
	ctx context.Context,
	sourceCfg domain.SourceConfig,
	opts Options,
) (*Preview, error) {
	if strings.TrimSpace(sourceCfg.ServerURL) == "" {
		return nil, errors.New("feed backend is not configured")
	}

	src := g.newSource(sourceCfg)

	articles, err := src.ListRecentArticles(ctx, g.query(opts))
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}

	prepared, err := content.Prepare(ctx, articles)
	if err != nil {
		return nil, err
	}

	promptText := prompt.Compose(prepared, prompt.Options{
		TargetLanguage: opts.TargetLanguage,
		ScopeName:      src.ResolveScopeName(ctx, opts.Scope, opts.ScopeID),
		Template:       opts.CustomPrompt,
	})

	return &Preview{
		ArticleCount:    len(articles),
		EstimatedTokens: int(math.Ceil(content.EstimateTokens(promptText))),
	}, nil
}

func (g *Generator) query(opts Options) miniflux.Query {
	q := miniflux.Query{
		Hours:      opts.Hours,
		Scope:      opts.Scope,
		UnreadOnly: opts.UnreadOnly,
	}

	switch opts.Scope {
	case domain.ScopeFeed:
		q.FeedID = opts.ScopeID
	case domain.ScopeGroup:
		q.GroupID = opts.ScopeID
	}

	return q
}

func (g *Generator) placeholderDigest(scopeName string, opts Options) *domain.Digest {
	windowLabel := windowLabel(opts.Hours)

	return &domain.Digest{
		ID:        uuid.NewString(),
		Title:     g.title(scopeName, opts, true),
		Content: fmt.Sprintf(
			"No articles were found for %s within the selected window (%s). "+
				"Widen the time window or wait for new entries.",
			scopeName, windowLabel),
		Scope:          opts.Scope,
		ScopeID:        opts.ScopeID,
		ScopeName:      scopeName,
		ArticleCount:   0,
		WindowHours:    opts.Hours,
		TargetLanguage: opts.TargetLanguage,
		GeneratedAt:    g.now(),
	}
}

func (g *Generator) title(scopeName string, opts Options, empty bool) string {
	loc := time.Local
	if tz := strings.TrimSpace(opts.Timezone); tz != "" {
		if parsed, err := time.LoadLocation(tz); err == nil {
			loc = parsed
		}
	}

	title := fmt.Sprintf("%s · %s · Digest %s",
		scopeName,
		windowLabel(opts.Hours),
		g.now().In(loc).Format("01-02-15:04"))

	if empty {
		title += " (no articles)"
	}

	return title
}

func windowLabel(hours int) string {
	if hours <= 0 {
		return "All time"
	}

	return fmt.Sprintf("Last %dh", hours)
}

// sourcesAppendix lists each contributing feed once, as links, in first
// appearance order.
func sourcesAppendix(articles []domain.Article) string {
	seen := make(map[int64]struct{}, len(articles))

	var b strings.Builder
	for _, a := range articles {
		if _, ok := seen[a.FeedID]; ok {
			continue
		}
		seen[a.FeedID] = struct{}{}

		title := strings.TrimSpace(a.FeedTitle)
		if title == "" {
			title = fmt.Sprintf("Feed %d", a.FeedID)
		}

		link := strings.TrimSpace(a.FeedSiteURL)
		if link == "" {
			b.WriteString("- " + title + "\n")
			continue
		}

		fmt.Fprintf(&b, "- [%s](%s)\n", title, link)
	}

	if b.Len() == 0 {
		return ""
	}

	return "\n\n---\n\n**Sources**\n\n" + strings.TrimRight(b.String(), "\n")
}
