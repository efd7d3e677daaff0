// Package content normalizes raw article HTML into bounded plain-text
// summaries ready for prompt composition.
package content

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"fluxdigest/internal/domain"
)

const (
	// SummaryTokenBudget bounds each prepared summary. The unit is the
	// estimator's, not any real tokenizer's.
	SummaryTokenBudget = 1000.0

	// rawContentCeiling cuts pathological inputs before the token-aware
	// pass walks them rune by rune.
	rawContentCeiling = 50000

	batchSize = 20

	ellipsis = "..."
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Prepared is one article normalized for prompt composition.
type Prepared struct {
	Index     int
	Title     string
	FeedName  string
	FeedID    int64
	Category  string
	Published time.Time
	URL       string
	Summary   string
}

// EstimateTokens approximates token usage by character class: CJK ideographs
// weigh 1.6 units, everything else 0.3. An approximation, not a tokenizer.
func EstimateTokens(s string) float64 {
	var total float64
	for _, r := range s {
		if isCJK(r) {
			total += 1.6
		} else {
			total += 0.3
		}
	}

	return total
}

func isCJK(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}

// TruncateByTokens cuts s at the first estimate breach and appends an
// ellipsis marker. Longer input never yields shorter kept output.
func TruncateByTokens(s string, budget float64) string {
	var total float64
	for i, r := range s {
		if isCJK(r) {
			total += 1.6
		} else {
			total += 0.3
		}

		if total > budget {
			return s[:i] + ellipsis
		}
	}

	return s
}

// StripMarkup removes tags and collapses whitespace to single spaces.
func StripMarkup(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapseWhitespace(html)
	}

	doc.Find("script, style, noscript").Remove()

	return collapseWhitespace(doc.Text())
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// PrepareArticle normalizes one article under the token budget.
func PrepareArticle(index int, article domain.Article) Prepared {
	raw := article.Content
	if len(raw) > rawContentCeiling {
		raw = raw[:rawContentCeiling]
	}

	summary := TruncateByTokens(StripMarkup(raw), SummaryTokenBudget)

	return Prepared{
		Index:     index,
		Title:     strings.TrimSpace(article.Title),
		FeedName:  strings.TrimSpace(article.FeedTitle),
		FeedID:    article.FeedID,
		Category:  strings.TrimSpace(article.CategoryTitle),
		Published: article.PublishedAt,
		URL:       strings.TrimSpace(article.URL),
		Summary:   summary,
	}
}

// Prepare processes articles in batches with a cooperative yield between
// batches so large sets never monopolize the scheduler.
func Prepare(ctx context.Context, articles []domain.Article) ([]Prepared, error) {
	prepared := make([]Prepared, 0, len(articles))

	for start := 0; start < len(articles); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("prepare articles: %w", err)
		}

		end := min(start+batchSize, len(articles))
		for i := start; i < end; i++ {
			prepared = append(prepared, PrepareArticle(i+1, articles[i]))
		}

		runtime.Gosched()
	}

	return prepared, nil
}
