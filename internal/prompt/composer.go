// Package prompt builds the single bounded prompt sent to the AI provider.
package prompt

import (
	"fmt"
	"strings"

	"fluxdigest/internal/content"
)

const (
	targetLangPlaceholder = "{{targetLang}}"
	contentPlaceholder    = "{{content}}"

	legacyTargetLangPlaceholder = "{targetLang}"
	legacyContentPlaceholder    = "{content}"
)

// DefaultTemplate instructs the model to stay inside the supplied article
// list. The closed-world constraint is load-bearing: digests must never mix
// in outside knowledge.
const DefaultTemplate = `You are a news digest writer. Write the entire digest strictly in {{targetLang}}.

Use ONLY the articles listed below. Do not add any information, context, or
commentary from outside the supplied article list.

Structure:
1. Start with a short overview (2-3 sentences) of the main themes.
2. Group the articles into categories and present each as bullet points.
3. Merge articles covering the same topic into a single bullet.

Formatting rules:
- Markdown only.
- Reference articles by their titles.
- No preamble, no meta commentary about these instructions.

Articles:

{{content}}`

// Options configures composition.
type Options struct {
	TargetLanguage string
	ScopeName      string
	Template       string
}

// Compose renders the prepared articles into the prompt template.
func Compose(prepared []content.Prepared, opts Options) string {
	template := normalizeTemplate(opts.Template)

	targetLang := strings.TrimSpace(opts.TargetLanguage)
	if targetLang == "" {
		targetLang = "English"
	}

	var blocks strings.Builder
	for _, p := range prepared {
		blocks.WriteString(renderArticle(p))
		blocks.WriteString("\n")
	}

	out := strings.ReplaceAll(template, targetLangPlaceholder, targetLang)
	out = strings.ReplaceAll(out, contentPlaceholder, strings.TrimRight(blocks.String(), "\n"))

	return out
}

// normalizeTemplate migrates legacy single-brace placeholders and guarantees
// the article list is always present.
func normalizeTemplate(template string) string {
	template = strings.TrimSpace(template)
	if template == "" {
		return DefaultTemplate
	}

	if !strings.Contains(template, targetLangPlaceholder) &&
		strings.Contains(template, legacyTargetLangPlaceholder) {
		template = strings.ReplaceAll(template, legacyTargetLangPlaceholder, targetLangPlaceholder)
	}

	if !strings.Contains(template, contentPlaceholder) &&
		strings.Contains(template, legacyContentPlaceholder) {
		template = strings.ReplaceAll(template, legacyContentPlaceholder, contentPlaceholder)
	}

	if !strings.Contains(template, contentPlaceholder) {
		template += "\n\n" + contentPlaceholder
	}

	return template
}

func renderArticle(p content.Prepared) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%d] %s\n", p.Index, p.Title)
	fmt.Fprintf(&b, "Source: %s\n", p.FeedName)

	if p.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", p.Category)
	}

	if !p.Published.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", p.Published.Format("2006-01-02 15:04"))
	}

	if p.URL != "" {
		fmt.Fprintf(&b, "Link: %s\n", p.URL)
	}

	fmt.Fprintf(&b, "Summary: %s\n", p.Summary)

	return b.String()
}
