// Package push delivers digests to chat-platform webhooks, splitting
// oversized content under each platform's length limit.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fluxdigest/internal/domain"
)

const (
	// interChunkDelay preserves platform-observed order on transports
	// without ordering guarantees.
	interChunkDelay = 500 * time.Millisecond

	// suffixReserve leaves room for the " (i/N)" numbering inside the
	// platform limit.
	suffixReserve = 16

	requestTimeout = 30 * time.Second
)

const (
	titlePlaceholder   = "{{title}}"
	contentPlaceholder = "{{content}}"
)

// ChunkResult records one chunk's delivery outcome.
type ChunkResult struct {
	Index   int    `json:"index"`
	Status  int    `json:"status"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Result aggregates a whole send. Success is the AND of all chunks; Status
// and Error reflect the last chunk attempted.
type Result struct {
	Success  bool          `json:"success"`
	Status   int           `json:"status,omitempty"`
	Error    string        `json:"error,omitempty"`
	Platform string        `json:"platform"`
	Chunks   int           `json:"chunks"`
	Details  []ChunkResult `json:"details"`
}

type sleepFunc func(ctx context.Context, d time.Duration) error

type Dispatcher struct {
	httpClient *http.Client
	sleep      sleepFunc
	log        *slog.Logger
}

func NewDispatcher(log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		httpClient: &http.Client{Timeout: requestTimeout},
		sleep:      sleepWithContext,
		log:        log,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send delivers title and content to the configured webhook. Chunk sends are
// strictly sequential; partial deliveries are never rolled back.
func (d *Dispatcher) Send(
	ctx context.Context,
	cfg domain.PushConfig,
	title string,
	content string,
) Result {
	platform := DetectPlatform(cfg.URL)

	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodPost
	}

	if method == http.MethodGet {
		return d.sendGet(ctx, cfg.URL, platform, title, content)
	}

	return d.sendPost(ctx, cfg, platform, title, content)
}

// sendGet substitutes URL-encoded values into the templated URL. A GET
// target gets exactly one request, no chunking.
func (d *Dispatcher) sendGet(
	ctx context.Context,
	rawURL string,
	platform Platform,
	title string,
	content string,
) Result {
	target := strings.ReplaceAll(rawURL, titlePlaceholder, url.QueryEscape(title))
	target = strings.ReplaceAll(target, contentPlaceholder, url.QueryEscape(content))

	status, err := d.doRequest(ctx, http.MethodGet, target, nil)

	detail := ChunkResult{Index: 0, Status: status, Success: err == nil}
	if err != nil {
		detail.Error = err.Error()
	}

	return Result{
		Success:  err == nil,
		Status:   status,
		Error:    detail.Error,
		Platform: platform.Name,
		Chunks:   1,
		Details:  []ChunkResult{detail},
	}
}

func (d *Dispatcher) sendPost(
	ctx context.Context,
	cfg domain.PushConfig,
	platform Platform,
	title string,
	content string,
) Result {
	template := strings.TrimSpace(cfg.BodyTemplate)
	if template == "" {
		template = platform.bodyTemplate
	}

	chunks := d.chunksFor(platform, title, content)

	result := Result{
		Success:  true,
		Platform: platform.Name,
		Chunks:   len(chunks),
	}

	for i, chunk := range chunks {
		chunkTitle := ""
		text := chunk
		if i == 0 {
			chunkTitle = title
			if title != "" && !strings.Contains(template, titlePlaceholder) {
				text = title + "\n\n" + chunk
			}
		} else if len(chunks) > 1 {
			text = fmt.Sprintf("%s (%d/%d)", chunk, i+1, len(chunks))
		}

		body := strings.ReplaceAll(template, titlePlaceholder, jsonEscape(chunkTitle))
		body = strings.ReplaceAll(body, contentPlaceholder, jsonEscape(text))

		status, err := d.doRequest(ctx, http.MethodPost, cfg.URL, strings.NewReader(body))

		detail := ChunkResult{Index: i, Status: status, Success: err == nil}
		if err != nil {
			detail.Error = err.Error()
			result.Success = false

			d.log.WarnContext(ctx, "Push chunk failed",
				"error", err,
				"platform", platform.Name,
				"chunk", i,
				"chunkCount", len(chunks))
		}

		result.Status = status
		result.Error = detail.Error
		result.Details = append(result.Details, detail)

		if i < len(chunks)-1 {
			if sleepErr := d.sleep(ctx, interChunkDelay); sleepErr != nil {
				result.Success = false
				result.Error = sleepErr.Error()

				return result
			}
		}
	}

	return result
}

func (d *Dispatcher) chunksFor(platform Platform, title string, content string) []string {
	if len([]rune(content)) <= platform.ContentLimit {
		return []string{content}
	}

	capacity := platform.ContentLimit - suffixReserve
	if title != "" {
		capacity -= len([]rune(title)) + 2
	}
	if capacity < 1 {
		capacity = platform.ContentLimit / 2
	}

	return SplitContent(content, capacity)
}

// SplitContent cuts content into chunks of at most limit runes, preferring
// paragraph boundaries, then line boundaries, then a hard cut. Separators
// stay with the preceding chunk so concatenating the chunks reconstructs the
// input exactly.
func SplitContent(content string, limit int) []string {
	if limit < 1 {
		limit = 1
	}

	var chunks []string
	rest := content

	for len([]rune(rest)) > limit {
		window := string([]rune(rest)[:limit])

		cut := -1
		if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
			cut = idx + 2
		} else if idx := strings.LastIndex(window, "\n"); idx > 0 {
			cut = idx + 1
		}

		if cut <= 0 {
			cut = len(window)
		}

		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}

	if rest != "" || len(chunks) == 0 {
		chunks = append(chunks, rest)
	}

	return chunks
}

// jsonEscape makes a value safe for direct interpolation into a JSON string
// literal inside a body template.
func jsonEscape(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		return s
	}

	return string(encoded[1 : len(encoded)-1])
}

func (d *Dispatcher) doRequest(
	ctx context.Context,
	method string,
	target string,
	body io.Reader,
) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("webhook returned %s: %s",
			resp.Status, strings.TrimSpace(string(respBody)))
	}

	return resp.StatusCode, nil
}
