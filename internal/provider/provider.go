// Package provider translates a uniform chat request into provider-specific
// HTTP calls and normalizes every provider's stream back into one canonical
// chunk shape.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ChatMessage is one turn of a uniform chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the provider-independent request shape.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Stream      bool
	Temperature *float64
	MaxTokens   int64
}

// Adapter is implemented once per provider family. Adding a provider means
// adding one variant, nothing else.
type Adapter interface {
	// Stream issues the request and calls emit for every content delta.
	Stream(ctx context.Context, req ChatRequest, emit func(delta string) error) error
	// Complete issues a non-streaming request and returns the full text.
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// New selects the adapter variant for the configured provider family.
func New(cfg Config) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai", "openai-compatible", "":
		return newOpenAIAdapter(cfg), nil
	case "anthropic":
		return &anthropicAdapter{cfg: cfg}, nil
	case "google", "gemini":
		return &googleAdapter{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// Config is the opaque provider record handed in by the config store.
type Config struct {
	Provider string
	APIURL   string
	APIKey   string
	Model    string
}

// Canonical chunk envelope re-emitted for every provider.
type canonicalDelta struct {
	Content string `json:"content"`
}

type canonicalChoice struct {
	Delta canonicalDelta `json:"delta"`
}

type canonicalChunk struct {
	Choices []canonicalChoice `json:"choices"`
}

const doneMarker = "[DONE]"

// SendChat runs one chat request and writes canonical SSE lines to sink:
// a "data: {json}" line per delta, then "data: [DONE]". Non-streaming mode
// emits the whole text as a single chunk, still followed by the marker.
func SendChat(ctx context.Context, cfg Config, req ChatRequest, sink io.Writer) error {
	adapter, err := New(cfg)
	if err != nil {
		return err
	}

	if req.Model == "" {
		req.Model = cfg.Model
	}

	if req.Stream {
		err = adapter.Stream(ctx, req, func(delta string) error {
			return writeChunk(sink, delta)
		})
		if err != nil {
			return err
		}

		return writeDone(sink)
	}

	text, err := adapter.Complete(ctx, req)
	if err != nil {
		return err
	}

	if err = writeChunk(sink, text); err != nil {
		return err
	}

	return writeDone(sink)
}

func writeChunk(sink io.Writer, delta string) error {
	payload, err := json.Marshal(canonicalChunk{
		Choices: []canonicalChoice{{Delta: canonicalDelta{Content: delta}}},
	})
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}

	if _, err = fmt.Fprintf(sink, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}

	flush(sink)

	return nil
}

func writeDone(sink io.Writer) error {
	if _, err := fmt.Fprintf(sink, "data: %s\n\n", doneMarker); err != nil {
		return fmt.Errorf("write done marker: %w", err)
	}

	flush(sink)

	return nil
}

func flush(sink io.Writer) {
	if f, ok := sink.(http.Flusher); ok {
		f.Flush()
	}
}

// Collect streams the request and reassembles the deltas into one string.
func Collect(ctx context.Context, cfg Config, req ChatRequest) (string, error) {
	adapter, err := New(cfg)
	if err != nil {
		return "", err
	}

	if req.Model == "" {
		req.Model = cfg.Model
	}

	var b strings.Builder
	err = adapter.Stream(ctx, req, func(delta string) error {
		b.WriteString(delta)
		return nil
	})
	if err != nil {
		return "", err
	}

	return b.String(), nil
}

// TestConnection sends a minimal one-token request. Configuration validation
// only, never production traffic.
func TestConnection(ctx context.Context, cfg Config) (bool, string) {
	adapter, err := New(cfg)
	if err != nil {
		return false, err.Error()
	}

	_, err = adapter.Complete(ctx, ChatRequest{
		Model:     cfg.Model,
		Messages:  []ChatMessage{{Role: "user", Content: "Hi"}},
		MaxTokens: 1,
	})
	if err != nil && !errors.Is(err, errEmptyCompletion) {
		return false, err.Error()
	}

	return true, "connection ok"
}

// errEmptyCompletion marks a well-formed response that carried no text. A
// one-token probe can legitimately hit this.
var errEmptyCompletion = errors.New("provider returned no content")

// apiError extracts the most useful message from a non-2xx body: the JSON
// error message when parseable, else the raw text, else the HTTP status.
func apiError(statusCode int, body []byte) error {
	trimmed := strings.TrimSpace(string(body))

	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if wrapped.Error.Message != "" {
			return errors.New(wrapped.Error.Message)
		}
		if wrapped.Message != "" {
			return errors.New(wrapped.Message)
		}
	}

	if trimmed != "" {
		return errors.New(trimmed)
	}

	return fmt.Errorf("HTTP %d", statusCode)
}
