package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
)

// anthropicAdapter speaks the Anthropic Messages API.
type anthropicAdapter struct {
	cfg Config
}

func (a *anthropicAdapter) Stream(
	ctx context.Context,
	req ChatRequest,
	emit func(delta string) error,
) error {
	return streamWire(ctx, a, req, emit)
}

func (a *anthropicAdapter) Complete(ctx context.Context, req ChatRequest) (string, error) {
	return completeWire(ctx, a, req)
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int64         `json:"max_tokens"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

func (a *anthropicAdapter) buildRequest(
	ctx context.Context,
	req ChatRequest,
	stream bool,
) (*http.Request, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Messages:    remapSystemRole(req.Messages),
		Stream:      stream,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	endpoint := strings.TrimRight(a.cfg.APIURL, "/") + "/messages"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	return httpReq, nil
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (a *anthropicAdapter) parseStreamChunk(data []byte) (string, bool, error) {
	var event anthropicStreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return "", false, fmt.Errorf("decode event: %w", err)
	}

	switch event.Type {
	case "content_block_delta":
		return event.Delta.Text, false, nil
	case "message_stop":
		return "", true, nil
	default:
		return "", false, nil
	}
}

func (a *anthropicAdapter) parseResponse(body []byte) (string, error) {
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	if b.Len() == 0 {
		return "", errEmptyCompletion
	}

	return b.String(), nil
}
