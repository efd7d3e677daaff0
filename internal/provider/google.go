package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// googleAdapter speaks the Gemini generateContent API. Auth rides in the
// query string, not a header.
type googleAdapter struct {
	cfg Config
}

func (g *googleAdapter) Stream(
	ctx context.Context,
	req ChatRequest,
	emit func(delta string) error,
) error {
	return streamWire(ctx, g, req, emit)
}

func (g *googleAdapter) Complete(ctx context.Context, req ChatRequest) (string, error) {
	return completeWire(ctx, g, req)
}

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

type googleRequest struct {
	Contents         []googleContent `json:"contents"`
	GenerationConfig struct {
		Temperature     *float64 `json:"temperature,omitempty"`
		MaxOutputTokens int64    `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

func (g *googleAdapter) buildRequest(
	ctx context.Context,
	req ChatRequest,
	stream bool,
) (*http.Request, error) {
	var payload googleRequest
	for _, m := range remapSystemRole(req.Messages) {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		payload.Contents = append(payload.Contents, googleContent{
			Role:  role,
			Parts: []googlePart{{Text: m.Content}},
		})
	}
	payload.GenerationConfig.Temperature = req.Temperature
	if req.MaxTokens > 0 {
		payload.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	verb := "generateContent"
	params := url.Values{}
	params.Set("key", g.cfg.APIKey)
	if stream {
		verb = "streamGenerateContent"
		params.Set("alt", "sse")
	}

	endpoint := fmt.Sprintf("%s/models/%s:%s?%s",
		strings.TrimRight(g.cfg.APIURL, "/"),
		req.Model,
		verb,
		params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")

	return httpReq, nil
}

type googleResponse struct {
	Candidates []struct {
		Content struct {
			Parts []googlePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

func (g *googleAdapter) parseStreamChunk(data []byte) (string, bool, error) {
	var resp googleResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false, fmt.Errorf("decode event: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return "", false, nil
	}

	candidate := resp.Candidates[0]

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		b.WriteString(part.Text)
	}

	return b.String(), candidate.FinishReason != "", nil
}

func (g *googleAdapter) parseResponse(body []byte) (string, error) {
	var resp googleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return "", errEmptyCompletion
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}

	if b.Len() == 0 {
		return "", errEmptyCompletion
	}

	return b.String(), nil
}
