package provider

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// wireAdapter is the raw-HTTP side of a provider variant: it shapes the
// outgoing request and decodes the provider's native stream events.
type wireAdapter interface {
	buildRequest(ctx context.Context, req ChatRequest, stream bool) (*http.Request, error)
	parseStreamChunk(data []byte) (delta string, done bool, err error)
	parseResponse(body []byte) (string, error)
}

// No client timeout: the caller's context bounds every call.
var wireClient = &http.Client{}

const maxSSELineBytes = 1 << 20

func streamWire(
	ctx context.Context,
	a wireAdapter,
	req ChatRequest,
	emit func(delta string) error,
) error {
	httpReq, err := a.buildRequest(ctx, req, true)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := wireClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxSSELineBytes))
		return apiError(resp.StatusCode, body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == doneMarker {
			return nil
		}

		delta, done, parseErr := a.parseStreamChunk([]byte(payload))
		if parseErr != nil {
			return fmt.Errorf("parse stream chunk: %w", parseErr)
		}

		if delta != "" {
			if err = emit(delta); err != nil {
				return err
			}
		}

		if done {
			return nil
		}
	}

	if err = scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}

	return nil
}

func completeWire(ctx context.Context, a wireAdapter, req ChatRequest) (string, error) {
	httpReq, err := a.buildRequest(ctx, req, false)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := wireClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", apiError(resp.StatusCode, body)
	}

	return a.parseResponse(body)
}

// remapSystemRole rewrites system turns as user turns for providers without
// a native system role.
func remapSystemRole(messages []ChatMessage) []ChatMessage {
	remapped := make([]ChatMessage, len(messages))
	for i, m := range messages {
		if m.Role == "system" {
			m.Role = "user"
		}
		remapped[i] = m
	}

	return remapped
}
