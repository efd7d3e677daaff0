package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const (
	wantCanonicalStream = `data: {"choices":[{"delta":{"content":"Hello"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":" world"}}]}` + "\n\n" +
		"data: [DONE]\n\n"

	wantCanonicalComplete = `data: {"choices":[{"delta":{"content":"Hello world"}}]}` + "\n\n" +
		"data: [DONE]\n\n"
)

func sseHandler(t *testing.T, lines []string) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
	}
}

func streamRequest() ChatRequest {
	return ChatRequest{
		Model:    "test-model",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
		Stream:   true,
	}
}

func TestOpenAIStreamNormalizesToCanonicalSSE(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`{"choices":[{"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"delta":{"content":" world"}}]}`,
		`[DONE]`,
	}))
	defer srv.Close()

	var sink strings.Builder

	cfg := Config{Provider: "openai-compatible", APIURL: srv.URL, APIKey: "k"}
	if err := SendChat(context.Background(), cfg, streamRequest(), &sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sink.String() != wantCanonicalStream {
		t.Fatalf("unexpected canonical stream:\n%q", sink.String())
	}
}

func TestAnthropicStreamNormalizesToCanonicalSSE(t *testing.T) {
	var gotPath, gotKey, gotVersion string
	var gotBody anthropicRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("invalid request body: %v", err)
		}

		sseHandler(t, []string{
			`{"type":"message_start"}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hello"}}`,
			`{"type":"ping"}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":" world"}}`,
			`{"type":"message_stop"}`,
		})(w, r)
	}))
	defer srv.Close()

	var sink strings.Builder

	cfg := Config{Provider: "anthropic", APIURL: srv.URL, APIKey: "secret"}
	req := streamRequest()
	req.Messages = []ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}

	if err := SendChat(context.Background(), cfg, req, &sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sink.String() != wantCanonicalStream {
		t.Fatalf("unexpected canonical stream:\n%q", sink.String())
	}

	if gotPath != "/messages" {
		t.Fatalf("unexpected path: %q", gotPath)
	}

	if gotKey != "secret" || gotVersion != anthropicVersion {
		t.Fatalf("unexpected auth headers: %q %q", gotKey, gotVersion)
	}

	if gotBody.MaxTokens != anthropicDefaultMaxTokens {
		t.Fatalf("unexpected default max_tokens: %d", gotBody.MaxTokens)
	}

	if gotBody.Messages[0].Role != "user" {
		t.Fatalf("system role not remapped: %q", gotBody.Messages[0].Role)
	}
}

func TestGoogleStreamNormalizesToCanonicalSSE(t *testing.T) {
	var gotPath, gotKey, gotAlt string
	var gotBody googleRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		gotAlt = r.URL.Query().Get("alt")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("invalid request body: %v", err)
		}

		sseHandler(t, []string{
			`{"candidates":[{"content":{"parts":[{"text":"Hello"}]}}]}`,
			`{"candidates":[{"content":{"parts":[{"text":" world"}]},"finishReason":"STOP"}]}`,
		})(w, r)
	}))
	defer srv.Close()

	var sink strings.Builder

	cfg := Config{Provider: "google", APIURL: srv.URL, APIKey: "gkey"}
	req := streamRequest()
	req.Messages = []ChatMessage{
		{Role: "assistant", Content: "earlier"},
		{Role: "user", Content: "hi"},
	}

	if err := SendChat(context.Background(), cfg, req, &sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sink.String() != wantCanonicalStream {
		t.Fatalf("unexpected canonical stream:\n%q", sink.String())
	}

	if gotPath != "/models/test-model:streamGenerateContent" {
		t.Fatalf("unexpected path: %q", gotPath)
	}

	if gotKey != "gkey" || gotAlt != "sse" {
		t.Fatalf("unexpected query auth: key=%q alt=%q", gotKey, gotAlt)
	}

	if gotBody.Contents[0].Role != "model" {
		t.Fatalf("assistant role not remapped to model: %q", gotBody.Contents[0].Role)
	}
}

func TestCompleteNormalizesAcrossFamilies(t *testing.T) {
	anthropicSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"content":[{"type":"text","text":"Hello"},{"type":"text","text":" world"}]}`)
	}))
	defer anthropicSrv.Close()

	googleSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"Hello world"}]},"finishReason":"STOP"}]}`)
	}))
	defer googleSrv.Close()

	configs := []Config{
		{Provider: "anthropic", APIURL: anthropicSrv.URL, APIKey: "k"},
		{Provider: "google", APIURL: googleSrv.URL, APIKey: "k"},
	}

	for _, cfg := range configs {
		var sink strings.Builder

		req := streamRequest()
		req.Stream = false

		if err := SendChat(context.Background(), cfg, req, &sink); err != nil {
			t.Fatalf("%s: unexpected error: %v", cfg.Provider, err)
		}

		if sink.String() != wantCanonicalComplete {
			t.Fatalf("%s: unexpected canonical output:\n%q", cfg.Provider, sink.String())
		}
	}
}

func TestCollectReassemblesDeltas(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"A"}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"B"}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"C"}}`,
		`{"type":"message_stop"}`,
	}))
	defer srv.Close()

	cfg := Config{Provider: "anthropic", APIURL: srv.URL, APIKey: "k"}

	text, err := Collect(context.Background(), cfg, streamRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if text != "ABC" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestStreamSurfacesAPIErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	cfg := Config{Provider: "anthropic", APIURL: srv.URL, APIKey: "bad"}

	err := SendChat(context.Background(), cfg, streamRequest(), &strings.Builder{})
	if err == nil || err.Error() != "invalid x-api-key" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTestConnectionToleratesEmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"content":[]}`)
	}))
	defer srv.Close()

	ok, message := TestConnection(context.Background(), Config{
		Provider: "anthropic",
		APIURL:   srv.URL,
		APIKey:   "k",
		Model:    "test-model",
	})
	if !ok {
		t.Fatalf("expected success, got %q", message)
	}
}

func TestTestConnectionReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"quota exceeded"}`)
	}))
	defer srv.Close()

	ok, message := TestConnection(context.Background(), Config{
		Provider: "google",
		APIURL:   srv.URL,
		APIKey:   "k",
		Model:    "test-model",
	})
	if ok {
		t.Fatalf("expected failure")
	}

	if message != "quota exceeded" {
		t.Fatalf("unexpected message: %q", message)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, err := New(Config{Provider: "cohere"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestNewDefaultsToOpenAIFamily(t *testing.T) {
	adapter, err := New(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := adapter.(*openAIAdapter); !ok {
		t.Fatalf("unexpected adapter type: %T", adapter)
	}
}

func TestAPIErrorFallbacks(t *testing.T) {
	if got := apiError(500, []byte(`{"error":{"message":"boom"}}`)).Error(); got != "boom" {
		t.Fatalf("unexpected message: %q", got)
	}

	if got := apiError(500, []byte(`{"message":"flat"}`)).Error(); got != "flat" {
		t.Fatalf("unexpected message: %q", got)
	}

	if got := apiError(500, []byte("plain text")).Error(); got != "plain text" {
		t.Fatalf("unexpected message: %q", got)
	}

	if got := apiError(502, nil).Error(); got != "HTTP 502" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestRemapSystemRole(t *testing.T) {
	in := []ChatMessage{
		{Role: "system", Content: "a"},
		{Role: "user", Content: "b"},
		{Role: "assistant", Content: "c"},
	}

	out := remapSystemRole(in)
	if out[0].Role != "user" || out[1].Role != "user" || out[2].Role != "assistant" {
		t.Fatalf("unexpected roles: %+v", out)
	}

	if in[0].Role != "system" {
		t.Fatalf("input mutated")
	}
}
