package miniflux

import (
	"encoding/base64"
	"net/http"
	"testing"
)

func newRequest(t *testing.T) *http.Request {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, "https://miniflux.example.com/v1/entries", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return req
}

func TestApplyAuthUUIDGoesToHeader(t *testing.T) {
	req := newRequest(t)
	applyAuth(req, "f47ac10b-58cc-4372-a567-0e02b2c3d479")

	if got := req.Header.Get("X-Auth-Token"); got != "f47ac10b-58cc-4372-a567-0e02b2c3d479" {
		t.Fatalf("unexpected token header: %q", got)
	}

	if _, _, ok := req.BasicAuth(); ok {
		t.Fatalf("unexpected basic auth")
	}
}

func TestApplyAuthColonPairUsesBasicAuth(t *testing.T) {
	req := newRequest(t)
	applyAuth(req, "alice:s3cret")

	user, pass, ok := req.BasicAuth()
	if !ok {
		t.Fatalf("expected basic auth")
	}

	if user != "alice" || pass != "s3cret" {
		t.Fatalf("unexpected credentials: %q %q", user, pass)
	}

	if req.Header.Get("X-Auth-Token") != "" {
		t.Fatalf("unexpected token header")
	}
}

func TestApplyAuthBase64PairPassesThrough(t *testing.T) {
	credential := base64.StdEncoding.EncodeToString([]byte("bob:hunter2"))

	req := newRequest(t)
	applyAuth(req, credential)

	if got := req.Header.Get("Authorization"); got != "Basic "+credential {
		t.Fatalf("unexpected authorization header: %q", got)
	}
}

func TestApplyAuthPlainTokenGoesToHeader(t *testing.T) {
	req := newRequest(t)
	applyAuth(req, "plain-api-token")

	if got := req.Header.Get("X-Auth-Token"); got != "plain-api-token" {
		t.Fatalf("unexpected token header: %q", got)
	}
}

func TestApplyAuthEmptyCredentialLeavesRequestBare(t *testing.T) {
	req := newRequest(t)
	applyAuth(req, "")

	if len(req.Header) != 0 {
		t.Fatalf("unexpected headers: %v", req.Header)
	}
}
