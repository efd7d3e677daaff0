package miniflux

import (
	"encoding/base64"
	"net/http"
	"regexp"
	"strings"
)

var uuidRe = regexp.MustCompile(
	`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// applyAuth picks the auth mode from the credential's shape. This mirrors the
// long-standing compatibility heuristic: UUID-looking values and plain API
// tokens go into X-Auth-Token; "user:pass" pairs and base64-encoded pairs go
// out as HTTP Basic. Do not extend it.
func applyAuth(req *http.Request, credential string) {
	if credential == "" {
		return
	}

	if uuidRe.MatchString(credential) {
		req.Header.Set("X-Auth-Token", credential)
		return
	}

	if user, pass, ok := strings.Cut(credential, ":"); ok {
		req.SetBasicAuth(user, pass)
		return
	}

	if decoded, err := base64.StdEncoding.DecodeString(credential); err == nil &&
		strings.Contains(string(decoded), ":") {
		req.Header.Set("Authorization", "Basic "+credential)
		return
	}

	req.Header.Set("X-Auth-Token", credential)
}
