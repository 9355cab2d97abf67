// Package security provides logging-safe redaction helpers (SPEC_FULL.md
// AMBIENT STACK), adapted from the teacher's internal/security/redact.go.
// Story URLs are external, user-supplied input (spec.md §1 "story scripts
// themselves — opaque to the engine") and may legitimately carry
// credentials or bearer tokens for a test harness; the engine must not
// leak them into its own logs.
package security

import (
	"net/url"
	"strings"
)

// sensitiveParamNames are query parameter names that likely carry secrets.
var sensitiveParamNames = []string{
	"password", "passwd", "pwd", "secret", "token", "api_key", "apikey",
	"api-key", "auth", "authorization", "bearer", "credential", "key",
	"access_token", "refresh_token", "session", "sessionid", "sid", "private",
}

// RedactURL returns rawURL with userinfo and sensitive-looking query
// parameters replaced by "[REDACTED]", for safe inclusion in log lines
// (spec.md §4.6 navigate_to is the only place a Story-supplied URL crosses
// into the engine's own logging).
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}
	if parsed.User != nil {
		parsed.User = url.User("[REDACTED]")
	}
	if parsed.RawQuery != "" {
		parsed.RawQuery = redactQueryParams(parsed.Query()).Encode()
	}
	return parsed.String()
}

func redactQueryParams(params url.Values) url.Values {
	redacted := make(url.Values, len(params))
	for key, values := range params {
		keyLower := strings.ToLower(key)
		shouldRedact := false
		for _, pattern := range sensitiveParamNames {
			if strings.Contains(keyLower, pattern) {
				shouldRedact = true
				break
			}
		}
		if shouldRedact {
			redacted[key] = []string{"[REDACTED]"}
		} else {
			redacted[key] = values
		}
	}
	return redacted
}
