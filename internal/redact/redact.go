// Package redact scrubs credentials from payloads before they reach the
// event log or the alerting webhook.
package redact

import (
	"regexp"
	"strings"
)

const placeholder = "[redacted]"

var (
	// key=value / key: value pairs for credential-ish keys, in query
	// strings, JSON fragments, and header dumps.
	kvPattern = regexp.MustCompile(`(?i)("?(?:api[_-]?key|token|secret|password|authorization|cookie|set-cookie|session[_-]?id)"?\s*[:=]\s*)("[^"]*"|[^\s&;,}]+)`)

	// Bearer tokens wherever they appear.
	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._~+/-]+=*`)

	// Long opaque hex/base64 blobs that look like keys (32+ chars).
	blobPattern = regexp.MustCompile(`\b[A-Za-z0-9+/_-]{40,}={0,2}\b`)
)

// String scrubs tokens, secrets, and cookies from s.
func String(s string) string {
	if s == "" {
		return s
	}
	s = kvPattern.ReplaceAllString(s, "${1}"+placeholder)
	s = bearerPattern.ReplaceAllString(s, "Bearer "+placeholder)
	s = blobPattern.ReplaceAllString(s, placeholder)
	return s
}

// Map scrubs a details map in place, replacing values of credential-ish keys
// entirely and running String over string values of other keys.
func Map(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if isSensitiveKey(k) {
			out[k] = placeholder
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = String(s)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, s := range []string{"key", "token", "secret", "password", "cookie", "authorization", "session"} {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
