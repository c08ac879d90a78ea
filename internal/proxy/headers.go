package proxy

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/DabengBa/ccg-gateway/internal/models"
)

// ProviderHeader names the provider that served a response.
const ProviderHeader = "X-CCG-Provider"

var hopByHopHeaders = map[string]struct{}{
	"Host":              {},
	"Connection":        {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Te":                {},
	"Trailer":           {},
	"Upgrade":           {},
}

var sensitiveHeaders = map[string]struct{}{
	"Authorization":  {},
	"X-Api-Key":      {},
	"X-Goog-Api-Key": {},
	"X-Ccg-Token":    {},
	"Cookie":         {},
	"Set-Cookie":     {},
}

// filterHeaders copies h without hop-by-hop headers and without any header
// named in drop (canonical form).
func filterHeaders(h http.Header, drop ...string) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		canonical := http.CanonicalHeaderKey(name)
		if _, hop := hopByHopHeaders[canonical]; hop {
			continue
		}
		if containsHeader(drop, canonical) {
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	return out
}

func containsHeader(names []string, canonical string) bool {
	for _, n := range names {
		if http.CanonicalHeaderKey(n) == canonical {
			return true
		}
	}
	return false
}

// RedactHeaders returns a copy of h that is safe to log.
func RedactHeaders(h http.Header, extra ...string) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		canonical := http.CanonicalHeaderKey(name)
		value := strings.Join(values, ", ")
		if _, secret := sensitiveHeaders[canonical]; secret || containsHeader(extra, canonical) {
			value = models.MaskSecret(value)
		}
		out[canonical] = value
	}
	return out
}

// EncodeProviderName percent-encodes name for use as a header value.
// Spaces become %20.
func EncodeProviderName(name string) string {
	return strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
}

// TruncateBody shortens a body for logging.
func TruncateBody(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "...(truncated)"
}
