package proxy

import (
	"encoding/json"
	"strings"
)

// BuildUpstreamURL joins the provider base URL with the inbound path and
// raw query, without doubling or dropping the separating slash.
func BuildUpstreamURL(baseURL, path, rawQuery string) string {
	u := strings.TrimRight(baseURL, "/")
	if path != "" {
		u += "/" + strings.TrimLeft(path, "/")
	}
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// IsStreamingBody reports whether body is a JSON object whose "stream" field
// is true. Anything else, including invalid JSON, is non-streaming.
func IsStreamingBody(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	var probe struct {
		Stream json.RawMessage `json:"stream"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	var stream bool
	if err := json.Unmarshal(probe.Stream, &stream); err != nil {
		return false
	}
	return stream
}
