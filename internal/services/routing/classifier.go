// Package routing decides which category an inbound request belongs to and
// which provider of that category serves it.
package routing

import (
	"net/http"
	"strings"

	"github.com/DabengBa/ccg-gateway/internal/models"
)

// Classify maps an inbound request onto a provider category. Rules are
// checked in order and the first match wins; anything unrecognised is
// treated as Claude Code traffic.
func Classify(path string, header http.Header) models.Category {
	p := strings.ToLower(path)

	if strings.Contains(p, "/v1/messages") || strings.Contains(p, "anthropic") {
		return models.CategoryClaudeCode
	}

	if strings.Contains(p, "/v1/chat/completions") || strings.Contains(p, "/v1/responses") {
		if strings.Contains(strings.ToLower(header.Get("User-Agent")), "codex") {
			return models.CategoryCodex
		}
		return models.CategoryClaudeCode
	}

	host := strings.ToLower(header.Get("Host"))
	if mentionsGemini(p) || mentionsGemini(host) {
		return models.CategoryGemini
	}

	return models.CategoryClaudeCode
}

func mentionsGemini(s string) bool {
	return strings.Contains(s, "gemini") || strings.Contains(s, "generativelanguage")
}
