package routing

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DabengBa/ccg-gateway/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		userAgent string
		host      string
		want      models.Category
	}{
		{name: "anthropic messages", path: "/v1/messages", want: models.CategoryClaudeCode},
		{name: "anthropic in path", path: "/proxy/Anthropic/v1/complete", want: models.CategoryClaudeCode},
		{name: "chat completions from codex", path: "/v1/chat/completions", userAgent: "codex_cli_rs/0.20.0", want: models.CategoryCodex},
		{name: "responses from codex", path: "/v1/responses", userAgent: "Codex/1.0", want: models.CategoryCodex},
		{name: "chat completions from other client", path: "/v1/chat/completions", userAgent: "curl/8.0", want: models.CategoryClaudeCode},
		{name: "gemini path", path: "/v1beta/models/gemini-2.5-pro:streamGenerateContent", want: models.CategoryGemini},
		{name: "generativelanguage host", path: "/v1beta/models/x:generateContent", host: "generativelanguage.googleapis.com", want: models.CategoryGemini},
		{name: "messages wins over gemini", path: "/v1/messages?model=gemini", want: models.CategoryClaudeCode},
		{name: "unknown path", path: "/something/else", want: models.CategoryClaudeCode},
		{name: "root", path: "/", want: models.CategoryClaudeCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.userAgent != "" {
				header.Set("User-Agent", tt.userAgent)
			}
			if tt.host != "" {
				header.Set("Host", tt.host)
			}
			assert.Equal(t, tt.want, Classify(tt.path, header))
		})
	}
}
