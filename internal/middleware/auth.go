package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/config"
)

const DefaultTokenHeader = "X-CCG-Token"

// GatewayToken guards routes with the shared gateway token. A missing token
// gets 401, a wrong one 403. The presented value is never logged or echoed.
func GatewayToken(cfg config.AuthConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	header := cfg.HeaderName
	if header == "" {
		header = DefaultTokenHeader
	}
	expected := []byte(cfg.Token)

	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(header)
			if token == "" {
				sendAuthError(w, http.StatusUnauthorized, "Missing gateway token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
				logger.Warn("Rejected request with invalid gateway token",
					zap.String("path", r.URL.Path),
					zap.String("remote", r.RemoteAddr))
				sendAuthError(w, http.StatusForbidden, "Invalid gateway token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sendAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]map[string]string{
		"error": {"type": "authentication_error", "message": message},
	})
}
