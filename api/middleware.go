package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"mediamirror/config"
)

// APIKeyMiddleware guards routes with the server API key from settings.
// Requests authenticate with an X-API-Key header or a bearer token.
// When no key is configured the middleware lets everything through,
// which is the expected state for a LAN-only install.
func APIKeyMiddleware(configManager *config.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			settings, err := configManager.Load()
			if err != nil {
				http.Error(w, "Failed to load settings", http.StatusInternalServerError)
				return
			}
			expected := settings.Server.APIKey
			if expected == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-API-Key")
			if provided == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					provided = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				http.Error(w, "Invalid or missing API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
