package main

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
)

// authHeader carries the admin token on requests to protected endpoints.
const authHeader = "babbler-auth"

// AuthAPI guards the administrative endpoints with the configured admin token.
type AuthAPI struct {
	cm     *ConfigManager
	logger *slog.Logger
}

// NewAuthAPI creates a new instance of the AuthAPI.
func NewAuthAPI(cm *ConfigManager, logger *slog.Logger) *AuthAPI {
	return &AuthAPI{
		cm:     cm,
		logger: logger,
	}
}

// Authenticate checks for the admin token in the "babbler-auth" header.
// With no admin token configured the endpoints are open.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := a.cm.Get().Bot.AdminToken
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		given := r.Header.Get(authHeader)
		if given == "" {
			respondWithError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
			return
		}

		want, got := hashToken(token), hashToken(given)
		if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
			a.logger.Warn("Rejected request with a bad admin token", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			respondWithError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hashToken(token string) [sha256.Size]byte {
	return sha256.Sum256([]byte(token))
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		err := json.NewEncoder(w).Encode(payload)
		if err != nil {
			slog.Error("Failed to encode JSON response", "error", err)
		}
	}
}
