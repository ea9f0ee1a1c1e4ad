package middleware

import (
	"context"
	"net/http"
	"strings"
)

// CredentialVerifier validates a bearer credential and yields the owning
// user id. Implemented by ws.Authenticator.
type CredentialVerifier interface {
	Authenticate(credential string) (string, error)
}

// BearerToken extracts the bearer credential from a request: the
// Authorization header first, then the token query parameter (used by the
// WebSocket handshake, where custom headers are unavailable to browsers).
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	return r.URL.Query().Get("token")
}

// BearerAuth authenticates requests with verifier and stores the user id in
// the request context. Unverifiable requests get 401 and never reach next.
func BearerAuth(verifier CredentialVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := BearerToken(r)
			if credential == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			userID, err := verifier.Authenticate(credential)
			if err != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
