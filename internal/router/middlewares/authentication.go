package middlewares

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/textileio/go-tonconnect/pkg/errors"
)

// Authentication requires a bearer token out of tokens. The authenticated
// client is stored in the request context under ContextKeyClient.
// No tokens disables authentication.
func Authentication(tokens []string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(tokens) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearer(r.Header.Get("Authorization"))
			if !ok || !validToken(tokens, token) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(errors.ServiceError{Message: "missing or invalid bearer token"})
				return
			}

			r = r.WithContext(context.WithValue(r.Context(), ContextKeyClient, clientOf(token)))
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func validToken(tokens []string, token string) bool {
	var valid bool
	for _, t := range tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			valid = true
		}
	}
	return valid
}

// clientOf identifies a client without keeping its token around.
func clientOf(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "client-" + hex.EncodeToString(sum[:8])
}
