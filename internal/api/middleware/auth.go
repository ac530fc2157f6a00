package middleware

import (
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/matteo/erphost/internal/api/response"
	"github.com/matteo/erphost/internal/crypto"
)

// Auth returns a middleware that validates the X-API-Key header against the
// configured bcrypt hash. An empty hash disables authentication, for local
// development only.
func Auth(apiKeyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKeyHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(apiKeyHash), []byte(key)); err != nil {
				// Log a fingerprint of the rejected key, never the key itself.
				zerolog.Ctx(r.Context()).Warn().
					Str("key_fingerprint", crypto.GenericHash(key)[:12]).
					Msg("rejected API key")
				response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
