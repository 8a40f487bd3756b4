package auth

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrorWriter renders an authentication failure in the API's response format.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// principal in the request context.
func RequireAuth(tokens *TokenManager, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				onError(w, r, ErrMissingToken)
				return
			}

			principal, err := tokens.Parse(raw)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("auth: token rejected")
				onError(w, r, ErrInvalidToken)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin(onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := FromContext(r.Context())
			if !ok {
				onError(w, r, ErrMissingToken)
				return
			}
			if !principal.IsAdmin() {
				log.Warn().Stringer("user_id", principal.UserID).Str("path", r.URL.Path).Msg("auth: non-admin access denied")
				onError(w, r, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
