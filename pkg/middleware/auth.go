package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
	"github.com/isopen-io/meeshy-sub020/internal/core/services"
)

type contextKey string

const identityKey contextKey = "identity"

// IdentityFromContext returns the authenticated identity placed there by
// Auth. The second return is false on unauthenticated requests.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey).(domain.Identity)
	return id, ok
}

// Auth validates the bearer token and injects the resulting identity into
// the request context. It accepts the token from the Authorization header
// or, for websocket upgrades where headers are awkward for browsers, from
// the access_token query parameter.
func Auth(tokenSvc *services.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				http.Error(w, "authorization required", http.StatusUnauthorized)
				return
			}
			identity, err := tokenSvc.Validate(raw)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.Split(header, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}
