package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

type principalContextKey struct{}

// RequireAdminToken protege as rotas administrativas com um bearer token estático.
// Um token vazio desativa as rotas por completo.
func RequireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				WriteError(w, r, http.StatusForbidden, "admin_disabled", "admin API is disabled")
				return
			}
			presented := bearerToken(r)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				WriteError(w, r, http.StatusUnauthorized, "unauthorized", "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireServiceToken verifica o service token e guarda seu principal no contexto.
func RequireServiceToken(tokens ports.ServiceTokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				WriteError(w, r, http.StatusUnauthorized, "unauthorized", "missing service token")
				return
			}

			principal, err := tokens.Verify(r.Context(), raw)
			switch {
			case errors.Is(err, domain.ErrTokenRevoked):
				WriteError(w, r, http.StatusUnauthorized, "token_revoked", "service token has been revoked")
				return
			case err != nil:
				WriteError(w, r, http.StatusUnauthorized, "invalid_token", "service token is invalid")
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func PrincipalFromContext(ctx context.Context) (domain.ServicePrincipal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(domain.ServicePrincipal)
	return principal, ok
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
