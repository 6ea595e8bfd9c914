package middleware

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/VideoTubeGo/pkg/errors"
	"github.com/utafrali/VideoTubeGo/pkg/httputil"
	"github.com/utafrali/VideoTubeGo/pkg/logger"
)

type contextKeyType string

const claimsKey contextKeyType = "auth_claims"

// Claims identifies the authenticated caller.
type Claims struct {
	UserID   string
	Email    string
	Username string
}

// TokenValidator validates an access token and returns the caller's claims.
type TokenValidator func(token string) (*Claims, error)

// Auth authenticates requests using the access token from cookieName or an
// "Authorization: Bearer" header. The cookie is tried first; a stale cookie
// falls through to the header. The caller's claims are stored in the
// request context.
func Auth(cookieName string, validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokens := accessTokens(r, cookieName)
			if len(tokens) == 0 {
				httputil.WriteError(w, r, apperrors.Unauthorized("unauthorized request"), nil)
				return
			}

			var claims *Claims
			for _, token := range tokens {
				c, err := validate(token)
				if err == nil && c != nil && c.UserID != "" {
					claims = c
					break
				}
			}
			if claims == nil {
				httputil.WriteError(w, r, apperrors.Unauthorized("invalid access token"), nil)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			ctx = logger.WithUserID(ctx, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// accessTokens returns the candidate tokens in the order they are tried.
func accessTokens(r *http.Request, cookieName string) []string {
	var tokens []string
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		tokens = append(tokens, c.Value)
	}

	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if found && strings.EqualFold(scheme, "bearer") {
		if token = strings.TrimSpace(token); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// ClaimsFromContext returns the claims stored by Auth, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	if c, ok := ctx.Value(claimsKey).(*Claims); ok {
		return c
	}
	return nil
}

// UserIDFromContext returns the authenticated user id, or "".
func UserIDFromContext(ctx context.Context) string {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.UserID
	}
	return ""
}
