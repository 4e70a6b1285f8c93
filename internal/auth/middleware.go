package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"file-service/internal/httputil"
	"file-service/internal/policy"
)

type contextKey string

const principalKey contextKey = "principal"

const cookieName = "token"

// Middleware requires a valid access token from the Authorization header or
// the token cookie and stores the caller's Principal in the request context.
func Middleware(tokens *TokenIssuer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				logger.InfoContext(r.Context(), "no access token", "path", r.URL.Path)
				httputil.RespondWithError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			principal, err := tokens.ValidateAccessToken(raw)
			if err != nil {
				logger.InfoContext(r.Context(), "invalid token", "path", r.URL.Path, "error", err)
				httputil.RespondWithError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

func WithPrincipal(ctx context.Context, p *policy.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the authenticated caller, or nil.
func PrincipalFrom(ctx context.Context) *policy.Principal {
	p, _ := ctx.Value(principalKey).(*policy.Principal)
	return p
}

// SetAuthCookie sets the access token in an HttpOnly cookie
func SetAuthCookie(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	// Lax lets the reset link and Postman work locally
	sameSite := http.SameSiteStrictMode
	if !secure {
		sameSite = http.SameSiteLaxMode
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
	})
}

// ClearAuthCookie removes the auth cookie
func ClearAuthCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
		MaxAge:   -1,
	})
}
