package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/helyxium/trustcore/account"
	"github.com/helyxium/trustcore/session"
)

type contextKey int

const principalKey contextKey = iota

const sessionCookieName = "trustcore_session"

type principal struct {
	session session.Session
	profile *account.UserProfile
}

// AuthMiddleware resolves the session from the session cookie or an
// "Authorization: Bearer" header and stores it on the request context.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		s, p, err := a.auth.ValidateSession(r.Context(), token)
		if err != nil {
			mapError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, principal{session: s, profile: p})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func principalFromContext(ctx context.Context) principal {
	p, _ := ctx.Value(principalKey).(principal)
	return p
}

func writeSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
		Expires:  expiresAt,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
