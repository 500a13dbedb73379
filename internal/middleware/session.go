package middleware

import (
	"context"
	"net/http"

	"github.com/zhouzirui/query-preprocess/backend/internal/model/session"
)

// CookieName carries the anonymous user id between requests.
const CookieName = "qp_uid"

type contextKey struct{}

// Ensurer resolves a user id to a live session.
type Ensurer interface {
	Ensure(ctx context.Context, userID string) session.Session
}

// Session ensures every request is bound to an anonymous session and
// (re)issues the cookie when the identifier changes.
func Session(sessions Ensurer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var current string
			if c, err := r.Cookie(CookieName); err == nil {
				current = c.Value
			}

			sess := sessions.Ensure(r.Context(), current)
			if sess.UserID != current {
				http.SetCookie(w, &http.Cookie{
					Name:     CookieName,
					Value:    sess.UserID,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), contextKey{}, sess.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID returns the user id bound by Session, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// WithUserID binds id to ctx; handlers under test use it in place of Session.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}
