package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const listenerCookie = "listener_id"

type contextKey string

const listenerIDKey contextKey = "listenerID"

// SessionMiddleware ensures every request carries an opaque listener id in
// a cookie, creating one on first contact. The id only ever lives in the
// cookie and the liveness registry; it is never persisted in the catalog.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var listenerID string
		if c, err := r.Cookie(listenerCookie); err == nil && c.Value != "" {
			listenerID = c.Value
		} else {
			listenerID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     listenerCookie,
				Value:    listenerID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), listenerIDKey, listenerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ListenerIDFromContext extracts the session id set by SessionMiddleware.
func ListenerIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(listenerIDKey).(string)
	return id, ok && id != ""
}
