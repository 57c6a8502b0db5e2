package http

import (
	"context"
	"net/http"

	"github.com/webitel/journal-sync/internal/auth"
	"github.com/webitel/journal-sync/internal/domain/model"
)

type contextKey string

const userIDContextKey contextKey = "user_id"

// requireAuth verifies the bearer token on every REST and long-poll
// request and injects the resulting UserID into the request context,
// mirroring the same token-first authentication the live transport's
// handshake performs.
func requireAuth(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := auth.BearerFromHeader(r.Header.Get("Authorization"))
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			userID, err := verifier.Verify(r.Context(), tokenString)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userIDFromContext(ctx context.Context) (model.UserID, bool) {
	userID, ok := ctx.Value(userIDContextKey).(model.UserID)
	return userID, ok
}
