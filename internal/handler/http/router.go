package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/webitel/journal-sync/internal/auth"
	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/dispatch"
	"github.com/webitel/journal-sync/internal/domain/registry"
	"github.com/webitel/journal-sync/internal/notifstore"
	"github.com/webitel/journal-sync/internal/preference"
)

// NewRouter assembles the REST surface (notifications, preferences) and
// the long-poll fallback behind the shared auth middleware.
func NewRouter(
	verifier *auth.Verifier,
	dispatcher *dispatch.Dispatcher,
	store notifstore.Store,
	prefs preference.Store,
	hub registry.Hubber,
	clk clock.Clock,
	mailboxSize int,
) http.Handler {
	r := chi.NewRouter()

	notifications := &notificationsResource{dispatcher: dispatcher, store: store}
	preferences := &preferencesResource{store: prefs}
	poll := &longPollHandler{hub: hub, clock: clk, mailboxSize: mailboxSize}

	r.Route("/api/notifications", func(r chi.Router) {
		r.Use(requireAuth(verifier))
		notifications.routes(r)
	})
	r.Route("/api/preferences", func(r chi.Router) {
		r.Use(requireAuth(verifier))
		preferences.routes(r)
	})
	r.With(requireAuth(verifier)).Get("/api/poll", poll.poll)

	return r
}
