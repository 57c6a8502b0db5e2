package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/preference"
)

// preferencesResource exposes C3 (preference store) over REST.
type preferencesResource struct {
	store preference.Store
}

func (res *preferencesResource) routes(r chi.Router) {
	r.Get("/", res.get)
	r.Put("/", res.upsert)
}

func (res *preferencesResource) get(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	prefs, err := res.store.Get(r.Context(), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (res *preferencesResource) upsert(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var prefs model.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	// The authenticated caller's own id always wins; a client can never
	// write another user's preferences by supplying a different one.
	prefs.UserID = userID

	if err := res.store.Upsert(r.Context(), prefs); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}
