package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/webitel/journal-sync/internal/apperr"
	"github.com/webitel/journal-sync/internal/dispatch"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/notifstore"
)

// notificationsResource exposes the REST surface over C9 (dispatch) and
// C4 (notifstore): send, list, mark-read, and batch send.
type notificationsResource struct {
	dispatcher *dispatch.Dispatcher
	store      notifstore.Store
}

func (res *notificationsResource) routes(r chi.Router) {
	r.Post("/", res.send)
	r.Get("/", res.list)
	r.Post("/{id}/read", res.markRead)
	r.Post("/batch", res.sendBatch)
}

func (res *notificationsResource) send(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req model.NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.UserID = userID

	n, err := res.dispatcher.Send(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (res *notificationsResource) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	filter := notifstore.ListFilter{
		Status: model.NotificationStatus(r.URL.Query().Get("status")),
		Type:   r.URL.Query().Get("type"),
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  50,
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}

	page, err := res.store.ListByUser(r.Context(), userID, filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (res *notificationsResource) markRead(w http.ResponseWriter, r *http.Request) {
	if _, ok := userIDFromContext(r.Context()); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	n, err := res.dispatcher.MarkRead(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

type sendBatchRequest struct {
	UserIDs  []model.UserID        `json:"userIds"`
	Type     string                `json:"type"`
	Data     map[string]any        `json:"data"`
	Channels []model.Channel       `json:"channels"`
	Priority model.Priority        `json:"priority"`
}

func (res *notificationsResource) sendBatch(w http.ResponseWriter, r *http.Request) {
	if _, ok := userIDFromContext(r.Context()); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req sendBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	stats, err := res.dispatcher.SendBatch(r.Context(), req.UserIDs, req.Type, req.Data, dispatch.BatchOptions{
		Channels: req.Channels,
		Priority: req.Priority,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeAppError maps an apperr.Kind to the HTTP status the error
// handling design (spec §7) implies for a synchronous caller.
func writeAppError(w http.ResponseWriter, err error) {
	switch apperr.KindOf(err) {
	case apperr.Unauthorized:
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case apperr.NotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case apperr.StaleChange:
		http.Error(w, err.Error(), http.StatusConflict)
	case apperr.Permanent:
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case apperr.Overload:
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
