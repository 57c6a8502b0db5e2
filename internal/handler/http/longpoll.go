package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/domain/event"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/domain/registry"
)

// longPollHandler is the fallback transport for clients that cannot hold
// a WebSocket open. It subscribes a throwaway session to the registry
// for the lifetime of one HTTP request, grounded directly on the
// teacher's long-poll handler: hold until an event arrives or 30s
// elapses, then drain up to a small batch before responding.
type longPollHandler struct {
	hub        registry.Hubber
	clock      clock.Clock
	mailboxSize int
}

const (
	longPollTimeout    = 30 * time.Second
	longPollDrainLimit = 15
)

func (h *longPollHandler) poll(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := h.clock.NewID()
	meta := model.ClientMeta{UserAgent: r.UserAgent(), RemoteIP: r.RemoteAddr}
	sess := registry.NewSession(r.Context(), sessionID, userID, meta, h.mailboxSize)

	h.hub.Attach(sess)
	defer h.hub.Detach(sessionID, userID)
	defer sess.Close()

	var events []event.Eventer

	select {
	case <-r.Context().Done():
		return

	case <-time.After(longPollTimeout):
		w.WriteHeader(http.StatusNoContent)
		return

	case ev, ok := <-sess.Recv():
		if !ok {
			return
		}
		events = append(events, ev)

	drainLoop:
		for range longPollDrainLimit {
			select {
			case next, ok := <-sess.Recv():
				if !ok {
					break drainLoop
				}
				events = append(events, next)
			default:
				break drainLoop
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(events)
}
