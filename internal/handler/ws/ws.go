// Package ws implements the live transport (spec component C7's
// WebSocket binding): handshake authentication, the §6.1 JSON envelope,
// and the per-action dispatch into the sync engine (C8). Grounded on the
// teacher's own WebSocket handler — an upgrade, a registry subscription,
// and a pump loop — generalized from its single-purpose delivery pump
// into the richer subscribe/sync/presence/mutation protocol this spec
// requires.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webitel/journal-sync/internal/auth"
	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/domain/event"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/domain/registry"
	"github.com/webitel/journal-sync/internal/sync"
)

// Handler upgrades incoming connections to the live transport.
type Handler struct {
	hub       registry.Hubber
	engine    *sync.Engine
	verifier  *auth.Verifier
	clock     clock.Clock
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	mailboxSize int
	sendTimeout time.Duration
}

func NewHandler(hub registry.Hubber, engine *sync.Engine, verifier *auth.Verifier, clk clock.Clock, logger *slog.Logger, mailboxSize int, sendTimeout time.Duration) *Handler {
	return &Handler{
		hub:      hub,
		engine:   engine,
		verifier: verifier,
		clock:    clk,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mailboxSize: mailboxSize,
		sendTimeout: sendTimeout,
	}
}

// ServeHTTP authenticates the handshake, then upgrades and attaches a
// session to the registry. Authentication failure rejects the handshake
// with 401 before any upgrade happens, per spec §5's "unverifiable
// tokens are rejected at handshake" invariant; the token is never
// revalidated mid-session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		bearer, err := auth.BearerFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		tokenString = bearer
	}

	userID, err := h.verifier.Verify(r.Context(), tokenString)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	meta := model.ClientMeta{UserAgent: r.UserAgent(), RemoteIP: r.RemoteAddr}
	sessionID := h.clock.NewID()
	sess := registry.NewSession(r.Context(), sessionID, userID, meta, h.mailboxSize)

	h.hub.Attach(sess)
	defer h.hub.Detach(sessionID, userID)
	defer sess.Close()

	h.logger.Info("ws: session opened", "session_id", sessionID, "user_id", userID)

	done := make(chan struct{})
	go h.writePump(conn, sess, done)
	h.readPump(r.Context(), conn, sess, userID, sessionID)
	close(done)
}

// writePump drains the session's outbound mailbox onto the wire. It
// returns once the session channel closes (session evicted or closed
// elsewhere) or the read pump signals done.
func (h *Handler) writePump(conn *websocket.Conn, sess registry.Session, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-sess.Recv():
			if !ok {
				return
			}
			data, err := encodeServerEvent(ev)
			if err != nil {
				h.logger.Error("ws: encode outbound event failed", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("ws: write failed", "error", err)
				return
			}
		}
	}
}

// readPump decodes inbound envelopes and dispatches them until the
// connection errors or the context is cancelled.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, sess registry.Session, userID model.UserID, sessionID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sess.Touch()
		h.hub.Touch(sessionID)

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.sendSystemError(sess, userID, "", "malformed envelope")
			continue
		}

		h.dispatch(ctx, sess, userID, sessionID, env)
	}
}

func (h *Handler) dispatch(ctx context.Context, sess registry.Session, userID model.UserID, sessionID string, env envelope) {
	switch env.Action {
	case "subscribe", "unsubscribe":
		h.handleSubscription(ctx, sess, userID, sessionID, env)
	case "sync":
		h.handleSync(ctx, sess, userID, sessionID, env)
	case "presence":
		h.handlePresence(sess, userID, env)
	case "create", "update", "delete":
		h.handleMutation(ctx, sess, userID, sessionID, env)
	case "ping":
		h.replySystem(sess, userID, env.ID, "pong", nil)
	case "pong":
		// liveness mirror only; Touch already happened above.
	default:
		h.sendSystemError(sess, userID, env.ID, "unrecognized action")
	}
}

type subscribePayload struct {
	Channel string `json:"channel"`
}

func (h *Handler) handleSubscription(ctx context.Context, sess registry.Session, userID model.UserID, sessionID string, env envelope) {
	var p subscribePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		h.sendSystemError(sess, userID, env.ID, "invalid subscribe payload")
		return
	}

	if env.Action == "unsubscribe" {
		h.engine.Unsubscribe(sessionID, p.Channel)
		h.replySystem(sess, userID, env.ID, "ack", nil)
		return
	}

	if err := h.engine.Subscribe(ctx, sessionID, userID, p.Channel); err != nil {
		h.sendSystemError(sess, userID, env.ID, err.Error())
		return
	}
	h.replySystem(sess, userID, env.ID, "ack", nil)
}

type syncPayload struct {
	LastSyncTimestamp int64               `json:"lastSyncTimestamp"`
	DeviceID          string              `json:"deviceId"`
	Changes           []model.SyncChange  `json:"changes"`
}

type syncReplyPayload struct {
	Changes           []model.PendingDelta `json:"changes"`
	LastSyncTimestamp int64                `json:"lastSyncTimestamp"`
	SyncComplete      bool                 `json:"syncComplete"`
}

func (h *Handler) handleSync(ctx context.Context, sess registry.Session, userID model.UserID, sessionID string, env envelope) {
	var p syncPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		h.sendSystemError(sess, userID, env.ID, "invalid sync payload")
		return
	}

	result, err := h.engine.SyncPull(ctx, userID, sessionID, p.LastSyncTimestamp, p.Changes)
	if err != nil {
		h.sendSystemError(sess, userID, env.ID, err.Error())
		return
	}

	reply := syncReplyPayload{
		Changes:           result.Deltas,
		LastSyncTimestamp: result.HighWaterMark,
		SyncComplete:      true,
	}
	ev := newReply(h.clock.NewID(), event.KindSync, "sync", userID, reply, env.ID)
	sess.Send(ev, h.sendTimeout)
}

type presencePayload struct {
	Status          string `json:"status"`
	CurrentActivity string `json:"currentActivity,omitempty"`
}

func (h *Handler) handlePresence(sess registry.Session, userID model.UserID, env envelope) {
	var p presencePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		h.sendSystemError(sess, userID, env.ID, "invalid presence payload")
		return
	}
	if err := h.engine.SetPresence(userID, p.Status); err != nil {
		h.sendSystemError(sess, userID, env.ID, err.Error())
		return
	}
	h.replySystem(sess, userID, env.ID, "ack", nil)
}

type mutationPayload struct {
	ChangeID   string         `json:"changeId"`
	DeviceID   string         `json:"deviceId"`
	EntityKind string         `json:"entityKind"`
	EntityID   string         `json:"entityId"`
	Payload    map[string]any `json:"payload"`
	ClientTime int64          `json:"clientTimestamp"`
}

func (h *Handler) handleMutation(ctx context.Context, sess registry.Session, userID model.UserID, sessionID string, env envelope) {
	var p mutationPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		h.sendSystemError(sess, userID, env.ID, "invalid mutation payload")
		return
	}

	change := model.SyncChange{
		ChangeID:   p.ChangeID,
		DeviceID:   p.DeviceID,
		EntityKind: p.EntityKind,
		EntityID:   p.EntityID,
		Op:         model.ChangeOp(env.Action),
		Payload:    p.Payload,
		ClientTime: p.ClientTime,
	}

	result, err := h.engine.SyncPull(ctx, userID, sessionID, 0, []model.SyncChange{change})
	if err != nil || len(result.Results) == 0 {
		h.sendSystemError(sess, userID, env.ID, "mutation rejected")
		return
	}

	outcome := result.Results[0]
	if outcome.Status != model.ChangeAccepted {
		ev := newReply(h.clock.NewID(), event.KindSystem, "error", userID, outcome, env.ID)
		sess.Send(ev, h.sendTimeout)
		return
	}
	h.replySystem(sess, userID, env.ID, "ack", outcome)
}

// replySystem sends a system-kind reply to the message whose id is
// requestID, generating a fresh id for the reply itself and echoing
// requestID back as the reply's correlationId (spec §8 scenario 1) so the
// originating session can match the ack to its own request.
func (h *Handler) replySystem(sess registry.Session, userID model.UserID, requestID, action string, payload any) {
	sess.Send(newReply(h.clock.NewID(), event.KindSystem, action, userID, payload, requestID), h.sendTimeout)
}

func (h *Handler) sendSystemError(sess registry.Session, userID model.UserID, requestID, message string) {
	h.replySystem(sess, userID, requestID, "error", map[string]string{"message": message})
}
