// Package registry implements the connection registry (spec component
// C7): three indexes (sessions, sessions-by-user, rooms-by-name), session
// lifecycle, room authorization, and heartbeat/idle eviction. It is
// adapted from a virtual-cell (actor) design: every user with at least one
// live session owns an isolated mailbox goroutine, so a slow device never
// blocks delivery to the user's other devices or to the broker consumer
// that produced the event.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/webitel/journal-sync/internal/domain/event"
	"github.com/webitel/journal-sync/internal/domain/model"
)

// EntryOwnership is the external collaborator consulted to authorize
// joining an "entry:<id>" room; the entry service itself is out of scope.
type EntryOwnership interface {
	UserOwnsEntry(ctx context.Context, userID model.UserID, entryID string) (bool, error)
}

var ErrRoomDenied = errors.New("registry: room join denied")
var ErrRoomShape = errors.New("registry: unrecognized room shape")

// Hubber is the external API consumed by transport handlers and the sync
// engine.
type Hubber interface {
	Attach(s Session)
	Detach(sessionID string, userID model.UserID)
	Join(ctx context.Context, sessionID string, userID model.UserID, room string) error
	Leave(sessionID string, room string)
	SendToSession(sessionID string, ev event.Eventer) bool
	BroadcastToUser(userID model.UserID, ev event.Eventer) bool
	BroadcastToRoom(room string, ev event.Eventer, except string)
	Touch(sessionID string)
	IsConnected(userID model.UserID) bool
	Shutdown(ctx context.Context)
}

type roomMembers struct {
	mu       sync.RWMutex
	sessions map[string]struct{}
}

// Hub implements Hubber.
type Hub struct {
	cells    sync.Map // model.UserID -> *cell
	sessions sync.Map // sessionID -> Session
	rooms    sync.Map // room name -> *roomMembers

	ownership EntryOwnership
	logger    *slog.Logger

	evictionInterval time.Duration
	idleTimeout      time.Duration
	heartbeatInterval time.Duration
	mailboxSize      int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewHub(ownership EntryOwnership, logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		ownership:         ownership,
		logger:            logger,
		evictionInterval:  1 * time.Minute,
		idleTimeout:       60 * time.Second, // T_idle default, spec §4.C7 / §6.3
		heartbeatInterval: 30 * time.Second, // T_hb default
		mailboxSize:       1024,
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.wg.Add(2)
	go h.runEvictor()
	go h.runHeartbeat()
	return h
}

func (h *Hub) IsConnected(userID model.UserID) bool {
	val, ok := h.cells.Load(userID)
	return ok && val.(*cell).sessionCount() > 0
}

// Attach registers a new session: stores it for direct addressing,
// auto-joins "user:<UserID>", attaches it to the user's cell, and
// transitions it Connecting -> Open.
func (h *Hub) Attach(s Session) {
	h.sessions.Store(s.ID(), s)

	val, _ := h.cells.LoadOrStore(s.UserID(), newCell(s.UserID(), h.mailboxSize))
	c := val.(*cell)
	c.attach(s)

	if underlying, ok := s.(*session); ok {
		underlying.state.Store(int32(model.Open))
	}

	userRoom := "user:" + string(s.UserID())
	h.addToRoom(userRoom, s.ID())

	h.logger.Info("session attached", "session_id", s.ID(), "user_id", s.UserID())
	h.emitPresence(s.UserID(), "online")
}

// Detach removes a session from every index and room; empty non-global
// rooms are discarded. The session's own Close (transport-driven) is the
// caller's responsibility — Detach only updates registry bookkeeping.
func (h *Hub) Detach(sessionID string, userID model.UserID) {
	h.sessions.Delete(sessionID)

	h.rooms.Range(func(key, value any) bool {
		rm := value.(*roomMembers)
		rm.mu.Lock()
		delete(rm.sessions, sessionID)
		empty := len(rm.sessions) == 0
		rm.mu.Unlock()
		if empty {
			h.rooms.Delete(key)
		}
		return true
	})

	if val, ok := h.cells.Load(userID); ok {
		c := val.(*cell)
		c.detach(sessionID)
	}

	h.logger.Info("session detached", "session_id", sessionID, "user_id", userID)
	h.emitPresence(userID, "offline")
}

// Join authorizes and adds a session to a subscription room. "user:<u>" is
// allowed iff u == session's own user id; "entry:<e>" is allowed iff the
// external entry service confirms ownership. Any other shape is rejected.
func (h *Hub) Join(ctx context.Context, sessionID string, userID model.UserID, room string) error {
	switch {
	case strings.HasPrefix(room, "user:"):
		target := strings.TrimPrefix(room, "user:")
		if model.UserID(target) != userID {
			return fmt.Errorf("%w: user room %q does not belong to caller", ErrRoomDenied, room)
		}
	case strings.HasPrefix(room, "entry:"):
		entryID := strings.TrimPrefix(room, "entry:")
		owns, err := h.ownership.UserOwnsEntry(ctx, userID, entryID)
		if err != nil {
			return fmt.Errorf("registry: ownership check failed: %w", err)
		}
		if !owns {
			return fmt.Errorf("%w: user does not own entry %q", ErrRoomDenied, entryID)
		}
	default:
		return fmt.Errorf("%w: %q", ErrRoomShape, room)
	}

	h.addToRoom(room, sessionID)
	return nil
}

// Leave is idempotent: removing a non-member is a no-op.
func (h *Hub) Leave(sessionID string, room string) {
	val, ok := h.rooms.Load(room)
	if !ok {
		return
	}
	rm := val.(*roomMembers)
	rm.mu.Lock()
	delete(rm.sessions, sessionID)
	empty := len(rm.sessions) == 0
	rm.mu.Unlock()
	if empty {
		h.rooms.Delete(room)
	}
}

func (h *Hub) addToRoom(room, sessionID string) {
	val, _ := h.rooms.LoadOrStore(room, &roomMembers{sessions: make(map[string]struct{})})
	rm := val.(*roomMembers)
	rm.mu.Lock()
	rm.sessions[sessionID] = struct{}{}
	rm.mu.Unlock()
}

func (h *Hub) SendToSession(sessionID string, ev event.Eventer) bool {
	val, ok := h.sessions.Load(sessionID)
	if !ok {
		return false
	}
	return val.(Session).Send(ev, 250*time.Millisecond)
}

// BroadcastToUser routes ev into the user's cell mailbox; the cell's actor
// loop fans it out to all of that user's Open sessions.
func (h *Hub) BroadcastToUser(userID model.UserID, ev event.Eventer) bool {
	val, ok := h.cells.Load(userID)
	if !ok {
		return false
	}
	return val.(*cell).push(ev)
}

// BroadcastToRoom sends directly to every session in the room except the
// optional excluded one. Unlike BroadcastToUser, this bypasses the
// per-user mailbox because room membership can span rooms that are not
// simply "all of one user's devices" (e.g. a future multi-subscriber
// room); for this spec's room shapes only one user's sessions ever join a
// given room, but the direct-send path keeps the contract general.
func (h *Hub) BroadcastToRoom(room string, ev event.Eventer, except string) {
	val, ok := h.rooms.Load(room)
	if !ok {
		return
	}
	rm := val.(*roomMembers)
	rm.mu.RLock()
	ids := make([]string, 0, len(rm.sessions))
	for id := range rm.sessions {
		ids = append(ids, id)
	}
	rm.mu.RUnlock()

	for _, id := range ids {
		if id == except {
			continue
		}
		if sv, ok := h.sessions.Load(id); ok {
			sv.(Session).Send(ev, 250*time.Millisecond)
		}
	}
}

func (h *Hub) Touch(sessionID string) {
	if val, ok := h.sessions.Load(sessionID); ok {
		val.(Session).Touch()
	}
}

func (h *Hub) emitPresence(userID model.UserID, status string) {
	active := 0
	if val, ok := h.cells.Load(userID); ok {
		active = val.(*cell).sessionCount()
	}
	ev := event.NewPresenceEvent("", userID, 0, map[string]any{
		"status":        status,
		"activeDevices": active,
	})
	h.BroadcastToUser(userID, ev)
}

func (h *Hub) runEvictor() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.performEviction()
		}
	}
}

func (h *Hub) performEviction() {
	h.sessions.Range(func(key, value any) bool {
		s := value.(Session)
		if time.Since(s.LastActivity()) > h.idleTimeout {
			s.markClosing()
			s.Close()
			h.Detach(key.(string), s.UserID())
		}
		return true
	})

	reaped := 0
	h.cells.Range(func(key, value any) bool {
		c := value.(*cell)
		if c.isIdle(h.idleTimeout) {
			c.stop()
			h.cells.Delete(key)
			reaped++
		}
		return true
	})
	if reaped > 0 {
		h.logger.Info("registry eviction complete", "reclaimed_cells", reaped)
	}
}

// runHeartbeat pings every attached session each tick; sessions that miss
// the idle timeout are closed by the evictor on the next pass, so the
// heartbeat's job here is only to advance the liveness signal (pong
// replies Touch the session from the transport layer).
func (h *Hub) runHeartbeat() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.sessions.Range(func(_, value any) bool {
				s := value.(Session)
				if s.State() != model.Open {
					return true
				}
				ping := event.NewSystemEvent("", s.UserID(), "ping", 0, nil)
				s.Send(ping, 250*time.Millisecond)
				return true
			})
		}
	}
}

// Shutdown sends a close frame's worth of signal (via the "server
// shutting down" system event) to every session, then stops all cells.
// The grace period for workers to drain is the caller's responsibility
// (ctx's deadline); Shutdown itself does not block past that.
func (h *Hub) Shutdown(ctx context.Context) {
	close(h.stopCh)

	h.sessions.Range(func(_, value any) bool {
		s := value.(Session)
		notice := event.NewSystemEvent("", s.UserID(), "shutdown", 0, map[string]any{"reason": "server shutting down"})
		s.Send(notice, 50*time.Millisecond)
		return true
	})

	h.cells.Range(func(key, value any) bool {
		value.(*cell).stop()
		h.cells.Delete(key)
		return true
	})

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
