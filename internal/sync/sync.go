// Package sync implements the sync engine (spec component C8): the
// Sync-pull conflict rule, realtime data-change broadcast, subscription
// management, and presence, all layered on the connection registry (C7).
package sync

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/webitel/journal-sync/internal/apperr"
	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/domain/event"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/domain/registry"
)

// EntityStore is the external per-entity data store consulted for
// ownership checks and mutation persistence; the store itself (and its
// schema) is out of scope for this module.
type EntityStore interface {
	UserOwnsEntity(ctx context.Context, userID model.UserID, entityKind, entityID string) (bool, error)
	Persist(ctx context.Context, change model.SyncChange) error
}

// Engine is the C8 sync engine.
type Engine struct {
	hub   registry.Hubber
	clock clock.Clock
	store EntityStore

	mu             sync.Mutex
	lastServerTime map[string]int64                  // "entityKind:entityID" -> most recent accepted server timestamp
	deltas         map[model.UserID][]model.PendingDelta // append order == ServerTime order
}

func NewEngine(hub registry.Hubber, clk clock.Clock, store EntityStore) *Engine {
	return &Engine{
		hub:            hub,
		clock:          clk,
		store:          store,
		lastServerTime: make(map[string]int64),
		deltas:         make(map[model.UserID][]model.PendingDelta),
	}
}

// Subscribe enqueues a room join on the registry and reports the
// resulting status.
func (e *Engine) Subscribe(ctx context.Context, sessionID string, userID model.UserID, room string) error {
	return e.hub.Join(ctx, sessionID, userID, room)
}

// Unsubscribe mirrors Subscribe.
func (e *Engine) Unsubscribe(sessionID string, room string) {
	e.hub.Leave(sessionID, room)
}

// SyncPullResult is the response to one Sync-pull request.
type SyncPullResult struct {
	Results       []model.ChangeResult
	Deltas        []model.PendingDelta
	HighWaterMark int64
}

// SyncPull validates and persists each inbound change (applying the
// last-writer-wins conflict rule per entity), then returns every
// PendingDelta accepted for userID since lastSyncTimestamp.
func (e *Engine) SyncPull(ctx context.Context, userID model.UserID, originConn string, lastSyncTimestamp int64, changes []model.SyncChange) (SyncPullResult, error) {
	results := make([]model.ChangeResult, 0, len(changes))

	for _, change := range changes {
		change.UserID = userID
		result := e.acceptChange(ctx, change, originConn)
		results = append(results, result)
	}

	deltas, hwm := e.deltasSince(userID, lastSyncTimestamp)
	return SyncPullResult{Results: results, Deltas: deltas, HighWaterMark: hwm}, nil
}

func (e *Engine) acceptChange(ctx context.Context, change model.SyncChange, originConn string) model.ChangeResult {
	owns, err := e.store.UserOwnsEntity(ctx, change.UserID, change.EntityKind, change.EntityID)
	if err != nil {
		return model.ChangeResult{ChangeID: change.ChangeID, Status: model.ChangeError, Reason: "transient"}
	}
	if !owns {
		return model.ChangeResult{ChangeID: change.ChangeID, Status: model.ChangeError, Reason: "unauthorized"}
	}

	key := entityKey(change.EntityKind, change.EntityID)

	e.mu.Lock()
	lastTime := e.lastServerTime[key]
	e.mu.Unlock()

	if change.ClientTime < lastTime {
		return model.ChangeResult{ChangeID: change.ChangeID, Status: model.ChangeStale, Reason: "stale"}
	}

	change.ServerTime = e.clock.Stamp()
	if err := e.store.Persist(ctx, change); err != nil {
		return model.ChangeResult{ChangeID: change.ChangeID, Status: model.ChangeError, Reason: "transient"}
	}

	delta := model.PendingDelta{
		ID:         e.clock.NewID(),
		UserID:     change.UserID,
		EntityKind: change.EntityKind,
		EntityID:   change.EntityID,
		Op:         change.Op,
		Payload:    change.Payload,
		ServerTime: change.ServerTime,
		OriginConn: originConn,
	}

	e.mu.Lock()
	e.lastServerTime[key] = change.ServerTime
	e.deltas[change.UserID] = append(e.deltas[change.UserID], delta)
	e.mu.Unlock()

	e.broadcast(delta)

	return model.ChangeResult{ChangeID: change.ChangeID, Status: model.ChangeAccepted}
}

// PublishChange records and broadcasts a mutation that originated outside
// Sync-pull (the external CRUD API), per spec §4.C8 point 4.
func (e *Engine) PublishChange(userID model.UserID, entityKind, entityID string, op model.ChangeOp, payload map[string]any) model.PendingDelta {
	delta := model.PendingDelta{
		ID:         e.clock.NewID(),
		UserID:     userID,
		EntityKind: entityKind,
		EntityID:   entityID,
		Op:         op,
		Payload:    payload,
		ServerTime: e.clock.Stamp(),
	}

	key := entityKey(entityKind, entityID)
	e.mu.Lock()
	e.lastServerTime[key] = delta.ServerTime
	e.deltas[userID] = append(e.deltas[userID], delta)
	e.mu.Unlock()

	e.broadcast(delta)
	return delta
}

func (e *Engine) broadcast(delta model.PendingDelta) {
	ev := event.NewDataEvent(delta.ID, delta.UserID, delta.ServerTime, delta.Op, delta, delta.OriginConn)
	e.hub.BroadcastToUser(delta.UserID, ev)
}

func (e *Engine) deltasSince(userID model.UserID, lastSyncTimestamp int64) ([]model.PendingDelta, int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	all := e.deltas[userID]
	out := make([]model.PendingDelta, 0, len(all))
	hwm := lastSyncTimestamp
	for _, d := range all {
		if d.ServerTime > lastSyncTimestamp {
			out = append(out, d)
			if d.ServerTime > hwm {
				hwm = d.ServerTime
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerTime < out[j].ServerTime })
	return out, hwm
}

// SetPresence broadcasts an explicit client-requested presence update.
// status must be one of online, offline, away.
func (e *Engine) SetPresence(userID model.UserID, status string) error {
	switch status {
	case "online", "offline", "away":
	default:
		return apperr.Permanentf(nil, "sync: invalid presence status %q", status)
	}
	ev := event.NewPresenceEvent("", userID, 0, map[string]any{"status": status})
	e.hub.BroadcastToUser(userID, ev)
	return nil
}

func entityKey(kind, id string) string {
	return fmt.Sprintf("%s:%s", kind, id)
}
