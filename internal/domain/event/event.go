// Package event defines the envelope carried through the connection
// registry's mailboxes, mirroring the wire envelope in the live transport
// spec (§6.1) closely enough that marshalling is a thin mapping.
package event

import (
	"encoding/json"
	"time"

	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/domain/model"
)

// Kind is the top-level "type" field of the wire envelope.
type Kind string

const (
	KindSystem       Kind = "system"
	KindSync         Kind = "sync"
	KindPresence     Kind = "presence"
	KindNotification Kind = "notification"
	KindData         Kind = "data"
)

// Priority is carried on every event. Session send buffers and per-user
// mailboxes do not consult it: a full buffer rejects an event whatever
// its priority.
type Priority int32

const (
	PriorityLow    Priority = 10
	PriorityNormal Priority = 20
	PriorityHigh   Priority = 30
)

// Eventer is the contract for everything flowing through a user's registry
// entry and out over the wire.
type Eventer interface {
	GetID() string
	GetKind() Kind
	GetAction() string
	GetUserID() model.UserID
	GetPriority() Priority
	GetOccurredAt() int64
	GetPayload() any
	// ExcludeConn is the session id a broadcast should skip (the
	// originating session of a data mutation), or "" to send to everyone.
	ExcludeConn() string
}

type baseEvent struct {
	id         string
	kind       Kind
	action     string
	userID     model.UserID
	priority   Priority
	occurredAt int64
	payload    any
	exclude    string
}

func (e *baseEvent) GetID() string            { return e.id }
func (e *baseEvent) GetKind() Kind             { return e.kind }
func (e *baseEvent) GetAction() string         { return e.action }
func (e *baseEvent) GetUserID() model.UserID   { return e.userID }
func (e *baseEvent) GetPriority() Priority     { return e.priority }
func (e *baseEvent) GetOccurredAt() int64      { return e.occurredAt }
func (e *baseEvent) GetPayload() any           { return e.payload }
func (e *baseEvent) ExcludeConn() string       { return e.exclude }

// wireEnvelope mirrors the live transport's §6.1 JSON shape.
type wireEnvelope struct {
	ID        string `json:"id"`
	Type      Kind   `json:"type"`
	Action    string `json:"action"`
	UserID    model.UserID `json:"userId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
}

// MarshalJSON lets a baseEvent serialize directly to the wire envelope
// wherever it is passed to encoding/json (e.g. the long-poll transport's
// batched response), without every caller re-deriving the shape from the
// Eventer accessors by hand.
func (e *baseEvent) MarshalJSON() ([]byte, error) {
	ts := time.Now().UTC()
	if e.occurredAt != 0 {
		ts = time.UnixMilli(clock.StampToMillis(e.occurredAt)).UTC()
	}
	return json.Marshal(wireEnvelope{
		ID:        e.id,
		Type:      e.kind,
		Action:    e.action,
		UserID:    e.userID,
		Payload:   e.payload,
		Timestamp: ts.Format(time.RFC3339Nano),
	})
}

// New builds a generic event. Most callers use one of the typed
// constructors below; New stays exported for adapters/tests that need a
// bespoke action string.
func New(id string, kind Kind, action string, userID model.UserID, priority Priority, occurredAt int64, payload any) Eventer {
	return &baseEvent{id: id, kind: kind, action: action, userID: userID, priority: priority, occurredAt: occurredAt, payload: payload}
}

// NewDataEvent builds a realtime data-change broadcast (sync engine → other devices).
func NewDataEvent(id string, userID model.UserID, occurredAt int64, op model.ChangeOp, payload any, excludeConn string) Eventer {
	return &baseEvent{
		id: id, kind: KindData, action: string(op), userID: userID,
		priority: PriorityNormal, occurredAt: occurredAt, payload: payload, exclude: excludeConn,
	}
}

// NewSystemEvent builds a system-level message (connected, ack, error, pong).
func NewSystemEvent(id string, userID model.UserID, action string, occurredAt int64, payload any) Eventer {
	return &baseEvent{id: id, kind: KindSystem, action: action, userID: userID, priority: PriorityHigh, occurredAt: occurredAt, payload: payload}
}

// NewPresenceEvent builds a presence broadcast.
func NewPresenceEvent(id string, userID model.UserID, occurredAt int64, payload any) Eventer {
	return &baseEvent{id: id, kind: KindPresence, action: "presence", userID: userID, priority: PriorityLow, occurredAt: occurredAt, payload: payload}
}

// NewNotificationEvent builds an in-app notification delivery.
func NewNotificationEvent(id string, userID model.UserID, occurredAt int64, n *model.Notification) Eventer {
	return &baseEvent{id: id, kind: KindNotification, action: "deliver", userID: userID, priority: PriorityHigh, occurredAt: occurredAt, payload: n}
}
