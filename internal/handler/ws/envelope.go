package ws

import (
	"encoding/json"
	"time"

	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/domain/event"
	"github.com/webitel/journal-sync/internal/domain/model"
)

// envelope is the wire shape every live-transport message uses in both
// directions (spec §6.1). payload is kept raw on inbound decode so each
// action can unmarshal its own shape; outbound encode fills it from a
// concrete value.
type envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Action        string          `json:"action"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     string          `json:"timestamp"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

func encodeEnvelope(id, kind, action string, payload any, occurredAt int64, correlationID string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	ts := time.Now().UTC()
	if occurredAt != 0 {
		ts = time.UnixMilli(clock.StampToMillis(occurredAt)).UTC()
	}
	env := envelope{
		ID:            id,
		Type:          kind,
		Action:        action,
		Payload:       raw,
		Timestamp:     ts.Format(time.RFC3339Nano),
		CorrelationID: correlationID,
	}
	return json.Marshal(env)
}

// correlated is implemented by reply events constructed in this package
// so the outbound envelope can carry back the request's correlationId;
// events sourced from the registry (broadcasts) never carry one.
type correlated interface {
	CorrelationID() string
}

// encodeServerEvent maps a registry event.Eventer (delivered via a
// session's Recv channel) onto the wire envelope.
func encodeServerEvent(ev event.Eventer) ([]byte, error) {
	var correlationID string
	if c, ok := ev.(correlated); ok {
		correlationID = c.CorrelationID()
	}
	return encodeEnvelope(ev.GetID(), string(ev.GetKind()), ev.GetAction(), ev.GetPayload(), ev.GetOccurredAt(), correlationID)
}

// replyEvent is a server-originated reply to a specific client message.
// It implements event.Eventer so it travels through the same session
// mailbox (and therefore the same single writer goroutine) as
// registry-sourced broadcasts.
type replyEvent struct {
	id            string
	kind          event.Kind
	action        string
	userID        model.UserID
	payload       any
	correlationID string
}

func newReply(id string, kind event.Kind, action string, userID model.UserID, payload any, correlationID string) *replyEvent {
	return &replyEvent{id: id, kind: kind, action: action, userID: userID, payload: payload, correlationID: correlationID}
}

func (r *replyEvent) GetID() string              { return r.id }
func (r *replyEvent) GetKind() event.Kind         { return r.kind }
func (r *replyEvent) GetAction() string           { return r.action }
func (r *replyEvent) GetUserID() model.UserID     { return r.userID }
func (r *replyEvent) GetPriority() event.Priority { return event.PriorityHigh }
func (r *replyEvent) GetOccurredAt() int64        { return 0 }
func (r *replyEvent) GetPayload() any             { return r.payload }
func (r *replyEvent) ExcludeConn() string         { return "" }
func (r *replyEvent) CorrelationID() string       { return r.correlationID }
