// Package pubsub carries realtime broadcasts between service nodes so a
// user's devices stay in sync regardless of which node's registry (C7)
// they are attached to. It sits beside, not inside, the durable job
// broker (internal/broker): that one survives process restarts for
// outbound channel delivery, this one is a best-effort fan-out — a node
// that misses a broadcast catches up on the receiving device's next
// Sync-pull.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/webitel/journal-sync/internal/domain/event"
	"github.com/webitel/journal-sync/internal/domain/model"
)

// wireEvent is the JSON envelope carried on the broadcast exchange. It
// mirrors event.Eventer closely enough that marshalling either side is a
// thin mapping, the same design choice the registry's event package
// documents for the live transport envelope.
type wireEvent struct {
	ID         string      `json:"id"`
	Kind       event.Kind  `json:"kind"`
	Action     string      `json:"action"`
	UserID     model.UserID `json:"userId"`
	Priority   event.Priority `json:"priority"`
	OccurredAt int64       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
	Exclude    string      `json:"exclude,omitempty"`
}

func encode(ev event.Eventer) ([]byte, error) {
	payload, err := json.Marshal(ev.GetPayload())
	if err != nil {
		return nil, fmt.Errorf("pubsub: marshal event payload: %w", err)
	}
	w := wireEvent{
		ID:         ev.GetID(),
		Kind:       ev.GetKind(),
		Action:     ev.GetAction(),
		UserID:     ev.GetUserID(),
		Priority:   ev.GetPriority(),
		OccurredAt: ev.GetOccurredAt(),
		Payload:    payload,
		Exclude:    ev.ExcludeConn(),
	}
	return json.Marshal(w)
}

// Decode parses a wire envelope back into an Eventer. Exported for the
// amqp handler package's Consumer, which applies the locality filter
// before handing the decoded event to the registry.
func Decode(body []byte) (event.Eventer, error) {
	return decode(body)
}

func decode(body []byte) (event.Eventer, error) {
	var w wireEvent
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("pubsub: unmarshal wire event: %w", err)
	}
	var payload any
	if len(w.Payload) > 0 {
		if err := json.Unmarshal(w.Payload, &payload); err != nil {
			return nil, fmt.Errorf("pubsub: unmarshal wire event payload: %w", err)
		}
	}
	if w.Kind == event.KindData {
		return event.NewDataEvent(w.ID, w.UserID, w.OccurredAt, model.ChangeOp(w.Action), payload, w.Exclude), nil
	}
	return event.New(w.ID, w.Kind, w.Action, w.UserID, w.Priority, w.OccurredAt, payload), nil
}

// BroadcastTopic is the single watermill topic every node publishes to
// and subscribes from; per-node queue uniqueness (so every node, not
// just one, receives each broadcast) comes from the queue name, not the
// topic.
const BroadcastTopic = "broadcast"

// Publisher fans an Eventer out to every other node. Publish never blocks
// on a remote node's availability: failures are logged by the caller and
// dropped, matching the "best-effort" nature of cross-node broadcast.
type Publisher struct {
	pub message.Publisher
}

func NewPublisher(pub message.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

func (p *Publisher) Publish(ctx context.Context, ev event.Eventer) error {
	body, err := encode(ev)
	if err != nil {
		return err
	}
	msg := message.NewMessage(ev.GetID(), body)
	msg.SetContext(ctx)
	if err := p.pub.Publish(BroadcastTopic, msg); err != nil {
		return fmt.Errorf("pubsub: publish broadcast: %w", err)
	}
	return nil
}
