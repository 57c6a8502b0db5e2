// Package amqp consumes this node's share of the cross-node broadcast
// exchange and re-delivers each event locally. It is the counterpart to
// internal/adapter/pubsub's Publisher, grounded on the same
// locality-filter/fan-out pattern: every node's queue receives every
// broadcast, but only the node whose registry actually holds the target
// user's live cell does anything with it.
package amqp

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/webitel/journal-sync/internal/adapter/pubsub"
	"github.com/webitel/journal-sync/internal/domain/registry"
)

// Consumer drains the broadcast subscription and hands locally-relevant
// events to the registry.
type Consumer struct {
	sub    message.Subscriber
	hub    registry.Hubber
	logger *slog.Logger
}

func NewConsumer(sub message.Subscriber, hub registry.Hubber, logger *slog.Logger) *Consumer {
	return &Consumer{sub: sub, hub: hub, logger: logger}
}

// Run subscribes to the broadcast topic and processes messages until ctx
// is cancelled. Like the registry's own queue consumers, a panic handling
// one message is recovered and logged rather than taking the loop down.
func (c *Consumer) Run(ctx context.Context) error {
	messages, err := c.sub.Subscribe(ctx, pubsub.BroadcastTopic)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.handle(msg)
		}
	}
}

func (c *Consumer) handle(msg *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("amqp handler: panic recovered", "panic", r, "stack", string(debug.Stack()))
			msg.Ack()
		}
	}()

	ev, err := pubsub.Decode(msg.Payload)
	if err != nil {
		c.logger.Error("amqp handler: decode broadcast failed, dropping", "error", err, "msg_id", msg.UUID)
		msg.Ack() // poison pill: no sane retry target
		return
	}

	// Locality filter: every node's queue receives every broadcast, but
	// only the node holding this user's live cell needs to act on it.
	if !c.hub.IsConnected(ev.GetUserID()) {
		msg.Ack()
		return
	}

	c.hub.BroadcastToUser(ev.GetUserID(), ev)
	msg.Ack()
}
