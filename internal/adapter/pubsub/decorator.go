package pubsub

import (
	"context"
	"log/slog"

	"github.com/webitel/journal-sync/internal/domain/event"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/domain/registry"
)

// broadcastingHub decorates a registry.Hubber so every BroadcastToUser
// call also fans out cross-node, in addition to the local delivery the
// inner Hubber already performs. A remote node's own
// internal/handler/amqp.Consumer re-enters BroadcastToUser locally, so a
// user whose devices are split across nodes still gets one consistent
// delivery order per device.
type broadcastingHub struct {
	registry.Hubber
	pub    *Publisher
	logger *slog.Logger
}

// DecorateHub wraps hub with cross-node fan-out. Wired via fx.Decorate,
// mirroring the teacher's own fx.Decorate use for middleware-wrapping a
// narrow interface rather than its concrete implementation.
func DecorateHub(hub registry.Hubber, pub *Publisher, logger *slog.Logger) registry.Hubber {
	return &broadcastingHub{Hubber: hub, pub: pub, logger: logger}
}

func (b *broadcastingHub) BroadcastToUser(userID model.UserID, ev event.Eventer) bool {
	delivered := b.Hubber.BroadcastToUser(userID, ev)

	if err := b.pub.Publish(context.Background(), ev); err != nil {
		b.logger.Warn("pubsub: cross-node broadcast publish failed", "user_id", userID, "error", err)
	}

	return delivered
}
