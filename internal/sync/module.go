package sync

import (
	"go.uber.org/fx"

	"github.com/webitel/journal-sync/internal/adapter/pubsub"
	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/domain/registry"
	"github.com/webitel/journal-sync/internal/sync/entitystore"
)

// Module provides the sync Engine over the in-memory EntityStore. A
// deployment with a real external data store supplies its own
// EntityStore and omits entitystore's provider. The Hubber the Engine
// receives is decorated with cross-node fan-out so a realtime data
// broadcast (C8's own hub.BroadcastToUser call) reaches every device of
// a user regardless of which node holds which of their sessions.
var Module = fx.Module(
	"sync",
	fx.Decorate(pubsub.DecorateHub),
	fx.Provide(
		fx.Annotate(entitystore.NewMemory, fx.As(new(EntityStore))),
		func(hub registry.Hubber, clk clock.Clock, store EntityStore) *Engine {
			return NewEngine(hub, clk, store)
		},
	),
)
