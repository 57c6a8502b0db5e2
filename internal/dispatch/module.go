package dispatch

import (
	"context"

	"go.uber.org/fx"

	"github.com/webitel/journal-sync/internal/adapter/pubsub"
	"github.com/webitel/journal-sync/internal/scheduler"
)

// Module provides the Dispatcher and starts its background queue
// consumers alongside the fx application. The Hubber it receives is
// decorated with cross-node fan-out (internal/adapter/pubsub), since an
// in-app notification delivery (C9's own hub.BroadcastToUser call) must
// reach a recipient's devices regardless of which node they're attached
// to.
var Module = fx.Module(
	"dispatch",
	fx.Decorate(pubsub.DecorateHub),
	fx.Provide(
		NewDispatcher,
		func(d *Dispatcher) scheduler.ScheduledProcessor { return d },
	),
	fx.Invoke(registerWorkers),
)

func registerWorkers(lc fx.Lifecycle, d *Dispatcher) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var workerCtx context.Context
			workerCtx, cancel = context.WithCancel(context.Background())
			d.RunWorkers(workerCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}
