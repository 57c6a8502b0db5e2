package scheduler

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/journal-sync/config"
	"github.com/webitel/journal-sync/internal/broker"
	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/notifstore"
)

// Module provides the Reaper and starts its background loops alongside
// the fx application.
var Module = fx.Module(
	"scheduler",
	fx.Provide(newReaper),
	fx.Invoke(registerReaper),
)

func newReaper(
	cfg *config.Config,
	brokerB broker.Broker,
	store notifstore.Store,
	scheduled ScheduledProcessor,
	clk clock.Clock,
	logger *slog.Logger,
) *Reaper {
	return NewReaper(brokerB, store, scheduled, clk, cfg.NotificationRetention, cfg.RetentionTickInterval, logger)
}

func registerReaper(lc fx.Lifecycle, r *Reaper) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())
			r.Run(runCtx)
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
