package registry

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/journal-sync/config"
	"github.com/webitel/journal-sync/internal/domain/registry/ownership"
)

// Module provides the Hub behind the Hubber interface, backed by an
// in-memory EntryOwnership stand-in for the out-of-scope external entry
// service (spec's "entry:<id>" room authorization). A deployment with a
// real entry service supplies its own EntryOwnership and omits this
// provider.
var Module = fx.Module("registry",
	fx.Provide(
		fx.Annotate(
			ownership.NewMemory,
			fx.As(new(EntryOwnership)),
		),
		fx.Annotate(
			func(own EntryOwnership, logger *slog.Logger, cfg *config.Config) *Hub {
				return NewHub(own, logger,
					WithIdleTimeout(cfg.SessionIdleTimeout),
					WithHeartbeatInterval(cfg.SessionHeartbeatPeriod),
				)
			},
			fx.As(new(Hubber)),
		),
	),
)
