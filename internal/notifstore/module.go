package notifstore

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/webitel/journal-sync/config"
	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/notifstore/memstore"
	"github.com/webitel/journal-sync/internal/notifstore/postgres"
)

// Module provides the notifstore.Store backend selected by
// config.Config.PreferenceBackend (the notification store shares the
// same backend toggle as the preference store: both live in the same
// Postgres instance in production).
var Module = fx.Module(
	"notifstore",
	fx.Provide(newStore),
)

func newStore(cfg *config.Config, clk clock.Clock) (Store, error) {
	switch cfg.PreferenceBackend {
	case "postgres":
		store, err := postgres.Connect(cfg.PostgresDSN, clk)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(); err != nil {
			return nil, err
		}
		return store, nil
	case "memory", "":
		return memstore.New(clk), nil
	default:
		return nil, fmt.Errorf("notifstore: unknown backend %q", cfg.PreferenceBackend)
	}
}
