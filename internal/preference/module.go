package preference

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/webitel/journal-sync/config"
	"github.com/webitel/journal-sync/internal/preference/memstore"
	"github.com/webitel/journal-sync/internal/preference/postgres"
)

// Module provides the preference.Store backend selected by
// config.Config.PreferenceBackend.
var Module = fx.Module(
	"preference",
	fx.Provide(newStore),
)

func newStore(cfg *config.Config) (Store, error) {
	switch cfg.PreferenceBackend {
	case "postgres":
		store, err := postgres.Connect(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(); err != nil {
			return nil, err
		}
		return store, nil
	case "memory", "":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("preference: unknown backend %q", cfg.PreferenceBackend)
	}
}
