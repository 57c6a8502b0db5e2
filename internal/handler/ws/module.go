package ws

import (
	"log/slog"
	"net/http"

	"go.uber.org/fx"

	"github.com/webitel/journal-sync/config"
	"github.com/webitel/journal-sync/internal/auth"
	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/domain/registry"
	"github.com/webitel/journal-sync/internal/sync"
)

var Module = fx.Module(
	"ws-handler",
	fx.Provide(newHandler),
	fx.Invoke(mountRoute),
)

func newHandler(hub registry.Hubber, engine *sync.Engine, verifier *auth.Verifier, clk clock.Clock, logger *slog.Logger, cfg *config.Config) *Handler {
	return NewHandler(hub, engine, verifier, clk, logger, cfg.SessionMailboxSize, cfg.SessionSendTimeout)
}

// mountRoute registers the live-transport path (cfg.LiveSessionPath,
// default "/ws" per spec §6.3) on the shared mux.
func mountRoute(mux *http.ServeMux, h *Handler, cfg *config.Config) {
	mux.Handle(cfg.LiveSessionPath, h)
}
