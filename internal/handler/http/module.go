package http

import (
	"context"
	"log/slog"
	"net/http"

	"go.uber.org/fx"

	"github.com/webitel/journal-sync/config"
	"github.com/webitel/journal-sync/internal/auth"
	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/dispatch"
	"github.com/webitel/journal-sync/internal/domain/registry"
	"github.com/webitel/journal-sync/internal/notifstore"
	"github.com/webitel/journal-sync/internal/preference"
)

// Module provides the shared *http.ServeMux every HTTP-speaking handler
// package (this one, and internal/handler/ws) mounts its routes on, the
// REST router itself, and the *http.Server lifecycle.
var Module = fx.Module(
	"http-handler",
	fx.Provide(
		newMux,
		newRouter,
	),
	fx.Invoke(mountRouter, registerServer),
)

func newMux() *http.ServeMux {
	return http.NewServeMux()
}

func newRouter(
	verifier *auth.Verifier,
	dispatcher *dispatch.Dispatcher,
	store notifstore.Store,
	prefs preference.Store,
	hub registry.Hubber,
	clk clock.Clock,
	cfg *config.Config,
) http.Handler {
	return NewRouter(verifier, dispatcher, store, prefs, hub, clk, cfg.SessionMailboxSize)
}

func mountRouter(mux *http.ServeMux, router http.Handler) {
	mux.Handle("/api/", router)
}

func registerServer(lc fx.Lifecycle, mux *http.ServeMux, cfg *config.Config, logger *slog.Logger) {
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("http: server stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
