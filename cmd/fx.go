package cmd

import (
	"log/slog"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/webitel/journal-sync/config"
	"github.com/webitel/journal-sync/internal/adapter/pubsub"
	"github.com/webitel/journal-sync/internal/auth"
	"github.com/webitel/journal-sync/internal/broker"
	"github.com/webitel/journal-sync/internal/channel"
	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/dispatch"
	"github.com/webitel/journal-sync/internal/domain/registry"
	"github.com/webitel/journal-sync/internal/handler/amqp"
	httphandler "github.com/webitel/journal-sync/internal/handler/http"
	"github.com/webitel/journal-sync/internal/handler/ws"
	"github.com/webitel/journal-sync/internal/notifstore"
	"github.com/webitel/journal-sync/internal/preference"
	"github.com/webitel/journal-sync/internal/scheduler"
	"github.com/webitel/journal-sync/internal/sync"
	"github.com/webitel/journal-sync/internal/template"
)

// NewApp assembles every domain module behind fx. Module boundaries
// follow the spec's component table (C1..C10) rather than Go package
// convention, mirroring how the teacher groups delivery/grpc/amqp/
// service into one fx graph.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			newLogger,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger}
		}),

		clock.Module,
		auth.Module,
		broker.Module,
		preference.Module,
		notifstore.Module,
		template.Module,
		channel.Module,
		registry.Module,
		pubsub.Module,
		sync.Module,
		dispatch.Module,
		scheduler.Module,

		amqp.Module,
		ws.Module,
		httphandler.Module,
	)
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
