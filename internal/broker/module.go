package broker

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/journal-sync/config"
	"github.com/webitel/journal-sync/internal/broker/amqp"
	"github.com/webitel/journal-sync/internal/broker/memory"
	"github.com/webitel/journal-sync/internal/clock"
)

// Module provides the broker.Broker backend selected by
// config.Config.BrokerBackend.
var Module = fx.Module(
	"broker",
	fx.Provide(newBroker),
)

func newBroker(lc fx.Lifecycle, cfg *config.Config, clk clock.Clock, logger *slog.Logger) (Broker, error) {
	switch cfg.BrokerBackend {
	case "amqp":
		b, err := amqp.Dial(cfg.BrokerAMQPURL, clk, logger)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return b.Close() },
		})
		return b, nil
	case "memory", "":
		return memory.New(clk), nil
	default:
		return nil, fmt.Errorf("broker: unknown backend %q", cfg.BrokerBackend)
	}
}
