package amqp

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module(
	"amqp-handler",
	fx.Provide(NewConsumer),
	fx.Invoke(registerConsumer),
)

func registerConsumer(lc fx.Lifecycle, c *Consumer) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() { _ = c.Run(ctx) }()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
