package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	amqpwm "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/webitel/journal-sync/config"
)

// Module wires the watermill-amqp publisher and subscriber used for
// cross-node broadcast fan-out. It is independent of the durable job
// broker (internal/broker), which uses the raw amqp091-go client
// directly for work that must survive process restart.
var Module = fx.Module(
	"pubsub",
	fx.Provide(
		newWatermillConfig,
		newPublisher,
		newSubscriber,
		NewPublisher,
	),
)

func newWatermillConfig(cfg *config.Config) amqpwm.Config {
	c := amqpwm.NewDurablePubSubConfig(
		cfg.BroadcastAMQPURL,
		amqpwm.GenerateQueueNameTopicNameWithSuffix(cfg.NodeID),
	)
	c.Exchange.GenerateName = func(topic string) string { return cfg.BroadcastExchangeName }
	return c
}

func newPublisher(lc fx.Lifecycle, c amqpwm.Config, logger *slog.Logger) (message.Publisher, error) {
	pub, err := amqpwm.NewPublisher(c, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return pub.Close() }})
	return pub, nil
}

func newSubscriber(lc fx.Lifecycle, c amqpwm.Config, logger *slog.Logger) (message.Subscriber, error) {
	sub, err := amqpwm.NewSubscriber(c, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return sub.Close() }})
	return sub, nil
}
