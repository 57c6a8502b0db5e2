package channel

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"
	"go.uber.org/fx"
	"google.golang.org/api/option"

	"github.com/webitel/journal-sync/config"
	"github.com/webitel/journal-sync/internal/channel/directory"
	"github.com/webitel/journal-sync/internal/channel/inapp"
	"github.com/webitel/journal-sync/internal/channel/mail"
	"github.com/webitel/journal-sync/internal/channel/push"
	"github.com/webitel/journal-sync/internal/channel/text"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/domain/registry"
)

// Adapters maps each channel to the adapter that serves it. Dispatch
// (spec component C9) looks up the channel it needs to try next from
// this map.
type Adapters map[model.Channel]Adapter

// Module provides the directory/device-token test doubles and wires
// every channel adapter the domain stack supports.
var Module = fx.Module(
	"channel",
	fx.Provide(
		fx.Annotate(
			directory.NewMemory,
			fx.As(new(Directory)),
			fx.As(new(DeviceTokenStore)),
		),
		newAdapters,
	),
)

func newAdapters(cfg *config.Config, hub registry.Hubber, dir Directory, tokens DeviceTokenStore) (Adapters, error) {
	adapters := Adapters{
		model.ChannelInApp: inapp.New(hub),
	}

	if cfg.SendgridAPIKey != "" {
		adapters[model.ChannelEmail] = mail.New(cfg.SendgridAPIKey, "notifications@journal-sync.local", dir)
	}

	if cfg.TwilioAccountSID != "" {
		adapters[model.ChannelText] = text.New(
			cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber,
			cfg.TwilioMessagingServiceSIDTransactional, cfg.TwilioMessagingServiceSIDPromotional,
		)
	}

	if cfg.APNSKeyFile != "" || cfg.FCMProjectID != "" {
		apnsClient, err := newAPNSClient(cfg)
		if err != nil {
			return nil, err
		}
		fcmClient, err := newFCMClient(cfg)
		if err != nil {
			return nil, err
		}
		adapters[model.ChannelPush] = push.New(apnsClient, fcmClient, cfg.APNSTopic, tokens)
	}

	return adapters, nil
}

func newAPNSClient(cfg *config.Config) (*apns2.Client, error) {
	if cfg.APNSKeyFile == "" {
		return nil, nil
	}
	authKey, err := token.AuthKeyFromFile(cfg.APNSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("channel: load apns key: %w", err)
	}
	tok := &token.Token{AuthKey: authKey, KeyID: cfg.APNSKeyID, TeamID: cfg.APNSTeamID}
	client := apns2.NewTokenClient(tok)
	if cfg.Env != "prod" {
		client = client.Development()
	} else {
		client = client.Production()
	}
	return client, nil
}

func newFCMClient(cfg *config.Config) (*messaging.Client, error) {
	if cfg.FCMProjectID == "" {
		return nil, nil
	}
	ctx := context.Background()
	opts := []option.ClientOption{}
	if cfg.FCMCredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.FCMCredentialsJSON)))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FCMProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("channel: init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("channel: init fcm client: %w", err)
	}
	return client, nil
}
