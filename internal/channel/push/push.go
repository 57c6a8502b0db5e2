// Package push implements the push channel adapter: APNS2 for iOS device
// tokens, Firebase Cloud Messaging for Android ones, aggregated into one
// delivery outcome per spec §4.C6 ("delivered iff at least one token
// succeeded").
package push

import (
	"context"
	"fmt"
	"net/http"

	"firebase.google.com/go/v4/messaging"
	"github.com/sideshow/apns2"

	"github.com/webitel/journal-sync/internal/channel"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/template"
)

// APNSClient is the subset of *apns2.Client the adapter needs, so tests
// can substitute a fake.
type APNSClient interface {
	PushWithContext(ctx context.Context, n *apns2.Notification) (*apns2.Response, error)
}

// FCMClient is the subset of *messaging.Client the adapter needs.
type FCMClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Adapter is the APNS2+FCM-backed channel.Adapter for the push channel.
type Adapter struct {
	apns   APNSClient
	fcm    FCMClient
	topic  string
	tokens channel.DeviceTokenStore
}

func New(apns APNSClient, fcm FCMClient, topic string, tokens channel.DeviceTokenStore) *Adapter {
	return &Adapter{apns: apns, fcm: fcm, topic: topic, tokens: tokens}
}

func (a *Adapter) Channel() model.Channel { return model.ChannelPush }

func (a *Adapter) Deliver(ctx context.Context, n model.Notification, pref model.ChannelPreference, rendered template.Payload) (model.DeliveryOutcome, string, error) {
	devices, err := a.tokens.TokensFor(ctx, n.UserID)
	if err != nil {
		return model.OutcomeFailed, "", fmt.Errorf("push: lookup tokens: %w", err)
	}
	if len(devices) == 0 {
		return model.OutcomeFailed, "", fmt.Errorf("push: user %s has no registered device tokens", n.UserID)
	}

	var iosTokens, androidTokens []string
	for _, d := range devices {
		switch d.Platform {
		case "ios":
			iosTokens = append(iosTokens, d.Token)
		case "android":
			androidTokens = append(androidTokens, d.Token)
		}
	}

	succeeded := 0
	var lastErr error

	for _, tok := range iosTokens {
		notification := &apns2.Notification{
			DeviceToken: tok,
			Topic:       a.topic,
			Payload: map[string]any{
				"aps": map[string]any{
					"alert": map[string]any{"title": rendered.Title, "body": rendered.Body},
					"sound": "default",
				},
				"data": rendered.Data,
			},
		}
		switch n.Priority {
		case model.PriorityHigh, model.PriorityUrgent:
			notification.Priority = apns2.PriorityHigh
		case model.PriorityLow:
			notification.Priority = apns2.PriorityLow
		}
		res, err := a.apns.PushWithContext(ctx, notification)
		if err != nil {
			lastErr = fmt.Errorf("push: apns: %w", err)
			continue
		}
		if res.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("push: apns rejected token: %s", res.Reason)
			continue
		}
		succeeded++
	}

	if len(androidTokens) > 0 {
		msg := &messaging.MulticastMessage{
			Tokens: androidTokens,
			Notification: &messaging.Notification{
				Title: rendered.Title,
				Body:  rendered.Body,
			},
			Data: stringify(rendered.Data),
		}
		br, err := a.fcm.SendEachForMulticast(ctx, msg)
		if err != nil {
			lastErr = fmt.Errorf("push: fcm: %w", err)
		} else {
			succeeded += br.SuccessCount
			if br.FailureCount > 0 {
				lastErr = fmt.Errorf("push: %d fcm tokens failed", br.FailureCount)
			}
		}
	}

	if succeeded == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("push: no eligible device tokens")
		}
		return model.OutcomeFailed, "", lastErr
	}
	return model.OutcomeDelivered, "", nil
}

func stringify(data map[string]any) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = fmt.Sprint(v)
	}
	return out
}
