// Package inapp implements the live-connection channel adapter: it
// consults the connection registry (spec component C7) for the user's
// live sessions and pushes the notification as an event on the user's
// cell mailbox.
package inapp

import (
	"context"

	"github.com/webitel/journal-sync/internal/domain/event"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/domain/registry"
	"github.com/webitel/journal-sync/internal/template"
)

// Adapter is the live-connection channel.Adapter.
type Adapter struct {
	hub registry.Hubber
}

func New(hub registry.Hubber) *Adapter {
	return &Adapter{hub: hub}
}

func (a *Adapter) Channel() model.Channel { return model.ChannelInApp }

func (a *Adapter) Deliver(ctx context.Context, n model.Notification, pref model.ChannelPreference, rendered template.Payload) (model.DeliveryOutcome, string, error) {
	if !a.hub.IsConnected(n.UserID) {
		return model.OutcomeFailed, "", errOffline
	}

	payload := n
	if rendered.Title != "" {
		payload.Title = rendered.Title
	}
	if rendered.Body != "" {
		payload.Message = rendered.Body
	}
	if rendered.Data != nil {
		payload.Data = rendered.Data
	}

	ev := event.NewNotificationEvent(n.ID, n.UserID, 0, &payload)

	if a.hub.BroadcastToUser(n.UserID, ev) {
		return model.OutcomeDelivered, "", nil
	}
	return model.OutcomeFailed, "", errOffline
}

var errOffline = offlineError{}

type offlineError struct{}

func (offlineError) Error() string { return "offline" }
