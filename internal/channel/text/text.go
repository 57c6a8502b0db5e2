// Package text implements the text-message channel adapter over Twilio.
// Per spec §4.C6, urgent notifications are marked transactional, anything
// else promotional, and the endpoint comes from the user's own
// preference record rather than an external directory.
package text

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/template"
)

// Adapter is the Twilio-backed channel.Adapter for the text channel.
type Adapter struct {
	client                        *twilio.RestClient
	from                          string
	transactionalMessagingService string
	promotionalMessagingService   string
}

func New(accountSID, authToken, from, transactionalMessagingService, promotionalMessagingService string) *Adapter {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Adapter{
		client:                        client,
		from:                          from,
		transactionalMessagingService: transactionalMessagingService,
		promotionalMessagingService:   promotionalMessagingService,
	}
}

func (a *Adapter) Channel() model.Channel { return model.ChannelText }

func (a *Adapter) Deliver(ctx context.Context, n model.Notification, pref model.ChannelPreference, rendered template.Payload) (model.DeliveryOutcome, string, error) {
	if pref.Endpoint == "" {
		return model.OutcomeFailed, "", fmt.Errorf("text: user %s has no phone number on file", n.UserID)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(pref.Endpoint)
	params.SetBody(rendered.Text)

	// Twilio's transactional/promotional classification is configured on
	// the messaging service SID, not per-send, so urgent notifications go
	// out through the transactional service and everything else through
	// the promotional one. Falling back to the bare "from" number keeps
	// this adapter usable for deployments that haven't provisioned either
	// messaging service yet.
	if sid := a.messagingServiceFor(n.Priority); sid != "" {
		params.SetMessagingServiceSid(sid)
	} else {
		params.SetFrom(a.from)
	}

	msg, err := a.client.Api.CreateMessage(params)
	if err != nil {
		return model.OutcomeFailed, "", fmt.Errorf("text: twilio: %w", err)
	}

	providerID := ""
	if msg.Sid != nil {
		providerID = *msg.Sid
	}
	return model.OutcomeSent, providerID, nil
}

func (a *Adapter) messagingServiceFor(priority model.Priority) string {
	if priority == model.PriorityUrgent {
		return a.transactionalMessagingService
	}
	return a.promotionalMessagingService
}
