// Package mail implements the mail channel adapter over SendGrid,
// grounded on the donor repo's email.Sender/sendgrid adapter shape.
package mail

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/webitel/journal-sync/internal/channel"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/template"
)

// Adapter is the SendGrid-backed channel.Adapter for the mail channel.
type Adapter struct {
	from      string
	directory channel.Directory
	client    *sendgrid.Client
}

func New(apiKey, from string, directory channel.Directory) *Adapter {
	return &Adapter{
		from:      from,
		directory: directory,
		client:    sendgrid.NewSendClient(apiKey),
	}
}

func (a *Adapter) Channel() model.Channel { return model.ChannelEmail }

func (a *Adapter) Deliver(ctx context.Context, n model.Notification, pref model.ChannelPreference, rendered template.Payload) (model.DeliveryOutcome, string, error) {
	to, err := a.directory.EmailFor(ctx, n.UserID)
	if err != nil {
		return model.OutcomeFailed, "", fmt.Errorf("mail: lookup address: %w", err)
	}
	if to == "" {
		return model.OutcomeFailed, "", fmt.Errorf("mail: user %s has no registered e-mail address", n.UserID)
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail("", a.from))
	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", to))
	m.AddPersonalizations(p)
	m.Subject = rendered.Subject
	if rendered.Text != "" {
		m.AddContent(mail.NewContent("text/plain", rendered.Text))
	}
	if rendered.HTML != "" {
		m.AddContent(mail.NewContent("text/html", rendered.HTML))
	}

	resp, err := a.client.Send(m)
	if err != nil {
		return model.OutcomeFailed, "", fmt.Errorf("mail: sendgrid: %w", err)
	}
	switch {
	case resp.StatusCode >= 500:
		return model.OutcomeFailed, "", fmt.Errorf("mail: sendgrid transient error: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return model.OutcomeBounced, "", fmt.Errorf("mail: sendgrid rejected message: status %d body %s", resp.StatusCode, resp.Body)
	}
	return model.OutcomeSent, "", nil
}
