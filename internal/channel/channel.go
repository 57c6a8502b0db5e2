// Package channel defines the uniform channel adapter contract (spec
// component C6) implemented by internal/channel/{inapp,mail,push,text}.
package channel

import (
	"context"

	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/template"
)

// Adapter delivers one notification over one transport. Implementations
// must be idempotent on retry: callers may invoke Deliver again with the
// same notification id after a crash or a redelivered job.
type Adapter interface {
	Channel() model.Channel
	Deliver(ctx context.Context, n model.Notification, pref model.ChannelPreference, rendered template.Payload) (model.DeliveryOutcome, string, error)
}

// Directory is the external user directory consulted for contact
// endpoints the preference record itself doesn't carry (e-mail address);
// the directory service itself is out of scope, mirroring how the
// connection registry treats entry ownership as an external collaborator.
type Directory interface {
	EmailFor(ctx context.Context, userID model.UserID) (string, error)
}

// DeviceToken is one registered push endpoint for a user.
type DeviceToken struct {
	Platform string // "ios" or "android"
	Token    string
}

// DeviceTokenStore is the external device-token registry consulted by the
// push adapter.
type DeviceTokenStore interface {
	TokensFor(ctx context.Context, userID model.UserID) ([]DeviceToken, error)
}
