package inapp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/journal-sync/internal/domain/event"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/domain/registry"
	"github.com/webitel/journal-sync/internal/template"
)

type fakeHub struct {
	connected bool
	broadcast bool
	lastEvent event.Eventer
}

func (f *fakeHub) Attach(registry.Session)                            {}
func (f *fakeHub) Detach(string, model.UserID)                        {}
func (f *fakeHub) Join(context.Context, string, model.UserID, string) error { return nil }
func (f *fakeHub) Leave(string, string)                               {}
func (f *fakeHub) SendToSession(string, event.Eventer) bool           { return true }
func (f *fakeHub) BroadcastToUser(userID model.UserID, ev event.Eventer) bool {
	f.lastEvent = ev
	return f.broadcast
}
func (f *fakeHub) BroadcastToRoom(string, event.Eventer, string) {}
func (f *fakeHub) Touch(string)                                 {}
func (f *fakeHub) IsConnected(model.UserID) bool                { return f.connected }
func (f *fakeHub) Shutdown(context.Context)                     {}

func TestDeliverFailsWhenUserOffline(t *testing.T) {
	hub := &fakeHub{connected: false}
	a := New(hub)

	outcome, _, err := a.Deliver(context.Background(), model.Notification{ID: "n1", UserID: "u1"}, model.ChannelPreference{}, template.Payload{})
	assert.Equal(t, model.OutcomeFailed, outcome)
	assert.Error(t, err)
}

func TestDeliverSucceedsAndAppliesRenderedFields(t *testing.T) {
	hub := &fakeHub{connected: true, broadcast: true}
	a := New(hub)

	n := model.Notification{ID: "n1", UserID: "u1", Title: "orig", Message: "orig msg"}
	rendered := template.Payload{Title: "rendered title", Body: "rendered body", Data: map[string]any{"k": "v"}}

	outcome, _, err := a.Deliver(context.Background(), n, model.ChannelPreference{}, rendered)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeDelivered, outcome)

	sent, ok := hub.lastEvent.GetPayload().(*model.Notification)
	require.True(t, ok)
	assert.Equal(t, "rendered title", sent.Title)
	assert.Equal(t, "rendered body", sent.Message)
}

func TestDeliverFailsWhenBroadcastFindsNoSessions(t *testing.T) {
	hub := &fakeHub{connected: true, broadcast: false}
	a := New(hub)

	outcome, _, err := a.Deliver(context.Background(), model.Notification{ID: "n1", UserID: "u1"}, model.ChannelPreference{}, template.Payload{})
	assert.Equal(t, model.OutcomeFailed, outcome)
	assert.Error(t, err)
}

func TestChannelReportsInApp(t *testing.T) {
	a := New(&fakeHub{})
	assert.Equal(t, model.ChannelInApp, a.Channel())
}
