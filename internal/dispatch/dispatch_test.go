package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/journal-sync/internal/broker"
	brokermem "github.com/webitel/journal-sync/internal/broker/memory"
	"github.com/webitel/journal-sync/internal/channel"
	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/domain/event"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/domain/registry"
	"github.com/webitel/journal-sync/internal/notifstore/memstore"
	"github.com/webitel/journal-sync/internal/preference"
	prefmem "github.com/webitel/journal-sync/internal/preference/memstore"
	"github.com/webitel/journal-sync/internal/template"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) NewID() string  { return "fixed-id" }
func (c *fakeClock) Stamp() int64   { return c.now.UnixNano() }

type fakeRenderer struct {
	err error
}

func (r *fakeRenderer) Render(key template.Key, data template.Data) (template.Payload, error) {
	if r.err != nil {
		return template.Payload{}, r.err
	}
	return template.Payload{Title: data.Title, Body: data.Message}, nil
}

type fakeAdapter struct {
	ch      model.Channel
	outcome model.DeliveryOutcome
	err     error
}

func (a *fakeAdapter) Channel() model.Channel { return a.ch }
func (a *fakeAdapter) Deliver(ctx context.Context, n model.Notification, pref model.ChannelPreference, rendered template.Payload) (model.DeliveryOutcome, string, error) {
	if a.err != nil {
		return model.OutcomeFailed, "", a.err
	}
	return a.outcome, "provider-1", nil
}

type fakeHub struct {
	mu        sync.Mutex
	broadcast []event.Eventer
}

func (f *fakeHub) Attach(s registry.Session)                                    {}
func (f *fakeHub) Detach(string, model.UserID)                                  {}
func (f *fakeHub) Join(context.Context, string, model.UserID, string) error     { return nil }
func (f *fakeHub) Leave(string, string)                                        {}
func (f *fakeHub) SendToSession(string, event.Eventer) bool                    { return true }
func (f *fakeHub) BroadcastToUser(userID model.UserID, ev event.Eventer) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = append(f.broadcast, ev)
	return true
}
func (f *fakeHub) BroadcastToRoom(string, event.Eventer, string) {}
func (f *fakeHub) Touch(string)                                 {}
func (f *fakeHub) IsConnected(model.UserID) bool                { return true }
func (f *fakeHub) Shutdown(context.Context)                     {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T, adapters channel.Adapters, clk clock.Clock) (*Dispatcher, preference.Store, *fakeHub) {
	t.Helper()
	prefs := prefmem.New()
	store := memstore.New(clk)
	brk := brokermem.New(clk)
	hub := &fakeHub{}
	d := NewDispatcher(prefs, &fakeRenderer{}, adapters, store, brk, hub, clk, testLogger())
	return d, prefs, hub
}

func TestSendDeliversOverEnabledChannel(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)}
	adapters := channel.Adapters{model.ChannelInApp: &fakeAdapter{ch: model.ChannelInApp, outcome: model.OutcomeDelivered}}
	d, _, hub := newTestDispatcher(t, adapters, clk)

	req := model.NotificationRequest{UserID: "u1", Type: "mention", Channels: []model.Channel{model.ChannelInApp}, Priority: model.PriorityMedium, Title: "hi", Message: "there"}
	n, err := d.Send(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, n.Status)
	assert.Empty(t, hub.broadcast)
}

func TestSendMarksExpiredWhenNoChannelEnabled(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	d, prefs, _ := newTestDispatcher(t, channel.Adapters{}, clk)

	require.NoError(t, prefs.Upsert(context.Background(), model.Preferences{
		UserID:   "u1",
		Channels: map[model.Channel]model.ChannelPreference{model.ChannelText: {Enabled: false}},
	}))

	req := model.NotificationRequest{UserID: "u1", Type: "mention", Channels: []model.Channel{model.ChannelText}, Priority: model.PriorityMedium}
	n, err := d.Send(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, n.Status)
}

func TestSendMarksFailedWhenAllChannelsFail(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	adapters := channel.Adapters{model.ChannelInApp: &fakeAdapter{ch: model.ChannelInApp, err: assertErr{}}}
	d, _, _ := newTestDispatcher(t, adapters, clk)

	req := model.NotificationRequest{UserID: "u1", Type: "mention", Channels: []model.Channel{model.ChannelInApp}, Priority: model.PriorityMedium}
	n, err := d.Send(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, n.Status)
}

type assertErr struct{}

func (assertErr) Error() string { return "delivery failed" }

func TestSendDuringQuietHoursSchedulesInstead(t *testing.T) {
	// 2026-07-29 is a Wednesday.
	clk := &fakeClock{now: time.Date(2026, 7, 29, 23, 0, 0, 0, time.UTC)}
	adapters := channel.Adapters{model.ChannelInApp: &fakeAdapter{ch: model.ChannelInApp, outcome: model.OutcomeDelivered}}
	d, prefs, _ := newTestDispatcher(t, adapters, clk)

	require.NoError(t, prefs.Upsert(context.Background(), model.Preferences{
		UserID:            "u1",
		Channels:          map[model.Channel]model.ChannelPreference{model.ChannelInApp: {Enabled: true}},
		QuietHoursEnabled: true,
		QuietHours:        []model.QuietHoursWindow{{Weekday: time.Wednesday, Start: "22:00", End: "07:00"}},
	}))

	req := model.NotificationRequest{UserID: "u1", Type: "mention", Channels: []model.Channel{model.ChannelInApp}, Priority: model.PriorityMedium}
	n, err := d.Send(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, n.Status)
}

func TestSendUrgentBypassesQuietHours(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 7, 29, 23, 0, 0, 0, time.UTC)}
	adapters := channel.Adapters{model.ChannelInApp: &fakeAdapter{ch: model.ChannelInApp, outcome: model.OutcomeDelivered}}
	d, prefs, _ := newTestDispatcher(t, adapters, clk)

	require.NoError(t, prefs.Upsert(context.Background(), model.Preferences{
		UserID:            "u1",
		Channels:          map[model.Channel]model.ChannelPreference{model.ChannelInApp: {Enabled: true}},
		QuietHoursEnabled: true,
		QuietHours:        []model.QuietHoursWindow{{Weekday: time.Wednesday, Start: "22:00", End: "07:00"}},
	}))

	req := model.NotificationRequest{UserID: "u1", Type: "mention", Channels: []model.Channel{model.ChannelInApp}, Priority: model.PriorityUrgent}
	n, err := d.Send(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, n.Status)
}

func TestSendBatchShardsAcrossJobsQueue(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	adapters := channel.Adapters{model.ChannelInApp: &fakeAdapter{ch: model.ChannelInApp, outcome: model.OutcomeDelivered}}
	d, _, _ := newTestDispatcher(t, adapters, clk)

	userIDs := make([]model.UserID, 40)
	for i := range userIDs {
		userIDs[i] = model.UserID("u")
	}

	stats, err := d.SendBatch(context.Background(), userIDs, "mention", nil, BatchOptions{Channels: []model.Channel{model.ChannelInApp}, Priority: model.PriorityMedium})
	require.NoError(t, err)
	assert.Equal(t, len(userIDs), stats.Total)

	q, err := d.brokerB.Queue(broker.Jobs)
	require.NoError(t, err)

	msgs, err := q.Receive(context.Background(), 10, 100*time.Millisecond)
	require.NoError(t, err)
	assert.NotEmpty(t, msgs)
}

func TestMarkReadBroadcastsToOtherDevices(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	store := memstore.New(clk)
	n := model.Notification{ID: "n1", UserID: "u1", Status: model.StatusDelivered, CreatedAt: clk.Now(), UpdatedAt: clk.Now()}
	require.NoError(t, store.Create(context.Background(), &n))

	prefs := prefmem.New()
	brk := brokermem.New(clk)
	hub := &fakeHub{}
	d := NewDispatcher(prefs, &fakeRenderer{}, channel.Adapters{}, store, brk, hub, clk, testLogger())

	updated, err := d.MarkRead(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, updated.Status)
	require.Len(t, hub.broadcast, 1)
	assert.Equal(t, "notification-read", hub.broadcast[0].GetAction())
}

func TestMarkReadNotFound(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	store := memstore.New(clk)
	prefs := prefmem.New()
	brk := brokermem.New(clk)
	hub := &fakeHub{}
	d := NewDispatcher(prefs, &fakeRenderer{}, channel.Adapters{}, store, brk, hub, clk, testLogger())

	_, err := d.MarkRead(context.Background(), "nope")
	assert.Error(t, err)
}
