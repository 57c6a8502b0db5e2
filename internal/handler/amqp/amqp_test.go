package amqp

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/journal-sync/internal/adapter/pubsub"
	"github.com/webitel/journal-sync/internal/domain/event"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/domain/registry"
)

type fakeHub struct {
	mu        sync.Mutex
	connected map[model.UserID]bool
	delivered []model.UserID
}

func (f *fakeHub) Attach(registry.Session)                                 {}
func (f *fakeHub) Detach(string, model.UserID)                             {}
func (f *fakeHub) Join(context.Context, string, model.UserID, string) error { return nil }
func (f *fakeHub) Leave(string, string)                                    {}
func (f *fakeHub) SendToSession(string, event.Eventer) bool                { return true }
func (f *fakeHub) BroadcastToUser(userID model.UserID, ev event.Eventer) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, userID)
	return true
}
func (f *fakeHub) BroadcastToRoom(string, event.Eventer, string) {}
func (f *fakeHub) Touch(string)                                 {}
func (f *fakeHub) IsConnected(userID model.UserID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[userID]
}
func (f *fakeHub) Shutdown(context.Context) {}

func (f *fakeHub) deliveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestConsumerDeliversOnlyToLocallyConnectedUser(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })

	hub := &fakeHub{connected: map[model.UserID]bool{"u1": true}}
	consumer := NewConsumer(ps, hub, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go consumer.Run(ctx)

	time.Sleep(20 * time.Millisecond) // let Subscribe register before Publish

	local := event.NewDataEvent("d1", "u1", 1, model.OpUpdate, nil, "")
	remote := event.NewDataEvent("d2", "u2", 2, model.OpUpdate, nil, "")

	publishEncoded(t, ps, local)
	publishEncoded(t, ps, remote)

	require.Eventually(t, func() bool { return hub.deliveredCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []model.UserID{"u1"}, hub.delivered)
}

func publishEncoded(t *testing.T, ps *gochannel.GoChannel, ev event.Eventer) {
	t.Helper()
	pub := pubsub.NewPublisher(ps)
	require.NoError(t, pub.Publish(context.Background(), ev))
}
