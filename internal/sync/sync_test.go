package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/journal-sync/internal/domain/event"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/domain/registry"
)

type fakeClock struct {
	mu   sync.Mutex
	seq  int64
	now  time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) NewID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return "id-" + string(rune('a'+c.seq))
}
func (c *fakeClock) Stamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

type fakeHub struct {
	mu        sync.Mutex
	broadcast []event.Eventer
}

func (f *fakeHub) Attach(s registry.Session) {}
func (f *fakeHub) Detach(string, model.UserID)        {}
func (f *fakeHub) Join(ctx context.Context, sessionID string, userID model.UserID, room string) error {
	return nil
}
func (f *fakeHub) Leave(string, string) {}
func (f *fakeHub) SendToSession(string, event.Eventer) bool { return true }
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

func (f *fakeHub) last() event.Eventer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.broadcast) == 0 {
		return nil
	}
	return f.broadcast[len(f.broadcast)-1]
}

type fakeEntityStore struct {
	owned    map[string]bool
	persists []model.SyncChange
	failOwn  bool
}

func (s *fakeEntityStore) UserOwnsEntity(ctx context.Context, userID model.UserID, entityKind, entityID string) (bool, error) {
	if s.failOwn {
		return false, assertErr{}
	}
	return s.owned[entityKind+":"+entityID], nil
}

func (s *fakeEntityStore) Persist(ctx context.Context, change model.SyncChange) error {
	s.persists = append(s.persists, change)
	return nil
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func newTestEngine() (*Engine, *fakeHub, *fakeEntityStore) {
	hub := &fakeHub{}
	store := &fakeEntityStore{owned: map[string]bool{"entry:e1": true}}
	clk := &fakeClock{now: time.Now()}
	return NewEngine(hub, clk, store), hub, store
}

func TestSyncPullAcceptsOwnedChangeAndBroadcasts(t *testing.T) {
	engine, hub, store := newTestEngine()
	_ = store

	change := model.SyncChange{ChangeID: "c1", EntityKind: "entry", EntityID: "e1", Op: model.OpUpdate, ClientTime: 1}
	result, err := engine.SyncPull(context.Background(), "u1", "conn-1", 0, []model.SyncChange{change})

	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, model.ChangeAccepted, result.Results[0].Status)
	assert.NotNil(t, hub.last())
}

func TestSyncPullRejectsUnownedEntity(t *testing.T) {
	engine, _, _ := newTestEngine()

	change := model.SyncChange{ChangeID: "c1", EntityKind: "entry", EntityID: "unowned", Op: model.OpUpdate, ClientTime: 1}
	result, err := engine.SyncPull(context.Background(), "u1", "conn-1", 0, []model.SyncChange{change})

	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, model.ChangeError, result.Results[0].Status)
	assert.Equal(t, "unauthorized", result.Results[0].Reason)
}

func TestSyncPullRejectsStaleChange(t *testing.T) {
	engine, _, _ := newTestEngine()

	first := model.SyncChange{ChangeID: "c1", EntityKind: "entry", EntityID: "e1", Op: model.OpUpdate, ClientTime: 10}
	_, err := engine.SyncPull(context.Background(), "u1", "conn-1", 0, []model.SyncChange{first})
	require.NoError(t, err)

	stale := model.SyncChange{ChangeID: "c2", EntityKind: "entry", EntityID: "e1", Op: model.OpUpdate, ClientTime: 5}
	result, err := engine.SyncPull(context.Background(), "u1", "conn-1", 0, []model.SyncChange{stale})

	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, model.ChangeStale, result.Results[0].Status)
}

func TestSyncPullReturnsOnlyDeltasSinceWatermark(t *testing.T) {
	engine, _, _ := newTestEngine()

	for i, ct := range []int64{1, 2, 3} {
		change := model.SyncChange{ChangeID: string(rune('a' + i)), EntityKind: "entry", EntityID: "e1", Op: model.OpUpdate, ClientTime: ct}
		_, err := engine.SyncPull(context.Background(), "u1", "conn-1", 0, []model.SyncChange{change})
		require.NoError(t, err)
	}

	result, err := engine.SyncPull(context.Background(), "u1", "conn-2", 0, nil)
	require.NoError(t, err)
	assert.Len(t, result.Deltas, 3)

	midpoint := result.Deltas[0].ServerTime
	result2, err := engine.SyncPull(context.Background(), "u1", "conn-2", midpoint, nil)
	require.NoError(t, err)
	assert.Len(t, result2.Deltas, 2)
}

func TestSetPresenceRejectsInvalidStatus(t *testing.T) {
	engine, _, _ := newTestEngine()
	err := engine.SetPresence("u1", "asleep")
	assert.Error(t, err)
}

func TestSetPresenceBroadcastsValidStatus(t *testing.T) {
	engine, hub, _ := newTestEngine()
	err := engine.SetPresence("u1", "away")
	require.NoError(t, err)
	require.NotNil(t, hub.last())
	assert.Equal(t, event.KindPresence, hub.last().GetKind())
}

func TestPublishChangeRecordsAndBroadcasts(t *testing.T) {
	engine, hub, _ := newTestEngine()
	delta := engine.PublishChange("u1", "entry", "e2", model.OpCreate, map[string]any{"title": "x"})

	assert.Equal(t, "entry", delta.EntityKind)
	require.NotNil(t, hub.last())
	assert.Equal(t, delta.ID, hub.last().GetID())
}
