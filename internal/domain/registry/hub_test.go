package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/journal-sync/internal/domain/event"
	"github.com/webitel/journal-sync/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeOwnership struct {
	owners map[string]model.UserID
}

func (f *fakeOwnership) UserOwnsEntry(ctx context.Context, userID model.UserID, entryID string) (bool, error) {
	owner, ok := f.owners[entryID]
	return ok && owner == userID, nil
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(&fakeOwnership{owners: map[string]model.UserID{"e1": "u1"}}, testLogger(),
		WithEvictionInterval(time.Hour),
		WithHeartbeatInterval(time.Hour),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hub.Shutdown(ctx)
	})
	return hub
}

var sessionSeq atomic.Int64

// attachSession builds a session with an id unique within the test
// binary, so two sessions of the same user are tracked separately.
func attachSession(userID model.UserID, bufferSize int) Session {
	id := fmt.Sprintf("%s-sess-%d", userID, sessionSeq.Add(1))
	return NewSession(context.Background(), id, userID, model.ClientMeta{}, bufferSize)
}

// nextNonPresence returns the next event on s that is not a presence
// update, or nil if none arrives within timeout. Attach and Detach send
// presence updates to the user's own sessions, so tests looking for a
// particular broadcast skip them.
func nextNonPresence(s Session, timeout time.Duration) event.Eventer {
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-s.Recv():
			if !ok {
				return nil
			}
			if ev.GetKind() != event.KindPresence {
				return ev
			}
		case <-deadline:
			return nil
		}
	}
}

func TestAttachMarksSessionOpenAndConnected(t *testing.T) {
	hub := newTestHub(t)
	sess := attachSession("u1", 8)

	assert.False(t, hub.IsConnected("u1"))
	hub.Attach(sess)

	assert.True(t, hub.IsConnected("u1"))
	assert.Equal(t, model.Open, sess.State())
}

func TestDetachRemovesUserWhenLastSessionLeaves(t *testing.T) {
	hub := newTestHub(t)
	sess := attachSession("u1", 8)
	hub.Attach(sess)

	hub.Detach(sess.ID(), "u1")

	assert.False(t, hub.IsConnected("u1"))
}

func TestBroadcastToUserDeliversToAllOpenSessions(t *testing.T) {
	hub := newTestHub(t)
	s1 := attachSession("u1", 8)
	s2 := attachSession("u1", 8)
	hub.Attach(s1)
	hub.Attach(s2)

	ev := event.NewNotificationEvent("n1", "u1", 0, &model.Notification{ID: "n1"})
	delivered := hub.BroadcastToUser("u1", ev)
	require.True(t, delivered)

	got := nextNonPresence(s1, time.Second)
	require.NotNil(t, got, "s1 did not receive broadcast")
	assert.Equal(t, "n1", got.GetID())
	got = nextNonPresence(s2, time.Second)
	require.NotNil(t, got, "s2 did not receive broadcast")
	assert.Equal(t, "n1", got.GetID())
}

func TestBroadcastToUserExcludesOriginatingConnection(t *testing.T) {
	hub := newTestHub(t)
	s1 := attachSession("u1", 8)
	s2 := attachSession("u1", 8)
	hub.Attach(s1)
	hub.Attach(s2)

	ev := event.NewDataEvent("d1", "u1", 1, model.OpCreate, map[string]any{"x": 1}, s1.ID())
	hub.BroadcastToUser("u1", ev)

	got := nextNonPresence(s2, time.Second)
	require.NotNil(t, got, "s2 did not receive broadcast")
	assert.Equal(t, "d1", got.GetID())

	assert.Nil(t, nextNonPresence(s1, 50*time.Millisecond), "s1 should have been excluded from the broadcast")
}

func TestBroadcastToUserUnknownUserReturnsFalse(t *testing.T) {
	hub := newTestHub(t)
	ev := event.NewSystemEvent("s1", "nobody", "ack", 0, nil)
	assert.False(t, hub.BroadcastToUser("nobody", ev))
}

func TestJoinUserRoomAllowsOnlyOwnUser(t *testing.T) {
	hub := newTestHub(t)
	sess := attachSession("u1", 8)
	hub.Attach(sess)

	err := hub.Join(context.Background(), sess.ID(), "u1", "user:u1")
	assert.NoError(t, err)

	err = hub.Join(context.Background(), sess.ID(), "u1", "user:u2")
	assert.ErrorIs(t, err, ErrRoomDenied)
}

func TestJoinEntryRoomChecksOwnership(t *testing.T) {
	hub := newTestHub(t)
	sess := attachSession("u1", 8)
	hub.Attach(sess)

	err := hub.Join(context.Background(), sess.ID(), "u1", "entry:e1")
	assert.NoError(t, err)

	err = hub.Join(context.Background(), sess.ID(), "u2", "entry:e1")
	assert.ErrorIs(t, err, ErrRoomDenied)
}

func TestJoinRejectsUnrecognizedRoomShape(t *testing.T) {
	hub := newTestHub(t)
	err := hub.Join(context.Background(), "s1", "u1", "weird:room")
	assert.ErrorIs(t, err, ErrRoomShape)
}

func TestLeaveIsIdempotent(t *testing.T) {
	hub := newTestHub(t)
	hub.Leave("nonexistent-session", "user:u1")
}

func TestBroadcastToRoomSkipsExcludedSession(t *testing.T) {
	hub := newTestHub(t)
	s1 := attachSession("u1", 8)
	s2 := attachSession("u1", 8)
	hub.Attach(s1)
	hub.Attach(s2)
	require.NoError(t, hub.Join(context.Background(), s1.ID(), "u1", "entry:e1"))
	require.NoError(t, hub.Join(context.Background(), s2.ID(), "u1", "entry:e1"))

	ev := event.NewDataEvent("d2", "u1", 2, model.OpUpdate, nil, "")
	hub.BroadcastToRoom("entry:e1", ev, s1.ID())

	got := nextNonPresence(s2, time.Second)
	require.NotNil(t, got, "s2 did not receive room broadcast")
	assert.Equal(t, "d2", got.GetID())

	assert.Nil(t, nextNonPresence(s1, 50*time.Millisecond), "s1 was excluded and should not have received the event")
}

func TestSendToSessionUnknownSessionReturnsFalse(t *testing.T) {
	hub := newTestHub(t)
	assert.False(t, hub.SendToSession("nope", event.NewSystemEvent("a", "u1", "ping", 0, nil)))
}
