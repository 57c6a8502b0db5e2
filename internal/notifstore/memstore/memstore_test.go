package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/notifstore"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) NewID() string  { return "fixed-id" }
func (c *fakeClock) Stamp() int64   { return c.now.UnixNano() }

func TestCreateAndGet(t *testing.T) {
	s := New(&fakeClock{now: time.Now()})
	n := model.Notification{ID: "n1", UserID: "u1", Status: model.StatusPending}
	require.NoError(t, s.Create(context.Background(), &n))

	got, err := s.Get(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, "n1", got.ID)
}

func TestGetUnknownReturnsErrNotFound(t *testing.T) {
	s := New(&fakeClock{now: time.Now()})
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, notifstore.ErrNotFound)
}

func TestMarkDeliveredRequiresPending(t *testing.T) {
	s := New(&fakeClock{now: time.Now()})
	n := model.Notification{ID: "n1", UserID: "u1", Status: model.StatusFailed}
	require.NoError(t, s.Create(context.Background(), &n))

	_, err := s.MarkDelivered(context.Background(), "n1")
	assert.ErrorIs(t, err, notifstore.ErrInvalidTransition)
}

func TestMarkDeliveredThenReadTransitions(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	s := New(clk)
	n := model.Notification{ID: "n1", UserID: "u1", Status: model.StatusPending}
	require.NoError(t, s.Create(context.Background(), &n))

	delivered, err := s.MarkDelivered(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, delivered.Status)
	require.NotNil(t, delivered.DeliveredAt)

	read, err := s.MarkRead(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, read.Status)
	require.NotNil(t, read.ReadAt)
}

func TestMarkReadRequiresDelivered(t *testing.T) {
	s := New(&fakeClock{now: time.Now()})
	n := model.Notification{ID: "n1", UserID: "u1", Status: model.StatusPending}
	require.NoError(t, s.Create(context.Background(), &n))

	_, err := s.MarkRead(context.Background(), "n1")
	assert.ErrorIs(t, err, notifstore.ErrInvalidTransition)
}

func TestMarkFailedRejectsTerminalStatus(t *testing.T) {
	s := New(&fakeClock{now: time.Now()})
	n := model.Notification{ID: "n1", UserID: "u1", Status: model.StatusRead}
	require.NoError(t, s.Create(context.Background(), &n))

	_, err := s.MarkFailed(context.Background(), "n1")
	assert.ErrorIs(t, err, notifstore.ErrInvalidTransition)
}

func TestListByUserNewestFirstWithFilterAndPagination(t *testing.T) {
	s := New(&fakeClock{now: time.Now()})
	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		n := model.Notification{ID: id, UserID: "u1", Status: model.StatusPending, Type: "mention"}
		require.NoError(t, s.Create(context.Background(), &n))
	}

	page, err := s.ListByUser(context.Background(), "u1", notifstore.ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Notifications, 2)
	assert.Equal(t, "c", page.Notifications[0].ID)
	assert.NotEmpty(t, page.NextCursor)

	next, err := s.ListByUser(context.Background(), "u1", notifstore.ListFilter{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, next.Notifications, 1)
	assert.Empty(t, next.NextCursor)
}

func TestListByUserFiltersByStatus(t *testing.T) {
	s := New(&fakeClock{now: time.Now()})
	require.NoError(t, s.Create(context.Background(), &model.Notification{ID: "n1", UserID: "u1", Status: model.StatusPending}))
	require.NoError(t, s.Create(context.Background(), &model.Notification{ID: "n2", UserID: "u1", Status: model.StatusRead}))

	page, err := s.ListByUser(context.Background(), "u1", notifstore.ListFilter{Status: model.StatusRead})
	require.NoError(t, err)
	require.Len(t, page.Notifications, 1)
	assert.Equal(t, "n2", page.Notifications[0].ID)
}

func TestAppendAndFetchDeliveryLog(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	s := New(clk)
	require.NoError(t, s.AppendDeliveryLog(context.Background(), model.DeliveryLogEntry{NotificationID: "n1", Channel: model.ChannelEmail, Outcome: model.OutcomeSent, SentAt: clk.now}))

	entries, err := s.DeliveryLogFor(context.Background(), "n1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ChannelEmail, entries[0].Channel)
}

func TestBatchStatsCreateAndIncrement(t *testing.T) {
	s := New(&fakeClock{now: time.Now()})
	require.NoError(t, s.CreateBatch(context.Background(), model.BatchStats{BatchID: "b1", Total: 10}))
	require.NoError(t, s.IncrementBatchStats(context.Background(), "b1", 5, 3, 2, 1))

	got, err := s.GetBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Sent)
	assert.Equal(t, 3, got.Delivered)
	assert.Equal(t, 2, got.Failed)
	assert.Equal(t, 1, got.Read)
}

func TestIncrementBatchStatsUnknownBatchErrors(t *testing.T) {
	s := New(&fakeClock{now: time.Now()})
	err := s.IncrementBatchStats(context.Background(), "missing", 1, 0, 0, 0)
	assert.ErrorIs(t, err, notifstore.ErrNotFound)
}

func TestDeleteTerminalOlderThanRemovesOnlyTerminalAndOld(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)}
	s := New(clk)

	old := model.Notification{ID: "old", UserID: "u1", Status: model.StatusRead, UpdatedAt: clk.now.Add(-48 * time.Hour)}
	recent := model.Notification{ID: "recent", UserID: "u1", Status: model.StatusRead, UpdatedAt: clk.now}
	pending := model.Notification{ID: "pending", UserID: "u1", Status: model.StatusPending, UpdatedAt: clk.now.Add(-48 * time.Hour)}
	require.NoError(t, s.Create(context.Background(), &old))
	require.NoError(t, s.Create(context.Background(), &recent))
	require.NoError(t, s.Create(context.Background(), &pending))

	removed, err := s.DeleteTerminalOlderThan(context.Background(), clk.now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Get(context.Background(), "old")
	assert.ErrorIs(t, err, notifstore.ErrNotFound)
	_, err = s.Get(context.Background(), "recent")
	assert.NoError(t, err)
	_, err = s.Get(context.Background(), "pending")
	assert.NoError(t, err)
}
