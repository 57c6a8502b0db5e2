package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/journal-sync/internal/broker"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) NewID() string  { return "fixed-id" }
func (c *fakeClock) Stamp() int64   { return c.now.UnixNano() }

func TestSendAndReceiveRoundTrips(t *testing.T) {
	b := New(&fakeClock{now: time.Now()})
	q, err := b.Queue(broker.Jobs)
	require.NoError(t, err)

	require.NoError(t, q.Send(context.Background(), []byte("hello"), 0))

	msgs, err := q.Receive(context.Background(), 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", string(msgs[0].Body))
	assert.Equal(t, 1, msgs[0].DeliveryCount)
}

func TestReceiveTimesOutWhenEmpty(t *testing.T) {
	b := New(&fakeClock{now: time.Now()})
	q, err := b.Queue(broker.Email)
	require.NoError(t, err)

	msgs, err := q.Receive(context.Background(), 1, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAckRemovesMessagePermanently(t *testing.T) {
	b := New(&fakeClock{now: time.Now()})
	q, err := b.Queue(broker.Files)
	require.NoError(t, err)

	require.NoError(t, q.Send(context.Background(), []byte("x"), 0))
	msgs, err := q.Receive(context.Background(), 1, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.Ack(context.Background(), msgs[0].Handle))
	assert.Error(t, q.Ack(context.Background(), msgs[0].Handle))
}

func TestNackRedeliversUntilMaxThenDeadLetters(t *testing.T) {
	b := New(&fakeClock{now: time.Now()})
	q, err := b.Queue(broker.SearchIndex)
	require.NoError(t, err)
	policy := broker.Policies[broker.SearchIndex]

	require.NoError(t, q.Send(context.Background(), []byte("payload"), 0))

	// Each receive+nack cycle increments the delivery count; the cycle that
	// brings it to policy.MaxRedelivery routes the message to dead-letters
	// instead of requeueing it.
	for i := 0; i < policy.MaxRedelivery-1; i++ {
		msgs, err := q.Receive(context.Background(), 1, time.Second)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.NoError(t, q.Nack(context.Background(), msgs[0].Handle))
	}

	msgs, err := q.Receive(context.Background(), 1, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, q.Nack(context.Background(), msgs[0].Handle))

	dlq := b.DeadLetters()
	dead, err := dlq.Receive(context.Background(), 1, time.Second)
	require.NoError(t, err)
	require.Len(t, dead, 1)

	letter, err := UnmarshalDeadLetter(dead[0].Body)
	require.NoError(t, err)
	assert.Equal(t, broker.SearchIndex, letter.SourceQueue)
}

func TestSendDelayDefersVisibility(t *testing.T) {
	b := New(&fakeClock{now: time.Now()})
	q, err := b.Queue(broker.Jobs)
	require.NoError(t, err)

	require.NoError(t, q.Send(context.Background(), []byte("delayed"), 30*time.Millisecond))

	msgs, err := q.Receive(context.Background(), 1, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs, "message should not be visible before its delay elapses")

	msgs, err = q.Receive(context.Background(), 1, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestUnknownQueueNameErrors(t *testing.T) {
	b := New(&fakeClock{now: time.Now()})
	_, err := b.Queue("not-a-real-queue")
	assert.Error(t, err)
}

func TestCloseStopsPendingTimers(t *testing.T) {
	b := New(&fakeClock{now: time.Now()})
	q, err := b.Queue(broker.Jobs)
	require.NoError(t, err)
	require.NoError(t, q.Send(context.Background(), []byte("x"), 0))
	_, err = q.Receive(context.Background(), 1, time.Second)
	require.NoError(t, err)

	assert.NoError(t, b.Close())
}
