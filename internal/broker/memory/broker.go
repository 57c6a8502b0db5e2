// Package memory implements an in-process broker.Broker over buffered
// channels and timers. It is the default backend for tests and
// single-node deployments; internal/broker/amqp provides the durable
// production backend against the same broker.Queue contract so both
// satisfy identical behavior.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/webitel/journal-sync/internal/broker"
	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/domain/model"
)

// Broker is an in-memory broker.Broker.
type Broker struct {
	clock  clock.Clock
	queues map[string]*Queue
	dlq    *Queue
}

func New(clk clock.Clock) *Broker {
	if clk == nil {
		clk = clock.New()
	}
	b := &Broker{clock: clk, queues: make(map[string]*Queue)}
	b.dlq = newQueue(broker.DeadLetters, broker.Policy{VisibilityTimeout: time.Hour, MaxRedelivery: 1 << 30}, clk, nil)
	for name, policy := range broker.Policies {
		b.queues[name] = newQueue(name, policy, clk, b.dlq)
	}
	return b
}

func (b *Broker) Queue(name string) (broker.Queue, error) {
	q, ok := b.queues[name]
	if !ok {
		return nil, fmt.Errorf("memory broker: unknown queue %q", name)
	}
	return q, nil
}

func (b *Broker) DeadLetters() broker.Queue { return b.dlq }

func (b *Broker) Close() error {
	for _, q := range b.queues {
		q.close()
	}
	b.dlq.close()
	return nil
}

// inflightMsg tracks one message currently out for delivery.
type inflightMsg struct {
	handle        string
	body          []byte
	enqueuedAt    time.Time
	deliveryCount int
	timer         *time.Timer
	lastError     string
}

// Queue is an in-memory broker.Queue.
type Queue struct {
	name   string
	policy broker.Policy
	clock  clock.Clock
	dlq    *Queue

	ready chan *inflightMsg

	mu       sync.Mutex
	inflight map[string]*inflightMsg
	closed   bool
}

func newQueue(name string, policy broker.Policy, clk clock.Clock, dlq *Queue) *Queue {
	return &Queue{
		name:     name,
		policy:   policy,
		clock:    clk,
		dlq:      dlq,
		ready:    make(chan *inflightMsg, 100000),
		inflight: make(map[string]*inflightMsg),
	}
}

func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for _, m := range q.inflight {
		if m.timer != nil {
			m.timer.Stop()
		}
	}
}

func (q *Queue) Send(ctx context.Context, body []byte, delay time.Duration) error {
	if delay > broker.MaxDelayCap {
		delay = broker.MaxDelayCap
	}
	m := &inflightMsg{body: append([]byte(nil), body...), enqueuedAt: q.clock.Now()}
	if delay <= 0 {
		q.enqueueReady(m)
		return nil
	}
	time.AfterFunc(delay, func() { q.enqueueReady(m) })
	return nil
}

func (q *Queue) enqueueReady(m *inflightMsg) {
	select {
	case q.ready <- m:
	default:
		// Ready buffer exhausted; in a bounded-memory implementation this
		// would spill to disk. For the in-process backend we block the
		// producer briefly rather than drop the message.
		q.ready <- m
	}
}

func (q *Queue) Receive(ctx context.Context, maxCount int, wait time.Duration) ([]*model.QueueMessage, error) {
	if maxCount <= 0 {
		maxCount = 1
	}

	var msgs []*inflightMsg

	select {
	case m := <-q.ready:
		msgs = append(msgs, m)
	case <-time.After(wait):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

drain:
	for len(msgs) < maxCount {
		select {
		case m := <-q.ready:
			msgs = append(msgs, m)
		default:
			break drain
		}
	}

	out := make([]*model.QueueMessage, 0, len(msgs))
	q.mu.Lock()
	for _, m := range msgs {
		m.handle = q.clock.NewID()
		m.deliveryCount++
		expiry := q.clock.Now().Add(q.policy.VisibilityTimeout)
		handle := m.handle
		m.timer = time.AfterFunc(q.policy.VisibilityTimeout, func() { q.onExpiry(handle) })
		q.inflight[handle] = m

		out = append(out, &model.QueueMessage{
			Handle:           handle,
			Body:             append([]byte(nil), m.body...),
			SourceQueue:      q.name,
			EnqueuedAt:       m.enqueuedAt,
			VisibilityExpiry: expiry,
			DeliveryCount:    m.deliveryCount,
		})
	}
	q.mu.Unlock()

	return out, nil
}

func (q *Queue) onExpiry(handle string) {
	q.mu.Lock()
	m, ok := q.inflight[handle]
	if ok {
		delete(q.inflight, handle)
	}
	q.mu.Unlock()
	if !ok {
		return // already acked/nacked
	}
	q.redeliverOrDeadLetter(m, "visibility deadline expired")
}

func (q *Queue) Ack(ctx context.Context, handle string) error {
	q.mu.Lock()
	m, ok := q.inflight[handle]
	if ok {
		delete(q.inflight, handle)
	}
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("memory broker: unknown handle %q", handle)
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	return nil
}

func (q *Queue) Nack(ctx context.Context, handle string) error {
	return q.NackWithReason(ctx, handle, "")
}

// NackWithReason is the extended form that lets callers attach the error
// that caused the failure, which ends up in the dead-letter metadata if
// this nack is the one that exhausts max_redelivery.
func (q *Queue) NackWithReason(ctx context.Context, handle string, reason string) error {
	q.mu.Lock()
	m, ok := q.inflight[handle]
	if ok {
		delete(q.inflight, handle)
	}
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("memory broker: unknown handle %q", handle)
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.lastError = reason
	q.redeliverOrDeadLetter(m, reason)
	return nil
}

// redeliverOrDeadLetter is the single decision point for the DLQ rule:
// once deliveryCount has reached the queue's max_redelivery, the next
// failure routes to dead-letters instead of back onto this queue.
func (q *Queue) redeliverOrDeadLetter(m *inflightMsg, reason string) {
	if m.deliveryCount >= q.policy.MaxRedelivery {
		if q.dlq != nil {
			q.dlq.sendDeadLetter(m, q.name, reason)
		}
		return
	}
	q.enqueueReady(m)
}

// sendDeadLetter enqueues a message onto the dead-letters queue tagged
// with its origin metadata.
func (q *Queue) sendDeadLetter(m *inflightMsg, sourceQueue, lastError string) {
	dead := model.DeadLetter{
		SourceQueue:   sourceQueue,
		Body:          m.body,
		LastError:     lastError,
		DeliveryCount: m.deliveryCount,
		DeadAt:        q.clock.Now(),
	}
	body, _ := marshalDeadLetter(dead)
	q.enqueueReady(&inflightMsg{body: body, enqueuedAt: q.clock.Now()})
}
