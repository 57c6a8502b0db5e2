package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/webitel/journal-sync/internal/broker"
	"github.com/webitel/journal-sync/internal/domain/model"
)

// Queue is one RabbitMQ-backed broker.Queue. It maintains its own AMQP
// channel (channels are not safe for concurrent use by multiple
// goroutines in amqp091-go) and tracks in-flight deliveries the same way
// the memory backend does, so the visibility-timeout/redelivery-count
// contract is identical across backends.
type Queue struct {
	b      *Broker
	name   string
	policy broker.Policy
	dlq    *Queue

	mu       sync.Mutex
	ch       *amqp.Channel
	inflight map[string]*inflightDelivery
}

type inflightDelivery struct {
	delivery      amqp.Delivery
	deliveryCount int
	timer         *time.Timer
}

func newQueue(b *Broker, name string, policy broker.Policy, dlq *Queue) *Queue {
	return &Queue{b: b, name: name, policy: policy, dlq: dlq, inflight: make(map[string]*inflightDelivery)}
}

func (q *Queue) channel() (*amqp.Channel, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil {
		return q.ch, nil
	}
	ch, err := q.b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp queue %s: open channel: %w", q.name, err)
	}
	if err := ch.Qos(32, 0, false); err != nil {
		return nil, fmt.Errorf("amqp queue %s: qos: %w", q.name, err)
	}
	q.ch = ch
	return ch, nil
}

func (q *Queue) Send(ctx context.Context, body []byte, delay time.Duration) error {
	if delay > broker.MaxDelayCap {
		delay = broker.MaxDelayCap
	}
	return q.b.withBreaker(func() error {
		ch, err := q.channel()
		if err != nil {
			return err
		}
		pub := amqp.Publishing{
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    q.b.clock.Now(),
		}
		if delay > 0 {
			// Native per-message delay requires the delayed-message-exchange
			// plugin; absent that, the delay is approximated by holding
			// the publish in-process and Scheduler/Reaper (C10) owns any
			// horizon beyond what this approximation can cover.
			time.AfterFunc(delay, func() {
				_ = ch.PublishWithContext(context.Background(), "", q.name, false, false, pub)
			})
			return nil
		}
		return ch.PublishWithContext(ctx, "", q.name, false, false, pub)
	})
}

func (q *Queue) Receive(ctx context.Context, maxCount int, wait time.Duration) ([]*model.QueueMessage, error) {
	ch, err := q.channel()
	if err != nil {
		return nil, err
	}
	if maxCount <= 0 {
		maxCount = 1
	}

	deadline := time.Now().Add(wait)
	var out []*model.QueueMessage

	for len(out) < maxCount && time.Now().Before(deadline) {
		var delivery amqp.Delivery
		var ok bool
		err := q.b.withBreaker(func() error {
			var getErr error
			delivery, ok, getErr = ch.Get(q.name, false)
			return getErr
		})
		if err != nil {
			return out, err
		}
		if !ok {
			if len(out) > 0 {
				break
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		handle := fmt.Sprintf("%s:%d", q.name, delivery.DeliveryTag)
		count := deliveredCount(delivery) + 1

		q.mu.Lock()
		timer := time.AfterFunc(q.policy.VisibilityTimeout, func() { q.onExpiry(handle) })
		q.inflight[handle] = &inflightDelivery{delivery: delivery, deliveryCount: count, timer: timer}
		q.mu.Unlock()

		out = append(out, &model.QueueMessage{
			Handle:           handle,
			Body:             delivery.Body,
			SourceQueue:      q.name,
			EnqueuedAt:       delivery.Timestamp,
			VisibilityExpiry: time.Now().Add(q.policy.VisibilityTimeout),
			DeliveryCount:    count,
		})
	}

	return out, nil
}

// deliveredCount reads AMQP's native x-death redelivery count when
// present (set by the broker on DLX-routed messages); new messages report 0.
func deliveredCount(d amqp.Delivery) int {
	xdeath, ok := d.Headers["x-death"].([]any)
	if !ok || len(xdeath) == 0 {
		return 0
	}
	if entry, ok := xdeath[0].(amqp.Table); ok {
		if n, ok := entry["count"].(int64); ok {
			return int(n)
		}
	}
	return 0
}

func (q *Queue) onExpiry(handle string) {
	q.mu.Lock()
	inf, ok := q.inflight[handle]
	if ok {
		delete(q.inflight, handle)
	}
	q.mu.Unlock()
	if !ok {
		return
	}
	q.redeliverOrDeadLetter(inf, "visibility deadline expired")
}

func (q *Queue) Ack(ctx context.Context, handle string) error {
	q.mu.Lock()
	inf, ok := q.inflight[handle]
	if ok {
		delete(q.inflight, handle)
	}
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("amqp queue %s: unknown handle %q", q.name, handle)
	}
	inf.timer.Stop()
	return inf.delivery.Ack(false)
}

func (q *Queue) Nack(ctx context.Context, handle string) error {
	return q.NackWithReason(ctx, handle, "")
}

func (q *Queue) NackWithReason(ctx context.Context, handle string, reason string) error {
	q.mu.Lock()
	inf, ok := q.inflight[handle]
	if ok {
		delete(q.inflight, handle)
	}
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("amqp queue %s: unknown handle %q", q.name, handle)
	}
	inf.timer.Stop()
	q.redeliverOrDeadLetter(inf, reason)
	return nil
}

// redeliverOrDeadLetter mirrors the memory backend's decision point: once
// deliveryCount has reached max_redelivery, requeue=false lets RabbitMQ's
// DLX move the message to dead-letters; otherwise requeue=true puts it
// back on this queue.
func (q *Queue) redeliverOrDeadLetter(inf *inflightDelivery, reason string) {
	if inf.deliveryCount >= q.policy.MaxRedelivery {
		_ = inf.delivery.Nack(false, false) // routed to DLX by the queue's x-dead-letter-exchange arg
		return
	}
	_ = inf.delivery.Nack(false, true)
}
