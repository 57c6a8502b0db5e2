// Package broker defines the durable job queueing substrate (spec
// component C2): five workload-partitioned queues plus a shared
// dead-letter queue, each with its own visibility timeout and
// max-redelivery policy. The interface is intentionally narrow — Send,
// Receive, Ack, Nack — so it can be backed by a native broker service or a
// relational table without leaking either choice to callers.
package broker

import (
	"context"
	"time"

	"github.com/webitel/journal-sync/internal/domain/model"
)

// Queue names, matching spec §4.C2's table exactly.
const (
	Jobs                   = "jobs"
	Email                  = "email"
	Files                  = "files"
	SearchIndex            = "search-index"
	ScheduledNotifications = "scheduled-notifications"
	DeadLetters            = "dead-letters"
)

// Policy is the per-queue visibility timeout and redelivery cap.
type Policy struct {
	VisibilityTimeout time.Duration
	MaxRedelivery     int
}

// Policies is the table from spec §4.C2.
var Policies = map[string]Policy{
	Jobs:                   {VisibilityTimeout: 5 * time.Minute, MaxRedelivery: 3},
	Email:                  {VisibilityTimeout: 30 * time.Second, MaxRedelivery: 3},
	Files:                  {VisibilityTimeout: 15 * time.Minute, MaxRedelivery: 2},
	SearchIndex:            {VisibilityTimeout: 2 * time.Minute, MaxRedelivery: 3},
	ScheduledNotifications: {VisibilityTimeout: 1 * time.Minute, MaxRedelivery: 5},
}

// MaxDelayCap is the implementation cap on Send's delay parameter; the
// Scheduler/Reaper (C10) is responsible for horizons longer than this.
const MaxDelayCap = 15 * time.Minute

// Queue is one workload-partitioned durable queue.
type Queue interface {
	// Send appends a message, optionally deferring its visibility by delay
	// (capped at MaxDelayCap).
	Send(ctx context.Context, body []byte, delay time.Duration) error

	// Receive returns up to maxCount currently-visible messages, long
	// polling up to wait if none are immediately available. Each returned
	// message's visibility deadline is set to now + the queue's
	// visibility timeout and its delivery counter is incremented.
	Receive(ctx context.Context, maxCount int, wait time.Duration) ([]*model.QueueMessage, error)

	// Ack permanently removes the message identified by handle.
	Ack(ctx context.Context, handle string) error

	// Nack makes the message immediately visible again.
	Nack(ctx context.Context, handle string) error
}

// Broker exposes the five workload queues plus the shared dead-letter
// queue.
type Broker interface {
	Queue(name string) (Queue, error)
	DeadLetters() Queue
	Close() error
}
