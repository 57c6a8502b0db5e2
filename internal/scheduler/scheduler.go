// Package scheduler implements the Scheduler/Reaper (spec component
// C10): it owns the scheduled-notifications queue's horizon-extension
// re-enqueue, the daily notification retention tick, and best-effort
// retry of dead-lettered work whose failure was transient.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/webitel/journal-sync/internal/apperr"
	"github.com/webitel/journal-sync/internal/broker"
	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/notifstore"
)

// ScheduledProcessor re-enters the notification pipeline for a due
// scheduled request. Dispatcher satisfies this.
type ScheduledProcessor interface {
	ProcessScheduledNotification(ctx context.Context, body []byte) error
}

// Reaper is the C10 background scheduler.
type Reaper struct {
	brokerB           broker.Broker
	store             notifstore.Store
	scheduled         ScheduledProcessor
	clock             clock.Clock
	retention         time.Duration
	retentionInterval time.Duration
	logger            *slog.Logger
}

func NewReaper(
	brokerB broker.Broker,
	store notifstore.Store,
	scheduled ScheduledProcessor,
	clk clock.Clock,
	retention, retentionInterval time.Duration,
	logger *slog.Logger,
) *Reaper {
	return &Reaper{
		brokerB: brokerB, store: store, scheduled: scheduled,
		clock: clk, retention: retention, retentionInterval: retentionInterval, logger: logger,
	}
}

// Run starts every reaper loop as a goroutine. Callers cancel ctx to stop
// all of them, typically from an fx.Hook on shutdown.
func (r *Reaper) Run(ctx context.Context) {
	go r.runScheduledNotifications(ctx)
	go r.runRetentionTick(ctx)
	go r.runDeadLetterRetry(ctx)
}

// runScheduledNotifications drains the scheduled-notifications queue. A
// message whose ScheduledFor has arrived re-enters the dispatcher's send
// pipeline; one whose horizon is still further out than the broker's
// delay cap is re-enqueued with the (now shorter) remaining gap, capped
// again if it still exceeds the cap.
func (r *Reaper) runScheduledNotifications(ctx context.Context) {
	q, err := r.brokerB.Queue(broker.ScheduledNotifications)
	if err != nil {
		r.logger.Error("scheduler: cannot open scheduled-notifications queue", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := q.Receive(ctx, 10, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("scheduler: receive failed", "queue", broker.ScheduledNotifications, "error", err)
			continue
		}

		for _, m := range msgs {
			if r.handleScheduled(ctx, q, m) {
				_ = q.Ack(ctx, m.Handle)
			} else {
				_ = q.Nack(ctx, m.Handle)
			}
		}
	}
}

// handleScheduled returns true when m is fully handled (delivered to the
// dispatcher or successfully re-enqueued) and should be acked.
func (r *Reaper) handleScheduled(ctx context.Context, q broker.Queue, m *model.QueueMessage) bool {
	var req model.NotificationRequest
	if err := json.Unmarshal(m.Body, &req); err != nil {
		r.logger.Error("scheduler: malformed scheduled request, dropping", "error", err)
		return true // nothing sane to retry; ack so it doesn't loop forever
	}

	if req.ScheduledFor == nil || !r.clock.Now().Before(*req.ScheduledFor) {
		if err := r.scheduled.ProcessScheduledNotification(ctx, m.Body); err != nil {
			r.logger.Warn("scheduler: scheduled notification failed", "error", err)
			return false
		}
		return true
	}

	remaining := req.ScheduledFor.Sub(r.clock.Now())
	delay := remaining
	if delay > broker.MaxDelayCap {
		delay = broker.MaxDelayCap
	}
	if err := q.Send(ctx, m.Body, delay); err != nil {
		r.logger.Error("scheduler: re-enqueue scheduled request failed", "error", err)
		return false
	}
	return true
}

// runRetentionTick deletes terminal notifications older than the
// retention horizon once per retentionInterval.
func (r *Reaper) runRetentionTick(ctx context.Context) {
	ticker := time.NewTicker(r.retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runRetentionOnce(ctx)
		}
	}
}

func (r *Reaper) runRetentionOnce(ctx context.Context) {
	cutoff := r.clock.Now().Add(-r.retention)
	n, err := r.store.DeleteTerminalOlderThan(ctx, cutoff)
	if err != nil {
		r.logger.Error("scheduler: retention tick failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("scheduler: retention tick pruned notifications", "count", n, "cutoff", cutoff)
	}
}

// deadLetter mirrors the broker/memory backend's wire shape for a dead
// letter record. Backends that instead rely on native DLX passthrough
// (e.g. amqp) deliver the original message body unwrapped; such bodies
// fail this unmarshal and are logged without a retry, since the reaper
// has no way to recover which queue they came from.
type deadLetter struct {
	SourceQueue   string    `json:"SourceQueue"`
	Body          []byte    `json:"Body"`
	LastError     string    `json:"LastError"`
	DeliveryCount int       `json:"DeliveryCount"`
	DeadAt        time.Time `json:"DeadAt"`
}

// runDeadLetterRetry drains the dead-letters queue and re-enqueues
// entries whose last recorded failure looks transient (a network or
// dependency hiccup, not a bad payload). Everything else is left acked
// and logged for operator review; the reaper never retries indefinitely.
func (r *Reaper) runDeadLetterRetry(ctx context.Context) {
	dlq := r.brokerB.DeadLetters()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := dlq.Receive(ctx, 10, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("scheduler: dead-letter receive failed", "error", err)
			continue
		}

		for _, m := range msgs {
			r.handleDeadLetter(ctx, m)
			_ = dlq.Ack(ctx, m.Handle)
		}
	}
}

func (r *Reaper) handleDeadLetter(ctx context.Context, m *model.QueueMessage) {
	var dl deadLetter
	if err := json.Unmarshal(m.Body, &dl); err != nil || dl.SourceQueue == "" {
		r.logger.Warn("scheduler: dead letter with no recoverable source queue", "handle", m.Handle)
		return
	}

	if !looksTransient(dl.LastError) {
		r.logger.Info("scheduler: dead letter left for operator review", "source", dl.SourceQueue, "error", dl.LastError)
		return
	}

	q, err := r.brokerB.Queue(dl.SourceQueue)
	if err != nil {
		r.logger.Error("scheduler: cannot reopen dead letter's source queue", "source", dl.SourceQueue, "error", err)
		return
	}
	if err := q.Send(ctx, dl.Body, 0); err != nil {
		r.logger.Error("scheduler: dead letter retry re-enqueue failed", "source", dl.SourceQueue, "error", err)
	}
}

// looksTransient reports whether a dead letter's recorded error came from
// an AppError tagged transient. apperr.AppError.Error formats its Kind as
// the leading token, e.g. "transient: dispatch: ...", which survives
// being carried as a plain string through the dead-letter envelope.
func looksTransient(lastError string) bool {
	return strings.HasPrefix(lastError, string(apperr.Transient)+":")
}
