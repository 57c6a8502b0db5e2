// Package dispatch implements the notification dispatcher (spec
// component C9): send, the quiet-hours schedule path, the batch path,
// and mark-read.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/webitel/journal-sync/internal/apperr"
	"github.com/webitel/journal-sync/internal/broker"
	"github.com/webitel/journal-sync/internal/channel"
	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/domain/event"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/domain/registry"
	"github.com/webitel/journal-sync/internal/notifstore"
	"github.com/webitel/journal-sync/internal/preference"
	"github.com/webitel/journal-sync/internal/template"
)

const batchChunkSize = 25

// Dispatcher is the C9 notification dispatcher.
type Dispatcher struct {
	prefs     preference.Store
	templates template.Renderer
	adapters  channel.Adapters
	store     notifstore.Store
	brokerB   broker.Broker
	hub       registry.Hubber
	clock     clock.Clock
	logger    *slog.Logger
}

func NewDispatcher(
	prefs preference.Store,
	templates template.Renderer,
	adapters channel.Adapters,
	store notifstore.Store,
	brokerB broker.Broker,
	hub registry.Hubber,
	clk clock.Clock,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		prefs: prefs, templates: templates, adapters: adapters,
		store: store, brokerB: brokerB, hub: hub, clock: clk, logger: logger,
	}
}

// Send is the C9 entry point.
func (d *Dispatcher) Send(ctx context.Context, req model.NotificationRequest) (model.Notification, error) {
	prefs, err := d.prefs.Get(ctx, req.UserID)
	if err != nil {
		return model.Notification{}, apperr.Transientf(err, "dispatch: load preferences for %s", req.UserID)
	}

	enabled := enabledChannels(req, prefs)

	if len(enabled) == 0 {
		n := d.newNotification(req, "")
		n.Status = model.StatusExpired
		if err := d.store.Create(ctx, &n); err != nil {
			return model.Notification{}, apperr.Transientf(err, "dispatch: persist expired notification")
		}
		return n, nil
	}

	if req.Priority != model.PriorityUrgent && preference.QuietHoursActive(prefs, d.clock.Now()) {
		return d.scheduleOutsideQuietHours(ctx, req, prefs)
	}

	return d.deliverNow(ctx, req, enabled)
}

func enabledChannels(req model.NotificationRequest, prefs model.Preferences) []model.Channel {
	var out []model.Channel
	for _, ch := range req.Channels {
		pref, ok := prefs.Channels[ch]
		if !ok || !pref.Allows(req.Type) {
			continue
		}
		out = append(out, ch)
	}
	return out
}

func (d *Dispatcher) newNotification(req model.NotificationRequest, primary string) model.Notification {
	now := d.clock.Now()
	return model.Notification{
		ID:             d.clock.NewID(),
		UserID:         req.UserID,
		Type:           req.Type,
		PrimaryChannel: model.Channel(primary),
		Status:         model.StatusPending,
		Priority:       req.Priority,
		Title:          req.Title,
		Message:        req.Message,
		Data:           req.Data,
		Expiry:         req.Expiry,
		Actions:        req.Actions,
		BatchID:        req.BatchID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (d *Dispatcher) deliverNow(ctx context.Context, req model.NotificationRequest, enabled []model.Channel) (model.Notification, error) {
	n := d.newNotification(req, string(enabled[0]))
	if err := d.store.Create(ctx, &n); err != nil {
		return model.Notification{}, apperr.Transientf(err, "dispatch: persist notification")
	}

	prefs, err := d.prefs.Get(ctx, req.UserID)
	if err != nil {
		return model.Notification{}, apperr.Transientf(err, "dispatch: reload preferences for %s", req.UserID)
	}

	// Fan every channel adapter out concurrently and log each as it
	// completes, so the delivery log reflects real-time completion order
	// rather than the order channels were requested in. None of these
	// goroutines return a non-nil error to the group: a single slow or
	// failing adapter must never cancel its siblings.
	g, gCtx := errgroup.WithContext(ctx)
	var logMu sync.Mutex
	outcomes := make([]model.DeliveryOutcome, len(enabled))

	for i, ch := range enabled {
		i, ch := i, ch
		g.Go(func() error {
			outcome, providerID, derr := d.deliverChannel(gCtx, n, ch, prefs.Channels[ch])
			outcomes[i] = outcome

			entry := model.DeliveryLogEntry{
				NotificationID:    n.ID,
				Channel:           ch,
				Outcome:           outcome,
				ProviderMessageID: providerID,
				SentAt:            d.clock.Now(),
			}
			if derr != nil {
				entry.Error = derr.Error()
			}

			logMu.Lock()
			err := d.store.AppendDeliveryLog(gCtx, entry)
			logMu.Unlock()
			if err != nil {
				d.logger.Error("dispatch: append delivery log failed", "notification_id", n.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	anySucceeded := false
	allFailed := true
	for _, outcome := range outcomes {
		switch outcome {
		case model.OutcomeSent, model.OutcomeDelivered:
			anySucceeded = true
			allFailed = false
		}
	}

	if anySucceeded {
		updated, err := d.store.MarkDelivered(ctx, n.ID)
		if err == nil {
			n = updated
		}
	} else if allFailed {
		updated, err := d.store.MarkFailed(ctx, n.ID)
		if err == nil {
			n = updated
		}
	}

	return n, nil
}

func (d *Dispatcher) deliverChannel(ctx context.Context, n model.Notification, ch model.Channel, pref model.ChannelPreference) (model.DeliveryOutcome, string, error) {
	adapter, ok := d.adapters[ch]
	if !ok {
		return model.OutcomeFailed, "", fmt.Errorf("no-template: no adapter registered for channel %s", ch)
	}

	rendered, err := d.templates.Render(template.Key{Type: n.Type, Channel: ch}, template.Data{
		Title: n.Title, Message: n.Message, Priority: n.Priority, Actions: n.Actions, Data: n.Data,
	})
	if err != nil {
		return model.OutcomeFailed, "", fmt.Errorf("no-template: %w", err)
	}

	return adapter.Deliver(ctx, n, pref, rendered)
}

// scheduleOutsideQuietHours computes the next time outside every active
// quiet-hours window and enqueues the request to run then.
func (d *Dispatcher) scheduleOutsideQuietHours(ctx context.Context, req model.NotificationRequest, prefs model.Preferences) (model.Notification, error) {
	next := nextTimeOutsideQuietHours(prefs, d.clock.Now())
	req.ScheduledFor = &next

	body, err := json.Marshal(req)
	if err != nil {
		return model.Notification{}, apperr.Permanentf(err, "dispatch: marshal scheduled request")
	}

	q, err := d.brokerB.Queue(broker.ScheduledNotifications)
	if err != nil {
		return model.Notification{}, apperr.Transientf(err, "dispatch: open scheduled-notifications queue")
	}

	delay := time.Until(next)
	if delay > broker.MaxDelayCap {
		delay = broker.MaxDelayCap // Scheduler/Reaper (C10) re-enqueues once the remaining gap is back in range.
	}
	if err := q.Send(ctx, body, delay); err != nil {
		return model.Notification{}, apperr.Transientf(err, "dispatch: enqueue scheduled notification")
	}

	return model.Notification{
		UserID:    req.UserID,
		Type:      req.Type,
		Status:    model.StatusPending,
		Priority:  req.Priority,
		Title:     req.Title,
		Message:   req.Message,
		CreatedAt: d.clock.Now(),
	}, nil
}

// nextTimeOutsideQuietHours steps forward in one-minute increments (bounded
// to one week) until none of prefs' quiet-hours windows are active.
func nextTimeOutsideQuietHours(prefs model.Preferences, from time.Time) time.Time {
	t := from
	for i := 0; i < 7*24*60; i++ {
		if !preference.QuietHoursActive(prefs, t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return from.Add(24 * time.Hour)
}

// BatchOptions carries the caller-supplied options for SendBatch.
type BatchOptions struct {
	Channels []model.Channel
	Priority model.Priority
}

// batchJob is the payload enqueued on the "jobs" queue for one chunk of a
// batch send.
type batchJob struct {
	BatchID      string          `json:"batchId"`
	UserIDs      []model.UserID  `json:"userIds"`
	Type         string          `json:"type"`
	Data         map[string]any  `json:"data"`
	Options      BatchOptions    `json:"options"`
}

// SendBatch creates a batch stats record and shards userIDs into chunks
// enqueued on "jobs".
func (d *Dispatcher) SendBatch(ctx context.Context, userIDs []model.UserID, notifType string, data map[string]any, options BatchOptions) (model.BatchStats, error) {
	batchID := d.clock.NewID()
	stats := model.BatchStats{BatchID: batchID, Total: len(userIDs)}
	if err := d.store.CreateBatch(ctx, stats); err != nil {
		return model.BatchStats{}, apperr.Transientf(err, "dispatch: create batch record")
	}

	q, err := d.brokerB.Queue(broker.Jobs)
	if err != nil {
		return model.BatchStats{}, apperr.Transientf(err, "dispatch: open jobs queue")
	}

	for start := 0; start < len(userIDs); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(userIDs) {
			end = len(userIDs)
		}
		job := batchJob{BatchID: batchID, UserIDs: userIDs[start:end], Type: notifType, Data: data, Options: options}
		body, err := json.Marshal(job)
		if err != nil {
			return model.BatchStats{}, apperr.Permanentf(err, "dispatch: marshal batch chunk")
		}
		if err := q.Send(ctx, body, 0); err != nil {
			return model.BatchStats{}, apperr.Transientf(err, "dispatch: enqueue batch chunk")
		}
	}

	return stats, nil
}

// ProcessBatchJob drains one batchJob: it invokes Send for every user in
// the chunk and atomically folds the outcomes into the batch's stats.
func (d *Dispatcher) ProcessBatchJob(ctx context.Context, body []byte) error {
	var job batchJob
	if err := json.Unmarshal(body, &job); err != nil {
		return apperr.Permanentf(err, "dispatch: unmarshal batch job")
	}

	var sent, delivered, failed int
	for _, userID := range job.UserIDs {
		req := model.NotificationRequest{
			UserID:   userID,
			Type:     job.Type,
			Channels: job.Options.Channels,
			Priority: job.Options.Priority,
			Data:     job.Data,
			BatchID:  job.BatchID,
		}
		n, err := d.Send(ctx, req)
		if err != nil {
			failed++
			continue
		}
		switch n.Status {
		case model.StatusDelivered:
			sent++
			delivered++
		case model.StatusFailed, model.StatusExpired:
			failed++
		default:
			sent++
		}
	}

	return d.store.IncrementBatchStats(ctx, job.BatchID, sent, delivered, failed, 0)
}

// ProcessScheduledNotification re-enters Send for a due scheduled request.
func (d *Dispatcher) ProcessScheduledNotification(ctx context.Context, body []byte) error {
	var req model.NotificationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return apperr.Permanentf(err, "dispatch: unmarshal scheduled request")
	}
	_, err := d.Send(ctx, req)
	return err
}

// MarkRead advances a notification to read and notifies the user's other
// devices so their unread counters stay consistent.
func (d *Dispatcher) MarkRead(ctx context.Context, notificationID string) (model.Notification, error) {
	n, err := d.store.MarkRead(ctx, notificationID)
	if err != nil {
		if err == notifstore.ErrInvalidTransition {
			return model.Notification{}, apperr.Permanentf(err, "dispatch: notification %s not in delivered state", notificationID)
		}
		if err == notifstore.ErrNotFound {
			return model.Notification{}, apperr.NotFoundf("dispatch: notification %s", notificationID)
		}
		return model.Notification{}, apperr.Transientf(err, "dispatch: mark read %s", notificationID)
	}

	ev := event.NewSystemEvent(n.ID, n.UserID, "notification-read", 0, map[string]any{"notificationId": n.ID})
	d.hub.BroadcastToUser(n.UserID, ev)

	return n, nil
}
