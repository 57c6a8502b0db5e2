// Package notifstore implements the append-only per-user notification
// log and delivery log (spec component C4): conditional status
// transitions, cursor-paginated per-user queries, and batch stat
// aggregation.
package notifstore

import (
	"context"
	"time"

	"github.com/webitel/journal-sync/internal/domain/model"
)

// ListFilter narrows ListByUser's result set.
type ListFilter struct {
	Status model.NotificationStatus // zero value means "any"
	Type   string                   // empty means "any"
	Cursor string                   // opaque, from a prior Page.NextCursor
	Limit  int
}

// Page is one page of a cursor-paginated ListByUser result, newest-first.
type Page struct {
	Notifications []model.Notification
	NextCursor    string // empty when there is no further page
}

// ErrNotFound is returned when an operation references an unknown
// notification or batch id.
var ErrNotFound = errFor("notification not found")

// ErrInvalidTransition is returned by a conditional status update whose
// precondition on the current status does not hold.
var ErrInvalidTransition = errFor("invalid status transition")

type storeError string

func errFor(msg string) error { return storeError(msg) }

func (e storeError) Error() string { return string(e) }

// Store is the notification persistence contract.
type Store interface {
	// Create inserts a new Notification record.
	Create(ctx context.Context, n *model.Notification) error
	// Get fetches a single notification by id.
	Get(ctx context.Context, id string) (model.Notification, error)
	// ListByUser returns a cursor-paginated, newest-first page of userID's
	// notifications matching filter.
	ListByUser(ctx context.Context, userID model.UserID, filter ListFilter) (Page, error)

	// MarkDelivered advances status pending->delivered. Returns
	// ErrInvalidTransition if the current status isn't pending.
	MarkDelivered(ctx context.Context, id string) (model.Notification, error)
	// MarkRead advances status delivered->read. Returns
	// ErrInvalidTransition if the current status isn't delivered.
	MarkRead(ctx context.Context, id string) (model.Notification, error)
	// MarkFailed sets status to failed from any non-terminal status.
	MarkFailed(ctx context.Context, id string) (model.Notification, error)
	// MarkExpired sets status to expired from any non-terminal status.
	MarkExpired(ctx context.Context, id string) (model.Notification, error)

	// AppendDeliveryLog appends one delivery attempt record.
	AppendDeliveryLog(ctx context.Context, entry model.DeliveryLogEntry) error
	// DeliveryLogFor returns every delivery attempt recorded for id.
	DeliveryLogFor(ctx context.Context, id string) ([]model.DeliveryLogEntry, error)

	// CreateBatch inserts a new batch stats record.
	CreateBatch(ctx context.Context, stats model.BatchStats) error
	// GetBatch fetches a batch's current stats.
	GetBatch(ctx context.Context, batchID string) (model.BatchStats, error)
	// IncrementBatchStats atomically adds the given deltas to a batch's
	// counters.
	IncrementBatchStats(ctx context.Context, batchID string, sent, delivered, failed, read int) error

	// DeleteTerminalOlderThan deletes every Notification (and its
	// delivery log) whose status is terminal and whose UpdatedAt is
	// before cutoff. It returns the number of notifications removed.
	// Used by the Scheduler/Reaper's daily retention tick.
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
