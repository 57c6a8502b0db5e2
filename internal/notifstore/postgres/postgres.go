// Package postgres is the durable notifstore.Store backend.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/notifstore"
)

// Store is the Postgres-backed notifstore.Store.
type Store struct {
	db    *sqlx.DB
	clock clock.Clock
}

func Connect(dsn string, clk clock.Clock) (*Store, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("notifstore/postgres: connect: %w", err)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Store{db: db, clock: clk}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type notificationRow struct {
	ID             string         `db:"id"`
	UserID         string         `db:"user_id"`
	Type           string         `db:"type"`
	PrimaryChannel string         `db:"primary_channel"`
	Status         string         `db:"status"`
	Priority       string         `db:"priority"`
	Title          string         `db:"title"`
	Message        string         `db:"message"`
	Data           []byte         `db:"data"`
	Expiry         sql.NullTime   `db:"expiry"`
	Actions        []byte         `db:"actions"`
	BatchID        sql.NullString `db:"batch_id"`
	CreatedAt      sql.NullTime   `db:"created_at"`
	UpdatedAt      sql.NullTime   `db:"updated_at"`
	DeliveredAt    sql.NullTime   `db:"delivered_at"`
	ReadAt         sql.NullTime   `db:"read_at"`
}

func (s *Store) Create(ctx context.Context, n *model.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("notifstore/postgres: marshal data: %w", err)
	}
	actions, err := json.Marshal(n.Actions)
	if err != nil {
		return fmt.Errorf("notifstore/postgres: marshal actions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications
			(id, user_id, type, primary_channel, status, priority, title, message,
			 data, expiry, actions, batch_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		n.ID, string(n.UserID), n.Type, string(n.PrimaryChannel), string(n.Status),
		string(n.Priority), n.Title, n.Message, data, n.Expiry, actions,
		nullableString(n.BatchID), n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("notifstore/postgres: create: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Notification, error) {
	var r notificationRow
	err := s.db.GetContext(ctx, &r, `SELECT * FROM notifications WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notification{}, notifstore.ErrNotFound
		}
		return model.Notification{}, fmt.Errorf("notifstore/postgres: get: %w", err)
	}
	return rowToNotification(r)
}

func (s *Store) ListByUser(ctx context.Context, userID model.UserID, filter notifstore.ListFilter) (notifstore.Page, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := 0
	if filter.Cursor != "" {
		o, err := strconv.Atoi(filter.Cursor)
		if err != nil {
			return notifstore.Page{}, fmt.Errorf("notifstore/postgres: invalid cursor %q", filter.Cursor)
		}
		offset = o
	}

	query := `SELECT * FROM notifications WHERE user_id = $1`
	args := []any{string(userID)}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	args = append(args, limit+1, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return notifstore.Page{}, fmt.Errorf("notifstore/postgres: list: %w", err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	out := make([]model.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := rowToNotification(r)
		if err != nil {
			return notifstore.Page{}, err
		}
		out = append(out, n)
	}

	page := notifstore.Page{Notifications: out}
	if hasMore {
		page.NextCursor = strconv.Itoa(offset + limit)
	}
	return page, nil
}

func (s *Store) MarkDelivered(ctx context.Context, id string) (model.Notification, error) {
	return s.conditionalUpdate(ctx, id, model.StatusPending, model.StatusDelivered, true, false)
}

func (s *Store) MarkRead(ctx context.Context, id string) (model.Notification, error) {
	return s.conditionalUpdate(ctx, id, model.StatusDelivered, model.StatusRead, false, true)
}

func (s *Store) MarkFailed(ctx context.Context, id string) (model.Notification, error) {
	return s.terminalUpdate(ctx, id, model.StatusFailed)
}

func (s *Store) MarkExpired(ctx context.Context, id string) (model.Notification, error) {
	return s.terminalUpdate(ctx, id, model.StatusExpired)
}

func (s *Store) conditionalUpdate(ctx context.Context, id string, from, to model.NotificationStatus, setDelivered, setRead bool) (model.Notification, error) {
	now := s.clock.Now()
	var deliveredAt, readAt any
	if setDelivered {
		deliveredAt = now
	}
	if setRead {
		readAt = now
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET status = $1, updated_at = $2,
			delivered_at = COALESCE($3, delivered_at),
			read_at = COALESCE($4, read_at)
		WHERE id = $5 AND status = $6`,
		string(to), now, deliveredAt, readAt, id, string(from))
	if err != nil {
		return model.Notification{}, fmt.Errorf("notifstore/postgres: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return model.Notification{}, err
		}
		return model.Notification{}, notifstore.ErrInvalidTransition
	}
	return s.Get(ctx, id)
}

func (s *Store) terminalUpdate(ctx context.Context, id string, to model.NotificationStatus) (model.Notification, error) {
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET status = $1, updated_at = $2
		WHERE id = $3 AND status NOT IN ($4, $5, $6)`,
		string(to), now, id, string(model.StatusRead), string(model.StatusExpired), string(model.StatusFailed))
	if err != nil {
		return model.Notification{}, fmt.Errorf("notifstore/postgres: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return model.Notification{}, err
		}
		return model.Notification{}, notifstore.ErrInvalidTransition
	}
	return s.Get(ctx, id)
}

func (s *Store) AppendDeliveryLog(ctx context.Context, entry model.DeliveryLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_log (notification_id, channel, outcome, error, provider_message_id, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		entry.NotificationID, string(entry.Channel), string(entry.Outcome), entry.Error,
		entry.ProviderMessageID, entry.SentAt)
	if err != nil {
		return fmt.Errorf("notifstore/postgres: append delivery log: %w", err)
	}
	return nil
}

func (s *Store) DeliveryLogFor(ctx context.Context, id string) ([]model.DeliveryLogEntry, error) {
	type row struct {
		NotificationID    string `db:"notification_id"`
		Channel           string `db:"channel"`
		Outcome           string `db:"outcome"`
		Error             string `db:"error"`
		ProviderMessageID string `db:"provider_message_id"`
		SentAt            sql.NullTime `db:"sent_at"`
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT notification_id, channel, outcome, error, provider_message_id, sent_at
		FROM delivery_log WHERE notification_id = $1 ORDER BY sent_at ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("notifstore/postgres: delivery log: %w", err)
	}
	out := make([]model.DeliveryLogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.DeliveryLogEntry{
			NotificationID:    r.NotificationID,
			Channel:           model.Channel(r.Channel),
			Outcome:           model.DeliveryOutcome(r.Outcome),
			Error:             r.Error,
			ProviderMessageID: r.ProviderMessageID,
			SentAt:            r.SentAt.Time,
		})
	}
	return out, nil
}

func (s *Store) CreateBatch(ctx context.Context, stats model.BatchStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_batches (batch_id, total, sent, delivered, failed, read)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		stats.BatchID, stats.Total, stats.Sent, stats.Delivered, stats.Failed, stats.Read)
	if err != nil {
		return fmt.Errorf("notifstore/postgres: create batch: %w", err)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (model.BatchStats, error) {
	var stats model.BatchStats
	err := s.db.GetContext(ctx, &stats, `
		SELECT batch_id "batchid", total, sent, delivered, failed, read
		FROM notification_batches WHERE batch_id = $1`, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.BatchStats{}, notifstore.ErrNotFound
		}
		return model.BatchStats{}, fmt.Errorf("notifstore/postgres: get batch: %w", err)
	}
	return stats, nil
}

func (s *Store) IncrementBatchStats(ctx context.Context, batchID string, sent, delivered, failed, read int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_batches
		SET sent = sent + $1, delivered = delivered + $2, failed = failed + $3, read = read + $4
		WHERE batch_id = $5`,
		sent, delivered, failed, read, batchID)
	if err != nil {
		return fmt.Errorf("notifstore/postgres: increment batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notifstore.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("notifstore/postgres: begin retention tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM delivery_log
		WHERE notification_id IN (
			SELECT id FROM notifications
			WHERE status IN ($1,$2,$3) AND updated_at < $4
		)`,
		string(model.StatusRead), string(model.StatusExpired), string(model.StatusFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("notifstore/postgres: retention delete delivery log: %w", err)
	}

	del, err := tx.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE status IN ($1,$2,$3) AND updated_at < $4`,
		string(model.StatusRead), string(model.StatusExpired), string(model.StatusFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("notifstore/postgres: retention delete notifications: %w", err)
	}
	n, _ := del.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("notifstore/postgres: commit retention tx: %w", err)
	}
	return int(n), nil
}

func rowToNotification(r notificationRow) (model.Notification, error) {
	n := model.Notification{
		ID:             r.ID,
		UserID:         model.UserID(r.UserID),
		Type:           r.Type,
		PrimaryChannel: model.Channel(r.PrimaryChannel),
		Status:         model.NotificationStatus(r.Status),
		Priority:       model.Priority(r.Priority),
		Title:          r.Title,
		Message:        r.Message,
		BatchID:        r.BatchID.String,
	}
	if r.CreatedAt.Valid {
		n.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		n.UpdatedAt = r.UpdatedAt.Time
	}
	if r.DeliveredAt.Valid {
		t := r.DeliveredAt.Time
		n.DeliveredAt = &t
	}
	if r.ReadAt.Valid {
		t := r.ReadAt.Time
		n.ReadAt = &t
	}
	if r.Expiry.Valid {
		t := r.Expiry.Time
		n.Expiry = &t
	}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &n.Data); err != nil {
			return model.Notification{}, fmt.Errorf("notifstore/postgres: unmarshal data: %w", err)
		}
	}
	if len(r.Actions) > 0 {
		if err := json.Unmarshal(r.Actions, &n.Actions); err != nil {
			return model.Notification{}, fmt.Errorf("notifstore/postgres: unmarshal actions: %w", err)
		}
	}
	return n, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
