// Package postgres is the durable preference.Store backend, built on
// sqlx over the pgx stdlib driver (DD-010 in the donor integration
// suite: sqlx.Connect("pgx", ...) rather than database/sql + pgx/v5's
// native pool, so the whole repository shares one driver idiom).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/webitel/journal-sync/internal/domain/model"
)

// Store is the Postgres-backed preference.Store.
type Store struct {
	db *sqlx.DB
}

// Connect opens a pooled connection to dsn and verifies it is reachable.
func Connect(dsn string) (*Store, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("preference/postgres: connect: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type row struct {
	UserID            string `db:"user_id"`
	Channels          []byte `db:"channels"`
	QuietHoursEnabled bool   `db:"quiet_hours_enabled"`
	QuietHours        []byte `db:"quiet_hours"`
}

func (s *Store) Get(ctx context.Context, userID model.UserID) (model.Preferences, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `
		SELECT user_id, channels, quiet_hours_enabled, quiet_hours
		FROM preferences WHERE user_id = $1`, string(userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DefaultPreferences(userID), nil
		}
		return model.Preferences{}, fmt.Errorf("preference/postgres: get %s: %w", userID, err)
	}
	return rowToPreferences(r)
}

func (s *Store) Upsert(ctx context.Context, prefs model.Preferences) error {
	channels, err := json.Marshal(prefs.Channels)
	if err != nil {
		return fmt.Errorf("preference/postgres: marshal channels: %w", err)
	}
	quietHours, err := json.Marshal(prefs.QuietHours)
	if err != nil {
		return fmt.Errorf("preference/postgres: marshal quiet hours: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO preferences (user_id, channels, quiet_hours_enabled, quiet_hours)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			channels = EXCLUDED.channels,
			quiet_hours_enabled = EXCLUDED.quiet_hours_enabled,
			quiet_hours = EXCLUDED.quiet_hours`,
		string(prefs.UserID), channels, prefs.QuietHoursEnabled, quietHours)
	if err != nil {
		return fmt.Errorf("preference/postgres: upsert %s: %w", prefs.UserID, err)
	}
	return nil
}

func rowToPreferences(r row) (model.Preferences, error) {
	p := model.Preferences{
		UserID:            model.UserID(r.UserID),
		QuietHoursEnabled: r.QuietHoursEnabled,
	}
	if err := json.Unmarshal(r.Channels, &p.Channels); err != nil {
		return model.Preferences{}, fmt.Errorf("preference/postgres: unmarshal channels: %w", err)
	}
	if len(r.QuietHours) > 0 {
		if err := json.Unmarshal(r.QuietHours, &p.QuietHours); err != nil {
			return model.Preferences{}, fmt.Errorf("preference/postgres: unmarshal quiet hours: %w", err)
		}
	}
	return p, nil
}
