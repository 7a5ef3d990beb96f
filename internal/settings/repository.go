package settings

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// SQLRepository persists settings as key/value rows through database/sql
// (the pgx stdlib driver in production).
type SQLRepository struct {
	db       *sql.DB
	defaults *Settings
}

// NewSQLRepository creates a repository; keys that were never saved read as
// their default.
func NewSQLRepository(db *sql.DB, defaults *Settings) *SQLRepository {
	if db == nil {
		panic("settings: sql db required")
	}
	if defaults == nil {
		defaults = Defaults("")
	}
	return &SQLRepository{db: db, defaults: defaults}
}

const selectSettings = `
	SELECT key, value, updated_at
	FROM app_settings
	WHERE key IN ($1, $2)
`

const upsertSetting = `
	INSERT INTO app_settings (key, value, updated_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
`

// Get loads the stored settings over the defaults.
func (r *SQLRepository) Get(ctx context.Context) (*Settings, error) {
	rows, err := r.db.QueryContext(ctx, selectSettings, KeyNotificationEmail, KeyEmailEnabled)
	if err != nil {
		return nil, fmt.Errorf("settings: query: %w", err)
	}
	defer rows.Close()

	out := *r.defaults
	for rows.Next() {
		var (
			key, value string
			updatedAt  time.Time
		)
		if err := rows.Scan(&key, &value, &updatedAt); err != nil {
			return nil, fmt.Errorf("settings: scan: %w", err)
		}
		switch key {
		case KeyNotificationEmail:
			out.NotificationEmail = value
		case KeyEmailEnabled:
			enabled, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("settings: parse %s: %w", key, err)
			}
			out.EmailEnabled = enabled
		}
		if updatedAt.After(out.UpdatedAt) {
			out.UpdatedAt = updatedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settings: rows: %w", err)
	}
	return &out, nil
}

// Save upserts every key in one transaction.
func (r *SQLRepository) Save(ctx context.Context, s *Settings) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("settings: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	updatedAt := s.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	values := [][2]string{
		{KeyNotificationEmail, s.NotificationEmail},
		{KeyEmailEnabled, strconv.FormatBool(s.EmailEnabled)},
	}
	for _, kv := range values {
		if _, err := tx.ExecContext(ctx, upsertSetting, kv[0], kv[1], updatedAt); err != nil {
			return fmt.Errorf("settings: upsert %s: %w", kv[0], err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("settings: commit: %w", err)
	}
	return nil
}
