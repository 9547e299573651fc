// Package clientstate persists the two pieces of client state that outlive a process:
// deep links parked before sign-in and the notification preference.
package clientstate

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pulsecrm/realtime/internal/navigation"
)

const createPendingLinksTableSQL = `
CREATE TABLE IF NOT EXISTS pending_deep_links (
  session_id text PRIMARY KEY,
  link text NOT NULL,
  expires_at timestamptz NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createPendingLinksExpiryIndexSQL = `
CREATE INDEX IF NOT EXISTS pending_deep_links_expires_at_idx
ON pending_deep_links (expires_at)`

const createNotificationPreferencesTableSQL = `
CREATE TABLE IF NOT EXISTS notification_preferences (
  user_id text PRIMARY KEY,
  enabled boolean NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const deleteExpiredPendingLinksSQL = `
DELETE FROM pending_deep_links WHERE expires_at <= $1`

const upsertPendingLinkSQL = `
INSERT INTO pending_deep_links (session_id, link, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (session_id) DO UPDATE
SET link = EXCLUDED.link,
    expires_at = EXCLUDED.expires_at,
    created_at = now()
`

const takePendingLinkSQL = `
DELETE FROM pending_deep_links
WHERE session_id = $1
RETURNING link, expires_at
`

const selectNotificationPreferenceSQL = `
SELECT enabled FROM notification_preferences WHERE user_id = $1`

const upsertNotificationPreferenceSQL = `
INSERT INTO notification_preferences (user_id, enabled, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (user_id) DO UPDATE
SET enabled = EXCLUDED.enabled,
    updated_at = now()
`

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements navigation.PendingStore and preferences.Repository on Postgres.
type Repository struct {
	DB         DB
	PendingTTL time.Duration
	Now        func() time.Time
}

func NewRepository(db DB, pendingTTL time.Duration) *Repository {
	if pendingTTL <= 0 {
		pendingTTL = navigation.DefaultPendingTTL
	}
	return &Repository{
		DB:         db,
		PendingTTL: pendingTTL,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		createPendingLinksTableSQL,
		createPendingLinksExpiryIndexSQL,
		createNotificationPreferencesTableSQL,
	} {
		if _, err := r.DB.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) SavePending(ctx context.Context, sessionID, link string) error {
	now := r.Now()
	if _, err := r.DB.Exec(ctx, deleteExpiredPendingLinksSQL, now); err != nil {
		return err
	}
	_, err := r.DB.Exec(ctx, upsertPendingLinkSQL, sessionID, link, now.Add(r.PendingTTL))
	return err
}

func (r *Repository) TakePending(ctx context.Context, sessionID string) (string, bool, error) {
	var (
		link      string
		expiresAt time.Time
	)
	err := r.DB.QueryRow(ctx, takePendingLinkSQL, sessionID).Scan(&link, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	if !r.Now().Before(expiresAt) {
		return "", false, nil
	}
	return link, true, nil
}

func (r *Repository) NotificationsEnabled(ctx context.Context, userID string) (bool, bool, error) {
	var enabled bool
	err := r.DB.QueryRow(ctx, selectNotificationPreferenceSQL, userID).Scan(&enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, false, nil
		}
		return false, false, err
	}
	return enabled, true, nil
}

func (r *Repository) SetNotificationsEnabled(ctx context.Context, userID string, enabled bool) error {
	_, err := r.DB.Exec(ctx, upsertNotificationPreferenceSQL, userID, enabled)
	return err
}
