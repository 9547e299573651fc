package clientstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pulsecrm/realtime/internal/app/preferences"
	"github.com/pulsecrm/realtime/internal/navigation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ navigation.PendingStore = (*Repository)(nil)
	_ preferences.Repository  = (*Repository)(nil)
)

type pendingRow struct {
	link      string
	expiresAt time.Time
}

// fakeDB understands exactly the statements the repository issues.
type fakeDB struct {
	pending map[string]pendingRow
	prefs   map[string]bool
	execs   []string
	failAll error
}

func newFakeDB() *fakeDB {
	return &fakeDB{pending: map[string]pendingRow{}, prefs: map[string]bool{}}
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if db.failAll != nil {
		return pgconn.CommandTag{}, db.failAll
	}
	db.execs = append(db.execs, sql)
	switch sql {
	case deleteExpiredPendingLinksSQL:
		now := args[0].(time.Time)
		for id, row := range db.pending {
			if !row.expiresAt.After(now) {
				delete(db.pending, id)
			}
		}
	case upsertPendingLinkSQL:
		db.pending[args[0].(string)] = pendingRow{link: args[1].(string), expiresAt: args[2].(time.Time)}
	case upsertNotificationPreferenceSQL:
		db.prefs[args[0].(string)] = args[1].(bool)
	}
	return pgconn.CommandTag{}, nil
}

func (db *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if db.failAll != nil {
		return fakeRow{err: db.failAll}
	}
	switch sql {
	case takePendingLinkSQL:
		id := args[0].(string)
		row, ok := db.pending[id]
		if !ok {
			return fakeRow{err: pgx.ErrNoRows}
		}
		delete(db.pending, id)
		return fakeRow{values: []any{row.link, row.expiresAt}}
	case selectNotificationPreferenceSQL:
		enabled, ok := db.prefs[args[0].(string)]
		if !ok {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{values: []any{enabled}}
	}
	return fakeRow{err: errors.New("unexpected query")}
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *time.Time:
			*p = r.values[i].(time.Time)
		case *bool:
			*p = r.values[i].(bool)
		}
	}
	return nil
}

func TestRepository_EnsureSchema(t *testing.T) {
	db := newFakeDB()
	require.NoError(t, NewRepository(db, 0).EnsureSchema(context.Background()))
	assert.Len(t, db.execs, 3)
}

func TestRepository_PendingLinkTakeClears(t *testing.T) {
	db := newFakeDB()
	repo := NewRepository(db, time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.SavePending(ctx, "s1", "/crm?contactId=c1"))
	link, ok, err := repo.TakePending(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/crm?contactId=c1", link)

	_, ok, err = repo.TakePending(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_ExpiredPendingLinkIsAbsent(t *testing.T) {
	db := newFakeDB()
	repo := NewRepository(db, time.Minute)
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	repo.Now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, repo.SavePending(ctx, "s1", "/tasks?taskId=t1"))
	now = now.Add(time.Minute)

	_, ok, err := repo.TakePending(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_BacksNavigationCoordinator(t *testing.T) {
	repo := NewRepository(newFakeDB(), time.Minute)
	c := navigation.NewCoordinator(nil, repo, navigation.Options{})
	defer c.Close()
	ctx := context.Background()

	_, _, err := c.HandleInitialLoad(ctx, "s1", "contactId=c1", false)
	require.NoError(t, err)
	target, ok, err := c.HandleInitialLoad(ctx, "s1", "taskId=t1", true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c1", target.ExpandContactID)
}

func TestRepository_NotificationPreference(t *testing.T) {
	repo := NewRepository(newFakeDB(), 0)
	store := preferences.NewStore(repo, zerolog.Nop())
	ctx := context.Background()

	enabled, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, store.Set(ctx, "u1", false))
	enabled, err = store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestRepository_PropagatesDatabaseErrors(t *testing.T) {
	db := newFakeDB()
	db.failAll = errors.New("connection reset")
	repo := NewRepository(db, 0)
	ctx := context.Background()

	assert.Error(t, repo.SavePending(ctx, "s1", "/crm"))
	_, _, err := repo.TakePending(ctx, "s1")
	assert.Error(t, err)
	_, _, err = repo.NotificationsEnabled(ctx, "u1")
	assert.Error(t, err)
}
