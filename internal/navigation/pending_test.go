package navigation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPendingStore_TakeClears(t *testing.T) {
	s := NewMemoryPendingStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, s.SavePending(ctx, "a", "/crm?contactId=c1"))
	require.NoError(t, s.SavePending(ctx, "a", "/tasks?taskId=t1"))

	link, ok, err := s.TakePending(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/tasks?taskId=t1", link)

	_, ok, err = s.TakePending(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryPendingStore_Expires(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryPendingStore(10 * time.Minute)
	s.Now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.SavePending(ctx, "a", "/crm?contactId=c1"))
	require.NoError(t, s.SavePending(ctx, "b", "/crm?contactId=c2"))

	now = now.Add(10 * time.Minute)
	_, ok, err := s.TakePending(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SavePending(ctx, "c", "/crm?contactId=c3"))
	s.mu.Lock()
	_, kept := s.links["b"]
	s.mu.Unlock()
	assert.False(t, kept)
}

func TestMemoryPendingStore_SessionsAreIsolated(t *testing.T) {
	s := NewMemoryPendingStore(0)
	ctx := context.Background()
	require.NoError(t, s.SavePending(ctx, "a", "/crm?contactId=c1"))

	_, ok, err := s.TakePending(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, DefaultPendingTTL, s.TTL)
}
