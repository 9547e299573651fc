package preferences

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_DefaultsToEnabled(t *testing.T) {
	s := NewStore(NewMemoryRepository(), zerolog.Nop())
	enabled, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestStore_SetPersistsAndPublishes(t *testing.T) {
	s := NewStore(NewMemoryRepository(), zerolog.Nop())
	ctx := context.Background()

	var changes []Change
	unsubscribe := s.Subscribe(func(c Change) { changes = append(changes, c) })

	require.NoError(t, s.Set(ctx, "u1", false))
	enabled, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, enabled)

	unsubscribe()
	unsubscribe()
	require.NoError(t, s.Set(ctx, "u1", true))

	assert.Equal(t, []Change{{UserID: "u1", Enabled: false}}, changes)
}

func TestStore_RequiresUser(t *testing.T) {
	s := NewStore(NewMemoryRepository(), zerolog.Nop())
	_, err := s.Get(context.Background(), " ")
	assert.ErrorIs(t, err, ErrMissingUser)
	assert.ErrorIs(t, s.Set(context.Background(), "", true), ErrMissingUser)
}

type brokenRepo struct{}

func (brokenRepo) NotificationsEnabled(context.Context, string) (bool, bool, error) {
	return false, false, errors.New("db down")
}

func (brokenRepo) SetNotificationsEnabled(context.Context, string, bool) error {
	return errors.New("db down")
}

func TestStore_FailedWriteDoesNotPublish(t *testing.T) {
	s := NewStore(brokenRepo{}, zerolog.Nop())
	called := false
	s.Subscribe(func(Change) { called = true })

	assert.Error(t, s.Set(context.Background(), "u1", false))
	assert.False(t, called)
	_, err := s.Get(context.Background(), "u1")
	assert.Error(t, err)
}
