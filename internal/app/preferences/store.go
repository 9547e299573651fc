// Package preferences holds the user-scoped notification toggle behind an explicit
// read/write/subscribe contract.
package preferences

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var ErrMissingUser = errors.New("user id is required")

// Repository persists the flag. found is false for users who never changed it.
type Repository interface {
	NotificationsEnabled(ctx context.Context, userID string) (enabled bool, found bool, err error)
	SetNotificationsEnabled(ctx context.Context, userID string, enabled bool) error
}

type Change struct {
	UserID  string `json:"user_id"`
	Enabled bool   `json:"enabled"`
}

type Store struct {
	repo Repository
	log  zerolog.Logger

	mu      sync.Mutex
	subs    map[uint64]func(Change)
	nextSub uint64
}

func NewStore(repo Repository, log zerolog.Logger) *Store {
	return &Store{
		repo: repo,
		log:  log.With().Str("component", "preferences").Logger(),
		subs: map[uint64]func(Change){},
	}
}

// Get reports whether notifications are enabled for userID. Users default to enabled.
func (s *Store) Get(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, ErrMissingUser
	}
	enabled, found, err := s.repo.NotificationsEnabled(ctx, userID)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return enabled, nil
}

// Set persists the flag and then tells every subscriber.
func (s *Store) Set(ctx context.Context, userID string, enabled bool) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingUser
	}
	if err := s.repo.SetNotificationsEnabled(ctx, userID, enabled); err != nil {
		return err
	}
	s.log.Info().Str("user_id", userID).Bool("enabled", enabled).Msg("notification preference changed")

	change := Change{UserID: userID, Enabled: enabled}
	s.mu.Lock()
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(change)
	}
	return nil
}

func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

type MemoryRepository struct {
	mu     sync.RWMutex
	values map[string]bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{values: map[string]bool{}}
}

func (r *MemoryRepository) NotificationsEnabled(_ context.Context, userID string) (bool, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	enabled, ok := r.values[userID]
	return enabled, ok, nil
}

func (r *MemoryRepository) SetNotificationsEnabled(_ context.Context, userID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[userID] = enabled
	return nil
}
