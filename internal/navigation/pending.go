package navigation

import (
	"context"
	"sync"
	"time"
)

// DefaultPendingTTL bounds how long a deep link opened before sign-in is kept.
const DefaultPendingTTL = 15 * time.Minute

// PendingStore keeps at most one deep link per browser session.
type PendingStore interface {
	SavePending(ctx context.Context, sessionID, link string) error
	// TakePending returns the stored link and deletes it. Expired links are reported absent.
	TakePending(ctx context.Context, sessionID string) (string, bool, error)
}

type pendingLink struct {
	link    string
	expires time.Time
}

type MemoryPendingStore struct {
	TTL time.Duration
	Now func() time.Time

	mu    sync.Mutex
	links map[string]pendingLink
}

func NewMemoryPendingStore(ttl time.Duration) *MemoryPendingStore {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &MemoryPendingStore{
		TTL:   ttl,
		Now:   time.Now,
		links: map[string]pendingLink{},
	}
}

func (s *MemoryPendingStore) SavePending(_ context.Context, sessionID, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	s.prune(now)
	s.links[sessionID] = pendingLink{link: link, expires: now.Add(s.TTL)}
	return nil
}

func (s *MemoryPendingStore) TakePending(_ context.Context, sessionID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.links[sessionID]
	if !ok {
		return "", false, nil
	}
	delete(s.links, sessionID)
	if !s.Now().Before(p.expires) {
		return "", false, nil
	}
	return p.link, true, nil
}

func (s *MemoryPendingStore) prune(now time.Time) {
	for id, p := range s.links {
		if !now.Before(p.expires) {
			delete(s.links, id)
		}
	}
}
