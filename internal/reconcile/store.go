package reconcile

import (
	"sync"

	"github.com/pulsecrm/realtime/internal/contracts"
)

// Store owns the current snapshot. It is the single writer of the cached collections;
// readers get immutable snapshots and may derive views from them freely.
type Store struct {
	mu      sync.RWMutex
	snap    Snapshot
	subs    map[uint64]func(Snapshot)
	nextSub uint64
}

func NewStore() *Store {
	return &Store{subs: map[uint64]func(Snapshot){}}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Apply reconciles ev into the store and reports whether the snapshot changed.
func (s *Store) Apply(ev contracts.Event) bool {
	return s.update(func(cur Snapshot) (Snapshot, bool) {
		return Apply(cur, ev)
	})
}

// ReplaceContacts swaps the whole contact collection, e.g. after a refetch.
func (s *Store) ReplaceContacts(contacts []contracts.Contact) {
	s.update(func(cur Snapshot) (Snapshot, bool) {
		next := cur
		next.Contacts = normalizeContacts(contacts)
		next.Selection = pruneSelection(next, cur.Selection)
		next.Version = cur.Version + 1
		return next, true
	})
}

// ReplaceTasks swaps the global task collection. Contact-sourced tasks are filtered out.
func (s *Store) ReplaceTasks(tasks []contracts.Task) {
	s.update(func(cur Snapshot) (Snapshot, bool) {
		next := cur
		next.Tasks = make([]contracts.Task, 0, len(tasks))
		for _, t := range tasks {
			if t.Source == contracts.SourceGlobal {
				next.Tasks = append(next.Tasks, t)
			}
		}
		next.Selection = pruneSelection(next, cur.Selection)
		next.Version = cur.Version + 1
		return next, true
	})
}

func (s *Store) ExpandContact(id string) {
	s.update(func(cur Snapshot) (Snapshot, bool) {
		if cur.Selection.ContactID == id {
			return cur, false
		}
		next := cur
		next.Selection.ContactID = id
		next.Version = cur.Version + 1
		return next, true
	})
}

func (s *Store) SelectTask(id string) {
	s.update(func(cur Snapshot) (Snapshot, bool) {
		if cur.Selection.TaskID == id {
			return cur, false
		}
		next := cur
		next.Selection.TaskID = id
		next.Version = cur.Version + 1
		return next, true
	})
}

// Subscribe registers fn to receive every new snapshot. The returned func removes it.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) update(fn func(Snapshot) (Snapshot, bool)) bool {
	s.mu.Lock()
	next, changed := fn(s.snap)
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.snap = next
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(next)
	}
	return true
}

func normalizeContacts(contacts []contracts.Contact) []contracts.Contact {
	out := make([]contracts.Contact, len(contacts))
	for i, c := range contacts {
		if len(c.Tasks) > 0 {
			tasks := make([]contracts.Task, len(c.Tasks))
			copy(tasks, c.Tasks)
			for j := range tasks {
				tasks[j].Source = contracts.SourceContact
			}
			c.Tasks = tasks
		}
		out[i] = c
	}
	return out
}

func pruneSelection(s Snapshot, sel Selection) Selection {
	if sel.ContactID != "" {
		if _, ok := FindContact(s, sel.ContactID); !ok {
			sel.ContactID = ""
		}
	}
	if sel.TaskID != "" {
		if _, ok := FindTask(s, sel.TaskID); !ok {
			sel.TaskID = ""
		}
	}
	return sel
}
