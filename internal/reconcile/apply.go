// Package reconcile merges server-pushed events into the locally cached contact and task
// collections. Snapshots are never mutated in place; every change produces a new Snapshot.
package reconcile

import (
	"github.com/pulsecrm/realtime/internal/contracts"
)

// Selection is the entity the user currently has expanded or selected.
type Selection struct {
	ContactID string `json:"contact_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

type Snapshot struct {
	Contacts  []contracts.Contact `json:"contacts"`
	Tasks     []contracts.Task    `json:"tasks"`
	Selection Selection           `json:"selection"`
	Version   uint64              `json:"version"`
}

type entity interface {
	EntityID() string
}

// Apply returns the snapshot that results from ev and whether anything changed.
// Unknown ids and duplicate deliveries leave the snapshot untouched.
func Apply(s Snapshot, ev contracts.Event) (Snapshot, bool) {
	next := s
	changed := false

	switch ev := ev.(type) {
	case contracts.ContactCreated:
		next.Contacts, changed = insertIfAbsent(s.Contacts, ev.Contact)
	case contracts.ContactUpdated:
		next.Contacts, changed = replaceByID(s.Contacts, ev.Contact)
	case contracts.ContactDeleted:
		var removed contracts.Contact
		next.Contacts, removed, changed = removeByID(s.Contacts, ev.ID)
		if changed {
			next.Selection = clearContactSelection(s.Selection, removed)
		}
	case contracts.TaskCreated:
		switch ev.Task.Source {
		case contracts.SourceGlobal:
			next.Tasks, changed = insertIfAbsent(s.Tasks, ev.Task)
		case contracts.SourceContact:
			// Embedded tasks arrive with contact-updated; only drop a stale global copy.
			next.Tasks, _, changed = removeByID(s.Tasks, ev.Task.ID)
		}
	case contracts.TaskUpdated:
		switch ev.Task.Source {
		case contracts.SourceGlobal:
			next.Tasks, changed = replaceByID(s.Tasks, ev.Task)
		case contracts.SourceContact:
			next.Tasks, _, changed = removeByID(s.Tasks, ev.Task.ID)
		}
	case contracts.TaskDeleted:
		switch ev.Source {
		case contracts.SourceGlobal:
			next.Tasks, _, changed = removeByID(s.Tasks, ev.ID)
		case contracts.SourceContact:
			next.Contacts, changed = removeEmbeddedTask(s.Contacts, ev.ID)
		}
		if changed && s.Selection.TaskID == ev.ID {
			next.Selection.TaskID = ""
		}
	case contracts.NotificationReceived:
		// Notifications never touch the cached collections.
	}

	if !changed {
		return s, false
	}
	next.Version = s.Version + 1
	return next, true
}

func clearContactSelection(sel Selection, removed contracts.Contact) Selection {
	if sel.ContactID == removed.ID {
		sel.ContactID = ""
	}
	if sel.TaskID != "" {
		for _, t := range removed.Tasks {
			if t.ID == sel.TaskID {
				sel.TaskID = ""
				break
			}
		}
	}
	return sel
}

func insertIfAbsent[T entity](items []T, item T) ([]T, bool) {
	for _, existing := range items {
		if existing.EntityID() == item.EntityID() {
			return items, false
		}
	}
	out := make([]T, 0, len(items)+1)
	out = append(out, items...)
	return append(out, item), true
}

func replaceByID[T entity](items []T, item T) ([]T, bool) {
	for i, existing := range items {
		if existing.EntityID() != item.EntityID() {
			continue
		}
		out := make([]T, len(items))
		copy(out, items)
		out[i] = item
		return out, true
	}
	return items, false
}

func removeByID[T entity](items []T, id string) ([]T, T, bool) {
	var zero T
	for i, existing := range items {
		if existing.EntityID() != id {
			continue
		}
		out := make([]T, 0, len(items)-1)
		out = append(out, items[:i]...)
		out = append(out, items[i+1:]...)
		return out, existing, true
	}
	return items, zero, false
}

func removeEmbeddedTask(contacts []contracts.Contact, taskID string) ([]contracts.Contact, bool) {
	for i, c := range contacts {
		tasks, _, removed := removeByID(c.Tasks, taskID)
		if !removed {
			continue
		}
		out := make([]contracts.Contact, len(contacts))
		copy(out, contacts)
		c.Tasks = tasks
		out[i] = c
		return out, true
	}
	return contacts, false
}
