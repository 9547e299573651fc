package reconcile

import (
	"time"

	"github.com/pulsecrm/realtime/internal/contracts"
	"github.com/pulsecrm/realtime/internal/tasktree"
)

// ContactRef is a task's link to a contact. Known is false when the contact has not been
// synced yet; the name is then left empty instead of failing the render.
type ContactRef struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Known bool   `json:"known"`
}

type SubtaskView struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Completed bool             `json:"completed"`
	Notes     string           `json:"notes,omitempty"`
	DueDate   *contracts.Date  `json:"due_date,omitempty"`
	Urgency   tasktree.Urgency `json:"urgency,omitempty"`
	Progress  tasktree.Counts  `json:"progress"`
	Subtasks  []SubtaskView    `json:"subtasks,omitempty"`
}

type TaskView struct {
	ID        string               `json:"id"`
	Title     string               `json:"title"`
	Source    contracts.TaskSource `json:"source"`
	Priority  contracts.Priority   `json:"priority,omitempty"`
	Completed bool                 `json:"completed"`
	DueDate   *contracts.Date      `json:"due_date,omitempty"`
	Urgency   tasktree.Urgency     `json:"urgency,omitempty"`
	Progress  tasktree.Counts      `json:"progress"`
	Contacts  []ContactRef         `json:"contacts,omitempty"`
	Subtasks  []SubtaskView        `json:"subtasks,omitempty"`
}

func FindContact(s Snapshot, id string) (contracts.Contact, bool) {
	for _, c := range s.Contacts {
		if c.ID == id {
			return c, true
		}
	}
	return contracts.Contact{}, false
}

// FindTask looks in the global collection first, then in every contact's embedded tasks.
func FindTask(s Snapshot, id string) (contracts.Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	for _, c := range s.Contacts {
		for _, t := range c.Tasks {
			if t.ID == id {
				return t, true
			}
		}
	}
	return contracts.Task{}, false
}

// TasksForContact merges the contact's embedded tasks with the global tasks linked to it.
func TasksForContact(s Snapshot, contactID string) []contracts.Task {
	seen := map[string]struct{}{}
	var out []contracts.Task

	if c, ok := FindContact(s, contactID); ok {
		for _, t := range c.Tasks {
			if _, dup := seen[t.ID]; dup {
				continue
			}
			seen[t.ID] = struct{}{}
			out = append(out, t)
		}
	}
	for _, t := range s.Tasks {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		for _, id := range t.LinkedContactIDs() {
			if id == contactID {
				seen[t.ID] = struct{}{}
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func ContactRefs(s Snapshot, t contracts.Task) []ContactRef {
	ids := t.LinkedContactIDs()
	if len(ids) == 0 {
		return nil
	}
	refs := make([]ContactRef, 0, len(ids))
	for _, id := range ids {
		ref := ContactRef{ID: id}
		if c, ok := FindContact(s, id); ok {
			ref.Name = c.Name
			ref.Known = true
		}
		refs = append(refs, ref)
	}
	return refs
}

func BuildTaskView(s Snapshot, t contracts.Task, now time.Time) TaskView {
	return TaskView{
		ID:        t.ID,
		Title:     t.Title,
		Source:    t.Source,
		Priority:  t.Priority,
		Completed: t.Completed,
		DueDate:   t.DueDate,
		Urgency:   tasktree.Classify(dateTime(t.DueDate), t.Completed, now, tasktree.TaskThresholds),
		Progress:  tasktree.Count(t.Subtasks),
		Contacts:  ContactRefs(s, t),
		Subtasks:  buildSubtaskViews(t.Subtasks, now),
	}
}

func BuildTaskViews(s Snapshot, tasks []contracts.Task, now time.Time) []TaskView {
	out := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, BuildTaskView(s, t, now))
	}
	return out
}

func buildSubtaskViews(subtasks []contracts.Subtask, now time.Time) []SubtaskView {
	if len(subtasks) == 0 {
		return nil
	}
	out := make([]SubtaskView, 0, len(subtasks))
	for _, st := range subtasks {
		out = append(out, SubtaskView{
			ID:        st.ID,
			Title:     st.Title,
			Completed: st.Completed,
			Notes:     st.Notes,
			DueDate:   st.DueDate,
			Urgency:   tasktree.Classify(dateTime(st.DueDate), st.Completed, now, tasktree.SubtaskThresholds),
			Progress:  tasktree.Count(st.Subtasks),
			Subtasks:  buildSubtaskViews(st.Subtasks, now),
		})
	}
	return out
}

func dateTime(d *contracts.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}
