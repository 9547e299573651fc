// Package tasktree derives display metrics from recursive subtask trees.
// Everything here is pure: the same snapshot always yields the same result.
package tasktree

import (
	"time"

	"github.com/pulsecrm/realtime/internal/contracts"
)

type Counts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
}

// Count walks the whole tree. The owning task is not part of its own subtask count.
func Count(subtasks []contracts.Subtask) Counts {
	var c Counts
	for _, st := range subtasks {
		c.Total++
		if st.Completed {
			c.Completed++
		}
		child := Count(st.Subtasks)
		c.Total += child.Total
		c.Completed += child.Completed
	}
	return c
}

// Walk visits every subtask depth-first, parents before children. Returning false stops the walk.
func Walk(subtasks []contracts.Subtask, visit func(st contracts.Subtask, depth int) bool) {
	walk(subtasks, 0, visit)
}

func walk(subtasks []contracts.Subtask, depth int, visit func(contracts.Subtask, int) bool) bool {
	for _, st := range subtasks {
		if !visit(st, depth) {
			return false
		}
		if !walk(st.Subtasks, depth+1, visit) {
			return false
		}
	}
	return true
}

// PathTo returns the ids from the top-level subtask down to id, inclusive.
func PathTo(subtasks []contracts.Subtask, id string) ([]string, bool) {
	for _, st := range subtasks {
		if st.ID == id {
			return []string{st.ID}, true
		}
		if rest, ok := PathTo(st.Subtasks, id); ok {
			return append([]string{st.ID}, rest...), true
		}
	}
	return nil, false
}

// Find returns the subtask with id anywhere in the tree.
func Find(subtasks []contracts.Subtask, id string) (contracts.Subtask, bool) {
	var (
		found contracts.Subtask
		ok    bool
	)
	Walk(subtasks, func(st contracts.Subtask, _ int) bool {
		if st.ID == id {
			found, ok = st, true
			return false
		}
		return true
	})
	return found, ok
}

// Overdue counts incomplete subtasks whose due day is before now's day.
func Overdue(subtasks []contracts.Subtask, now time.Time) int {
	n := 0
	Walk(subtasks, func(st contracts.Subtask, _ int) bool {
		if !st.Completed && st.DueDate != nil && DaysUntil(st.DueDate.Time, now) < 0 {
			n++
		}
		return true
	})
	return n
}
