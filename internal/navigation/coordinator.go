package navigation

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/pulsecrm/realtime/internal/contracts"
	"github.com/pulsecrm/realtime/internal/reconcile"
	"github.com/pulsecrm/realtime/internal/tasktree"
	"github.com/rs/zerolog"
)

// DefaultHighlightFor is how long a highlighted task or subtask stays highlighted.
const DefaultHighlightFor = 3 * time.Second

// State is the transient view state driven by navigation. Expanded subtasks persist until
// collapsed; the highlight clears itself.
type State struct {
	Location           string     `json:"location"`
	ExpandedContactID  string     `json:"expanded_contact_id,omitempty"`
	ExpandedSubtaskIDs []string   `json:"expanded_subtask_ids,omitempty"`
	HighlightTaskID    string     `json:"highlight_task_id,omitempty"`
	HighlightSubtaskID string     `json:"highlight_subtask_id,omitempty"`
	HighlightUntil     *time.Time `json:"highlight_until,omitempty"`
	Navigations        int        `json:"navigations"`
}

type Options struct {
	HighlightFor time.Duration
	Now          func() time.Time
	Logger       zerolog.Logger
}

// Coordinator applies navigation targets one at a time.
type Coordinator struct {
	store   *reconcile.Store
	pending PendingStore
	opts    Options
	log     zerolog.Logger

	mu         sync.Mutex
	state      State
	expanded   map[string]struct{}
	generation uint64
	timer      *time.Timer
}

func NewCoordinator(store *reconcile.Store, pending PendingStore, opts Options) *Coordinator {
	if opts.HighlightFor <= 0 {
		opts.HighlightFor = DefaultHighlightFor
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		store:    store,
		pending:  pending,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "navigation").Logger(),
		state:    State{Location: "/"},
		expanded: map[string]struct{}{},
	}
}

// HandleInitialLoad processes the query string of the first page load of a session.
// Signed out, an intent in the query is parked in the pending store. Signed in, a parked
// link wins over the query and is consumed.
func (c *Coordinator) HandleInitialLoad(ctx context.Context, sessionID, rawQuery string, authenticated bool) (Target, bool, error) {
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		c.log.Debug().Err(err).Msg("ignore unparsable query")
		q = url.Values{}
	}
	fresh, hasFresh := ParseQuery(q)

	if !authenticated {
		if hasFresh {
			if err := c.pending.SavePending(ctx, sessionID, fresh.Link()); err != nil {
				return Target{}, false, fmt.Errorf("save pending link: %w", err)
			}
			c.log.Info().Str("session_id", sessionID).Str("link", fresh.Link()).Msg("deep link parked until sign-in")
		}
		return Target{}, false, nil
	}

	stored, hasStored, err := c.takePending(ctx, sessionID)
	if err != nil {
		return Target{}, false, err
	}
	if hasStored {
		c.Apply(stored)
		return stored, true, nil
	}
	if hasFresh {
		c.Apply(fresh)
		return fresh, true, nil
	}
	return Target{}, false, nil
}

// Resume replays a link parked before sign-in, if any.
func (c *Coordinator) Resume(ctx context.Context, sessionID string) (Target, bool, error) {
	t, ok, err := c.takePending(ctx, sessionID)
	if err != nil || !ok {
		return Target{}, false, err
	}
	c.Apply(t)
	return t, true, nil
}

func (c *Coordinator) HandleNotificationClick(n contracts.Notification) (Target, bool) {
	t, ok := FromNotification(n)
	if !ok {
		c.log.Debug().Str("notification_id", n.ID).Msg("notification has no navigation target")
		return Target{}, false
	}
	c.Apply(t)
	return t, true
}

func (c *Coordinator) HandlePlatformMessage(m contracts.PlatformMessage) (Target, bool) {
	t, ok := FromPlatformMessage(m)
	if !ok {
		c.log.Debug().Str("type", m.Type).Str("url", m.URL).Msg("drop platform message")
		return Target{}, false
	}
	c.Apply(t)
	return t, true
}

// Apply navigates to the target's route with replace semantics: the location never carries
// the intent query and the navigation does not add a history entry.
func (c *Coordinator) Apply(t Target) {
	var ancestors []string
	if t.HighlightSubtaskID != "" && c.store != nil {
		ancestors = c.subtaskAncestors(t.HighlightTaskID, t.HighlightSubtaskID)
	}
	if t.ExpandContactID != "" && c.store != nil {
		c.store.ExpandContact(t.ExpandContactID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Location = t.Route
	c.state.Navigations++
	if t.ExpandContactID != "" {
		c.state.ExpandedContactID = t.ExpandContactID
	}
	for _, id := range ancestors {
		c.expanded[id] = struct{}{}
	}
	c.state.ExpandedSubtaskIDs = sortedKeys(c.expanded)

	if t.HighlightTaskID == "" && t.HighlightSubtaskID == "" {
		return
	}
	c.generation++
	gen := c.generation
	until := c.opts.Now().Add(c.opts.HighlightFor)
	c.state.HighlightTaskID = t.HighlightTaskID
	c.state.HighlightSubtaskID = t.HighlightSubtaskID
	c.state.HighlightUntil = &until
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.opts.HighlightFor, func() { c.clearHighlight(gen) })
}

// CollapseSubtask removes a subtask from the expanded set.
func (c *Coordinator) CollapseSubtask(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.expanded, id)
	c.state.ExpandedSubtaskIDs = sortedKeys(c.expanded)
}

func (c *Coordinator) CollapseContact() {
	if c.store != nil {
		c.store.ExpandContact("")
	}
	c.mu.Lock()
	c.state.ExpandedContactID = ""
	c.mu.Unlock()
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	s := c.state
	s.ExpandedSubtaskIDs = append([]string(nil), c.state.ExpandedSubtaskIDs...)
	c.mu.Unlock()
	// The store drops the expanded contact when it is deleted.
	if c.store != nil {
		s.ExpandedContactID = c.store.Snapshot().Selection.ContactID
	}
	return s
}

// Close stops a pending highlight timer.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) clearHighlight(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.state.HighlightTaskID = ""
	c.state.HighlightSubtaskID = ""
	c.state.HighlightUntil = nil
	c.timer = nil
}

func (c *Coordinator) takePending(ctx context.Context, sessionID string) (Target, bool, error) {
	link, ok, err := c.pending.TakePending(ctx, sessionID)
	if err != nil {
		return Target{}, false, fmt.Errorf("take pending link: %w", err)
	}
	if !ok {
		return Target{}, false, nil
	}
	t, ok := ParseLink(link)
	if !ok {
		c.log.Debug().Str("link", link).Msg("discard unreadable pending link")
		return Target{}, false, nil
	}
	return t, true, nil
}

// subtaskAncestors returns the ids of the subtasks that must be open to show subtaskID.
func (c *Coordinator) subtaskAncestors(taskID, subtaskID string) []string {
	snap := c.store.Snapshot()
	task, ok := reconcile.FindTask(snap, taskID)
	if !ok {
		return nil
	}
	path, ok := tasktree.PathTo(task.Subtasks, subtaskID)
	if !ok || len(path) == 0 {
		return nil
	}
	return path[:len(path)-1]
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
