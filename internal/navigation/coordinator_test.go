package navigation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pulsecrm/realtime/internal/contracts"
	"github.com/pulsecrm/realtime/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(highlightFor time.Duration) (*Coordinator, *reconcile.Store, *MemoryPendingStore) {
	store := reconcile.NewStore()
	pending := NewMemoryPendingStore(time.Minute)
	c := NewCoordinator(store, pending, Options{HighlightFor: highlightFor})
	return c, store, pending
}

func TestCoordinator_StoredLinkWinsOverFreshQuery(t *testing.T) {
	c, store, pending := newTestCoordinator(time.Minute)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, pending.SavePending(ctx, "sess-1", "/crm?contactId=c1"))

	target, ok, err := c.HandleInitialLoad(ctx, "sess-1", "taskId=t1", true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Target{Route: RouteCRM, ExpandContactID: "c1"}, target)
	assert.Equal(t, "c1", store.Snapshot().Selection.ContactID)

	_, stillThere, err := pending.TakePending(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, stillThere)

	target, ok, err = c.HandleInitialLoad(ctx, "sess-1", "taskId=t1", true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "t1", target.HighlightTaskID)
}

func TestCoordinator_ParksIntentWhileSignedOut(t *testing.T) {
	c, _, _ := newTestCoordinator(time.Minute)
	defer c.Close()
	ctx := context.Background()

	_, ok, err := c.HandleInitialLoad(ctx, "sess-1", "taskId=t1&subtaskId=s1", false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, c.State().Navigations)

	target, ok, err := c.Resume(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Target{Route: RouteTasks, HighlightTaskID: "t1", HighlightSubtaskID: "s1"}, target)

	_, ok, err = c.Resume(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCoordinator_ApplyUsesCleanRoute(t *testing.T) {
	c, _, _ := newTestCoordinator(time.Minute)
	defer c.Close()

	_, ok, err := c.HandleInitialLoad(context.Background(), "s", "taskId=t1&tab=notes", true)
	require.NoError(t, err)
	require.True(t, ok)

	state := c.State()
	assert.Equal(t, RouteTasks, state.Location)
	assert.Equal(t, 1, state.Navigations)
	assert.Equal(t, "t1", state.HighlightTaskID)
	require.NotNil(t, state.HighlightUntil)
}

func TestCoordinator_HighlightExpiresButExpandStays(t *testing.T) {
	c, store, _ := newTestCoordinator(20 * time.Millisecond)
	defer c.Close()

	store.ReplaceTasks([]contracts.Task{{
		ID: "t1",
		Subtasks: []contracts.Subtask{
			{ID: "a", Subtasks: []contracts.Subtask{{ID: "b", Subtasks: []contracts.Subtask{{ID: "c"}}}}},
		},
	}})

	c.Apply(Target{Route: RouteCRM, ExpandContactID: "c1"})
	c.Apply(Target{Route: RouteTasks, HighlightTaskID: "t1", HighlightSubtaskID: "c"})

	state := c.State()
	assert.Equal(t, "c", state.HighlightSubtaskID)
	assert.Equal(t, []string{"a", "b"}, state.ExpandedSubtaskIDs)

	assert.Eventually(t, func() bool { return c.State().HighlightTaskID == "" }, time.Second, 5*time.Millisecond)
	state = c.State()
	assert.Empty(t, state.HighlightSubtaskID)
	assert.Nil(t, state.HighlightUntil)
	assert.Equal(t, []string{"a", "b"}, state.ExpandedSubtaskIDs)
	assert.Equal(t, "c1", state.ExpandedContactID)
}

func TestCoordinator_OlderTimerNeverClearsNewerHighlight(t *testing.T) {
	c, _, _ := newTestCoordinator(time.Minute)
	defer c.Close()

	c.Apply(Target{Route: RouteTasks, HighlightTaskID: "t1"})
	c.mu.Lock()
	stale := c.generation
	c.mu.Unlock()

	c.Apply(Target{Route: RouteTasks, HighlightTaskID: "t2"})
	c.clearHighlight(stale)

	assert.Equal(t, "t2", c.State().HighlightTaskID)
}

func TestCoordinator_CollapseSubtask(t *testing.T) {
	c, store, _ := newTestCoordinator(time.Minute)
	defer c.Close()
	store.ReplaceTasks([]contracts.Task{{ID: "t1", Subtasks: []contracts.Subtask{{ID: "a", Subtasks: []contracts.Subtask{{ID: "b"}}}}}})

	c.Apply(Target{Route: RouteTasks, HighlightTaskID: "t1", HighlightSubtaskID: "b"})
	c.CollapseSubtask("a")

	assert.Empty(t, c.State().ExpandedSubtaskIDs)
}

func TestCoordinator_ExpandedContactFollowsDeletes(t *testing.T) {
	c, store, _ := newTestCoordinator(time.Minute)
	defer c.Close()
	store.ReplaceContacts([]contracts.Contact{{ID: "c1"}})

	c.HandleNotificationClick(contracts.Notification{RelatedType: "contact", Data: map[string]any{"contactId": "c1"}})
	assert.Equal(t, "c1", c.State().ExpandedContactID)

	ev, err := contracts.Decode(contracts.EventContactDeleted, []byte(`{"id":"c1"}`))
	require.NoError(t, err)
	store.Apply(ev)
	assert.Empty(t, c.State().ExpandedContactID)
}

func TestCoordinator_DropsUnresolvablePlatformMessage(t *testing.T) {
	c, _, _ := newTestCoordinator(time.Minute)
	defer c.Close()

	_, ok := c.HandlePlatformMessage(contracts.PlatformMessage{Type: contracts.PlatformMessageNotificationClick, URL: "%zz"})
	assert.False(t, ok)
	assert.Zero(t, c.State().Navigations)
}

type failingPending struct{}

func (failingPending) SavePending(context.Context, string, string) error { return errors.New("down") }
func (failingPending) TakePending(context.Context, string) (string, bool, error) {
	return "", false, errors.New("down")
}

func TestCoordinator_PendingStoreErrorsSurface(t *testing.T) {
	c := NewCoordinator(nil, failingPending{}, Options{})
	defer c.Close()

	_, _, err := c.HandleInitialLoad(context.Background(), "s", "contactId=c1", false)
	assert.Error(t, err)
	_, _, err = c.HandleInitialLoad(context.Background(), "s", "contactId=c1", true)
	assert.Error(t, err)
}
