package reconcile

import (
	"testing"
	"time"

	"github.com/pulsecrm/realtime/internal/contracts"
	"github.com/pulsecrm/realtime/internal/tasktree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, event, payload string) contracts.Event {
	t.Helper()
	ev, err := contracts.Decode(event, []byte(payload))
	require.NoError(t, err)
	return ev
}

func TestApply_TaskCreatedIsIdempotent(t *testing.T) {
	ev := mustDecode(t, contracts.EventTaskCreated, `{"id":"t1","title":"Call Ada"}`)

	s, changed := Apply(Snapshot{}, ev)
	require.True(t, changed)
	s, changed = Apply(s, ev)

	assert.False(t, changed)
	assert.Len(t, s.Tasks, 1)
	assert.Equal(t, uint64(1), s.Version)
}

func TestApply_TaskUpdatedReplacesWholesale(t *testing.T) {
	s, _ := Apply(Snapshot{}, mustDecode(t, contracts.EventTaskCreated,
		`{"id":"t1","title":"Call Ada","description":"about renewal","priority":"high","contactIds":["c1"]}`))
	s, _ = Apply(s, mustDecode(t, contracts.EventTaskCreated, `{"id":"t2","title":"Other"}`))

	s, changed := Apply(s, mustDecode(t, contracts.EventTaskUpdated, `{"id":"t1","title":"Call Ada again"}`))
	require.True(t, changed)
	require.Len(t, s.Tasks, 2)

	updated := s.Tasks[0]
	assert.Equal(t, "Call Ada again", updated.Title)
	assert.Empty(t, updated.Description)
	assert.Empty(t, updated.Priority)
	assert.Empty(t, updated.ContactIDs)
	assert.Equal(t, "Other", s.Tasks[1].Title)
}

func TestApply_UpdateForUnknownIDIsNoop(t *testing.T) {
	s, changed := Apply(Snapshot{}, mustDecode(t, contracts.EventContactUpdated, `{"id":"c1","name":"Ada"}`))
	assert.False(t, changed)
	assert.Empty(t, s.Contacts)
}

func TestApply_DoesNotMutatePreviousSnapshot(t *testing.T) {
	before, _ := Apply(Snapshot{}, mustDecode(t, contracts.EventContactCreated, `{"id":"c1","name":"Ada"}`))
	after, _ := Apply(before, mustDecode(t, contracts.EventContactUpdated, `{"id":"c1","name":"Ada Lovelace"}`))

	assert.Equal(t, "Ada", before.Contacts[0].Name)
	assert.Equal(t, "Ada Lovelace", after.Contacts[0].Name)
}

func TestApply_DeleteClearsSelection(t *testing.T) {
	s, _ := Apply(Snapshot{}, mustDecode(t, contracts.EventContactCreated, `{"id":"c1","name":"Ada","tasks":[{"id":"t9"}]}`))
	s, _ = Apply(s, mustDecode(t, contracts.EventTaskCreated, `{"id":"t1"}`))
	s.Selection = Selection{ContactID: "c1", TaskID: "t1"}

	s, changed := Apply(s, mustDecode(t, contracts.EventTaskDeleted, `{"id":"t1","source":"global"}`))
	require.True(t, changed)
	assert.Empty(t, s.Selection.TaskID)
	assert.Equal(t, "c1", s.Selection.ContactID)

	s.Selection.TaskID = "t9"
	s, changed = Apply(s, mustDecode(t, contracts.EventContactDeleted, `{"id":"c1"}`))
	require.True(t, changed)
	assert.Equal(t, Selection{}, s.Selection)
	assert.Empty(t, s.Contacts)
}

func TestApply_DeleteOfOtherEntityKeepsSelection(t *testing.T) {
	s, _ := Apply(Snapshot{}, mustDecode(t, contracts.EventContactCreated, `{"id":"c1"}`))
	s, _ = Apply(s, mustDecode(t, contracts.EventContactCreated, `{"id":"c2"}`))
	s.Selection.ContactID = "c1"

	s, _ = Apply(s, mustDecode(t, contracts.EventContactDeleted, `{"id":"c2"}`))
	assert.Equal(t, "c1", s.Selection.ContactID)
}

func TestApply_ContactSourcedTasksStayOutOfGlobalCollection(t *testing.T) {
	s, changed := Apply(Snapshot{}, mustDecode(t, contracts.EventTaskCreated, `{"id":"t1","source":"contact","contactId":"c1"}`))
	assert.False(t, changed)
	assert.Empty(t, s.Tasks)

	s, _ = Apply(s, mustDecode(t, contracts.EventTaskCreated, `{"id":"t2","source":"global"}`))
	s, changed = Apply(s, mustDecode(t, contracts.EventTaskUpdated, `{"id":"t2","source":"contact"}`))
	assert.True(t, changed)
	assert.Empty(t, s.Tasks)
}

func TestApply_ContactTaskDeleteRemovesEmbeddedTask(t *testing.T) {
	s, _ := Apply(Snapshot{}, mustDecode(t, contracts.EventContactCreated,
		`{"id":"c1","tasks":[{"id":"t1"},{"id":"t2"}]}`))

	s, changed := Apply(s, mustDecode(t, contracts.EventTaskDeleted, `{"id":"t1","source":"contact"}`))
	require.True(t, changed)
	require.Len(t, s.Contacts[0].Tasks, 1)
	assert.Equal(t, "t2", s.Contacts[0].Tasks[0].ID)
}

func TestApply_NotificationLeavesSnapshot(t *testing.T) {
	s := Snapshot{Version: 4}
	next, changed := Apply(s, mustDecode(t, contracts.EventNotification, `{"id":"n1","type":"task_due"}`))
	assert.False(t, changed)
	assert.Equal(t, s, next)
}

func TestTasksForContact_MergesEmbeddedAndLinkedGlobalTasks(t *testing.T) {
	s, _ := Apply(Snapshot{}, mustDecode(t, contracts.EventContactCreated, `{"id":"c1","name":"Ada","tasks":[{"id":"e1"}]}`))
	s, _ = Apply(s, mustDecode(t, contracts.EventTaskCreated, `{"id":"g1","contactIds":["c2","c1"]}`))
	s, _ = Apply(s, mustDecode(t, contracts.EventTaskCreated, `{"id":"g2","contactId":"c1"}`))
	s, _ = Apply(s, mustDecode(t, contracts.EventTaskCreated, `{"id":"g3","contactId":"c1","contactIds":["c2"]}`))
	s, _ = Apply(s, mustDecode(t, contracts.EventTaskCreated, `{"id":"g4"}`))

	var ids []string
	for _, task := range TasksForContact(s, "c1") {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"e1", "g1", "g2"}, ids)
}

func TestTasksForContact_UnknownContactStillGetsLinkedTasks(t *testing.T) {
	s, _ := Apply(Snapshot{}, mustDecode(t, contracts.EventTaskCreated, `{"id":"g1","contactId":"c9"}`))
	tasks := TasksForContact(s, "c9")
	require.Len(t, tasks, 1)
}

func TestBuildTaskView_OutOfOrderContact(t *testing.T) {
	s, _ := Apply(Snapshot{}, mustDecode(t, contracts.EventTaskCreated,
		`{"id":"t1","title":"Follow up","contactIds":["c9"],"subtasks":[{"id":"s1","completed":true},{"id":"s2","subtasks":[{"id":"s3","completed":true}]}]}`))

	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	var view TaskView
	require.NotPanics(t, func() { view = BuildTaskView(s, s.Tasks[0], now) })
	require.Len(t, view.Contacts, 1)
	assert.Equal(t, ContactRef{ID: "c9"}, view.Contacts[0])
	assert.Equal(t, tasktree.Counts{Total: 3, Completed: 2}, view.Progress)

	s, _ = Apply(s, mustDecode(t, contracts.EventContactCreated, `{"id":"c9","name":"Grace"}`))
	view = BuildTaskView(s, s.Tasks[0], now)
	assert.Equal(t, ContactRef{ID: "c9", Name: "Grace", Known: true}, view.Contacts[0])
}
