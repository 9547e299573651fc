package navigation

import (
	"net/url"
	"testing"

	"github.com/pulsecrm/realtime/internal/contracts"
	"github.com/stretchr/testify/assert"
)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Target
		ok    bool
	}{
		{"contact", "contactId=c1", Target{Route: RouteCRM, ExpandContactID: "c1"}, true},
		{"task", "taskId=t1", Target{Route: RouteTasks, HighlightTaskID: "t1"}, true},
		{"subtask", "taskId=t1&subtaskId=s2", Target{Route: RouteTasks, HighlightTaskID: "t1", HighlightSubtaskID: "s2"}, true},
		{"task wins", "contactId=c1&taskId=t1", Target{Route: RouteTasks, HighlightTaskID: "t1"}, true},
		{"blank", "contactId=%20", Target{}, false},
		{"unrelated", "tab=notes", Target{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			assert.NoError(t, err)
			got, ok := ParseQuery(q)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTarget_LinkRoundTrips(t *testing.T) {
	for _, target := range []Target{
		{Route: RouteCRM, ExpandContactID: "c 1"},
		{Route: RouteTasks, HighlightTaskID: "t1", HighlightSubtaskID: "s&2"},
	} {
		got, ok := ParseLink(target.Link())
		assert.True(t, ok)
		assert.Equal(t, target, got)
	}
	assert.Equal(t, "/crm", Target{Route: RouteCRM}.Link())
}

func TestFromNotification(t *testing.T) {
	tests := []struct {
		name string
		n    contracts.Notification
		want Target
		ok   bool
	}{
		{
			name: "contact",
			n:    contracts.Notification{RelatedType: "contact", Data: map[string]any{"contactId": "c1"}},
			want: Target{Route: RouteCRM, ExpandContactID: "c1"},
			ok:   true,
		},
		{
			name: "global task",
			n:    contracts.Notification{RelatedType: "task", Data: map[string]any{"taskId": "t1"}},
			want: Target{Route: RouteTasks, HighlightTaskID: "t1"},
			ok:   true,
		},
		{
			name: "task id fallback",
			n:    contracts.Notification{RelatedType: "task", Data: map[string]any{"id": "t7"}},
			want: Target{Route: RouteTasks, HighlightTaskID: "t7"},
			ok:   true,
		},
		{
			name: "contact task opens contact",
			n:    contracts.Notification{RelatedType: "task", Data: map[string]any{"taskId": "t1", "source": "contact", "contactId": "c4"}},
			want: Target{Route: RouteCRM, ExpandContactID: "c4"},
			ok:   true,
		},
		{
			name: "subtask",
			n:    contracts.Notification{RelatedType: "subtask", Data: map[string]any{"taskId": "t1", "subtaskId": "s1"}},
			want: Target{Route: RouteTasks, HighlightTaskID: "t1", HighlightSubtaskID: "s1"},
			ok:   true,
		},
		{
			name: "no related type uses data",
			n:    contracts.Notification{Data: map[string]any{"contactId": "c2"}},
			want: Target{Route: RouteCRM, ExpandContactID: "c2"},
			ok:   true,
		},
		{
			name: "nothing to open",
			n:    contracts.Notification{RelatedType: "task"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromNotification(tt.n)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromPlatformMessage(t *testing.T) {
	click := func(u string, data map[string]any) contracts.PlatformMessage {
		return contracts.PlatformMessage{Type: contracts.PlatformMessageNotificationClick, URL: u, Data: data}
	}
	tests := []struct {
		name string
		msg  contracts.PlatformMessage
		want Target
		ok   bool
	}{
		{"absolute url", click("https://app.example.com/tasks?taskId=t1&subtaskId=s1", nil),
			Target{Route: RouteTasks, HighlightTaskID: "t1", HighlightSubtaskID: "s1"}, true},
		{"relative url", click("/crm?contactId=c1", nil), Target{Route: RouteCRM, ExpandContactID: "c1"}, true},
		{"data fallback", click("/tasks", map[string]any{"taskId": "t9"}), Target{Route: RouteTasks, HighlightTaskID: "t9"}, true},
		{"plain path", click("/calendar", nil), Target{Route: "/calendar"}, true},
		{"unparsable path", click("/tasks?taskId=%zz", nil), Target{Route: "/tasks"}, true},
		{"unparsable junk", click("%zz", map[string]any{"taskId": "t1"}), Target{}, false},
		{"empty url with data", click("", map[string]any{"contactId": "c3"}), Target{Route: RouteCRM, ExpandContactID: "c3"}, true},
		{"root only", click("https://app.example.com/", nil), Target{}, false},
		{"other type", contracts.PlatformMessage{Type: "PING", URL: "/crm?contactId=c1"}, Target{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromPlatformMessage(tt.msg)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
