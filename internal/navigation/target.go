// Package navigation turns deep links, notification clicks and push-click relays into a
// single navigate/expand/highlight action.
package navigation

import (
	"net/url"
	"strings"

	"github.com/pulsecrm/realtime/internal/contracts"
)

const (
	RouteCRM   = "/crm"
	RouteTasks = "/tasks"
)

// Query parameters that carry navigation intent.
const (
	ParamContactID = "contactId"
	ParamTaskID    = "taskId"
	ParamSubtaskID = "subtaskId"
)

// Target is a resolved navigation intent. A target with only Route set is a plain
// navigation with nothing to expand or highlight.
type Target struct {
	Route              string `json:"route"`
	ExpandContactID    string `json:"expand_contact_id,omitempty"`
	HighlightTaskID    string `json:"highlight_task_id,omitempty"`
	HighlightSubtaskID string `json:"highlight_subtask_id,omitempty"`
}

func (t Target) IsZero() bool { return t == Target{} }

// Link encodes the target as a relative deep link that ParseLink reads back.
func (t Target) Link() string {
	q := url.Values{}
	if t.ExpandContactID != "" {
		q.Set(ParamContactID, t.ExpandContactID)
	}
	if t.HighlightTaskID != "" {
		q.Set(ParamTaskID, t.HighlightTaskID)
	}
	if t.HighlightSubtaskID != "" {
		q.Set(ParamSubtaskID, t.HighlightSubtaskID)
	}
	if len(q) == 0 {
		return t.Route
	}
	return t.Route + "?" + q.Encode()
}

func contactTarget(contactID string) Target {
	return Target{Route: RouteCRM, ExpandContactID: contactID}
}

func taskTarget(taskID, subtaskID string) Target {
	return Target{Route: RouteTasks, HighlightTaskID: taskID, HighlightSubtaskID: subtaskID}
}

// ParseQuery reads contactId, or taskId with an optional subtaskId. A task wins over a
// contact when both are present.
func ParseQuery(q url.Values) (Target, bool) {
	if taskID := strings.TrimSpace(q.Get(ParamTaskID)); taskID != "" {
		return taskTarget(taskID, strings.TrimSpace(q.Get(ParamSubtaskID))), true
	}
	if contactID := strings.TrimSpace(q.Get(ParamContactID)); contactID != "" {
		return contactTarget(contactID), true
	}
	return Target{}, false
}

// ParseLink reads a deep link such as "/tasks?taskId=t1" or a full URL. Only the query
// decides the target.
func ParseLink(raw string) (Target, bool) {
	u, q, err := parseURL(raw)
	if err != nil || u == nil {
		return Target{}, false
	}
	return ParseQuery(q)
}

// FromNotification resolves an in-app notification. Tasks that live inside a contact
// record open the contact instead of the task list.
func FromNotification(n contracts.Notification) (Target, bool) {
	contactID := n.DataString("contactId")
	switch strings.ToLower(n.RelatedType) {
	case "contact":
		if contactID == "" {
			contactID = n.DataString("id")
		}
		if contactID == "" {
			return Target{}, false
		}
		return contactTarget(contactID), true
	case "task", "subtask":
		taskID := n.DataString("taskId")
		subtaskID := n.DataString("subtaskId")
		if taskID == "" && strings.EqualFold(n.RelatedType, "task") {
			taskID = n.DataString("id")
		}
		if n.DataString("source") == contracts.SourceContact.String() && contactID != "" {
			return contactTarget(contactID), true
		}
		if taskID == "" {
			return Target{}, false
		}
		return taskTarget(taskID, subtaskID), true
	}
	return fromData(n.DataString)
}

// FromPlatformMessage resolves a push-click relayed by the platform. The URL query is read
// first, then the message data. A URL that cannot be parsed but looks like a path becomes a
// plain navigation to that path; anything else is dropped.
func FromPlatformMessage(m contracts.PlatformMessage) (Target, bool) {
	if m.Type != contracts.PlatformMessageNotificationClick {
		return Target{}, false
	}

	raw := strings.TrimSpace(m.URL)
	u, q, err := parseURL(raw)
	if err != nil {
		if strings.HasPrefix(raw, "/") {
			path, _, _ := strings.Cut(raw, "?")
			return Target{Route: path}, true
		}
		return Target{}, false
	}

	if t, ok := ParseQuery(q); ok {
		return t, true
	}
	if t, ok := fromData(m.DataString); ok {
		return t, true
	}
	if u != nil && strings.HasPrefix(u.Path, "/") && u.Path != "/" {
		return Target{Route: u.Path}, true
	}
	return Target{}, false
}

func fromData(field func(string) string) (Target, bool) {
	if taskID := field("taskId"); taskID != "" {
		return taskTarget(taskID, field("subtaskId")), true
	}
	if contactID := field("contactId"); contactID != "" {
		return contactTarget(contactID), true
	}
	return Target{}, false
}

// parseURL returns a nil URL for an empty string.
func parseURL(raw string) (*url.URL, url.Values, error) {
	if raw == "" {
		return nil, url.Values{}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, nil, err
	}
	return u, q, nil
}
