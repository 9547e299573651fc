package contracts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Inbound realtime event names.
const (
	EventContactCreated = "contact-created"
	EventContactUpdated = "contact-updated"
	EventContactDeleted = "contact-deleted"
	EventTaskCreated    = "task-created"
	EventTaskUpdated    = "task-updated"
	EventTaskDeleted    = "task-deleted"
	EventNotification   = "notification"
)

// Outbound presence event names.
const (
	EventJoinPage  = "join-page"
	EventLeavePage = "leave-page"
)

// InboundEvents lists every event the sync engine subscribes to.
var InboundEvents = []string{
	EventContactCreated,
	EventContactUpdated,
	EventContactDeleted,
	EventTaskCreated,
	EventTaskUpdated,
	EventTaskDeleted,
	EventNotification,
}

var ErrUnknownTaskSource = errors.New("unknown task source")

// TaskSource tells where a task lives: embedded in a contact record or standalone.
// The zero value is SourceGlobal so payloads without a source are routed as global tasks.
type TaskSource int

const (
	SourceGlobal TaskSource = iota
	SourceContact
)

func (s TaskSource) String() string {
	switch s {
	case SourceContact:
		return "contact"
	default:
		return "global"
	}
}

func (s TaskSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TaskSource) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "global":
		*s = SourceGlobal
	case "contact":
		*s = SourceContact
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTaskSource, string(text))
	}
	return nil
}

type ContactStatus string

const (
	ContactStatusNew       ContactStatus = "new"
	ContactStatusActive    ContactStatus = "active"
	ContactStatusCompleted ContactStatus = "completed"
	ContactStatusCancelled ContactStatus = "cancelled"
)

func (s ContactStatus) Valid() bool {
	switch s {
	case "", ContactStatusNew, ContactStatusActive, ContactStatusCompleted, ContactStatusCancelled:
		return true
	default:
		return false
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case "", PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Date is a due date. The backend sends either RFC3339 timestamps or bare YYYY-MM-DD days.
type Date struct {
	time.Time
}

const dayLayout = "2006-01-02"

func NewDate(t time.Time) *Date {
	return &Date{Time: t}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Time.Format(time.RFC3339))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.ParseInLocation(dayLayout, raw, time.Local)
	if err != nil {
		return fmt.Errorf("invalid date %q", raw)
	}
	d.Time = t
	return nil
}

// Subtask is a node of a task's checklist tree. Children have the same shape.
type Subtask struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	DueDate   *Date     `json:"dueDate,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Subtasks  []Subtask `json:"subtasks,omitempty"`
}

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *Date      `json:"dueDate,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	Completed   bool       `json:"completed"`
	Source      TaskSource `json:"source"`
	ContactID   string     `json:"contactId,omitempty"`
	ContactIDs  []string   `json:"contactIds,omitempty"`
	Subtasks    []Subtask  `json:"subtasks,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

func (t Task) EntityID() string { return t.ID }

// LinkedContactIDs returns the contacts a global task is associated with.
// The contactIds list wins; the legacy single contactId is used only when the list is empty.
func (t Task) LinkedContactIDs() []string {
	if len(t.ContactIDs) > 0 {
		return t.ContactIDs
	}
	if strings.TrimSpace(t.ContactID) != "" {
		return []string{t.ContactID}
	}
	return nil
}

type Contact struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Email     string        `json:"email,omitempty"`
	Phone     string        `json:"phone,omitempty"`
	Company   string        `json:"company,omitempty"`
	Status    ContactStatus `json:"status,omitempty"`
	Tasks     []Task        `json:"tasks,omitempty"`
	CreatedAt *time.Time    `json:"createdAt,omitempty"`
	UpdatedAt *time.Time    `json:"updatedAt,omitempty"`
}

func (c Contact) EntityID() string { return c.ID }

// DeletedRef is the payload of contact-deleted and task-deleted.
type DeletedRef struct {
	ID     string     `json:"id"`
	Source TaskSource `json:"source"`
}

type Notification struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Message     string         `json:"message,omitempty"`
	RelatedType string         `json:"relatedType,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// DataString returns a string field from the notification data, or "".
func (n Notification) DataString(key string) string {
	return stringField(n.Data, key)
}

// PlatformMessageNotificationClick is the only platform message type the client acts on.
const PlatformMessageNotificationClick = "NOTIFICATION_CLICK"

// PlatformMessage is relayed from a background push handler when the user clicks a push
// notification while the app was not in the foreground.
type PlatformMessage struct {
	Type string         `json:"type"`
	URL  string         `json:"url"`
	Data map[string]any `json:"data,omitempty"`
}

func (m PlatformMessage) DataString(key string) string {
	return stringField(m.Data, key)
}

// PagePresence is the payload of join-page and leave-page.
type PagePresence struct {
	PageID    string `json:"pageId"`
	SessionID string `json:"sessionId,omitempty"`
}

// Envelope frames an event on transports that multiplex every event over one stream.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	switch v := data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	default:
		return ""
	}
}
