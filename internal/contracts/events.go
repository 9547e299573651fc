package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidEventPayload = errors.New("invalid event payload")

// ErrUnsupportedEvent rejects event names the client does not reconcile.
var ErrUnsupportedEvent = errors.New("unsupported event")

// Event is a decoded inbound realtime event. The concrete types below are the only
// implementations; switch on them exhaustively.
type Event interface {
	Name() string
	isEvent()
}

type ContactCreated struct{ Contact Contact }
type ContactUpdated struct{ Contact Contact }
type ContactDeleted struct{ ID string }
type TaskCreated struct{ Task Task }
type TaskUpdated struct{ Task Task }
type TaskDeleted struct {
	ID     string
	Source TaskSource
}
type NotificationReceived struct{ Notification Notification }

func (ContactCreated) Name() string       { return EventContactCreated }
func (ContactUpdated) Name() string       { return EventContactUpdated }
func (ContactDeleted) Name() string       { return EventContactDeleted }
func (TaskCreated) Name() string          { return EventTaskCreated }
func (TaskUpdated) Name() string          { return EventTaskUpdated }
func (TaskDeleted) Name() string          { return EventTaskDeleted }
func (NotificationReceived) Name() string { return EventNotification }

func (ContactCreated) isEvent()       {}
func (ContactUpdated) isEvent()       {}
func (ContactDeleted) isEvent()       {}
func (TaskCreated) isEvent()          {}
func (TaskUpdated) isEvent()          {}
func (TaskDeleted) isEvent()          {}
func (NotificationReceived) isEvent() {}

// Decode narrows a raw payload into the typed event for name.
func Decode(name string, payload []byte) (Event, error) {
	switch name {
	case EventContactCreated, EventContactUpdated:
		contact, err := decodeContact(payload)
		if err != nil {
			return nil, err
		}
		if name == EventContactCreated {
			return ContactCreated{Contact: contact}, nil
		}
		return ContactUpdated{Contact: contact}, nil
	case EventTaskCreated, EventTaskUpdated:
		task, err := decodeTask(payload)
		if err != nil {
			return nil, err
		}
		if name == EventTaskCreated {
			return TaskCreated{Task: task}, nil
		}
		return TaskUpdated{Task: task}, nil
	case EventContactDeleted:
		ref, err := decodeDeleted(payload)
		if err != nil {
			return nil, err
		}
		return ContactDeleted{ID: ref.ID}, nil
	case EventTaskDeleted:
		ref, err := decodeDeleted(payload)
		if err != nil {
			return nil, err
		}
		return TaskDeleted{ID: ref.ID, Source: ref.Source}, nil
	case EventNotification:
		var n Notification
		if err := json.Unmarshal(payload, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEventPayload, err)
		}
		if strings.TrimSpace(n.ID) == "" {
			return nil, fmt.Errorf("%w: notification id is required", ErrInvalidEventPayload)
		}
		return NotificationReceived{Notification: n}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, name)
	}
}

func decodeContact(payload []byte) (Contact, error) {
	var c Contact
	if err := json.Unmarshal(payload, &c); err != nil {
		return Contact{}, fmt.Errorf("%w: %v", ErrInvalidEventPayload, err)
	}
	if strings.TrimSpace(c.ID) == "" {
		return Contact{}, fmt.Errorf("%w: contact id is required", ErrInvalidEventPayload)
	}
	if !c.Status.Valid() {
		return Contact{}, fmt.Errorf("%w: contact status %q", ErrInvalidEventPayload, c.Status)
	}
	for i := range c.Tasks {
		if err := validateTask(c.Tasks[i]); err != nil {
			return Contact{}, err
		}
		// Embedded tasks are contact-sourced regardless of what the payload says.
		c.Tasks[i].Source = SourceContact
	}
	return c, nil
}

func decodeTask(payload []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(payload, &t); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrInvalidEventPayload, err)
	}
	if err := validateTask(t); err != nil {
		return Task{}, err
	}
	return t, nil
}

func decodeDeleted(payload []byte) (DeletedRef, error) {
	var ref DeletedRef
	if err := json.Unmarshal(payload, &ref); err != nil {
		return DeletedRef{}, fmt.Errorf("%w: %v", ErrInvalidEventPayload, err)
	}
	if strings.TrimSpace(ref.ID) == "" {
		return DeletedRef{}, fmt.Errorf("%w: id is required", ErrInvalidEventPayload)
	}
	return ref, nil
}

func validateTask(t Task) error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: task id is required", ErrInvalidEventPayload)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: task priority %q", ErrInvalidEventPayload, t.Priority)
	}
	return validateSubtasks(t.Subtasks)
}

func validateSubtasks(subtasks []Subtask) error {
	for _, st := range subtasks {
		if strings.TrimSpace(st.ID) == "" {
			return fmt.Errorf("%w: subtask id is required", ErrInvalidEventPayload)
		}
		if err := validateSubtasks(st.Subtasks); err != nil {
			return err
		}
	}
	return nil
}
