package messaging

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	EventsStream   = "CRM_EVENTS"
	PresenceStream = "CRM_PRESENCE"
)

var streams = []nats.StreamConfig{
	{
		Name:      EventsStream,
		Subjects:  []string{"app.event.>"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
		Replicas:  1,
	},
	{
		Name:      PresenceStream,
		Subjects:  []string{"app.presence.>"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.MemoryStorage,
		MaxAge:    time.Hour,
		Replicas:  1,
	},
}

// EnsureStreams creates (or validates) the streams the CRM channel relies on:
// - app.event.>    entity and notification events fanned out to clients
// - app.presence.> join/leave page presence emitted by clients
func EnsureStreams(js nats.JetStreamContext) error {
	for i := range streams {
		cfg := streams[i]
		if _, err := js.StreamInfo(cfg.Name); err != nil {
			if !errors.Is(err, nats.ErrStreamNotFound) {
				return err
			}
			if _, addErr := js.AddStream(&cfg); addErr != nil {
				return addErr
			}
		}
	}
	return nil
}
