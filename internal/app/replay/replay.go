// Package replay publishes recorded realtime events onto a workspace's event subjects.
// It exists to exercise clients against redelivery and reordering.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nuid"
	"github.com/pulsecrm/realtime/internal/contracts"
	"github.com/pulsecrm/realtime/internal/platform/metrics"
	"github.com/pulsecrm/realtime/internal/platform/natsutil"
	"github.com/pulsecrm/realtime/internal/sharding"
	"github.com/rs/zerolog"
)

var ErrEmptyRecording = errors.New("recording has no events")

// Message is one event ready to publish.
type Message struct {
	Line    int
	Event   string
	Key     string
	Payload json.RawMessage
	// Valid is false when the payload does not decode as Event.
	Valid bool
}

// Read parses a JSON-lines recording of {"event": ..., "data": ...} envelopes. Blank lines
// and lines starting with '#' are skipped. With keepInvalid, lines whose payload does not
// decode as the named event are kept so clients can be tested against them.
func Read(r io.Reader, keepInvalid bool) ([]Message, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out []Message
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var env contracts.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if strings.TrimSpace(env.Event) == "" {
			return nil, fmt.Errorf("line %d: event is required", line)
		}

		msg := Message{Line: line, Event: env.Event, Payload: env.Data}
		ev, err := contracts.Decode(env.Event, env.Data)
		switch {
		case err == nil:
			msg.Valid = true
			msg.Key = entityKey(ev)
		case keepInvalid:
			msg.Key = nuid.Next()
		default:
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrEmptyRecording
	}
	return out, nil
}

// entityKey picks the id events are sharded by, so every event of one entity lands on the
// same subject.
func entityKey(ev contracts.Event) string {
	switch e := ev.(type) {
	case contracts.ContactCreated:
		return e.Contact.ID
	case contracts.ContactUpdated:
		return e.Contact.ID
	case contracts.ContactDeleted:
		return e.ID
	case contracts.TaskCreated:
		return e.Task.ID
	case contracts.TaskUpdated:
		return e.Task.ID
	case contracts.TaskDeleted:
		return e.ID
	case contracts.NotificationReceived:
		return e.Notification.ID
	}
	return nuid.Next()
}

type PlanOptions struct {
	// Duplicates is the number of extra copies of every message.
	Duplicates int
	Shuffle    bool
	Seed       int64
}

// Plan expands msgs into the publish order. Copies of a message follow it directly unless
// Shuffle is set, in which case the whole sequence is permuted.
func Plan(msgs []Message, opts PlanOptions) []Message {
	copies := opts.Duplicates + 1
	if copies < 1 {
		copies = 1
	}
	out := make([]Message, 0, len(msgs)*copies)
	for _, m := range msgs {
		for i := 0; i < copies; i++ {
			out = append(out, m)
		}
	}
	if opts.Shuffle {
		rng := rand.New(rand.NewSource(opts.Seed))
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out
}

type Options struct {
	Workspace string
	// Rate caps messages per second; zero publishes as fast as possible.
	Rate    float64
	Logger  zerolog.Logger
	Metrics *metrics.Registry
}

type Stats struct {
	Published int64
	Failed    int64
}

type Replayer struct {
	pub  natsutil.Publisher
	opts Options
	log  zerolog.Logger

	counter   *metrics.CounterVec
	published atomic.Int64
	failed    atomic.Int64
}

func NewReplayer(pub natsutil.Publisher, opts Options) *Replayer {
	counter := metrics.NewCounterVec(metrics.Opts{
		Name: "crm_replay_messages_total",
		Help: "Recorded events published by the replayer.",
	}, []string{"event", "outcome"})
	if opts.Metrics != nil {
		opts.Metrics.MustRegister(counter)
	}
	return &Replayer{
		pub:     pub,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "replay").Str("workspace", opts.Workspace).Logger(),
		counter: counter,
	}
}

// Run publishes msgs in order until done or ctx is cancelled. Publish failures are counted
// and logged; they do not stop the run.
func (r *Replayer) Run(ctx context.Context, msgs []Message) (Stats, error) {
	var tick <-chan time.Time
	if r.opts.Rate > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / r.opts.Rate))
		defer ticker.Stop()
		tick = ticker.C
	}

	for i, m := range msgs {
		if tick != nil && i > 0 {
			select {
			case <-ctx.Done():
				return r.stats(), ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return r.stats(), err
		}

		subject := sharding.EventSubject(r.opts.Workspace, m.Key, m.Event)
		if err := r.pub.Publish(subject, m.Payload); err != nil {
			r.failed.Add(1)
			r.counter.WithLabelValues(m.Event, "failed").Inc()
			r.log.Warn().Err(err).Int("line", m.Line).Str("subject", subject).Msg("publish failed")
			continue
		}
		r.published.Add(1)
		r.counter.WithLabelValues(m.Event, "published").Inc()
		r.log.Debug().Int("line", m.Line).Str("subject", subject).Bool("valid", m.Valid).Msg("published")
	}
	return r.stats(), nil
}

func (r *Replayer) stats() Stats {
	return Stats{Published: r.published.Load(), Failed: r.failed.Load()}
}
