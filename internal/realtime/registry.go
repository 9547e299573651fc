package realtime

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

type registration struct {
	id       uint64
	event    string
	callback Handler
	sub      Subscription
}

// Registry keeps at most one active callback per event name on a transport.
//
// Dispatch is serialised across all events, so callbacks run one at a time as they would on
// a single event loop. A callback whose registration was replaced or released never runs,
// even when its message was already in flight.
type Registry struct {
	transport Transport
	log       zerolog.Logger

	mu       sync.Mutex
	byEvent  map[string]*registration
	nextID   uint64
	released bool

	dispatchMu sync.Mutex
}

func NewRegistry(transport Transport, log zerolog.Logger) *Registry {
	return &Registry{
		transport: transport,
		log:       log,
		byEvent:   map[string]*registration{},
	}
}

// Register attaches callback for event, detaching any callback previously registered for it.
// The returned func detaches exactly this callback; calling it more than once is harmless.
func (r *Registry) Register(event string, callback Handler) (func(), error) {
	if callback == nil {
		return func() {}, ErrNilCallback
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return func() {}, ErrSessionReleased
	}

	if prev, ok := r.byEvent[event]; ok {
		delete(r.byEvent, event)
		r.detach(prev)
	}

	r.nextID++
	reg := &registration{id: r.nextID, event: event, callback: callback}
	sub, err := r.transport.Subscribe(event, func(payload []byte) {
		r.dispatch(reg, payload)
	})
	if err != nil {
		return func() {}, err
	}
	reg.sub = sub
	r.byEvent[event] = reg

	return func() { r.unregister(reg) }, nil
}

// ReleaseAll detaches every tracked callback and clears the registry. Later registrations fail.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for event, reg := range r.byEvent {
		r.detach(reg)
		delete(r.byEvent, event)
	}
	r.released = true
}

// Events lists the event names with an active callback.
func (r *Registry) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := make([]string, 0, len(r.byEvent))
	for event := range r.byEvent {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byEvent)
}

func (r *Registry) unregister(reg *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.byEvent[reg.event]; !ok || current != reg {
		return
	}
	delete(r.byEvent, reg.event)
	r.detach(reg)
}

// detach must be called with r.mu held.
func (r *Registry) detach(reg *registration) {
	if reg.sub == nil {
		return
	}
	if err := reg.sub.Unsubscribe(); err != nil {
		r.log.Warn().Err(err).Str("event", reg.event).Msg("detach realtime handler")
	}
	reg.sub = nil
}

func (r *Registry) dispatch(reg *registration, payload []byte) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	r.mu.Lock()
	current := r.byEvent[reg.event] == reg
	r.mu.Unlock()
	if !current {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Str("event", reg.event).Msg("realtime handler panicked")
		}
	}()
	reg.callback(payload)
}
