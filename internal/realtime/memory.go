package realtime

import (
	"context"
	"errors"
	"sync"
)

var ErrTransportClosed = errors.New("transport closed")

// Message is one outbound publish recorded by a MemoryTransport.
type Message struct {
	Event   string
	Payload []byte
}

// MemoryTransport is an in-process transport. Inbound events are injected with Deliver and
// outbound publishes are recorded. It backs offline runs and tests.
type MemoryTransport struct {
	hooks Hooks

	mu        sync.Mutex
	handlers  map[string]map[uint64]Handler
	nextID    uint64
	published []Message
	closed    bool
}

func NewMemoryTransport(hooks Hooks) *MemoryTransport {
	return &MemoryTransport{hooks: hooks, handlers: map[string]map[uint64]Handler{}}
}

func (t *MemoryTransport) Subscribe(event string, h Handler) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	t.nextID++
	id := t.nextID
	if t.handlers[event] == nil {
		t.handlers[event] = map[uint64]Handler{}
	}
	t.handlers[event][id] = h
	return SubscriptionFunc(func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers[event], id)
		return nil
	}), nil
}

func (t *MemoryTransport) Publish(event string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	t.published = append(t.published, Message{Event: event, Payload: append([]byte(nil), payload...)})
	return nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.handlers = map[string]map[uint64]Handler{}
	t.mu.Unlock()
	if t.hooks.OnClosed != nil {
		t.hooks.OnClosed()
	}
	return nil
}

// Deliver hands payload to every handler subscribed to event and reports how many ran.
func (t *MemoryTransport) Deliver(event string, payload []byte) int {
	t.mu.Lock()
	handlers := make([]Handler, 0, len(t.handlers[event]))
	for _, h := range t.handlers[event] {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
	return len(handlers)
}

// Subscribers counts the transport-level subscriptions for event.
func (t *MemoryTransport) Subscribers(event string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers[event])
}

func (t *MemoryTransport) Published() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.published...)
}

func (t *MemoryTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Hooks exposes the hooks so callers can simulate connection changes.
func (t *MemoryTransport) Hooks() Hooks { return t.hooks }

// MemoryDialer hands out MemoryTransports and reports them connected immediately.
type MemoryDialer struct {
	mu    sync.Mutex
	dials []*MemoryTransport
	err   error
}

func (d *MemoryDialer) Dial(_ context.Context, opts DialOptions) (Transport, error) {
	d.mu.Lock()
	if d.err != nil {
		err := d.err
		d.mu.Unlock()
		return nil, err
	}
	t := NewMemoryTransport(opts.Hooks)
	d.dials = append(d.dials, t)
	d.mu.Unlock()
	if opts.Hooks.OnConnect != nil {
		opts.Hooks.OnConnect()
	}
	return t, nil
}

// FailWith makes later dials return err. A nil err restores normal dialing.
func (d *MemoryDialer) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Last returns the most recently dialed transport, or nil.
func (d *MemoryDialer) Last() *MemoryTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dials) == 0 {
		return nil
	}
	return d.dials[len(d.dials)-1]
}

func (d *MemoryDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}
