// Package wsutil carries the realtime channel over a WebSocket. Every frame is a JSON
// envelope {"event": ..., "data": ...}; event routing happens client side.
package wsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pulsecrm/realtime/internal/contracts"
	"github.com/pulsecrm/realtime/internal/realtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var (
	ErrNotConnected = fmt.Errorf("websocket: %w", realtime.ErrNotConnected)
	ErrClosed       = errors.New("websocket transport closed")
)

type Dialer struct {
	URL string
	// WS overrides websocket.DefaultDialer.
	WS *websocket.Dialer
}

// Dial connects to URL with the token as a bearer header. A failed first attempt is not an
// error: the transport keeps redialing in the background like any later drop.
func (d Dialer) Dial(ctx context.Context, opts realtime.DialOptions) (realtime.Transport, error) {
	ws := d.WS
	if ws == nil {
		ws = websocket.DefaultDialer
	}
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		ws:       ws,
		url:      d.URL,
		header:   header,
		opts:     opts,
		ctx:      loopCtx,
		cancel:   cancel,
		handlers: map[string]map[uint64]realtime.Handler{},
		done:     make(chan struct{}),
	}

	conn, _, err := ws.DialContext(ctx, d.URL, header)
	if err != nil {
		if ctx.Err() != nil {
			cancel()
			return nil, ctx.Err()
		}
		t.hookError(err)
	}
	go t.loop(conn)
	return t, nil
}

// Transport is a realtime.Transport over one WebSocket connection at a time.
type Transport struct {
	ws     *websocket.Dialer
	url    string
	header http.Header
	opts   realtime.DialOptions
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]map[uint64]realtime.Handler
	nextID   uint64
	closed   bool

	writeMu sync.Mutex
}

func (t *Transport) Subscribe(event string, h realtime.Handler) (realtime.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	t.nextID++
	id := t.nextID
	if t.handlers[event] == nil {
		t.handlers[event] = map[uint64]realtime.Handler{}
	}
	t.handlers[event][id] = h
	return realtime.SubscriptionFunc(func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers[event], id)
		return nil
	}), nil
}

func (t *Transport) Publish(event string, payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(contracts.Envelope{Event: event, Data: json.RawMessage(payload)})
}

// Close stops redialing and closes the socket. It does not wait for the read loop.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.handlers = map[string]map[uint64]realtime.Handler{}
	t.mu.Unlock()

	t.cancel()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		return conn.Close()
	}
	return nil
}

// Done is closed once the read loop has exited for good.
func (t *Transport) Done() <-chan struct{} { return t.done }

func (t *Transport) loop(conn *websocket.Conn) {
	defer close(t.done)
	defer t.hook(t.opts.Hooks.OnClosed)

	connected := false
	for {
		if conn != nil && t.attach(conn) {
			if connected {
				t.hook(t.opts.Hooks.OnReconnect)
			} else {
				connected = true
				t.hook(t.opts.Hooks.OnConnect)
			}
			err := t.serve(conn)
			if t.isClosed() {
				return
			}
			if t.opts.Hooks.OnDisconnect != nil {
				t.opts.Hooks.OnDisconnect(err)
			}
		}
		conn = t.redial()
		if conn == nil {
			return
		}
	}
}

// redial makes up to ReconnectAttempts attempts with a fixed delay between them.
func (t *Transport) redial() *websocket.Conn {
	for attempt := 0; attempt < t.opts.ReconnectAttempts; attempt++ {
		select {
		case <-t.ctx.Done():
			return nil
		case <-time.After(t.opts.ReconnectDelay):
		}
		conn, _, err := t.ws.DialContext(t.ctx, t.url, t.header)
		if err == nil {
			return conn
		}
		if t.ctx.Err() != nil {
			return nil
		}
		t.hookError(err)
	}
	return nil
}

// attach makes conn the live connection unless the transport was closed meanwhile.
func (t *Transport) attach(conn *websocket.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		_ = conn.Close()
		return false
	}
	t.conn = conn
	return true
}

func (t *Transport) serve(conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer func() {
		close(stop)
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
		_ = conn.Close()
	}()
	go t.ping(conn, stop)

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env contracts.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			t.hookError(errors.New("malformed websocket envelope"))
			continue
		}
		t.dispatch(env.Event, env.Data)
	}
}

func (t *Transport) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (t *Transport) dispatch(event string, payload []byte) {
	t.mu.Lock()
	handlers := make([]realtime.Handler, 0, len(t.handlers[event]))
	for _, h := range t.handlers[event] {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) hook(fn func()) {
	if fn != nil {
		fn()
	}
}

func (t *Transport) hookError(err error) {
	if t.opts.Hooks.OnError != nil {
		t.opts.Hooks.OnError(err)
	}
}
