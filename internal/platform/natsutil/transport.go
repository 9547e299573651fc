package natsutil

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nuid"
	"github.com/pulsecrm/realtime/internal/realtime"
	"github.com/pulsecrm/realtime/internal/sharding"
)

var ErrMissingWorkspace = errors.New("workspace is required")

// Dialer opens realtime transports on a NATS server. Events for the workspace are read from
// every shard; presence is published on the shard of the connection's client id.
type Dialer struct {
	URL       string
	Workspace string
	Name      string
}

func (d Dialer) Dial(ctx context.Context, opts realtime.DialOptions) (realtime.Transport, error) {
	if d.Workspace == "" {
		return nil, ErrMissingWorkspace
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hooks := opts.Hooks
	natsOpts := []nats.Option{
		nats.Name(d.Name),
		nats.Token(opts.Token),
		nats.MaxReconnects(opts.ReconnectAttempts),
		nats.ReconnectWait(opts.ReconnectDelay),
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(func(*nats.Conn) { call(hooks.OnConnect) }),
		nats.ReconnectHandler(func(*nats.Conn) { call(hooks.OnReconnect) }),
		nats.ClosedHandler(func(*nats.Conn) { call(hooks.OnClosed) }),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if hooks.OnDisconnect != nil {
				hooks.OnDisconnect(err)
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			if hooks.OnError != nil {
				hooks.OnError(err)
			}
		}),
	}

	conn, err := nats.Connect(d.URL, natsOpts...)
	if err != nil {
		return nil, err
	}
	// ConnectHandler only fires for connections established by the retry loop.
	if conn.IsConnected() {
		call(hooks.OnConnect)
	}
	return &Transport{conn: conn, workspace: d.Workspace, clientID: nuid.Next()}, nil
}

// Transport is a realtime.Transport over a core NATS connection.
type Transport struct {
	conn      *nats.Conn
	workspace string
	clientID  string
}

func (t *Transport) Subscribe(event string, h realtime.Handler) (realtime.Subscription, error) {
	sub, err := t.conn.Subscribe(sharding.EventWildcard(t.workspace, event), func(msg *nats.Msg) {
		h(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (t *Transport) Publish(event string, payload []byte) error {
	return t.conn.Publish(sharding.PresenceSubject(t.workspace, t.clientID, event), payload)
}

func (t *Transport) Close() error {
	if t.conn == nil || t.conn.IsClosed() {
		return nil
	}
	_ = t.conn.Drain()
	t.conn.Close()
	return nil
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
