// Package realtime owns the client side of the realtime channel: one connection per
// authenticated session, and at most one handler per event on that connection.
package realtime

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNilCallback     = errors.New("callback is required")
	ErrSessionReleased = errors.New("session has been released")
)

// ErrNotConnected is returned by Transport.Publish while the connection is down.
// Session.Emit treats it as a dropped message.
var ErrNotConnected = errors.New("realtime not connected")

// Handler receives the raw payload of one event.
type Handler func(payload []byte)

type Subscription interface {
	Unsubscribe() error
}

// Transport is a live realtime connection. Implementations reconnect on their own according
// to the DialOptions they were created with.
type Transport interface {
	Subscribe(event string, h Handler) (Subscription, error)
	Publish(event string, payload []byte) error
	Close() error
}

// Hooks are invoked by the transport on connection state changes. Any of them may be nil.
type Hooks struct {
	OnConnect    func()
	OnDisconnect func(err error)
	OnReconnect  func()
	OnClosed     func()
	OnError      func(err error)
}

type DialOptions struct {
	Token             string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Hooks             Hooks
}

type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Transport, error)
}

type DialFunc func(ctx context.Context, opts DialOptions) (Transport, error)

func (f DialFunc) Dial(ctx context.Context, opts DialOptions) (Transport, error) {
	return f(ctx, opts)
}

type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error { return f() }
