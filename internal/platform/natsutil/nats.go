package natsutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pulsecrm/realtime/internal/messaging"
	"github.com/rs/zerolog"
)

var ErrNotConnected = errors.New("nats is not connected")

// Client is a JetStream-enabled connection used by tooling that publishes into the CRM
// streams. The realtime transport itself uses core NATS via Dialer.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
}

// LoggingOptions names the connection and reports its state changes on log.
func LoggingOptions(name string, log zerolog.Logger) []nats.Option {
	log = log.With().Str("component", "nats").Str("client", name).Logger()
	return []nats.Option{
		nats.Name(name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrlRedacted()).Msg("reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			ev := log.Error().Err(err)
			if sub != nil {
				ev = ev.Str("subject", sub.Subject)
			}
			ev.Msg("async error")
		}),
	}
}

// ConnectJetStream connects and makes sure the CRM streams exist.
func ConnectJetStream(url string, opts ...nats.Option) (*Client, error) {
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	if err := messaging.EnsureStreams(js); err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, fmt.Errorf("ensure streams: %w", err)
	}
	return &Client{Conn: conn, JS: js}, nil
}

// ConnectJetStreamWithRetry retries ConnectJetStream until it succeeds, timeout passes or
// ctx is done. Useful while a local server is still starting.
func ConnectJetStreamWithRetry(ctx context.Context, url string, timeout time.Duration, opts ...nats.Option) (*Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		client, err := ConnectJetStream(url, opts...)
		if err == nil {
			return client, nil
		}
		lastErr = err
		if time.Now().Add(500 * time.Millisecond).After(deadline) {
			return nil, fmt.Errorf("connect jetstream timeout after %s: %w", timeout, lastErr)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect jetstream: %w", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Ready reports ErrNotConnected unless the connection is currently up.
func (c *Client) Ready() error {
	if c == nil || c.Conn == nil {
		return ErrNotConnected
	}
	if status := c.Conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("%w: %s", ErrNotConnected, status.String())
	}
	return nil
}

func (c *Client) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}

// Publisher is the publish side of a JetStream context.
type Publisher interface {
	Publish(subject string, payload []byte) error
}

// JetStreamPublisher waits for the stream ack. Messages carry no Nats-Msg-Id, so the
// server never deduplicates them.
type JetStreamPublisher struct {
	JS nats.JetStreamContext
}

func (p JetStreamPublisher) Publish(subject string, payload []byte) error {
	_, err := p.JS.Publish(subject, payload)
	return err
}
