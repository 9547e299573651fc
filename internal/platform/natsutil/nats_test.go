package natsutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pulsecrm/realtime/internal/realtime"
	"github.com/rs/zerolog"
)

func TestClientReady_NotConnected(t *testing.T) {
	var c *Client
	if err := c.Ready(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := (&Client{}).Ready(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	c.Close()
}

func TestLoggingOptions_SetsName(t *testing.T) {
	opts := nats.GetDefaultOptions()
	for _, o := range LoggingOptions("event-replay", zerolog.Nop()) {
		if err := o(&opts); err != nil {
			t.Fatalf("apply option: %v", err)
		}
	}
	if opts.Name != "event-replay" {
		t.Fatalf("unexpected name %q", opts.Name)
	}
	if opts.DisconnectedErrCB == nil || opts.ReconnectedCB == nil || opts.AsyncErrorCB == nil {
		t.Fatal("expected connection callbacks to be set")
	}
}

func TestConnectJetStreamWithRetry_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := ConnectJetStreamWithRetry(ctx, "nats://127.0.0.1:1", time.Minute, nats.Timeout(100*time.Millisecond))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("retry loop ignored cancellation")
	}
}

func TestDialer_RequiresWorkspace(t *testing.T) {
	_, err := Dialer{URL: "nats://127.0.0.1:1"}.Dial(context.Background(), realtime.DialOptions{})
	if !errors.Is(err, ErrMissingWorkspace) {
		t.Fatalf("expected ErrMissingWorkspace, got %v", err)
	}
}
