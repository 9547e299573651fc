package realtime

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ReplacesPreviousCallback(t *testing.T) {
	transport := NewMemoryTransport(Hooks{})
	registry := NewRegistry(transport, zerolog.Nop())

	var got []string
	_, err := registry.Register("task:created", func([]byte) { got = append(got, "first") })
	require.NoError(t, err)
	_, err = registry.Register("task:created", func([]byte) { got = append(got, "second") })
	require.NoError(t, err)

	assert.Equal(t, 1, transport.Deliver("task:created", []byte(`{}`)))
	assert.Equal(t, []string{"second"}, got)
	assert.Equal(t, 1, transport.Subscribers("task:created"))
}

func TestRegistry_StaleUnregisterKeepsReplacement(t *testing.T) {
	transport := NewMemoryTransport(Hooks{})
	registry := NewRegistry(transport, zerolog.Nop())

	calls := 0
	unregisterFirst, err := registry.Register("contact:updated", func([]byte) {})
	require.NoError(t, err)
	_, err = registry.Register("contact:updated", func([]byte) { calls++ })
	require.NoError(t, err)

	unregisterFirst()
	unregisterFirst()

	transport.Deliver("contact:updated", nil)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"contact:updated"}, registry.Events())
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	transport := NewMemoryTransport(Hooks{})
	registry := NewRegistry(transport, zerolog.Nop())

	unregister, err := registry.Register("notification", func([]byte) { t.Fatal("detached callback ran") })
	require.NoError(t, err)
	unregister()
	unregister()

	assert.Zero(t, transport.Deliver("notification", nil))
	assert.Zero(t, registry.Len())
}

func TestRegistry_DetachedCallbackNeverRunsForInFlightMessage(t *testing.T) {
	transport := NewMemoryTransport(Hooks{})
	registry := NewRegistry(transport, zerolog.Nop())

	var captured Handler
	stub := &capturingTransport{Transport: transport, capture: func(h Handler) { captured = h }}
	registry.transport = stub

	unregister, err := registry.Register("task:deleted", func([]byte) { t.Fatal("stale callback ran") })
	require.NoError(t, err)
	require.NotNil(t, captured)

	unregister()
	captured([]byte(`{"id":"t1"}`))
}

func TestRegistry_ReleaseAllDetachesEverything(t *testing.T) {
	transport := NewMemoryTransport(Hooks{})
	registry := NewRegistry(transport, zerolog.Nop())

	for _, event := range []string{"a", "b", "c"} {
		_, err := registry.Register(event, func([]byte) {})
		require.NoError(t, err)
	}
	registry.ReleaseAll()

	assert.Zero(t, registry.Len())
	for _, event := range []string{"a", "b", "c"} {
		assert.Zero(t, transport.Subscribers(event))
	}
	_, err := registry.Register("a", func([]byte) {})
	assert.ErrorIs(t, err, ErrSessionReleased)
}

func TestRegistry_RejectsNilCallback(t *testing.T) {
	registry := NewRegistry(NewMemoryTransport(Hooks{}), zerolog.Nop())
	unregister, err := registry.Register("a", nil)
	assert.ErrorIs(t, err, ErrNilCallback)
	assert.NotPanics(t, unregister)
}

func TestRegistry_DispatchIsSerialised(t *testing.T) {
	transport := NewMemoryTransport(Hooks{})
	registry := NewRegistry(transport, zerolog.Nop())

	var mu sync.Mutex
	active, peak := 0, 0
	handler := func([]byte) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		mu.Lock()
		active--
		mu.Unlock()
	}
	_, err := registry.Register("a", handler)
	require.NoError(t, err)
	_, err = registry.Register("b", handler)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); transport.Deliver("a", nil) }()
		go func() { defer wg.Done(); transport.Deliver("b", nil) }()
	}
	wg.Wait()
	assert.Equal(t, 1, peak)
}

func TestRegistry_RecoversFromPanickingCallback(t *testing.T) {
	transport := NewMemoryTransport(Hooks{})
	registry := NewRegistry(transport, zerolog.Nop())
	_, err := registry.Register("a", func([]byte) { panic("boom") })
	require.NoError(t, err)

	assert.NotPanics(t, func() { transport.Deliver("a", nil) })
}

type capturingTransport struct {
	Transport
	capture func(Handler)
}

func (c *capturingTransport) Subscribe(event string, h Handler) (Subscription, error) {
	c.capture(h)
	return c.Transport.Subscribe(event, h)
}
