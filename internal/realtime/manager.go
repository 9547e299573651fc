package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nuid"
	"github.com/rs/zerolog"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
)

type Options struct {
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Logger            zerolog.Logger
	NewID             func() string
	// OnStateChange is called outside the manager lock after every state transition.
	OnStateChange func(State)
}

// Session is one authenticated connection lease. It is discarded as a whole on logout or
// token change; handlers registered through it never outlive it.
type Session struct {
	id        string
	transport Transport
	registry  *Registry
	log       zerolog.Logger

	mu        sync.Mutex
	connected bool
	onConnect map[uint64]func()
	nextHook  uint64
}

func (s *Session) ID() string { return s.id }

// Register attaches callback for event on this session, replacing any earlier callback.
func (s *Session) Register(event string, callback Handler) (func(), error) {
	return s.registry.Register(event, callback)
}

func (s *Session) Events() []string { return s.registry.Events() }

// Connected reports whether the session's transport is currently up.
func (s *Session) Connected() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// OnConnect runs fn each time the session's connection comes up, reconnects included.
// The returned func removes fn.
func (s *Session) OnConnect(fn func()) func() {
	s.mu.Lock()
	id := s.nextHook
	s.nextHook++
	s.onConnect[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.onConnect, id)
			s.mu.Unlock()
		})
	}
}

// Emit publishes payload as JSON. While the session is nil or not connected the message
// is dropped and Emit returns nil.
func (s *Session) Emit(event string, payload any) error {
	if !s.Connected() {
		if s != nil {
			s.log.Debug().Str("event", event).Msg("emit dropped while disconnected")
		}
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	err = s.transport.Publish(event, data)
	if errors.Is(err, ErrNotConnected) {
		s.log.Debug().Str("event", event).Msg("emit dropped while disconnected")
		return nil
	}
	return err
}

// setConnected records the connection state and returns the OnConnect callbacks to run
// when the session just came up.
func (s *Session) setConnected(up bool) []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.connected
	s.connected = up
	if !up || was {
		return nil
	}
	fns := make([]func(), 0, len(s.onConnect))
	for _, fn := range s.onConnect {
		fns = append(fns, fn)
	}
	return fns
}

type mount struct {
	fn      func(*Session) func()
	cleanup func()
}

// Manager owns at most one Session at a time, keyed to the current auth token.
type Manager struct {
	dialer Dialer
	opts   Options
	log    zerolog.Logger

	mu      sync.Mutex
	token   string
	lease   string
	session *Session
	state   State
	retries int
	closed  bool
	mounts  []*mount
}

type Status struct {
	State     State    `json:"state"`
	Retries   int      `json:"retries"`
	SessionID string   `json:"session_id,omitempty"`
	Events    []string `json:"events,omitempty"`
}

func NewManager(dialer Dialer, opts Options) *Manager {
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = DefaultReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.NewID == nil {
		opts.NewID = nuid.Next
	}
	return &Manager{
		dialer: dialer,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "realtime").Logger(),
		state:  StateDisconnected,
	}
}

// SetAuth reconciles the connection with the current auth state. An unauthenticated state
// or empty token tears down any live session. A new token replaces the live session; the
// same token is a no-op unless its transport has closed for good.
func (m *Manager) SetAuth(ctx context.Context, token string, authenticated bool) error {
	token = strings.TrimSpace(token)
	if !authenticated || token == "" {
		m.Teardown()
		return nil
	}

	m.mu.Lock()
	if m.session != nil && m.token == token && !m.closed {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	m.Teardown()

	lease := m.opts.NewID()
	m.mu.Lock()
	m.token = token
	m.lease = lease
	m.retries = 0
	m.closed = false
	m.mu.Unlock()
	m.setState(lease, StateConnecting)

	transport, err := m.dialer.Dial(ctx, DialOptions{
		Token:             token,
		ReconnectAttempts: m.opts.ReconnectAttempts,
		ReconnectDelay:    m.opts.ReconnectDelay,
		Hooks:             m.hooks(lease),
	})
	if err != nil {
		m.log.Error().Err(err).Str("lease", lease).Msg("realtime dial failed")
		m.mu.Lock()
		changed := false
		if m.lease == lease {
			m.token = ""
			m.lease = ""
			changed = m.state != StateDisconnected
			m.state = StateDisconnected
		}
		m.mu.Unlock()
		if changed {
			m.notify(StateDisconnected)
		}
		return fmt.Errorf("dial realtime: %w", err)
	}

	sess := &Session{
		id:        lease,
		transport: transport,
		registry:  NewRegistry(transport, m.log),
		log:       m.log.With().Str("lease", lease).Logger(),
		onConnect: map[uint64]func(){},
	}

	m.mu.Lock()
	if m.lease != lease {
		m.mu.Unlock()
		_ = transport.Close()
		return nil
	}
	sess.setConnected(m.state == StateConnected)
	m.session = sess
	mounts := append([]*mount(nil), m.mounts...)
	m.mu.Unlock()

	m.log.Info().Str("lease", lease).Msg("realtime session started")
	for _, mt := range mounts {
		m.runMount(mt, sess)
	}
	return nil
}

// Logout tears down the session. It is the same as SetAuth with no token.
func (m *Manager) Logout() {
	m.Teardown()
}

// Teardown runs consumer cleanups, releases every registered handler, then closes the
// transport.
func (m *Manager) Teardown() {
	m.mu.Lock()
	sess := m.session
	lease := m.lease
	m.session = nil
	m.token = ""
	m.lease = ""
	m.closed = false
	if sess != nil {
		sess.setConnected(false)
	}
	var cleanups []func()
	for _, mt := range m.mounts {
		if mt.cleanup != nil {
			cleanups = append(cleanups, mt.cleanup)
			mt.cleanup = nil
		}
	}
	changed := m.state != StateDisconnected
	m.state = StateDisconnected
	m.mu.Unlock()

	for _, cleanup := range cleanups {
		cleanup()
	}
	if sess != nil {
		sess.registry.ReleaseAll()
		if err := sess.transport.Close(); err != nil {
			m.log.Warn().Err(err).Str("lease", lease).Msg("close realtime transport")
		}
		m.log.Info().Str("lease", lease).Msg("realtime session released")
	}
	if changed {
		m.notify(StateDisconnected)
	}
}

// Mount runs fn against every session the manager starts, now and later. The func fn
// returns runs when that session ends. The returned func unmounts fn.
func (m *Manager) Mount(fn func(*Session) func()) func() {
	mt := &mount{fn: fn}
	m.mu.Lock()
	m.mounts = append(m.mounts, mt)
	sess := m.session
	m.mu.Unlock()

	if sess != nil {
		m.runMount(mt, sess)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			for i, candidate := range m.mounts {
				if candidate == mt {
					m.mounts = append(m.mounts[:i], m.mounts[i+1:]...)
					break
				}
			}
			cleanup := mt.cleanup
			mt.cleanup = nil
			m.mu.Unlock()
			if cleanup != nil {
				cleanup()
			}
		})
	}
}

// Emit publishes through the live session. Without a connected one the message is dropped.
func (m *Manager) Emit(event string, payload any) error {
	return m.Session().Emit(event, payload)
}

// Session returns the live session or nil.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RetryCount is the number of successful reconnects of the current session.
func (m *Manager) RetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	sess := m.session
	status := Status{State: m.state, Retries: m.retries}
	m.mu.Unlock()
	if sess != nil {
		status.SessionID = sess.id
		status.Events = sess.Events()
	}
	return status
}

func (m *Manager) runMount(mt *mount, sess *Session) {
	cleanup := mt.fn(sess)
	if cleanup == nil {
		return
	}
	m.mu.Lock()
	if m.session == sess && mt.cleanup == nil {
		mt.cleanup = cleanup
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	cleanup()
}

func (m *Manager) hooks(lease string) Hooks {
	log := m.log.With().Str("lease", lease).Logger()
	return Hooks{
		OnConnect: func() {
			log.Info().Msg("realtime connected")
			m.setState(lease, StateConnected)
		},
		OnDisconnect: func(err error) {
			log.Warn().Err(err).Msg("realtime disconnected")
			m.setState(lease, StateDisconnected)
		},
		OnReconnect: func() {
			m.mu.Lock()
			if m.lease == lease {
				m.retries++
			}
			m.mu.Unlock()
			log.Info().Msg("realtime reconnected")
			m.setState(lease, StateConnected)
		},
		// The transport gave up for good; the same token may dial again.
		OnClosed: func() {
			log.Info().Msg("realtime connection closed")
			m.mu.Lock()
			if m.lease == lease {
				m.closed = true
			}
			m.mu.Unlock()
			m.setState(lease, StateDisconnected)
		},
		OnError: func(err error) {
			log.Error().Err(err).Msg("realtime connection error")
		},
	}
}

// setState applies next only while lease is still current. Coming up runs the session's
// OnConnect callbacks after the state observer.
func (m *Manager) setState(lease string, next State) {
	m.mu.Lock()
	if m.lease != lease || m.state == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	var onConnect []func()
	if m.session != nil && m.session.id == lease {
		onConnect = m.session.setConnected(next == StateConnected)
	}
	m.mu.Unlock()
	m.notify(next)
	for _, fn := range onConnect {
		fn()
	}
}

func (m *Manager) notify(state State) {
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(state)
	}
}
