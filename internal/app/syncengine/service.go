// Package syncengine connects the realtime session to the reconciled local view.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pulsecrm/realtime/internal/app/preferences"
	"github.com/pulsecrm/realtime/internal/contracts"
	"github.com/pulsecrm/realtime/internal/navigation"
	"github.com/pulsecrm/realtime/internal/platform/metrics"
	"github.com/pulsecrm/realtime/internal/realtime"
	"github.com/pulsecrm/realtime/internal/reconcile"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownPolicy       = errors.New("unknown apply policy")
	ErrMissingSource       = errors.New("refetch policy needs a data source")
	ErrUnknownNotification = errors.New("unknown notification")
	ErrMissingPage         = errors.New("page id is required")
)

// Policy decides how an inbound event reaches the local view.
type Policy string

const (
	// PolicyPatch reconciles the event payload into the cached collections.
	PolicyPatch Policy = "patch"
	// PolicyRefetch treats the event as a signal and re-lists the affected collection.
	PolicyRefetch Policy = "refetch"
)

func ParsePolicy(raw string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyPatch:
		return PolicyPatch, nil
	case PolicyRefetch:
		return PolicyRefetch, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, raw)
	}
}

const (
	DefaultToastLimit     = 20
	DefaultRefetchTimeout = 10 * time.Second
)

// Source lists the authoritative collections. *crmapi.Client satisfies it.
type Source interface {
	ListContacts(ctx context.Context) ([]contracts.Contact, error)
	ListTasks(ctx context.Context) ([]contracts.Task, error)
}

// Emitter publishes outbound events. *realtime.Manager satisfies it.
type Emitter interface {
	Emit(event string, payload any) error
}

type Toast struct {
	Notification contracts.Notification `json:"notification"`
	ReceivedAt   time.Time              `json:"received_at"`
}

type Options struct {
	Policy         Policy
	Source         Source
	Emitter        Emitter
	Preferences    *preferences.Store
	Navigator      *navigation.Coordinator
	Metrics        *Metrics
	Logger         zerolog.Logger
	ToastLimit     int
	RefetchTimeout time.Duration
}

type Service struct {
	store *reconcile.Store
	opts  Options
	log   zerolog.Logger
	Now   func() time.Time

	mu            sync.Mutex
	userID        string
	notifyEnabled bool
	toasts        []Toast
	pages         map[string]struct{}
	release       []func()
}

func NewService(store *reconcile.Store, opts Options) (*Service, error) {
	policy, err := ParsePolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}
	opts.Policy = policy
	if opts.Policy == PolicyRefetch && opts.Source == nil {
		return nil, ErrMissingSource
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(metrics.NewRegistry())
	}
	if opts.ToastLimit <= 0 {
		opts.ToastLimit = DefaultToastLimit
	}
	if opts.RefetchTimeout <= 0 {
		opts.RefetchTimeout = DefaultRefetchTimeout
	}
	s := &Service{
		store:         store,
		opts:          opts,
		log:           opts.Logger.With().Str("component", "syncengine").Str("policy", string(opts.Policy)).Logger(),
		Now:           func() time.Time { return time.Now().UTC() },
		notifyEnabled: true,
		pages:         map[string]struct{}{},
	}
	s.release = append(s.release, store.Subscribe(s.observeView))
	if opts.Preferences != nil {
		s.release = append(s.release, opts.Preferences.Subscribe(s.preferenceChanged))
	}
	s.observeView(store.Snapshot())
	return s, nil
}

// Close drops the service's store and preference subscriptions.
func (s *Service) Close() {
	s.mu.Lock()
	release := s.release
	s.release = nil
	s.mu.Unlock()
	for _, fn := range release {
		fn()
	}
}

func (s *Service) Policy() Policy { return s.opts.Policy }

// SetUser scopes notification preferences to userID and loads that user's flag once.
// An empty id mutes nothing. A failed read leaves notifications enabled.
func (s *Service) SetUser(ctx context.Context, userID string) {
	userID = strings.TrimSpace(userID)
	enabled := true
	if s.opts.Preferences != nil && userID != "" {
		v, err := s.opts.Preferences.Get(ctx, userID)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("read notification preference")
		} else {
			enabled = v
		}
	}
	s.mu.Lock()
	s.userID = userID
	s.notifyEnabled = enabled
	s.mu.Unlock()
}

// preferenceChanged keeps the cached flag current for the signed-in user.
func (s *Service) preferenceChanged(c preferences.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.UserID == s.userID {
		s.notifyEnabled = c.Enabled
	}
}

func (s *Service) NotificationsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifyEnabled
}

func (s *Service) observeView(snap reconcile.Snapshot) {
	s.opts.Metrics.ObserveView(snap)
	s.log.Debug().
		Uint64("version", snap.Version).
		Int("contacts", len(snap.Contacts)).
		Int("tasks", len(snap.Tasks)).
		Msg("view updated")
}

// Mount registers one handler per inbound event on sess and rejoins every page the
// user is on, again after every reconnect. The returned cleanup detaches the handlers.
func (s *Service) Mount(sess *realtime.Session) func() {
	unregister := make([]func(), 0, len(contracts.InboundEvents))
	for _, event := range contracts.InboundEvents {
		event := event
		off, err := sess.Register(event, func(payload []byte) {
			_ = s.Handle(event, payload)
		})
		if err != nil {
			s.log.Error().Err(err).Str("event", event).Str("session_id", sess.ID()).Msg("register handler")
			continue
		}
		unregister = append(unregister, off)
	}

	rejoin := func() {
		for _, page := range s.JoinedPages() {
			if err := sess.Emit(contracts.EventJoinPage, contracts.PagePresence{PageID: page}); err != nil {
				s.log.Warn().Err(err).Str("page_id", page).Msg("rejoin page")
			}
		}
	}
	unregister = append(unregister, sess.OnConnect(rejoin))
	rejoin()
	s.log.Info().Str("session_id", sess.ID()).Int("events", len(contracts.InboundEvents)).Msg("sync handlers mounted")

	return func() {
		for _, off := range unregister {
			off()
		}
		s.log.Debug().Str("session_id", sess.ID()).Msg("sync handlers released")
	}
}

// Handle decodes one inbound event and applies it under the configured policy.
// Rejected payloads are logged at debug and returned for callers that care.
func (s *Service) Handle(event string, payload []byte) error {
	ev, err := contracts.Decode(event, payload)
	if err != nil {
		s.opts.Metrics.event(event, OutcomeRejected)
		s.log.Debug().Err(err).Str("event", event).Msg("dropping event")
		return err
	}

	if n, ok := ev.(contracts.NotificationReceived); ok {
		s.notify(n.Notification)
		return nil
	}

	if s.opts.Policy == PolicyRefetch {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.RefetchTimeout)
		defer cancel()
		if err := s.refetch(ctx, ev); err != nil {
			s.opts.Metrics.event(event, OutcomeFailed)
			s.log.Warn().Err(err).Str("event", event).Msg("refetch failed")
			return err
		}
		s.opts.Metrics.event(event, OutcomeRefetched)
		return nil
	}

	if s.store.Apply(ev) {
		s.opts.Metrics.event(event, OutcomeApplied)
		return nil
	}
	s.opts.Metrics.event(event, OutcomeIgnored)
	s.log.Debug().Str("event", event).Msg("event did not change the view")
	return nil
}

// Bootstrap loads both collections from the source.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.opts.Source == nil {
		return ErrMissingSource
	}
	contacts, err := s.opts.Source.ListContacts(ctx)
	if err != nil {
		return fmt.Errorf("list contacts: %w", err)
	}
	tasks, err := s.opts.Source.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	s.store.ReplaceContacts(contacts)
	s.store.ReplaceTasks(tasks)
	s.log.Info().Int("contacts", len(contacts)).Int("tasks", len(tasks)).Msg("bootstrap complete")
	return nil
}

func (s *Service) refetch(ctx context.Context, ev contracts.Event) error {
	contacts, tasks := affected(ev)
	if contacts {
		list, err := s.opts.Source.ListContacts(ctx)
		if err != nil {
			return fmt.Errorf("list contacts: %w", err)
		}
		s.store.ReplaceContacts(list)
	}
	if tasks {
		list, err := s.opts.Source.ListTasks(ctx)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		s.store.ReplaceTasks(list)
	}
	return nil
}

// affected reports which collections an event can change.
func affected(ev contracts.Event) (contacts, tasks bool) {
	switch e := ev.(type) {
	case contracts.ContactCreated, contracts.ContactUpdated, contracts.ContactDeleted:
		return true, false
	case contracts.TaskCreated:
		return e.Task.Source == contracts.SourceContact, e.Task.Source == contracts.SourceGlobal
	case contracts.TaskUpdated:
		return e.Task.Source == contracts.SourceContact, e.Task.Source == contracts.SourceGlobal
	case contracts.TaskDeleted:
		return e.Source == contracts.SourceContact, e.Source == contracts.SourceGlobal
	case contracts.NotificationReceived:
		return false, false
	default:
		return false, false
	}
}

func (s *Service) notify(n contracts.Notification) {
	s.mu.Lock()
	if !s.notifyEnabled {
		s.mu.Unlock()
		s.opts.Metrics.Notifications.WithLabelValues("muted").Inc()
		s.opts.Metrics.event(contracts.EventNotification, OutcomeIgnored)
		return
	}
	s.toasts = append(s.toasts, Toast{Notification: n, ReceivedAt: s.Now()})
	if over := len(s.toasts) - s.opts.ToastLimit; over > 0 {
		s.toasts = append([]Toast(nil), s.toasts[over:]...)
	}
	s.mu.Unlock()

	s.opts.Metrics.Notifications.WithLabelValues("shown").Inc()
	s.opts.Metrics.event(contracts.EventNotification, OutcomeApplied)
	s.log.Info().Str("notification_id", n.ID).Str("type", n.Type).Str("title", n.Title).Msg("notification")
}

// Toasts returns the recent notifications, oldest first.
func (s *Service) Toasts() []Toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Toast(nil), s.toasts...)
}

// Click navigates to a toast's target and dismisses it. ok is false when the
// notification has no resolvable target; the toast is dismissed either way.
func (s *Service) Click(notificationID string) (navigation.Target, bool, error) {
	s.mu.Lock()
	idx := -1
	for i, t := range s.toasts {
		if t.Notification.ID == notificationID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return navigation.Target{}, false, fmt.Errorf("%w: %q", ErrUnknownNotification, notificationID)
	}
	n := s.toasts[idx].Notification
	s.toasts = append(s.toasts[:idx:idx], s.toasts[idx+1:]...)
	s.mu.Unlock()

	if s.opts.Navigator == nil {
		target, ok := navigation.FromNotification(n)
		return target, ok, nil
	}
	target, ok := s.opts.Navigator.HandleNotificationClick(n)
	return target, ok, nil
}

// JoinPage announces presence on a page. It is remembered and replayed on every new session;
// while disconnected the emit itself is a no-op.
func (s *Service) JoinPage(pageID string) error {
	pageID = strings.TrimSpace(pageID)
	if pageID == "" {
		return ErrMissingPage
	}
	s.mu.Lock()
	s.pages[pageID] = struct{}{}
	s.mu.Unlock()
	return s.emit(contracts.EventJoinPage, pageID)
}

func (s *Service) LeavePage(pageID string) error {
	pageID = strings.TrimSpace(pageID)
	if pageID == "" {
		return ErrMissingPage
	}
	s.mu.Lock()
	delete(s.pages, pageID)
	s.mu.Unlock()
	return s.emit(contracts.EventLeavePage, pageID)
}

func (s *Service) JoinedPages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	pages := make([]string, 0, len(s.pages))
	for p := range s.pages {
		pages = append(pages, p)
	}
	sort.Strings(pages)
	return pages
}

func (s *Service) emit(event, pageID string) error {
	if s.opts.Emitter == nil {
		return nil
	}
	return s.opts.Emitter.Emit(event, contracts.PagePresence{PageID: pageID})
}
