// Package syncapi exposes the sync agent's local view and controls over HTTP.
package syncapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pulsecrm/realtime/internal/app/crmapi"
	"github.com/pulsecrm/realtime/internal/app/preferences"
	"github.com/pulsecrm/realtime/internal/app/syncengine"
	"github.com/pulsecrm/realtime/internal/contracts"
	"github.com/pulsecrm/realtime/internal/navigation"
	platformauth "github.com/pulsecrm/realtime/internal/platform/auth"
	"github.com/pulsecrm/realtime/internal/realtime"
	"github.com/pulsecrm/realtime/internal/reconcile"
	"github.com/pulsecrm/realtime/services/frontend"
	"github.com/rs/zerolog"
)

// TaskAPI is the part of the CRM backend the handler calls directly. *crmapi.Client satisfies it.
type TaskAPI interface {
	SetToken(token string)
	CreateTask(ctx context.Context, in crmapi.TaskInput) ([]contracts.Task, error)
	DeleteTask(ctx context.Context, ref crmapi.TaskRef) error
	SyncCalendar(ctx context.Context) (crmapi.SyncResult, error)
}

type Handler struct {
	Manager       *realtime.Manager
	Engine        *syncengine.Service
	Store         *reconcile.Store
	Navigator     *navigation.Coordinator
	Preferences   *preferences.Store
	API           TaskAPI
	Auth          platformauth.Manager
	Metrics       http.Handler
	AllowedOrigin string
	Logger        zerolog.Logger
	Now           func() time.Time
	NewSessionID  func() string

	mu     sync.RWMutex
	claims platformauth.Claims
}

func NewHandler(manager *realtime.Manager, engine *syncengine.Service, store *reconcile.Store, navigator *navigation.Coordinator) *Handler {
	return &Handler{
		Manager:      manager,
		Engine:       engine,
		Store:        store,
		Navigator:    navigator,
		Auth:         platformauth.NewManager("", 0),
		Logger:       zerolog.Nop(),
		Now:          time.Now,
		NewSessionID: uuid.NewString,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.handleReady)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}
	r.Get("/", h.handleStatusPage)
	r.Handle(frontend.StaticPrefix+"*", http.StripPrefix(frontend.StaticPrefix, frontend.StaticHandler()))

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/session", h.handleLogin)
		api.Delete("/session", h.handleLogout)
		api.Get("/state", h.handleState)

		api.Get("/contacts", h.handleContacts)
		api.Get("/contacts/{contactID}/tasks", h.handleContactTasks)
		api.Get("/tasks", h.handleTasks)
		api.Post("/tasks", h.handleCreateTask)
		api.Delete("/tasks/{taskID}", h.handleDeleteTask)
		api.Post("/calendar/sync", h.handleCalendarSync)

		api.Get("/navigation", h.handleNavigationState)
		api.Post("/navigation/deeplink", h.handleDeepLink)
		api.Post("/navigation/push-click", h.handlePushClick)
		api.Delete("/navigation/contact", h.handleCollapseContact)
		api.Delete("/navigation/subtasks/{subtaskID}", h.handleCollapseSubtask)

		api.Get("/notifications", h.handleNotifications)
		api.Post("/notifications/{notificationID}/click", h.handleNotificationClick)

		api.Put("/pages/{pageID}", h.handleJoinPage)
		api.Delete("/pages/{pageID}", h.handleLeavePage)

		api.Get("/preferences/notifications", h.handleGetNotificationPreference)
		api.Put("/preferences/notifications", h.handleSetNotificationPreference)
	})

	return r
}

func (h *Handler) currentClaims() (platformauth.Claims, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.claims, h.claims.Subject != ""
}

func (h *Handler) setClaims(c platformauth.Claims) {
	h.mu.Lock()
	h.claims = c
	h.mu.Unlock()
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h *Handler) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	templ.Handler(frontend.StatusPage(h.statusView())).ServeHTTP(w, r)
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOriginForRequest(r.Header.Get("Origin")))
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOriginForRequest(requestOrigin string) string {
	allowed := strings.TrimSpace(h.AllowedOrigin)
	if allowed == "" || allowed == "*" {
		return "*"
	}

	origin := strings.TrimSpace(requestOrigin)
	if origin == "" {
		return allowed
	}
	if origin == allowed || isEquivalentLoopbackOrigin(origin, allowed) {
		return origin
	}
	return allowed
}

func isEquivalentLoopbackOrigin(originA, originB string) bool {
	a, err := url.Parse(originA)
	if err != nil {
		return false
	}
	b, err := url.Parse(originB)
	if err != nil {
		return false
	}
	if !isLoopbackHost(a.Hostname()) || !isLoopbackHost(b.Hostname()) {
		return false
	}
	if a.Port() != b.Port() {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme)
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
