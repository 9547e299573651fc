package syncapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pulsecrm/realtime/internal/app/crmapi"
	"github.com/pulsecrm/realtime/internal/app/preferences"
	"github.com/pulsecrm/realtime/internal/app/syncengine"
	"github.com/pulsecrm/realtime/internal/contracts"
	"github.com/pulsecrm/realtime/internal/navigation"
	platformauth "github.com/pulsecrm/realtime/internal/platform/auth"
	"github.com/pulsecrm/realtime/internal/realtime"
	"github.com/pulsecrm/realtime/internal/reconcile"
	"github.com/pulsecrm/realtime/internal/tasktree"
	"github.com/pulsecrm/realtime/services/frontend"
)

type sessionRequest struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id,omitempty"`
}

type SessionInfo struct {
	UserID       string             `json:"user_id"`
	Username     string             `json:"username,omitempty"`
	Workspace    string             `json:"workspace,omitempty"`
	Connection   realtime.Status    `json:"connection"`
	Bootstrapped bool               `json:"bootstrapped"`
	Target       *navigation.Target `json:"target,omitempty"`
}

type stateResponse struct {
	UserID        string              `json:"user_id,omitempty"`
	Connection    realtime.Status     `json:"connection"`
	Policy        syncengine.Policy   `json:"policy"`
	Version       uint64              `json:"version"`
	Contacts      int                 `json:"contacts"`
	Tasks         int                 `json:"tasks"`
	Selection     reconcile.Selection `json:"selection"`
	Navigation    navigation.State    `json:"navigation"`
	Notifications int                 `json:"notifications"`
	Pages         []string            `json:"pages"`
}

type contactView struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Email    string                  `json:"email,omitempty"`
	Phone    string                  `json:"phone,omitempty"`
	Company  string                  `json:"company,omitempty"`
	Status   contracts.ContactStatus `json:"status,omitempty"`
	Tasks    int                     `json:"tasks"`
	Overdue  int                     `json:"overdue"`
	Expanded bool                    `json:"expanded"`
}

type navigationRequest struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type navigationResponse struct {
	SessionID string             `json:"session_id,omitempty"`
	Applied   bool               `json:"applied"`
	Parked    bool               `json:"parked,omitempty"`
	Target    *navigation.Target `json:"target,omitempty"`
}

type preferenceRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		token = platformauth.BearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		h.writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	resp, err := h.SignIn(context.WithoutCancel(r.Context()), token, req.SessionID)
	switch {
	case errors.Is(err, platformauth.ErrExpiredToken):
		h.writeError(w, http.StatusUnauthorized, "expired token")
	case errors.Is(err, platformauth.ErrInvalidToken):
		h.writeError(w, http.StatusUnauthorized, "invalid token")
	case err != nil:
		h.writeError(w, http.StatusBadGateway, "realtime connection failed")
	default:
		h.writeJSON(w, http.StatusOK, resp)
	}
}

// SignIn validates token, (re)connects the realtime session under it, loads the initial
// lists and replays a deep link parked for sessionID. ctx must outlive the session.
func (h *Handler) SignIn(ctx context.Context, token, sessionID string) (SessionInfo, error) {
	claims, err := h.Auth.Parse(token)
	if err != nil {
		return SessionInfo{}, err
	}

	// Load the preference before the session can deliver notifications.
	h.Engine.SetUser(ctx, claims.Subject)
	if err := h.Manager.SetAuth(ctx, token, true); err != nil {
		h.Logger.Error().Err(err).Str("user_id", claims.Subject).Msg("realtime connect failed")
		h.restoreUser(ctx)
		return SessionInfo{}, err
	}
	if h.API != nil {
		h.API.SetToken(token)
	}
	h.setClaims(claims)

	resp := SessionInfo{
		UserID:    claims.Subject,
		Username:  claims.Username,
		Workspace: claims.Workspace,
	}
	if err := h.Engine.Bootstrap(ctx); err == nil {
		resp.Bootstrapped = true
	} else if !errors.Is(err, syncengine.ErrMissingSource) {
		h.Logger.Warn().Err(err).Msg("bootstrap after sign-in failed")
	}
	if sessionID != "" {
		target, ok, err := h.Navigator.Resume(ctx, sessionID)
		if err != nil {
			h.Logger.Warn().Err(err).Str("session_id", sessionID).Msg("resume pending deep link")
		} else if ok {
			resp.Target = &target
		}
	}
	resp.Connection = h.Manager.Status()
	return resp, nil
}

// restoreUser points the engine back at whoever is still signed in after a failed sign-in.
func (h *Handler) restoreUser(ctx context.Context) {
	claims, _ := h.currentClaims()
	h.Engine.SetUser(ctx, claims.Subject)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.Manager.Logout()
	if h.API != nil {
		h.API.SetToken("")
	}
	h.Engine.SetUser(r.Context(), "")
	h.setClaims(platformauth.Claims{})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !h.Manager.IsConnected() {
		h.writeError(w, http.StatusServiceUnavailable, "realtime not connected")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) handleState(w http.ResponseWriter, _ *http.Request) {
	snap := h.Store.Snapshot()
	claims, _ := h.currentClaims()
	h.writeJSON(w, http.StatusOK, stateResponse{
		UserID:        claims.Subject,
		Connection:    h.Manager.Status(),
		Policy:        h.Engine.Policy(),
		Version:       snap.Version,
		Contacts:      len(snap.Contacts),
		Tasks:         len(snap.Tasks),
		Selection:     snap.Selection,
		Navigation:    h.Navigator.State(),
		Notifications: len(h.Engine.Toasts()),
		Pages:         h.Engine.JoinedPages(),
	})
}

func (h *Handler) handleContacts(w http.ResponseWriter, _ *http.Request) {
	snap := h.Store.Snapshot()
	now := h.now()
	out := make([]contactView, 0, len(snap.Contacts))
	for _, c := range snap.Contacts {
		tasks := reconcile.TasksForContact(snap, c.ID)
		out = append(out, contactView{
			ID:       c.ID,
			Name:     c.Name,
			Email:    c.Email,
			Phone:    c.Phone,
			Company:  c.Company,
			Status:   c.Status,
			Tasks:    len(tasks),
			Overdue:  countOverdue(reconcile.BuildTaskViews(snap, tasks, now)),
			Expanded: snap.Selection.ContactID == c.ID,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleContactTasks(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactID")
	snap := h.Store.Snapshot()
	if _, ok := reconcile.FindContact(snap, contactID); !ok {
		h.writeError(w, http.StatusNotFound, "contact not found")
		return
	}
	h.writeJSON(w, http.StatusOK, reconcile.BuildTaskViews(snap, reconcile.TasksForContact(snap, contactID), h.now()))
}

func (h *Handler) handleTasks(w http.ResponseWriter, _ *http.Request) {
	snap := h.Store.Snapshot()
	h.writeJSON(w, http.StatusOK, reconcile.BuildTaskViews(snap, snap.Tasks, h.now()))
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if h.API == nil {
		h.writeError(w, http.StatusServiceUnavailable, "crm api is not configured")
		return
	}
	var in crmapi.TaskInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	tasks, err := h.API.CreateTask(r.Context(), in)
	if err != nil {
		h.writeAPIError(w, err)
		return
	}
	// The matching task-created events are deduplicated by id when they arrive.
	for _, t := range tasks {
		h.Store.Apply(contracts.TaskCreated{Task: t})
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"tasks": tasks})
}

func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if h.API == nil {
		h.writeError(w, http.StatusServiceUnavailable, "crm api is not configured")
		return
	}
	q := r.URL.Query()
	var source contracts.TaskSource
	if err := source.UnmarshalText([]byte(q.Get("source"))); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref := crmapi.TaskRef{ID: chi.URLParam(r, "taskID"), Source: source, ContactID: q.Get("contactId")}
	if err := h.API.DeleteTask(r.Context(), ref); err != nil {
		h.writeAPIError(w, err)
		return
	}
	h.Store.Apply(contracts.TaskDeleted{ID: ref.ID, Source: ref.Source})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCalendarSync(w http.ResponseWriter, r *http.Request) {
	if h.API == nil {
		h.writeError(w, http.StatusServiceUnavailable, "crm api is not configured")
		return
	}
	result, err := h.API.SyncCalendar(r.Context())
	if err != nil {
		h.writeAPIError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeAPIError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crmapi.ErrInvalidTask), errors.Is(err, contracts.ErrUnknownTaskSource):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, crmapi.ErrUnauthorized):
		h.writeError(w, http.StatusUnauthorized, "crm api rejected the session")
	default:
		h.Logger.Warn().Err(err).Msg("crm api call failed")
		h.writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (h *Handler) handleNavigationState(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.Navigator.State())
}

func (h *Handler) handleDeepLink(w http.ResponseWriter, r *http.Request) {
	var req navigationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid url")
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = h.NewSessionID()
	}
	_, authenticated := h.currentClaims()

	target, applied, err := h.Navigator.HandleInitialLoad(r.Context(), sessionID, u.RawQuery, authenticated)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := navigationResponse{SessionID: sessionID, Applied: applied}
	if applied {
		resp.Target = &target
	} else if !authenticated {
		_, resp.Parked = navigation.ParseQuery(u.Query())
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePushClick(w http.ResponseWriter, r *http.Request) {
	var msg contracts.PlatformMessage
	if err := decodeJSON(r, &msg); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	target, ok := h.Navigator.HandlePlatformMessage(msg)
	resp := navigationResponse{Applied: ok}
	if ok {
		resp.Target = &target
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCollapseContact(w http.ResponseWriter, _ *http.Request) {
	h.Navigator.CollapseContact()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCollapseSubtask(w http.ResponseWriter, r *http.Request) {
	h.Navigator.CollapseSubtask(chi.URLParam(r, "subtaskID"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.Engine.Toasts())
}

func (h *Handler) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	target, ok, err := h.Engine.Click(chi.URLParam(r, "notificationID"))
	if err != nil {
		if errors.Is(err, syncengine.ErrUnknownNotification) {
			h.writeError(w, http.StatusNotFound, "notification not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := navigationResponse{Applied: ok}
	if ok {
		resp.Target = &target
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleJoinPage(w http.ResponseWriter, r *http.Request) {
	h.writePresenceResult(w, h.Engine.JoinPage(chi.URLParam(r, "pageID")))
}

func (h *Handler) handleLeavePage(w http.ResponseWriter, r *http.Request) {
	h.writePresenceResult(w, h.Engine.LeavePage(chi.URLParam(r, "pageID")))
}

func (h *Handler) writePresenceResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, syncengine.ErrMissingPage):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (h *Handler) handleGetNotificationPreference(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.preferenceUser(w)
	if !ok {
		return
	}
	enabled, err := h.Preferences.Get(r.Context(), userID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (h *Handler) handleSetNotificationPreference(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.preferenceUser(w)
	if !ok {
		return
	}
	var req preferenceRequest
	if err := decodeJSON(r, &req); err != nil || req.Enabled == nil {
		h.writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := h.Preferences.Set(r.Context(), userID, *req.Enabled); err != nil {
		if errors.Is(err, preferences.ErrMissingUser) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

func (h *Handler) preferenceUser(w http.ResponseWriter) (string, bool) {
	if h.Preferences == nil {
		h.writeError(w, http.StatusServiceUnavailable, "preferences are not configured")
		return "", false
	}
	claims, ok := h.currentClaims()
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "not signed in")
		return "", false
	}
	return claims.Subject, true
}

func (h *Handler) statusView() frontend.StatusView {
	snap := h.Store.Snapshot()
	status := h.Manager.Status()
	nav := h.Navigator.State()

	view := frontend.StatusView{
		State:       string(status.State),
		Retries:     status.Retries,
		SessionID:   status.SessionID,
		Events:      status.Events,
		Policy:      string(h.Engine.Policy()),
		Version:     snap.Version,
		Contacts:    len(snap.Contacts),
		Tasks:       len(snap.Tasks),
		Overdue:     countOverdue(reconcile.BuildTaskViews(snap, snap.Tasks, h.now())),
		Location:    nav.Location,
		Highlight:   nav.HighlightTaskID,
		JoinedPages: h.Engine.JoinedPages(),
	}
	if nav.HighlightSubtaskID != "" {
		view.Highlight += " / " + nav.HighlightSubtaskID
	}
	for _, t := range h.Engine.Toasts() {
		view.Notifications = append(view.Notifications, frontend.ToastLine{
			Title:   t.Notification.Title,
			Message: t.Notification.Message,
		})
	}
	return view
}

func countOverdue(views []reconcile.TaskView) int {
	n := 0
	for _, v := range views {
		if v.Urgency == tasktree.UrgencyOverdue {
			n++
		}
	}
	return n
}
