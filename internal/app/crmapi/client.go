// Package crmapi is the client for the CRM REST backend.
package crmapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pulsecrm/realtime/internal/contracts"
	"github.com/rs/zerolog"
)

const (
	DefaultTimeout     = 15 * time.Second
	DefaultSyncTimeout = 5 * time.Minute
	maxErrorBody       = 4 << 10
)

var (
	ErrUnauthorized = errors.New("crm api: unauthorized")
	ErrInvalidTask  = errors.New("invalid task")
	ErrBadResponse  = errors.New("crm api: unexpected response")
)

// APIError is a non-2xx response. A 401 also matches ErrUnauthorized.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("crm api: status %d", e.Status)
	}
	return fmt.Sprintf("crm api: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

type Options struct {
	Timeout     time.Duration
	SyncTimeout time.Duration
	Logger      zerolog.Logger
	// Transport overrides http.DefaultTransport for both clients.
	Transport http.RoundTripper
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	sync    *http.Client
	log     zerolog.Logger

	mu    sync.RWMutex
	token string
}

func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse api url: unsupported scheme %q", u.Scheme)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = DefaultSyncTimeout
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		sync:    &http.Client{Timeout: opts.SyncTimeout, Transport: opts.Transport},
		log:     opts.Logger.With().Str("component", "crmapi").Logger(),
	}, nil
}

// SetToken sets the bearer token sent with every request. An empty token sends none.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

func (c *Client) ListContacts(ctx context.Context) ([]contracts.Contact, error) {
	var contacts []contracts.Contact
	if err := c.do(ctx, c.http, http.MethodGet, "/contacts", nil, &contacts); err != nil {
		return nil, err
	}
	for _, ct := range contacts {
		if ct.ID == "" {
			return nil, fmt.Errorf("%w: contact without id", ErrBadResponse)
		}
	}
	return contacts, nil
}

func (c *Client) ListTasks(ctx context.Context) ([]contracts.Task, error) {
	var tasks []contracts.Task
	if err := c.do(ctx, c.http, http.MethodGet, "/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("%w: task without id", ErrBadResponse)
		}
	}
	return tasks, nil
}

type TaskInput struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	DueDate     *contracts.Date     `json:"dueDate,omitempty"`
	Priority    contracts.Priority  `json:"priority,omitempty"`
	ContactIDs  []string            `json:"contactIds,omitempty"`
	Subtasks    []contracts.Subtask `json:"subtasks,omitempty"`
}

func (in TaskInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidTask, in.Priority)
	}
	return nil
}

// CreateTask creates a global task. The backend answers with the task, or with
// {"tasks": [...]} when one creation fans out into a row per linked contact.
func (c *Client) CreateTask(ctx context.Context, in TaskInput) ([]contracts.Task, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.do(ctx, c.http, http.MethodPost, "/tasks", in, &raw); err != nil {
		return nil, err
	}
	return decodeCreated(raw)
}

func decodeCreated(raw json.RawMessage) ([]contracts.Task, error) {
	var fanOut struct {
		Tasks []contracts.Task `json:"tasks"`
	}
	if err := json.Unmarshal(raw, &fanOut); err == nil && fanOut.Tasks != nil {
		return fanOut.Tasks, nil
	}
	var single contracts.Task
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if single.ID == "" {
		return nil, fmt.Errorf("%w: created task without id", ErrBadResponse)
	}
	return []contracts.Task{single}, nil
}

// TaskRef addresses a task for deletion. ContactID is required for contact tasks.
type TaskRef struct {
	ID        string               `json:"id"`
	Source    contracts.TaskSource `json:"source"`
	ContactID string               `json:"contactId,omitempty"`
}

func (c *Client) DeleteTask(ctx context.Context, ref TaskRef) error {
	if ref.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTask)
	}
	var path string
	switch ref.Source {
	case contracts.SourceContact:
		if ref.ContactID == "" {
			return fmt.Errorf("%w: contact task needs a contact id", ErrInvalidTask)
		}
		path = "/contacts/" + url.PathEscape(ref.ContactID) + "/tasks/" + url.PathEscape(ref.ID)
	case contracts.SourceGlobal:
		path = "/tasks/" + url.PathEscape(ref.ID)
	default:
		return fmt.Errorf("%w: %d", contracts.ErrUnknownTaskSource, int(ref.Source))
	}
	return c.do(ctx, c.http, http.MethodDelete, path, nil, nil)
}

type SyncResult struct {
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// SyncCalendar runs the third-party calendar sync. It uses its own, much longer timeout.
func (c *Client) SyncCalendar(ctx context.Context) (SyncResult, error) {
	var result SyncResult
	started := time.Now()
	if err := c.do(ctx, c.sync, http.MethodPost, "/calendar/sync", struct{}{}, &result); err != nil {
		c.log.Warn().Err(err).Dur("elapsed", time.Since(started)).Msg("calendar sync failed")
		return SyncResult{}, err
	}
	c.log.Info().Int("imported", result.Imported).Int("updated", result.Updated).
		Dur("elapsed", time.Since(started)).Msg("calendar sync finished")
	return result, nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := *c.baseURL
	endpoint.Path = c.baseURL.Path + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", ErrBadResponse, method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.Message = body.Error
		if apiErr.Message == "" {
			apiErr.Message = body.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
