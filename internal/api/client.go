// Package api provides the typed delivery client for the remote household
// service.
//
// Every outbound call attaches the stored bearer token. A 401 triggers
// exactly one refresh-and-retry; a second 401 clears the stored tokens and
// surfaces an unauthorized error. HTTP status codes are mapped to the
// error taxonomy in errors.go. The client is stateless per call: queuing
// and retry scheduling belong to the sync engine and the outbox.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/roomies-app/roomies-sync/internal/auth"
	"github.com/roomies-app/roomies-sync/internal/model"
)

// Config holds client configuration.
type Config struct {
	// BaseURL of the remote service, e.g. "https://api.roomies.app".
	BaseURL string

	// RequestTimeout bounds each call. Timeouts are reported as
	// network-unavailable, not as a failure of the record being synced.
	RequestTimeout time.Duration

	// Logger for request diagnostics (default: stderr). Token values are
	// never written to it.
	Logger *log.Logger

	// OnNetworkDown, if set, is invoked whenever a call fails at the
	// transport level. The availability monitor hooks in here.
	OnNetworkDown func()
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:        baseURL,
		RequestTimeout: 15 * time.Second,
		Logger:         log.New(os.Stderr, "[api] ", log.LstdFlags),
	}
}

// Client is the request/response layer over the remote API.
type Client struct {
	baseURL       string
	http          *http.Client
	creds         *auth.Store
	logger        *log.Logger
	onNetworkDown func()

	// refreshMu serializes the refresh flow so two concurrent 401s don't
	// race to rotate the same refresh token.
	refreshMu sync.Mutex
}

// New creates a Client backed by the given credential store.
func New(config *Config, creds *auth.Store) *Client {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[api] ", log.LstdFlags)
	}
	timeout := config.RequestTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:       strings.TrimRight(config.BaseURL, "/"),
		http:          &http.Client{Timeout: timeout},
		creds:         creds,
		logger:        config.Logger,
		onNetworkDown: config.OnNetworkDown,
	}
}

// ===== Auth =====

// Register creates an account and stores the returned token pair.
func (c *Client) Register(ctx context.Context, email, password, name string) (*model.AuthResponse, error) {
	body := map[string]string{"email": email, "password": password, "name": name}
	var resp model.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", body, &resp, true); err != nil {
		return nil, err
	}
	return &resp, c.storeTokens(&resp)
}

// Login authenticates and stores the returned token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*model.AuthResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var resp model.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &resp, true); err != nil {
		return nil, err
	}
	return &resp, c.storeTokens(&resp)
}

func (c *Client) storeTokens(resp *model.AuthResponse) error {
	creds := &auth.Credentials{
		AccessToken:  resp.Token,
		RefreshToken: resp.RefreshToken,
	}
	if resp.User != nil {
		creds.UserID = resp.User.ID
	}
	if err := c.creds.Save(creds); err != nil {
		return fmt.Errorf("failed to store tokens: %w", err)
	}
	return nil
}

// Health probes the service. Used by the availability monitor.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	return c.do(ctx, http.MethodGet, "/health", nil, &resp, true)
}

// ===== Households =====

// CreateHousehold creates a household owned by the current user.
func (c *Client) CreateHousehold(ctx context.Context, name string) (*model.Household, error) {
	var h model.Household
	if err := c.do(ctx, http.MethodPost, "/households", map[string]string{"name": name}, &h, false); err != nil {
		return nil, err
	}
	return &h, nil
}

// JoinHousehold joins an existing household by invite code.
func (c *Client) JoinHousehold(ctx context.Context, inviteCode string) (*model.Household, error) {
	var h model.Household
	body := map[string]string{"inviteCode": inviteCode}
	if err := c.do(ctx, http.MethodPost, "/households/join", body, &h, false); err != nil {
		return nil, err
	}
	return &h, nil
}

// CurrentHousehold fetches the household the current user belongs to.
func (c *Client) CurrentHousehold(ctx context.Context) (*model.Household, error) {
	var h model.Household
	if err := c.do(ctx, http.MethodGet, "/households/current", nil, &h, false); err != nil {
		return nil, err
	}
	return &h, nil
}

// ===== Tasks =====

// CreateTask uploads a never-synced task. The response carries the
// server-assigned id the caller adopts in place of the local id.
func (c *Client) CreateTask(ctx context.Context, task *model.Task) (*model.Task, error) {
	var created model.Task
	if err := c.do(ctx, http.MethodPost, "/tasks", task, &created, false); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListHouseholdTasks fetches the authoritative task collection.
func (c *Client) ListHouseholdTasks(ctx context.Context, householdID string) ([]*model.Task, error) {
	var tasks []*model.Task
	path := "/tasks/household/" + householdID
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks, false); err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask uploads a dirty task that already has a server id.
func (c *Client) UpdateTask(ctx context.Context, task *model.Task) (*model.Task, error) {
	var updated model.Task
	if err := c.do(ctx, http.MethodPut, "/tasks/"+task.ID, task, &updated, false); err != nil {
		return nil, err
	}
	return &updated, nil
}

// CompleteTask marks a task completed on the server.
func (c *Client) CompleteTask(ctx context.Context, id string) (*model.Task, error) {
	var completed model.Task
	if err := c.do(ctx, http.MethodPost, "/tasks/"+id+"/complete", nil, &completed, false); err != nil {
		return nil, err
	}
	return &completed, nil
}

// DeleteTask removes a task on the server. The caller removes the local
// row only after this succeeds (delete-then-remove ordering).
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+id, nil, nil, false)
}

// PostTelemetry delivers a batch of telemetry events for the outbox.
func (c *Client) PostTelemetry(ctx context.Context, events json.RawMessage) error {
	body := map[string]json.RawMessage{"events": events}
	return c.do(ctx, http.MethodPost, "/telemetry/batch", body, nil, false)
}

// ===== Core request path =====

// do issues one request and decodes the response into out (which may be
// nil for empty responses). skipAuth marks the unauthenticated endpoints.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, skipAuth bool) error {
	return c.doOnce(ctx, method, path, body, out, skipAuth, false)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out interface{}, skipAuth, retried bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindDecoding, Err: fmt.Errorf("failed to encode request body: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindClient, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if !skipAuth {
		creds, err := c.creds.Load()
		if err != nil {
			return &Error{Kind: KindClient, Err: err}
		}
		if creds != nil && creds.AccessToken != "" {
			req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport-level failure or timeout: the record stays dirty and
		// the availability monitor flips offline.
		if c.onNetworkDown != nil {
			c.onNetworkDown()
		}
		return &Error{Kind: KindNetworkUnavailable, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if c.onNetworkDown != nil {
			c.onNetworkDown()
		}
		return &Error{Kind: KindNetworkUnavailable, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return &Error{Kind: KindDecoding, StatusCode: resp.StatusCode,
				Err: fmt.Errorf("failed to decode %s %s response: %w", method, path, err)}
		}
		return nil

	case resp.StatusCode == http.StatusUnauthorized:
		if skipAuth || retried {
			return &Error{Kind: KindUnauthorized, StatusCode: resp.StatusCode, Message: serverMessage(data)}
		}
		if err := c.refresh(ctx); err != nil {
			return err
		}
		// Retry exactly once with the fresh token.
		return c.doOnce(ctx, method, path, body, out, skipAuth, true)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &Error{Kind: KindClient, StatusCode: resp.StatusCode, Message: serverMessage(data)}

	default:
		return &Error{Kind: KindServer, StatusCode: resp.StatusCode, Message: serverMessage(data)}
	}
}

// refresh performs the single token refresh. On any failure the stored
// tokens are cleared and an unauthorized error is returned; the caller is
// responsible for prompting re-authentication.
func (c *Client) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	creds, err := c.creds.Load()
	if err != nil || creds == nil || creds.RefreshToken == "" {
		_ = c.creds.Clear()
		return &Error{Kind: KindUnauthorized, Message: "no refresh token"}
	}

	c.logger.Printf("Access token rejected, refreshing")

	body := map[string]string{"refreshToken": creds.RefreshToken}
	var resp model.AuthResponse
	if err := c.doOnce(ctx, http.MethodPost, "/auth/refresh", body, &resp, true, true); err != nil {
		_ = c.creds.Clear()
		c.logger.Printf("Token refresh failed, credentials cleared")
		return &Error{Kind: KindUnauthorized, Message: "token refresh failed", Err: err}
	}

	next := &auth.Credentials{
		AccessToken:  resp.Token,
		RefreshToken: resp.RefreshToken,
		UserID:       creds.UserID,
	}
	// The server may choose not to rotate the refresh token.
	if next.RefreshToken == "" {
		next.RefreshToken = creds.RefreshToken
	}
	if err := c.creds.Save(next); err != nil {
		return &Error{Kind: KindUnauthorized, Err: err}
	}
	return nil
}

// serverMessage extracts the human-readable error from a response body.
func serverMessage(data []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}
