// Package relay provides the Go client SDK for the Relay chat platform.
//
// It covers the REST API (workspaces, channels, conversations, messages,
// reactions, users) and the realtime protocol: a single websocket per
// session with automatic reconnection, an event router that merges inbound
// events into per-scope message timelines, presence and typing tracking,
// and an action dispatcher that applies optimistic sends reconciled against
// server-confirmed records.
//
// Example:
//
//	client := relay.NewClient(token)
//	session := relay.NewSession(client, &relay.RealtimeConfig{UserID: me.ID})
//	if err := session.Start(ctx); err != nil { ... }
//	session.Actions.JoinScope(ctx, relay.ChannelScope("general"))
//	session.Actions.SendMessage(ctx, relay.ChannelScope("general"), "hello")
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.relay.im"
	DefaultTimeout = 15 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// RefreshFunc exchanges the current credential for a fresh token. It is
// invoked at most once per request, after a 401 response.
type RefreshFunc func(ctx context.Context) (string, error)

type Client struct {
	credential *Credential
	baseURL    string
	httpClient *http.Client
	refresh    RefreshFunc

	Auth          *AuthClient
	Workspaces    *WorkspacesClient
	Channels      *ChannelsClient
	Conversations *ConversationsClient
	Messages      *MessagesClient
	Users         *UsersClient
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithTokenRefresh installs a refresh hook. When a request fails with 401 the
// client calls it once, stores the returned token, and retries the request.
func WithTokenRefresh(fn RefreshFunc) ClientOption {
	return func(c *Client) { c.refresh = fn }
}

// NewClient creates a Relay API client authenticated with the given bearer
// token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		credential: NewCredential(token),
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Auth = &AuthClient{client: c}
	c.Workspaces = &WorkspacesClient{client: c}
	c.Channels = &ChannelsClient{client: c}
	c.Conversations = &ConversationsClient{client: c}
	c.Messages = &MessagesClient{client: c}
	c.Users = &UsersClient{client: c}
	return c
}

// Credential returns the credential shared by REST calls and the realtime
// handshake.
func (c *Client) Credential() *Credential { return c.credential }

// SetToken replaces the bearer token, e.g. after an external refresh.
func (c *Client) SetToken(token string) { c.credential.Set(token) }

// Realtime creates a realtime client bound to this API client's base URL and
// credential. Call Connect to establish the connection.
func (c *Client) Realtime(config *RealtimeConfig) *RealtimeClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return newRealtimeClient(c.baseURL, c.credential, &cfg)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	data, status, err := c.doOnce(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}

	// One refresh-and-retry on auth expiry, mirroring the web client.
	if status == http.StatusUnauthorized && c.refresh != nil {
		token, rerr := c.refresh(ctx)
		if rerr != nil {
			return nil, fmt.Errorf("token refresh: %w", rerr)
		}
		c.credential.Set(token)
		data, status, err = c.doOnce(ctx, method, path, body, query)
		if err != nil {
			return nil, err
		}
	}

	if status >= 400 {
		return nil, apiErrorFrom(status, data)
	}
	return data, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.credential.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

func apiErrorFrom(status int, data []byte) error {
	var apiErr APIError
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
		if apiErr.Code == "" {
			apiErr.Code = http.StatusText(status)
		}
		return &apiErr
	}
	return &APIError{Code: http.StatusText(status), Message: fmt.Sprintf("HTTP %d", status)}
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func scopeMessagesPath(scope Scope) string {
	return "/api/" + string(scope.Kind) + "s/" + scope.ID + "/messages"
}

// ============================================================================
// Auth
// ============================================================================

// AuthClient handles identity and token lifecycle.
type AuthClient struct{ client *Client }

func (a *AuthClient) Me(ctx context.Context) (*User, error) {
	data, err := a.client.doRequest(ctx, "GET", "/api/users/me", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

type tokenResponse struct {
	Token string `json:"token"`
}

// RefreshToken exchanges the current token for a fresh one and stores it.
func (a *AuthClient) RefreshToken(ctx context.Context) (string, error) {
	data, err := a.client.doRequest(ctx, "POST", "/api/auth/refresh", nil, nil)
	if err != nil {
		return "", err
	}
	resp, err := decodeJSON[tokenResponse](data)
	if err != nil {
		return "", err
	}
	a.client.credential.Set(resp.Token)
	return resp.Token, nil
}

// ============================================================================
// Workspaces
// ============================================================================

// WorkspacesClient handles workspace management and invites.
type WorkspacesClient struct{ client *Client }

func (w *WorkspacesClient) List(ctx context.Context) ([]Workspace, error) {
	data, err := w.client.doRequest(ctx, "GET", "/api/workspaces", nil, nil)
	if err != nil {
		return nil, err
	}
	var result []Workspace
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result, nil
}

func (w *WorkspacesClient) Get(ctx context.Context, workspaceID string) (*Workspace, error) {
	data, err := w.client.doRequest(ctx, "GET", "/api/workspaces/"+workspaceID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Workspace](data)
}

func (w *WorkspacesClient) Create(ctx context.Context, name string) (*Workspace, error) {
	data, err := w.client.doRequest(ctx, "POST", "/api/workspaces", map[string]string{"name": name}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Workspace](data)
}

func (w *WorkspacesClient) Invite(ctx context.Context, workspaceID string, emails []string) ([]Invite, error) {
	data, err := w.client.doRequest(ctx, "POST", "/api/workspaces/"+workspaceID+"/invites",
		map[string]any{"emails": emails}, nil)
	if err != nil {
		return nil, err
	}
	var result []Invite
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result, nil
}

// ============================================================================
// Channels
// ============================================================================

// ChannelsClient handles channel management within a workspace.
type ChannelsClient struct{ client *Client }

// List returns the workspace's channels sorted by name.
func (ch *ChannelsClient) List(ctx context.Context, workspaceID string) ([]Channel, error) {
	data, err := ch.client.doRequest(ctx, "GET", "/api/workspaces/"+workspaceID+"/channels", nil, nil)
	if err != nil {
		return nil, err
	}
	var result []Channel
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (ch *ChannelsClient) Create(ctx context.Context, workspaceID, name, description string) (*Channel, error) {
	payload := map[string]string{"name": name}
	if description != "" {
		payload["description"] = description
	}
	data, err := ch.client.doRequest(ctx, "POST", "/api/workspaces/"+workspaceID+"/channels", payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Channel](data)
}

// ============================================================================
// Conversations
// ============================================================================

// ConversationsClient handles direct conversations.
type ConversationsClient struct{ client *Client }

func (cv *ConversationsClient) List(ctx context.Context) ([]Conversation, error) {
	data, err := cv.client.doRequest(ctx, "GET", "/api/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	var result []Conversation
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result, nil
}

func (cv *ConversationsClient) Get(ctx context.Context, conversationID string) (*Conversation, error) {
	data, err := cv.client.doRequest(ctx, "GET", "/api/conversations/"+conversationID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

func (cv *ConversationsClient) Create(ctx context.Context, participants []string, message string) (*Conversation, error) {
	payload := map[string]any{"participants": participants}
	if message != "" {
		payload["message"] = message
	}
	data, err := cv.client.doRequest(ctx, "POST", "/api/conversations", payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

// ============================================================================
// Messages & Reactions
// ============================================================================

// MessagesClient handles message persistence per scope. It also implements
// HistoryProvider for the timeline store.
type MessagesClient struct{ client *Client }

// List fetches one page of history for a scope, oldest-first within the page.
// An empty cursor requests the newest page.
func (m *MessagesClient) List(ctx context.Context, scope Scope, cursor string, limit int) (*MessagePage, error) {
	query := map[string]string{}
	if limit > 0 {
		query["limit"] = fmt.Sprintf("%d", limit)
	}
	if cursor != "" {
		query["cursor"] = cursor
	}
	data, err := m.client.doRequest(ctx, "GET", scopeMessagesPath(scope), nil, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[MessagePage](data)
}

// MessageHistory implements HistoryProvider.
func (m *MessagesClient) MessageHistory(ctx context.Context, scope Scope, cursor string, limit int) (*MessagePage, error) {
	return m.List(ctx, scope, cursor, limit)
}

// Create persists a new message. threadID is empty for top-level messages.
func (m *MessagesClient) Create(ctx context.Context, scope Scope, content, threadID string) (*Message, error) {
	payload := map[string]string{"content": content}
	if threadID != "" {
		payload["threadId"] = threadID
	}
	data, err := m.client.doRequest(ctx, "POST", scopeMessagesPath(scope), payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

func (m *MessagesClient) Edit(ctx context.Context, scope Scope, messageID, content string) (*Message, error) {
	data, err := m.client.doRequest(ctx, "PATCH", scopeMessagesPath(scope)+"/"+messageID,
		map[string]string{"content": content}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

func (m *MessagesClient) AddReaction(ctx context.Context, scope Scope, messageID, emoji string) (*Reaction, error) {
	data, err := m.client.doRequest(ctx, "POST", scopeMessagesPath(scope)+"/"+messageID+"/reactions",
		map[string]string{"emoji": emoji}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Reaction](data)
}

func (m *MessagesClient) RemoveReaction(ctx context.Context, scope Scope, messageID, reactionID string) error {
	_, err := m.client.doRequest(ctx, "DELETE", scopeMessagesPath(scope)+"/"+messageID+"/reactions/"+reactionID, nil, nil)
	return err
}

// ============================================================================
// Users
// ============================================================================

// UsersClient handles user lookup.
type UsersClient struct{ client *Client }

func (u *UsersClient) Search(ctx context.Context, query string) ([]User, error) {
	data, err := u.client.doRequest(ctx, "GET", "/api/users/search", nil, map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	var result []User
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result, nil
}
