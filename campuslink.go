// Package campuslink provides the Go SDK for the CampusLink student social
// network.
//
// It has two halves. The realtime half (RealtimeClient) maintains one
// supervised WebSocket connection for chat messages, typing indicators,
// presence and read receipts. The REST half (Client) covers authentication
// and the conversation/message CRUD endpoints, and is the fallback delivery
// path whenever RealtimeClient.SendMessage reports non-acceptance.
//
// Example:
//
//	api := campuslink.NewClient(token)
//	rt := campuslink.NewRealtimeClient(campuslink.RealtimeConfig{
//		BaseURL: campuslink.DefaultBaseURL,
//		Token:   token,
//	})
//	if err := rt.Connect(ctx); err != nil { ... }
//
//	if !rt.SendMessage(convID, "hello") {
//		_, err := api.Messages().Send(ctx, convID, "hello")
//		...
//	}
package campuslink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.campuslink.app"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST API client.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client

	auth          *AuthClient
	conversations *ConversationsClient
	messages      *MessagesClient
}

// ClientOption customizes a Client.
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

// NewClient creates a REST client. token may be empty for the auth endpoints
// and set later with SetToken once the user has logged in.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.auth = &AuthClient{client: c}
	c.conversations = &ConversationsClient{client: c}
	c.messages = &MessagesClient{client: c}
	return c
}

// SetToken sets or replaces the bearer token, e.g. after login or refresh.
func (c *Client) SetToken(token string) { c.token = token }

// BaseURL returns the configured API origin.
func (c *Client) BaseURL() string { return c.baseURL }

// Auth returns the authentication sub-client.
func (c *Client) Auth() *AuthClient { return c.auth }

// Conversations returns the conversations sub-client.
func (c *Client) Conversations() *ConversationsClient { return c.conversations }

// Messages returns the messages sub-client.
func (c *Client) Messages() *MessagesClient { return c.messages }

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
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
			return nil, wrapError(ErrorSerialization, "marshal request", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapError(ErrorConnection, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError(ErrorConnection, "read response", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Detail == "" {
			apiErr.Detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, wrapError(ErrorSerialization, "unmarshal response", err)
	}
	return &result, nil
}

func pageQuery(opts *PageOptions) map[string]string {
	if opts == nil {
		return nil
	}
	q := map[string]string{}
	if opts.Page > 0 {
		q["page"] = fmt.Sprintf("%d", opts.Page)
	}
	if opts.PageSize > 0 {
		q["page_size"] = fmt.Sprintf("%d", opts.PageSize)
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// ============================================================================
// Auth
// ============================================================================

// AuthClient handles registration, login and token refresh.
type AuthClient struct{ client *Client }

// Register creates an account and returns its initial credentials.
func (a *AuthClient) Register(ctx context.Context, opts *RegisterOptions) (*Token, error) {
	data, err := a.client.doRequest(ctx, "POST", "/api/auth/register", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Token](data)
}

// Login exchanges credentials for a token pair.
func (a *AuthClient) Login(ctx context.Context, email, password string) (*Token, error) {
	body := map[string]string{"email": email, "password": password}
	data, err := a.client.doRequest(ctx, "POST", "/api/auth/login", body, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Token](data)
}

// Refresh exchanges a refresh token for a fresh token pair.
func (a *AuthClient) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	body := map[string]string{"refresh_token": refreshToken}
	data, err := a.client.doRequest(ctx, "POST", "/api/auth/refresh", body, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Token](data)
}

// Logout invalidates the current session server-side.
func (a *AuthClient) Logout(ctx context.Context) error {
	_, err := a.client.doRequest(ctx, "POST", "/api/auth/logout", nil, nil)
	return err
}

// Me returns the profile of the authenticated user.
func (a *AuthClient) Me(ctx context.Context) (*User, error) {
	data, err := a.client.doRequest(ctx, "GET", "/api/users/me", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

// ============================================================================
// Conversations
// ============================================================================

// ConversationsClient handles conversation management.
type ConversationsClient struct{ client *Client }

func (cv *ConversationsClient) List(ctx context.Context, opts *PageOptions) (*ConversationList, error) {
	data, err := cv.client.doRequest(ctx, "GET", "/api/messages/conversations", nil, pageQuery(opts))
	if err != nil {
		return nil, err
	}
	return decodeJSON[ConversationList](data)
}

func (cv *ConversationsClient) Create(ctx context.Context, opts *ConversationCreateOptions) (*Conversation, error) {
	data, err := cv.client.doRequest(ctx, "POST", "/api/messages/conversations", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

func (cv *ConversationsClient) Get(ctx context.Context, conversationID int64) (*Conversation, error) {
	data, err := cv.client.doRequest(ctx, "GET", fmt.Sprintf("/api/messages/conversations/%d", conversationID), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

// MarkRead is the REST counterpart of RealtimeClient.MarkRead.
func (cv *ConversationsClient) MarkRead(ctx context.Context, conversationID int64) error {
	_, err := cv.client.doRequest(ctx, "POST", fmt.Sprintf("/api/messages/conversations/%d/read", conversationID), nil, nil)
	return err
}

// ============================================================================
// Messages
// ============================================================================

// MessagesClient handles message history and the REST send path.
type MessagesClient struct{ client *Client }

func (m *MessagesClient) History(ctx context.Context, conversationID int64, opts *PageOptions) (*MessageList, error) {
	data, err := m.client.doRequest(ctx, "GET", fmt.Sprintf("/api/messages/conversations/%d/messages", conversationID), nil, pageQuery(opts))
	if err != nil {
		return nil, err
	}
	return decodeJSON[MessageList](data)
}

// Send delivers a message over REST. This is the fallback path callers use
// when RealtimeClient.SendMessage returns false.
func (m *MessagesClient) Send(ctx context.Context, conversationID int64, content string) (*Message, error) {
	body := map[string]string{"content": content}
	data, err := m.client.doRequest(ctx, "POST", fmt.Sprintf("/api/messages/conversations/%d/messages", conversationID), body, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}
