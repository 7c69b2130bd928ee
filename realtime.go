package campuslink

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime client.
type RealtimeConfig struct {
	// BaseURL is the http(s) origin of the CampusLink API. The scheme is
	// rewritten to ws(s) for the realtime endpoint.
	BaseURL string

	// Token is the bearer token carried as a query parameter on connect.
	// TokenSource takes precedence when set, so a refreshed token is
	// picked up on every (re)connect.
	Token       string
	TokenSource func() (string, error)

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// HeartbeatInterval is the ping period while open. PongTimeout is how
	// long the client tolerates silence from the server before dropping
	// the connection; 0 disables the liveness check.
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration

	// Reconnect backoff: delay for attempt n is ReconnectBaseDelay * 2^n,
	// clamped to ReconnectMaxDelay. After MaxReconnectAttempts failures
	// the client stops and requires an explicit Connect.
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	// MessageBufferSize bounds the per-conversation recent-message buffer.
	MessageBufferSize int

	// TypingTTL expires typing-indicator entries that never received a
	// stopped-typing frame. 0 keeps entries until explicitly cleared.
	TypingTTL time.Duration

	Logger Logger
	Dialer Dialer
}

func (c *RealtimeConfig) defaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = 2 * c.HeartbeatInterval
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.MessageBufferSize == 0 {
		c.MessageBufferSize = 100
	}
	if c.TypingTTL == 0 {
		c.TypingTTL = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	if c.Dialer == nil {
		c.Dialer = DialWebSocket
	}
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient is the realtime messaging runtime: one supervised WebSocket
// connection with automatic reconnect, a heartbeat, and typed event fan-out.
//
// Construct it explicitly with NewRealtimeClient and pass the instance to
// whatever needs it; there is no package-level singleton. Consumers that
// mount and unmount independently of the connection register through
// Subscribe and release with the returned unsubscribe function.
type RealtimeClient struct {
	cfg    RealtimeConfig
	logger Logger
	router *router
	sup    *supervisor
}

// NewRealtimeClient constructs a realtime client. Zero config fields take
// defaults; BaseURL and a token (or TokenSource) are required to connect.
func NewRealtimeClient(cfg RealtimeConfig) *RealtimeClient {
	cfg.defaults()
	r := newRouter(cfg.Logger, cfg.MessageBufferSize, cfg.TypingTTL)
	c := &RealtimeClient{cfg: cfg, logger: cfg.Logger, router: r}
	c.sup = newSupervisor(&c.cfg, c.endpointURL, r)
	return c
}

// endpointURL builds the ws(s) endpoint with the identity token. Returns
// ErrNoToken when no token is available.
func (c *RealtimeClient) endpointURL() (string, error) {
	token := c.cfg.Token
	if c.cfg.TokenSource != nil {
		t, err := c.cfg.TokenSource()
		if err != nil {
			return "", wrapError(ErrorNoToken, "token source", err)
		}
		token = t
	}
	if token == "" {
		return "", ErrNoToken
	}

	base := strings.TrimRight(c.cfg.BaseURL, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/api/ws?token=" + url.QueryEscape(token), nil
}

// Connect establishes the connection and blocks until it is open or the
// attempt fails. Idempotent while open or connecting. Without a token it
// returns ErrNoToken and stays idle.
func (c *RealtimeClient) Connect(ctx context.Context) error {
	return c.sup.connect(ctx)
}

// Disconnect tears down the connection, cancels reconnect and heartbeat
// timers and clears presence and typing state. Safe to call from any state.
func (c *RealtimeClient) Disconnect() error {
	return c.sup.disconnect()
}

// State returns the current connection state.
func (c *RealtimeClient) State() ConnState {
	return c.sup.currentState()
}

// IsConnected reports whether realtime delivery is currently possible. The
// UI treats this as the single source of truth for choosing between the
// realtime path and the REST fallback.
func (c *RealtimeClient) IsConnected() bool {
	return c.sup.currentState() == StateOpen
}

// SendMessage hands a chat message to the open connection. The returned
// bool is the delivery contract: false means the frame was not accepted and
// the caller must fall back to the REST send endpoint. It never blocks past
// the write timeout and never panics.
func (c *RealtimeClient) SendMessage(conversationID int64, content string) bool {
	data, err := json.Marshal(sendMessageFrame{
		Type:           frameSendMessage,
		ConversationID: conversationID,
		Content:        content,
	})
	if err != nil {
		return false
	}
	if err := c.sup.send(data); err != nil {
		c.logger.Debug("realtime send not accepted", map[string]any{"error": err.Error()})
		return false
	}
	return true
}

// SendTyping reports the caller's typing state for a conversation.
// Fire-and-forget: a no-op unless the connection is open.
func (c *RealtimeClient) SendTyping(conversationID int64, isTyping bool) {
	data, err := json.Marshal(sendTypingFrame{
		Type:           frameSendTyping,
		ConversationID: conversationID,
		IsTyping:       isTyping,
	})
	if err != nil {
		return
	}
	_ = c.sup.send(data)
}

// MarkRead reports that the caller has read a conversation.
// Fire-and-forget: a no-op unless the connection is open.
func (c *RealtimeClient) MarkRead(conversationID int64) {
	data, err := json.Marshal(markReadFrame{
		Type:           frameMarkRead,
		ConversationID: conversationID,
	})
	if err != nil {
		return
	}
	_ = c.sup.send(data)
}

// Subscribe registers a callback for one event kind under a subscriber id
// and returns the matching unsubscribe function. Re-subscribing with the
// same id and kind replaces the previous callback.
func (c *RealtimeClient) Subscribe(subscriberID string, kind EventKind, h Handler) func() {
	return c.router.subscribe(subscriberID, kind, h)
}

// Unsubscribe removes a subscription registered under Subscribe.
func (c *RealtimeClient) Unsubscribe(subscriberID string, kind EventKind) {
	c.router.unsubscribe(subscriberID, kind)
}

// IsUserOnline reports whether a user is currently known to be online.
func (c *RealtimeClient) IsUserOnline(userID int64) bool {
	return c.router.isUserOnline(userID)
}

// OnlineUsers returns all users currently known to be online.
func (c *RealtimeClient) OnlineUsers() []int64 {
	return c.router.onlineUsers()
}

// TypingUsers returns the users currently typing in a conversation, empty
// when none.
func (c *RealtimeClient) TypingUsers(conversationID int64) []int64 {
	return c.router.typingUsers(conversationID)
}

// RecentMessages returns the buffered recent messages for a conversation in
// chronological order. The buffer is an observation channel only; it is
// bounded and survives reconnects.
func (c *RealtimeClient) RecentMessages(conversationID int64) []Message {
	return c.router.recentMessages(conversationID)
}

// OnConnected registers a callback fired whenever the connection opens.
// Register callbacks before Connect.
func (c *RealtimeClient) OnConnected(fn func()) { c.sup.onConnected = fn }

// OnDisconnected registers a callback fired whenever the connection is lost
// or closed, with the close code and reason.
func (c *RealtimeClient) OnDisconnected(fn func(code int, reason string)) {
	c.sup.onDisconnected = fn
}

// OnReconnecting registers a callback fired when a reconnect attempt is
// scheduled, with the 1-based attempt number and the backoff delay.
func (c *RealtimeClient) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	c.sup.onReconnecting = fn
}

// OnGaveUp registers a callback fired exactly once per connection cycle when
// the reconnect cap is exhausted. The client is idle afterwards; resuming
// requires an explicit Connect.
func (c *RealtimeClient) OnGaveUp(fn func()) { c.sup.onGaveUp = fn }
