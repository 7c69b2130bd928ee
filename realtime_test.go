package campuslink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Fake transport
// ============================================================================

type fakeTransport struct {
	ev TransportEvents

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (t *fakeTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	t.sent = append(t.sent, cp)
	return nil
}

func (t *fakeTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) sentFrames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte{}, t.sent...)
}

// deliver injects an inbound frame as if the server had sent it.
func (t *fakeTransport) deliver(frame string) { t.ev.OnMessage([]byte(frame)) }

// drop simulates an abnormal closure observed by the read loop.
func (t *fakeTransport) drop() { t.ev.OnClose(1006, "abnormal closure") }

type fakeDialer struct {
	mu       sync.Mutex
	failAll  bool
	dials    int
	conns    []*fakeTransport
}

func (d *fakeDialer) dial(ctx context.Context, rawURL string, ev TransportEvents) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failAll {
		return nil, errors.New("dial refused")
	}
	t := &fakeTransport{ev: ev}
	d.conns = append(d.conns, t)
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 {
		i += len(d.conns)
	}
	return d.conns[i]
}

func (d *fakeDialer) setFailAll(fail bool) {
	d.mu.Lock()
	d.failAll = fail
	d.mu.Unlock()
}

// ============================================================================
// Helpers
// ============================================================================

func newTestClient(t *testing.T, mutate func(*RealtimeConfig)) (*RealtimeClient, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{}
	cfg := RealtimeConfig{
		BaseURL:              "https://rt.test",
		Token:                "test-token",
		HeartbeatInterval:    time.Hour,
		PongTimeout:          time.Hour,
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    time.Second,
		MaxReconnectAttempts: 5,
		Dialer:               d.dial,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewRealtimeClient(cfg), d
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustConnect(t *testing.T, c *RealtimeClient) {
	t.Helper()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

// ============================================================================
// Connect / token
// ============================================================================

func TestConnectWithoutToken(t *testing.T) {
	c, d := newTestClient(t, func(cfg *RealtimeConfig) { cfg.Token = "" })

	err := c.Connect(context.Background())
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("expected idle state, got %s", got)
	}
	if d.dialCount() != 0 {
		t.Fatalf("expected no dial attempts, got %d", d.dialCount())
	}
}

func TestTokenSourceError(t *testing.T) {
	c, _ := newTestClient(t, func(cfg *RealtimeConfig) {
		cfg.TokenSource = func() (string, error) { return "", errors.New("expired") }
	})
	if err := c.Connect(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestConnectIdempotent(t *testing.T) {
	c, d := newTestClient(t, nil)
	mustConnect(t, c)
	mustConnect(t, c)
	if d.dialCount() != 1 {
		t.Fatalf("expected a single dial, got %d", d.dialCount())
	}
	if !c.IsConnected() {
		t.Fatal("expected connected")
	}
}

// ============================================================================
// Sending
// ============================================================================

func TestSendMessageNotConnected(t *testing.T) {
	c, _ := newTestClient(t, nil)
	if c.SendMessage(1, "hi") {
		t.Fatal("expected send to be rejected while idle")
	}
}

func TestSendMessageAccepted(t *testing.T) {
	c, d := newTestClient(t, nil)
	mustConnect(t, c)

	if !c.SendMessage(7, "hello") {
		t.Fatal("expected send to be accepted while open")
	}

	frames := d.conn(0).sentFrames()
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	var f sendMessageFrame
	if err := json.Unmarshal(frames[0], &f); err != nil {
		t.Fatalf("unmarshal sent frame: %v", err)
	}
	if f.Type != "message" || f.ConversationID != 7 || f.Content != "hello" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestTypingAndMarkReadFireAndForget(t *testing.T) {
	c, d := newTestClient(t, nil)

	// Must be no-ops while idle.
	c.SendTyping(7, true)
	c.MarkRead(7)

	mustConnect(t, c)
	c.SendTyping(7, true)
	c.SendTyping(7, false)
	c.MarkRead(7)

	frames := d.conn(0).sentFrames()
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	var typing sendTypingFrame
	if err := json.Unmarshal(frames[0], &typing); err != nil {
		t.Fatalf("unmarshal typing frame: %v", err)
	}
	if typing.Type != "typing" || !typing.IsTyping {
		t.Fatalf("unexpected typing frame: %+v", typing)
	}
	var read markReadFrame
	if err := json.Unmarshal(frames[2], &read); err != nil {
		t.Fatalf("unmarshal read frame: %v", err)
	}
	if read.Type != "read" || read.ConversationID != 7 {
		t.Fatalf("unexpected read frame: %+v", read)
	}
}

// ============================================================================
// Presence and typing state
// ============================================================================

func TestPresenceFollowsUserStatusFrames(t *testing.T) {
	c, d := newTestClient(t, nil)
	mustConnect(t, c)
	tr := d.conn(0)

	tr.deliver(`{"type":"user_status","user_id":42,"status":"online"}`)
	if !c.IsUserOnline(42) {
		t.Fatal("expected user 42 online")
	}

	tr.deliver(`{"type":"user_status","user_id":42,"status":"offline"}`)
	if c.IsUserOnline(42) {
		t.Fatal("expected user 42 offline")
	}
}

func TestDisconnectClearsLiveState(t *testing.T) {
	c, d := newTestClient(t, nil)
	mustConnect(t, c)
	tr := d.conn(0)

	tr.deliver(`{"type":"user_status","user_id":5,"status":"online"}`)
	tr.deliver(`{"type":"typing","conversation_id":3,"user_id":5,"is_typing":true}`)

	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("expected idle after disconnect, got %s", got)
	}
	if c.IsUserOnline(5) {
		t.Fatal("presence survived disconnect")
	}
	if users := c.TypingUsers(3); len(users) != 0 {
		t.Fatalf("typing state survived disconnect: %v", users)
	}
}

// ============================================================================
// Reconnect behaviour
// ============================================================================

func TestReconnectBackoffSequence(t *testing.T) {
	var mu sync.Mutex
	var attempts []int
	var delays []time.Duration
	var gaveUp int

	c, d := newTestClient(t, nil)
	c.OnReconnecting(func(attempt int, delay time.Duration) {
		mu.Lock()
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
		mu.Unlock()
	})
	c.OnGaveUp(func() {
		mu.Lock()
		gaveUp++
		mu.Unlock()
	})

	mustConnect(t, c)
	d.setFailAll(true)
	d.conn(0).drop()

	waitFor(t, 2*time.Second, "give-up notification", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gaveUp > 0
	})

	mu.Lock()
	defer mu.Unlock()
	if gaveUp != 1 {
		t.Fatalf("expected exactly one give-up notification, got %d", gaveUp)
	}
	wantDelays := []time.Duration{
		1 * time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		8 * time.Millisecond,
		16 * time.Millisecond,
	}
	if len(delays) != len(wantDelays) {
		t.Fatalf("expected %d reconnect attempts, got %d (%v)", len(wantDelays), len(delays), delays)
	}
	for i := range wantDelays {
		if delays[i] != wantDelays[i] {
			t.Fatalf("attempt %d: expected delay %s, got %s", i+1, wantDelays[i], delays[i])
		}
		if attempts[i] != i+1 {
			t.Fatalf("expected attempt number %d, got %d", i+1, attempts[i])
		}
	}
	// 1 initial dial + 5 failed reconnect dials; the 6th attempt is never
	// scheduled.
	if d.dialCount() != 6 {
		t.Fatalf("expected 6 dials, got %d", d.dialCount())
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("expected terminal idle state, got %s", got)
	}
	if c.SendMessage(1, "x") {
		t.Fatal("send must be rejected after giving up")
	}
}

func TestBackoffResetsAfterSuccessfulOpen(t *testing.T) {
	var mu sync.Mutex
	var attempts []int
	var delays []time.Duration

	c, d := newTestClient(t, nil)
	c.OnReconnecting(func(attempt int, delay time.Duration) {
		mu.Lock()
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
		mu.Unlock()
	})

	mustConnect(t, c)
	d.conn(0).drop()
	waitFor(t, 2*time.Second, "first reconnect", func() bool { return d.dialCount() >= 2 && c.IsConnected() })

	d.conn(-1).drop()
	waitFor(t, 2*time.Second, "second reconnect", func() bool { return d.dialCount() >= 3 && c.IsConnected() })

	mu.Lock()
	defer mu.Unlock()
	if len(delays) != 2 {
		t.Fatalf("expected 2 reconnect attempts, got %d", len(delays))
	}
	for i, delay := range delays {
		if delay != time.Millisecond {
			t.Fatalf("attempt %d: expected backoff reset to base delay, got %s", i, delay)
		}
		if attempts[i] != 1 {
			t.Fatalf("attempt %d: expected attempt counter reset to 1, got %d", i, attempts[i])
		}
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	c, d := newTestClient(t, func(cfg *RealtimeConfig) {
		cfg.ReconnectBaseDelay = 50 * time.Millisecond
	})
	mustConnect(t, c)
	d.conn(0).drop()

	if got := c.State(); got != StateReconnectPending {
		t.Fatalf("expected reconnect_pending, got %s", got)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	// Advance past the backoff delay: no further attempts may fire.
	time.Sleep(150 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Fatalf("reconnect fired after disconnect: %d dials", d.dialCount())
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
}

func TestStaleTransportCannotMutateState(t *testing.T) {
	c, d := newTestClient(t, nil)
	mustConnect(t, c)

	old := d.conn(0)
	old.drop()
	waitFor(t, 2*time.Second, "reconnect", func() bool { return c.IsConnected() && d.dialCount() >= 2 })

	// Frames from the torn-down connection must be ignored.
	old.deliver(`{"type":"user_status","user_id":99,"status":"online"}`)
	if c.IsUserOnline(99) {
		t.Fatal("stale transport mutated presence state")
	}
}

func TestConnectionLossClearsPresence(t *testing.T) {
	c, d := newTestClient(t, func(cfg *RealtimeConfig) {
		cfg.ReconnectBaseDelay = 100 * time.Millisecond
	})
	mustConnect(t, c)
	tr := d.conn(0)
	tr.deliver(`{"type":"user_status","user_id":8,"status":"online"}`)

	tr.drop()
	if c.IsUserOnline(8) {
		t.Fatal("stale presence survived connection loss")
	}
	_ = c.Disconnect()
}

// ============================================================================
// Heartbeat
// ============================================================================

func TestHeartbeatSendsPings(t *testing.T) {
	c, d := newTestClient(t, func(cfg *RealtimeConfig) {
		cfg.HeartbeatInterval = 5 * time.Millisecond
		cfg.PongTimeout = time.Hour
	})
	mustConnect(t, c)
	defer c.Disconnect()

	waitFor(t, 2*time.Second, "ping frame", func() bool {
		for _, raw := range d.conn(0).sentFrames() {
			var f pingFrame
			if json.Unmarshal(raw, &f) == nil && f.Type == "ping" {
				return true
			}
		}
		return false
	})
}

func TestHeartbeatTimeoutForcesReconnect(t *testing.T) {
	c, d := newTestClient(t, func(cfg *RealtimeConfig) {
		cfg.HeartbeatInterval = 5 * time.Millisecond
		cfg.PongTimeout = 12 * time.Millisecond
	})
	mustConnect(t, c)
	defer c.Disconnect()

	// No pongs ever arrive, so the liveness check must drop the
	// connection and dial again.
	waitFor(t, 2*time.Second, "reconnect after heartbeat timeout", func() bool {
		return d.dialCount() >= 2
	})
}

func TestPongKeepsConnectionAlive(t *testing.T) {
	c, d := newTestClient(t, func(cfg *RealtimeConfig) {
		cfg.HeartbeatInterval = 5 * time.Millisecond
		cfg.PongTimeout = 25 * time.Millisecond
	})
	mustConnect(t, c)
	defer c.Disconnect()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				d.conn(0).deliver(`{"type":"pong"}`)
			}
		}
	}()

	time.Sleep(100 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Fatalf("connection was dropped despite pongs: %d dials", d.dialCount())
	}
	if !c.IsConnected() {
		t.Fatal("expected connection to stay open")
	}
}

// ============================================================================
// Subscriptions through the facade
// ============================================================================

func TestSubscribeReceivesMessages(t *testing.T) {
	c, d := newTestClient(t, nil)
	mustConnect(t, c)

	var got []Message
	unsub := c.Subscribe("chat-view", KindMessage, func(ev Event) {
		got = append(got, *ev.Message)
	})
	defer unsub()

	for i := 1; i <= 3; i++ {
		d.conn(0).deliver(fmt.Sprintf(
			`{"type":"message","message":{"id":%d,"conversation_id":7,"sender_id":2,"content":"m%d","created_at":"2026-08-25T10:00:0%dZ"}}`,
			i, i, i))
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, m := range got {
		if m.ID != int64(i+1) {
			t.Fatalf("messages delivered out of order: %+v", got)
		}
	}

	buffered := c.RecentMessages(7)
	if len(buffered) != 3 || buffered[0].Content != "m1" || buffered[2].Content != "m3" {
		t.Fatalf("unexpected buffer contents: %+v", buffered)
	}
}

func TestSubscriptionsSurviveReconnect(t *testing.T) {
	c, d := newTestClient(t, nil)
	mustConnect(t, c)

	calls := 0
	c.Subscribe("sticky", KindUserStatus, func(Event) { calls++ })

	d.conn(0).drop()
	waitFor(t, 2*time.Second, "reconnect", func() bool { return c.IsConnected() && d.dialCount() >= 2 })

	d.conn(-1).deliver(`{"type":"user_status","user_id":1,"status":"online"}`)
	if calls != 1 {
		t.Fatalf("subscription lost across reconnect: %d calls", calls)
	}
}
