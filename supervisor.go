package campuslink

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// RFC 6455 close codes used when the supervisor tears down a transport.
const (
	closeNormal    = 1000
	closeGoingAway = 1001
)

// ============================================================================
// Connection state
// ============================================================================

// ConnState represents the current state of the realtime connection.
type ConnState int

const (
	// StateIdle means no connection exists and none is being attempted.
	StateIdle ConnState = iota

	// StateConnecting means a connection attempt is in flight.
	StateConnecting

	// StateOpen means the connection is established and usable.
	StateOpen

	// StateClosing means a caller-initiated teardown is in progress.
	StateClosing

	// StateReconnectPending means the connection was lost and a retry
	// timer is armed.
	StateReconnectPending
)

// String returns the string representation of a ConnState.
func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnectPending:
		return "reconnect_pending"
	default:
		return "unknown"
	}
}

// ============================================================================
// Connection Supervisor
// ============================================================================

// supervisor owns the single live Transport, the reconnect backoff cycle and
// the heartbeat timer. Every teardown bumps the generation counter; timer and
// transport callbacks carry the generation they were created under and are
// dropped when it no longer matches, so a stale handle can never act on a
// newer connection.
type supervisor struct {
	dial   Dialer
	url    func() (string, error)
	router *router
	logger Logger

	handshakeTimeout  time.Duration
	writeTimeout      time.Duration
	heartbeatInterval time.Duration
	pongTimeout       time.Duration
	reconnectBase     time.Duration
	reconnectMax      time.Duration
	maxAttempts       int

	onConnected    func()
	onDisconnected func(code int, reason string)
	onReconnecting func(attempt int, delay time.Duration)
	onGaveUp       func()

	mu               sync.Mutex
	state            ConnState
	transport        Transport
	gen              uint64
	attempt          int
	intentionalClose bool
	reconnectTimer   *time.Timer
	heartbeatStop    chan struct{}
	lastPong         time.Time
}

func newSupervisor(cfg *RealtimeConfig, url func() (string, error), r *router) *supervisor {
	s := &supervisor{
		dial:              cfg.Dialer,
		url:               url,
		router:            r,
		logger:            cfg.Logger,
		handshakeTimeout:  cfg.HandshakeTimeout,
		writeTimeout:      cfg.WriteTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		pongTimeout:       cfg.PongTimeout,
		reconnectBase:     cfg.ReconnectBaseDelay,
		reconnectMax:      cfg.ReconnectMaxDelay,
		maxAttempts:       cfg.MaxReconnectAttempts,
		state:             StateIdle,
	}
	r.onPong = s.markPong
	return s
}

// connEvents binds a Transport's callbacks to the generation it was dialed
// under.
type connEvents struct {
	s   *supervisor
	gen uint64
}

func (e connEvents) OnMessage(data []byte) { e.s.handleMessage(e.gen, data) }
func (e connEvents) OnClose(code int, reason string) {
	e.s.handleClose(e.gen, code, reason, nil)
}
func (e connEvents) OnTransportError(err error) { e.s.handleClose(e.gen, 0, "", err) }

// connect dials the endpoint and blocks until the connection is open or the
// attempt has failed. Calling while open or connecting is a no-op. A dial
// failure still arms the reconnect cycle before the error is returned.
func (s *supervisor) connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateOpen || s.state == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	rawURL, err := s.url()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.intentionalClose = false
	s.attempt = 0
	s.state = StateConnecting
	gen := s.gen
	s.mu.Unlock()

	tr, err := s.dialOnce(ctx, rawURL, gen)
	if err != nil {
		s.handleClose(gen, 0, "", err)
		return err
	}
	if !s.adoptTransport(gen, tr) {
		return newError(ErrorConnection, "connection attempt cancelled")
	}
	return nil
}

func (s *supervisor) dialOnce(ctx context.Context, rawURL string, gen uint64) (Transport, error) {
	if s.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.handshakeTimeout)
		defer cancel()
	}
	return s.dial(ctx, rawURL, connEvents{s: s, gen: gen})
}

// adoptTransport installs a freshly dialed transport unless the supervisor
// moved on (disconnect or a newer connection) while the dial was in flight.
func (s *supervisor) adoptTransport(gen uint64, tr Transport) bool {
	s.mu.Lock()
	if gen != s.gen || s.intentionalClose {
		s.mu.Unlock()
		_ = tr.Close(closeNormal, "superseded")
		return false
	}
	s.transport = tr
	s.attempt = 0
	s.lastPong = time.Now()
	s.state = StateOpen
	stop := make(chan struct{})
	s.heartbeatStop = stop
	onConnected := s.onConnected
	s.mu.Unlock()

	s.logger.Info("connection open", nil)
	go s.heartbeatLoop(gen, stop, tr)
	if onConnected != nil {
		onConnected()
	}
	return true
}

// disconnect tears everything down from any state: pending reconnect timer,
// heartbeat, and the live transport. The supervisor always ends up idle with
// no armed timers.
func (s *supervisor) disconnect() error {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.intentionalClose = true
	tr := s.transport
	s.teardownLocked()
	s.state = StateClosing
	onDisconnected := s.onDisconnected
	s.mu.Unlock()

	s.router.clearLiveState()

	var err error
	if tr != nil {
		err = tr.Close(closeNormal, "client disconnect")
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	if onDisconnected != nil {
		onDisconnected(closeNormal, "client disconnect")
	}
	return err
}

// send hands one encoded frame to the open transport. Callers that treat
// delivery as optional check for ErrNotConnected.
func (s *supervisor) send(data []byte) error {
	s.mu.Lock()
	if s.state != StateOpen || s.transport == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	tr := s.transport
	s.mu.Unlock()

	ctx := context.Background()
	var cancel context.CancelFunc
	if s.writeTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}
	return tr.Send(ctx, data)
}

func (s *supervisor) currentState() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *supervisor) markPong() {
	s.mu.Lock()
	s.lastPong = time.Now()
	s.mu.Unlock()
}

func (s *supervisor) handleMessage(gen uint64, data []byte) {
	s.mu.Lock()
	live := gen == s.gen
	s.mu.Unlock()
	if !live {
		return
	}
	s.router.dispatch(data)
}

// handleClose is the single funnel for connection loss: transport errors,
// abnormal closes, dial failures and heartbeat timeouts all land here. It
// either arms the next reconnect attempt or gives up after the cap.
func (s *supervisor) handleClose(gen uint64, code int, reason string, cause error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	intentional := s.intentionalClose
	s.teardownLocked()

	if intentional {
		s.state = StateIdle
		s.mu.Unlock()
		return
	}

	if cause != nil {
		s.logger.Warn("connection lost", map[string]any{"error": cause.Error()})
		if reason == "" {
			reason = cause.Error()
		}
	} else {
		s.logger.Warn("connection closed", map[string]any{"code": code, "reason": reason})
	}

	if s.attempt >= s.maxAttempts {
		s.state = StateIdle
		onDisconnected := s.onDisconnected
		onGaveUp := s.onGaveUp
		s.mu.Unlock()

		s.router.clearLiveState()
		s.logger.Warn("reconnect attempts exhausted, not retrying", map[string]any{"attempts": s.maxAttempts})
		if onDisconnected != nil {
			onDisconnected(code, reason)
		}
		if onGaveUp != nil {
			onGaveUp()
		}
		return
	}

	delay := s.backoffDelay(s.attempt)
	attempt := s.attempt
	s.attempt++
	s.state = StateReconnectPending
	timerGen := s.gen
	s.reconnectTimer = time.AfterFunc(delay, func() { s.reconnectFire(timerGen) })
	onDisconnected := s.onDisconnected
	onReconnecting := s.onReconnecting
	s.mu.Unlock()

	s.router.clearLiveState()
	if onDisconnected != nil {
		onDisconnected(code, reason)
	}
	if onReconnecting != nil {
		onReconnecting(attempt+1, delay)
	}
}

// backoffDelay returns base * 2^n, clamped to the configured maximum.
func (s *supervisor) backoffDelay(n int) time.Duration {
	if n > 30 {
		n = 30
	}
	d := s.reconnectBase << uint(n)
	if d <= 0 || (s.reconnectMax > 0 && d > s.reconnectMax) {
		d = s.reconnectMax
	}
	return d
}

func (s *supervisor) reconnectFire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateReconnectPending || s.intentionalClose {
		s.mu.Unlock()
		return
	}
	s.reconnectTimer = nil
	rawURL, err := s.url()
	if err != nil {
		// Token went away while waiting; resuming needs an explicit
		// connect after re-authentication.
		s.state = StateIdle
		s.mu.Unlock()
		s.logger.Warn("reconnect aborted", map[string]any{"error": err.Error()})
		return
	}
	s.state = StateConnecting
	s.mu.Unlock()

	tr, err := s.dialOnce(context.Background(), rawURL, gen)
	if err != nil {
		s.handleClose(gen, 0, "", err)
		return
	}
	s.adoptTransport(gen, tr)
}

// teardownLocked invalidates the current generation and stops everything the
// supervisor owns. Must be called with s.mu held.
func (s *supervisor) teardownLocked() {
	s.gen++
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
	s.transport = nil
}

func (s *supervisor) heartbeatLoop(gen uint64, stop chan struct{}, tr Transport) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	ping, _ := json.Marshal(pingFrame{Type: framePing})

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if gen != s.gen || s.state != StateOpen {
				s.mu.Unlock()
				return
			}
			last := s.lastPong
			s.mu.Unlock()

			if s.pongTimeout > 0 && time.Since(last) > s.pongTimeout {
				s.logger.Warn("heartbeat timeout, dropping connection", nil)
				_ = tr.Close(closeGoingAway, "heartbeat timeout")
				s.handleClose(gen, closeGoingAway, "heartbeat timeout", nil)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
			err := tr.Send(ctx, ping)
			cancel()
			if err != nil {
				s.logger.Warn("heartbeat send failed", map[string]any{"error": err.Error()})
				_ = tr.Close(closeGoingAway, "heartbeat failed")
				s.handleClose(gen, closeGoingAway, "heartbeat failed", err)
				return
			}
		}
	}
}
