package campuslink

import (
	"encoding/json"
	"sync"
	"time"
)

// ============================================================================
// Event kinds and subscriber callbacks
// ============================================================================

// EventKind selects which category of inbound frames a subscriber receives.
type EventKind string

const (
	KindMessage     EventKind = "message"
	KindTyping      EventKind = "typing"
	KindUserStatus  EventKind = "user_status"
	KindReadReceipt EventKind = "read_receipt"
	KindError       EventKind = "error"
)

// Event is the tagged union handed to subscribers. Exactly one payload field
// matching Kind is non-nil.
type Event struct {
	Kind        EventKind
	Message     *Message
	Typing      *TypingFrame
	UserStatus  *UserStatusFrame
	ReadReceipt *ReadReceiptFrame
	Err         *ErrorFrame
}

// Handler is a subscriber callback. Handlers run synchronously on the read
// goroutine in frame-arrival order; a slow handler delays everything behind
// it.
type Handler func(Event)

type subKey struct {
	id   string
	kind EventKind
}

// ============================================================================
// Message ring buffer
// ============================================================================

// messageRing keeps the most recent messages per conversation in a fixed
// circular buffer, oldest overwritten first.
type messageRing struct {
	size    int
	buffers map[int64]*convRing
}

type convRing struct {
	items []Message
	pos   int
	count int
}

func newMessageRing(size int) *messageRing {
	return &messageRing{size: size, buffers: make(map[int64]*convRing)}
}

func (r *messageRing) add(m Message) {
	rb, ok := r.buffers[m.ConversationID]
	if !ok {
		rb = &convRing{items: make([]Message, r.size)}
		r.buffers[m.ConversationID] = rb
	}
	rb.items[rb.pos] = m
	rb.pos = (rb.pos + 1) % r.size
	if rb.count < r.size {
		rb.count++
	}
}

// get returns the buffered messages in chronological order, oldest first.
func (r *messageRing) get(conversationID int64) []Message {
	rb, ok := r.buffers[conversationID]
	if !ok {
		return nil
	}
	out := make([]Message, rb.count)
	start := (rb.pos - rb.count + r.size) % r.size
	for i := 0; i < rb.count; i++ {
		out[i] = rb.items[(start+i)%r.size]
	}
	return out
}

// ============================================================================
// Event Router
// ============================================================================

// router decodes inbound frames, maintains the derived shared state (online
// users, per-conversation typing sets, recent-message buffer) and fans events
// out to subscribers. Decode failures are logged and swallowed so a bad
// payload can never take down the connection.
type router struct {
	logger    Logger
	typingTTL time.Duration
	onPong    func()
	now       func() time.Time

	mu     sync.RWMutex
	online map[int64]struct{}
	typing map[int64]map[int64]time.Time
	buffer *messageRing
	subs   map[subKey]Handler
}

func newRouter(logger Logger, bufferSize int, typingTTL time.Duration) *router {
	return &router{
		logger:    logger,
		typingTTL: typingTTL,
		now:       time.Now,
		online:    make(map[int64]struct{}),
		typing:    make(map[int64]map[int64]time.Time),
		buffer:    newMessageRing(bufferSize),
		subs:      make(map[subKey]Handler),
	}
}

// dispatch processes one raw inbound frame. Called from the transport read
// goroutine only, so events are handled strictly in arrival order.
func (r *router) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("dropping malformed frame", map[string]any{"error": err.Error()})
		return
	}

	switch env.Type {
	case frameMessage:
		var f MessageFrame
		if err := json.Unmarshal(env.Raw, &f); err != nil {
			r.logger.Warn("dropping malformed message frame", map[string]any{"error": err.Error()})
			return
		}
		r.mu.Lock()
		r.buffer.add(f.Message)
		r.mu.Unlock()
		r.fanOut(Event{Kind: KindMessage, Message: &f.Message})

	case frameTyping:
		var f TypingFrame
		if err := json.Unmarshal(env.Raw, &f); err != nil {
			r.logger.Warn("dropping malformed typing frame", map[string]any{"error": err.Error()})
			return
		}
		r.mu.Lock()
		if f.IsTyping {
			set, ok := r.typing[f.ConversationID]
			if !ok {
				set = make(map[int64]time.Time)
				r.typing[f.ConversationID] = set
			}
			set[f.UserID] = r.now()
		} else if set, ok := r.typing[f.ConversationID]; ok {
			delete(set, f.UserID)
			if len(set) == 0 {
				delete(r.typing, f.ConversationID)
			}
		}
		r.mu.Unlock()
		r.fanOut(Event{Kind: KindTyping, Typing: &f})

	case frameUserStatus:
		var f UserStatusFrame
		if err := json.Unmarshal(env.Raw, &f); err != nil {
			r.logger.Warn("dropping malformed user_status frame", map[string]any{"error": err.Error()})
			return
		}
		r.mu.Lock()
		if f.Status == StatusOnline {
			r.online[f.UserID] = struct{}{}
		} else {
			delete(r.online, f.UserID)
		}
		r.mu.Unlock()
		r.fanOut(Event{Kind: KindUserStatus, UserStatus: &f})

	case frameReadReceipt:
		var f ReadReceiptFrame
		if err := json.Unmarshal(env.Raw, &f); err != nil {
			r.logger.Warn("dropping malformed read_receipt frame", map[string]any{"error": err.Error()})
			return
		}
		r.fanOut(Event{Kind: KindReadReceipt, ReadReceipt: &f})

	case framePong:
		if r.onPong != nil {
			r.onPong()
		}

	case frameError:
		var f ErrorFrame
		if err := json.Unmarshal(env.Raw, &f); err != nil {
			r.logger.Warn("dropping malformed error frame", map[string]any{"error": err.Error()})
			return
		}
		r.logger.Warn("server error", map[string]any{"message": f.Message})
		r.fanOut(Event{Kind: KindError, Err: &f})

	default:
		// Unknown future event kinds are tolerated.
		r.logger.Debug("ignoring unrecognized frame type", map[string]any{"type": env.Type})
	}
}

func (r *router) fanOut(ev Event) {
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.subs))
	for key, h := range r.subs {
		if key.kind == ev.Kind {
			handlers = append(handlers, h)
		}
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		invoke(h, ev)
	}
}

// invoke shields the read loop from panicking subscriber callbacks.
func invoke(h Handler, ev Event) {
	defer func() { recover() }()
	h(ev)
}

// subscribe registers a callback and returns its unsubscribe capability.
// A duplicate (id, kind) registration replaces the previous callback.
func (r *router) subscribe(id string, kind EventKind, h Handler) func() {
	r.mu.Lock()
	r.subs[subKey{id: id, kind: kind}] = h
	r.mu.Unlock()
	return func() { r.unsubscribe(id, kind) }
}

func (r *router) unsubscribe(id string, kind EventKind) {
	r.mu.Lock()
	delete(r.subs, subKey{id: id, kind: kind})
	r.mu.Unlock()
}

// clearLiveState empties the presence set and typing index. Called whenever
// the connection is lost: unknown is safer than stale-online. Subscriptions
// and the message buffer survive reconnects.
func (r *router) clearLiveState() {
	r.mu.Lock()
	r.online = make(map[int64]struct{})
	r.typing = make(map[int64]map[int64]time.Time)
	r.mu.Unlock()
}

func (r *router) isUserOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.online[userID]
	return ok
}

func (r *router) onlineUsers() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int64, 0, len(r.online))
	for id := range r.online {
		out = append(out, id)
	}
	return out
}

// typingUsers returns who is typing in a conversation. Entries older than
// the TTL are pruned here rather than by a background timer, so disconnect
// never has a typing timer to cancel.
func (r *router) typingUsers(conversationID int64) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.typing[conversationID]
	if !ok {
		return nil
	}
	cutoff := time.Time{}
	if r.typingTTL > 0 {
		cutoff = r.now().Add(-r.typingTTL)
	}
	out := make([]int64, 0, len(set))
	for id, at := range set {
		if !cutoff.IsZero() && at.Before(cutoff) {
			delete(set, id)
			continue
		}
		out = append(out, id)
	}
	if len(set) == 0 {
		delete(r.typing, conversationID)
	}
	return out
}

func (r *router) recentMessages(conversationID int64) []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buffer.get(conversationID)
}
