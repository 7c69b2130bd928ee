package campuslink

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Outbox — queued REST fallback sends
// ============================================================================

// Outbox op status values.
const (
	OpPending = "pending"
	OpFailed  = "failed"
)

// OutboxOp is one queued message send awaiting delivery over REST.
type OutboxOp struct {
	ID             string    `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Content        string    `json:"content"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	Retries        int       `json:"retries"`
	MaxRetries     int       `json:"max_retries"`
	IdempotencyKey string    `json:"idempotency_key"`
	Error          string    `json:"error,omitempty"`
}

// OutboxOptions configures an Outbox.
type OutboxOptions struct {
	RetryLimit    int
	FlushInterval time.Duration
}

// OutboxEventHandler observes outbox lifecycle events.
type OutboxEventHandler func(event string, payload any)

// Outbox queues message sends while the realtime link and/or network are
// down and flushes them through the REST client once delivery is possible
// again. It is the degrade-gracefully half of the SendMessage contract: when
// RealtimeClient.SendMessage returns false, Enqueue guarantees the message
// eventually reaches the REST send endpoint (up to the retry limit).
//
// Events emitted: "network.online", "network.offline", "op.sent",
// "op.failed".
type Outbox struct {
	client        *Client
	logger        Logger
	retryLimit    int
	flushInterval time.Duration

	mu       sync.Mutex
	ops      map[string]*OutboxOp
	isOnline bool
	flushing bool
	stopCh   chan struct{}
	stopped  bool

	lmu       sync.RWMutex
	listeners map[string][]OutboxEventHandler
}

// NewOutbox creates an outbox backed by the given REST client.
func NewOutbox(client *Client, opts *OutboxOptions) *Outbox {
	o := &Outbox{
		client:        client,
		logger:        noopLogger{},
		retryLimit:    5,
		flushInterval: time.Second,
		ops:           make(map[string]*OutboxOp),
		isOnline:      true,
		stopCh:        make(chan struct{}),
		listeners:     make(map[string][]OutboxEventHandler),
	}
	if opts != nil {
		if opts.RetryLimit > 0 {
			o.retryLimit = opts.RetryLimit
		}
		if opts.FlushInterval > 0 {
			o.flushInterval = opts.FlushInterval
		}
	}
	return o
}

// SetLogger overrides the logger (optional).
func (o *Outbox) SetLogger(l Logger) {
	if l != nil {
		o.logger = l
	}
}

// Start launches the background flush loop.
func (o *Outbox) Start() {
	go o.flushLoop()
}

// Stop halts the background flush loop and drops listeners. Queued ops stay
// queued; a new Start on a fresh Outbox would be needed to resume.
func (o *Outbox) Stop() {
	o.mu.Lock()
	if !o.stopped {
		o.stopped = true
		close(o.stopCh)
	}
	o.mu.Unlock()

	o.lmu.Lock()
	o.listeners = make(map[string][]OutboxEventHandler)
	o.lmu.Unlock()
}

// On registers a lifecycle event handler.
func (o *Outbox) On(event string, h OutboxEventHandler) {
	o.lmu.Lock()
	o.listeners[event] = append(o.listeners[event], h)
	o.lmu.Unlock()
}

func (o *Outbox) emit(event string, payload any) {
	o.lmu.RLock()
	handlers := o.listeners[event]
	o.lmu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }()
			h(event, payload)
		}()
	}
}

// IsOnline returns the current assumed network state.
func (o *Outbox) IsOnline() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isOnline
}

// SetOnline updates the network state. Going online triggers an immediate
// flush. Typically wired to RealtimeClient.OnConnected / OnDisconnected.
func (o *Outbox) SetOnline(online bool) {
	o.mu.Lock()
	if o.isOnline == online {
		o.mu.Unlock()
		return
	}
	o.isOnline = online
	o.mu.Unlock()

	if online {
		o.emit("network.online", nil)
		go o.Flush(context.Background())
	} else {
		o.emit("network.offline", nil)
	}
}

// Enqueue queues a message send for later delivery and returns the op.
func (o *Outbox) Enqueue(conversationID int64, content string) *OutboxOp {
	id := uuid.NewString()
	op := &OutboxOp{
		ID:             id,
		ConversationID: conversationID,
		Content:        content,
		Status:         OpPending,
		CreatedAt:      time.Now(),
		MaxRetries:     o.retryLimit,
		IdempotencyKey: "sdk-" + id,
	}
	o.mu.Lock()
	o.ops[op.ID] = op
	o.mu.Unlock()
	return op
}

// PendingCount returns the number of ops still awaiting delivery.
func (o *Outbox) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, op := range o.ops {
		if op.Status == OpPending {
			n++
		}
	}
	return n
}

// Ops returns a snapshot of all queued ops, oldest first.
func (o *Outbox) Ops() []*OutboxOp {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*OutboxOp, 0, len(o.ops))
	for _, op := range o.ops {
		cp := *op
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Flush attempts delivery of every pending op, oldest first. Concurrent
// flushes coalesce into one.
func (o *Outbox) Flush(ctx context.Context) {
	o.mu.Lock()
	if o.flushing || !o.isOnline {
		o.mu.Unlock()
		return
	}
	o.flushing = true
	ready := make([]*OutboxOp, 0, len(o.ops))
	for _, op := range o.ops {
		if op.Status == OpPending {
			ready = append(ready, op)
		}
	}
	o.mu.Unlock()

	sort.Slice(ready, func(i, j int) bool { return ready[i].CreatedAt.Before(ready[j].CreatedAt) })

	for _, op := range ready {
		msg, err := o.client.Messages().Send(ctx, op.ConversationID, op.Content)
		if err != nil {
			o.nack(op.ID, err)
			continue
		}
		o.ack(op.ID)
		o.emit("op.sent", msg)
	}

	o.mu.Lock()
	o.flushing = false
	o.mu.Unlock()
}

func (o *Outbox) ack(opID string) {
	o.mu.Lock()
	delete(o.ops, opID)
	o.mu.Unlock()
}

func (o *Outbox) nack(opID string, cause error) {
	o.mu.Lock()
	op := o.ops[opID]
	var failed *OutboxOp
	if op != nil {
		op.Retries++
		op.Error = cause.Error()
		if op.Retries >= op.MaxRetries {
			op.Status = OpFailed
			cp := *op
			failed = &cp
		}
	}
	o.mu.Unlock()

	if failed != nil {
		o.logger.Warn("outbox op failed permanently", map[string]any{"op": failed.ID, "error": failed.Error})
		o.emit("op.failed", failed)
	}
}

func (o *Outbox) flushLoop() {
	ticker := time.NewTicker(o.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			if o.PendingCount() > 0 {
				o.Flush(context.Background())
			}
		}
	}
}
