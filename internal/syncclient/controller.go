package syncclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/playrhq/messaging-service/internal/apperrors"
	"github.com/playrhq/messaging-service/internal/models"
)

// Backend is the authoritative server surface the controller reconciles
// against. ChatService implements it.
type Backend interface {
	SendMessage(ctx context.Context, conversationID, senderID, body, idempotencyKey string) (*models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) int64
}

// State is the lifecycle of an outbound message as this session sees it.
type State int

const (
	// StateSent is the optimistic client-only state: the message is on
	// screen but has no server id yet.
	StateSent State = iota
	// StatePersisted means the server acknowledged the append; the id may
	// belong to a pre-existing row resolved via the idempotency key.
	StatePersisted
	// StateDelivered means the fan-out reached subscribers (we observed our
	// own echo on the realtime channel).
	StateDelivered
	// StateRead is terminal: the recipient marked the conversation read.
	StateRead
	// StateFailed is terminal: retries were exhausted; the UI offers a
	// manual retry which reuses the same idempotency key.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StatePersisted:
		return "persisted"
	case StateDelivered:
		return "delivered"
	case StateRead:
		return "read"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Outbound is one in-flight or settled send, keyed by its correlation id.
// The correlation id doubles as the idempotency key, so a manual retry of a
// Failed entry can never duplicate the message.
type Outbound struct {
	CorrelationID  string
	ConversationID string
	Body           string
	State          State
	ServerID       string
	Err            error
}

const seenCap = 1024

// Controller is the per-session sync state machine. Optimistic deltas are
// hints layered over the last authoritative value; whenever an authoritative
// response or poll arrives, it wins and the hints are discarded.
type Controller struct {
	backend     Backend
	userID      string
	events      <-chan models.Event
	invalidate  func(ctx context.Context, userID string)
	poll        time.Duration
	attempts    int
	backoffBase time.Duration
	log         *zap.SugaredLogger

	mu         sync.Mutex
	outbox     map[string]*Outbound
	seen       map[string]struct{}
	seenOrder  []string
	unread     int64
	convUnread map[string]int64
	tokenSeq   uint64
	// latestReadToken tracks the newest markRead issued per conversation;
	// responses carrying an older token are stale and discarded.
	latestReadToken map[string]uint64
	pendingReads    int
}

type Options struct {
	Backend Backend
	UserID  string
	Events  <-chan models.Event
	// Invalidate, when set, drops the session-visible cache entry for the
	// user's unread count (the aggregator's Invalidate).
	Invalidate   func(ctx context.Context, userID string)
	PollInterval time.Duration
	// WriteAttempts bounds the automatic retry of sends and reads.
	WriteAttempts int
	BackoffBase   time.Duration
	Log           *zap.SugaredLogger
}

func New(opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.WriteAttempts <= 0 {
		opts.WriteAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 100 * time.Millisecond
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	return &Controller{
		backend:         opts.Backend,
		userID:          opts.UserID,
		events:          opts.Events,
		invalidate:      opts.Invalidate,
		poll:            opts.PollInterval,
		attempts:        opts.WriteAttempts,
		backoffBase:     opts.BackoffBase,
		log:             opts.Log,
		outbox:          make(map[string]*Outbound),
		seen:            make(map[string]struct{}),
		convUnread:      make(map[string]int64),
		latestReadToken: make(map[string]uint64),
	}
}

// Run processes pushed events and drives the polling fallback until ctx is
// cancelled. If the push channel is closed (dropped as a slow consumer), the
// poll alone keeps the session eventually correct.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	events := c.events
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.OnEvent(ctx, ev)
		case <-ticker.C:
			c.Poll(ctx)
		}
	}
}

// Send applies the optimistic Sent state immediately and persists in the
// background. The returned snapshot is safe to render on the same tick.
func (c *Controller) Send(ctx context.Context, conversationID, body string) Outbound {
	ob := &Outbound{
		CorrelationID:  uuid.NewString(),
		ConversationID: conversationID,
		Body:           body,
		State:          StateSent,
	}
	c.mu.Lock()
	c.outbox[ob.CorrelationID] = ob
	snapshot := *ob
	c.mu.Unlock()
	go c.runSend(ctx, ob.CorrelationID)
	return snapshot
}

// Retry re-issues a Failed send with its original idempotency key.
func (c *Controller) Retry(ctx context.Context, correlationID string) bool {
	c.mu.Lock()
	ob, ok := c.outbox[correlationID]
	if !ok || ob.State != StateFailed {
		c.mu.Unlock()
		return false
	}
	ob.State = StateSent
	ob.Err = nil
	c.mu.Unlock()
	go c.runSend(ctx, correlationID)
	return true
}

func (c *Controller) runSend(ctx context.Context, correlationID string) {
	c.mu.Lock()
	ob, ok := c.outbox[correlationID]
	if !ok {
		c.mu.Unlock()
		return
	}
	convID, body := ob.ConversationID, ob.Body
	c.mu.Unlock()

	var msg *models.Message
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var err error
		msg, err = c.backend.SendMessage(ctx, convID, c.userID, body, correlationID)
		return err
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	ob, ok = c.outbox[correlationID]
	if !ok {
		return
	}
	if err != nil {
		if ob.State == StateSent {
			ob.State = StateFailed
			ob.Err = err
		}
		return
	}
	// the server id may belong to a pre-existing row if a network retry
	// raced us; it substitutes the optimistic entry either way
	ob.ServerID = msg.ID
	if ob.State == StateSent {
		ob.State = StatePersisted
	}
}

// MarkRead applies the optimistic badge decrement before the network call and
// reconciles (or rolls back) when the authoritative answer lands. A newer
// MarkRead for the same conversation supersedes older in-flight ones: their
// responses are discarded by token.
func (c *Controller) MarkRead(ctx context.Context, conversationID string) {
	c.mu.Lock()
	c.tokenSeq++
	token := c.tokenSeq
	c.latestReadToken[conversationID] = token
	delta := c.convUnread[conversationID]
	c.convUnread[conversationID] = 0
	c.unread -= delta
	if c.unread < 0 {
		c.unread = 0
	}
	c.pendingReads++
	c.mu.Unlock()
	go c.runMarkRead(ctx, conversationID, token, delta)
}

func (c *Controller) runMarkRead(ctx context.Context, conversationID string, token uint64, delta int64) {
	var marked int64
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var err error
		marked, err = c.backend.MarkConversationRead(ctx, conversationID, c.userID)
		return err
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingReads--
	if c.latestReadToken[conversationID] != token {
		// superseded by a newer markRead; that request owns the state now
		return
	}
	if err != nil {
		c.log.Warnw("mark read failed, rolling back decrement",
			"conversation_id", conversationID, "err", err)
		c.convUnread[conversationID] += delta
		c.unread += delta
		return
	}
	if c.invalidate != nil {
		c.invalidate(ctx, c.userID)
	}
	// server counted `marked` transitions; replace our guess with it
	c.unread += delta - marked
	if c.unread < 0 {
		c.unread = 0
	}
}

// OnEvent reconciles a pushed event. Duplicates (at-least-once delivery, or
// the kafka replay of a locally published event) are no-ops.
func (c *Controller) OnEvent(ctx context.Context, ev models.Event) {
	c.mu.Lock()
	if _, dup := c.seen[ev.Key()]; dup {
		c.mu.Unlock()
		return
	}
	c.remember(ev.Key())

	switch ev.Type {
	case models.EventMessageInserted:
		if ev.ActorID == c.userID {
			// echo of our own send: the fan-out reached subscribers
			if ob, ok := c.outbox[ev.CorrelationID]; ok && ob.State <= StatePersisted {
				ob.State = StateDelivered
				ob.ServerID = ev.MessageID
			}
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		// a peer message changes our badge; the event is a hint, the count
		// is re-fetched authoritatively
		if c.invalidate != nil {
			c.invalidate(ctx, c.userID)
		}
		c.refreshUnread(ctx, ev.ConversationID, true)
	case models.EventMessageRead:
		if ev.ActorID == c.userID {
			// another session of this user marked the conversation read
			if c.latestReadToken[ev.ConversationID] != 0 && c.convUnread[ev.ConversationID] == 0 {
				// our own optimistic state already accounts for it
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
			if c.invalidate != nil {
				c.invalidate(ctx, c.userID)
			}
			c.refreshUnread(ctx, ev.ConversationID, false)
			return
		}
		// the peer read our messages
		for _, ob := range c.outbox {
			if ob.ConversationID == ev.ConversationID &&
				(ob.State == StatePersisted || ob.State == StateDelivered) {
				ob.State = StateRead
			}
		}
		c.mu.Unlock()
	case models.EventConversationCreated:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
	}
}

// refreshUnread replaces the local badge with the authoritative value and
// rebuilds the per-conversation hint for convID when trackConv is set.
func (c *Controller) refreshUnread(ctx context.Context, convID string, trackConv bool) {
	n := c.backend.UnreadCount(ctx, c.userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingReads > 0 {
		// an optimistic decrement is in flight; let its reconciliation win
		return
	}
	if trackConv && convID != "" {
		c.convUnread[convID]++
	}
	c.unread = n
}

// Poll is the bounded fallback that guarantees eventual correctness when push
// delivery is missed entirely.
func (c *Controller) Poll(ctx context.Context) {
	n := c.backend.UnreadCount(ctx, c.userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingReads > 0 {
		return
	}
	c.unread = n
}

// Unread is the badge value for this session. Never negative.
func (c *Controller) Unread() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unread < 0 {
		return 0
	}
	return c.unread
}

// Outbox returns a snapshot of one outbound entry.
func (c *Controller) Outbox(correlationID string) (Outbound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ob, ok := c.outbox[correlationID]
	if !ok {
		return Outbound{}, false
	}
	return *ob, true
}

func (c *Controller) remember(key string) {
	c.seen[key] = struct{}{}
	c.seenOrder = append(c.seenOrder, key)
	if len(c.seenOrder) > seenCap {
		evict := c.seenOrder[0]
		c.seenOrder = c.seenOrder[1:]
		delete(c.seen, evict)
	}
}

func (c *Controller) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	delay := c.backoffBase
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !apperrors.Retryable(err) {
			return err
		}
	}
	return err
}
