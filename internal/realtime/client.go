package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/playrhq/messaging-service/internal/metrics"
	"github.com/playrhq/messaging-service/internal/models"
)

// Envelope is the wire format for both directions of the websocket.
type Envelope struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	From           string          `json:"from,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// ClientOptions carries the connection tuning knobs from config.
type ClientOptions struct {
	PingInterval   time.Duration
	WriteDeadline  time.Duration
	MaxMessageSize int64
	InboundRPS     int
}

// Client pumps one websocket connection: bus events out, transient envelopes
// (typing) in. It owns its bus subscription for the lifetime of the socket.
type Client struct {
	conn    *websocket.Conn
	sub     *Subscription
	hub     *Hub
	userID  string
	limiter *rate.Limiter
	// publish emits transient events (typing) onto the same fan-out path as
	// store-driven events.
	publish func(context.Context, models.Event)
	// resolve returns the audience for a conversation-scoped envelope,
	// erroring when the user is not a participant.
	resolve func(ctx context.Context, conversationID, userID string) ([]string, error)
	opts    ClientOptions
	log     *zap.SugaredLogger
}

func NewClient(
	conn *websocket.Conn,
	hub *Hub,
	userID string,
	publish func(context.Context, models.Event),
	resolve func(ctx context.Context, conversationID, userID string) ([]string, error),
	opts ClientOptions,
	log *zap.SugaredLogger,
) *Client {
	if opts.InboundRPS <= 0 {
		opts.InboundRPS = 10
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.WriteDeadline <= 0 {
		opts.WriteDeadline = 10 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	return &Client{
		conn:    conn,
		hub:     hub,
		userID:  userID,
		limiter: rate.NewLimiter(rate.Limit(opts.InboundRPS), opts.InboundRPS),
		publish: publish,
		resolve: resolve,
		opts:    opts,
		log:     log,
	}
}

// Run blocks until the connection drops or the subscription is closed.
func (c *Client) Run(ctx context.Context) {
	c.sub = c.hub.Bus().Subscribe(c.userID)
	c.hub.SetOnline(ctx, c.userID)
	metrics.WSConnections.Inc()
	defer func() {
		c.sub.Close()
		c.hub.SetOffline(ctx, c.userID)
		metrics.WSConnections.Dec()
		_ = c.conn.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump(ctx)
	<-done
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-c.sub.C:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "resubscribe"),
					time.Now().Add(c.opts.WriteDeadline))
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			env := Envelope{
				Type:           string(ev.Type),
				ConversationID: ev.ConversationID,
				From:           ev.ActorID,
				Payload:        payload,
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteDeadline))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			continue
		}
		c.hub.SetOnline(ctx, c.userID)

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case string(models.EventTypingStart), string(models.EventTypingStop):
			c.relayTyping(ctx, env)
		default:
			// unknown inbound types are ignored; the socket is a push
			// channel, commands go through the HTTP API
		}
	}
}

func (c *Client) relayTyping(ctx context.Context, env Envelope) {
	if env.ConversationID == "" {
		return
	}
	audience, err := c.resolve(ctx, env.ConversationID, c.userID)
	if err != nil {
		return
	}
	// the sender does not need its own typing echo
	peers := audience[:0:0]
	for _, uid := range audience {
		if uid != c.userID {
			peers = append(peers, uid)
		}
	}
	c.publish(ctx, models.Event{
		Type:           models.EventType(env.Type),
		ConversationID: env.ConversationID,
		ActorID:        c.userID,
		At:             time.Now().UTC(),
		Audience:       peers,
	})
}
