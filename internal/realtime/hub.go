package realtime

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/playrhq/messaging-service/internal/models"
)

const presenceTTL = 60 * time.Second

// Hub attaches websocket clients to the Bus and tracks presence in Redis so
// other components (and other nodes) can tell whether a recipient has a live
// session. It is the delivery target for the kafka consumer.
type Hub struct {
	bus *Bus
	rdb *redis.Client
	log *zap.SugaredLogger
}

func NewHub(bus *Bus, rdb *redis.Client, log *zap.SugaredLogger) *Hub {
	return &Hub{bus: bus, rdb: rdb, log: log}
}

func (h *Hub) Bus() *Bus { return h.bus }

// Deliver routes an event from the backbone to local subscribers.
func (h *Hub) Deliver(ev models.Event) {
	h.bus.Publish(ev, ev.Audience...)
}

// SetOnline refreshes the presence key for a connected user.
func (h *Hub) SetOnline(ctx context.Context, userID string) {
	if h.rdb == nil {
		return
	}
	if err := h.rdb.Set(ctx, "presence:"+userID, "online", presenceTTL).Err(); err != nil {
		h.log.Warnw("presence set", "user_id", userID, "err", err)
	}
}

// SetOffline clears the presence key when the last connection drops.
func (h *Hub) SetOffline(ctx context.Context, userID string) {
	if h.rdb == nil {
		return
	}
	if h.bus.Subscribers(userID) > 0 {
		return
	}
	if err := h.rdb.Del(ctx, "presence:"+userID).Err(); err != nil {
		h.log.Warnw("presence del", "user_id", userID, "err", err)
	}
}

// Online reports whether the user has a live session on any node. Local
// subscriptions answer without touching Redis.
func (h *Hub) Online(ctx context.Context, userID string) bool {
	if h.bus.Subscribers(userID) > 0 {
		return true
	}
	if h.rdb == nil {
		return false
	}
	val, err := h.rdb.Get(ctx, "presence:"+userID).Result()
	return err == nil && val == "online"
}
