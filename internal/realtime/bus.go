package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/playrhq/messaging-service/internal/metrics"
	"github.com/playrhq/messaging-service/internal/models"
)

// Bus fans events out to subscribed sessions, keyed by user id. Delivery is
// at-least-once: the same event can reach a subscriber twice (local publish
// plus the kafka replay), so consumers dedupe on Event.Key. A subscriber that
// stops draining its channel is closed rather than blocking the publisher;
// the session's polling fallback then restores correctness.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	log    *zap.SugaredLogger
}

type Subscription struct {
	C      <-chan models.Event
	ch     chan models.Event
	userID string
	bus    *Bus
	once   sync.Once
}

func NewBus(buffer int, log *zap.SugaredLogger) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		log:    log,
	}
}

func (b *Bus) Subscribe(userID string) *Subscription {
	ch := make(chan models.Event, b.buffer)
	s := &Subscription{C: ch, ch: ch, userID: userID, bus: b}
	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[*Subscription]struct{})
	}
	b.subs[userID][s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.ch)
	})
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.userID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.userID)
		}
	}
}

// Publish delivers ev to every live subscription of the listed users.
func (b *Bus) Publish(ev models.Event, userIDs ...string) {
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	var slow []*Subscription
	b.mu.RLock()
	for _, uid := range userIDs {
		for s := range b.subs[uid] {
			select {
			case s.ch <- ev:
			default:
				slow = append(slow, s)
			}
		}
	}
	b.mu.RUnlock()
	for _, s := range slow {
		b.log.Warnw("dropping slow realtime subscriber", "user_id", s.userID)
		s.Close()
	}
}

// Subscribers reports how many live subscriptions the user has.
func (b *Bus) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}
