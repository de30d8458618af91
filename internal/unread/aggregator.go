package unread

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/playrhq/messaging-service/internal/cache"
	"github.com/playrhq/messaging-service/internal/metrics"
	"github.com/playrhq/messaging-service/internal/repository"
)

// Aggregator serves per-user unread counts. The authoritative value is a live
// indexed count against the message log; the cache layer in front keeps the
// badge cheap between writes, and explicit invalidation keeps it honest
// relative to the user's own actions inside the TTL window.
//
// The badge never errors and never goes negative: on a store or cache failure
// the last known-good value is served instead.
type Aggregator struct {
	repo  repository.MessageRepository
	cache *cache.Layer
	ttl   time.Duration
	log   *zap.SugaredLogger

	mu       sync.RWMutex
	lastGood map[string]int64
}

func New(repo repository.MessageRepository, cacheLayer *cache.Layer, ttl time.Duration, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{
		repo:     repo,
		cache:    cacheLayer,
		ttl:      ttl,
		log:      log,
		lastGood: make(map[string]int64),
	}
}

func cacheKey(userID string) string { return "unread:" + userID }

func (a *Aggregator) Get(ctx context.Context, userID string) int64 {
	val, err := a.cache.Dedupe(ctx, cacheKey(userID), a.ttl, func(ctx context.Context) ([]byte, error) {
		metrics.UnreadQueries.Inc()
		n, err := a.repo.CountUnread(ctx, userID)
		if err != nil {
			return nil, err
		}
		return []byte(strconv.FormatInt(n, 10)), nil
	})
	if err != nil {
		a.log.Warnw("unread count fetch, serving last known-good", "user_id", userID, "err", err)
		return a.last(userID)
	}
	n, err := strconv.ParseInt(string(val), 10, 64)
	if err != nil || n < 0 {
		return a.last(userID)
	}
	a.mu.Lock()
	a.lastGood[userID] = n
	a.mu.Unlock()
	return n
}

// Invalidate drops the cached count so the next read reflects the write that
// just happened. Called synchronously from append and markRead before their
// callers' optimistic UI settles.
func (a *Aggregator) Invalidate(ctx context.Context, userID string) {
	if err := a.cache.Invalidate(ctx, cacheKey(userID)); err != nil {
		a.log.Warnw("unread invalidate", "user_id", userID, "err", err)
	}
}

func (a *Aggregator) last(userID string) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastGood[userID]
}
