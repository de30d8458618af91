package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/playrhq/messaging-service/internal/metrics"
)

// Store is the raw key/value backing for the cache layer. The memory store is
// the default; the Redis store carries the same contract across nodes.
type Store interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Layer adds TTL semantics and request coalescing on top of a Store.
// Concurrent callers asking for the same key while a fetch is in flight share
// the single fetch instead of stampeding the backend.
type Layer struct {
	store Store
	group singleflight.Group

	mu sync.Mutex
	// epochs count invalidations per key; a fetch that started before an
	// invalidation of its key must not write its result back, or the
	// invalidation is lost for the rest of the TTL window.
	epochs map[string]uint64
	// prefixGen covers prefix invalidations, which cannot know every
	// in-flight key they affect.
	prefixGen uint64
}

func NewLayer(store Store) *Layer {
	return &Layer{store: store, epochs: make(map[string]uint64)}
}

// keyClass labels cache metrics with the first key segment ("unread",
// "convlist", ...) instead of the full key.
func keyClass(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

// Dedupe serves key from cache when the stored value is younger than ttl;
// otherwise it runs fetch once for all concurrent callers and stores the
// result. A store read error falls through to fetch rather than failing.
func (l *Layer) Dedupe(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if val, ok, err := l.store.Get(ctx, key); err == nil && ok {
		metrics.CacheHits.WithLabelValues(keyClass(key)).Inc()
		return val, nil
	}
	metrics.CacheMisses.WithLabelValues(keyClass(key)).Inc()
	l.mu.Lock()
	epoch, gen := l.epochs[key], l.prefixGen
	l.mu.Unlock()
	v, err, _ := l.group.Do(key, func() (any, error) {
		// Re-check under the flight: a racing caller may have populated the
		// key between our miss and winning the flight.
		if val, ok, err := l.store.Get(ctx, key); err == nil && ok {
			return val, nil
		}
		val, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		// If the key was invalidated while the fetch was in flight, the
		// result predates that write and must not repopulate the cache.
		l.mu.Lock()
		fresh := l.epochs[key] == epoch && l.prefixGen == gen
		l.mu.Unlock()
		if fresh {
			_ = l.store.Set(ctx, key, val, ttl)
		}
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate drops keys immediately, regardless of remaining TTL. Fetches
// already in flight for these keys complete but do not repopulate the cache.
func (l *Layer) Invalidate(ctx context.Context, keys ...string) error {
	l.mu.Lock()
	for _, k := range keys {
		l.epochs[k]++
	}
	l.mu.Unlock()
	for _, k := range keys {
		l.group.Forget(k)
	}
	return l.store.Delete(ctx, keys...)
}

// InvalidatePrefix drops every key sharing the prefix.
func (l *Layer) InvalidatePrefix(ctx context.Context, prefix string) error {
	l.mu.Lock()
	l.prefixGen++
	l.mu.Unlock()
	return l.store.DeletePrefix(ctx, prefix)
}
