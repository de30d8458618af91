package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDedupeCachesWithinTTL(t *testing.T) {
	l := NewLayer(NewMemoryStore())
	ctx := context.Background()

	var fetches int32
	fetch := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&fetches, 1)
		return []byte("2"), nil
	}

	v, err := l.Dedupe(ctx, "unread:u1", time.Minute, fetch)
	require.NoError(t, err)
	require.Equal(t, "2", string(v))

	v, err = l.Dedupe(ctx, "unread:u1", time.Minute, fetch)
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
	require.EqualValues(t, 1, atomic.LoadInt32(&fetches))
}

func TestDedupeExpires(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	l := NewLayer(store)
	ctx := context.Background()

	var fetches int32
	fetch := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&fetches, 1)
		return []byte("x"), nil
	}

	_, err := l.Dedupe(ctx, "k", 5*time.Second, fetch)
	require.NoError(t, err)

	now = now.Add(6 * time.Second)
	_, err = l.Dedupe(ctx, "k", 5*time.Second, fetch)
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&fetches))
}

func TestInvalidateBeatsTTL(t *testing.T) {
	l := NewLayer(NewMemoryStore())
	ctx := context.Background()

	calls := 0
	values := []string{"2", "1"}
	fetch := func(context.Context) ([]byte, error) {
		v := values[calls]
		calls++
		return []byte(v), nil
	}

	// t=0: fetch returns 2 and is cached for 5s
	v, err := l.Dedupe(ctx, "unread:b", 5*time.Second, fetch)
	require.NoError(t, err)
	require.Equal(t, "2", string(v))

	// a read happens, invalidating the key inside the TTL window
	require.NoError(t, l.Invalidate(ctx, "unread:b"))

	// t=2: the fresh value is served, not the stale 2
	v, err = l.Dedupe(ctx, "unread:b", 5*time.Second, fetch)
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
}

func TestInvalidateDuringInFlightFetch(t *testing.T) {
	l := NewLayer(NewMemoryStore())
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	slowFetch := func(context.Context) ([]byte, error) {
		close(started)
		<-release
		return []byte("2"), nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := l.Dedupe(ctx, "unread:b", 5*time.Second, slowFetch)
		require.NoError(t, err)
		require.Equal(t, "2", string(v))
	}()

	// a read transition lands while the count fetch is still in flight
	<-started
	require.NoError(t, l.Invalidate(ctx, "unread:b"))
	close(release)
	<-done

	// the in-flight result predates the invalidation and must not have been
	// written back; the next read fetches the post-write value
	v, err := l.Dedupe(ctx, "unread:b", 5*time.Second, func(context.Context) ([]byte, error) {
		return []byte("1"), nil
	})
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
}

func TestInvalidatePrefixDuringInFlightFetch(t *testing.T) {
	l := NewLayer(NewMemoryStore())
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := l.Dedupe(ctx, "convlist:u1:20", time.Minute, func(context.Context) ([]byte, error) {
			close(started)
			<-release
			return []byte("stale"), nil
		})
		require.NoError(t, err)
	}()

	<-started
	require.NoError(t, l.InvalidatePrefix(ctx, "convlist:u1:"))
	close(release)
	<-done

	v, err := l.Dedupe(ctx, "convlist:u1:20", time.Minute, func(context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	require.NoError(t, err)
	require.Equal(t, "fresh", string(v))
}

func TestDedupeCoalescesConcurrentFetches(t *testing.T) {
	l := NewLayer(NewMemoryStore())
	ctx := context.Background()

	var fetches int32
	release := make(chan struct{})
	fetch := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&fetches, 1)
		<-release
		return []byte("v"), nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := l.Dedupe(ctx, "hot", time.Minute, fetch)
			require.NoError(t, err)
			results[i] = string(v)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&fetches))
	for _, r := range results {
		require.Equal(t, "v", r)
	}
}

func TestInvalidatePrefix(t *testing.T) {
	store := NewMemoryStore()
	l := NewLayer(store)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "convlist:u1", []byte("a"), time.Minute))
	require.NoError(t, store.Set(ctx, "convlist:u2", []byte("b"), time.Minute))
	require.NoError(t, store.Set(ctx, "unread:u1", []byte("c"), time.Minute))

	require.NoError(t, l.InvalidatePrefix(ctx, "convlist:"))

	_, ok, err := store.Get(ctx, "convlist:u1")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = store.Get(ctx, "unread:u1")
	require.NoError(t, err)
	require.True(t, ok)
}
