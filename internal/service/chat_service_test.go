package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/playrhq/messaging-service/internal/apperrors"
	"github.com/playrhq/messaging-service/internal/cache"
	"github.com/playrhq/messaging-service/internal/logger"
	"github.com/playrhq/messaging-service/internal/models"
	"github.com/playrhq/messaging-service/internal/repository"
	"github.com/playrhq/messaging-service/internal/unread"
)

type captureSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (c *captureSink) Publish(_ context.Context, ev models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) byType(t models.EventType) []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []models.Event{}
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newKey() string { return uuid.NewString() }

func newTestService(t *testing.T) (*ChatService, *captureSink) {
	t.Helper()
	store := repository.NewMemoryStore()
	layer := cache.NewLayer(cache.NewMemoryStore())
	sink := &captureSink{}
	svc := New(Options{
		Conversations: store,
		Messages:      store,
		Unread:        unread.New(store, layer, 5*time.Second, logger.Nop()),
		Cache:         layer,
		ConvListTTL:   30 * time.Second,
		Sink:          sink,
		Log:           logger.Nop(),
	})
	return svc, sink
}

func TestConversationSymmetry(t *testing.T) {
	svc, sink := newTestService(t)
	ctx := context.Background()

	c1, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	c2, err := svc.GetOrCreateConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, c1.ID, c2.ID)

	// only the creating call announces the conversation
	require.Len(t, sink.byType(models.EventConversationCreated), 1)
}

func TestConversationValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetOrCreateConversation(ctx, "alice", "alice")
	require.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = svc.GetOrCreateConversation(ctx, "", "bob")
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestSendMessageIdempotent(t *testing.T) {
	svc, sink := newTestService(t)
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	m1, err := svc.SendMessage(ctx, conv.ID, "alice", "Hi", "k1")
	require.NoError(t, err)

	// simulated client-side timeout retry with the same key
	m2, err := svc.SendMessage(ctx, conv.ID, "alice", "Hi", "k1")
	require.NoError(t, err)
	require.Equal(t, m1.ID, m2.ID)

	history, err := svc.History(ctx, conv.ID, "bob", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "Hi", history[0].Body)

	// exactly one insert was announced and the unread count grew by one
	require.Len(t, sink.byType(models.EventMessageInserted), 1)
	require.EqualValues(t, 1, svc.UnreadCount(ctx, "bob"))
}

func TestSendMessageValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, conv.ID, "alice", "", "k1")
	require.ErrorIs(t, err, apperrors.ErrValidation)

	big := make([]byte, models.MaxBodyBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	_, err = svc.SendMessage(ctx, conv.ID, "alice", string(big), "k2")
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestSendMessageAuthorization(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, conv.ID, "mallory", "hey", "k1")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = svc.SendMessage(ctx, "no-such-conversation", "alice", "hey", "k1")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestReadAccounting(t *testing.T) {
	svc, sink := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := svc.SendMessage(ctx, conv.ID, "alice", "m", newKey())
		require.NoError(t, err)
	}
	require.EqualValues(t, 4, svc.UnreadCount(ctx, "bob"))

	n, err := svc.MarkConversationRead(ctx, conv.ID, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 4, n)
	require.EqualValues(t, 0, svc.UnreadCount(ctx, "bob"))

	// a repeat decreases by exactly zero and publishes nothing new
	n, err = svc.MarkConversationRead(ctx, conv.ID, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
	require.Len(t, sink.byType(models.EventMessageRead), 1)
}

func TestUnreadFreshAfterOwnActionWithinTTL(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, conv.ID, "alice", "one", newKey())
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, conv.ID, "alice", "two", newKey())
	require.NoError(t, err)

	// t=0: badge is cached at 2 with a 5s TTL
	require.EqualValues(t, 2, svc.UnreadCount(ctx, "bob"))

	// a read inside the TTL window must be reflected immediately
	_, err = svc.MarkConversationRead(ctx, conv.ID, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 0, svc.UnreadCount(ctx, "bob"))
}

func TestListConversationsSummaries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cab, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = svc.GetOrCreateConversation(ctx, "alice", "carol")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, cab.ID, "bob", "latest", newKey())
	require.NoError(t, err)

	list, err := svc.ListConversations(ctx, "alice", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	// most recent activity first
	require.Equal(t, cab.ID, list[0].ID)
	require.NotNil(t, list[0].LastMessage)
	require.Equal(t, "latest", list[0].LastMessage.Body)
	require.EqualValues(t, 1, list[0].UnreadCount)
	require.Nil(t, list[1].LastMessage)
}

func TestListConversationsCacheInvalidatedOnSend(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	list, err := svc.ListConversations(ctx, "alice", time.Time{}, 10)
	require.NoError(t, err)
	require.Nil(t, list[0].LastMessage)

	_, err = svc.SendMessage(ctx, conv.ID, "bob", "ping", newKey())
	require.NoError(t, err)

	// the 30s list TTL must not serve the pre-send snapshot
	list, err = svc.ListConversations(ctx, "alice", time.Time{}, 10)
	require.NoError(t, err)
	require.NotNil(t, list[0].LastMessage)
}

func TestListConversationsCachedPerLimit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = svc.GetOrCreateConversation(ctx, "alice", "carol")
	require.NoError(t, err)

	// first page with the default-ish limit is cached
	list, err := svc.ListConversations(ctx, "alice", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)

	// a smaller page must not be served the larger cached one
	list, err = svc.ListConversations(ctx, "alice", time.Time{}, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestConcurrentMarkReadConverges(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		_, err := svc.SendMessage(ctx, conv.ID, "alice", "m", newKey())
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	marked := make([]int64, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := svc.MarkConversationRead(ctx, conv.ID, "bob")
			require.NoError(t, err)
			marked[i] = n
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 6, marked[0]+marked[1])
	require.EqualValues(t, 0, svc.UnreadCount(ctx, "bob"))
}

func TestParticipants(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	got, err := svc.Participants(ctx, conv.ID, "alice")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob"}, got)

	_, err = svc.Participants(ctx, conv.ID, "mallory")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}
