package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/playrhq/messaging-service/internal/models"
)

func newMessage(convID, sender, recipient, body, key string) *models.Message {
	return &models.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       sender,
		RecipientID:    recipient,
		Body:           body,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestGetOrCreateSymmetry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c1, created, err := s.GetOrCreate(ctx, "alice", "bob")
	require.NoError(t, err)
	require.True(t, created)

	c2, created, err := s.GetOrCreate(ctx, "bob", "alice")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, c1.ID, c2.ID)
	require.Equal(t, "alice", c2.ParticipantA)
	require.Equal(t, "bob", c2.ParticipantB)
}

func TestGetOrCreateConcurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "user-1", "user-2"
			if i%2 == 1 {
				a, b = b, a
			}
			c, _, err := s.GetOrCreate(ctx, a, b)
			require.NoError(t, err)
			ids[i] = c.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids[1:] {
		require.Equal(t, ids[0], id)
	}
}

func TestAppendIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv, _, err := s.GetOrCreate(ctx, "alice", "bob")
	require.NoError(t, err)

	m1, inserted, err := s.Append(ctx, newMessage(conv.ID, "alice", "bob", "hi", "k1"))
	require.NoError(t, err)
	require.True(t, inserted)

	// retried send, same key, different candidate id
	m2, inserted, err := s.Append(ctx, newMessage(conv.ID, "alice", "bob", "hi", "k1"))
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, m1.ID, m2.ID)

	history, err := s.History(ctx, conv.ID, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "hi", history[0].Body)
}

func TestAppendSameKeyDifferentSenders(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv, _, err := s.GetOrCreate(ctx, "alice", "bob")
	require.NoError(t, err)

	_, inserted, err := s.Append(ctx, newMessage(conv.ID, "alice", "bob", "a", "k1"))
	require.NoError(t, err)
	require.True(t, inserted)

	// the key is scoped per sender, so bob's k1 is a distinct message
	_, inserted, err = s.Append(ctx, newMessage(conv.ID, "bob", "alice", "b", "k1"))
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestMarkReadCountsExactly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv, _, err := s.GetOrCreate(ctx, "alice", "bob")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err := s.Append(ctx, newMessage(conv.ID, "alice", "bob", "m", uuid.NewString()))
		require.NoError(t, err)
	}
	// an own message never counts against the reader
	_, _, err = s.Append(ctx, newMessage(conv.ID, "bob", "alice", "reply", uuid.NewString()))
	require.NoError(t, err)

	n, err := s.CountUnread(ctx, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	marked, err := s.MarkRead(ctx, conv.ID, "bob", time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 3, marked)

	n, err = s.CountUnread(ctx, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	// repeat is a no-op
	marked, err = s.MarkRead(ctx, conv.ID, "bob", time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 0, marked)
}

func TestMarkReadConcurrentSessions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv, _, err := s.GetOrCreate(ctx, "alice", "bob")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, _, err := s.Append(ctx, newMessage(conv.ID, "alice", "bob", "m", uuid.NewString()))
		require.NoError(t, err)
	}

	results := make([]int64, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := s.MarkRead(ctx, conv.ID, "bob", time.Now())
			require.NoError(t, err)
			results[i] = n
		}(i)
	}
	wg.Wait()

	// the union is applied exactly once across both sessions
	require.EqualValues(t, 5, results[0]+results[1])
	n, err := s.CountUnread(ctx, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestReadAtMonotonic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv, _, err := s.GetOrCreate(ctx, "alice", "bob")
	require.NoError(t, err)

	_, _, err = s.Append(ctx, newMessage(conv.ID, "alice", "bob", "m", "k1"))
	require.NoError(t, err)

	first := time.Now().Add(-time.Minute)
	_, err = s.MarkRead(ctx, conv.ID, "bob", first)
	require.NoError(t, err)

	// a later markRead must not move or clear the original timestamp
	_, err = s.MarkRead(ctx, conv.ID, "bob", time.Now())
	require.NoError(t, err)

	history, err := s.History(ctx, conv.ID, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].ReadAt)
	require.True(t, history[0].ReadAt.Equal(first.UTC()))
}

func TestHistoryOrderAndPagination(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv, _, err := s.GetOrCreate(ctx, "alice", "bob")
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		m := newMessage(conv.ID, "alice", "bob", "m", uuid.NewString())
		m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_, _, err := s.Append(ctx, m)
		require.NoError(t, err)
	}

	page, err := s.History(ctx, conv.ID, time.Time{}, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.True(t, page[0].CreatedAt.Before(page[1].CreatedAt))
	require.True(t, page[1].CreatedAt.Before(page[2].CreatedAt))

	older, err := s.History(ctx, conv.ID, page[0].CreatedAt, 10)
	require.NoError(t, err)
	require.Len(t, older, 2)
}

func TestListConversationsByActivity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c1, _, err := s.GetOrCreate(ctx, "alice", "bob")
	require.NoError(t, err)
	c2, _, err := s.GetOrCreate(ctx, "alice", "carol")
	require.NoError(t, err)

	require.NoError(t, s.Touch(ctx, c1.ID, time.Now().Add(time.Minute)))

	list, err := s.List(ctx, "alice", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, c1.ID, list[0].ID)
	require.Equal(t, c2.ID, list[1].ID)
	require.EqualValues(t, 2, list[0].Version)

	list, err = s.List(ctx, "bob", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
