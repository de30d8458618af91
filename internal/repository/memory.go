package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/playrhq/messaging-service/internal/models"
)

// MemoryStore is an in-process implementation of both repositories. It backs
// unit tests and local development without a running Mongo; the semantics
// (pair uniqueness, idempotent append, conditional bulk read transition)
// mirror the Mongo implementation exactly.
type MemoryStore struct {
	mu      sync.Mutex
	byPair  map[string]*models.Conversation
	byID    map[string]*models.Conversation
	msgs    map[string][]*models.Message // conversationID -> log, append order
	byIdem  map[string]*models.Message   // convID|senderID|idemKey
	byMsgID map[string]*models.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byPair:  make(map[string]*models.Conversation),
		byID:    make(map[string]*models.Conversation),
		msgs:    make(map[string][]*models.Message),
		byIdem:  make(map[string]*models.Message),
		byMsgID: make(map[string]*models.Message),
	}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, userA, userB string) (*models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.PairKey(userA, userB)
	if c, ok := s.byPair[key]; ok {
		cp := *c
		return &cp, false, nil
	}
	lo, hi := models.NormalizePair(userA, userB)
	now := time.Now().UTC()
	c := &models.Conversation{
		ID:           uuid.NewString(),
		PairKey:      key,
		ParticipantA: lo,
		ParticipantB: hi,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}
	s.byPair[key] = c
	s.byID[c.ID] = c
	cp := *c
	return &cp, true, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, userID string, cursor time.Time, limit int64) ([]*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Conversation{}
	for _, c := range s.byID {
		if !c.HasParticipant(userID) {
			continue
		}
		if !cursor.IsZero() && !c.UpdatedAt.Before(cursor) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	c.UpdatedAt = at.UTC()
	c.Version++
	return nil
}

func idemKey(m *models.Message) string {
	return m.ConversationID + "|" + m.SenderID + "|" + m.IdempotencyKey
}

func (s *MemoryStore) Append(_ context.Context, m *models.Message) (*models.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byIdem[idemKey(m)]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *m
	s.msgs[m.ConversationID] = append(s.msgs[m.ConversationID], &cp)
	s.byIdem[idemKey(m)] = &cp
	s.byMsgID[cp.ID] = &cp
	out := cp
	return &out, true, nil
}

func (s *MemoryStore) History(_ context.Context, conversationID string, before time.Time, limit int64) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.msgs[conversationID]
	out := []*models.Message{}
	for _, m := range log {
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

func (s *MemoryStore) LastMessage(_ context.Context, conversationID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.msgs[conversationID]
	if len(log) == 0 {
		return nil, ErrNotFound
	}
	last := log[0]
	for _, m := range log[1:] {
		if m.CreatedAt.After(last.CreatedAt) ||
			(m.CreatedAt.Equal(last.CreatedAt) && m.ID > last.ID) {
			last = m
		}
	}
	cp := *last
	return &cp, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, conversationID, readerID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at = at.UTC()
	var n int64
	for _, m := range s.msgs[conversationID] {
		if m.SenderID == readerID || m.ReadAt != nil {
			continue
		}
		ts := at
		m.ReadAt = &ts
		n++
	}
	return n, nil
}

func (s *MemoryStore) CountUnread(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, log := range s.msgs {
		for _, m := range log {
			if m.RecipientID == userID && m.ReadAt == nil {
				n++
			}
		}
	}
	return n, nil
}

func (s *MemoryStore) CountUnreadInConversation(_ context.Context, conversationID, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.msgs[conversationID] {
		if m.RecipientID == userID && m.ReadAt == nil {
			n++
		}
	}
	return n, nil
}
