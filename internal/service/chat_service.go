package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/playrhq/messaging-service/internal/apperrors"
	"github.com/playrhq/messaging-service/internal/cache"
	"github.com/playrhq/messaging-service/internal/directory"
	"github.com/playrhq/messaging-service/internal/metrics"
	"github.com/playrhq/messaging-service/internal/models"
	"github.com/playrhq/messaging-service/internal/repository"
	"github.com/playrhq/messaging-service/internal/unread"
)

// EventSink carries realtime events to subscribers. In production it is the
// kafka producer plus the local bus; tests plug the bus in directly.
type EventSink interface {
	Publish(ctx context.Context, ev models.Event) error
}

// Notifier triggers out-of-band notifications for recipients without a live
// session.
type Notifier interface {
	NotifyOffline(userID string, msg *models.Message)
}

// Presence reports whether a user has a live realtime session.
type Presence interface {
	Online(ctx context.Context, userID string) bool
}

// ChatService orchestrates the messaging commands and queries. Every write
// invalidates the affected cache entries before returning, so a client that
// re-reads immediately after its own action never sees data older than that
// action.
type ChatService struct {
	convs       repository.ConversationRepository
	msgs        repository.MessageRepository
	unread      *unread.Aggregator
	cache       *cache.Layer
	convListTTL time.Duration
	sink        EventSink
	notifier    Notifier
	presence    Presence
	dir         directory.Directory
	log         *zap.SugaredLogger
	now         func() time.Time
}

type Options struct {
	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
	Unread        *unread.Aggregator
	Cache         *cache.Layer
	ConvListTTL   time.Duration
	Sink          EventSink
	Notifier      Notifier
	Presence      Presence
	Directory     directory.Directory
	Log           *zap.SugaredLogger
}

func New(opts Options) *ChatService {
	if opts.ConvListTTL <= 0 {
		opts.ConvListTTL = 30 * time.Second
	}
	if opts.Directory == nil {
		opts.Directory = directory.Noop{}
	}
	return &ChatService{
		convs:       opts.Conversations,
		msgs:        opts.Messages,
		unread:      opts.Unread,
		cache:       opts.Cache,
		convListTTL: opts.ConvListTTL,
		sink:        opts.Sink,
		notifier:    opts.Notifier,
		presence:    opts.Presence,
		dir:         opts.Directory,
		log:         opts.Log,
		now:         time.Now,
	}
}

// The cached first page is keyed per page size so a small-limit request is
// never served a larger cached page; invalidation drops the whole prefix.
func convListPrefix(userID string) string { return "convlist:" + userID + ":" }

func convListKey(userID string, limit int64) string {
	return convListPrefix(userID) + strconv.FormatInt(limit, 10)
}

// GetOrCreateConversation returns the one conversation for the pair, creating
// it when this is the first contact. Symmetric in its arguments.
func (s *ChatService) GetOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	if userA == "" || userB == "" {
		return nil, apperrors.Validationf("participant ids required")
	}
	if userA == userB {
		return nil, apperrors.Validationf("cannot open a conversation with yourself")
	}
	conv, created, err := s.convs.GetOrCreate(ctx, userA, userB)
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	if created {
		s.invalidateLists(ctx, conv.ParticipantA, conv.ParticipantB)
		s.emit(ctx, models.Event{
			Type:           models.EventConversationCreated,
			ConversationID: conv.ID,
			ActorID:        userA,
			At:             conv.CreatedAt,
			Audience:       []string{conv.ParticipantA, conv.ParticipantB},
		})
	}
	return conv, nil
}

// ListConversations returns the user's inbox ordered by last activity, each
// entry enriched with the last message and that conversation's unread count.
// The first page is served through the cache.
func (s *ChatService) ListConversations(ctx context.Context, userID string, cursor time.Time, limit int64) ([]*models.ConversationSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if cursor.IsZero() {
		val, err := s.cache.Dedupe(ctx, convListKey(userID, limit), s.convListTTL, func(ctx context.Context) ([]byte, error) {
			list, err := s.buildSummaries(ctx, userID, time.Time{}, limit)
			if err != nil {
				return nil, err
			}
			return json.Marshal(list)
		})
		if err != nil {
			return nil, apperrors.Transient(err)
		}
		var list []*models.ConversationSummary
		if err := json.Unmarshal(val, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	list, err := s.buildSummaries(ctx, userID, cursor, limit)
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	return list, nil
}

func (s *ChatService) buildSummaries(ctx context.Context, userID string, cursor time.Time, limit int64) ([]*models.ConversationSummary, error) {
	convs, err := s.convs.List(ctx, userID, cursor, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*models.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		sum := &models.ConversationSummary{Conversation: *c, PeerID: c.Peer(userID)}
		if prof, err := s.dir.Resolve(ctx, sum.PeerID); err == nil && prof != nil {
			sum.PeerName = prof.Name
			sum.PeerAvatar = prof.AvatarURL
		}
		last, err := s.msgs.LastMessage(ctx, c.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		sum.LastMessage = last
		n, err := s.msgs.CountUnreadInConversation(ctx, c.ID, userID)
		if err != nil {
			return nil, err
		}
		sum.UnreadCount = n
		out = append(out, sum)
	}
	return out, nil
}

// SendMessage appends a message to the conversation. A retry carrying the
// same idempotency key resolves to the already-persisted row; the caller
// cannot tell the difference and no duplicate is ever created.
func (s *ChatService) SendMessage(ctx context.Context, conversationID, senderID, body, idempotencyKey string) (*models.Message, error) {
	if body == "" {
		return nil, apperrors.Validationf("message body is empty")
	}
	if len(body) > models.MaxBodyBytes {
		return nil, apperrors.Validationf("message body exceeds %d bytes", models.MaxBodyBytes)
	}
	if idempotencyKey == "" {
		// a server-generated key still dedupes stored-level replays, but
		// client retries only collapse when the client supplies its own
		idempotencyKey = uuid.NewString()
	}
	conv, err := s.authorizedConversation(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		RecipientID:    conv.Peer(senderID),
		Body:           body,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
	}
	stored, inserted, err := s.msgs.Append(ctx, msg)
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	if !inserted {
		metrics.DuplicateSends.Inc()
		return stored, nil
	}
	metrics.MessagesAppended.Inc()
	if err := s.convs.Touch(ctx, conv.ID, now); err != nil {
		s.log.Warnw("conversation touch", "conversation_id", conv.ID, "err", err)
	}
	// invalidate before returning so the sender's next read is post-write
	s.unread.Invalidate(ctx, stored.RecipientID)
	s.invalidateLists(ctx, conv.ParticipantA, conv.ParticipantB)
	s.emit(ctx, models.Event{
		Type:           models.EventMessageInserted,
		ConversationID: conv.ID,
		ActorID:        senderID,
		MessageID:      stored.ID,
		Message:        stored,
		CorrelationID:  stored.IdempotencyKey,
		At:             stored.CreatedAt,
		Audience:       []string{conv.ParticipantA, conv.ParticipantB},
	})
	if s.notifier != nil && (s.presence == nil || !s.presence.Online(ctx, stored.RecipientID)) {
		s.notifier.NotifyOffline(stored.RecipientID, stored)
	}
	return stored, nil
}

// History returns a page of messages in chronological order.
func (s *ChatService) History(ctx context.Context, conversationID, requesterID string, before time.Time, limit int64) ([]*models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if _, err := s.authorizedConversation(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}
	msgs, err := s.msgs.History(ctx, conversationID, before, limit)
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	return msgs, nil
}

// MarkConversationRead transitions every unread message addressed to the
// reader and returns how many rows changed. The store-level filter makes
// concurrent calls from multiple sessions converge without double counting:
// rows already read match nothing, so the transition happens exactly once.
func (s *ChatService) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	conv, err := s.authorizedConversation(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	n, err := s.msgs.MarkRead(ctx, conversationID, readerID, s.now().UTC())
	if err != nil {
		return 0, apperrors.Transient(err)
	}
	if n == 0 {
		return 0, nil
	}
	metrics.ReadTransitions.Add(float64(n))
	s.unread.Invalidate(ctx, readerID)
	s.invalidateLists(ctx, readerID)
	s.emit(ctx, models.Event{
		Type:           models.EventMessageRead,
		ConversationID: conversationID,
		ActorID:        readerID,
		Marked:         n,
		At:             s.now().UTC(),
		Audience:       []string{conv.ParticipantA, conv.ParticipantB},
	})
	return n, nil
}

// UnreadCount returns the badge value for the user. Never errors; on backend
// trouble the aggregator serves the last known-good count.
func (s *ChatService) UnreadCount(ctx context.Context, userID string) int64 {
	return s.unread.Get(ctx, userID)
}

// Participants resolves the audience of a conversation for userID, failing
// when the user is not a member. Used by the realtime layer for transient
// envelopes.
func (s *ChatService) Participants(ctx context.Context, conversationID, userID string) ([]string, error) {
	conv, err := s.authorizedConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	return []string{conv.ParticipantA, conv.ParticipantB}, nil
}

func (s *ChatService) authorizedConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Transient(err)
	}
	if !conv.HasParticipant(userID) {
		return nil, apperrors.ErrUnauthorized
	}
	return conv, nil
}

func (s *ChatService) invalidateLists(ctx context.Context, userIDs ...string) {
	for _, uid := range userIDs {
		if err := s.cache.InvalidatePrefix(ctx, convListPrefix(uid)); err != nil {
			s.log.Warnw("conversation list invalidate", "user_id", uid, "err", err)
		}
	}
}

func (s *ChatService) emit(ctx context.Context, ev models.Event) {
	if s.sink == nil {
		return
	}
	// event loss is tolerable: subscribers reconcile through the polling
	// fallback, so a failed publish is logged and the command still succeeds
	if err := s.sink.Publish(ctx, ev); err != nil {
		s.log.Warnw("event publish", "type", ev.Type, "conversation_id", ev.ConversationID, "err", err)
	}
}
