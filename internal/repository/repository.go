package repository

import (
	"context"
	"errors"
	"time"

	"github.com/playrhq/messaging-service/internal/models"
)

// ConversationRepository owns two-party conversation identity. There is
// exactly one conversation per unordered participant pair; GetOrCreate is the
// only way a conversation comes into existence.
type ConversationRepository interface {
	// GetOrCreate normalizes the pair and returns the existing conversation
	// or inserts a new one. Concurrent callers for the same pair converge on
	// the same row; created reports whether this call performed the insert.
	GetOrCreate(ctx context.Context, userA, userB string) (conv *models.Conversation, created bool, err error)
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	// List returns the user's conversations ordered by most recent activity.
	// A zero cursor starts from the newest; otherwise only conversations
	// whose UpdatedAt is strictly before the cursor are returned.
	List(ctx context.Context, userID string, cursor time.Time, limit int64) ([]*models.Conversation, error)
	// Touch bumps UpdatedAt and the version counter after new activity.
	Touch(ctx context.Context, id string, at time.Time) error
}

// MessageRepository owns the append-only message log and the single read_at
// transition.
type MessageRepository interface {
	// Append persists m unless a message with the same (conversation_id,
	// sender_id, idempotency_key) already exists, in which case the existing
	// row is returned and inserted is false. Never errors on the duplicate.
	Append(ctx context.Context, m *models.Message) (stored *models.Message, inserted bool, err error)
	// History returns messages in the conversation older than before (zero
	// means newest), in chronological order, at most limit entries.
	History(ctx context.Context, conversationID string, before time.Time, limit int64) ([]*models.Message, error)
	LastMessage(ctx context.Context, conversationID string) (*models.Message, error)
	// MarkRead sets read_at on every unread message in the conversation not
	// sent by readerID and returns how many rows changed. The filter makes
	// concurrent invocations idempotent: rows already read match nothing.
	MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error)
	// CountUnread counts unread messages addressed to userID across all
	// conversations.
	CountUnread(ctx context.Context, userID string) (int64, error)
	// CountUnreadInConversation counts unread messages addressed to userID
	// within one conversation.
	CountUnreadInConversation(ctx context.Context, conversationID, userID string) (int64, error)
}

var ErrNotFound = errors.New("not found")
