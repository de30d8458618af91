package models

import "time"

// Message is an append-only log entry. The only mutation it ever sees is the
// read_at transition, and that is one-way: once set it is never cleared.
type Message struct {
	ID             string     `bson:"_id" json:"id"`
	ConversationID string     `bson:"conversation_id" json:"conversation_id"`
	SenderID       string     `bson:"sender_id" json:"sender_id"`
	RecipientID    string     `bson:"recipient_id" json:"recipient_id"`
	Body           string     `bson:"body" json:"body"`
	IdempotencyKey string     `bson:"idempotency_key" json:"-"`
	CreatedAt      time.Time  `bson:"created_at" json:"created_at"`
	ReadAt         *time.Time `bson:"read_at,omitempty" json:"read_at,omitempty"`
}

// Read reports whether the recipient has read the message.
func (m *Message) Read() bool {
	return m.ReadAt != nil
}

// MaxBodyBytes caps the message body. Oversized bodies are rejected before
// they reach the store.
const MaxBodyBytes = 4096
