package models

import "time"

type EventType string

const (
	EventMessageInserted     EventType = "message_inserted"
	EventMessageRead         EventType = "message_read"
	EventConversationCreated EventType = "conversation_created"

	// Typing indicators are transient: relayed between live sessions only,
	// never persisted, and carry no state a consumer must reconcile.
	EventTypingStart EventType = "typing_start"
	EventTypingStop  EventType = "typing_stop"
)

// Event is the wire format pushed to subscribed sessions and carried on the
// event backbone. Delivery is at-least-once; consumers dedupe on (Type,
// MessageID) or (Type, ConversationID, At) and must tolerate replays.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	// ActorID is the sender for message_inserted, the reader for
	// message_read, and the initiating participant for conversation_created.
	ActorID   string   `json:"actor_id"`
	MessageID string   `json:"message_id,omitempty"`
	Message   *Message `json:"message,omitempty"`
	// CorrelationID echoes the sender's idempotency key on message_inserted
	// so the originating session can match the event to its in-flight send.
	CorrelationID string `json:"correlation_id,omitempty"`
	// Marked is the number of rows transitioned by a message_read event.
	Marked int64     `json:"marked,omitempty"`
	At     time.Time `json:"at"`
	// Audience lists the user ids the event should be fanned out to; it is
	// carried on the backbone so any node can route the event.
	Audience []string `json:"audience,omitempty"`
}

// Dedupe key for at-least-once consumers.
func (e Event) Key() string {
	if e.MessageID != "" {
		return string(e.Type) + ":" + e.MessageID
	}
	return string(e.Type) + ":" + e.ConversationID + ":" + e.At.UTC().Format(time.RFC3339Nano)
}
