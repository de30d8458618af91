package models

import (
	"strings"
	"time"
)

// Conversation is a persistent two-party thread. The participant pair is
// normalized so that ParticipantA < ParticipantB lexicographically; PairKey is
// the unique lookup key derived from the normalized pair.
type Conversation struct {
	ID           string    `bson:"_id" json:"id"`
	PairKey      string    `bson:"pair_key" json:"-"`
	ParticipantA string    `bson:"participant_a" json:"participant_a"`
	ParticipantB string    `bson:"participant_b" json:"participant_b"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
	Version      int64     `bson:"version" json:"version"`
}

// NormalizePair orders two participant ids deterministically.
func NormalizePair(userA, userB string) (string, string) {
	if strings.Compare(userA, userB) > 0 {
		return userB, userA
	}
	return userA, userB
}

// PairKey builds the conversation lookup key for an unordered participant pair.
func PairKey(userA, userB string) string {
	lo, hi := NormalizePair(userA, userB)
	return lo + ":" + hi
}

// HasParticipant reports whether uid is one of the two participants.
func (c *Conversation) HasParticipant(uid string) bool {
	return c.ParticipantA == uid || c.ParticipantB == uid
}

// Peer returns the other participant of the conversation.
func (c *Conversation) Peer(uid string) string {
	if c.ParticipantA == uid {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// ConversationSummary is a list entry enriched with the data the inbox view
// renders next to each thread.
type ConversationSummary struct {
	Conversation
	PeerID      string   `json:"peer_id"`
	PeerName    string   `json:"peer_name,omitempty"`
	PeerAvatar  string   `json:"peer_avatar,omitempty"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int64    `json:"unread_count"`
}
