package events

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/playrhq/messaging-service/internal/models"
)

// Publisher pushes notification triggers over NATS for recipients who have no
// live realtime session. A separate notification worker turns these into
// emails or mobile pushes; this service only emits the trigger.
type Publisher struct {
	nc  *nats.Conn
	log *zap.SugaredLogger
}

func NewPublisher(natsURL string, log *zap.SugaredLogger) (*Publisher, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, log: log}, nil
}

// NotifyOffline publishes a message.created trigger addressed to userID.
func (p *Publisher) NotifyOffline(userID string, msg *models.Message) {
	ev := struct {
		UserID         string `json:"user_id"`
		ConversationID string `json:"conversation_id"`
		MessageID      string `json:"message_id"`
		SenderID       string `json:"sender_id"`
	}{
		UserID:         userID,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := p.nc.Publish("notify.message."+userID, b); err != nil {
		p.log.Warnw("notify publish", "user_id", userID, "err", err)
	}
}

func (p *Publisher) Close() {
	_ = p.nc.Drain()
}
