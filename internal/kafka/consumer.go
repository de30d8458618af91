package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/playrhq/messaging-service/internal/models"
)

// Broadcaster is what the consumer hands decoded events to; the realtime hub
// implements it. Kafka's at-least-once delivery means the same event can be
// handed over more than once; downstream handling is idempotent.
type Broadcaster interface {
	Deliver(ev models.Event)
}

type Consumer struct {
	reader *kafka.Reader
	log    *zap.SugaredLogger
}

func NewConsumer(brokers []string, topic, groupID string, log *zap.SugaredLogger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	return &Consumer{reader: r, log: log}
}

// Run pulls events until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, b Broadcaster) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Errorw("kafka read", "err", err)
			time.Sleep(time.Second)
			continue
		}
		var ev models.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.log.Warnw("kafka event decode", "err", err)
			continue
		}
		b.Deliver(ev)
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }
