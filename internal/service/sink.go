package service

import (
	"context"

	"github.com/playrhq/messaging-service/internal/models"
)

// MultiSink publishes to every wrapped sink. The first error is returned
// after all sinks have been attempted; duplicate delivery downstream is fine
// because subscribers handle events idempotently.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, ev models.Event) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
