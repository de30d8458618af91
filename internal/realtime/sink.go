package realtime

import (
	"context"

	"github.com/playrhq/messaging-service/internal/models"
)

// BusSink publishes events straight onto the local bus. Single-node
// deployments and tests use it alone; multi-node deployments pair it with the
// kafka producer so other nodes see the event too.
type BusSink struct {
	bus *Bus
}

func NewBusSink(bus *Bus) *BusSink { return &BusSink{bus: bus} }

func (s *BusSink) Publish(_ context.Context, ev models.Event) error {
	s.bus.Publish(ev, ev.Audience...)
	return nil
}
