package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/paygate/server/internal/infra/events"
	"github.com/paygate/server/internal/port/outbound"
)

// publisher implements outbound.EventPublisherPort on top of the in-process bus.
type publisher struct {
	bus *events.Bus
}

// NewPublisher creates an event publisher. Handlers run off the caller's path.
func NewPublisher(bus *events.Bus) outbound.EventPublisherPort {
	return &publisher{bus: bus}
}

func (p *publisher) Publish(ctx context.Context, eventType string, aggregateID uuid.UUID, data any) {
	p.bus.PublishAsync(ctx, events.NewEvent(eventType, aggregateID, data))
}

var _ outbound.EventPublisherPort = (*publisher)(nil)
