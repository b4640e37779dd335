package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Bus fans room events out to every instance that has a local subscriber for
// the room. Delivery is best effort; the store stays authoritative.
type Bus interface {
	Publish(ctx context.Context, evt *Event) error
	Subscribe(ctx context.Context, roomID string) error
	Unsubscribe(ctx context.Context, roomID string) error
	Events() <-chan *Event
	Close() error
}

// Publisher publishes a sequence of events built from one committed write.
type Publisher struct {
	bus Bus
	now func() time.Time
}

// NewPublisher wraps bus with event construction helpers.
func NewPublisher(bus Bus, now func() time.Time) *Publisher {
	return &Publisher{bus: bus, now: now}
}

// Now returns the publisher's notion of the current time.
func (p *Publisher) Now() time.Time {
	return p.now()
}

// Publish sends events in order. A failure is logged and the remaining events
// are still attempted; the first error is returned.
func (p *Publisher) Publish(ctx context.Context, events ...*Event) error {
	var first error
	for _, evt := range events {
		if evt == nil {
			continue
		}
		if err := p.bus.Publish(ctx, evt); err != nil {
			log.Error().
				Err(err).
				Str("room_id", evt.RoomID).
				Str("event_type", string(evt.EventType)).
				Int64("version", evt.Version).
				Msg("failed to publish room event")
			if first == nil {
				first = err
			}
		}
	}
	return first
}
