// Package events carries order and lock notifications out of the order store:
// to connected desk clients over the websocket hub and to Kafka.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event is one notification. Type is one of enum.Event*.
type Event struct {
	Type      string    `json:"type"`
	StationID uuid.UUID `json:"station_id"`
	OrderID   uuid.UUID `json:"order_id"`
	Holder    string    `json:"holder,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher delivers events. Implementations must not block on slow
// consumers for longer than ctx allows.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
