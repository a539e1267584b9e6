package editlock

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/events"
)

// Trigger decides when lock status is re-checked. Next blocks until a check
// is due and returns the order to check, or uuid.Nil for every order.
type Trigger interface {
	Next(ctx context.Context) (uuid.UUID, error)
}

// PollTrigger fires on a fixed interval.
type PollTrigger struct {
	ticker *time.Ticker
}

func NewPollTrigger(interval time.Duration) *PollTrigger {
	return &PollTrigger{ticker: time.NewTicker(interval)}
}

func (t *PollTrigger) Next(ctx context.Context) (uuid.UUID, error) {
	select {
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	case <-t.ticker.C:
		return uuid.Nil, nil
	}
}

func (t *PollTrigger) Stop() { t.ticker.Stop() }

// FeedTrigger fires for the order named by each pushed lock or order event,
// and falls back to a full re-check on a slower interval in case the feed
// drops events.
type FeedTrigger struct {
	pushed   chan uuid.UUID
	fallback *time.Ticker
}

func NewFeedTrigger(fallback time.Duration) *FeedTrigger {
	return &FeedTrigger{
		pushed:   make(chan uuid.UUID, 64),
		fallback: time.NewTicker(fallback),
	}
}

// Notify feeds one pushed event in. It never blocks; when the buffer is full
// the event is dropped and the fallback poll catches up.
func (t *FeedTrigger) Notify(e events.Event) {
	if !strings.HasPrefix(e.Type, "lock.") && !strings.HasPrefix(e.Type, "order.") {
		return
	}
	select {
	case t.pushed <- e.OrderID:
	default:
	}
}

func (t *FeedTrigger) Next(ctx context.Context) (uuid.UUID, error) {
	select {
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	case id := <-t.pushed:
		return id, nil
	case <-t.fallback.C:
		return uuid.Nil, nil
	}
}

func (t *FeedTrigger) Stop() { t.fallback.Stop() }
