package editlock

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultWatchConcurrency = 8

// Snapshot maps each watched order to its latest lock status. Orders whose
// check failed keep their previous entry.
type Snapshot map[uuid.UUID]Status

// Watcher keeps lock status for a list of orders fresh while browsing, so
// edit actions can be enabled or disabled without a per-click round trip.
type Watcher struct {
	c        *Coordinator
	trigger  Trigger
	onUpdate func(Snapshot)
	log      *slog.Logger
	limit    int

	mu     sync.Mutex
	orders []uuid.UUID
	last   Snapshot
}

func NewWatcher(c *Coordinator, trigger Trigger, onUpdate func(Snapshot), log *slog.Logger) *Watcher {
	return &Watcher{
		c:        c,
		trigger:  trigger,
		onUpdate: onUpdate,
		log:      log,
		limit:    defaultWatchConcurrency,
		last:     make(Snapshot),
	}
}

// SetOrders replaces the watched order list, e.g. after a list refresh.
func (w *Watcher) SetOrders(ids []uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.orders = append([]uuid.UUID(nil), ids...)
	keep := make(Snapshot, len(ids))
	for _, id := range ids {
		if st, ok := w.last[id]; ok {
			keep[id] = st
		}
	}
	w.last = keep
}

// Run checks every watched order once, then again each time the trigger
// fires, until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	target := uuid.Nil
	for {
		if err := w.refresh(ctx, target); err != nil {
			return err
		}
		var err error
		if target, err = w.trigger.Next(ctx); err != nil {
			return err
		}
	}
}

func (w *Watcher) refresh(ctx context.Context, target uuid.UUID) error {
	w.mu.Lock()
	var ids []uuid.UUID
	for _, id := range w.orders {
		if target == uuid.Nil || id == target {
			ids = append(ids, id)
		}
	}
	w.mu.Unlock()
	if len(ids) == 0 {
		return ctx.Err()
	}

	results := make([]*Status, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.limit)
	for i, id := range ids {
		g.Go(func() error {
			st, err := w.c.CheckStatus(gctx, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				w.log.Warn("lock status check failed", "order_id", id, "error", err)
				return nil
			}
			results[i] = &st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w.mu.Lock()
	watched := make(map[uuid.UUID]bool, len(w.orders))
	for _, id := range w.orders {
		watched[id] = true
	}
	for i, id := range ids {
		if results[i] != nil && watched[id] {
			w.last[id] = *results[i]
		}
	}
	snap := make(Snapshot, len(w.last))
	for id, st := range w.last {
		snap[id] = st
	}
	w.mu.Unlock()

	if w.onUpdate != nil {
		w.onUpdate(snap)
	}
	return nil
}
