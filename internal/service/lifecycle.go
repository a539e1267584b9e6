package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/database"
	"github.com/laundryhub/api/internal/enum"
	"github.com/laundryhub/api/internal/lifecycle"
	"github.com/laundryhub/api/internal/order"
)

// TransitionRequest asks for a lifecycle change of one order.
type TransitionRequest struct {
	StationID uuid.UUID
	OrderID   uuid.UUID
	Actor     Actor
	Action    lifecycle.Action
}

// Transition runs a lifecycle action. Archive and unarchive are gated by the
// permission table only. Draft transitions are refused while another
// operator holds the edit lock. Convert is handled by ConvertDraft.
func (s *OrderService) Transition(ctx context.Context, req TransitionRequest) (order.Order, error) {
	if req.Action == lifecycle.ActionConvert {
		res, err := s.ConvertDraft(ctx, req)
		if err != nil {
			return order.Order{}, err
		}
		return res.Draft, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return order.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	current, err := s.lockOrderRow(ctx, store, req.StationID, req.OrderID)
	if err != nil {
		return order.Order{}, err
	}

	t := lifecycle.Transition{
		Action:    req.Action,
		Now:       s.now(),
		Retention: s.retention,
	}
	switch req.Action {
	case lifecycle.ActionArchive:
		t.Permitted = s.perms.Allowed(req.Actor.Role, enum.ResourceOrders, enum.ActionArchive)
	case lifecycle.ActionUnarchive:
		t.Permitted = s.perms.Allowed(req.Actor.Role, enum.ResourceOrders, enum.ActionUnarchive)
	}

	next, err := lifecycle.Apply(current.State(), t)
	if err != nil {
		return order.Order{}, err
	}
	if req.Action != lifecycle.ActionArchive && req.Action != lifecycle.ActionUnarchive {
		if err := requireHolder(ctx, store, req.OrderID, req.Actor, false); err != nil {
			return order.Order{}, err
		}
	}

	updated, err := s.saveState(ctx, store, current, next, req.Actor)
	if err != nil {
		return order.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return order.Order{}, fmt.Errorf("commit tx: %w", err)
	}

	s.publish(ctx, enum.EventOrderUpdated, updated.StationID, updated.ID, "")
	return updated, nil
}

func (s *OrderService) saveState(ctx context.Context, store OrderStore, current order.Order, next lifecycle.State, actor Actor) (order.Order, error) {
	row, err := store.UpdateOrderLifecycle(ctx, database.UpdateOrderLifecycleParams{
		ID:                current.ID,
		Stage:             next.Stage,
		IsArchived:        next.Archived,
		ScheduledDeleteAt: toTimestamptz(next.ScheduledDeleteAt),
		ConvertedOrderID:  toPgUUID(next.ConvertedOrderID),
		LastEditedBy:      optionalText(actor.Name),
	})
	if err != nil {
		return order.Order{}, fmt.Errorf("update order lifecycle: %w", err)
	}
	updated := toOrder(row, nil)
	updated.Items = current.Items
	return updated, nil
}

// ConvertResult holds the converted draft and the order produced from it.
type ConvertResult struct {
	Draft     order.Order
	Converted order.Order
}

// ConvertDraft finalizes a draft: a regular order is created from the
// draft's items, discount and payment, and the draft is linked to it.
func (s *OrderService) ConvertDraft(ctx context.Context, req TransitionRequest) (*ConvertResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	draft, err := s.lockOrderRow(ctx, store, req.StationID, req.OrderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	// Validate with a placeholder id so nothing is inserted for a draft that
	// cannot be converted.
	if _, err := lifecycle.Apply(draft.State(), lifecycle.Transition{
		Action:           lifecycle.ActionConvert,
		Now:              now,
		ConvertedOrderID: uuid.New(),
	}); err != nil {
		return nil, err
	}
	if err := order.ValidateItems(draft.Items, false); err != nil {
		return nil, err
	}
	if err := requireHolder(ctx, store, req.OrderID, req.Actor, false); err != nil {
		return nil, err
	}

	final := draft
	final.SetState(lifecycle.Initial(false))
	converted, err := insertOrder(ctx, store, final, req.Actor, "")
	if err != nil {
		return nil, err
	}

	next, err := lifecycle.Apply(draft.State(), lifecycle.Transition{
		Action:           lifecycle.ActionConvert,
		Now:              now,
		ConvertedOrderID: converted.ID,
	})
	if err != nil {
		return nil, err
	}
	updated, err := s.saveState(ctx, store, draft, next, req.Actor)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.metrics.OrdersCreated.Add(ctx, 1)
	s.publish(ctx, enum.EventOrderCreated, converted.StationID, converted.ID, "")
	s.publish(ctx, enum.EventOrderUpdated, updated.StationID, updated.ID, "")
	return &ConvertResult{Draft: updated, Converted: converted}, nil
}

// SweepResult counts what a sweep removed.
type SweepResult struct {
	ExpiredLocks  int64
	DeletedDrafts int
}

// Sweep deletes expired edit leases and drafts whose scheduled deletion time
// has passed.
func (s *OrderService) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	store := s.newStore(s.pool)

	n, err := store.DeleteExpiredEditLocks(ctx)
	if err != nil {
		return res, fmt.Errorf("delete expired edit locks: %w", err)
	}
	res.ExpiredLocks = n

	deleted, err := store.DeleteDueDrafts(ctx)
	if err != nil {
		return res, fmt.Errorf("delete due drafts: %w", err)
	}
	res.DeletedDrafts = len(deleted)
	for _, d := range deleted {
		s.publish(ctx, enum.EventOrderDeleted, d.StationID, d.ID, "")
	}
	return res, nil
}
