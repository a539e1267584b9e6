package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/laundryhub/api/internal/apperr"
	"github.com/laundryhub/api/internal/database"
	"github.com/laundryhub/api/internal/enum"
	"github.com/laundryhub/api/internal/lifecycle"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxAcquireAttempts bounds the retry when a conflicting lease expires
// between the refused insert and the holder lookup.
const maxAcquireAttempts = 2

// LockStatus is the edit-lock state of one order as seen by one operator.
type LockStatus struct {
	OrderID        uuid.UUID
	Locked         bool
	HolderID       uuid.UUID
	Holder         string
	LockedByViewer bool
	ExpiresAt      time.Time
}

func statusFor(lock database.EditLock, viewer uuid.UUID) LockStatus {
	return LockStatus{
		OrderID:        lock.OrderID,
		Locked:         true,
		HolderID:       lock.HolderID,
		Holder:         lock.HolderName,
		LockedByViewer: lock.HolderID == viewer,
		ExpiresAt:      lock.ExpiresAt,
	}
}

// AcquireLock grants the edit lease on an order to actor, or returns a
// *apperr.LockConflictError naming the operator who holds it. Re-acquiring
// a lease the actor already holds extends it. Completed orders cannot be
// locked at all.
func (s *OrderService) AcquireLock(ctx context.Context, stationID, orderID uuid.UUID, actor Actor) (LockStatus, error) {
	ctx, span := tracer.Start(ctx, "OrderService.AcquireLock",
		trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer span.End()

	store := s.newStore(s.pool)
	current, err := s.GetOrder(ctx, stationID, orderID)
	if err != nil {
		return LockStatus{}, err
	}
	if err := lifecycle.CanEdit(current.State(), s.now()); err != nil {
		return LockStatus{}, err
	}

	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		lock, err := store.AcquireEditLock(ctx, database.AcquireEditLockParams{
			OrderID:      orderID,
			HolderID:     actor.ID,
			HolderName:   actor.Name,
			LeaseSeconds: s.lockTTL.Seconds(),
		})
		if err == nil {
			s.metrics.LockAcquired.Add(ctx, 1)
			s.publish(ctx, enum.EventLockAcquired, stationID, orderID, lock.HolderName)
			return statusFor(lock, actor.ID), nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return LockStatus{}, fmt.Errorf("acquire edit lock: %w", err)
		}

		held, err := store.GetEditLock(ctx, orderID)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return LockStatus{}, fmt.Errorf("get edit lock: %w", err)
		}
		s.metrics.LockConflicts.Add(ctx, 1)
		return statusFor(held, actor.ID), &apperr.LockConflictError{OrderID: orderID, Holder: held.HolderName}
	}
	return LockStatus{}, fmt.Errorf("%w: lock changed hands while acquiring", apperr.ErrLockConflict)
}

// RenewLock extends actor's lease. When the lease has expired or was taken
// over, the current status is returned with LockedByViewer false and no
// error, so the heartbeat caller can tell a lost lease from a failed call.
func (s *OrderService) RenewLock(ctx context.Context, stationID, orderID uuid.UUID, actor Actor) (LockStatus, error) {
	store := s.newStore(s.pool)
	lock, err := store.RenewEditLock(ctx, database.RenewEditLockParams{
		OrderID:      orderID,
		HolderID:     actor.ID,
		LeaseSeconds: s.lockTTL.Seconds(),
	})
	if err == nil {
		return statusFor(lock, actor.ID), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return LockStatus{}, fmt.Errorf("renew edit lock: %w", err)
	}
	s.metrics.LockLost.Add(ctx, 1)
	return s.LockStatus(ctx, stationID, orderID, actor)
}

// ReleaseLock drops actor's lease. It is idempotent: releasing a lease that
// does not exist, expired, or belongs to someone else is not an error and
// leaves other holders untouched.
func (s *OrderService) ReleaseLock(ctx context.Context, stationID, orderID uuid.UUID, actor Actor) error {
	store := s.newStore(s.pool)
	n, err := store.ReleaseEditLock(ctx, database.ReleaseEditLockParams{OrderID: orderID, HolderID: actor.ID})
	if err != nil {
		return fmt.Errorf("release edit lock: %w", err)
	}
	if n > 0 {
		s.publish(ctx, enum.EventLockReleased, stationID, orderID, actor.Name)
	}
	return nil
}

// LockStatus reports who, if anyone, holds a live lease on the order. It
// never changes lock state.
func (s *OrderService) LockStatus(ctx context.Context, stationID, orderID uuid.UUID, actor Actor) (LockStatus, error) {
	store := s.newStore(s.pool)
	if _, err := store.GetOrder(ctx, database.GetOrderParams{ID: orderID, StationID: stationID}); err != nil {
		return LockStatus{}, notFound(err, "get order")
	}
	lock, err := store.GetEditLock(ctx, orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return LockStatus{OrderID: orderID}, nil
	}
	if err != nil {
		return LockStatus{}, fmt.Errorf("get edit lock: %w", err)
	}
	return statusFor(lock, actor.ID), nil
}
