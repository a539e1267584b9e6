// Package editlock is the desk client's edit-lock coordinator. It acquires,
// renews and releases the order store's advisory per-order leases and keeps
// every store call for one order strictly sequenced.
package editlock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/api"
	"github.com/laundryhub/api/internal/apperr"
)

// Store is the part of the order store the coordinator talks to.
// Satisfied by *storeclient.Client.
type Store interface {
	AcquireLock(ctx context.Context, orderID uuid.UUID) (api.LockStatus, error)
	RenewLock(ctx context.Context, orderID uuid.UUID) (api.LockStatus, error)
	ReleaseLock(ctx context.Context, orderID uuid.UUID) error
	LockStatus(ctx context.Context, orderID uuid.UUID) (api.LockStatus, error)
}

// Status is one order's lock state as seen by this client.
type Status struct {
	OrderID        uuid.UUID
	Locked         bool
	Holder         string
	LockedByViewer bool
	ExpiresAt      *time.Time
}

// Editable reports whether this client may open the order for editing.
func (s Status) Editable() bool {
	return !s.Locked || s.LockedByViewer
}

func fromWire(orderID uuid.UUID, ls api.LockStatus) Status {
	return Status{
		OrderID:        orderID,
		Locked:         ls.Locked,
		Holder:         ls.Holder,
		LockedByViewer: ls.LockedByViewer,
		ExpiresAt:      ls.ExpiresAt,
	}
}

type orderSlot struct {
	mu   sync.Mutex
	refs int
	held bool
}

// Coordinator serializes lock traffic per order and remembers which orders
// this client believes it holds.
type Coordinator struct {
	store     Store
	log       *slog.Logger
	heartbeat time.Duration

	mu    sync.Mutex
	slots map[uuid.UUID]*orderSlot
}

// NewCoordinator returns a coordinator whose sessions renew their lease every
// heartbeat.
func NewCoordinator(store Store, heartbeat time.Duration, log *slog.Logger) *Coordinator {
	if heartbeat <= 0 {
		heartbeat = 2 * time.Second
	}
	return &Coordinator{
		store:     store,
		log:       log,
		heartbeat: heartbeat,
		slots:     make(map[uuid.UUID]*orderSlot),
	}
}

// withOrder runs fn while holding orderID's slot, so no two store calls for
// the same order overlap.
func (c *Coordinator) withOrder(orderID uuid.UUID, fn func(slot *orderSlot) error) error {
	c.mu.Lock()
	slot, ok := c.slots[orderID]
	if !ok {
		slot = &orderSlot{}
		c.slots[orderID] = slot
	}
	slot.refs++
	c.mu.Unlock()

	slot.mu.Lock()
	err := fn(slot)
	held := slot.held
	slot.mu.Unlock()

	c.mu.Lock()
	slot.refs--
	if slot.refs == 0 && !held {
		delete(c.slots, orderID)
	}
	c.mu.Unlock()
	return err
}

// Held reports whether this client currently believes it holds orderID.
func (c *Coordinator) Held(orderID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.slots[orderID]
	return ok && slot.held
}

// Acquire takes the edit lock for orderID. A lock held by another operator
// comes back as *apperr.LockConflictError naming them; callers must not
// enter edit mode and must not retry automatically.
func (c *Coordinator) Acquire(ctx context.Context, orderID uuid.UUID) (Status, error) {
	var st Status
	err := c.withOrder(orderID, func(slot *orderSlot) error {
		ls, err := c.store.AcquireLock(ctx, orderID)
		if err != nil {
			slot.held = false
			return err
		}
		st = fromWire(orderID, ls)
		if !st.LockedByViewer {
			slot.held = false
			return &apperr.LockConflictError{OrderID: orderID, Holder: st.Holder}
		}
		slot.held = true
		return nil
	})
	if err != nil {
		c.log.Info("edit lock refused", "order_id", orderID, "error", err)
		return Status{}, err
	}
	return st, nil
}

// Release gives up orderID's lock. It is safe to call when nothing is held.
func (c *Coordinator) Release(ctx context.Context, orderID uuid.UUID) error {
	return c.withOrder(orderID, func(slot *orderSlot) error {
		slot.held = false
		if err := c.store.ReleaseLock(ctx, orderID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return nil
	})
}

// CheckStatus reads orderID's lock state without changing it on the store.
// A status showing someone else as holder drops the local held record.
func (c *Coordinator) CheckStatus(ctx context.Context, orderID uuid.UUID) (Status, error) {
	var st Status
	err := c.withOrder(orderID, func(slot *orderSlot) error {
		ls, err := c.store.LockStatus(ctx, orderID)
		if err != nil {
			return err
		}
		st = fromWire(orderID, ls)
		if !st.LockedByViewer {
			slot.held = false
		}
		return nil
	})
	return st, err
}

// renew extends the lease. Losing the lease is reported as ErrStaleLock, or
// as a LockConflictError when someone else has taken it over.
func (c *Coordinator) renew(ctx context.Context, orderID uuid.UUID) (Status, error) {
	var st Status
	err := c.withOrder(orderID, func(slot *orderSlot) error {
		ls, err := c.store.RenewLock(ctx, orderID)
		if err != nil {
			return err
		}
		st = fromWire(orderID, ls)
		if st.LockedByViewer {
			slot.held = true
			return nil
		}
		slot.held = false
		if st.Locked && st.Holder != "" {
			return &apperr.LockConflictError{OrderID: orderID, Holder: st.Holder}
		}
		return apperr.ErrStaleLock
	})
	return st, err
}
