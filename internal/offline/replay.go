package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/api"
	"github.com/laundryhub/api/internal/apperr"
	"github.com/laundryhub/api/internal/enum"
	"github.com/laundryhub/api/internal/order"
	"github.com/laundryhub/api/internal/storeclient"
	"github.com/laundryhub/api/internal/telemetry"
)

// Store is the part of the order store the offline layer talks to.
// Satisfied by *storeclient.Client.
type Store interface {
	StationID() uuid.UUID
	ListOrders(ctx context.Context, f storeclient.ListFilter) ([]order.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (order.Order, error)
	CreateOrder(ctx context.Context, req api.CreateOrderRequest) (order.Order, bool, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, req api.UpdateOrderRequest) (order.Order, error)
}

// Unreachable reports whether err means the store could not be reached at
// all, as opposed to the store answering with a refusal.
func Unreachable(err error) bool {
	var ue *url.Error
	var ne net.Error
	return errors.As(err, &ue) || errors.As(err, &ne)
}

// Desk is the desk client's offline-aware view of the order store.
type Desk struct {
	store   Store
	queue   Queue
	log     *slog.Logger
	metrics *telemetry.Instruments
	now     func() time.Time
}

func NewDesk(store Store, queue Queue, log *slog.Logger) *Desk {
	return &Desk{store: store, queue: queue, log: log, metrics: telemetry.Discard(), now: time.Now}
}

// WithInstruments makes d count replays on in.
func (d *Desk) WithInstruments(in *telemetry.Instruments) *Desk {
	d.metrics = in
	return d
}

// Submit creates an order. Payloads the store would refuse are refused here
// before any network call. If the store cannot be reached the creation is
// queued and its projection returned with queued set.
func (d *Desk) Submit(ctx context.Context, stationID uuid.UUID, req api.CreateOrderRequest) (o order.Order, queued bool, err error) {
	in, err := req.Input(stationID)
	if err != nil {
		return order.Order{}, false, err
	}
	if _, err := order.New(in); err != nil {
		return order.Order{}, false, err
	}

	// The client_ref is fixed before the first attempt, so a request that
	// reached the store but whose answer was lost replays idempotently.
	op := NewCreateOperation(stationID, req, d.now())
	o, _, err = d.store.CreateOrder(ctx, op.Body)
	if err == nil {
		return o, false, nil
	}
	// A request the caller gave up on fails like an unreachable store, but
	// the operator abandoned it, so it is not queued.
	if ctx.Err() != nil || !Unreachable(err) {
		return order.Order{}, false, err
	}

	if qerr := d.queue.Put(context.WithoutCancel(ctx), op); qerr != nil {
		return order.Order{}, false, fmt.Errorf("queue order after %v: %w", err, qerr)
	}
	d.log.Warn("order store unreachable, order queued", "operation_id", op.ID, "error", err)
	return Project(op), true, nil
}

// Edit applies req to the order id. The edit is checked against the
// order's current state first, so a payment or lifecycle violation is
// refused without sending the update. Edits are never queued.
func (d *Desk) Edit(ctx context.Context, id uuid.UUID, req api.UpdateOrderRequest) (order.Order, error) {
	patch, err := req.Patch()
	if err != nil {
		return order.Order{}, err
	}
	current, err := d.store.GetOrder(ctx, id)
	if err != nil {
		return order.Order{}, err
	}
	if _, err := order.ApplyPatch(current, patch, d.now()); err != nil {
		return order.Order{}, err
	}
	return d.store.UpdateOrder(ctx, id, req)
}

// List returns the merged order list for f. When the store is unreachable
// the queued projections are still returned, together with the error.
// Operations queued for another station are left out.
func (d *Desk) List(ctx context.Context, f storeclient.ListFilter) ([]order.Order, error) {
	ops, err := d.queue.List(ctx)
	if err != nil {
		return nil, err
	}
	station := d.store.StationID()
	visible := ops[:0]
	for _, op := range ops {
		if op.StationID == station && matchesFilter(Project(op), f) {
			visible = append(visible, op)
		}
	}

	server, err := d.store.ListOrders(ctx, f)
	if err != nil {
		return Merge(nil, visible), err
	}
	return Merge(server, visible), nil
}

// matchesFilter applies the store's list filters to a projection. Queued
// orders are never archived.
func matchesFilter(o order.Order, f storeclient.ListFilter) bool {
	if f.Draft != nil && o.IsDraft() != *f.Draft {
		return false
	}
	if f.Archived != nil && *f.Archived {
		return false
	}
	if f.Payment != "" && o.Payment != f.Payment {
		return false
	}
	return true
}

// SyncResult counts what one Sync pass did.
type SyncResult struct {
	Acknowledged int
	Failed       int
	Remaining    int
}

// Sync replays queued creations oldest first. Each one is marked
// PROCESSING while in flight, then removed once the store acknowledges it,
// or marked FAILED with the error and attempt count. An unreachable store
// ends the pass early. Failures come back wrapped in apperr.ErrSyncFailure.
func (d *Desk) Sync(ctx context.Context) (SyncResult, error) {
	ops, err := d.queue.List(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].Timestamp.Before(ops[j].Timestamp)
	})

	var res SyncResult
	var lastErr error
	for i, op := range ops {
		if op.Status == enum.QueueStatusAcknowledged {
			// Left over from a pass that stopped between ack and removal.
			if err := d.queue.Remove(ctx, op.ID); err != nil {
				return res, err
			}
			continue
		}
		if !op.IsOrderCreate() || op.StationID != d.store.StationID() {
			continue
		}
		if ctx.Err() != nil {
			res.Remaining = len(ops) - i
			return res, ctx.Err()
		}

		err := d.replay(ctx, op)
		if err == nil {
			res.Acknowledged++
			continue
		}
		res.Failed++
		lastErr = err
		if Unreachable(err) || ctx.Err() != nil {
			res.Remaining = len(ops) - i - 1
			break
		}
	}

	if lastErr != nil {
		return res, fmt.Errorf("%w: %d of %d failed, last: %v", apperr.ErrSyncFailure, res.Failed, res.Failed+res.Acknowledged, lastErr)
	}
	return res, nil
}

func (d *Desk) replay(ctx context.Context, op Operation) error {
	// Bookkeeping must land even if ctx is cancelled mid-replay.
	bookCtx := context.WithoutCancel(ctx)

	op.Status = enum.QueueStatusProcessing
	op.Attempts++
	if err := d.queue.Put(bookCtx, op); err != nil {
		return err
	}

	o, created, err := d.store.CreateOrder(ctx, op.Body)
	if err != nil {
		op.Status = enum.QueueStatusFailed
		op.LastError = err.Error()
		if perr := d.queue.Put(bookCtx, op); perr != nil {
			return errors.Join(err, perr)
		}
		d.metrics.QueueReplayFails.Add(ctx, 1)
		d.log.Warn("queued order failed to sync", "operation_id", op.ID, "attempts", op.Attempts, "error", err)
		return err
	}

	op.Status = enum.QueueStatusAcknowledged
	op.LastError = ""
	if err := d.queue.Put(bookCtx, op); err != nil {
		return err
	}
	if err := d.queue.Remove(bookCtx, op.ID); err != nil {
		return err
	}
	d.metrics.QueueReplayed.Add(ctx, 1)
	d.log.Info("queued order synced", "operation_id", op.ID, "order_id", o.ID, "replayed", !created)
	return nil
}

// Run syncs every interval until ctx is done.
func (d *Desk) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := d.Sync(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			d.log.Warn("sync pass incomplete", "acknowledged", res.Acknowledged, "failed", res.Failed, "remaining", res.Remaining, "error", err)
		case res.Acknowledged > 0:
			d.log.Info("sync pass", "acknowledged", res.Acknowledged)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
