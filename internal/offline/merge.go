package offline

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/api"
	"github.com/laundryhub/api/internal/lifecycle"
	"github.com/laundryhub/api/internal/order"
	"github.com/laundryhub/api/internal/payment"
	"github.com/shopspring/decimal"
)

// projectionNamespace seeds the ids of synthetic orders, so projecting the
// same operation twice yields the same order id.
var projectionNamespace = uuid.MustParse("0f4b8a52-6c1e-5d3a-9e7f-2b6d4c8a1e30")

// ProjectionID is the synthetic order id for queued operation opID.
func ProjectionID(opID string) uuid.UUID {
	return uuid.NewSHA1(projectionNamespace, []byte(opID))
}

// Project renders a queued order creation as the order the store would
// create from it, with totals and payment computed the way the store
// computes them. A payload the store would reject is still rendered, with
// its payment derived from the amount received, so it stays visible.
func Project(op Operation) order.Order {
	in, err := op.Body.Input(op.StationID)
	var o order.Order
	if err == nil {
		o, err = order.New(in)
	}
	if err != nil {
		o = fallbackProjection(op)
	}

	o.ID = ProjectionID(op.ID)
	o.CreatedAt = op.Timestamp
	o.UpdatedAt = op.Timestamp
	o.ClientRef = op.ID
	o.Synthetic = true
	o.QueuedOperationID = op.ID
	return o
}

func fallbackProjection(op Operation) order.Order {
	// Parse what can be parsed; anything malformed is left out.
	items, _ := api.ParseItems(op.Body.Items)
	discount, _ := api.ParseDiscount(op.Body.DiscountType, op.Body.DiscountValue)
	o := order.Order{
		StationID:    op.StationID,
		CustomerName: op.Body.CustomerName,
		Items:        items,
		Discount:     discount,
	}
	o.SetTotals(order.ComputeTotals(o.Items, o.Discount))
	o.SetState(lifecycle.Initial(op.Body.IsDraft))

	paid := decimal.Zero
	if req, err := api.ParsePayment(op.Body.Payment); err == nil && req != nil &&
		req.Amount.Valid && req.Amount.Decimal.IsPositive() {
		paid = req.Amount.Decimal
	}
	o.SetLedger(payment.Derive(o.Total, paid))
	return o
}

// Merge combines the store's orders with the visible queued operations
// into one list: queued projections first, then store orders, each newest
// first with ties broken by id. A projection whose operation the store
// already holds (matched on client_ref) is dropped in favor of the store's
// copy.
func Merge(server []order.Order, ops []Operation) []order.Order {
	confirmed := make(map[string]bool, len(server))
	for _, o := range server {
		if o.ClientRef != "" {
			confirmed[o.ClientRef] = true
		}
	}

	queued := make([]order.Order, 0, len(ops))
	for _, op := range ops {
		if !op.Visible() || confirmed[op.ID] {
			continue
		}
		queued = append(queued, Project(op))
	}

	stored := append([]order.Order(nil), server...)
	sortNewestFirst(queued)
	sortNewestFirst(stored)
	return append(queued, stored...)
}

func sortNewestFirst(orders []order.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
}
