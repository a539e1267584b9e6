// Package order is the shared order model: line items, discounts, the totals
// formula, and input validation. The order store and the desk client's
// offline projections both compute totals here.
package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/apperr"
	"github.com/laundryhub/api/internal/enum"
	"github.com/laundryhub/api/internal/lifecycle"
	"github.com/laundryhub/api/internal/payment"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyItems           = fmt.Errorf("%w: items are required", apperr.ErrInvalidInput)
	ErrMissingServiceName   = fmt.Errorf("%w: service_name is required", apperr.ErrInvalidInput)
	ErrInvalidQuantity      = fmt.Errorf("%w: quantity must be > 0", apperr.ErrInvalidInput)
	ErrInvalidAmount        = fmt.Errorf("%w: amount must be >= 0", apperr.ErrInvalidInput)
	ErrInvalidItemStatus    = fmt.Errorf("%w: invalid item status", apperr.ErrInvalidInput)
	ErrInvalidDiscount      = fmt.Errorf("%w: invalid discount_type", apperr.ErrInvalidInput)
	ErrInvalidDiscountValue = fmt.Errorf("%w: invalid discount_value", apperr.ErrInvalidInput)
)

// Item is one service line on an order. Amount is the line's monetary amount.
type Item struct {
	ID          uuid.UUID
	ServiceName string
	Quantity    int32
	Amount      decimal.Decimal
	Status      string
}

// Discount is an order-level discount. The zero value means no discount.
type Discount struct {
	Type  string
	Value decimal.Decimal
}

func (d Discount) IsZero() bool {
	return d.Type == ""
}

// Totals is the result of the pricing formula.
type Totals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
}

// ComputeTotals applies the backend pricing formula:
// subtotal = sum of item amounts, discount = percentage of subtotal or flat,
// total = subtotal - discount, floored at zero. Amounts are rounded to cents.
func ComputeTotals(items []Item, discount Discount) Totals {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Amount)
	}
	subtotal = subtotal.Round(2)

	discountAmount := decimal.Zero
	switch discount.Type {
	case enum.DiscountTypePercentage:
		discountAmount = subtotal.Mul(discount.Value).Div(decimal.NewFromInt(100)).Round(2)
	case enum.DiscountTypeFixed:
		discountAmount = discount.Value.Round(2)
	}

	total := subtotal.Sub(discountAmount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return Totals{Subtotal: subtotal, DiscountAmount: discountAmount, Total: total}
}

// Order is the central entity.
type Order struct {
	ID           uuid.UUID
	StationID    uuid.UUID
	CustomerName string
	Items        []Item
	Discount     Discount

	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
	Paid           decimal.Decimal
	Balance        decimal.Decimal
	Change         decimal.Decimal
	Payment        string

	Stage             string
	Archived          bool
	ScheduledDeleteAt *time.Time
	ConvertedOrderID  *uuid.UUID

	LastEditedBy string
	LastEditedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// ClientRef is the queued operation id a replayed create came from.
	ClientRef string

	// Synthetic marks a desk-side projection of a queued operation.
	Synthetic         bool
	QueuedOperationID string
}

// Ledger returns the payment view of o.
func (o Order) Ledger() payment.Ledger {
	return payment.Ledger{
		Total:   o.Total,
		Paid:    o.Paid,
		Balance: o.Balance,
		Change:  o.Change,
		Status:  o.Payment,
	}
}

// SetLedger copies a payment ledger onto o.
func (o *Order) SetLedger(l payment.Ledger) {
	o.Total = l.Total
	o.Paid = l.Paid
	o.Balance = l.Balance
	o.Change = l.Change
	o.Payment = l.Status
}

// State returns the lifecycle view of o.
func (o Order) State() lifecycle.State {
	return lifecycle.State{
		Stage:             o.Stage,
		Archived:          o.Archived,
		ScheduledDeleteAt: o.ScheduledDeleteAt,
		ConvertedOrderID:  o.ConvertedOrderID,
	}
}

// SetState copies a lifecycle state onto o.
func (o *Order) SetState(s lifecycle.State) {
	o.Stage = s.Stage
	o.Archived = s.Archived
	o.ScheduledDeleteAt = s.ScheduledDeleteAt
	o.ConvertedOrderID = s.ConvertedOrderID
}

// SetTotals copies computed totals onto o without touching payment fields.
func (o *Order) SetTotals(t Totals) {
	o.Subtotal = t.Subtotal
	o.DiscountAmount = t.DiscountAmount
	o.Total = t.Total
}

// IsDraft reports whether o belongs to the draft axis.
func (o Order) IsDraft() bool {
	return o.Stage == enum.StageDraft || o.Stage == enum.StageConverted || o.Stage == enum.StageCompleted
}

// Check verifies the financial invariants of o.
func (o Order) Check() error {
	return o.Ledger().Check()
}

// ValidateItems checks line items. Drafts may be saved without items.
func ValidateItems(items []Item, draft bool) error {
	if len(items) == 0 && !draft {
		return ErrEmptyItems
	}
	for i, it := range items {
		if strings.TrimSpace(it.ServiceName) == "" {
			return fmt.Errorf("items[%d]: %w", i, ErrMissingServiceName)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("items[%d]: %w", i, ErrInvalidQuantity)
		}
		if it.Amount.IsNegative() {
			return fmt.Errorf("items[%d]: %w", i, ErrInvalidAmount)
		}
		if it.Status != "" && !IsValidItemStatus(it.Status) {
			return fmt.Errorf("items[%d]: %w", i, ErrInvalidItemStatus)
		}
	}
	return nil
}

// ValidateDiscount checks an order-level discount.
func ValidateDiscount(d Discount) error {
	switch d.Type {
	case "":
		return nil
	case enum.DiscountTypePercentage:
		if d.Value.IsNegative() || d.Value.GreaterThan(decimal.NewFromInt(100)) {
			return ErrInvalidDiscountValue
		}
	case enum.DiscountTypeFixed:
		if d.Value.IsNegative() {
			return ErrInvalidDiscountValue
		}
	default:
		return ErrInvalidDiscount
	}
	return nil
}

// IsValidItemStatus checks if s is a fulfillment status.
func IsValidItemStatus(s string) bool {
	switch s {
	case enum.ItemStatusPending, enum.ItemStatusInProgress,
		enum.ItemStatusReadyForPickup, enum.ItemStatusCompleted:
		return true
	}
	return false
}

// NormalizeItems fills defaults: a missing status becomes PENDING.
func NormalizeItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		if it.Status == "" {
			it.Status = enum.ItemStatusPending
		}
		it.ServiceName = strings.TrimSpace(it.ServiceName)
		out[i] = it
	}
	return out
}

// SameAmounts reports whether two item lists price identically, ignoring
// fulfillment status. Status-only edits are allowed on paid orders.
func SameAmounts(a, b []Item) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ServiceName != b[i].ServiceName || a[i].Quantity != b[i].Quantity || !a[i].Amount.Equal(b[i].Amount) {
			return false
		}
	}
	return true
}
