// Package payment is the payment state machine for a single order. It owns
// the only code that derives paid, balance, change and payment status, so the
// order store and the desk client's offline projections agree to the cent.
package payment

import (
	"fmt"

	"github.com/laundryhub/api/internal/apperr"
	"github.com/laundryhub/api/internal/enum"
	"github.com/shopspring/decimal"
)

// Errors returned when a payment transition is rejected. All of them match
// apperr.ErrPaymentValidation.
var (
	ErrAmountRequired  = fmt.Errorf("%w: payment amount is required", apperr.ErrPaymentValidation)
	ErrNegativeAmount  = fmt.Errorf("%w: payment amount must not be negative", apperr.ErrPaymentValidation)
	ErrZeroPartial     = fmt.Errorf("%w: partial payment must be greater than zero", apperr.ErrPaymentValidation)
	ErrUnderpaid       = fmt.Errorf("%w: cannot mark paid while underpaid", apperr.ErrPaymentValidation)
	ErrCoveringPartial = fmt.Errorf("%w: payment covers the total, mark the order as paid instead", apperr.ErrPaymentValidation)
	ErrPaidFrozen      = fmt.Errorf("%w: order is already paid", apperr.ErrPaymentValidation)
	ErrInvalidTarget   = fmt.Errorf("%w: invalid payment status", apperr.ErrPaymentValidation)
)

// Ledger is the financial state of one order.
type Ledger struct {
	Total   decimal.Decimal
	Paid    decimal.Decimal
	Balance decimal.Decimal
	Change  decimal.Decimal
	Status  string
}

// Request asks for a payment status change. Amount is the increment received
// with this request; it is added to the cumulative paid amount.
type Request struct {
	Target string
	Amount decimal.NullDecimal
}

// Settle computes balance and change from total and cumulative paid.
// At most one of the two is positive.
func Settle(total, paid decimal.Decimal) (balance, change decimal.Decimal) {
	balance = total.Sub(paid)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	change = paid.Sub(total)
	if change.IsNegative() {
		change = decimal.Zero
	}
	return balance, change
}

// Open returns the ledger of a fresh, unpaid order.
func Open(total decimal.Decimal) Ledger {
	balance, change := Settle(total, decimal.Zero)
	return Ledger{
		Total:   total,
		Paid:    decimal.Zero,
		Balance: balance,
		Change:  change,
		Status:  enum.PaymentStatusUnpaid,
	}
}

// Derive classifies an already-recorded total/paid pair.
func Derive(total, paid decimal.Decimal) Ledger {
	balance, change := Settle(total, paid)
	status := enum.PaymentStatusPaid
	switch {
	case !paid.IsPositive():
		status = enum.PaymentStatusUnpaid
	case paid.LessThan(total):
		status = enum.PaymentStatusPartial
	}
	return Ledger{Total: total, Paid: paid, Balance: balance, Change: change, Status: status}
}

// Apply validates req against l and returns the resulting ledger. On error l
// is returned unchanged.
func Apply(l Ledger, req Request) (Ledger, error) {
	switch req.Target {
	case enum.PaymentStatusPaid:
		if l.Status == enum.PaymentStatusPaid {
			// Paid orders are frozen; amounts are kept as recorded.
			return l, nil
		}
		amount, err := requireAmount(req)
		if err != nil {
			return l, err
		}
		paid := l.Paid.Add(amount)
		if paid.LessThan(l.Total) {
			return l, fmt.Errorf("%w (total %s, paid %s)", ErrUnderpaid, l.Total.StringFixed(2), paid.StringFixed(2))
		}
		_, change := Settle(l.Total, paid)
		return Ledger{
			Total:   l.Total,
			Paid:    paid,
			Balance: decimal.Zero,
			Change:  change,
			Status:  enum.PaymentStatusPaid,
		}, nil

	case enum.PaymentStatusPartial:
		if l.Status == enum.PaymentStatusPaid {
			return l, ErrPaidFrozen
		}
		amount, err := requireAmount(req)
		if err != nil {
			return l, err
		}
		if !amount.IsPositive() {
			return l, ErrZeroPartial
		}
		paid := l.Paid.Add(amount)
		if paid.GreaterThanOrEqual(l.Total) {
			return l, ErrCoveringPartial
		}
		balance, _ := Settle(l.Total, paid)
		return Ledger{
			Total:   l.Total,
			Paid:    paid,
			Balance: balance,
			Change:  decimal.Zero,
			Status:  enum.PaymentStatusPartial,
		}, nil

	case enum.PaymentStatusUnpaid:
		if l.Status == enum.PaymentStatusUnpaid {
			return l, nil
		}
		return l, fmt.Errorf("%w: cannot return a %s order to UNPAID", ErrInvalidTarget, l.Status)
	}
	return l, ErrInvalidTarget
}

// Reprice recomputes l after the order total changed because of an item or
// discount edit. Paid totals are frozen and a partial order is never silently
// promoted to paid.
func Reprice(l Ledger, total decimal.Decimal) (Ledger, error) {
	switch l.Status {
	case enum.PaymentStatusPaid:
		if !total.Equal(l.Total) {
			return l, ErrPaidFrozen
		}
		return l, nil
	case enum.PaymentStatusPartial:
		if l.Paid.GreaterThanOrEqual(total) {
			return l, ErrCoveringPartial
		}
	}
	balance, change := Settle(total, l.Paid)
	return Ledger{Total: total, Paid: l.Paid, Balance: balance, Change: change, Status: l.Status}, nil
}

// Editable reports whether payment fields may still be changed.
func Editable(status string) bool {
	return status != enum.PaymentStatusPaid
}

// IsValidStatus checks if s is one of the payment statuses.
func IsValidStatus(s string) bool {
	switch s {
	case enum.PaymentStatusUnpaid, enum.PaymentStatusPartial, enum.PaymentStatusPaid:
		return true
	}
	return false
}

// Check verifies the ledger invariants.
func (l Ledger) Check() error {
	if l.Paid.IsNegative() {
		return fmt.Errorf("%w: paid is negative", apperr.ErrPaymentValidation)
	}
	if l.Balance.IsPositive() && l.Change.IsPositive() {
		return fmt.Errorf("%w: balance and change are both positive", apperr.ErrPaymentValidation)
	}
	if l.Status == enum.PaymentStatusPaid && !l.Balance.IsZero() {
		return fmt.Errorf("%w: paid order has a balance", apperr.ErrPaymentValidation)
	}
	return nil
}

func requireAmount(req Request) (decimal.Decimal, error) {
	if !req.Amount.Valid {
		return decimal.Zero, ErrAmountRequired
	}
	if req.Amount.Decimal.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	return req.Amount.Decimal, nil
}
