package order

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/lifecycle"
	"github.com/laundryhub/api/internal/payment"
)

// Input is the content of a new order as submitted by an operator.
type Input struct {
	StationID    uuid.UUID
	CustomerName string
	Draft        bool
	Items        []Item
	Discount     Discount
	Payment      *payment.Request
}

// New validates in and assembles the order it describes: items normalized,
// totals computed, the optional initial payment applied to an open ledger.
// The order store and the offline projection both go through New.
func New(in Input) (Order, error) {
	if err := ValidateItems(in.Items, in.Draft); err != nil {
		return Order{}, err
	}
	if err := ValidateDiscount(in.Discount); err != nil {
		return Order{}, err
	}

	o := Order{
		StationID:    in.StationID,
		CustomerName: strings.TrimSpace(in.CustomerName),
		Items:        NormalizeItems(in.Items),
		Discount:     in.Discount,
	}
	o.SetTotals(ComputeTotals(o.Items, o.Discount))
	o.SetState(lifecycle.Initial(in.Draft))

	ledger := payment.Open(o.Total)
	if in.Payment != nil {
		var err error
		if ledger, err = payment.Apply(ledger, *in.Payment); err != nil {
			return Order{}, err
		}
	}
	o.SetLedger(ledger)
	return o, nil
}

// Patch is a partial edit. Nil fields are left unchanged; a nil Items slice
// keeps the current items while an empty non-nil slice clears them.
type Patch struct {
	CustomerName *string
	Items        []Item
	Discount     *Discount
	Payment      *payment.Request
}

func (p Patch) touchesPricing() bool {
	return p.Items != nil || p.Discount != nil
}

// ApplyPatch validates p against o and returns the edited order. The
// lifecycle gate runs first so a completed order is refused before any
// payment rule is looked at. On error o is returned unchanged.
func ApplyPatch(o Order, p Patch, now time.Time) (Order, error) {
	if err := lifecycle.CanEdit(o.State(), now); err != nil {
		return o, err
	}

	next := o
	if p.CustomerName != nil {
		next.CustomerName = strings.TrimSpace(*p.CustomerName)
	}

	if p.touchesPricing() {
		if p.Items != nil {
			if err := ValidateItems(p.Items, o.IsDraft()); err != nil {
				return o, err
			}
			next.Items = NormalizeItems(p.Items)
		}
		if p.Discount != nil {
			if err := ValidateDiscount(*p.Discount); err != nil {
				return o, err
			}
			next.Discount = *p.Discount
		}
		totals := ComputeTotals(next.Items, next.Discount)
		ledger, err := payment.Reprice(o.Ledger(), totals.Total)
		if err != nil {
			return o, err
		}
		next.SetTotals(totals)
		next.SetLedger(ledger)
	}

	if p.Payment != nil {
		ledger, err := payment.Apply(next.Ledger(), *p.Payment)
		if err != nil {
			return o, err
		}
		next.SetLedger(ledger)
	}

	if err := next.Check(); err != nil {
		return o, err
	}
	return next, nil
}
