package order

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/apperr"
	"github.com/laundryhub/api/internal/enum"
	"github.com/laundryhub/api/internal/lifecycle"
	"github.com/laundryhub/api/internal/payment"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func items(amounts ...string) []Item {
	out := make([]Item, len(amounts))
	for i, a := range amounts {
		out[i] = Item{ServiceName: "Wash & Fold", Quantity: 1, Amount: d(a)}
	}
	return out
}

func TestComputeTotals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		items    []Item
		discount Discount
		subtotal string
		discAmt  string
		total    string
	}{
		{name: "no discount", items: items("150", "350"), subtotal: "500", discAmt: "0", total: "500"},
		{name: "percentage", items: items("150", "350"), discount: Discount{Type: enum.DiscountTypePercentage, Value: d("10")}, subtotal: "500", discAmt: "50", total: "450"},
		{name: "percentage rounds to cents", items: items("99.99"), discount: Discount{Type: enum.DiscountTypePercentage, Value: d("15")}, subtotal: "99.99", discAmt: "15", total: "84.99"},
		{name: "flat", items: items("200"), discount: Discount{Type: enum.DiscountTypeFixed, Value: d("25.50")}, subtotal: "200", discAmt: "25.5", total: "174.5"},
		{name: "flat larger than subtotal floors at zero", items: items("20"), discount: Discount{Type: enum.DiscountTypeFixed, Value: d("50")}, subtotal: "20", discAmt: "50", total: "0"},
		{name: "empty draft", items: nil, subtotal: "0", discAmt: "0", total: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ComputeTotals(tt.items, tt.discount)
			if !got.Subtotal.Equal(d(tt.subtotal)) {
				t.Errorf("subtotal = %s, want %s", got.Subtotal, tt.subtotal)
			}
			if !got.DiscountAmount.Equal(d(tt.discAmt)) {
				t.Errorf("discount = %s, want %s", got.DiscountAmount, tt.discAmt)
			}
			if !got.Total.Equal(d(tt.total)) {
				t.Errorf("total = %s, want %s", got.Total, tt.total)
			}
		})
	}
}

func TestValidateItems(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		items   []Item
		draft   bool
		wantErr error
	}{
		{name: "ok", items: items("10")},
		{name: "empty order", items: nil, wantErr: ErrEmptyItems},
		{name: "empty draft", items: nil, draft: true},
		{name: "blank service", items: []Item{{ServiceName: "  ", Quantity: 1, Amount: d("1")}}, wantErr: ErrMissingServiceName},
		{name: "zero quantity", items: []Item{{ServiceName: "Dry Clean", Quantity: 0, Amount: d("1")}}, wantErr: ErrInvalidQuantity},
		{name: "negative amount", items: []Item{{ServiceName: "Dry Clean", Quantity: 1, Amount: d("-1")}}, wantErr: ErrInvalidAmount},
		{name: "bad status", items: []Item{{ServiceName: "Dry Clean", Quantity: 1, Amount: d("1"), Status: "LOST"}}, wantErr: ErrInvalidItemStatus},
		{name: "ready for pickup", items: []Item{{ServiceName: "Dry Clean", Quantity: 1, Amount: d("1"), Status: enum.ItemStatusReadyForPickup}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateItems(tt.items, tt.draft)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) || !errors.Is(err, apperr.ErrInvalidInput) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateDiscount(t *testing.T) {
	cases := map[string]struct {
		d       Discount
		wantErr error
	}{
		"none":           {Discount{}, nil},
		"10 percent":     {Discount{Type: enum.DiscountTypePercentage, Value: d("10")}, nil},
		"101 percent":    {Discount{Type: enum.DiscountTypePercentage, Value: d("101")}, ErrInvalidDiscountValue},
		"negative flat":  {Discount{Type: enum.DiscountTypeFixed, Value: d("-5")}, ErrInvalidDiscountValue},
		"unknown type":   {Discount{Type: "BOGO", Value: d("1")}, ErrInvalidDiscount},
		"flat over cost": {Discount{Type: enum.DiscountTypeFixed, Value: d("100000")}, nil},
	}
	for name, tc := range cases {
		if err := ValidateDiscount(tc.d); !errors.Is(err, tc.wantErr) {
			t.Errorf("%s: got %v, want %v", name, err, tc.wantErr)
		}
	}
}

func TestNormalizeItems(t *testing.T) {
	in := []Item{{ServiceName: " Ironing ", Quantity: 2, Amount: d("80")}}
	out := NormalizeItems(in)
	if out[0].Status != enum.ItemStatusPending || out[0].ServiceName != "Ironing" {
		t.Fatalf("unexpected normalized item %+v", out[0])
	}
	if in[0].Status != "" {
		t.Fatal("NormalizeItems must not mutate its input")
	}
}

func TestSameAmounts(t *testing.T) {
	a := items("10", "20")
	b := items("10.00", "20")
	b[1].Status = enum.ItemStatusCompleted
	if !SameAmounts(a, b) {
		t.Fatal("status-only change should keep amounts the same")
	}
	if SameAmounts(a, items("10", "21")) || SameAmounts(a, items("10")) {
		t.Fatal("different amounts reported as same")
	}
}

func TestLedgerAndStateRoundTrip(t *testing.T) {
	var o Order
	o.SetTotals(ComputeTotals(items("500"), Discount{}))
	l, err := payment.Apply(payment.Open(o.Total), payment.Request{
		Target: enum.PaymentStatusPartial,
		Amount: decimal.NewNullDecimal(d("200")),
	})
	if err != nil {
		t.Fatal(err)
	}
	o.SetLedger(l)
	if !o.Balance.Equal(d("300")) || o.Payment != enum.PaymentStatusPartial {
		t.Fatalf("unexpected ledger on order: %+v", o.Ledger())
	}
	if err := o.Check(); err != nil {
		t.Fatal(err)
	}

	id := uuid.New()
	o.SetState(lifecycle.State{Stage: enum.StageConverted, ConvertedOrderID: &id})
	if !o.IsDraft() || o.State().ConvertedOrderID == nil || *o.State().ConvertedOrderID != id {
		t.Fatalf("unexpected state %+v", o.State())
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	o, err := New(Input{
		CustomerName: " Maria ",
		Items:        items("150", "350"),
		Payment: &payment.Request{
			Target: enum.PaymentStatusPartial,
			Amount: decimal.NewNullDecimal(d("200")),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if o.CustomerName != "Maria" || o.Stage != enum.StageOpen {
		t.Fatalf("unexpected order header %+v", o)
	}
	if !o.Total.Equal(d("500")) || !o.Paid.Equal(d("200")) || !o.Balance.Equal(d("300")) || !o.Change.IsZero() {
		t.Fatalf("unexpected ledger %+v", o.Ledger())
	}
	if o.Items[0].Status != enum.ItemStatusPending {
		t.Fatalf("items not normalized: %+v", o.Items[0])
	}

	draft, err := New(Input{Draft: true})
	if err != nil {
		t.Fatal(err)
	}
	if draft.Stage != enum.StageDraft || draft.Payment != enum.PaymentStatusUnpaid {
		t.Fatalf("unexpected draft %+v", draft)
	}

	_, err = New(Input{
		Items:   items("500"),
		Payment: &payment.Request{Target: enum.PaymentStatusPaid, Amount: decimal.NewNullDecimal(d("100"))},
	})
	if !errors.Is(err, payment.ErrUnderpaid) {
		t.Fatalf("expected ErrUnderpaid, got %v", err)
	}
}

func TestApplyPatch(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	base := func(t *testing.T) Order {
		o, err := New(Input{Items: items("500")})
		if err != nil {
			t.Fatal(err)
		}
		return o
	}

	t.Run("partial then paid", func(t *testing.T) {
		o := base(t)
		o, err := ApplyPatch(o, Patch{Payment: &payment.Request{Target: enum.PaymentStatusPartial, Amount: decimal.NewNullDecimal(d("200"))}}, now)
		if err != nil {
			t.Fatal(err)
		}
		_, err = ApplyPatch(o, Patch{Payment: &payment.Request{Target: enum.PaymentStatusPartial, Amount: decimal.NewNullDecimal(d("300"))}}, now)
		if !errors.Is(err, payment.ErrCoveringPartial) {
			t.Fatalf("expected ErrCoveringPartial, got %v", err)
		}
		o, err = ApplyPatch(o, Patch{Payment: &payment.Request{Target: enum.PaymentStatusPaid, Amount: decimal.NewNullDecimal(d("300"))}}, now)
		if err != nil {
			t.Fatal(err)
		}
		if !o.Paid.Equal(d("500")) || !o.Balance.IsZero() || !o.Change.IsZero() || o.Payment != enum.PaymentStatusPaid {
			t.Fatalf("unexpected ledger %+v", o.Ledger())
		}
	})

	t.Run("repricing keeps paid and recomputes balance", func(t *testing.T) {
		o := base(t)
		o, _ = ApplyPatch(o, Patch{Payment: &payment.Request{Target: enum.PaymentStatusPartial, Amount: decimal.NewNullDecimal(d("100"))}}, now)
		o, err := ApplyPatch(o, Patch{Items: items("500", "100")}, now)
		if err != nil {
			t.Fatal(err)
		}
		if !o.Total.Equal(d("600")) || !o.Balance.Equal(d("500")) {
			t.Fatalf("unexpected ledger %+v", o.Ledger())
		}
	})

	t.Run("paid order allows status-only item edits", func(t *testing.T) {
		o := base(t)
		o, _ = ApplyPatch(o, Patch{Payment: &payment.Request{Target: enum.PaymentStatusPaid, Amount: decimal.NewNullDecimal(d("500"))}}, now)
		edited := items("500")
		edited[0].Status = enum.ItemStatusReadyForPickup
		o, err := ApplyPatch(o, Patch{Items: edited}, now)
		if err != nil {
			t.Fatal(err)
		}
		if o.Items[0].Status != enum.ItemStatusReadyForPickup {
			t.Fatalf("status not updated: %+v", o.Items[0])
		}
		if _, err := ApplyPatch(o, Patch{Items: items("450")}, now); !errors.Is(err, payment.ErrPaidFrozen) {
			t.Fatalf("expected ErrPaidFrozen, got %v", err)
		}
	})

	t.Run("completed order is frozen", func(t *testing.T) {
		o := base(t)
		id := uuid.New()
		o.SetState(lifecycle.State{Stage: enum.StageCompleted, ConvertedOrderID: &id})
		name := "changed"
		if _, err := ApplyPatch(o, Patch{CustomerName: &name}, now); !errors.Is(err, lifecycle.ErrCompleted) {
			t.Fatalf("expected ErrCompleted, got %v", err)
		}
	})
}
