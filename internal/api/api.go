// Package api holds the JSON shapes exchanged between the order store and the
// desk client, and their conversion to and from the order model. Money
// travels as strings with two fixed decimals.
package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/apperr"
	"github.com/laundryhub/api/internal/lifecycle"
	"github.com/laundryhub/api/internal/order"
	"github.com/laundryhub/api/internal/payment"
	"github.com/shopspring/decimal"
)

type OrderItem struct {
	ID          *uuid.UUID `json:"id,omitempty"`
	ServiceName string     `json:"service_name"`
	Quantity    int32      `json:"quantity"`
	Amount      string     `json:"amount"`
	Status      string     `json:"status,omitempty"`
}

// Payment requests a payment status change. Amount is the increment
// received with this request.
type Payment struct {
	Status string `json:"status"`
	Amount string `json:"amount,omitempty"`
}

type CreateOrderRequest struct {
	CustomerName  string      `json:"customer_name"`
	IsDraft       bool        `json:"is_draft"`
	Items         []OrderItem `json:"items"`
	DiscountType  string      `json:"discount_type,omitempty"`
	DiscountValue string      `json:"discount_value,omitempty"`
	Payment       *Payment    `json:"payment,omitempty"`
	// ClientRef makes replays of a queued create idempotent.
	ClientRef string `json:"client_ref,omitempty"`
}

type UpdateOrderRequest struct {
	CustomerName  *string     `json:"customer_name,omitempty"`
	Items         []OrderItem `json:"items"`
	DiscountType  *string     `json:"discount_type,omitempty"`
	DiscountValue *string     `json:"discount_value,omitempty"`
	Payment       *Payment    `json:"payment,omitempty"`
}

type Order struct {
	ID                uuid.UUID              `json:"id"`
	StationID         uuid.UUID              `json:"station_id"`
	CustomerName      string                 `json:"customer_name"`
	Items             []OrderItem            `json:"items"`
	DiscountType      *string                `json:"discount_type"`
	DiscountValue     *string                `json:"discount_value"`
	Subtotal          string                 `json:"subtotal"`
	DiscountAmount    string                 `json:"discount_amount"`
	Total             string                 `json:"total"`
	Paid              string                 `json:"paid"`
	Balance           string                 `json:"balance"`
	Change            string                 `json:"change"`
	PaymentStatus     string                 `json:"payment_status"`
	Stage             string                 `json:"stage"`
	IsArchived        bool                   `json:"is_archived"`
	ScheduledDeleteAt *time.Time             `json:"scheduled_delete_at"`
	ConvertedOrderID  *uuid.UUID             `json:"converted_order_id"`
	ClientRef         *string                `json:"client_ref"`
	LastEditedBy      *string                `json:"last_edited_by"`
	LastEditedAt      *time.Time             `json:"last_edited_at"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
	Affordances       *lifecycle.Affordances `json:"affordances,omitempty"`
}

type LockStatus struct {
	OrderID        uuid.UUID  `json:"order_id"`
	Locked         bool       `json:"locked"`
	Holder         string     `json:"holder,omitempty"`
	LockedByViewer bool       `json:"locked_by_viewer"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	Operator     Operator `json:"operator"`
}

type Operator struct {
	ID        uuid.UUID `json:"id"`
	StationID uuid.UUID `json:"station_id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
}

type OrderList struct {
	Orders []Order `json:"orders"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// ConvertResponse holds the converted draft and the order created from it.
type ConvertResponse struct {
	Draft Order `json:"draft"`
	Order Order `json:"order"`
}

type SweepResponse struct {
	ExpiredLocks  int64 `json:"expired_locks"`
	DeletedDrafts int   `json:"deleted_drafts"`
}

// ErrorResponse is the body of every failed request. Kind is apperr.Kind of
// the failure so clients can tell a stale lease from other conflicts.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Holder string `json:"holder,omitempty"`
}

func invalid(field string) error {
	return fmt.Errorf("%w: invalid %s", apperr.ErrInvalidInput, field)
}

// ParseAmount parses a money string. An empty string is an error, as is
// an amount finer than a cent: the store keeps two decimal places.
func ParseAmount(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil || !wholeCents(d) {
		return decimal.Zero, invalid(field)
	}
	return d, nil
}

func wholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

func ParseItems(in []OrderItem) ([]order.Item, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]order.Item, len(in))
	for i, it := range in {
		amount, err := ParseAmount(fmt.Sprintf("items[%d].amount", i), it.Amount)
		if err != nil {
			return nil, err
		}
		out[i] = order.Item{
			ServiceName: it.ServiceName,
			Quantity:    it.Quantity,
			Amount:      amount,
			Status:      it.Status,
		}
		if it.ID != nil {
			out[i].ID = *it.ID
		}
	}
	return out, nil
}

func ParseDiscount(discountType, value string) (order.Discount, error) {
	if discountType == "" {
		return order.Discount{}, nil
	}
	v, err := ParseAmount("discount_value", value)
	if err != nil {
		return order.Discount{}, order.ErrInvalidDiscountValue
	}
	return order.Discount{Type: discountType, Value: v}, nil
}

func ParsePayment(p *Payment) (*payment.Request, error) {
	if p == nil {
		return nil, nil
	}
	if !payment.IsValidStatus(p.Status) {
		return nil, payment.ErrInvalidTarget
	}
	req := &payment.Request{Target: p.Status}
	if p.Amount != "" {
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil || !wholeCents(amount) {
			return nil, fmt.Errorf("%w: invalid payment amount", apperr.ErrPaymentValidation)
		}
		req.Amount = decimal.NewNullDecimal(amount)
	}
	return req, nil
}

// Input converts a create request into the order model's input.
func (r CreateOrderRequest) Input(stationID uuid.UUID) (order.Input, error) {
	items, err := ParseItems(r.Items)
	if err != nil {
		return order.Input{}, err
	}
	discount, err := ParseDiscount(r.DiscountType, r.DiscountValue)
	if err != nil {
		return order.Input{}, err
	}
	pay, err := ParsePayment(r.Payment)
	if err != nil {
		return order.Input{}, err
	}
	return order.Input{
		StationID:    stationID,
		CustomerName: r.CustomerName,
		Draft:        r.IsDraft,
		Items:        items,
		Discount:     discount,
		Payment:      pay,
	}, nil
}

// Patch converts an update request into an order patch. Clearing the
// discount is done by sending an empty discount_type.
func (r UpdateOrderRequest) Patch() (order.Patch, error) {
	items, err := ParseItems(r.Items)
	if err != nil {
		return order.Patch{}, err
	}
	p := order.Patch{CustomerName: r.CustomerName, Items: items}
	if r.DiscountType != nil {
		value := ""
		if r.DiscountValue != nil {
			value = *r.DiscountValue
		}
		d, err := ParseDiscount(*r.DiscountType, value)
		if err != nil {
			return order.Patch{}, err
		}
		p.Discount = &d
	}
	if p.Payment, err = ParsePayment(r.Payment); err != nil {
		return order.Patch{}, err
	}
	return p, nil
}

// FromOrder renders o for the wire.
func FromOrder(o order.Order) Order {
	resp := Order{
		ID:                o.ID,
		StationID:         o.StationID,
		CustomerName:      o.CustomerName,
		Items:             make([]OrderItem, len(o.Items)),
		Subtotal:          o.Subtotal.StringFixed(2),
		DiscountAmount:    o.DiscountAmount.StringFixed(2),
		Total:             o.Total.StringFixed(2),
		Paid:              o.Paid.StringFixed(2),
		Balance:           o.Balance.StringFixed(2),
		Change:            o.Change.StringFixed(2),
		PaymentStatus:     o.Payment,
		Stage:             o.Stage,
		IsArchived:        o.Archived,
		ScheduledDeleteAt: o.ScheduledDeleteAt,
		ConvertedOrderID:  o.ConvertedOrderID,
		LastEditedAt:      o.LastEditedAt,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
	for i, it := range o.Items {
		resp.Items[i] = OrderItem{
			ServiceName: it.ServiceName,
			Quantity:    it.Quantity,
			Amount:      it.Amount.StringFixed(2),
			Status:      it.Status,
		}
		if it.ID != uuid.Nil {
			id := it.ID
			resp.Items[i].ID = &id
		}
	}
	if !o.Discount.IsZero() {
		t, v := o.Discount.Type, o.Discount.Value.StringFixed(2)
		resp.DiscountType = &t
		resp.DiscountValue = &v
	}
	if o.ClientRef != "" {
		ref := o.ClientRef
		resp.ClientRef = &ref
	}
	if o.LastEditedBy != "" {
		by := o.LastEditedBy
		resp.LastEditedBy = &by
	}
	return resp
}

// ToOrder parses a wire order back into the model.
func (r Order) ToOrder() (order.Order, error) {
	o := order.Order{
		ID:                r.ID,
		StationID:         r.StationID,
		CustomerName:      r.CustomerName,
		Payment:           r.PaymentStatus,
		Stage:             r.Stage,
		Archived:          r.IsArchived,
		ScheduledDeleteAt: r.ScheduledDeleteAt,
		ConvertedOrderID:  r.ConvertedOrderID,
		LastEditedAt:      r.LastEditedAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	items, err := ParseItems(r.Items)
	if err != nil {
		return order.Order{}, err
	}
	o.Items = items
	if r.DiscountType != nil {
		value := ""
		if r.DiscountValue != nil {
			value = *r.DiscountValue
		}
		if o.Discount, err = ParseDiscount(*r.DiscountType, value); err != nil {
			return order.Order{}, err
		}
	}
	fields := []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"subtotal", r.Subtotal, &o.Subtotal},
		{"discount_amount", r.DiscountAmount, &o.DiscountAmount},
		{"total", r.Total, &o.Total},
		{"paid", r.Paid, &o.Paid},
		{"balance", r.Balance, &o.Balance},
		{"change", r.Change, &o.Change},
	}
	for _, f := range fields {
		if *f.dst, err = ParseAmount(f.name, f.src); err != nil {
			return order.Order{}, err
		}
	}
	if r.ClientRef != nil {
		o.ClientRef = *r.ClientRef
	}
	if r.LastEditedBy != nil {
		o.LastEditedBy = *r.LastEditedBy
	}
	return o, nil
}
