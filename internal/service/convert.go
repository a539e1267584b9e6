package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/laundryhub/api/internal/database"
	"github.com/laundryhub/api/internal/order"
	"github.com/shopspring/decimal"
)

// toOrder assembles the order model from its row and item rows.
func toOrder(row database.Order, items []database.OrderItem) order.Order {
	o := order.Order{
		ID:             row.ID,
		StationID:      row.StationID,
		CustomerName:   row.CustomerName,
		Items:          make([]order.Item, len(items)),
		Subtotal:       numericToDecimal(row.Subtotal),
		DiscountAmount: numericToDecimal(row.DiscountAmount),
		Total:          numericToDecimal(row.TotalAmount),
		Paid:           numericToDecimal(row.PaidAmount),
		Balance:        numericToDecimal(row.Balance),
		Change:         numericToDecimal(row.ChangeAmount),
		Payment:        row.PaymentStatus,
		Stage:          row.Stage,
		Archived:       row.IsArchived,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	for i, it := range items {
		o.Items[i] = order.Item{
			ID:          it.ID,
			ServiceName: it.ServiceName,
			Quantity:    it.Quantity,
			Amount:      numericToDecimal(it.Amount),
			Status:      it.Status,
		}
	}
	if row.DiscountType.Valid {
		o.Discount = order.Discount{Type: row.DiscountType.String, Value: numericToDecimal(row.DiscountValue)}
	}
	o.ScheduledDeleteAt = timePtr(row.ScheduledDeleteAt)
	o.LastEditedAt = timePtr(row.LastEditedAt)
	if row.ConvertedOrderID.Valid {
		id := uuid.UUID(row.ConvertedOrderID.Bytes)
		o.ConvertedOrderID = &id
	}
	if row.ClientRef.Valid {
		o.ClientRef = row.ClientRef.String
	}
	if row.LastEditedBy.Valid {
		o.LastEditedBy = row.LastEditedBy.String
	}
	return o
}

func discountParams(d order.Discount) (pgtype.Text, pgtype.Numeric) {
	if d.IsZero() {
		return pgtype.Text{}, pgtype.Numeric{}
	}
	return pgtype.Text{String: d.Type, Valid: true}, decimalToNumeric(d.Value)
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

func toTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func toPgUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func optionalText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
