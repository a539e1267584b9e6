package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, station_id, customer_name, discount_type, discount_value, subtotal,
    discount_amount, total_amount, paid_amount, balance, change_amount, payment_status,
    stage, is_archived, scheduled_delete_at, converted_order_id, client_ref,
    last_edited_by, last_edited_at, created_by, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.StationID,
		&i.CustomerName,
		&i.DiscountType,
		&i.DiscountValue,
		&i.Subtotal,
		&i.DiscountAmount,
		&i.TotalAmount,
		&i.PaidAmount,
		&i.Balance,
		&i.ChangeAmount,
		&i.PaymentStatus,
		&i.Stage,
		&i.IsArchived,
		&i.ScheduledDeleteAt,
		&i.ConvertedOrderID,
		&i.ClientRef,
		&i.LastEditedBy,
		&i.LastEditedAt,
		&i.CreatedBy,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createOrder = `INSERT INTO orders (
    station_id, customer_name, discount_type, discount_value, subtotal, discount_amount,
    total_amount, paid_amount, balance, change_amount, payment_status, stage,
    client_ref, last_edited_by, last_edited_at, created_by
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), $15
)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	StationID      uuid.UUID      `json:"station_id"`
	CustomerName   string         `json:"customer_name"`
	DiscountType   pgtype.Text    `json:"discount_type"`
	DiscountValue  pgtype.Numeric `json:"discount_value"`
	Subtotal       pgtype.Numeric `json:"subtotal"`
	DiscountAmount pgtype.Numeric `json:"discount_amount"`
	TotalAmount    pgtype.Numeric `json:"total_amount"`
	PaidAmount     pgtype.Numeric `json:"paid_amount"`
	Balance        pgtype.Numeric `json:"balance"`
	ChangeAmount   pgtype.Numeric `json:"change_amount"`
	PaymentStatus  string         `json:"payment_status"`
	Stage          string         `json:"stage"`
	ClientRef      pgtype.Text    `json:"client_ref"`
	LastEditedBy   pgtype.Text    `json:"last_edited_by"`
	CreatedBy      uuid.UUID      `json:"created_by"`
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.StationID,
		arg.CustomerName,
		arg.DiscountType,
		arg.DiscountValue,
		arg.Subtotal,
		arg.DiscountAmount,
		arg.TotalAmount,
		arg.PaidAmount,
		arg.Balance,
		arg.ChangeAmount,
		arg.PaymentStatus,
		arg.Stage,
		arg.ClientRef,
		arg.LastEditedBy,
		arg.CreatedBy,
	)
	return scanOrder(row)
}

const getOrder = `SELECT ` + orderColumns + ` FROM orders
WHERE id = $1 AND station_id = $2`

type GetOrderParams struct {
	ID        uuid.UUID `json:"id"`
	StationID uuid.UUID `json:"station_id"`
}

func (q *Queries) GetOrder(ctx context.Context, arg GetOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, getOrder, arg.ID, arg.StationID)
	return scanOrder(row)
}

// FOR NO KEY UPDATE serializes concurrent mutations of one order without
// blocking inserts that reference it.
const getOrderForUpdate = `SELECT ` + orderColumns + ` FROM orders
WHERE id = $1 AND station_id = $2
FOR NO KEY UPDATE`

type GetOrderForUpdateParams struct {
	ID        uuid.UUID `json:"id"`
	StationID uuid.UUID `json:"station_id"`
}

func (q *Queries) GetOrderForUpdate(ctx context.Context, arg GetOrderForUpdateParams) (Order, error) {
	row := q.db.QueryRow(ctx, getOrderForUpdate, arg.ID, arg.StationID)
	return scanOrder(row)
}

const getOrderByClientRef = `SELECT ` + orderColumns + ` FROM orders
WHERE station_id = $1 AND client_ref = $2`

type GetOrderByClientRefParams struct {
	StationID uuid.UUID `json:"station_id"`
	ClientRef string    `json:"client_ref"`
}

func (q *Queries) GetOrderByClientRef(ctx context.Context, arg GetOrderByClientRefParams) (Order, error) {
	row := q.db.QueryRow(ctx, getOrderByClientRef, arg.StationID, arg.ClientRef)
	return scanOrder(row)
}

const listOrders = `SELECT ` + orderColumns + ` FROM orders
WHERE station_id = $1
  AND ($2::boolean IS NULL OR (stage <> 'OPEN') = $2::boolean)
  AND ($3::boolean IS NULL OR is_archived = $3::boolean)
  AND ($4::text IS NULL OR payment_status = $4::text)
ORDER BY created_at DESC, id
LIMIT $5 OFFSET $6`

type ListOrdersParams struct {
	StationID     uuid.UUID   `json:"station_id"`
	IsDraft       pgtype.Bool `json:"is_draft"`
	IsArchived    pgtype.Bool `json:"is_archived"`
	PaymentStatus pgtype.Text `json:"payment_status"`
	Limit         int32       `json:"limit"`
	Offset        int32       `json:"offset"`
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrders,
		arg.StationID,
		arg.IsDraft,
		arg.IsArchived,
		arg.PaymentStatus,
		arg.Limit,
		arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Order{}
	for rows.Next() {
		i, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateOrderContent = `UPDATE orders SET
    customer_name = $2,
    discount_type = $3,
    discount_value = $4,
    subtotal = $5,
    discount_amount = $6,
    total_amount = $7,
    paid_amount = $8,
    balance = $9,
    change_amount = $10,
    payment_status = $11,
    last_edited_by = $12,
    last_edited_at = now(),
    updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

type UpdateOrderContentParams struct {
	ID             uuid.UUID      `json:"id"`
	CustomerName   string         `json:"customer_name"`
	DiscountType   pgtype.Text    `json:"discount_type"`
	DiscountValue  pgtype.Numeric `json:"discount_value"`
	Subtotal       pgtype.Numeric `json:"subtotal"`
	DiscountAmount pgtype.Numeric `json:"discount_amount"`
	TotalAmount    pgtype.Numeric `json:"total_amount"`
	PaidAmount     pgtype.Numeric `json:"paid_amount"`
	Balance        pgtype.Numeric `json:"balance"`
	ChangeAmount   pgtype.Numeric `json:"change_amount"`
	PaymentStatus  string         `json:"payment_status"`
	LastEditedBy   pgtype.Text    `json:"last_edited_by"`
}

func (q *Queries) UpdateOrderContent(ctx context.Context, arg UpdateOrderContentParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderContent,
		arg.ID,
		arg.CustomerName,
		arg.DiscountType,
		arg.DiscountValue,
		arg.Subtotal,
		arg.DiscountAmount,
		arg.TotalAmount,
		arg.PaidAmount,
		arg.Balance,
		arg.ChangeAmount,
		arg.PaymentStatus,
		arg.LastEditedBy,
	)
	return scanOrder(row)
}

const updateOrderLifecycle = `UPDATE orders SET
    stage = $2,
    is_archived = $3,
    scheduled_delete_at = $4,
    converted_order_id = $5,
    last_edited_by = $6,
    last_edited_at = now(),
    updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

type UpdateOrderLifecycleParams struct {
	ID                uuid.UUID          `json:"id"`
	Stage             string             `json:"stage"`
	IsArchived        bool               `json:"is_archived"`
	ScheduledDeleteAt pgtype.Timestamptz `json:"scheduled_delete_at"`
	ConvertedOrderID  pgtype.UUID        `json:"converted_order_id"`
	LastEditedBy      pgtype.Text        `json:"last_edited_by"`
}

func (q *Queries) UpdateOrderLifecycle(ctx context.Context, arg UpdateOrderLifecycleParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderLifecycle,
		arg.ID,
		arg.Stage,
		arg.IsArchived,
		arg.ScheduledDeleteAt,
		arg.ConvertedOrderID,
		arg.LastEditedBy,
	)
	return scanOrder(row)
}

const deleteDueDrafts = `DELETE FROM orders
WHERE stage = 'DRAFT'
  AND scheduled_delete_at IS NOT NULL
  AND scheduled_delete_at <= now()
RETURNING id, station_id`

type DeleteDueDraftsRow struct {
	ID        uuid.UUID `json:"id"`
	StationID uuid.UUID `json:"station_id"`
}

func (q *Queries) DeleteDueDrafts(ctx context.Context) ([]DeleteDueDraftsRow, error) {
	rows, err := q.db.Query(ctx, deleteDueDrafts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []DeleteDueDraftsRow{}
	for rows.Next() {
		var i DeleteDueDraftsRow
		if err := rows.Scan(&i.ID, &i.StationID); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
