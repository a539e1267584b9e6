package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type Station struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	Address   pgtype.Text `json:"address"`
	CreatedAt time.Time   `json:"created_at"`
}

type Operator struct {
	ID           uuid.UUID `json:"id"`
	StationID    uuid.UUID `json:"station_id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"password_hash"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Order struct {
	ID                uuid.UUID          `json:"id"`
	StationID         uuid.UUID          `json:"station_id"`
	CustomerName      string             `json:"customer_name"`
	DiscountType      pgtype.Text        `json:"discount_type"`
	DiscountValue     pgtype.Numeric     `json:"discount_value"`
	Subtotal          pgtype.Numeric     `json:"subtotal"`
	DiscountAmount    pgtype.Numeric     `json:"discount_amount"`
	TotalAmount       pgtype.Numeric     `json:"total_amount"`
	PaidAmount        pgtype.Numeric     `json:"paid_amount"`
	Balance           pgtype.Numeric     `json:"balance"`
	ChangeAmount      pgtype.Numeric     `json:"change_amount"`
	PaymentStatus     string             `json:"payment_status"`
	Stage             string             `json:"stage"`
	IsArchived        bool               `json:"is_archived"`
	ScheduledDeleteAt pgtype.Timestamptz `json:"scheduled_delete_at"`
	ConvertedOrderID  pgtype.UUID        `json:"converted_order_id"`
	ClientRef         pgtype.Text        `json:"client_ref"`
	LastEditedBy      pgtype.Text        `json:"last_edited_by"`
	LastEditedAt      pgtype.Timestamptz `json:"last_edited_at"`
	CreatedBy         uuid.UUID          `json:"created_by"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

type OrderItem struct {
	ID          uuid.UUID      `json:"id"`
	OrderID     uuid.UUID      `json:"order_id"`
	Position    int32          `json:"position"`
	ServiceName string         `json:"service_name"`
	Quantity    int32          `json:"quantity"`
	Amount      pgtype.Numeric `json:"amount"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
}

type EditLock struct {
	OrderID    uuid.UUID `json:"order_id"`
	HolderID   uuid.UUID `json:"holder_id"`
	HolderName string    `json:"holder_name"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
