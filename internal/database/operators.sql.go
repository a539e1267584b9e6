package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const operatorColumns = `id, station_id, email, full_name, role, password_hash, is_active, created_at, updated_at`

func scanOperator(row interface{ Scan(...any) error }) (Operator, error) {
	var i Operator
	err := row.Scan(
		&i.ID,
		&i.StationID,
		&i.Email,
		&i.FullName,
		&i.Role,
		&i.PasswordHash,
		&i.IsActive,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getOperatorByEmail = `SELECT ` + operatorColumns + ` FROM operators
WHERE email = $1 AND is_active = true`

func (q *Queries) GetOperatorByEmail(ctx context.Context, email string) (Operator, error) {
	return scanOperator(q.db.QueryRow(ctx, getOperatorByEmail, email))
}

const getOperatorByID = `SELECT ` + operatorColumns + ` FROM operators
WHERE id = $1 AND is_active = true`

func (q *Queries) GetOperatorByID(ctx context.Context, id uuid.UUID) (Operator, error) {
	return scanOperator(q.db.QueryRow(ctx, getOperatorByID, id))
}

const createOperator = `INSERT INTO operators (station_id, email, full_name, role, password_hash)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (email) DO UPDATE SET updated_at = now()
RETURNING ` + operatorColumns

type CreateOperatorParams struct {
	StationID    uuid.UUID `json:"station_id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"password_hash"`
}

func (q *Queries) CreateOperator(ctx context.Context, arg CreateOperatorParams) (Operator, error) {
	row := q.db.QueryRow(ctx, createOperator,
		arg.StationID,
		arg.Email,
		arg.FullName,
		arg.Role,
		arg.PasswordHash,
	)
	return scanOperator(row)
}

const createStation = `INSERT INTO stations (name, address) VALUES ($1, $2)
RETURNING id, name, address, created_at`

type CreateStationParams struct {
	Name    string      `json:"name"`
	Address pgtype.Text `json:"address"`
}

func (q *Queries) CreateStation(ctx context.Context, arg CreateStationParams) (Station, error) {
	row := q.db.QueryRow(ctx, createStation, arg.Name, arg.Address)
	var i Station
	err := row.Scan(&i.ID, &i.Name, &i.Address, &i.CreatedAt)
	return i, err
}
