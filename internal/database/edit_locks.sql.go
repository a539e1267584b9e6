package database

import (
	"context"

	"github.com/google/uuid"
)

// acquireEditLock inserts a lease or takes over one that is held by the same
// operator or has expired. It returns no row when a live lease belongs to
// someone else.
const acquireEditLock = `INSERT INTO edit_locks (order_id, holder_id, holder_name, acquired_at, expires_at)
VALUES ($1, $2, $3, now(), now() + make_interval(secs => $4::double precision))
ON CONFLICT (order_id) DO UPDATE SET
    holder_id = EXCLUDED.holder_id,
    holder_name = EXCLUDED.holder_name,
    acquired_at = CASE WHEN edit_locks.holder_id = EXCLUDED.holder_id
                       THEN edit_locks.acquired_at ELSE now() END,
    expires_at = EXCLUDED.expires_at
WHERE edit_locks.holder_id = EXCLUDED.holder_id OR edit_locks.expires_at <= now()
RETURNING order_id, holder_id, holder_name, acquired_at, expires_at`

type AcquireEditLockParams struct {
	OrderID      uuid.UUID `json:"order_id"`
	HolderID     uuid.UUID `json:"holder_id"`
	HolderName   string    `json:"holder_name"`
	LeaseSeconds float64   `json:"lease_seconds"`
}

func (q *Queries) AcquireEditLock(ctx context.Context, arg AcquireEditLockParams) (EditLock, error) {
	row := q.db.QueryRow(ctx, acquireEditLock,
		arg.OrderID,
		arg.HolderID,
		arg.HolderName,
		arg.LeaseSeconds,
	)
	var i EditLock
	err := row.Scan(
		&i.OrderID,
		&i.HolderID,
		&i.HolderName,
		&i.AcquiredAt,
		&i.ExpiresAt,
	)
	return i, err
}

const renewEditLock = `UPDATE edit_locks
SET expires_at = now() + make_interval(secs => $3::double precision)
WHERE order_id = $1 AND holder_id = $2 AND expires_at > now()
RETURNING order_id, holder_id, holder_name, acquired_at, expires_at`

type RenewEditLockParams struct {
	OrderID      uuid.UUID `json:"order_id"`
	HolderID     uuid.UUID `json:"holder_id"`
	LeaseSeconds float64   `json:"lease_seconds"`
}

func (q *Queries) RenewEditLock(ctx context.Context, arg RenewEditLockParams) (EditLock, error) {
	row := q.db.QueryRow(ctx, renewEditLock, arg.OrderID, arg.HolderID, arg.LeaseSeconds)
	var i EditLock
	err := row.Scan(
		&i.OrderID,
		&i.HolderID,
		&i.HolderName,
		&i.AcquiredAt,
		&i.ExpiresAt,
	)
	return i, err
}

const releaseEditLock = `DELETE FROM edit_locks WHERE order_id = $1 AND holder_id = $2`

type ReleaseEditLockParams struct {
	OrderID  uuid.UUID `json:"order_id"`
	HolderID uuid.UUID `json:"holder_id"`
}

func (q *Queries) ReleaseEditLock(ctx context.Context, arg ReleaseEditLockParams) (int64, error) {
	tag, err := q.db.Exec(ctx, releaseEditLock, arg.OrderID, arg.HolderID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getEditLock = `SELECT order_id, holder_id, holder_name, acquired_at, expires_at
FROM edit_locks
WHERE order_id = $1 AND expires_at > now()`

func (q *Queries) GetEditLock(ctx context.Context, orderID uuid.UUID) (EditLock, error) {
	row := q.db.QueryRow(ctx, getEditLock, orderID)
	var i EditLock
	err := row.Scan(
		&i.OrderID,
		&i.HolderID,
		&i.HolderName,
		&i.AcquiredAt,
		&i.ExpiresAt,
	)
	return i, err
}

const deleteExpiredEditLocks = `DELETE FROM edit_locks WHERE expires_at <= now()`

func (q *Queries) DeleteExpiredEditLocks(ctx context.Context) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteExpiredEditLocks)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
