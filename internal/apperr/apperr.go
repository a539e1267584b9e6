// Package apperr defines the error taxonomy shared by the order store and the
// desk client, and maps it onto HTTP.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

var (
	ErrLockConflict      = errors.New("order is being edited by another operator")
	ErrStaleLock         = errors.New("edit lock expired or was taken over")
	ErrPaymentValidation = errors.New("payment rejected")
	ErrPrecondition      = errors.New("precondition failed")
	ErrSyncFailure       = errors.New("queued operation failed to sync")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidInput      = errors.New("invalid input")
)

// LockConflictError carries the identity of the operator holding the lock.
type LockConflictError struct {
	OrderID uuid.UUID
	Holder  string
}

func (e *LockConflictError) Error() string {
	if e.Holder == "" {
		return ErrLockConflict.Error()
	}
	return fmt.Sprintf("order is currently being edited by %s", e.Holder)
}

// Is lets errors.Is(err, ErrLockConflict) match a *LockConflictError.
func (e *LockConflictError) Is(target error) bool {
	return target == ErrLockConflict
}

// Holder returns the lock holder named by err, if err is a lock conflict.
func Holder(err error) (string, bool) {
	var lc *LockConflictError
	if errors.As(err, &lc) {
		return lc.Holder, true
	}
	return "", false
}

func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrLockConflict):
		return "lock_conflict"

	case errors.Is(err, ErrStaleLock):
		return "stale_lock"

	case errors.Is(err, ErrPaymentValidation):
		return "payment_validation"

	case errors.Is(err, ErrPrecondition):
		return "precondition"

	case errors.Is(err, ErrSyncFailure):
		return "sync_failure"

	case errors.Is(err, ErrNotFound):
		return "not_found"

	case errors.Is(err, ErrForbidden):
		return "forbidden"

	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrLockConflict),
		errors.Is(err, ErrStaleLock),
		errors.Is(err, ErrPrecondition):
		return http.StatusConflict

	case errors.Is(err, ErrPaymentValidation):
		return http.StatusUnprocessableEntity

	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest

	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// FromStatus is the inverse of HTTPStatus for the desk client: it turns a
// store response status back into the sentinel the caller can match on.
func FromStatus(status int, msg string) error {
	var base error
	switch status {
	case http.StatusConflict:
		base = ErrPrecondition
	case http.StatusUnprocessableEntity:
		base = ErrPaymentValidation
	case http.StatusBadRequest:
		base = ErrInvalidInput
	case http.StatusNotFound:
		base = ErrNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		base = ErrForbidden
	default:
		return fmt.Errorf("store responded %d: %s", status, msg)
	}
	if msg == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, msg)
}

// FromKind returns the sentinel named by a Kind string, or nil for kinds
// that have no sentinel.
func FromKind(kind string) error {
	switch kind {
	case "lock_conflict":
		return ErrLockConflict
	case "stale_lock":
		return ErrStaleLock
	case "payment_validation":
		return ErrPaymentValidation
	case "precondition":
		return ErrPrecondition
	case "sync_failure":
		return ErrSyncFailure
	case "not_found":
		return ErrNotFound
	case "forbidden":
		return ErrForbidden
	case "invalid_input":
		return ErrInvalidInput
	}
	return nil
}
