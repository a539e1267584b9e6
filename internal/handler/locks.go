package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/api"
	"github.com/laundryhub/api/internal/service"
)

// LockServicer defines the edit-lock methods needed by lock handlers.
// Satisfied by *service.OrderService.
type LockServicer interface {
	AcquireLock(ctx context.Context, stationID, orderID uuid.UUID, actor service.Actor) (service.LockStatus, error)
	RenewLock(ctx context.Context, stationID, orderID uuid.UUID, actor service.Actor) (service.LockStatus, error)
	ReleaseLock(ctx context.Context, stationID, orderID uuid.UUID, actor service.Actor) error
	LockStatus(ctx context.Context, stationID, orderID uuid.UUID, actor service.Actor) (service.LockStatus, error)
}

// LockHandler handles the edit-lock endpoints of an order.
type LockHandler struct {
	svc LockServicer
}

// NewLockHandler creates a new LockHandler.
func NewLockHandler(svc LockServicer) *LockHandler {
	return &LockHandler{svc: svc}
}

// RegisterRoutes registers lock endpoints under /stations/{sid}/orders.
func (h *LockHandler) RegisterRoutes(r chi.Router) {
	r.Post("/{id}/lock", h.Acquire)
	r.Post("/{id}/lock/heartbeat", h.Heartbeat)
	r.Delete("/{id}/lock", h.Release)
	r.Get("/{id}/lock", h.Status)
}

// Acquire handles POST .../lock. A lock held by someone else answers 409
// with the holder's name.
func (h *LockHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	stationID, orderID, actor, ok := lockParams(w, r)
	if !ok {
		return
	}

	st, err := h.svc.AcquireLock(r.Context(), stationID, orderID, actor)
	if err != nil {
		writeError(w, "acquire lock", err)
		return
	}
	writeJSON(w, http.StatusOK, toLockStatus(st))
}

// Heartbeat handles POST .../lock/heartbeat. A lost lease is reported in
// the body as locked_by_viewer=false, not as an error status.
func (h *LockHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	stationID, orderID, actor, ok := lockParams(w, r)
	if !ok {
		return
	}

	st, err := h.svc.RenewLock(r.Context(), stationID, orderID, actor)
	if err != nil {
		writeError(w, "renew lock", err)
		return
	}
	writeJSON(w, http.StatusOK, toLockStatus(st))
}

// Release handles DELETE .../lock. Always 204, whether or not a lock existed.
func (h *LockHandler) Release(w http.ResponseWriter, r *http.Request) {
	stationID, orderID, actor, ok := lockParams(w, r)
	if !ok {
		return
	}

	if err := h.svc.ReleaseLock(r.Context(), stationID, orderID, actor); err != nil {
		writeError(w, "release lock", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET .../lock.
func (h *LockHandler) Status(w http.ResponseWriter, r *http.Request) {
	stationID, orderID, actor, ok := lockParams(w, r)
	if !ok {
		return
	}

	st, err := h.svc.LockStatus(r.Context(), stationID, orderID, actor)
	if err != nil {
		writeError(w, "lock status", err)
		return
	}
	writeJSON(w, http.StatusOK, toLockStatus(st))
}

func lockParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, service.Actor, bool) {
	stationID, claims, ok := stationAndClaims(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, service.Actor{}, false
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, service.Actor{}, false
	}
	return stationID, orderID, actorFrom(claims), true
}

func toLockStatus(st service.LockStatus) api.LockStatus {
	resp := api.LockStatus{
		OrderID:        st.OrderID,
		Locked:         st.Locked,
		Holder:         st.Holder,
		LockedByViewer: st.LockedByViewer,
	}
	if st.Locked {
		at := st.ExpiresAt
		resp.ExpiresAt = &at
	}
	return resp
}
