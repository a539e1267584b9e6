package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/laundryhub/api/internal/api"
	"github.com/laundryhub/api/internal/service"
)

// Sweeper removes expired edit leases and due drafts.
// Satisfied by *service.OrderService.
type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepResult, error)
}

// MaintenanceHandler exposes housekeeping normally run by the server's ticker.
type MaintenanceHandler struct {
	sweeper Sweeper
}

func NewMaintenanceHandler(sweeper Sweeper) *MaintenanceHandler {
	return &MaintenanceHandler{sweeper: sweeper}
}

func (h *MaintenanceHandler) RegisterRoutes(r chi.Router) {
	r.Post("/sweep", h.Sweep)
}

// Sweep handles POST /admin/sweep.
func (h *MaintenanceHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		writeError(w, "sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, api.SweepResponse{
		ExpiredLocks:  res.ExpiredLocks,
		DeletedDrafts: res.DeletedDrafts,
	})
}
