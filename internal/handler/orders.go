package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/api"
	"github.com/laundryhub/api/internal/auth"
	"github.com/laundryhub/api/internal/lifecycle"
	"github.com/laundryhub/api/internal/middleware"
	"github.com/laundryhub/api/internal/order"
	"github.com/laundryhub/api/internal/payment"
	"github.com/laundryhub/api/internal/service"
)

// OrderServicer defines the service methods needed by order handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	ListOrders(ctx context.Context, f service.ListFilter) ([]order.Order, error)
	GetOrder(ctx context.Context, stationID, id uuid.UUID) (order.Order, error)
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error)
	UpdateOrder(ctx context.Context, req service.UpdateOrderRequest) (order.Order, error)
	Transition(ctx context.Context, req service.TransitionRequest) (order.Order, error)
	ConvertDraft(ctx context.Context, req service.TransitionRequest) (*service.ConvertResult, error)
	CanArchive(role string) (archive, unarchive bool)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	svc OrderServicer
	now func() time.Time
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(svc OrderServicer) *OrderHandler {
	return &OrderHandler{svc: svc, now: time.Now}
}

// RegisterRoutes registers order endpoints on the given Chi router.
// Expected to be mounted inside a station-scoped subrouter: /stations/{sid}/orders
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Post("/{id}/archive", h.transition(lifecycle.ActionArchive))
	r.Post("/{id}/unarchive", h.transition(lifecycle.ActionUnarchive))
	r.Post("/{id}/complete", h.transition(lifecycle.ActionComplete))
	r.Post("/{id}/schedule-deletion", h.transition(lifecycle.ActionScheduleDeletion))
	r.Delete("/{id}/schedule-deletion", h.transition(lifecycle.ActionCancelDeletion))
	r.Post("/{id}/convert", h.Convert)
}

// --- Handlers ---

// List handles GET /stations/{sid}/orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	stationID, claims, ok := stationAndClaims(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := service.ListFilter{StationID: stationID}

	var err error
	if f.Draft, err = parseBoolParam(q.Get("draft")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid draft filter"})
		return
	}
	if f.Archived, err = parseBoolParam(q.Get("archived")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid archived filter"})
		return
	}
	if s := q.Get("payment"); s != "" {
		if !payment.IsValidStatus(s) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payment filter"})
			return
		}
		f.Payment = s
	}

	// Parse pagination
	limit := 100
	if s := q.Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 500 {
		limit = 500
	}
	offset := 0
	if s := q.Get("offset"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 32); err == nil && v >= 0 {
			offset = int(v)
		}
	}
	f.Limit, f.Offset = int32(limit), int32(offset)

	orders, err := h.svc.ListOrders(r.Context(), f)
	if err != nil {
		writeError(w, "list orders", err)
		return
	}

	resp := api.OrderList{Orders: make([]api.Order, len(orders)), Limit: limit, Offset: offset}
	for i, o := range orders {
		resp.Orders[i] = h.render(o, claims)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create handles POST /stations/{sid}/orders. A replay of an already
// stored client_ref answers 200 with the stored order instead of 201.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	stationID, claims, ok := stationAndClaims(w, r)
	if !ok {
		return
	}

	var req api.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	in, err := req.Input(stationID)
	if err != nil {
		writeError(w, "parse order", err)
		return
	}

	result, err := h.svc.CreateOrder(r.Context(), service.CreateOrderRequest{
		Input:     in,
		Actor:     actorFrom(claims),
		ClientRef: req.ClientRef,
	})
	if err != nil {
		writeError(w, "create order", err)
		return
	}

	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	writeJSON(w, status, h.render(result.Order, claims))
}

// Get handles GET /stations/{sid}/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	stationID, claims, ok := stationAndClaims(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	o, err := h.svc.GetOrder(r.Context(), stationID, orderID)
	if err != nil {
		writeError(w, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, h.render(o, claims))
}

// Update handles PATCH /stations/{sid}/orders/{id}. Only the operator
// holding the edit lock may save.
func (h *OrderHandler) Update(w http.ResponseWriter, r *http.Request) {
	stationID, claims, ok := stationAndClaims(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req api.UpdateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	patch, err := req.Patch()
	if err != nil {
		writeError(w, "parse order patch", err)
		return
	}

	o, err := h.svc.UpdateOrder(r.Context(), service.UpdateOrderRequest{
		StationID: stationID,
		OrderID:   orderID,
		Actor:     actorFrom(claims),
		Patch:     patch,
	})
	if err != nil {
		writeError(w, "update order", err)
		return
	}
	writeJSON(w, http.StatusOK, h.render(o, claims))
}

// Convert handles POST /stations/{sid}/orders/{id}/convert.
func (h *OrderHandler) Convert(w http.ResponseWriter, r *http.Request) {
	stationID, claims, ok := stationAndClaims(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	res, err := h.svc.ConvertDraft(r.Context(), service.TransitionRequest{
		StationID: stationID,
		OrderID:   orderID,
		Actor:     actorFrom(claims),
		Action:    lifecycle.ActionConvert,
	})
	if err != nil {
		writeError(w, "convert draft", err)
		return
	}
	writeJSON(w, http.StatusCreated, api.ConvertResponse{
		Draft: h.render(res.Draft, claims),
		Order: h.render(res.Converted, claims),
	})
}

// transition returns the handler for a lifecycle action endpoint.
func (h *OrderHandler) transition(action lifecycle.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stationID, claims, ok := stationAndClaims(w, r)
		if !ok {
			return
		}
		orderID, ok := orderIDParam(w, r)
		if !ok {
			return
		}

		o, err := h.svc.Transition(r.Context(), service.TransitionRequest{
			StationID: stationID,
			OrderID:   orderID,
			Actor:     actorFrom(claims),
			Action:    action,
		})
		if err != nil {
			writeError(w, action.String()+" order", err)
			return
		}
		writeJSON(w, http.StatusOK, h.render(o, claims))
	}
}

// --- Helpers ---

// render converts o for the wire along with the actions the caller may take.
func (h *OrderHandler) render(o order.Order, claims *auth.Claims) api.Order {
	resp := api.FromOrder(o)
	canArchive, canUnarchive := h.svc.CanArchive(claims.Role)
	a := lifecycle.AffordancesFor(o.State(), o.Payment, h.now(), canArchive, canUnarchive)
	resp.Affordances = &a
	return resp
}

func stationAndClaims(w http.ResponseWriter, r *http.Request) (uuid.UUID, *auth.Claims, bool) {
	stationID, ok := middleware.StationFromContext(r.Context())
	if !ok {
		var err error
		if stationID, err = uuid.Parse(chi.URLParam(r, "sid")); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid station ID"})
			return uuid.Nil, nil, false
		}
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return uuid.Nil, nil, false
	}
	return stationID, claims, true
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return uuid.Nil, false
	}
	return id, true
}

func actorFrom(claims *auth.Claims) service.Actor {
	return service.Actor{ID: claims.UserID, Name: claims.Name, Role: claims.Role}
}

func parseBoolParam(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
