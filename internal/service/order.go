package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/laundryhub/api/internal/apperr"
	"github.com/laundryhub/api/internal/database"
	"github.com/laundryhub/api/internal/enum"
	"github.com/laundryhub/api/internal/events"
	"github.com/laundryhub/api/internal/lifecycle"
	"github.com/laundryhub/api/internal/order"
	"github.com/laundryhub/api/internal/permission"
	"github.com/laundryhub/api/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultLockTTL   = 10 * time.Second
	defaultListLimit = 100
	maxListLimit     = 500
)

var tracer = otel.Tracer("service/orders")

// ErrOrderNotFound is returned when an order does not exist in the station.
var ErrOrderNotFound = fmt.Errorf("%w: order not found", apperr.ErrNotFound)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Pool is the connection pool the service reads from and opens
// transactions on. Satisfied by *pgxpool.Pool.
type Pool interface {
	database.DBTX
	TxBeginner
}

// OrderStore defines the DB methods needed by the order service.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
	GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error)
	GetOrderByClientRef(ctx context.Context, arg database.GetOrderByClientRefParams) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	UpdateOrderContent(ctx context.Context, arg database.UpdateOrderContentParams) (database.Order, error)
	UpdateOrderLifecycle(ctx context.Context, arg database.UpdateOrderLifecycleParams) (database.Order, error)
	DeleteDueDrafts(ctx context.Context) ([]database.DeleteDueDraftsRow, error)

	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	DeleteOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) error
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)

	AcquireEditLock(ctx context.Context, arg database.AcquireEditLockParams) (database.EditLock, error)
	RenewEditLock(ctx context.Context, arg database.RenewEditLockParams) (database.EditLock, error)
	ReleaseEditLock(ctx context.Context, arg database.ReleaseEditLockParams) (int64, error)
	GetEditLock(ctx context.Context, orderID uuid.UUID) (database.EditLock, error)
	DeleteExpiredEditLocks(ctx context.Context) (int64, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
// This allows the service to create store instances from transactions.
type NewOrderStore func(db database.DBTX) OrderStore

// Actor is the authenticated operator performing a request. Name is shown
// to other operators as the lock holder.
type Actor struct {
	ID   uuid.UUID
	Name string
	Role string
}

// Options configures an OrderService. Zero values fall back to defaults.
type Options struct {
	LockTTL        time.Duration
	DraftRetention time.Duration
	Permissions    permission.Checker
	Publisher      events.Publisher
	Instruments    *telemetry.Instruments
	Logger         *slog.Logger
	Now            func() time.Time
}

// OrderService handles order business logic.
type OrderService struct {
	pool      Pool
	newStore  NewOrderStore
	lockTTL   time.Duration
	retention time.Duration
	perms     permission.Checker
	events    events.Publisher
	metrics   *telemetry.Instruments
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrderService creates a new OrderService.
func NewOrderService(pool Pool, newStore NewOrderStore, opts Options) *OrderService {
	s := &OrderService{
		pool:      pool,
		newStore:  newStore,
		lockTTL:   opts.LockTTL,
		retention: opts.DraftRetention,
		perms:     opts.Permissions,
		events:    opts.Publisher,
		metrics:   opts.Instruments,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if s.lockTTL <= 0 {
		s.lockTTL = DefaultLockTTL
	}
	if s.retention <= 0 {
		s.retention = lifecycle.DefaultDraftRetention
	}
	if s.perms == nil {
		s.perms = permission.Default
	}
	if s.events == nil {
		s.events = events.Discard{}
	}
	if s.metrics == nil {
		s.metrics = telemetry.Discard()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// LockTTL is the lease length granted by AcquireLock and RenewLock.
func (s *OrderService) LockTTL() time.Duration {
	return s.lockTTL
}

// CanArchive reports whether role may archive and unarchive orders.
func (s *OrderService) CanArchive(role string) (archive, unarchive bool) {
	return s.perms.Allowed(role, enum.ResourceOrders, enum.ActionArchive),
		s.perms.Allowed(role, enum.ResourceOrders, enum.ActionUnarchive)
}

// ListFilter narrows ListOrders. Nil pointers and empty strings do not filter.
type ListFilter struct {
	StationID uuid.UUID
	Draft     *bool
	Archived  *bool
	Payment   string
	Limit     int32
	Offset    int32
}

// ListOrders returns the station's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, f ListFilter) ([]order.Order, error) {
	store := s.newStore(s.pool)

	params := database.ListOrdersParams{
		StationID: f.StationID,
		Limit:     f.Limit,
		Offset:    f.Offset,
	}
	if params.Limit <= 0 {
		params.Limit = defaultListLimit
	}
	if params.Limit > maxListLimit {
		params.Limit = maxListLimit
	}
	if f.Draft != nil {
		params.IsDraft = pgtype.Bool{Bool: *f.Draft, Valid: true}
	}
	if f.Archived != nil {
		params.IsArchived = pgtype.Bool{Bool: *f.Archived, Valid: true}
	}
	if f.Payment != "" {
		params.PaymentStatus = pgtype.Text{String: f.Payment, Valid: true}
	}

	rows, err := store.ListOrders(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := make([]order.Order, 0, len(rows))
	for _, row := range rows {
		items, err := store.ListOrderItemsByOrder(ctx, row.ID)
		if err != nil {
			return nil, fmt.Errorf("list items for %s: %w", row.ID, err)
		}
		out = append(out, toOrder(row, items))
	}
	return out, nil
}

// GetOrder returns one order with its items.
func (s *OrderService) GetOrder(ctx context.Context, stationID, id uuid.UUID) (order.Order, error) {
	store := s.newStore(s.pool)
	row, err := store.GetOrder(ctx, database.GetOrderParams{ID: id, StationID: stationID})
	if err != nil {
		return order.Order{}, notFound(err, "get order")
	}
	return s.loadItems(ctx, store, row)
}

func (s *OrderService) loadItems(ctx context.Context, store OrderStore, row database.Order) (order.Order, error) {
	items, err := store.ListOrderItemsByOrder(ctx, row.ID)
	if err != nil {
		return order.Order{}, fmt.Errorf("list order items: %w", err)
	}
	return toOrder(row, items), nil
}

// CreateOrderRequest is the validated input for creating an order.
type CreateOrderRequest struct {
	Input order.Input
	Actor Actor
	// ClientRef identifies a replayed queued operation. A second create with
	// the same ref returns the first order instead of inserting again.
	ClientRef string
}

// CreateOrderResult reports whether the order was inserted or already
// existed for the request's ClientRef.
type CreateOrderResult struct {
	Order   order.Order
	Created bool
}

// CreateOrder validates, prices and inserts an order with its items
// atomically. Validation failures are returned before any database call.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	ctx, span := tracer.Start(ctx, "OrderService.CreateOrder",
		trace.WithAttributes(attribute.String("station.id", req.Input.StationID.String())))
	defer span.End()

	o, err := order.New(req.Input)
	if err != nil {
		s.countRejection(ctx, err)
		return nil, err
	}

	if req.ClientRef != "" {
		existing, err := s.findByClientRef(ctx, s.newStore(s.pool), req.Input.StationID, req.ClientRef)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.metrics.ReplaysDeduped.Add(ctx, 1)
			return &CreateOrderResult{Order: *existing}, nil
		}
	}

	created, err := s.createOrderTx(ctx, o, req)
	if isClientRefConflict(err) {
		// A concurrent replay of the same operation won the insert.
		existing, ferr := s.findByClientRef(ctx, s.newStore(s.pool), req.Input.StationID, req.ClientRef)
		if ferr != nil {
			return nil, ferr
		}
		if existing != nil {
			s.metrics.ReplaysDeduped.Add(ctx, 1)
			return &CreateOrderResult{Order: *existing}, nil
		}
	}
	if err != nil {
		return nil, err
	}

	s.metrics.OrdersCreated.Add(ctx, 1)
	s.publish(ctx, enum.EventOrderCreated, created.StationID, created.ID, "")
	return &CreateOrderResult{Order: created, Created: true}, nil
}

func (s *OrderService) findByClientRef(ctx context.Context, store OrderStore, stationID uuid.UUID, ref string) (*order.Order, error) {
	row, err := store.GetOrderByClientRef(ctx, database.GetOrderByClientRefParams{StationID: stationID, ClientRef: ref})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order by client ref: %w", err)
	}
	o, err := s.loadItems(ctx, store, row)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *OrderService) createOrderTx(ctx context.Context, o order.Order, req CreateOrderRequest) (order.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return order.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	created, err := insertOrder(ctx, store, o, req.Actor, req.ClientRef)
	if err != nil {
		return order.Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return order.Order{}, fmt.Errorf("commit tx: %w", err)
	}
	return created, nil
}

func insertOrder(ctx context.Context, store OrderStore, o order.Order, actor Actor, clientRef string) (order.Order, error) {
	discountType, discountValue := discountParams(o.Discount)
	row, err := store.CreateOrder(ctx, database.CreateOrderParams{
		StationID:      o.StationID,
		CustomerName:   o.CustomerName,
		DiscountType:   discountType,
		DiscountValue:  discountValue,
		Subtotal:       decimalToNumeric(o.Subtotal),
		DiscountAmount: decimalToNumeric(o.DiscountAmount),
		TotalAmount:    decimalToNumeric(o.Total),
		PaidAmount:     decimalToNumeric(o.Paid),
		Balance:        decimalToNumeric(o.Balance),
		ChangeAmount:   decimalToNumeric(o.Change),
		PaymentStatus:  o.Payment,
		Stage:          o.Stage,
		ClientRef:      optionalText(clientRef),
		LastEditedBy:   optionalText(actor.Name),
		CreatedBy:      actor.ID,
	})
	if err != nil {
		return order.Order{}, fmt.Errorf("create order: %w", err)
	}

	items, err := insertItems(ctx, store, row.ID, o.Items)
	if err != nil {
		return order.Order{}, err
	}
	return toOrder(row, items), nil
}

func insertItems(ctx context.Context, store OrderStore, orderID uuid.UUID, items []order.Item) ([]database.OrderItem, error) {
	out := make([]database.OrderItem, 0, len(items))
	for i, it := range items {
		row, err := store.CreateOrderItem(ctx, database.CreateOrderItemParams{
			OrderID:     orderID,
			Position:    int32(i),
			ServiceName: it.ServiceName,
			Quantity:    it.Quantity,
			Amount:      decimalToNumeric(it.Amount),
			Status:      it.Status,
		})
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
		out = append(out, row)
	}
	return out, nil
}

// isClientRefConflict checks if the error is a unique constraint violation
// on the replay reference (pgconn error code 23505).
func isClientRefConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_client_ref_key"
	}
	return false
}

// UpdateOrderRequest is a content edit by the current lock holder.
type UpdateOrderRequest struct {
	StationID uuid.UUID
	OrderID   uuid.UUID
	Actor     Actor
	Patch     order.Patch
}

// UpdateOrder applies a content edit. The order row is locked for the
// duration of the transaction; the lifecycle gate runs before the edit lock
// is consulted, and only the operator holding a live lease may save.
func (s *OrderService) UpdateOrder(ctx context.Context, req UpdateOrderRequest) (order.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderService.UpdateOrder",
		trace.WithAttributes(attribute.String("order.id", req.OrderID.String())))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return order.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	current, err := s.lockOrderRow(ctx, store, req.StationID, req.OrderID)
	if err != nil {
		return order.Order{}, err
	}

	now := s.now()
	if err := lifecycle.CanEdit(current.State(), now); err != nil {
		return order.Order{}, err
	}
	if err := requireHolder(ctx, store, req.OrderID, req.Actor, true); err != nil {
		return order.Order{}, err
	}

	next, err := order.ApplyPatch(current, req.Patch, now)
	if err != nil {
		s.countRejection(ctx, err)
		return order.Order{}, err
	}

	discountType, discountValue := discountParams(next.Discount)
	row, err := store.UpdateOrderContent(ctx, database.UpdateOrderContentParams{
		ID:             req.OrderID,
		CustomerName:   next.CustomerName,
		DiscountType:   discountType,
		DiscountValue:  discountValue,
		Subtotal:       decimalToNumeric(next.Subtotal),
		DiscountAmount: decimalToNumeric(next.DiscountAmount),
		TotalAmount:    decimalToNumeric(next.Total),
		PaidAmount:     decimalToNumeric(next.Paid),
		Balance:        decimalToNumeric(next.Balance),
		ChangeAmount:   decimalToNumeric(next.Change),
		PaymentStatus:  next.Payment,
		LastEditedBy:   optionalText(req.Actor.Name),
	})
	if err != nil {
		return order.Order{}, fmt.Errorf("update order: %w", err)
	}

	var items []database.OrderItem
	if req.Patch.Items != nil {
		if err := store.DeleteOrderItemsByOrder(ctx, req.OrderID); err != nil {
			return order.Order{}, fmt.Errorf("delete order items: %w", err)
		}
		if items, err = insertItems(ctx, store, req.OrderID, next.Items); err != nil {
			return order.Order{}, err
		}
	} else if items, err = store.ListOrderItemsByOrder(ctx, req.OrderID); err != nil {
		return order.Order{}, fmt.Errorf("list order items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return order.Order{}, fmt.Errorf("commit tx: %w", err)
	}

	updated := toOrder(row, items)
	s.publish(ctx, enum.EventOrderUpdated, updated.StationID, updated.ID, "")
	return updated, nil
}

// lockOrderRow reads the order FOR NO KEY UPDATE along with its items.
func (s *OrderService) lockOrderRow(ctx context.Context, store OrderStore, stationID, id uuid.UUID) (order.Order, error) {
	row, err := store.GetOrderForUpdate(ctx, database.GetOrderForUpdateParams{ID: id, StationID: stationID})
	if err != nil {
		return order.Order{}, notFound(err, "get order")
	}
	return s.loadItems(ctx, store, row)
}

// requireHolder checks the edit lease on orderID against actor. With
// required set the actor must hold a live lease; otherwise it is enough that
// nobody else does.
func requireHolder(ctx context.Context, store OrderStore, orderID uuid.UUID, actor Actor, required bool) error {
	lock, err := store.GetEditLock(ctx, orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		if required {
			return fmt.Errorf("%w: acquire the edit lock before saving", apperr.ErrStaleLock)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("get edit lock: %w", err)
	}
	if lock.HolderID != actor.ID {
		return &apperr.LockConflictError{OrderID: orderID, Holder: lock.HolderName}
	}
	return nil
}

func (s *OrderService) countRejection(ctx context.Context, err error) {
	if errors.Is(err, apperr.ErrPaymentValidation) {
		s.metrics.PaymentRejected.Add(ctx, 1)
	}
}

func (s *OrderService) publish(ctx context.Context, eventType string, stationID, orderID uuid.UUID, holder string) {
	err := s.events.Publish(ctx, events.Event{
		Type:      eventType,
		StationID: stationID,
		OrderID:   orderID,
		Holder:    holder,
		At:        s.now().UTC(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("type", eventType),
			slog.String("order_id", orderID.String()),
			slog.Any("error", err))
	}
}

func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOrderNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
