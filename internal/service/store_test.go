package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/laundryhub/api/internal/database"
	"github.com/laundryhub/api/internal/enum"
)

// --- Mock implementations ---

// mockTx implements pgx.Tx with only the methods we need.
// The unused methods panic so we catch accidental calls.
type mockTx struct {
	commitErr   error
	rollbackErr error
	commits     int
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error {
	m.commits++
	return m.commitErr
}
func (m *mockTx) Rollback(ctx context.Context) error { return m.rollbackErr }
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

// mockPool implements Pool. The store factory ignores it, so the query
// methods are never reached.
type mockPool struct {
	tx  *mockTx
	err error
}

func (m *mockPool) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tx, nil
}
func (m *mockPool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	panic("not implemented")
}

// fakeClock is shared by the service and the fake store so lease expiry
// follows the same time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeStore is an in-memory OrderStore with the same lease rules as the SQL
// in the database package.
type fakeStore struct {
	mu     sync.Mutex
	clock  *fakeClock
	orders map[uuid.UUID]database.Order
	items  map[uuid.UUID][]database.OrderItem
	locks  map[uuid.UUID]database.EditLock

	createOrderCalls int
	onCreateOrder    func(arg database.CreateOrderParams) error
}

func newFakeStore(clock *fakeClock) *fakeStore {
	return &fakeStore{
		clock:  clock,
		orders: map[uuid.UUID]database.Order{},
		items:  map[uuid.UUID][]database.OrderItem{},
		locks:  map[uuid.UUID]database.EditLock{},
	}
}

func (f *fakeStore) GetOrder(_ context.Context, arg database.GetOrderParams) (database.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[arg.ID]
	if !ok || o.StationID != arg.StationID {
		return database.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (f *fakeStore) GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
	return f.GetOrder(ctx, database.GetOrderParams{ID: arg.ID, StationID: arg.StationID})
}

func (f *fakeStore) GetOrderByClientRef(_ context.Context, arg database.GetOrderByClientRefParams) (database.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.StationID == arg.StationID && o.ClientRef.Valid && o.ClientRef.String == arg.ClientRef {
			return o, nil
		}
	}
	return database.Order{}, pgx.ErrNoRows
}

func (f *fakeStore) ListOrders(_ context.Context, arg database.ListOrdersParams) ([]database.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []database.Order{}
	for _, o := range f.orders {
		if o.StationID != arg.StationID {
			continue
		}
		if arg.IsDraft.Valid && (o.Stage != enum.StageOpen) != arg.IsDraft.Bool {
			continue
		}
		if arg.IsArchived.Valid && o.IsArchived != arg.IsArchived.Bool {
			continue
		}
		if arg.PaymentStatus.Valid && o.PaymentStatus != arg.PaymentStatus.String {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) CreateOrder(_ context.Context, arg database.CreateOrderParams) (database.Order, error) {
	f.mu.Lock()
	f.createOrderCalls++
	hook := f.onCreateOrder
	f.mu.Unlock()
	if hook != nil {
		if err := hook(arg); err != nil {
			return database.Order{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	o := database.Order{
		ID:             uuid.New(),
		StationID:      arg.StationID,
		CustomerName:   arg.CustomerName,
		DiscountType:   arg.DiscountType,
		DiscountValue:  arg.DiscountValue,
		Subtotal:       arg.Subtotal,
		DiscountAmount: arg.DiscountAmount,
		TotalAmount:    arg.TotalAmount,
		PaidAmount:     arg.PaidAmount,
		Balance:        arg.Balance,
		ChangeAmount:   arg.ChangeAmount,
		PaymentStatus:  arg.PaymentStatus,
		Stage:          arg.Stage,
		ClientRef:      arg.ClientRef,
		LastEditedBy:   arg.LastEditedBy,
		CreatedBy:      arg.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakeStore) UpdateOrderContent(_ context.Context, arg database.UpdateOrderContentParams) (database.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[arg.ID]
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	o.CustomerName = arg.CustomerName
	o.DiscountType = arg.DiscountType
	o.DiscountValue = arg.DiscountValue
	o.Subtotal = arg.Subtotal
	o.DiscountAmount = arg.DiscountAmount
	o.TotalAmount = arg.TotalAmount
	o.PaidAmount = arg.PaidAmount
	o.Balance = arg.Balance
	o.ChangeAmount = arg.ChangeAmount
	o.PaymentStatus = arg.PaymentStatus
	o.LastEditedBy = arg.LastEditedBy
	o.UpdatedAt = f.clock.Now()
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakeStore) UpdateOrderLifecycle(_ context.Context, arg database.UpdateOrderLifecycleParams) (database.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[arg.ID]
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	o.Stage = arg.Stage
	o.IsArchived = arg.IsArchived
	o.ScheduledDeleteAt = arg.ScheduledDeleteAt
	o.ConvertedOrderID = arg.ConvertedOrderID
	o.LastEditedBy = arg.LastEditedBy
	o.UpdatedAt = f.clock.Now()
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakeStore) DeleteDueDrafts(_ context.Context) ([]database.DeleteDueDraftsRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	out := []database.DeleteDueDraftsRow{}
	for id, o := range f.orders {
		if o.Stage == enum.StageDraft && o.ScheduledDeleteAt.Valid && !now.Before(o.ScheduledDeleteAt.Time) {
			out = append(out, database.DeleteDueDraftsRow{ID: id, StationID: o.StationID})
			delete(f.orders, id)
			delete(f.items, id)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateOrderItem(_ context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := database.OrderItem{
		ID:          uuid.New(),
		OrderID:     arg.OrderID,
		Position:    arg.Position,
		ServiceName: arg.ServiceName,
		Quantity:    arg.Quantity,
		Amount:      arg.Amount,
		Status:      arg.Status,
		CreatedAt:   f.clock.Now(),
	}
	f.items[arg.OrderID] = append(f.items[arg.OrderID], it)
	return it, nil
}

func (f *fakeStore) DeleteOrderItemsByOrder(_ context.Context, orderID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, orderID)
	return nil
}

func (f *fakeStore) ListOrderItemsByOrder(_ context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]database.OrderItem{}, f.items[orderID]...), nil
}

func (f *fakeStore) AcquireEditLock(_ context.Context, arg database.AcquireEditLockParams) (database.EditLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	lease := time.Duration(arg.LeaseSeconds * float64(time.Second))
	existing, ok := f.locks[arg.OrderID]
	if ok && existing.HolderID != arg.HolderID && existing.ExpiresAt.After(now) {
		return database.EditLock{}, pgx.ErrNoRows
	}
	lock := database.EditLock{
		OrderID:    arg.OrderID,
		HolderID:   arg.HolderID,
		HolderName: arg.HolderName,
		AcquiredAt: now,
		ExpiresAt:  now.Add(lease),
	}
	if ok && existing.HolderID == arg.HolderID {
		lock.AcquiredAt = existing.AcquiredAt
	}
	f.locks[arg.OrderID] = lock
	return lock, nil
}

func (f *fakeStore) RenewEditLock(_ context.Context, arg database.RenewEditLockParams) (database.EditLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	lock, ok := f.locks[arg.OrderID]
	if !ok || lock.HolderID != arg.HolderID || !lock.ExpiresAt.After(now) {
		return database.EditLock{}, pgx.ErrNoRows
	}
	lock.ExpiresAt = now.Add(time.Duration(arg.LeaseSeconds * float64(time.Second)))
	f.locks[arg.OrderID] = lock
	return lock, nil
}

func (f *fakeStore) ReleaseEditLock(_ context.Context, arg database.ReleaseEditLockParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lock, ok := f.locks[arg.OrderID]
	if !ok || lock.HolderID != arg.HolderID {
		return 0, nil
	}
	delete(f.locks, arg.OrderID)
	return 1, nil
}

func (f *fakeStore) GetEditLock(_ context.Context, orderID uuid.UUID) (database.EditLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lock, ok := f.locks[orderID]
	if !ok || !lock.ExpiresAt.After(f.clock.Now()) {
		return database.EditLock{}, pgx.ErrNoRows
	}
	return lock, nil
}

func (f *fakeStore) DeleteExpiredEditLocks(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	now := f.clock.Now()
	for id, lock := range f.locks {
		if !lock.ExpiresAt.After(now) {
			delete(f.locks, id)
			n++
		}
	}
	return n, nil
}
