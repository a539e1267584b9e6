// Package offline keeps order writes made while the order store is
// unreachable, projects them into the visible order list, and replays them
// once the store answers again.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/api"
	"github.com/laundryhub/api/internal/enum"
)

// OrdersEndpoint is the endpoint queued order creations are replayed to,
// relative to the station.
const OrdersEndpoint = "/orders"

// Operation is one queued write.
type Operation struct {
	ID        string                 `json:"id"`
	StationID uuid.UUID              `json:"station_id"`
	Method    string                 `json:"method"`
	Endpoint  string                 `json:"endpoint"`
	Body      api.CreateOrderRequest `json:"body"`
	Timestamp time.Time              `json:"timestamp"`
	Status    string                 `json:"status"`
	Attempts  int                    `json:"attempts"`
	LastError string                 `json:"last_error,omitempty"`
}

// NewCreateOperation queues req as an order creation. The operation id
// doubles as the request's client_ref so replays are idempotent.
func NewCreateOperation(stationID uuid.UUID, req api.CreateOrderRequest, now time.Time) Operation {
	id := uuid.NewString()
	req.ClientRef = id
	return Operation{
		ID:        id,
		StationID: stationID,
		Method:    http.MethodPost,
		Endpoint:  OrdersEndpoint,
		Body:      req,
		Timestamp: now,
		Status:    enum.QueueStatusPending,
	}
}

func (op Operation) IsOrderCreate() bool {
	return op.Method == http.MethodPost && op.Endpoint == OrdersEndpoint
}

// Visible reports whether op is still projected into the order list.
// Acknowledged operations never are; failed ones stay so nothing queued
// disappears from view.
func (op Operation) Visible() bool {
	switch op.Status {
	case enum.QueueStatusPending, enum.QueueStatusProcessing, enum.QueueStatusFailed:
		return op.IsOrderCreate()
	}
	return false
}

// Queue stores operations. Implementations keep insertion order.
type Queue interface {
	List(ctx context.Context) ([]Operation, error)
	// Put inserts op, or replaces the operation with the same id.
	Put(ctx context.Context, op Operation) error
	Remove(ctx context.Context, id string) error
}

// MemoryQueue is a Queue held in memory.
type MemoryQueue struct {
	mu  sync.Mutex
	ops []Operation
}

func NewMemoryQueue(ops ...Operation) *MemoryQueue {
	return &MemoryQueue{ops: append([]Operation(nil), ops...)}
}

func (q *MemoryQueue) List(context.Context) ([]Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Operation(nil), q.ops...), nil
}

func (q *MemoryQueue) Put(_ context.Context, op Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = put(q.ops, op)
	return nil
}

func (q *MemoryQueue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = remove(q.ops, id)
	return nil
}

func put(ops []Operation, op Operation) []Operation {
	for i := range ops {
		if ops[i].ID == op.ID {
			ops[i] = op
			return ops
		}
	}
	return append(ops, op)
}

func remove(ops []Operation, id string) []Operation {
	out := ops[:0]
	for _, op := range ops {
		if op.ID != id {
			out = append(out, op)
		}
	}
	return out
}

// FileQueue is a Queue persisted as a JSON array in one file. Every write
// replaces the file atomically.
type FileQueue struct {
	path string
	mu   sync.Mutex
}

func NewFileQueue(path string) *FileQueue {
	return &FileQueue{path: path}
}

func (q *FileQueue) load() ([]Operation, error) {
	data, err := os.ReadFile(q.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var ops []Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("decode queue %s: %w", q.path, err)
	}
	return ops, nil
}

func (q *FileQueue) save(ops []Operation) error {
	if ops == nil {
		ops = []Operation{}
	}
	data, err := json.MarshalIndent(ops, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(q.path), filepath.Base(q.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write queue: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync queue: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	if err := os.Rename(tmp.Name(), q.path); err != nil {
		return fmt.Errorf("replace queue: %w", err)
	}
	return nil
}

func (q *FileQueue) List(context.Context) ([]Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

func (q *FileQueue) Put(_ context.Context, op Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops, err := q.load()
	if err != nil {
		return err
	}
	return q.save(put(ops, op))
}

func (q *FileQueue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops, err := q.load()
	if err != nil {
		return err
	}
	return q.save(remove(ops, id))
}
