package editlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/apperr"
)

// Session is one open edit of one order. It keeps the lease alive until
// Close or Save, and reports on Lost if the lease goes away underneath it.
type Session struct {
	c       *Coordinator
	orderID uuid.UUID

	mu     sync.Mutex
	status Status

	stop context.CancelFunc
	done chan struct{}

	lost     chan struct{}
	lostOnce sync.Once
	lostErr  error

	closeOnce sync.Once
	closeErr  error
}

// Begin acquires orderID and starts heartbeating. The session's heartbeat
// is not tied to ctx; end it with Close or Save.
func (c *Coordinator) Begin(ctx context.Context, orderID uuid.UUID) (*Session, error) {
	st, err := c.Acquire(ctx, orderID)
	if err != nil {
		return nil, err
	}

	hbCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		c:       c,
		orderID: orderID,
		status:  st,
		stop:    stop,
		done:    make(chan struct{}),
		lost:    make(chan struct{}),
	}
	go s.heartbeat(hbCtx)
	return s, nil
}

func (s *Session) OrderID() uuid.UUID { return s.orderID }

// Status returns the last lock state the heartbeat saw.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Lost is closed when the lease is gone. Err then says why.
func (s *Session) Lost() <-chan struct{} { return s.lost }

func (s *Session) Err() error {
	select {
	case <-s.lost:
		return s.lostErr
	default:
		return nil
	}
}

func (s *Session) markLost(err error) {
	s.lostOnce.Do(func() {
		s.lostErr = err
		close(s.lost)
	})
}

func (s *Session) heartbeat(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := s.c.renew(ctx, s.orderID)
		switch {
		case err == nil:
			s.mu.Lock()
			s.status = st
			s.mu.Unlock()

		case ctx.Err() != nil:
			return

		case errors.Is(err, apperr.ErrStaleLock),
			errors.Is(err, apperr.ErrLockConflict),
			errors.Is(err, apperr.ErrNotFound),
			errors.Is(err, apperr.ErrPrecondition):
			s.c.log.Warn("edit lease lost", "order_id", s.orderID, "error", err)
			s.mu.Lock()
			s.status = st
			s.mu.Unlock()
			s.markLost(err)
			return

		default:
			// The lease outlives a few missed beats; keep trying.
			s.c.log.Warn("edit lease heartbeat failed", "order_id", s.orderID, "error", err)
		}
	}
}

// Close stops the heartbeat and releases the lock. It runs once; later
// calls return the first result.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.stop()
		<-s.done
		s.closeErr = s.c.Release(ctx, s.orderID)
		if s.closeErr != nil {
			s.c.log.Error("releasing edit lock", "order_id", s.orderID, "error", s.closeErr)
		}
	})
	return s.closeErr
}

// Save runs fn as the session's save and then releases the lock, whether fn
// succeeded or not. fn gets a context that ctx cannot cancel, and runs in
// sequence with the heartbeat. A session whose lease is already lost does
// not call fn.
func (s *Session) Save(ctx context.Context, fn func(ctx context.Context) error) error {
	saveCtx := context.WithoutCancel(ctx)
	defer s.Close(saveCtx)

	if err := s.Err(); err != nil {
		return err
	}
	return s.c.withOrder(s.orderID, func(*orderSlot) error {
		return fn(saveCtx)
	})
}
