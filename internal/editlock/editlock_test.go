package editlock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/api"
	"github.com/laundryhub/api/internal/apperr"
	"github.com/laundryhub/api/internal/enum"
	"github.com/laundryhub/api/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// lockServer stands in for the order store's lease table. Each viewer gets
// its own Store bound to an operator name.
type lockServer struct {
	mu      sync.Mutex
	holders map[uuid.UUID]string

	renewErr atomic.Pointer[error]
	renews   atomic.Int32
	releases atomic.Int32

	inFlight   map[uuid.UUID]int
	overlapped atomic.Bool
}

func newLockServer() *lockServer {
	return &lockServer{
		holders:  make(map[uuid.UUID]string),
		inFlight: make(map[uuid.UUID]int),
	}
}

func (s *lockServer) enter(id uuid.UUID) func() {
	s.mu.Lock()
	s.inFlight[id]++
	if s.inFlight[id] > 1 {
		s.overlapped.Store(true)
	}
	s.mu.Unlock()
	time.Sleep(time.Millisecond)
	return func() {
		s.mu.Lock()
		s.inFlight[id]--
		s.mu.Unlock()
	}
}

// steal hands the lease to name, as if the previous holder's lease expired
// and another operator acquired it.
func (s *lockServer) steal(id uuid.UUID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holders[id] = name
}

func (s *lockServer) holder(id uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holders[id]
}

func (s *lockServer) statusLocked(id uuid.UUID, viewer string) api.LockStatus {
	h, ok := s.holders[id]
	return api.LockStatus{OrderID: id, Locked: ok, Holder: h, LockedByViewer: ok && h == viewer}
}

type viewerStore struct {
	srv  *lockServer
	name string
}

func (s *lockServer) as(name string) *viewerStore {
	return &viewerStore{srv: s, name: name}
}

func (v *viewerStore) AcquireLock(_ context.Context, id uuid.UUID) (api.LockStatus, error) {
	defer v.srv.enter(id)()
	v.srv.mu.Lock()
	defer v.srv.mu.Unlock()
	if h, ok := v.srv.holders[id]; ok && h != v.name {
		return api.LockStatus{}, &apperr.LockConflictError{OrderID: id, Holder: h}
	}
	v.srv.holders[id] = v.name
	return v.srv.statusLocked(id, v.name), nil
}

func (v *viewerStore) RenewLock(_ context.Context, id uuid.UUID) (api.LockStatus, error) {
	defer v.srv.enter(id)()
	v.srv.renews.Add(1)
	if errp := v.srv.renewErr.Load(); errp != nil {
		return api.LockStatus{}, *errp
	}
	v.srv.mu.Lock()
	defer v.srv.mu.Unlock()
	return v.srv.statusLocked(id, v.name), nil
}

func (v *viewerStore) ReleaseLock(_ context.Context, id uuid.UUID) error {
	defer v.srv.enter(id)()
	v.srv.releases.Add(1)
	v.srv.mu.Lock()
	defer v.srv.mu.Unlock()
	if v.srv.holders[id] == v.name {
		delete(v.srv.holders, id)
	}
	return nil
}

func (v *viewerStore) LockStatus(_ context.Context, id uuid.UUID) (api.LockStatus, error) {
	defer v.srv.enter(id)()
	v.srv.mu.Lock()
	defer v.srv.mu.Unlock()
	return v.srv.statusLocked(id, v.name), nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestAcquire_SecondOperatorConflicts(t *testing.T) {
	srv := newLockServer()
	ana := NewCoordinator(srv.as("Ana"), time.Second, discardLogger())
	ben := NewCoordinator(srv.as("Ben"), time.Second, discardLogger())
	ctx := context.Background()
	id := uuid.New()

	st, err := ana.Acquire(ctx, id)
	if err != nil {
		t.Fatalf("ana acquire: %v", err)
	}
	if !st.LockedByViewer || !ana.Held(id) {
		t.Fatalf("ana should hold the lock, got %+v", st)
	}

	_, err = ben.Acquire(ctx, id)
	var lc *apperr.LockConflictError
	if !errors.As(err, &lc) || lc.Holder != "Ana" {
		t.Fatalf("expected conflict naming Ana, got %v", err)
	}
	if err.Error() != "order is currently being edited by Ana" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if ben.Held(id) {
		t.Error("ben must not believe it holds the lock")
	}
	if srv.holder(id) != "Ana" || !ana.Held(id) {
		t.Error("ana's lock should survive ben's attempt")
	}
}

func TestAcquire_FailureClearsHeldRecord(t *testing.T) {
	srv := newLockServer()
	ana := NewCoordinator(srv.as("Ana"), time.Second, discardLogger())
	ctx := context.Background()
	id := uuid.New()

	if _, err := ana.Acquire(ctx, id); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	srv.steal(id, "Ben")

	if _, err := ana.Acquire(ctx, id); !errors.Is(err, apperr.ErrLockConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if ana.Held(id) {
		t.Error("held record must not survive a failed acquire")
	}
}

func TestRelease_Idempotent(t *testing.T) {
	srv := newLockServer()
	ana := NewCoordinator(srv.as("Ana"), time.Second, discardLogger())
	ctx := context.Background()
	id := uuid.New()

	if err := ana.Release(ctx, id); err != nil {
		t.Fatalf("release without lock: %v", err)
	}
	if _, err := ana.Acquire(ctx, id); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := ana.Release(ctx, id); err != nil {
			t.Fatalf("release #%d: %v", i+1, err)
		}
	}
	if srv.holder(id) != "" || ana.Held(id) {
		t.Error("lock should be gone")
	}
}

func TestCheckStatus_ReadOnly(t *testing.T) {
	srv := newLockServer()
	ana := NewCoordinator(srv.as("Ana"), time.Second, discardLogger())
	ben := NewCoordinator(srv.as("Ben"), time.Second, discardLogger())
	ctx := context.Background()
	id := uuid.New()

	st, err := ben.CheckStatus(ctx, id)
	if err != nil || st.Locked || !st.Editable() {
		t.Fatalf("free order: %+v, %v", st, err)
	}
	if srv.holder(id) != "" {
		t.Fatal("checking status must not take the lock")
	}

	ana.Acquire(ctx, id)
	st, _ = ben.CheckStatus(ctx, id)
	if !st.Locked || st.LockedByViewer || st.Holder != "Ana" || st.Editable() {
		t.Errorf("ben's view: %+v", st)
	}
	st, _ = ana.CheckStatus(ctx, id)
	if !st.LockedByViewer || !st.Editable() {
		t.Errorf("ana's view: %+v", st)
	}
}

func TestCalls_SequencedPerOrder(t *testing.T) {
	srv := newLockServer()
	ana := NewCoordinator(srv.as("Ana"), time.Second, discardLogger())
	ctx := context.Background()
	id := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch i % 3 {
			case 0:
				ana.Acquire(ctx, id)
			case 1:
				ana.CheckStatus(ctx, id)
			default:
				ana.Release(ctx, id)
			}
		}()
	}
	wg.Wait()

	if srv.overlapped.Load() {
		t.Fatal("store calls for one order overlapped")
	}
}

func TestSession_HeartbeatAndClose(t *testing.T) {
	srv := newLockServer()
	ana := NewCoordinator(srv.as("Ana"), 5*time.Millisecond, discardLogger())
	id := uuid.New()

	s, err := ana.Begin(context.Background(), id)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	waitFor(t, "two heartbeats", func() bool { return srv.renews.Load() >= 2 })

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if srv.holder(id) != "" {
		t.Error("close must release the lock")
	}
	if srv.releases.Load() != 1 {
		t.Errorf("expected one release, got %d", srv.releases.Load())
	}

	renews := srv.renews.Load()
	time.Sleep(20 * time.Millisecond)
	if srv.renews.Load() != renews {
		t.Error("heartbeat kept running after close")
	}
}

func TestSession_BeginConflict(t *testing.T) {
	srv := newLockServer()
	id := uuid.New()
	srv.steal(id, "Ben")

	ana := NewCoordinator(srv.as("Ana"), time.Second, discardLogger())
	s, err := ana.Begin(context.Background(), id)
	if s != nil || !errors.Is(err, apperr.ErrLockConflict) {
		t.Fatalf("expected conflict and no session, got %v, %v", s, err)
	}
}

func TestSession_LostWhenStolen(t *testing.T) {
	srv := newLockServer()
	ana := NewCoordinator(srv.as("Ana"), 5*time.Millisecond, discardLogger())
	id := uuid.New()

	s, err := ana.Begin(context.Background(), id)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer s.Close(context.Background())

	srv.steal(id, "Ben")

	select {
	case <-s.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not notice the stolen lease")
	}
	holder, ok := apperr.Holder(s.Err())
	if !ok || holder != "Ben" {
		t.Errorf("expected conflict naming Ben, got %v", s.Err())
	}
	if ana.Held(id) {
		t.Error("held record should be cleared")
	}

	saved := false
	err = s.Save(context.Background(), func(context.Context) error {
		saved = true
		return nil
	})
	if saved || !errors.Is(err, apperr.ErrLockConflict) {
		t.Errorf("save after loss: saved=%v err=%v", saved, err)
	}
	if srv.holder(id) != "Ben" {
		t.Error("releasing a lost session must not free Ben's lock")
	}
}

func TestSession_LostWhenExpired(t *testing.T) {
	srv := newLockServer()
	ana := NewCoordinator(srv.as("Ana"), 5*time.Millisecond, discardLogger())
	id := uuid.New()

	s, err := ana.Begin(context.Background(), id)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer s.Close(context.Background())

	srv.mu.Lock()
	delete(srv.holders, id)
	srv.mu.Unlock()

	select {
	case <-s.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not notice the expired lease")
	}
	if !errors.Is(s.Err(), apperr.ErrStaleLock) {
		t.Errorf("expected ErrStaleLock, got %v", s.Err())
	}
}

func TestSession_TransientHeartbeatErrorKeepsSession(t *testing.T) {
	srv := newLockServer()
	ana := NewCoordinator(srv.as("Ana"), 5*time.Millisecond, discardLogger())
	id := uuid.New()

	s, err := ana.Begin(context.Background(), id)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer s.Close(context.Background())

	netErr := errors.New("connection reset")
	srv.renewErr.Store(&netErr)
	waitFor(t, "failed heartbeats", func() bool { return srv.renews.Load() >= 3 })
	srv.renewErr.Store(nil)
	start := srv.renews.Load()
	waitFor(t, "heartbeat recovery", func() bool { return srv.renews.Load() >= start+2 })

	if s.Err() != nil {
		t.Fatalf("transient errors must not end the session: %v", s.Err())
	}
}

func TestSession_SaveAlwaysReleases(t *testing.T) {
	tests := []struct {
		name    string
		saveErr error
	}{
		{"success", nil},
		{"failure", apperr.ErrPaymentValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newLockServer()
			ana := NewCoordinator(srv.as("Ana"), time.Hour, discardLogger())
			id := uuid.New()

			s, err := ana.Begin(context.Background(), id)
			if err != nil {
				t.Fatalf("begin: %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			err = s.Save(ctx, func(saveCtx context.Context) error {
				cancel()
				if saveCtx.Err() != nil {
					t.Error("save context must not be cancellable by the caller")
				}
				return tt.saveErr
			})
			if !errors.Is(err, tt.saveErr) {
				t.Errorf("expected %v, got %v", tt.saveErr, err)
			}
			if srv.holder(id) != "" || ana.Held(id) {
				t.Error("lock must be released after save")
			}
		})
	}
}

// manualTrigger fires when the test sends on it.
type manualTrigger chan uuid.UUID

func (m manualTrigger) Next(ctx context.Context) (uuid.UUID, error) {
	select {
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	case id := <-m:
		return id, nil
	}
}

func TestWatcher(t *testing.T) {
	srv := newLockServer()
	ben := NewCoordinator(srv.as("Ben"), time.Second, discardLogger())
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	srv.steal(b, "Ana")

	snaps := make(chan Snapshot, 8)
	trigger := make(manualTrigger)
	w := NewWatcher(ben, trigger, func(s Snapshot) { snaps <- s }, discardLogger())
	w.SetOrders([]uuid.UUID{a, b, c})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	next := func() Snapshot {
		t.Helper()
		select {
		case s := <-snaps:
			return s
		case <-time.After(2 * time.Second):
			t.Fatal("no snapshot")
			return nil
		}
	}

	first := next()
	if len(first) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(first))
	}
	if first[b].Editable() || first[b].Holder != "Ana" || !first[a].Editable() {
		t.Errorf("unexpected snapshot %+v", first)
	}

	srv.mu.Lock()
	delete(srv.holders, b)
	srv.mu.Unlock()
	trigger <- b
	if s := next(); !s[b].Editable() {
		t.Errorf("b should be free after its release, got %+v", s[b])
	}

	w.SetOrders([]uuid.UUID{c})
	trigger <- uuid.Nil
	if s := next(); len(s) != 1 {
		t.Errorf("expected only c after SetOrders, got %d entries", len(s))
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFeedTrigger(t *testing.T) {
	tr := NewFeedTrigger(time.Hour)
	defer tr.Stop()
	id := uuid.New()

	tr.Notify(events.Event{Type: "station.renamed", OrderID: uuid.New()})
	tr.Notify(events.Event{Type: enum.EventLockReleased, OrderID: id})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := tr.Next(ctx)
	if err != nil || got != id {
		t.Fatalf("Next = %v, %v; want %v", got, err, id)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	if _, err := tr.Next(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("unrelated events must not fire, got %v", err)
	}
}

func TestPollTrigger(t *testing.T) {
	tr := NewPollTrigger(5 * time.Millisecond)
	defer tr.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := tr.Next(ctx)
	if err != nil || got != uuid.Nil {
		t.Fatalf("Next = %v, %v", got, err)
	}
}
