package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/laundryhub/api/internal/apperr"
	"github.com/laundryhub/api/internal/enum"
	"github.com/laundryhub/api/internal/lifecycle"
	"github.com/laundryhub/api/internal/order"
)

func TestTransition_CompleteRequiresConversion(t *testing.T) {
	env := newTestService(t)
	draft := env.create(t, order.Input{Draft: true, Items: washItems("100")})

	_, err := env.svc.Transition(context.Background(), TransitionRequest{
		StationID: testStationID,
		OrderID:   draft.ID,
		Actor:     ana,
		Action:    lifecycle.ActionComplete,
	})
	if !errors.Is(err, lifecycle.ErrNotConverted) {
		t.Fatalf("expected ErrNotConverted, got %v", err)
	}
}

func TestConvertDraft(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	draft := env.create(t, order.Input{
		Draft:    true,
		Items:    washItems("400", "100"),
		Discount: order.Discount{Type: enum.DiscountTypePercentage, Value: d("10")},
		Payment:  pay(enum.PaymentStatusPartial, "200"),
	})

	res, err := env.svc.ConvertDraft(ctx, TransitionRequest{StationID: testStationID, OrderID: draft.ID, Actor: ana})
	if err != nil {
		t.Fatalf("ConvertDraft: %v", err)
	}

	if res.Converted.Stage != enum.StageOpen {
		t.Errorf("converted stage = %s, want OPEN", res.Converted.Stage)
	}
	if len(res.Converted.Items) != 2 {
		t.Errorf("converted items = %d, want 2", len(res.Converted.Items))
	}
	assertMoney(t, "total", res.Converted.Total, "450")
	assertMoney(t, "paid", res.Converted.Paid, "200")
	assertMoney(t, "balance", res.Converted.Balance, "250")
	if res.Converted.Payment != enum.PaymentStatusPartial {
		t.Errorf("converted payment = %s", res.Converted.Payment)
	}

	if res.Draft.Stage != enum.StageConverted {
		t.Errorf("draft stage = %s, want CONVERTED", res.Draft.Stage)
	}
	if res.Draft.ConvertedOrderID == nil || *res.Draft.ConvertedOrderID != res.Converted.ID {
		t.Errorf("draft not linked to %s: %v", res.Converted.ID, res.Draft.ConvertedOrderID)
	}

	_, err = env.svc.ConvertDraft(ctx, TransitionRequest{StationID: testStationID, OrderID: draft.ID, Actor: ana})
	if !errors.Is(err, lifecycle.ErrAlreadyConverted) {
		t.Fatalf("second convert: expected ErrAlreadyConverted, got %v", err)
	}

	done, err := env.svc.Transition(ctx, TransitionRequest{StationID: testStationID, OrderID: draft.ID, Actor: ana, Action: lifecycle.ActionComplete})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Stage != enum.StageCompleted {
		t.Errorf("stage = %s, want COMPLETED", done.Stage)
	}
	if len(done.Items) != 2 {
		t.Errorf("items dropped by lifecycle save: %d", len(done.Items))
	}
}

func TestConvertDraft_RefusedWhileLockedByOther(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	draft := env.create(t, order.Input{Draft: true, Items: washItems("100")})
	env.svc.AcquireLock(ctx, testStationID, draft.ID, ben) //nolint:errcheck
	calls := env.store.createOrderCalls

	_, err := env.svc.Transition(ctx, TransitionRequest{StationID: testStationID, OrderID: draft.ID, Actor: ana, Action: lifecycle.ActionConvert})
	if !errors.Is(err, apperr.ErrLockConflict) {
		t.Fatalf("expected lock conflict, got %v", err)
	}
	if env.store.createOrderCalls != calls {
		t.Error("an order was inserted for a refused conversion")
	}

	// The holder may convert.
	if _, err := env.svc.ConvertDraft(ctx, TransitionRequest{StationID: testStationID, OrderID: draft.ID, Actor: ben}); err != nil {
		t.Fatalf("holder convert: %v", err)
	}
}

func TestConvertDraft_EmptyDraft(t *testing.T) {
	env := newTestService(t)
	draft := env.create(t, order.Input{Draft: true})

	_, err := env.svc.ConvertDraft(context.Background(), TransitionRequest{StationID: testStationID, OrderID: draft.ID, Actor: ana})
	if !errors.Is(err, order.ErrEmptyItems) {
		t.Fatalf("expected ErrEmptyItems, got %v", err)
	}
}

func TestTransition_ArchivePermissions(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	o := env.create(t, order.Input{Items: washItems("100")})
	req := TransitionRequest{StationID: testStationID, OrderID: o.ID, Actor: ana, Action: lifecycle.ActionArchive}

	// Archive is not blocked by another operator's edit lock.
	env.svc.AcquireLock(ctx, testStationID, o.ID, ben) //nolint:errcheck

	archived, err := env.svc.Transition(ctx, req)
	if err != nil {
		t.Fatalf("staff archive: %v", err)
	}
	if !archived.Archived {
		t.Error("order not archived")
	}

	req.Action = lifecycle.ActionUnarchive
	_, err = env.svc.Transition(ctx, req)
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("staff unarchive: expected forbidden, got %v", err)
	}

	req.Actor = ben
	restored, err := env.svc.Transition(ctx, req)
	if err != nil {
		t.Fatalf("manager unarchive: %v", err)
	}
	if restored.Archived {
		t.Error("order still archived")
	}
}

func TestCanArchive(t *testing.T) {
	env := newTestService(t)
	tests := []struct {
		role               string
		archive, unarchive bool
	}{
		{enum.OperatorRoleOwner, true, true},
		{enum.OperatorRoleManager, true, true},
		{enum.OperatorRoleStaff, true, false},
		{"GUEST", false, false},
	}
	for _, tt := range tests {
		a, u := env.svc.CanArchive(tt.role)
		if a != tt.archive || u != tt.unarchive {
			t.Errorf("CanArchive(%s) = %v, %v; want %v, %v", tt.role, a, u, tt.archive, tt.unarchive)
		}
	}
}

func TestScheduleDeletionAndSweep(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	draft := env.create(t, order.Input{Draft: true})
	kept := env.create(t, order.Input{Draft: true})
	locked := env.create(t, order.Input{Items: washItems("100")})
	env.svc.AcquireLock(ctx, testStationID, locked.ID, ana) //nolint:errcheck

	scheduled, err := env.svc.Transition(ctx, TransitionRequest{StationID: testStationID, OrderID: draft.ID, Actor: ana, Action: lifecycle.ActionScheduleDeletion})
	if err != nil {
		t.Fatalf("schedule deletion: %v", err)
	}
	want := env.clock.Now().Add(lifecycle.DefaultDraftRetention)
	if scheduled.ScheduledDeleteAt == nil || !scheduled.ScheduledDeleteAt.Equal(want) {
		t.Fatalf("scheduled at %v, want %v", scheduled.ScheduledDeleteAt, want)
	}

	res, err := env.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.DeletedDrafts != 0 || res.ExpiredLocks != 0 {
		t.Errorf("early sweep removed %+v", res)
	}

	env.clock.Advance(lifecycle.DefaultDraftRetention + time.Hour)

	// Past its deletion time the draft refuses further transitions.
	_, err = env.svc.Transition(ctx, TransitionRequest{StationID: testStationID, OrderID: draft.ID, Actor: ana, Action: lifecycle.ActionCancelDeletion})
	if !errors.Is(err, lifecycle.ErrDeletionDue) {
		t.Fatalf("cancel after due: expected ErrDeletionDue, got %v", err)
	}

	res, err = env.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.DeletedDrafts != 1 || res.ExpiredLocks != 1 {
		t.Errorf("sweep = %+v, want 1 draft and 1 lock", res)
	}
	if _, err := env.svc.GetOrder(ctx, testStationID, draft.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("deleted draft still readable: %v", err)
	}
	if _, err := env.svc.GetOrder(ctx, testStationID, kept.ID); err != nil {
		t.Errorf("unscheduled draft removed: %v", err)
	}
	if env.pub.count(enum.EventOrderDeleted) != 1 {
		t.Error("expected an order.deleted event")
	}
}
