// Package lifecycle is the order lifecycle state machine: the draft axis
// (DRAFT -> CONVERTED -> COMPLETED, plus scheduled deletion of stale drafts)
// crossed with the independent archive axis. Every transition goes through
// Apply.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/apperr"
	"github.com/laundryhub/api/internal/enum"
	"github.com/laundryhub/api/internal/payment"
)

// DefaultDraftRetention is how long a draft scheduled for deletion is kept.
const DefaultDraftRetention = 30 * 24 * time.Hour

var (
	ErrCompleted          = fmt.Errorf("%w: order is completed and can no longer be changed", apperr.ErrPrecondition)
	ErrDeletionDue        = fmt.Errorf("%w: draft is past its scheduled deletion", apperr.ErrPrecondition)
	ErrNotDraft           = fmt.Errorf("%w: order is not a draft", apperr.ErrPrecondition)
	ErrNotConverted       = fmt.Errorf("%w: draft has no converted order yet", apperr.ErrPrecondition)
	ErrAlreadyConverted   = fmt.Errorf("%w: draft is already converted", apperr.ErrPrecondition)
	ErrMissingConvertedID = fmt.Errorf("%w: converted order id is required", apperr.ErrInvalidInput)
	ErrPermissionDenied   = fmt.Errorf("%w: missing permission", apperr.ErrForbidden)
	ErrUnknownAction      = fmt.Errorf("%w: unknown lifecycle action", apperr.ErrInvalidInput)
)

// State is the lifecycle of one order. Stage is one of enum.Stage*.
type State struct {
	Stage             string
	Archived          bool
	ScheduledDeleteAt *time.Time
	ConvertedOrderID  *uuid.UUID
}

type Action int

const (
	ActionEdit Action = iota + 1
	ActionConvert
	ActionComplete
	ActionScheduleDeletion
	ActionCancelDeletion
	ActionArchive
	ActionUnarchive
)

func (a Action) String() string {
	switch a {
	case ActionEdit:
		return "edit"
	case ActionConvert:
		return "convert"
	case ActionComplete:
		return "complete"
	case ActionScheduleDeletion:
		return "schedule_deletion"
	case ActionCancelDeletion:
		return "cancel_deletion"
	case ActionArchive:
		return "archive"
	case ActionUnarchive:
		return "unarchive"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Transition is a requested lifecycle change.
type Transition struct {
	Action Action
	Now    time.Time

	// ConvertedOrderID is required by ActionConvert.
	ConvertedOrderID uuid.UUID
	// Retention overrides DefaultDraftRetention for ActionScheduleDeletion.
	Retention time.Duration
	// Permitted carries the archive/unarchive capability check result.
	Permitted bool
}

// Initial returns the state of a newly created order.
func Initial(draft bool) State {
	if draft {
		return State{Stage: enum.StageDraft}
	}
	return State{Stage: enum.StageOpen}
}

// Apply validates t against s and returns the next state. On error s is
// returned unchanged.
func Apply(s State, t Transition) (State, error) {
	if s.Stage == enum.StageCompleted {
		return s, ErrCompleted
	}
	if !t.Now.IsZero() && DeletionDue(s, t.Now) {
		return s, ErrDeletionDue
	}

	next := s
	switch t.Action {
	case ActionEdit:
		return s, nil

	case ActionConvert:
		switch s.Stage {
		case enum.StageDraft:
		case enum.StageConverted:
			return s, ErrAlreadyConverted
		default:
			return s, ErrNotDraft
		}
		if t.ConvertedOrderID == uuid.Nil {
			return s, ErrMissingConvertedID
		}
		id := t.ConvertedOrderID
		next.Stage = enum.StageConverted
		next.ConvertedOrderID = &id
		next.ScheduledDeleteAt = nil
		return next, nil

	case ActionComplete:
		switch s.Stage {
		case enum.StageConverted:
		case enum.StageDraft:
			return s, ErrNotConverted
		default:
			return s, ErrNotDraft
		}
		if s.ConvertedOrderID == nil || *s.ConvertedOrderID == uuid.Nil {
			return s, ErrNotConverted
		}
		next.Stage = enum.StageCompleted
		return next, nil

	case ActionScheduleDeletion:
		switch s.Stage {
		case enum.StageDraft:
		case enum.StageConverted:
			return s, ErrAlreadyConverted
		default:
			return s, ErrNotDraft
		}
		retention := t.Retention
		if retention <= 0 {
			retention = DefaultDraftRetention
		}
		now := t.Now
		if now.IsZero() {
			now = time.Now()
		}
		at := now.Add(retention).UTC()
		next.ScheduledDeleteAt = &at
		return next, nil

	case ActionCancelDeletion:
		if s.Stage != enum.StageDraft {
			return s, ErrNotDraft
		}
		next.ScheduledDeleteAt = nil
		return next, nil

	case ActionArchive, ActionUnarchive:
		if !t.Permitted {
			return s, fmt.Errorf("%w to %s orders", ErrPermissionDenied, t.Action)
		}
		next.Archived = t.Action == ActionArchive
		return next, nil
	}
	return s, ErrUnknownAction
}

// CanEdit reports whether items or payment of an order in state s may be
// changed at all. The edit lock is only consulted after this passes.
func CanEdit(s State, now time.Time) error {
	_, err := Apply(s, Transition{Action: ActionEdit, Now: now})
	return err
}

// DeletionDue reports whether a scheduled draft has reached its deletion time.
func DeletionDue(s State, now time.Time) bool {
	return s.Stage == enum.StageDraft && s.ScheduledDeleteAt != nil && !now.Before(*s.ScheduledDeleteAt)
}

// Affordances lists the actions a caller may offer for an order.
type Affordances struct {
	Edit             bool `json:"edit"`
	EditPayment      bool `json:"edit_payment"`
	MarkCompleted    bool `json:"mark_completed"`
	ScheduleDeletion bool `json:"schedule_deletion"`
	CancelDeletion   bool `json:"cancel_deletion"`
	Archive          bool `json:"archive"`
	Unarchive        bool `json:"unarchive"`
}

// AffordancesFor derives UI affordances from the lifecycle state, payment
// status and the caller's archive capabilities.
func AffordancesFor(s State, paymentStatus string, now time.Time, canArchive, canUnarchive bool) Affordances {
	if CanEdit(s, now) != nil {
		return Affordances{}
	}
	a := Affordances{
		Edit:        true,
		EditPayment: payment.Editable(paymentStatus),
	}
	_, err := Apply(s, Transition{Action: ActionComplete, Now: now})
	a.MarkCompleted = err == nil
	a.ScheduleDeletion = s.Stage == enum.StageDraft && s.ScheduledDeleteAt == nil
	a.CancelDeletion = s.Stage == enum.StageDraft && s.ScheduledDeleteAt != nil
	a.Archive = canArchive && !s.Archived
	a.Unarchive = canUnarchive && s.Archived
	return a
}
