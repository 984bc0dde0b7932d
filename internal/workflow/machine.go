package workflow

import (
	"fmt"
	"strings"
	"time"
)

// Action is an approver's verdict on the current step.
type Action string

const (
	ActionApprove Action = "approved"
	ActionReject  Action = "rejected"
)

// Decision is one approver's input for the current step.
type Decision struct {
	ApproverID string
	Action     Action
	Comment    string
}

// Reason explains what a decision did to the expense.
type Reason string

const (
	ReasonAdvanced   Reason = "advanced"
	ReasonOverride   Reason = "override"
	ReasonSequential Reason = "sequential"
	ReasonPercentage Reason = "percentage"
	ReasonRejected   Reason = "rejected"
)

// Outcome summarizes a successful transition.
type Outcome struct {
	StepIndex    int
	StatusBefore Status
	StatusAfter  Status
	Reason       Reason
}

// Decide applies a decision to a copy of expense. On error the input is
// untouched and no copy is returned.
//
// Approval order: mark the step, then the override rule, then sequential
// exhaustion, then the percentage rule. Rejection is final at any step.
func Decide(expense *Expense, policy *Policy, d Decision, now time.Time) (*Expense, Outcome, error) {
	if expense.Status != StatusPending {
		return nil, Outcome{}, fmt.Errorf("%w: expense %s is %s", ErrAlreadyFinalized, expense.ID, expense.Status)
	}

	idx := expense.CurrentApproverIndex
	if idx < 0 || idx >= len(expense.ApprovalChain) {
		return nil, Outcome{}, fmt.Errorf("%w: index %d outside chain of %d", ErrCorruptChain, idx, len(expense.ApprovalChain))
	}
	if expense.ApprovalChain[idx].ApproverID != d.ApproverID {
		return nil, Outcome{}, fmt.Errorf("%w: expense %s step %d", ErrWrongApprover, expense.ID, idx)
	}

	comment := strings.TrimSpace(d.Comment)
	switch d.Action {
	case ActionApprove:
	case ActionReject:
		if comment == "" {
			return nil, Outcome{}, ErrMissingRejectionComment
		}
	default:
		return nil, Outcome{}, fmt.Errorf("%w: %q", ErrInvalidAction, d.Action)
	}

	next := expense.Clone()
	out := Outcome{StepIndex: idx, StatusBefore: expense.Status}

	step := &next.ApprovalChain[idx]
	decidedAt := now.UTC()
	step.DecidedAt = &decidedAt
	if comment != "" {
		step.Comment = &comment
	}
	next.UpdatedAt = decidedAt

	if d.Action == ActionReject {
		step.Status = StatusRejected
		next.Status = StatusRejected
		out.StatusAfter = next.Status
		out.Reason = ReasonRejected
		return next, out, nil
	}

	step.Status = StatusApproved
	chainLen := len(next.ApprovalChain)

	switch {
	case policy.overrides(d.ApproverID):
		next.Status = StatusApproved
		out.Reason = ReasonOverride
	case idx+1 == chainLen:
		next.Status = StatusApproved
		out.Reason = ReasonSequential
	default:
		next.CurrentApproverIndex = idx + 1
		out.Reason = ReasonAdvanced
		if policy.percentageMet(next.ApprovedCount(), chainLen) {
			next.Status = StatusApproved
			out.Reason = ReasonPercentage
		}
	}

	if next.Status != StatusPending {
		next.CurrentApproverIndex = chainLen
	}
	out.StatusAfter = next.Status
	return next, out, nil
}
