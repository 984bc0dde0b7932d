// Package workflow holds the expense approval engine: chain resolution from a
// policy and a directory snapshot, and the per-decision state machine. Everything
// here is pure; persistence and serialization belong to the callers.
package workflow

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the state of an expense or of a single approval step.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ManagerRole resolves to the submitter's direct manager.
const ManagerRole = "Manager"

// User is a directory entry. Role is an open string set.
type User struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Role      string  `json:"role"`
	ManagerID *string `json:"manager_id,omitempty"`
}

// ApprovalStep is one position in an expense's approval chain.
type ApprovalStep struct {
	StepName   string     `json:"step_name"`
	ApproverID string     `json:"approver_id"`
	Status     Status     `json:"status"`
	Comment    *string    `json:"comment,omitempty"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
}

// Expense is a submitted claim and its approval progress.
type Expense struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"user_id"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	BaseAmount           decimal.Decimal `json:"base_amount"`
	BaseCurrency         string          `json:"base_currency"`
	Category             string          `json:"category"`
	Description          string          `json:"description"`
	Date                 time.Time       `json:"date"`
	Status               Status          `json:"status"`
	CurrentApproverIndex int             `json:"current_approver_index"`
	ApprovalChain        []ApprovalStep  `json:"approval_chain"`
	SubmittedAt          time.Time       `json:"submitted_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	Version              int64           `json:"version"`
}

// Clone returns a deep copy, including step comment and timestamp pointers.
func (e *Expense) Clone() *Expense {
	if e == nil {
		return nil
	}
	out := *e
	out.ApprovalChain = make([]ApprovalStep, len(e.ApprovalChain))
	for i, step := range e.ApprovalChain {
		if step.Comment != nil {
			c := *step.Comment
			step.Comment = &c
		}
		if step.DecidedAt != nil {
			d := *step.DecidedAt
			step.DecidedAt = &d
		}
		out.ApprovalChain[i] = step
	}
	return &out
}

// CurrentStep returns the step awaiting a decision, or nil when the expense
// is finalized or the index is out of range.
func (e *Expense) CurrentStep() *ApprovalStep {
	if e.Status != StatusPending {
		return nil
	}
	if e.CurrentApproverIndex < 0 || e.CurrentApproverIndex >= len(e.ApprovalChain) {
		return nil
	}
	return &e.ApprovalChain[e.CurrentApproverIndex]
}

// ApprovedCount counts steps with status Approved.
func (e *Expense) ApprovedCount() int {
	n := 0
	for _, step := range e.ApprovalChain {
		if step.Status == StatusApproved {
			n++
		}
	}
	return n
}
