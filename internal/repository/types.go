package repository

import (
	"time"

	"github.com/pesio-ai/be-expense-approvals/internal/workflow"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// ErrConcurrentDecision is returned when an expense changed between load and
// save. The caller reloads and decides again if it still makes sense.
var ErrConcurrentDecision = errors.New(errors.ErrCodeConflict, "expense was modified by a concurrent decision")

// Audit actions
const (
	AuditActionSubmitted = "submitted"
	AuditActionApproved  = "approved"
	AuditActionRejected  = "rejected"
)

// ApprovalAuditEntry is one immutable record in the expense audit log.
type ApprovalAuditEntry struct {
	ID           int64                  `json:"id"`
	ExpenseID    string                 `json:"expense_id"`
	Action       string                 `json:"action"`
	PerformedBy  string                 `json:"performed_by"`
	StepIndex    *int                   `json:"step_index,omitempty"`
	StatusBefore *workflow.Status       `json:"status_before,omitempty"`
	StatusAfter  *workflow.Status       `json:"status_after,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	PerformedAt  time.Time              `json:"performed_at"`
}

// currentApproverID is the denormalized approver column used by the
// pending-approvals index; empty once the expense is finalized.
func currentApproverID(e *workflow.Expense) *string {
	if step := e.CurrentStep(); step != nil {
		id := step.ApproverID
		return &id
	}
	return nil
}
