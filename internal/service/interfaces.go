package service

import (
	"context"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/workflow"
)

// ExpenseStore persists expenses. SaveDecision must refuse the write unless
// the stored record is still pending at expectedVersion.
type ExpenseStore interface {
	Create(ctx context.Context, e *workflow.Expense) error
	GetByID(ctx context.Context, id string) (*workflow.Expense, error)
	SaveDecision(ctx context.Context, e *workflow.Expense, expectedVersion int64) error
	ListPendingForApprover(ctx context.Context, approverID string) ([]*workflow.Expense, error)
	ListBySubmitter(ctx context.Context, userID string) ([]*workflow.Expense, error)
}

// DirectoryProvider returns a fresh snapshot of the user directory.
type DirectoryProvider interface {
	Snapshot(ctx context.Context) (*workflow.Directory, error)
}

// PolicyProvider returns the current approval policy.
type PolicyProvider interface {
	Current(ctx context.Context) (*workflow.Policy, error)
}

// PolicyStore reads and replaces the approval policy.
type PolicyStore interface {
	PolicyProvider
	Save(ctx context.Context, policy *workflow.Policy, updatedBy string) error
}

// AuditLog appends and reads expense audit entries.
type AuditLog interface {
	Append(ctx context.Context, entry *repository.ApprovalAuditEntry) error
	GetByExpenseID(ctx context.Context, expenseID string) ([]*repository.ApprovalAuditEntry, error)
}

// Notifier publishes workflow events. Implementations must not block on or
// report delivery failures.
type Notifier interface {
	PublishExpenseEvent(ctx context.Context, eventType, expenseID, actorID string, recipients []string, payload map[string]interface{})
}

// Compile-time checks for the shipped implementations.
var (
	_ ExpenseStore      = (*repository.ExpenseRepository)(nil)
	_ ExpenseStore      = (*repository.MemoryExpenseStore)(nil)
	_ DirectoryProvider = (*repository.UserRepository)(nil)
	_ DirectoryProvider = (*repository.MemoryDirectory)(nil)
	_ PolicyStore       = (*repository.PolicyRepository)(nil)
	_ PolicyStore       = (*repository.MemoryPolicyStore)(nil)
	_ AuditLog          = (*repository.ApprovalAuditRepository)(nil)
	_ AuditLog          = (*repository.MemoryAuditLog)(nil)
)
