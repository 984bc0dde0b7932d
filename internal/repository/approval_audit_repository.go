package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-expense-approvals/internal/workflow"
	"github.com/pesio-ai/be-expense-approvals/pkg/database"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// ApprovalAuditRepository appends and reads immutable expense audit entries.
type ApprovalAuditRepository struct {
	db *database.DB
}

// NewApprovalAuditRepository creates a new ApprovalAuditRepository.
func NewApprovalAuditRepository(db *database.DB) *ApprovalAuditRepository {
	return &ApprovalAuditRepository{db: db}
}

// Append inserts one audit entry. There is no update or delete.
func (r *ApprovalAuditRepository) Append(ctx context.Context, entry *ApprovalAuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO expense_audit_log
		    (expense_id, action, performed_by, step_index,
		     status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4,
		        $5::expense_status, $6::expense_status, $7)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.ExpenseID,
		entry.Action,
		entry.PerformedBy,
		entry.StepIndex,
		statusArg(entry.StatusBefore),
		statusArg(entry.StatusAfter),
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
}

// GetByExpenseID returns the audit trail for an expense, oldest first.
func (r *ApprovalAuditRepository) GetByExpenseID(ctx context.Context, expenseID string) ([]*ApprovalAuditEntry, error) {
	query := `
		SELECT id, expense_id::text, action, performed_by, step_index,
		       status_before::text, status_after::text, metadata, performed_at
		FROM expense_audit_log
		WHERE expense_id = $1
		ORDER BY performed_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, expenseID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *ApprovalAuditRepository) scanRows(rows pgx.Rows) ([]*ApprovalAuditEntry, error) {
	entries := make([]*ApprovalAuditEntry, 0)
	for rows.Next() {
		entry := &ApprovalAuditEntry{}
		var (
			before, after *string
			metadataJSON  []byte
		)
		err := rows.Scan(
			&entry.ID,
			&entry.ExpenseID,
			&entry.Action,
			&entry.PerformedBy,
			&entry.StepIndex,
			&before,
			&after,
			&metadataJSON,
			&entry.PerformedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}
		entry.StatusBefore = statusPtr(before)
		entry.StatusAfter = statusPtr(after)
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func statusArg(s *workflow.Status) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func statusPtr(s *string) *workflow.Status {
	if s == nil {
		return nil
	}
	v := workflow.Status(*s)
	return &v
}
