package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/workflow"
	"github.com/pesio-ai/be-expense-approvals/pkg/database"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// ExpenseRepository persists expenses in Postgres. Each decision is written
// with a conditional update on (version, status) so two decisions raced
// against the same snapshot cannot both land.
type ExpenseRepository struct {
	db *database.DB
}

// NewExpenseRepository creates a new ExpenseRepository.
func NewExpenseRepository(db *database.DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

const expenseColumns = `
	id::text, user_id, amount::text, currency, base_amount::text, base_currency,
	category, description, expense_date, status::text,
	current_approver_index, approval_chain, version,
	submitted_at, updated_at`

// Create inserts a freshly submitted expense and sets its version to 1.
func (r *ExpenseRepository) Create(ctx context.Context, e *workflow.Expense) error {
	chainJSON, err := json.Marshal(e.ApprovalChain)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval chain")
	}

	query := `
		INSERT INTO expenses
		    (id, user_id, amount, currency, base_amount, base_currency,
		     category, description, expense_date, status,
		     current_approver_index, current_approver_id, approval_chain,
		     version, submitted_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5::numeric, $6,
		        $7, $8, $9, $10::expense_status,
		        $11, $12, $13,
		        1, $14, $14)
		RETURNING version
	`

	err = r.db.QueryRow(ctx, query,
		e.ID,
		e.UserID,
		e.Amount.String(),
		e.Currency,
		e.BaseAmount.String(),
		e.BaseCurrency,
		e.Category,
		e.Description,
		e.Date,
		string(e.Status),
		e.CurrentApproverIndex,
		currentApproverID(e),
		chainJSON,
		e.SubmittedAt,
	).Scan(&e.Version)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create expense")
	}
	e.UpdatedAt = e.SubmittedAt
	return nil
}

// GetByID loads one expense.
func (r *ExpenseRepository) GetByID(ctx context.Context, id string) (*workflow.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = $1`

	e, err := scanExpense(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("expense", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get expense")
	}
	return e, nil
}

// SaveDecision writes the result of one decision. The update only applies if
// the stored row is still pending at expectedVersion.
func (r *ExpenseRepository) SaveDecision(ctx context.Context, e *workflow.Expense, expectedVersion int64) error {
	chainJSON, err := json.Marshal(e.ApprovalChain)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval chain")
	}

	query := `
		UPDATE expenses
		SET status                 = $3::expense_status,
		    current_approver_index = $4,
		    current_approver_id    = $5,
		    approval_chain         = $6,
		    version                = version + 1,
		    updated_at             = $7
		WHERE id = $1
		  AND version = $2
		  AND status = 'pending'
		RETURNING version
	`

	var version int64
	err = r.db.QueryRow(ctx, query,
		e.ID,
		expectedVersion,
		string(e.Status),
		e.CurrentApproverIndex,
		currentApproverID(e),
		chainJSON,
		e.UpdatedAt,
	).Scan(&version)
	if err == pgx.ErrNoRows {
		return ErrConcurrentDecision
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save expense decision")
	}
	e.Version = version
	return nil
}

// ListPendingForApprover returns pending expenses whose current step belongs
// to approverID, oldest first.
func (r *ExpenseRepository) ListPendingForApprover(ctx context.Context, approverID string) ([]*workflow.Expense, error) {
	query := `SELECT ` + expenseColumns + `
		FROM expenses
		WHERE status = 'pending' AND current_approver_id = $1
		ORDER BY submitted_at ASC`

	return r.list(ctx, query, approverID)
}

// ListBySubmitter returns a user's expenses, newest first.
func (r *ExpenseRepository) ListBySubmitter(ctx context.Context, userID string) ([]*workflow.Expense, error) {
	query := `SELECT ` + expenseColumns + `
		FROM expenses
		WHERE user_id = $1
		ORDER BY submitted_at DESC`

	return r.list(ctx, query, userID)
}

func (r *ExpenseRepository) list(ctx context.Context, query string, args ...any) ([]*workflow.Expense, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list expenses")
	}
	defer rows.Close()

	expenses := make([]*workflow.Expense, 0)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan expense")
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list expenses")
	}
	return expenses, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type expenseScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row expenseScanner) (*workflow.Expense, error) {
	e := &workflow.Expense{}
	var (
		amount, baseAmount string
		status             string
		chainJSON          []byte
	)

	err := row.Scan(
		&e.ID,
		&e.UserID,
		&amount,
		&e.Currency,
		&baseAmount,
		&e.BaseCurrency,
		&e.Category,
		&e.Description,
		&e.Date,
		&status,
		&e.CurrentApproverIndex,
		&chainJSON,
		&e.Version,
		&e.SubmittedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = workflow.Status(status)
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if e.BaseAmount, err = decimal.NewFromString(baseAmount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(chainJSON, &e.ApprovalChain); err != nil {
		return nil, err
	}
	return e, nil
}
