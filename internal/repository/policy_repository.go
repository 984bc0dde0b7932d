package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-expense-approvals/internal/workflow"
	"github.com/pesio-ai/be-expense-approvals/pkg/database"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// PolicyRepository stores the singleton approval policy as a JSONB document.
type PolicyRepository struct {
	db *database.DB
}

// NewPolicyRepository creates a new PolicyRepository.
func NewPolicyRepository(db *database.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// Current returns the stored policy.
func (r *PolicyRepository) Current(ctx context.Context) (*workflow.Policy, error) {
	var doc []byte
	err := r.db.QueryRow(ctx, `SELECT document FROM approval_policy WHERE id = 1`).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_policy", "1")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval policy")
	}

	policy := &workflow.Policy{}
	if err := json.Unmarshal(doc, policy); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal approval policy")
	}
	return policy, nil
}

// Save replaces the stored policy.
func (r *PolicyRepository) Save(ctx context.Context, policy *workflow.Policy, updatedBy string) error {
	doc, err := json.Marshal(policy)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval policy")
	}

	query := `
		INSERT INTO approval_policy (id, document, updated_by, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET document   = EXCLUDED.document,
		    updated_by = EXCLUDED.updated_by,
		    updated_at = NOW()
	`

	if _, err := r.db.Exec(ctx, query, doc, updatedBy); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save approval policy")
	}
	return nil
}
