package repository

import (
	"context"

	"github.com/pesio-ai/be-expense-approvals/internal/workflow"
	"github.com/pesio-ai/be-expense-approvals/pkg/database"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// UserRepository reads the user directory. Users are administered elsewhere;
// Upsert exists for seeding and tests.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Snapshot returns the whole directory ordered by creation, then id, so role
// resolution picks the same user every time.
func (r *UserRepository) Snapshot(ctx context.Context) (*workflow.Directory, error) {
	query := `
		SELECT id, name, role, manager_id
		FROM users
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load user directory")
	}
	defer rows.Close()

	var users []workflow.User
	for rows.Next() {
		var u workflow.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Role, &u.ManagerID); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user")
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load user directory")
	}

	return workflow.NewDirectory(users)
}

// Upsert inserts or updates a user.
func (r *UserRepository) Upsert(ctx context.Context, u workflow.User) error {
	query := `
		INSERT INTO users (id, name, role, manager_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name       = EXCLUDED.name,
		    role       = EXCLUDED.role,
		    manager_id = EXCLUDED.manager_id,
		    updated_at = NOW()
	`

	if _, err := r.db.Exec(ctx, query, u.ID, u.Name, u.Role, u.ManagerID); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert user")
	}
	return nil
}
