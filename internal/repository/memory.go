package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pesio-ai/be-expense-approvals/internal/workflow"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// MemoryExpenseStore keeps expenses in process. It applies the same
// version-and-status check as the Postgres store under a single mutex.
// Records are cloned on the way in and out so callers never share state.
type MemoryExpenseStore struct {
	mu       sync.RWMutex
	expenses map[string]*workflow.Expense
}

// NewMemoryExpenseStore creates an empty store.
func NewMemoryExpenseStore() *MemoryExpenseStore {
	return &MemoryExpenseStore{expenses: make(map[string]*workflow.Expense)}
}

// Create stores a new expense at version 1.
func (s *MemoryExpenseStore) Create(_ context.Context, e *workflow.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.expenses[e.ID]; exists {
		return errors.New(errors.ErrCodeConflict, "expense already exists: "+e.ID)
	}
	e.Version = 1
	e.UpdatedAt = e.SubmittedAt
	s.expenses[e.ID] = e.Clone()
	return nil
}

// GetByID returns a copy of the stored expense.
func (s *MemoryExpenseStore) GetByID(_ context.Context, id string) (*workflow.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.expenses[id]
	if !ok {
		return nil, errors.NotFound("expense", id)
	}
	return e.Clone(), nil
}

// SaveDecision replaces the stored expense if it is still pending at expectedVersion.
func (s *MemoryExpenseStore) SaveDecision(_ context.Context, e *workflow.Expense, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.expenses[e.ID]
	if !ok {
		return errors.NotFound("expense", e.ID)
	}
	if stored.Version != expectedVersion || stored.Status != workflow.StatusPending {
		return ErrConcurrentDecision
	}

	e.Version = expectedVersion + 1
	s.expenses[e.ID] = e.Clone()
	return nil
}

// ListPendingForApprover returns pending expenses awaiting approverID, oldest first.
func (s *MemoryExpenseStore) ListPendingForApprover(_ context.Context, approverID string) ([]*workflow.Expense, error) {
	return s.filter(func(e *workflow.Expense) bool {
		step := e.CurrentStep()
		return step != nil && step.ApproverID == approverID
	}, false), nil
}

// ListBySubmitter returns userID's expenses, newest first.
func (s *MemoryExpenseStore) ListBySubmitter(_ context.Context, userID string) ([]*workflow.Expense, error) {
	return s.filter(func(e *workflow.Expense) bool { return e.UserID == userID }, true), nil
}

func (s *MemoryExpenseStore) filter(keep func(*workflow.Expense) bool, newestFirst bool) []*workflow.Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*workflow.Expense, 0)
	for _, e := range s.expenses {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		if newestFirst {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// MemoryDirectory is an in-process user directory kept in insertion order.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users []workflow.User
}

// NewMemoryDirectory creates a directory holding users in the given order.
func NewMemoryDirectory(users ...workflow.User) *MemoryDirectory {
	d := &MemoryDirectory{}
	d.users = append(d.users, users...)
	return d
}

// Snapshot builds a fresh directory snapshot.
func (d *MemoryDirectory) Snapshot(_ context.Context) (*workflow.Directory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return workflow.NewDirectory(d.users)
}

// Upsert replaces a user in place or appends a new one.
func (d *MemoryDirectory) Upsert(_ context.Context, u workflow.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.users {
		if d.users[i].ID == u.ID {
			d.users[i] = u
			return nil
		}
	}
	d.users = append(d.users, u)
	return nil
}

// MemoryPolicyStore holds the singleton policy in process.
type MemoryPolicyStore struct {
	mu     sync.RWMutex
	policy *workflow.Policy
}

// NewMemoryPolicyStore creates a store with an initial policy (may be nil).
func NewMemoryPolicyStore(initial *workflow.Policy) *MemoryPolicyStore {
	return &MemoryPolicyStore{policy: clonePolicy(initial)}
}

// Current returns a copy of the policy.
func (s *MemoryPolicyStore) Current(_ context.Context) (*workflow.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.policy == nil {
		return nil, errors.NotFound("approval_policy", "1")
	}
	return clonePolicy(s.policy), nil
}

// Save replaces the policy.
func (s *MemoryPolicyStore) Save(_ context.Context, policy *workflow.Policy, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = clonePolicy(policy)
	return nil
}

func clonePolicy(p *workflow.Policy) *workflow.Policy {
	if p == nil {
		return nil
	}
	out := *p
	out.SequentialChain = make([]workflow.ChainStep, len(p.SequentialChain))
	for i, step := range p.SequentialChain {
		if step.ApproverID != nil {
			id := *step.ApproverID
			step.ApproverID = &id
		}
		out.SequentialChain[i] = step
	}
	return &out
}

// MemoryAuditLog is an append-only in-process audit log.
type MemoryAuditLog struct {
	mu      sync.Mutex
	nextID  int64
	entries []*ApprovalAuditEntry
	now     func() time.Time
}

// NewMemoryAuditLog creates an empty audit log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{now: time.Now}
}

// Append records an entry, assigning id and timestamp.
func (l *MemoryAuditLog) Append(_ context.Context, entry *ApprovalAuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	entry.ID = l.nextID
	entry.PerformedAt = l.now().UTC()
	cp := *entry
	l.entries = append(l.entries, &cp)
	return nil
}

// GetByExpenseID returns entries for an expense in append order.
func (l *MemoryAuditLog) GetByExpenseID(_ context.Context, expenseID string) ([]*ApprovalAuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*ApprovalAuditEntry, 0)
	for _, e := range l.entries {
		if e.ExpenseID == expenseID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
