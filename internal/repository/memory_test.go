package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/workflow"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

func newPendingExpense(id, userID string, submittedAt time.Time, approvers ...string) *workflow.Expense {
	chain := make([]workflow.ApprovalStep, len(approvers))
	for i, a := range approvers {
		chain[i] = workflow.ApprovalStep{StepName: "step", ApproverID: a, Status: workflow.StatusPending}
	}
	return &workflow.Expense{
		ID:            id,
		UserID:        userID,
		Amount:        decimal.RequireFromString("120.50"),
		Currency:      "EUR",
		BaseAmount:    decimal.RequireFromString("120.50"),
		BaseCurrency:  "EUR",
		Category:      "Travel",
		Description:   "train",
		Date:          submittedAt.Truncate(24 * time.Hour),
		Status:        workflow.StatusPending,
		ApprovalChain: chain,
		SubmittedAt:   submittedAt,
	}
}

func TestMemoryExpenseStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryExpenseStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	e := newPendingExpense("e1", "u1", now, "m1")
	require.NoError(t, store.Create(ctx, e))
	assert.Equal(t, int64(1), e.Version)

	err := store.Create(ctx, newPendingExpense("e1", "u1", now, "m1"))
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))

	got, err := store.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, e, got)

	// Mutating the returned copy must not touch the stored record.
	got.ApprovalChain[0].Status = workflow.StatusApproved
	again, err := store.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPending, again.ApprovalChain[0].Status)

	_, err = store.GetByID(ctx, "missing")
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestMemoryExpenseStoreSaveDecisionVersionCheck(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryExpenseStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(ctx, newPendingExpense("e1", "u1", now, "m1", "m2")))

	loaded, err := store.GetByID(ctx, "e1")
	require.NoError(t, err)
	loaded.ApprovalChain[0].Status = workflow.StatusApproved
	loaded.CurrentApproverIndex = 1

	require.NoError(t, store.SaveDecision(ctx, loaded, 1))
	assert.Equal(t, int64(2), loaded.Version)

	// Same stale snapshot again.
	err = store.SaveDecision(ctx, loaded, 1)
	assert.True(t, errors.Is(err, ErrConcurrentDecision))

	loaded.Status = workflow.StatusApproved
	loaded.CurrentApproverIndex = 2
	require.NoError(t, store.SaveDecision(ctx, loaded, 2))

	// Finalized expenses accept no further writes even at the right version.
	err = store.SaveDecision(ctx, loaded, 3)
	assert.True(t, errors.Is(err, ErrConcurrentDecision))

	err = store.SaveDecision(ctx, newPendingExpense("nope", "u1", now, "m1"), 1)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestMemoryExpenseStoreConcurrentDecisions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryExpenseStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(ctx, newPendingExpense("e1", "u1", now, "m1", "m2")))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot, err := store.GetByID(ctx, "e1")
			if err != nil {
				return
			}
			snapshot.ApprovalChain[0].Status = workflow.StatusApproved
			snapshot.CurrentApproverIndex = 1
			err = store.SaveDecision(ctx, snapshot, 1)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, ErrConcurrentDecision) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)

	final, err := store.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), final.Version)
}

func TestMemoryExpenseStoreLists(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryExpenseStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newPendingExpense("e1", "u1", base, "m1")))
	require.NoError(t, store.Create(ctx, newPendingExpense("e2", "u1", base.Add(time.Hour), "m1")))
	require.NoError(t, store.Create(ctx, newPendingExpense("e3", "u2", base.Add(2*time.Hour), "m2")))

	done := newPendingExpense("e4", "u2", base.Add(3*time.Hour), "m1")
	require.NoError(t, store.Create(ctx, done))
	done.Status = workflow.StatusRejected
	require.NoError(t, store.SaveDecision(ctx, done, 1))

	pending, err := store.ListPendingForApprover(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "e1", pending[0].ID)
	assert.Equal(t, "e2", pending[1].ID)

	mine, err := store.ListBySubmitter(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "e4", mine[0].ID)
	assert.Equal(t, "e3", mine[1].ID)

	none, err := store.ListPendingForApprover(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestMemoryDirectoryAndPolicy(t *testing.T) {
	ctx := context.Background()
	mgr := "m1"
	dir := NewMemoryDirectory(
		workflow.User{ID: "m1", Name: "Mia", Role: "Manager"},
		workflow.User{ID: "u1", Name: "Uma", Role: "Employee", ManagerID: &mgr},
	)

	snap, err := dir.Snapshot(ctx)
	require.NoError(t, err)
	m, ok := snap.Manager("u1")
	require.True(t, ok)
	assert.Equal(t, "m1", m.ID)

	require.NoError(t, dir.Upsert(ctx, workflow.User{ID: "u1", Name: "Uma", Role: "Finance"}))
	snap, err = dir.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())
	_, ok = snap.Manager("u1")
	assert.False(t, ok)

	policies := NewMemoryPolicyStore(nil)
	_, err = policies.Current(ctx)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))

	approver := "m1"
	p := &workflow.Policy{
		BaseCurrency:    "EUR",
		SequentialChain: []workflow.ChainStep{{Role: "Manager", StepName: "Manager", ApproverID: &approver}},
	}
	require.NoError(t, policies.Save(ctx, p, "admin"))
	*p.SequentialChain[0].ApproverID = "changed"

	got, err := policies.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m1", *got.SequentialChain[0].ApproverID)
}

func TestMemoryAuditLog(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryAuditLog()
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return fixed }

	require.NoError(t, log.Append(ctx, &ApprovalAuditEntry{ExpenseID: "e1", Action: AuditActionSubmitted, PerformedBy: "u1"}))
	require.NoError(t, log.Append(ctx, &ApprovalAuditEntry{ExpenseID: "e2", Action: AuditActionSubmitted, PerformedBy: "u2"}))
	require.NoError(t, log.Append(ctx, &ApprovalAuditEntry{ExpenseID: "e1", Action: AuditActionApproved, PerformedBy: "m1"}))

	entries, err := log.GetByExpenseID(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, int64(3), entries[1].ID)
	assert.Equal(t, AuditActionApproved, entries[1].Action)
	assert.Equal(t, fixed, entries[1].PerformedAt)
}
