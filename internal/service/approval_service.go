package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/client"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/workflow"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
	"github.com/pesio-ai/be-expense-approvals/pkg/validator"
)

const expenseDateLayout = "2006-01-02"

// SubmitExpenseRequest is a new expense claim. BaseAmount may be left zero
// when Currency already is the policy's base currency.
type SubmitExpenseRequest struct {
	UserID      string          `json:"-" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	Currency    string          `json:"currency" validate:"required,iso4217"`
	BaseAmount  decimal.Decimal `json:"base_amount" validate:"gte=0"`
	Category    string          `json:"category" validate:"required,max=100"`
	Description string          `json:"description" validate:"max=1000"`
	Date        string          `json:"date" validate:"required,datetime=2006-01-02"`
}

// DecideRequest is one approver's decision on an expense. Action is checked
// by the state machine so precondition order is preserved.
type DecideRequest struct {
	ExpenseID  string `json:"-" validate:"required,uuid"`
	ApproverID string `json:"-" validate:"required"`
	Action     string `json:"action"`
	Comment    string `json:"comment" validate:"max=2000"`
}

// ApprovalService drives expenses from submission to a final decision.
type ApprovalService struct {
	expenses  ExpenseStore
	directory DirectoryProvider
	policies  PolicyProvider
	audit     AuditLog
	notifier  Notifier
	metrics   *Metrics
	log       *logger.Logger
	now       func() time.Time
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	expenses ExpenseStore,
	directory DirectoryProvider,
	policies PolicyProvider,
	audit AuditLog,
	notifier Notifier,
	metrics *Metrics,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		expenses:  expenses,
		directory: directory,
		policies:  policies,
		audit:     audit,
		notifier:  notifier,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
}

// ── Submission ────────────────────────────────────────────────────────────────

// SubmitExpense resolves the approval chain against the current directory and
// policy and stores the expense at step 0.
func (s *ApprovalService) SubmitExpense(ctx context.Context, req SubmitExpenseRequest) (*workflow.Expense, error) {
	e, chainLen, err := s.submit(ctx, req)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeInternal {
			s.metrics.submission(resultError, 0)
		} else {
			s.metrics.submission(resultRejected, 0)
		}
		return nil, err
	}
	s.metrics.submission(resultAccepted, chainLen)
	return e, nil
}

func (s *ApprovalService) submit(ctx context.Context, req SubmitExpenseRequest) (*workflow.Expense, int, error) {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.Category = strings.TrimSpace(req.Category)
	if err := validator.Validate(req); err != nil {
		return nil, 0, err
	}
	date, err := time.Parse(expenseDateLayout, req.Date)
	if err != nil {
		return nil, 0, errors.InvalidInput("date", "must be YYYY-MM-DD")
	}

	dir, err := s.directory.Snapshot(ctx)
	if err != nil {
		return nil, 0, err
	}
	policy, err := s.policies.Current(ctx)
	if err != nil {
		return nil, 0, err
	}

	baseAmount := req.BaseAmount
	if baseAmount.IsZero() {
		if req.Currency != policy.BaseCurrency {
			return nil, 0, errors.InvalidInput("base_amount",
				fmt.Sprintf("required when currency differs from base currency %s", policy.BaseCurrency))
		}
		baseAmount = req.Amount
	}

	now := s.now().UTC()
	e := &workflow.Expense{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Amount:       req.Amount,
		Currency:     req.Currency,
		BaseAmount:   baseAmount,
		BaseCurrency: policy.BaseCurrency,
		Category:     req.Category,
		Description:  strings.TrimSpace(req.Description),
		Date:         date,
		Status:       workflow.StatusPending,
		SubmittedAt:  now,
		UpdatedAt:    now,
	}

	chain, err := workflow.BuildChain(e, policy, dir)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", req.UserID).Msg("Approval chain could not be built")
		return nil, 0, err
	}
	for _, a := range chain.Ambiguous {
		s.log.Warn().
			Str("expense_id", e.ID).
			Str("step_name", a.StepName).
			Str("role", a.Role).
			Int("candidates", a.Candidates).
			Str("chosen", a.Chosen).
			Msg("Role matches several users; picked first in directory order")
	}
	if len(chain.Skipped) > 0 {
		s.log.Info().
			Str("expense_id", e.ID).
			Strs("skipped_steps", chain.Skipped).
			Msg("Policy steps without a resolvable approver were dropped")
	}

	e.ApprovalChain = chain.Steps
	e.CurrentApproverIndex = 0

	if err := s.expenses.Create(ctx, e); err != nil {
		return nil, 0, err
	}

	statusAfter := workflow.StatusPending
	s.appendAudit(ctx, &repository.ApprovalAuditEntry{
		ExpenseID:   e.ID,
		Action:      repository.AuditActionSubmitted,
		PerformedBy: req.UserID,
		StatusAfter: &statusAfter,
		Metadata: map[string]interface{}{
			"chain_length":  len(e.ApprovalChain),
			"skipped_steps": chain.Skipped,
		},
	})

	s.log.Info().
		Str("expense_id", e.ID).
		Str("user_id", e.UserID).
		Str("base_amount", e.BaseAmount.String()).
		Int("chain_length", len(e.ApprovalChain)).
		Msg("Expense submitted")

	s.notifier.PublishExpenseEvent(ctx, client.EventExpenseSubmitted, e.ID, e.UserID,
		[]string{e.UserID}, expensePayload(e))
	s.notifyCurrentApprover(ctx, e, e.UserID)

	return e, len(e.ApprovalChain), nil
}

// ── Decisions ─────────────────────────────────────────────────────────────────

// Decide applies one approver's decision. The policy is read fresh; the write
// only lands if nobody else decided on the same version first.
func (s *ApprovalService) Decide(ctx context.Context, req DecideRequest) (*workflow.Expense, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	policy, err := s.policies.Current(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.expenses.GetByID(ctx, req.ExpenseID)
	if err != nil {
		return nil, err
	}

	decision := workflow.Decision{
		ApproverID: req.ApproverID,
		Action:     workflow.Action(strings.ToLower(strings.TrimSpace(req.Action))),
		Comment:    req.Comment,
	}
	next, outcome, err := workflow.Decide(current, policy, decision, s.now())
	if err != nil {
		if errors.Is(err, workflow.ErrCorruptChain) {
			s.log.Error().Err(err).Str("expense_id", current.ID).Msg("Expense chain is inconsistent")
		}
		return nil, err
	}

	if err := s.expenses.SaveDecision(ctx, next, current.Version); err != nil {
		if errors.Is(err, repository.ErrConcurrentDecision) {
			s.metrics.conflict()
			s.log.Warn().
				Str("expense_id", current.ID).
				Str("approver_id", req.ApproverID).
				Int64("version", current.Version).
				Msg("Decision lost a race with a concurrent decision")
		}
		return nil, err
	}
	s.metrics.decision(decision.Action, outcome.Reason)

	step := outcome.StepIndex
	before, after := outcome.StatusBefore, outcome.StatusAfter
	metadata := map[string]interface{}{
		"reason":    string(outcome.Reason),
		"step_name": next.ApprovalChain[step].StepName,
	}
	if c := next.ApprovalChain[step].Comment; c != nil {
		metadata["comment"] = *c
	}
	s.appendAudit(ctx, &repository.ApprovalAuditEntry{
		ExpenseID:    next.ID,
		Action:       string(decision.Action),
		PerformedBy:  req.ApproverID,
		StepIndex:    &step,
		StatusBefore: &before,
		StatusAfter:  &after,
		Metadata:     metadata,
	})

	s.log.Info().
		Str("expense_id", next.ID).
		Str("approver_id", req.ApproverID).
		Str("action", string(decision.Action)).
		Str("reason", string(outcome.Reason)).
		Int("step_index", step).
		Str("status", string(next.Status)).
		Msg("Decision applied")

	switch next.Status {
	case workflow.StatusApproved:
		payload := expensePayload(next)
		payload["reason"] = string(outcome.Reason)
		s.notifier.PublishExpenseEvent(ctx, client.EventExpenseApproved, next.ID, req.ApproverID,
			[]string{next.UserID}, payload)
	case workflow.StatusRejected:
		payload := expensePayload(next)
		if c := next.ApprovalChain[step].Comment; c != nil {
			payload["comment"] = *c
		}
		s.notifier.PublishExpenseEvent(ctx, client.EventExpenseRejected, next.ID, req.ApproverID,
			[]string{next.UserID}, payload)
	default:
		s.notifyCurrentApprover(ctx, next, req.ApproverID)
	}

	return next, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetExpense returns one expense.
func (s *ApprovalService) GetExpense(ctx context.Context, id string) (*workflow.Expense, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.InvalidInput("id", "must be a UUID")
	}
	return s.expenses.GetByID(ctx, id)
}

// ListPendingApprovals returns the expenses currently waiting on approverID.
func (s *ApprovalService) ListPendingApprovals(ctx context.Context, approverID string) ([]*workflow.Expense, error) {
	return s.expenses.ListPendingForApprover(ctx, approverID)
}

// ListMyExpenses returns everything userID submitted, newest first.
func (s *ApprovalService) ListMyExpenses(ctx context.Context, userID string) ([]*workflow.Expense, error) {
	return s.expenses.ListBySubmitter(ctx, userID)
}

// GetApprovalHistory returns the audit trail of an expense.
func (s *ApprovalService) GetApprovalHistory(ctx context.Context, expenseID string) ([]*repository.ApprovalAuditEntry, error) {
	if _, err := s.GetExpense(ctx, expenseID); err != nil {
		return nil, err
	}
	return s.audit.GetByExpenseID(ctx, expenseID)
}

// ── helpers ───────────────────────────────────────────────────────────────────

// appendAudit is best effort: the decision is already committed.
func (s *ApprovalService) appendAudit(ctx context.Context, entry *repository.ApprovalAuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Error().Err(err).
			Str("expense_id", entry.ExpenseID).
			Str("action", entry.Action).
			Msg("Failed to write audit entry")
	}
}

func (s *ApprovalService) notifyCurrentApprover(ctx context.Context, e *workflow.Expense, actorID string) {
	step := e.CurrentStep()
	if step == nil {
		return
	}
	payload := expensePayload(e)
	payload["step_name"] = step.StepName
	payload["step_index"] = e.CurrentApproverIndex
	s.notifier.PublishExpenseEvent(ctx, client.EventExpenseApprovalRequired, e.ID, actorID,
		[]string{step.ApproverID}, payload)
}

func expensePayload(e *workflow.Expense) map[string]interface{} {
	return map[string]interface{}{
		"submitter_id":  e.UserID,
		"amount":        e.Amount.String(),
		"currency":      e.Currency,
		"base_amount":   e.BaseAmount.String(),
		"base_currency": e.BaseCurrency,
		"category":      e.Category,
		"status":        string(e.Status),
	}
}
