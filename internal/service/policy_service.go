package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-expense-approvals/internal/workflow"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
)

// AdminRole is the directory role allowed to change the policy.
const AdminRole = "Admin"

// PolicyService reads and replaces the company approval policy.
type PolicyService struct {
	policies  PolicyStore
	directory DirectoryProvider
	log       *logger.Logger
}

// NewPolicyService creates a new PolicyService.
func NewPolicyService(policies PolicyStore, directory DirectoryProvider, log *logger.Logger) *PolicyService {
	return &PolicyService{policies: policies, directory: directory, log: log}
}

// GetPolicy returns the current policy.
func (s *PolicyService) GetPolicy(ctx context.Context) (*workflow.Policy, error) {
	return s.policies.Current(ctx)
}

// UpdatePolicy validates policy against the current directory and stores it.
// Only users with AdminRole may call it.
// Expenses already in flight keep the chain they were submitted with.
func (s *PolicyService) UpdatePolicy(ctx context.Context, policy *workflow.Policy, updatedBy string) (*workflow.Policy, error) {
	normalizePolicy(policy)

	dir, err := s.directory.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if caller, ok := dir.Lookup(updatedBy); !ok || caller.Role != AdminRole {
		return nil, errors.New(errors.ErrCodeForbidden, "only administrators may change the approval policy")
	}
	if err := policy.Validate(dir); err != nil {
		return nil, err
	}

	if err := s.policies.Save(ctx, policy, updatedBy); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("updated_by", updatedBy).
		Int("chain_steps", len(policy.SequentialChain)).
		Bool("percentage_enabled", policy.PercentageRule.Enabled).
		Bool("override_enabled", policy.OverrideRule.Enabled).
		Msg("Approval policy updated")

	return policy, nil
}

func normalizePolicy(p *workflow.Policy) {
	p.BaseCurrency = strings.ToUpper(strings.TrimSpace(p.BaseCurrency))
	p.OverrideRule.ApproverID = strings.TrimSpace(p.OverrideRule.ApproverID)
	for i := range p.SequentialChain {
		step := &p.SequentialChain[i]
		step.Role = strings.TrimSpace(step.Role)
		step.StepName = strings.TrimSpace(step.StepName)
		if step.ApproverID != nil {
			id := strings.TrimSpace(*step.ApproverID)
			if id == "" {
				step.ApproverID = nil
			} else {
				step.ApproverID = &id
			}
		}
	}
}
