package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/workflow"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
)

func newPolicyService(initial *workflow.Policy) (*PolicyService, *repository.MemoryPolicyStore) {
	store := repository.NewMemoryPolicyStore(initial)
	return NewPolicyService(store, repository.NewMemoryDirectory(testUsers()...), logger.Nop()), store
}

func TestGetPolicy(t *testing.T) {
	svc, _ := newPolicyService(nil)
	_, err := svc.GetPolicy(context.Background())
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))

	svc, _ = newPolicyService(threeStepPolicy())
	p, err := svc.GetPolicy(context.Background())
	require.NoError(t, err)
	assert.Len(t, p.SequentialChain, 3)
}

func TestUpdatePolicy(t *testing.T) {
	ctx := context.Background()
	svc, store := newPolicyService(threeStepPolicy())

	updated, err := svc.UpdatePolicy(ctx, &workflow.Policy{
		BaseCurrency: " usd ",
		SequentialChain: []workflow.ChainStep{
			{Role: " Manager ", StepName: "Line manager"},
			{Role: "Finance", StepName: "Controller", ApproverID: strPtr(" fin ")},
			{Role: "Director", StepName: "Director", ApproverID: strPtr("  ")},
		},
		PercentageRule: workflow.PercentageRule{Enabled: true, Threshold: 50},
		OverrideRule:   workflow.OverrideRule{Enabled: true, ApproverID: "dir"},
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "USD", updated.BaseCurrency)
	assert.Equal(t, "Manager", updated.SequentialChain[0].Role)
	require.NotNil(t, updated.SequentialChain[1].ApproverID)
	assert.Equal(t, "fin", *updated.SequentialChain[1].ApproverID)
	assert.Nil(t, updated.SequentialChain[2].ApproverID)

	stored, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, updated, stored)
}

func TestUpdatePolicyRejectsInvalid(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		policy *workflow.Policy
		want   string
	}{
		{
			name:   "threshold out of range",
			policy: &workflow.Policy{BaseCurrency: "EUR", PercentageRule: workflow.PercentageRule{Enabled: true, Threshold: 0}},
			want:   "threshold",
		},
		{
			name:   "unknown override approver",
			policy: &workflow.Policy{BaseCurrency: "EUR", OverrideRule: workflow.OverrideRule{Enabled: true, ApproverID: "ghost"}},
			want:   "override_rule",
		},
		{
			name: "unknown named approver",
			policy: &workflow.Policy{
				BaseCurrency:    "EUR",
				SequentialChain: []workflow.ChainStep{{StepName: "CFO", ApproverID: strPtr("ghost")}},
			},
			want: "ghost",
		},
		{
			name:   "bad currency",
			policy: &workflow.Policy{BaseCurrency: "EURO"},
			want:   "base_currency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newPolicyService(threeStepPolicy())

			_, err := svc.UpdatePolicy(ctx, tt.policy, "admin")
			require.Error(t, err)
			assert.True(t, errors.Is(err, workflow.ErrInvalidPolicy))
			assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
			assert.Contains(t, err.Error(), tt.want)

			stored, err := store.Current(ctx)
			require.NoError(t, err)
			assert.Equal(t, threeStepPolicy(), stored)
		})
	}
}

func TestUpdatePolicyRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	svc, store := newPolicyService(threeStepPolicy())

	for _, caller := range []string{"mgr", "ghost", ""} {
		_, err := svc.UpdatePolicy(ctx, threeStepPolicy(), caller)
		assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err), caller)
	}

	policy := threeStepPolicy()
	policy.PercentageRule = workflow.PercentageRule{Enabled: true, Threshold: 75}
	_, err := svc.UpdatePolicy(ctx, policy, "admin")
	require.NoError(t, err)

	stored, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 75, stored.PercentageRule.Threshold)
}
