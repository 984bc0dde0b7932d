package workflow

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

func strPtr(s string) *string { return &s }

var testNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	dir, err := NewDirectory([]User{
		{ID: "admin", Name: "Ada", Role: "Admin"},
		{ID: "dir-1", Name: "Dora", Role: "Director"},
		{ID: "mgr-1", Name: "Max", Role: "Manager", ManagerID: strPtr("dir-1")},
		{ID: "fin-1", Name: "Fay", Role: "Finance"},
		{ID: "fin-2", Name: "Finn", Role: "Finance"},
		{ID: "emp-1", Name: "Eve", Role: "Employee", ManagerID: strPtr("mgr-1")},
		{ID: "emp-2", Name: "Eli", Role: "Employee"},
	})
	require.NoError(t, err)
	return dir
}

func pendingExpense(t *testing.T, submitter string, policy *Policy, dir *Directory) *Expense {
	t.Helper()
	exp := &Expense{ID: "exp-1", UserID: submitter, Status: StatusPending}
	res, err := BuildChain(exp, policy, dir)
	require.NoError(t, err)
	exp.ApprovalChain = res.Steps
	return exp
}

// fixedChain builds an expense whose chain is a1..aN.
func fixedChain(n int) *Expense {
	exp := &Expense{ID: "exp-n", UserID: "emp-1", Status: StatusPending}
	for i := 1; i <= n; i++ {
		exp.ApprovalChain = append(exp.ApprovalChain, ApprovalStep{
			StepName:   fmt.Sprintf("step-%d", i),
			ApproverID: fmt.Sprintf("a%d", i),
			Status:     StatusPending,
		})
	}
	return exp
}

// ── Directory ────────────────────────────────────────────────────────────────

func TestNewDirectoryRejectsDuplicates(t *testing.T) {
	_, err := NewDirectory([]User{{ID: "a"}, {ID: "a"}})
	assert.ErrorIs(t, err, ErrInvalidDirectory)
}

func TestNewDirectoryRejectsManagerCycle(t *testing.T) {
	_, err := NewDirectory([]User{
		{ID: "a", ManagerID: strPtr("b")},
		{ID: "b", ManagerID: strPtr("c")},
		{ID: "c", ManagerID: strPtr("a")},
	})
	assert.ErrorIs(t, err, ErrInvalidDirectory)

	_, err = NewDirectory([]User{{ID: "self", ManagerID: strPtr("self")}})
	assert.ErrorIs(t, err, ErrInvalidDirectory)
}

func TestNewDirectoryAllowsDanglingManager(t *testing.T) {
	dir, err := NewDirectory([]User{{ID: "a", ManagerID: strPtr("gone")}})
	require.NoError(t, err)

	_, ok := dir.Manager("a")
	assert.False(t, ok)
}

// ── Chain builder ────────────────────────────────────────────────────────────

func TestBuildChainResolvesRolesInOrder(t *testing.T) {
	dir := testDirectory(t)
	policy := &Policy{SequentialChain: []ChainStep{
		{Role: ManagerRole, StepName: "Line manager"},
		{Role: "Finance", StepName: "Finance review"},
		{Role: "Director", StepName: "Director sign-off"},
	}}

	res, err := BuildChain(&Expense{UserID: "emp-1"}, policy, dir)
	require.NoError(t, err)

	require.Len(t, res.Steps, 3)
	assert.Equal(t, "mgr-1", res.Steps[0].ApproverID)
	assert.Equal(t, "fin-1", res.Steps[1].ApproverID)
	assert.Equal(t, "dir-1", res.Steps[2].ApproverID)
	for _, s := range res.Steps {
		assert.Equal(t, StatusPending, s.Status)
		assert.Nil(t, s.Comment)
		assert.Nil(t, s.DecidedAt)
	}

	require.Len(t, res.Ambiguous, 1)
	assert.Equal(t, "Finance", res.Ambiguous[0].Role)
	assert.Equal(t, 2, res.Ambiguous[0].Candidates)
	assert.Equal(t, "fin-1", res.Ambiguous[0].Chosen)
}

func TestBuildChainDropsUnresolvableSteps(t *testing.T) {
	dir := testDirectory(t)
	policy := &Policy{SequentialChain: []ChainStep{
		{Role: ManagerRole, StepName: "Line manager"},
		{Role: "CFO", StepName: "CFO"},
		{Role: "Finance", StepName: "Finance"},
		{ApproverID: strPtr("ghost"), StepName: "Named ghost"},
	}}

	res, err := BuildChain(&Expense{UserID: "emp-2"}, policy, dir)
	require.NoError(t, err)

	require.Len(t, res.Steps, 1)
	assert.Equal(t, "fin-1", res.Steps[0].ApproverID)
	assert.Equal(t, []string{"Line manager", "CFO", "Named ghost"}, res.Skipped)
}

func TestBuildChainNamedApproverWins(t *testing.T) {
	dir := testDirectory(t)
	policy := &Policy{SequentialChain: []ChainStep{
		{Role: "Finance", StepName: "Finance", ApproverID: strPtr("fin-2")},
	}}

	res, err := BuildChain(&Expense{UserID: "emp-1"}, policy, dir)
	require.NoError(t, err)
	assert.Equal(t, "fin-2", res.Steps[0].ApproverID)
	assert.Empty(t, res.Ambiguous)
}

func TestBuildChainSubmitterNotFound(t *testing.T) {
	dir := testDirectory(t)
	policy := &Policy{SequentialChain: []ChainStep{{Role: "Finance", StepName: "Finance"}}}

	_, err := BuildChain(&Expense{UserID: "nobody"}, policy, dir)
	assert.ErrorIs(t, err, ErrSubmitterNotFound)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestBuildChainEmptyWhenOnlyManagerAndNoManager(t *testing.T) {
	dir := testDirectory(t)
	policy := &Policy{SequentialChain: []ChainStep{{Role: ManagerRole, StepName: "Manager"}}}

	_, err := BuildChain(&Expense{UserID: "emp-2"}, policy, dir)
	assert.ErrorIs(t, err, ErrEmptyApprovalChain)
}

func TestBuildChainEmptyPolicy(t *testing.T) {
	dir := testDirectory(t)
	_, err := BuildChain(&Expense{UserID: "emp-1"}, &Policy{}, dir)
	assert.ErrorIs(t, err, ErrEmptyApprovalChain)
}

// ── Policy validation ───────────────────────────────────────────────────────

func TestPolicyValidate(t *testing.T) {
	dir := testDirectory(t)
	valid := Policy{
		BaseCurrency:    "USD",
		SequentialChain: []ChainStep{{Role: ManagerRole, StepName: "Manager"}},
		PercentageRule:  PercentageRule{Enabled: true, Threshold: 60},
		OverrideRule:    OverrideRule{Enabled: true, ApproverID: "dir-1"},
	}
	require.NoError(t, valid.Validate(dir))

	cases := map[string]func(p *Policy){
		"threshold zero":          func(p *Policy) { p.PercentageRule.Threshold = 0 },
		"threshold above 100":     func(p *Policy) { p.PercentageRule.Threshold = 101 },
		"override unknown user":   func(p *Policy) { p.OverrideRule.ApproverID = "ghost" },
		"override empty":          func(p *Policy) { p.OverrideRule.ApproverID = "" },
		"step without name":       func(p *Policy) { p.SequentialChain[0].StepName = " " },
		"step without role":       func(p *Policy) { p.SequentialChain[0].Role = "" },
		"named approver unknown":  func(p *Policy) { p.SequentialChain[0].ApproverID = strPtr("ghost") },
		"currency not iso length": func(p *Policy) { p.BaseCurrency = "EURO" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := valid
			p.SequentialChain = append([]ChainStep(nil), valid.SequentialChain...)
			mutate(&p)
			err := p.Validate(dir)
			assert.ErrorIs(t, err, ErrInvalidPolicy)
			assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
		})
	}
}

func TestPolicyValidateIgnoresDisabledRules(t *testing.T) {
	dir := testDirectory(t)
	p := Policy{
		BaseCurrency:   "EUR",
		PercentageRule: PercentageRule{Enabled: false, Threshold: 0},
		OverrideRule:   OverrideRule{Enabled: false, ApproverID: "ghost"},
	}
	assert.NoError(t, p.Validate(dir))
}

// ── State machine ───────────────────────────────────────────────────────────

func TestDecideSequentialApproval(t *testing.T) {
	policy := &Policy{}
	exp := fixedChain(3)

	for i := 0; i < 3; i++ {
		next, out, err := Decide(exp, policy, Decision{ApproverID: fmt.Sprintf("a%d", i+1), Action: ActionApprove}, testNow)
		require.NoError(t, err)
		assert.Equal(t, i, out.StepIndex)
		exp = next
		if i < 2 {
			assert.Equal(t, StatusPending, exp.Status)
			assert.Equal(t, i+1, exp.CurrentApproverIndex)
			assert.Equal(t, ReasonAdvanced, out.Reason)
		}
	}

	assert.Equal(t, StatusApproved, exp.Status)
	assert.Equal(t, 3, exp.CurrentApproverIndex)
	assert.Equal(t, 3, exp.ApprovedCount())
}

func TestDecideLastStepIsSequentialFinish(t *testing.T) {
	exp := fixedChain(1)
	next, out, err := Decide(exp, &Policy{}, Decision{ApproverID: "a1", Action: ActionApprove}, testNow)
	require.NoError(t, err)

	assert.Equal(t, ReasonSequential, out.Reason)
	assert.Equal(t, StatusApproved, out.StatusAfter)
	assert.Equal(t, 1, next.CurrentApproverIndex)
}

func TestDecideRejectionStopsChain(t *testing.T) {
	exp := fixedChain(3)
	exp, _, err := Decide(exp, &Policy{}, Decision{ApproverID: "a1", Action: ActionApprove}, testNow)
	require.NoError(t, err)

	rejected, out, err := Decide(exp, &Policy{}, Decision{ApproverID: "a2", Action: ActionReject, Comment: "receipt missing"}, testNow)
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Equal(t, ReasonRejected, out.Reason)
	assert.Equal(t, StatusRejected, rejected.ApprovalChain[1].Status)
	require.NotNil(t, rejected.ApprovalChain[1].Comment)
	assert.Equal(t, "receipt missing", *rejected.ApprovalChain[1].Comment)
	assert.Equal(t, StatusPending, rejected.ApprovalChain[2].Status)
	assert.Nil(t, rejected.ApprovalChain[2].DecidedAt)

	_, _, err = Decide(rejected, &Policy{}, Decision{ApproverID: "a3", Action: ActionApprove}, testNow)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestDecideRejectionBeatsOverride(t *testing.T) {
	policy := &Policy{OverrideRule: OverrideRule{Enabled: true, ApproverID: "a1"}}
	exp := fixedChain(2)

	next, _, err := Decide(exp, policy, Decision{ApproverID: "a1", Action: ActionReject, Comment: "no"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, next.Status)
}

func TestDecideWrongApproverLeavesStateUnchanged(t *testing.T) {
	exp := fixedChain(3)
	before := exp.Clone()

	for _, who := range []string{"a2", "a3", "stranger", ""} {
		next, _, err := Decide(exp, &Policy{}, Decision{ApproverID: who, Action: ActionApprove}, testNow)
		assert.ErrorIs(t, err, ErrWrongApprover)
		assert.Nil(t, next)
	}
	assert.Equal(t, before, exp)
}

func TestDecideStaleApproverRejected(t *testing.T) {
	exp := fixedChain(3)
	exp, _, err := Decide(exp, &Policy{}, Decision{ApproverID: "a1", Action: ActionApprove}, testNow)
	require.NoError(t, err)

	_, _, err = Decide(exp, &Policy{}, Decision{ApproverID: "a1", Action: ActionApprove}, testNow)
	assert.ErrorIs(t, err, ErrWrongApprover)
	assert.Equal(t, 1, exp.CurrentApproverIndex)
}

func TestDecidePercentageRule(t *testing.T) {
	policy := &Policy{PercentageRule: PercentageRule{Enabled: true, Threshold: 60}}
	exp := fixedChain(3)

	exp, out, err := Decide(exp, policy, Decision{ApproverID: "a1", Action: ActionApprove}, testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, exp.Status, "1/3 is below 60%")
	assert.Equal(t, 1, exp.CurrentApproverIndex)
	assert.Equal(t, ReasonAdvanced, out.Reason)

	exp, out, err = Decide(exp, policy, Decision{ApproverID: "a2", Action: ActionApprove}, testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, exp.Status, "2/3 meets 60%")
	assert.Equal(t, ReasonPercentage, out.Reason)
	assert.Equal(t, 3, exp.CurrentApproverIndex)
	assert.Equal(t, StatusPending, exp.ApprovalChain[2].Status)
	assert.Nil(t, exp.ApprovalChain[2].DecidedAt)
}

func TestDecidePercentageExactThreshold(t *testing.T) {
	policy := &Policy{PercentageRule: PercentageRule{Enabled: true, Threshold: 50}}
	exp := fixedChain(4)

	exp, _, err := Decide(exp, policy, Decision{ApproverID: "a1", Action: ActionApprove}, testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, exp.Status)

	exp, _, err = Decide(exp, policy, Decision{ApproverID: "a2", Action: ActionApprove}, testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, exp.Status, "2/4 is exactly 50%")
}

func TestDecideOverrideShortCircuits(t *testing.T) {
	policy := &Policy{OverrideRule: OverrideRule{Enabled: true, ApproverID: "a1"}}
	exp := fixedChain(5)

	next, out, err := Decide(exp, policy, Decision{ApproverID: "a1", Action: ActionApprove}, testNow)
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, next.Status)
	assert.Equal(t, ReasonOverride, out.Reason)
	assert.Equal(t, 5, next.CurrentApproverIndex)
	for i := 1; i < 5; i++ {
		assert.Equal(t, StatusPending, next.ApprovalChain[i].Status)
		assert.Nil(t, next.ApprovalChain[i].DecidedAt)
		assert.Nil(t, next.ApprovalChain[i].Comment)
	}
}

func TestDecideOverrideBeatsPercentageAndSequential(t *testing.T) {
	policy := &Policy{
		PercentageRule: PercentageRule{Enabled: true, Threshold: 100},
		OverrideRule:   OverrideRule{Enabled: true, ApproverID: "a2"},
	}
	exp := fixedChain(2)
	exp, _, err := Decide(exp, policy, Decision{ApproverID: "a1", Action: ActionApprove}, testNow)
	require.NoError(t, err)

	_, out, err := Decide(exp, policy, Decision{ApproverID: "a2", Action: ActionApprove}, testNow)
	require.NoError(t, err)
	assert.Equal(t, ReasonOverride, out.Reason)
}

func TestDecideSequentialBeatsPercentage(t *testing.T) {
	policy := &Policy{PercentageRule: PercentageRule{Enabled: true, Threshold: 100}}
	exp := fixedChain(1)

	_, out, err := Decide(exp, policy, Decision{ApproverID: "a1", Action: ActionApprove}, testNow)
	require.NoError(t, err)
	assert.Equal(t, ReasonSequential, out.Reason)
}

func TestDecideRejectionNeedsComment(t *testing.T) {
	exp := fixedChain(2)

	for _, comment := range []string{"", "   ", "\t\n"} {
		_, _, err := Decide(exp, &Policy{}, Decision{ApproverID: "a1", Action: ActionReject, Comment: comment}, testNow)
		assert.ErrorIs(t, err, ErrMissingRejectionComment)
	}
	assert.Equal(t, StatusPending, exp.Status)
	assert.Equal(t, StatusPending, exp.ApprovalChain[0].Status)

	next, _, err := Decide(exp, &Policy{}, Decision{ApproverID: "a1", Action: ActionApprove}, testNow)
	require.NoError(t, err)
	assert.Nil(t, next.ApprovalChain[0].Comment)
	require.NotNil(t, next.ApprovalChain[0].DecidedAt)
	assert.Equal(t, testNow, *next.ApprovalChain[0].DecidedAt)
}

func TestDecideInvalidAction(t *testing.T) {
	_, _, err := Decide(fixedChain(1), &Policy{}, Decision{ApproverID: "a1", Action: "maybe"}, testNow)
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestDecideCorruptIndex(t *testing.T) {
	exp := fixedChain(2)
	exp.CurrentApproverIndex = 2

	_, _, err := Decide(exp, &Policy{}, Decision{ApproverID: "a1", Action: ActionApprove}, testNow)
	assert.ErrorIs(t, err, ErrCorruptChain)
}

func TestDecideFinalizedIsIdempotentFailure(t *testing.T) {
	exp := fixedChain(1)
	exp, _, err := Decide(exp, &Policy{}, Decision{ApproverID: "a1", Action: ActionApprove}, testNow)
	require.NoError(t, err)
	snapshot := exp.Clone()

	for i := 0; i < 5; i++ {
		next, _, err := Decide(exp, &Policy{}, Decision{ApproverID: "a1", Action: ActionApprove}, testNow)
		assert.ErrorIs(t, err, ErrAlreadyFinalized)
		assert.Nil(t, next)
	}
	assert.Equal(t, snapshot, exp)
}

func TestDecideDoesNotMutateInput(t *testing.T) {
	exp := fixedChain(2)
	before := exp.Clone()

	next, _, err := Decide(exp, &Policy{}, Decision{ApproverID: "a1", Action: ActionApprove, Comment: "ok"}, testNow)
	require.NoError(t, err)

	assert.Equal(t, before, exp)
	assert.NotEqual(t, exp.ApprovalChain[0].Status, next.ApprovalChain[0].Status)
}

func TestEndToEndWithDirectory(t *testing.T) {
	dir := testDirectory(t)
	policy := &Policy{
		BaseCurrency: "USD",
		SequentialChain: []ChainStep{
			{Role: ManagerRole, StepName: "Manager"},
			{Role: "Finance", StepName: "Finance"},
		},
	}
	require.NoError(t, policy.Validate(dir))

	exp := pendingExpense(t, "emp-1", policy, dir)
	exp, _, err := Decide(exp, policy, Decision{ApproverID: "mgr-1", Action: ActionApprove}, testNow)
	require.NoError(t, err)
	exp, _, err = Decide(exp, policy, Decision{ApproverID: "fin-1", Action: ActionApprove}, testNow)
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, exp.Status)
	assert.Equal(t, 2, exp.CurrentApproverIndex)
}
