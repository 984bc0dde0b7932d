package workflow

import "fmt"

// Ambiguity records a role step where more than one user could have been
// picked. The first in directory order wins.
type Ambiguity struct {
	StepName   string
	Role       string
	Candidates int
	Chosen     string
}

// ChainResult is the resolved chain plus diagnostics for the caller to log.
type ChainResult struct {
	Steps     []ApprovalStep
	Skipped   []string // step names with no resolvable approver
	Ambiguous []Ambiguity
}

// BuildChain resolves the policy's sequential chain for the expense's submitter.
// Steps whose approver cannot be resolved are dropped; an empty result is an error.
func BuildChain(expense *Expense, policy *Policy, dir *Directory) (*ChainResult, error) {
	submitter, ok := dir.Lookup(expense.UserID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubmitterNotFound, expense.UserID)
	}

	result := &ChainResult{Steps: make([]ApprovalStep, 0, len(policy.SequentialChain))}

	for _, tmpl := range policy.SequentialChain {
		approver, found := resolveApprover(tmpl, submitter, dir, result)
		if !found {
			result.Skipped = append(result.Skipped, tmpl.StepName)
			continue
		}
		result.Steps = append(result.Steps, ApprovalStep{
			StepName:   tmpl.StepName,
			ApproverID: approver.ID,
			Status:     StatusPending,
		})
	}

	if len(result.Steps) == 0 {
		return nil, fmt.Errorf("%w: submitter %s", ErrEmptyApprovalChain, submitter.ID)
	}
	return result, nil
}

func resolveApprover(tmpl ChainStep, submitter User, dir *Directory, result *ChainResult) (User, bool) {
	if tmpl.ApproverID != nil {
		return dir.Lookup(*tmpl.ApproverID)
	}

	if tmpl.Role == ManagerRole {
		return dir.Manager(submitter.ID)
	}

	candidates := dir.WithRole(tmpl.Role)
	if len(candidates) == 0 {
		return User{}, false
	}
	if len(candidates) > 1 {
		result.Ambiguous = append(result.Ambiguous, Ambiguity{
			StepName:   tmpl.StepName,
			Role:       tmpl.Role,
			Candidates: len(candidates),
			Chosen:     candidates[0].ID,
		})
	}
	return candidates[0], true
}
