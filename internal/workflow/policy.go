package workflow

import (
	"fmt"
	"strings"
)

// ChainStep is a template entry of the sequential chain. ApproverID, when set,
// names the approver explicitly and takes precedence over Role.
type ChainStep struct {
	Role       string  `json:"role"`
	StepName   string  `json:"step_name"`
	ApproverID *string `json:"approver_id,omitempty"`
}

// PercentageRule auto-approves once approved steps reach Threshold percent of the chain.
type PercentageRule struct {
	Enabled   bool `json:"enabled"`
	Threshold int  `json:"threshold"`
}

// OverrideRule lets one designated approver finalize a claim with a single approval.
type OverrideRule struct {
	Enabled    bool   `json:"enabled"`
	ApproverID string `json:"approver_id"`
}

// Policy is the company-wide approval configuration.
type Policy struct {
	BaseCurrency    string         `json:"base_currency"`
	SequentialChain []ChainStep    `json:"sequential_chain"`
	PercentageRule  PercentageRule `json:"percentage_rule"`
	OverrideRule    OverrideRule   `json:"override_rule"`
}

// Validate checks the policy against a directory snapshot.
func (p *Policy) Validate(dir *Directory) error {
	var problems []string

	if len(strings.TrimSpace(p.BaseCurrency)) != 3 {
		problems = append(problems, "base_currency must be a 3-letter ISO code")
	}

	for i, step := range p.SequentialChain {
		if strings.TrimSpace(step.StepName) == "" {
			problems = append(problems, fmt.Sprintf("sequential_chain[%d]: step_name is required", i))
		}
		if step.ApproverID != nil {
			if _, ok := dir.Lookup(*step.ApproverID); !ok {
				problems = append(problems, fmt.Sprintf("sequential_chain[%d]: approver %s does not exist", i, *step.ApproverID))
			}
			continue
		}
		if strings.TrimSpace(step.Role) == "" {
			problems = append(problems, fmt.Sprintf("sequential_chain[%d]: role or approver_id is required", i))
		}
	}

	if p.PercentageRule.Enabled && (p.PercentageRule.Threshold < 1 || p.PercentageRule.Threshold > 100) {
		problems = append(problems, "percentage_rule.threshold must be between 1 and 100")
	}

	if p.OverrideRule.Enabled {
		if p.OverrideRule.ApproverID == "" {
			problems = append(problems, "override_rule.approver_id is required when enabled")
		} else if _, ok := dir.Lookup(p.OverrideRule.ApproverID); !ok {
			problems = append(problems, fmt.Sprintf("override_rule.approver_id %s does not exist", p.OverrideRule.ApproverID))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPolicy, strings.Join(problems, "; "))
	}
	return nil
}

// overrides reports whether approverID's approval finalizes a claim outright.
func (p *Policy) overrides(approverID string) bool {
	return p.OverrideRule.Enabled && p.OverrideRule.ApproverID != "" && p.OverrideRule.ApproverID == approverID
}

// percentageMet reports whether approved out of total meets the threshold.
// Integer form of approved/total*100 >= threshold.
func (p *Policy) percentageMet(approved, total int) bool {
	if !p.PercentageRule.Enabled || total == 0 {
		return false
	}
	return approved*100 >= p.PercentageRule.Threshold*total
}
