package workflow

import "github.com/pesio-ai/be-expense-approvals/pkg/errors"

// Submission errors.
var (
	ErrSubmitterNotFound  = errors.New(errors.ErrCodeNotFound, "submitter not found in directory")
	ErrEmptyApprovalChain = errors.New(errors.ErrCodeUnprocessable, "no approver could be resolved for any policy step")
)

// Decision errors. None of these leave a trace on the expense.
var (
	ErrAlreadyFinalized        = errors.New(errors.ErrCodeConflict, "expense is already finalized")
	ErrWrongApprover           = errors.New(errors.ErrCodeForbidden, "user is not the current approver for this expense")
	ErrMissingRejectionComment = errors.New(errors.ErrCodeInvalidInput, "a comment is required to reject an expense")
	ErrInvalidAction           = errors.New(errors.ErrCodeInvalidInput, "action must be approved or rejected")
	ErrCorruptChain            = errors.New(errors.ErrCodeInternal, "expense approval chain is inconsistent")
)

// Configuration errors.
var (
	ErrInvalidPolicy    = errors.New(errors.ErrCodeInvalidInput, "invalid approval policy")
	ErrInvalidDirectory = errors.New(errors.ErrCodeInternal, "invalid user directory")
)
