package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrInvalidRole            = errors.New("invalid role")
	ErrLastSuperuser          = errors.New("cannot demote the last superuser")
	ErrAuth                   = errors.New("authentication required")
	ErrForbidden              = errors.New("forbidden")
	ErrNoTenantSelected       = errors.New("no tenant selected")
	ErrUnresolvedDate         = errors.New("not a relative date phrase")
	ErrPlanning               = errors.New("planning failed")
	ErrValidationReject       = errors.New("query rejected by safety validation")
	ErrExecutionTimeout       = errors.New("query execution timed out")
	ErrExecution              = errors.New("query execution failed")
	ErrCredentialsKeyMismatch = errors.New("tenant credentials were encrypted with a different key")
)

// PlanningError reports that the generator could not produce a usable plan
// after the configured number of attempts.
type PlanningError struct {
	Attempts int
	Reason   string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed after %d attempt(s): %s", e.Attempts, e.Reason)
}

func (e *PlanningError) Unwrap() error { return ErrPlanning }

// ValidationError carries the identifier of the safety rule a candidate
// query violated. The rule id is only surfaced to users in debug mode.
type ValidationError struct {
	RuleID string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("query rejected by safety rule %s", e.RuleID)
	}
	return fmt.Sprintf("query rejected by safety rule %s: %s", e.RuleID, e.Detail)
}

func (e *ValidationError) Unwrap() error { return ErrValidationReject }
