package models

import (
	"time"

	"github.com/google/uuid"
)

// QueryAudit records one question through the pipeline: what was asked,
// what SQL was produced, the validation verdict, and execution stats.
type QueryAudit struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	Question       string    `json:"question"`
	SQL            string    `json:"sql"`
	Outcome        string    `json:"outcome"` // accepted, rejected, planning_error, execution_error, timeout
	RuleID         string    `json:"rule_id,omitempty"`
	RowCount       int       `json:"row_count"`
	ElapsedMS      int64     `json:"elapsed_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// Audit outcome values.
const (
	AuditOutcomeAccepted       = "accepted"
	AuditOutcomeRejected       = "rejected"
	AuditOutcomePlanningError  = "planning_error"
	AuditOutcomeExecutionError = "execution_error"
	AuditOutcomeTimeout        = "timeout"
)
