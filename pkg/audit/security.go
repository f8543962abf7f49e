// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection detects SQL injection patterns.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventValidationRejection is logged when the safety validator discards a plan.
	EventValidationRejection SecurityEventType = "validation_rejection"
	// EventQueryExecution is logged for successful query execution (optional, can be high volume).
	EventQueryExecution SecurityEventType = "query_execution"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	TenantID  uuid.UUID         `json:"tenant_id"`
	UserID    uuid.UUID         `json:"user_id"`
	Identity  string            `json:"identity,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a detected SQL injection attempt.
type SQLInjectionDetails struct {
	Source      string `json:"source"` // "question" or "literal"
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// ValidationRejectionDetails contains the safety rule that discarded a plan.
type ValidationRejectionDetails struct {
	RuleID string `json:"rule_id"`
	Detail string `json:"detail,omitempty"`
}

// SecurityAuditor logs security events for SIEM consumption.
// Events are logged in structured JSON format with appropriate severity levels.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// The "security_audit" namespace makes the events easy to filter in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a detected SQL injection attempt. Logged at
// ERROR level with "critical" severity for immediate alerting. The value
// that tripped the detector is included verbatim so analysts can reconstruct
// the attempt; it never reaches a data source.
func (a *SecurityAuditor) LogInjectionAttempt(
	tenantID, userID uuid.UUID,
	identity string,
	details SQLInjectionDetails,
) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventSQLInjectionAttempt,
		TenantID:  tenantID,
		UserID:    userID,
		Identity:  identity,
		Details:   details,
		Severity:  "critical",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("tenant_id", tenantID.String()),
		zap.String("user_id", userID.String()),
		zap.String("source", details.Source),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", "critical"),
	)
}

// LogValidationRejection records a plan discarded by the safety validator.
// Logged at WARN level: most rejections are generator drift, not attacks,
// but repeated rejections from one user are worth alerting on.
func (a *SecurityAuditor) LogValidationRejection(
	tenantID, userID uuid.UUID,
	identity string,
	details ValidationRejectionDetails,
) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventValidationRejection,
		TenantID:  tenantID,
		UserID:    userID,
		Identity:  identity,
		Details:   details,
		Severity:  "warning",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Plan rejected by safety validation",
		zap.String("event_json", string(eventJSON)),
		zap.String("tenant_id", tenantID.String()),
		zap.String("user_id", userID.String()),
		zap.String("rule_id", details.RuleID),
		zap.String("severity", "warning"),
	)
}

// LogQueryExecution records a validated query reaching a tenant data source.
// Logged at INFO level. Note: this can generate high log volume in production.
func (a *SecurityAuditor) LogQueryExecution(
	tenantID, userID uuid.UUID,
	identity string,
	rowCount int,
	elapsed time.Duration,
) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventQueryExecution,
		TenantID:  tenantID,
		UserID:    userID,
		Identity:  identity,
		Details: map[string]any{
			"row_count":  rowCount,
			"elapsed_ms": elapsed.Milliseconds(),
		},
		Severity: "info",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Info("Query executed",
		zap.String("event_json", string(eventJSON)),
		zap.String("tenant_id", tenantID.String()),
		zap.String("user_id", userID.String()),
		zap.Int("row_count", rowCount),
		zap.Duration("elapsed", elapsed),
		zap.String("severity", "info"),
	)
}
