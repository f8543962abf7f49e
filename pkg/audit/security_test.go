package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// setupTestLogger creates a test logger with an observer to capture log entries.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, recorded := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	return logger, recorded
}

func TestNewSecurityAuditor(t *testing.T) {
	logger, _ := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	assert.NotNil(t, auditor)
	assert.NotNil(t, auditor.logger)
}

func TestLogInjectionAttempt(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	tenantID := uuid.New()
	userID := uuid.New()

	details := SQLInjectionDetails{
		Source:      "literal",
		Value:       "'; DROP TABLE sales--",
		Fingerprint: "s&1c",
	}

	auditor.LogInjectionAttempt(tenantID, userID, "ops@diner.example", details)

	logs := recorded.All()
	require.Len(t, logs, 1, "Expected exactly one log entry")

	entry := logs[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level, "Should log at ERROR level")
	assert.Equal(t, "SQL injection attempt detected", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, tenantID.String(), fields["tenant_id"])
	assert.Equal(t, userID.String(), fields["user_id"])
	assert.Equal(t, "literal", fields["source"])
	assert.Equal(t, "s&1c", fields["fingerprint"])
	assert.Equal(t, "critical", fields["severity"])

	eventJSON, ok := fields["event_json"].(string)
	require.True(t, ok, "event_json should be a string")

	var event SecurityEvent
	err := json.Unmarshal([]byte(eventJSON), &event)
	require.NoError(t, err, "event_json should be valid JSON")

	assert.Equal(t, EventSQLInjectionAttempt, event.EventType)
	assert.Equal(t, tenantID, event.TenantID)
	assert.Equal(t, userID, event.UserID)
	assert.Equal(t, "ops@diner.example", event.Identity)
	assert.Equal(t, "critical", event.Severity)

	detailsMap, ok := event.Details.(map[string]any)
	require.True(t, ok, "Details should be a map")
	assert.Equal(t, "literal", detailsMap["source"])
	assert.Equal(t, "'; DROP TABLE sales--", detailsMap["value"])
	assert.Equal(t, "s&1c", detailsMap["fingerprint"])
}

func TestLogValidationRejection(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	tenantID := uuid.New()
	userID := uuid.New()

	auditor.LogValidationRejection(tenantID, userID, "ops@diner.example", ValidationRejectionDetails{
		RuleID: "closed_state_predicate",
		Detail: "sales referenced without sale_state = 'CLOSED'",
	})

	logs := recorded.All()
	require.Len(t, logs, 1)

	entry := logs[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level, "Should log at WARN level")
	assert.Equal(t, "Plan rejected by safety validation", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, tenantID.String(), fields["tenant_id"])
	assert.Equal(t, "closed_state_predicate", fields["rule_id"])
	assert.Equal(t, "warning", fields["severity"])

	eventJSON, ok := fields["event_json"].(string)
	require.True(t, ok)

	var event SecurityEvent
	err := json.Unmarshal([]byte(eventJSON), &event)
	require.NoError(t, err)

	assert.Equal(t, EventValidationRejection, event.EventType)
	assert.Equal(t, "warning", event.Severity)

	detailsMap, ok := event.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "closed_state_predicate", detailsMap["rule_id"])
}

func TestLogQueryExecution(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	tenantID := uuid.New()
	userID := uuid.New()

	auditor.LogQueryExecution(tenantID, userID, "ops@diner.example", 7, 230*time.Millisecond)

	logs := recorded.All()
	require.Len(t, logs, 1)

	entry := logs[0]
	assert.Equal(t, zapcore.InfoLevel, entry.Level, "Should log at INFO level")
	assert.Equal(t, "Query executed", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, tenantID.String(), fields["tenant_id"])
	assert.Equal(t, int64(7), fields["row_count"])
	assert.Equal(t, "info", fields["severity"])

	eventJSON, ok := fields["event_json"].(string)
	require.True(t, ok)

	var event SecurityEvent
	err := json.Unmarshal([]byte(eventJSON), &event)
	require.NoError(t, err)

	assert.Equal(t, EventQueryExecution, event.EventType)

	detailsMap, ok := event.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(7), detailsMap["row_count"]) // JSON numbers are float64
	assert.Equal(t, float64(230), detailsMap["elapsed_ms"])
}

func TestMultipleInjectionAttempts(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	tenantID := uuid.New()
	userID := uuid.New()

	attempts := []SQLInjectionDetails{
		{Source: "question", Value: "' OR '1'='1", Fingerprint: "o1o"},
		{Source: "literal", Value: "1; DELETE FROM sales", Fingerprint: "s&1c"},
		{Source: "literal", Value: "1 UNION SELECT * FROM users", Fingerprint: "s&1UE"},
	}

	for _, att := range attempts {
		auditor.LogInjectionAttempt(tenantID, userID, "ops@diner.example", att)
	}

	logs := recorded.All()
	require.Len(t, logs, 3, "Should have logged all three attempts")

	for i, entry := range logs {
		assert.Equal(t, zapcore.ErrorLevel, entry.Level)
		fields := entry.ContextMap()
		assert.Equal(t, attempts[i].Source, fields["source"])
		assert.Equal(t, attempts[i].Fingerprint, fields["fingerprint"])
	}
}

func TestLoggerNamespace(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	auditor.LogInjectionAttempt(uuid.New(), uuid.New(), "", SQLInjectionDetails{
		Source:      "question",
		Value:       "test",
		Fingerprint: "abc",
	})

	logs := recorded.All()
	require.Len(t, logs, 1)

	assert.Equal(t, "security_audit", logs[0].LoggerName)
}
