package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/audit"
	"github.com/mesa-hq/mesa-engine/pkg/models"
	"github.com/mesa-hq/mesa-engine/pkg/observability"
	"github.com/mesa-hq/mesa-engine/pkg/repositories"
)

// AskService answers one natural-language question end to end: session
// snapshot, schema context, plan, safety validation, execution, answer.
// Every question leaves an entry in the query audit trail.
type AskService interface {
	Ask(ctx context.Context, userID uuid.UUID, question models.Question) (*models.Answer, error)
}

type askService struct {
	sessions   SessionStore
	schema     SchemaContextService
	planner    PlannerService
	validator  SafetyValidator
	executor   ExecutionService
	verbalizer Verbalizer
	tenants    repositories.TenantRepository
	audits     repositories.AuditRepository
	auditor    *audit.SecurityAuditor
	logger     *zap.Logger
	now        func() time.Time
}

// NewAskService wires the full question pipeline.
func NewAskService(
	sessions SessionStore,
	schema SchemaContextService,
	planner PlannerService,
	validator SafetyValidator,
	executor ExecutionService,
	verbalizer Verbalizer,
	tenants repositories.TenantRepository,
	audits repositories.AuditRepository,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) AskService {
	return &askService{
		sessions:   sessions,
		schema:     schema,
		planner:    planner,
		validator:  validator,
		executor:   executor,
		verbalizer: verbalizer,
		tenants:    tenants,
		audits:     audits,
		auditor:    auditor,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *askService) Ask(ctx context.Context, userID uuid.UUID, question models.Question) (*models.Answer, error) {
	observability.IncQuestions()

	snapshot, err := s.sessions.Snapshot(ctx, userID, question.ConversationID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("no session for this conversation: %w", apperrors.ErrAuth)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if snapshot.State != models.SessionTenantSelected || len(snapshot.TenantIDs) == 0 {
		return nil, apperrors.ErrNoTenantSelected
	}

	language := question.Language
	if language == "" {
		language = snapshot.Language
	}
	language = models.NormalizeLanguage(language)
	now := s.now()

	// The snapshot fixes the tenant targets for the whole request; a
	// concurrent re-selection in the same conversation cannot redirect
	// a question already in flight.
	answers := make([]models.Answer, 0, len(snapshot.TenantIDs))
	statements := make([]string, 0, len(snapshot.TenantIDs))
	for _, tenantID := range snapshot.TenantIDs {
		answer, sanitized, err := s.askTenant(ctx, snapshot, question, language, tenantID, now)
		if err != nil {
			return nil, err
		}
		answers = append(answers, answer)
		statements = append(statements, sanitized)
	}

	final := answers[0]
	if len(answers) > 1 {
		final = s.combine(ctx, snapshot.TenantIDs, answers, language)
	}
	if snapshot.Debug || question.Debug {
		final.SQL = strings.Join(statements, "\n")
	}
	return &final, nil
}

// askTenant runs the pipeline against a single tenant and returns the
// rendered answer plus the statement that was executed.
func (s *askService) askTenant(
	ctx context.Context,
	snapshot models.SessionSnapshot,
	question models.Question,
	language string,
	tenantID uuid.UUID,
	now time.Time,
) (models.Answer, string, error) {
	schemaCtx, err := s.schema.Build(ctx, tenantID)
	if err != nil {
		s.recordOutcome(ctx, snapshot, question, tenantID, "", models.AuditOutcomeExecutionError, "", nil)
		return models.Answer{}, "", fmt.Errorf("failed to build schema context: %w", err)
	}

	plan, err := s.planner.Plan(ctx, question, schemaCtx, now)
	if err != nil {
		s.recordOutcome(ctx, snapshot, question, tenantID, "", models.AuditOutcomePlanningError, "", nil)
		return models.Answer{}, "", err
	}

	verdict := s.validator.Validate(plan, schemaCtx, snapshot)
	if !verdict.Accepted() {
		// A rejected plan is discarded, never patched. One fresh plan may be
		// requested before the question fails.
		s.logger.Info("Plan rejected, requesting a fresh plan",
			zap.String("tenant_id", tenantID.String()),
			zap.String("conversation_id", question.ConversationID),
			zap.String("rule_id", verdict.RuleID),
		)
		plan, err = s.planner.Plan(ctx, question, schemaCtx, now)
		if err != nil {
			s.recordOutcome(ctx, snapshot, question, tenantID, "", models.AuditOutcomePlanningError, "", nil)
			return models.Answer{}, "", err
		}
		verdict = s.validator.Validate(plan, schemaCtx, snapshot)
	}
	if !verdict.Accepted() {
		s.recordOutcome(ctx, snapshot, question, tenantID, plan.SQL, models.AuditOutcomeRejected, verdict.RuleID, nil)
		return models.Answer{}, "", &apperrors.ValidationError{RuleID: verdict.RuleID, Detail: "plan failed safety validation"}
	}

	result, err := s.executor.Execute(ctx, verdict.SanitizedSQL, snapshot, tenantID)
	if err != nil {
		outcome := models.AuditOutcomeExecutionError
		if errors.Is(err, apperrors.ErrExecutionTimeout) {
			outcome = models.AuditOutcomeTimeout
		}
		s.recordOutcome(ctx, snapshot, question, tenantID, verdict.SanitizedSQL, outcome, "", nil)
		return models.Answer{}, "", err
	}

	s.auditor.LogQueryExecution(tenantID, snapshot.UserID, snapshot.Identity, result.RowCount, result.Elapsed)
	s.recordOutcome(ctx, snapshot, question, tenantID, verdict.SanitizedSQL, models.AuditOutcomeAccepted, "", result)

	answer := s.verbalizer.Verbalize(result, question, language)
	s.logger.Debug("Question answered",
		zap.String("tenant_id", tenantID.String()),
		zap.String("conversation_id", question.ConversationID),
		zap.Int("row_count", result.RowCount),
		zap.Duration("elapsed", result.Elapsed),
	)
	return answer, verdict.SanitizedSQL, nil
}

// recordOutcome appends one entry to the query audit trail. The trail is
// best effort: a failed insert is logged, not surfaced to the caller.
func (s *askService) recordOutcome(
	ctx context.Context,
	snapshot models.SessionSnapshot,
	question models.Question,
	tenantID uuid.UUID,
	sqlText, outcome, ruleID string,
	result *models.ExecutionResult,
) {
	entry := &models.QueryAudit{
		UserID:         snapshot.UserID,
		TenantID:       tenantID,
		ConversationID: question.ConversationID,
		Question:       question.Text,
		SQL:            sqlText,
		Outcome:        outcome,
		RuleID:         ruleID,
	}
	if result != nil {
		entry.RowCount = result.RowCount
		entry.ElapsedMS = result.Elapsed.Milliseconds()
	}
	if err := s.audits.Insert(ctx, entry); err != nil {
		s.logger.Warn("Failed to record query audit entry",
			zap.String("tenant_id", tenantID.String()),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
	}
}

// combine stacks per-tenant answers into one response, each section headed
// by the tenant's display name.
func (s *askService) combine(ctx context.Context, tenantIDs []uuid.UUID, answers []models.Answer, language string) models.Answer {
	sections := make([]string, len(answers))
	for i, answer := range answers {
		sections[i] = fmt.Sprintf("**%s**\n%s", s.tenantLabel(ctx, tenantIDs[i]), answer.Text)
	}
	return models.Answer{Text: strings.Join(sections, "\n\n"), Language: language}
}

func (s *askService) tenantLabel(ctx context.Context, tenantID uuid.UUID) string {
	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil || tenant == nil {
		return tenantID.String()
	}
	return tenant.Name
}

var _ AskService = (*askService)(nil)
