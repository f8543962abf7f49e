package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/dates"
	"github.com/mesa-hq/mesa-engine/pkg/jsonutil"
	"github.com/mesa-hq/mesa-engine/pkg/llm"
	"github.com/mesa-hq/mesa-engine/pkg/models"
	"github.com/mesa-hq/mesa-engine/pkg/observability"
	"github.com/mesa-hq/mesa-engine/pkg/prompts"
	"github.com/mesa-hq/mesa-engine/pkg/retry"
	"github.com/mesa-hq/mesa-engine/pkg/semantics"
	"github.com/mesa-hq/mesa-engine/pkg/sql"
)

// PlannerService turns a natural-language question into a candidate query
// plan. When a generator client is configured it drafts the SQL; the
// deterministic fallback planner covers generator failures and deployments
// that run without one. Every plan the planner returns still goes through
// validation; nothing here is trusted.
type PlannerService interface {
	// Plan produces a query plan for the question against the tenant's
	// schema context. When both the generator and the fallback fail, the
	// error unwraps to apperrors.ErrPlanning.
	Plan(ctx context.Context, question models.Question, schemaCtx *models.SchemaContext, now time.Time) (*models.QueryPlan, error)
}

// PlannerConfig tunes generator usage.
type PlannerConfig struct {
	// MaxRetries bounds extra generator attempts after unusable output
	// (responses that do not parse or carry no SQL). Transport errors are
	// retried separately inside one attempt.
	MaxRetries int

	// Temperature for plan generation. Plans want reproducibility.
	Temperature float64

	// Timeout bounds one generator call, retries included. Zero applies the
	// default.
	Timeout time.Duration
}

// DefaultPlannerConfig returns the planner settings used when the caller
// provides none.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{MaxRetries: 1, Temperature: 0.0, Timeout: 30 * time.Second}
}

// planResponse is the JSON document the generator is instructed to return.
// Tables and date_phrase stay raw because models occasionally emit numbers
// or a bare scalar where a string array was asked for.
type planResponse struct {
	SQL        string          `json:"sql"`
	Tables     json.RawMessage `json:"tables"`
	DatePhrase json.RawMessage `json:"date_phrase"`
}

type plannerService struct {
	client   llm.Client // nil for fallback-only deployments
	fallback FallbackPlanner
	catalog  *semantics.Catalog
	config   PlannerConfig
	logger   *zap.Logger
}

// NewPlannerService creates a planner service. A nil client skips generation
// entirely and every question is planned by the fallback planner.
func NewPlannerService(
	client llm.Client,
	fallback FallbackPlanner,
	catalog *semantics.Catalog,
	config PlannerConfig,
	logger *zap.Logger,
) PlannerService {
	if catalog == nil {
		catalog = semantics.Default()
	}
	if fallback == nil {
		fallback = NewFallbackPlanner(catalog)
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultPlannerConfig().Timeout
	}
	return &plannerService{
		client:   client,
		fallback: fallback,
		catalog:  catalog,
		config:   config,
		logger:   logger,
	}
}

func (s *plannerService) Plan(ctx context.Context, question models.Question, schemaCtx *models.SchemaContext, now time.Time) (*models.QueryPlan, error) {
	generatorAttempts := 0

	if s.client != nil {
		plan, attempts, err := s.generate(ctx, question, schemaCtx, now)
		generatorAttempts = attempts
		if err == nil {
			observability.ObservePlan("generated")
			return plan, nil
		}
		s.logger.Warn("Generator planning failed, using fallback planner",
			zap.String("conversation_id", question.ConversationID),
			zap.Int("attempts", attempts),
			zap.Error(err))
	}

	plan, err := s.fallback.Plan(question.Text, schemaCtx, now)
	if err != nil {
		observability.ObservePlan("failed")
		return nil, &apperrors.PlanningError{
			Attempts: generatorAttempts + 1,
			Reason:   err.Error(),
		}
	}
	observability.ObservePlan("fallback")
	return plan, nil
}

// generate asks the model for a plan, retrying attempts whose output cannot
// be turned into one. It returns how many attempts were made alongside the
// result so planning failures can report the full count.
func (s *plannerService) generate(ctx context.Context, question models.Question, schemaCtx *models.SchemaContext, now time.Time) (*models.QueryPlan, int, error) {
	systemPrompt := prompts.BuildPlanGenerationSystemMessage()
	userPrompt := prompts.BuildPlanGenerationPrompt(
		question.Text,
		promptTables(schemaCtx),
		s.promptMetrics(schemaCtx),
		schemaCtx.Rules,
		promptDates(question.Text, now),
		now,
	)

	maxAttempts := 1 + s.config.MaxRetries
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := s.generateOnce(ctx, systemPrompt, userPrompt)
		if err != nil {
			// Transport already got its retries; further attempts with the
			// same prompt would fail the same way.
			return nil, attempt, fmt.Errorf("generator call failed: %w", err)
		}

		plan, err := s.planFromResponse(result.Content, question.Text, now)
		if err != nil {
			lastErr = err
			s.logger.Debug("Generator output unusable",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		s.logger.Debug("Generated query plan",
			zap.Int("attempt", attempt),
			zap.Int("prompt_tokens", result.PromptTokens),
			zap.Int("completion_tokens", result.CompletionTokens),
			zap.Strings("tables", plan.Tables))
		return plan, attempt, nil
	}

	return nil, maxAttempts, fmt.Errorf("unusable generator output after %d attempt(s): %w", maxAttempts, lastErr)
}

// generateOnce runs a single generator call under its own deadline, so the
// attempt's timer is released as soon as the call returns.
func (s *plannerService) generateOnce(ctx context.Context, systemPrompt, userPrompt string) (*llm.GenerateResult, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	var result *llm.GenerateResult
	err := retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		var genErr error
		result, genErr = s.client.Generate(ctx, systemPrompt, userPrompt, s.config.Temperature)
		return genErr
	})
	observability.ObserveGeneratorDuration(time.Since(start))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// planFromResponse parses the generator's JSON and builds the plan. The
// planner's own date-phrase detection is authoritative for the plan's date
// range; the phrase the model echoes back only fills in when the question
// contained none we recognize.
func (s *plannerService) planFromResponse(content, question string, now time.Time) (*models.QueryPlan, error) {
	resp, err := llm.ParseJSONResponse[planResponse](content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan response: %w", err)
	}

	sqlText := strings.TrimSpace(resp.SQL)
	if sqlText == "" {
		return nil, fmt.Errorf("plan response carries no sql")
	}
	sqlText = sql.NormalizeLikePatterns(sqlText)

	plan := &models.QueryPlan{
		SQL:    sqlText,
		Tables: jsonutil.FlexibleStringSlice(resp.Tables),
	}

	phrase := findDatePhrase(strings.ToLower(question))
	if phrase == "" {
		if echoed := jsonutil.FlexibleStringValue(resp.DatePhrase); echoed != "" {
			phrase = strings.ToLower(strings.TrimSpace(echoed))
		}
	}
	if phrase != "" {
		if r, err := dates.Resolve(phrase, now, ""); err == nil {
			plan.DateStart = &r.Start
			plan.DateEnd = &r.End
		}
	}

	return plan, nil
}

// promptTables regroups the flat schema context into per-table prompt
// sections, keeping the context's column order.
func promptTables(schemaCtx *models.SchemaContext) []prompts.TableSchema {
	var tables []prompts.TableSchema
	index := make(map[string]int)
	for _, col := range schemaCtx.Columns {
		i, ok := index[col.Table]
		if !ok {
			i = len(tables)
			index[col.Table] = i
			tables = append(tables, prompts.TableSchema{Name: col.Table})
		}
		tables[i].Columns = append(tables[i].Columns, prompts.ColumnSchema{
			Name:        col.Name,
			DataType:    col.Type,
			Role:        col.Role,
			Description: col.Description,
		})
	}
	return tables
}

// promptMetrics lists the catalog metrics whose base table exists in the
// tenant's schema context.
func (s *plannerService) promptMetrics(schemaCtx *models.SchemaContext) []prompts.MetricHint {
	var hints []prompts.MetricHint
	for _, m := range s.catalog.Metrics {
		if !schemaCtx.HasTable(m.Table) {
			continue
		}
		hints = append(hints, prompts.MetricHint{
			Name:       m.Name,
			Table:      m.Table,
			Expression: m.Expression,
		})
	}
	return hints
}

// promptDates resolves the question's date phrase, when it has one, so the
// model gets exact bounds instead of doing calendar math.
func promptDates(question string, now time.Time) []prompts.DateHint {
	phrase := findDatePhrase(strings.ToLower(question))
	if phrase == "" {
		return nil
	}
	r, err := dates.Resolve(phrase, now, "")
	if err != nil {
		return nil
	}
	return []prompts.DateHint{{Phrase: phrase, Start: r.Start, End: r.End}}
}

var _ PlannerService = (*plannerService)(nil)
