package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/llm"
	"github.com/mesa-hq/mesa-engine/pkg/models"
)

func newTestPlanner(client llm.Client, config PlannerConfig) PlannerService {
	return NewPlannerService(client, nil, nil, config, zap.NewNop())
}

func plannerQuestion(text string) models.Question {
	return models.Question{Text: text, ConversationID: "conv-1", Language: models.LanguageEnglish}
}

func generatorJSON(sql string, tables []string, datePhrase string) string {
	doc := `{"sql": "` + sql + `", "tables": [`
	for i, tbl := range tables {
		if i > 0 {
			doc += ", "
		}
		doc += `"` + tbl + `"`
	}
	doc += `], "date_phrase": `
	if datePhrase == "" {
		doc += "null"
	} else {
		doc += `"` + datePhrase + `"`
	}
	doc += "}"
	return "```json\n" + doc + "\n```"
}

func TestPlanner_GeneratedPlan(t *testing.T) {
	mock := llm.NewMockClient()
	var sawSystem, sawPrompt string
	var sawTemp float64
	mock.GenerateFunc = func(_ context.Context, systemPrompt, userPrompt string, temperature float64) (*llm.GenerateResult, error) {
		sawSystem = systemPrompt
		sawPrompt = userPrompt
		sawTemp = temperature
		return &llm.GenerateResult{
			Content: generatorJSON(
				"SELECT SUM(sales.total) AS value FROM sales WHERE sales.sale_state = 'CLOSED' AND sales.created_at >= '2026-08-17' AND sales.created_at < '2026-08-24'",
				[]string{"sales"},
				"last week",
			),
			PromptTokens:     410,
			CompletionTokens: 52,
		}, nil
	}
	planner := newTestPlanner(mock, DefaultPlannerConfig())

	plan, err := planner.Plan(context.Background(), plannerQuestion("how were sales last week"), catalogSchemaContext(uuid.New()), fallbackNow)
	require.NoError(t, err)

	assert.Contains(t, plan.SQL, "SUM(sales.total)")
	assert.Equal(t, []string{"sales"}, plan.Tables)
	require.NotNil(t, plan.DateStart)
	require.NotNil(t, plan.DateEnd)
	assert.Equal(t, time.Date(2026, time.August, 17, 0, 0, 0, 0, time.UTC), *plan.DateStart)
	assert.Equal(t, time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC), *plan.DateEnd)

	assert.Equal(t, 1, mock.GenerateCalls)
	assert.Equal(t, 0.0, sawTemp)
	assert.Contains(t, sawSystem, "restaurant analytics")

	// The prompt carries the tenant schema, the metric catalog, the query
	// rules, and the pre-resolved date range.
	assert.Contains(t, sawPrompt, "### sales")
	assert.Contains(t, sawPrompt, "gross_sales")
	assert.Contains(t, sawPrompt, "SUM(sales.total)")
	assert.Contains(t, sawPrompt, "sale_state = 'CLOSED'")
	assert.Contains(t, sawPrompt, `"last week" means created_at >= '2026-08-17' AND created_at < '2026-08-24'`)
	assert.Contains(t, sawPrompt, "how were sales last week")
}

func TestPlanner_NormalizesGeneratedLikePatterns(t *testing.T) {
	mock := llm.NewMockClient()
	mock.GenerateFunc = func(_ context.Context, _, _ string, _ float64) (*llm.GenerateResult, error) {
		return &llm.GenerateResult{
			Content: generatorJSON(
				"SELECT products.name FROM products WHERE products.name ILIKE '%mar_garita%'",
				[]string{"products"},
				"",
			),
		}, nil
	}
	planner := newTestPlanner(mock, DefaultPlannerConfig())

	plan, err := planner.Plan(context.Background(), plannerQuestion("find the margarita product"), catalogSchemaContext(uuid.New()), fallbackNow)
	require.NoError(t, err)

	assert.Contains(t, plan.SQL, `ILIKE '%mar\_garita%'`)
}

func TestPlanner_RetriesUnusableOutput(t *testing.T) {
	mock := llm.NewMockClient()
	responses := []string{
		"I would query the sales table for you.",
		generatorJSON("SELECT SUM(sales.total) AS value FROM sales WHERE sales.sale_state = 'CLOSED'", []string{"sales"}, ""),
	}
	mock.GenerateFunc = func(_ context.Context, _, _ string, _ float64) (*llm.GenerateResult, error) {
		content := responses[0]
		if len(responses) > 1 {
			responses = responses[1:]
		}
		return &llm.GenerateResult{Content: content}, nil
	}
	planner := newTestPlanner(mock, PlannerConfig{MaxRetries: 1})

	plan, err := planner.Plan(context.Background(), plannerQuestion("total sales"), catalogSchemaContext(uuid.New()), fallbackNow)
	require.NoError(t, err)

	assert.Equal(t, 2, mock.GenerateCalls)
	assert.Contains(t, plan.SQL, "SUM(sales.total)")
}

func TestPlanner_ReleasesAttemptDeadlineBeforeRetrying(t *testing.T) {
	mock := llm.NewMockClient()
	var firstCtx context.Context
	mock.GenerateFunc = func(ctx context.Context, _, _ string, _ float64) (*llm.GenerateResult, error) {
		switch mock.GenerateCalls {
		case 1:
			firstCtx = ctx
			return &llm.GenerateResult{Content: "I would query the sales table for you."}, nil
		default:
			if assert.NotNil(t, firstCtx) {
				assert.Error(t, firstCtx.Err(), "previous attempt's deadline context should be released")
			}
			return &llm.GenerateResult{Content: generatorJSON("SELECT SUM(sales.total) AS value FROM sales WHERE sales.sale_state = 'CLOSED'", []string{"sales"}, "")}, nil
		}
	}
	planner := newTestPlanner(mock, PlannerConfig{MaxRetries: 1, Timeout: time.Minute})

	_, err := planner.Plan(context.Background(), plannerQuestion("total sales"), catalogSchemaContext(uuid.New()), fallbackNow)
	require.NoError(t, err)
	assert.Equal(t, 2, mock.GenerateCalls)
}

func TestPlanner_FallsBackWhenOutputStaysUnusable(t *testing.T) {
	mock := llm.NewMockClient()
	mock.GenerateFunc = func(_ context.Context, _, _ string, _ float64) (*llm.GenerateResult, error) {
		return &llm.GenerateResult{Content: "no structured output here"}, nil
	}
	planner := newTestPlanner(mock, PlannerConfig{MaxRetries: 1})

	plan, err := planner.Plan(context.Background(), plannerQuestion("total sales last week"), catalogSchemaContext(uuid.New()), fallbackNow)
	require.NoError(t, err)

	assert.Equal(t, 2, mock.GenerateCalls, "one retry after the first unusable response")
	assert.Contains(t, plan.SQL, "SUM(sales.total) AS value", "fallback planner should produce the plan")
	require.NotNil(t, plan.DateStart)
	assert.Equal(t, time.Date(2026, time.August, 17, 0, 0, 0, 0, time.UTC), *plan.DateStart)
}

func TestPlanner_FallsBackOnTransportError(t *testing.T) {
	mock := llm.NewMockClient()
	mock.GenerateFunc = func(_ context.Context, _, _ string, _ float64) (*llm.GenerateResult, error) {
		return nil, errors.New("invalid api key")
	}
	planner := newTestPlanner(mock, PlannerConfig{MaxRetries: 1})

	plan, err := planner.Plan(context.Background(), plannerQuestion("covers yesterday"), catalogSchemaContext(uuid.New()), fallbackNow)
	require.NoError(t, err)

	// A non-retryable transport failure ends generation immediately; retrying
	// the same prompt would fail the same way.
	assert.Equal(t, 1, mock.GenerateCalls)
	assert.Contains(t, plan.SQL, "SUM(sales.num_customers)")
}

func TestPlanner_FallbackOnlyWithoutClient(t *testing.T) {
	planner := newTestPlanner(nil, DefaultPlannerConfig())

	plan, err := planner.Plan(context.Background(), plannerQuestion("gross sales this month"), catalogSchemaContext(uuid.New()), fallbackNow)
	require.NoError(t, err)

	assert.Contains(t, plan.SQL, "SUM(sales.total)")
	assert.Contains(t, plan.SQL, ">= '2026-08-01'")
}

func TestPlanner_PlanningErrorWhenFallbackFails(t *testing.T) {
	// A schema context without the sales table defeats the fallback planner.
	schemaCtx := &models.SchemaContext{
		TenantID: uuid.New(),
		Columns: []models.ColumnContext{
			{Table: "products", Name: "uuid", Type: "uuid"},
			{Table: "products", Name: "name", Type: "text"},
		},
	}

	t.Run("without generator", func(t *testing.T) {
		planner := newTestPlanner(nil, DefaultPlannerConfig())

		_, err := planner.Plan(context.Background(), plannerQuestion("gross sales last week"), schemaCtx, fallbackNow)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrPlanning)

		var planErr *apperrors.PlanningError
		require.ErrorAs(t, err, &planErr)
		assert.Equal(t, 1, planErr.Attempts)
	})

	t.Run("after generator exhaustion", func(t *testing.T) {
		mock := llm.NewMockClient()
		mock.GenerateFunc = func(_ context.Context, _, _ string, _ float64) (*llm.GenerateResult, error) {
			return &llm.GenerateResult{Content: "still nothing usable"}, nil
		}
		planner := newTestPlanner(mock, PlannerConfig{MaxRetries: 1})

		_, err := planner.Plan(context.Background(), plannerQuestion("gross sales last week"), schemaCtx, fallbackNow)
		require.Error(t, err)

		var planErr *apperrors.PlanningError
		require.ErrorAs(t, err, &planErr)
		assert.Equal(t, 3, planErr.Attempts, "two generator attempts plus the fallback")
	})
}

func TestPlanner_OwnDateDetectionWins(t *testing.T) {
	mock := llm.NewMockClient()
	mock.GenerateFunc = func(_ context.Context, _, _ string, _ float64) (*llm.GenerateResult, error) {
		return &llm.GenerateResult{
			Content: generatorJSON("SELECT SUM(sales.num_customers) AS value FROM sales WHERE sales.sale_state = 'CLOSED'", []string{"sales"}, "last month"),
		}, nil
	}
	planner := newTestPlanner(mock, DefaultPlannerConfig())

	plan, err := planner.Plan(context.Background(), plannerQuestion("covers yesterday"), catalogSchemaContext(uuid.New()), fallbackNow)
	require.NoError(t, err)

	require.NotNil(t, plan.DateStart)
	assert.Equal(t, time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC), *plan.DateStart)
	assert.Equal(t, time.Date(2026, time.August, 25, 0, 0, 0, 0, time.UTC), *plan.DateEnd)
}

func TestPlanner_ModelPhraseFillsInWhenQuestionHasNone(t *testing.T) {
	mock := llm.NewMockClient()
	mock.GenerateFunc = func(_ context.Context, _, _ string, _ float64) (*llm.GenerateResult, error) {
		return &llm.GenerateResult{
			Content: generatorJSON("SELECT SUM(sales.total) AS value FROM sales WHERE sales.sale_state = 'CLOSED'", []string{"sales"}, "Last Week"),
		}, nil
	}
	planner := newTestPlanner(mock, DefaultPlannerConfig())

	plan, err := planner.Plan(context.Background(), plannerQuestion("sales during the tasting menu launch"), catalogSchemaContext(uuid.New()), fallbackNow)
	require.NoError(t, err)

	require.NotNil(t, plan.DateStart)
	assert.Equal(t, time.Date(2026, time.August, 17, 0, 0, 0, 0, time.UTC), *plan.DateStart)
}

func TestPlanner_QuestionWithoutDatePhraseOmitsHints(t *testing.T) {
	mock := llm.NewMockClient()
	var sawPrompt string
	mock.GenerateFunc = func(_ context.Context, _, userPrompt string, _ float64) (*llm.GenerateResult, error) {
		sawPrompt = userPrompt
		return &llm.GenerateResult{
			Content: generatorJSON("SELECT COUNT(*) FROM products", []string{"products"}, ""),
		}, nil
	}
	planner := newTestPlanner(mock, DefaultPlannerConfig())

	plan, err := planner.Plan(context.Background(), plannerQuestion("how many products do we sell"), catalogSchemaContext(uuid.New()), fallbackNow)
	require.NoError(t, err)

	assert.NotContains(t, sawPrompt, "Resolved date phrases")
	assert.Nil(t, plan.DateStart)
	assert.Nil(t, plan.DateEnd)
}

func TestPlanner_CoercesScalarTablesAndPhrase(t *testing.T) {
	mock := llm.NewMockClient()
	mock.GenerateFunc = func(_ context.Context, _, _ string, _ float64) (*llm.GenerateResult, error) {
		// Bare scalar instead of an array, phrase as a string; both must
		// still parse.
		content := `{"sql": "SELECT SUM(sales.total) AS value FROM sales WHERE sales.sale_state = 'CLOSED'", "tables": "sales", "date_phrase": "last week"}`
		return &llm.GenerateResult{Content: content}, nil
	}
	planner := newTestPlanner(mock, DefaultPlannerConfig())

	plan, err := planner.Plan(context.Background(), plannerQuestion("sales during the launch"), catalogSchemaContext(uuid.New()), fallbackNow)
	require.NoError(t, err)

	assert.Equal(t, []string{"sales"}, plan.Tables)
	require.NotNil(t, plan.DateStart)
	assert.Equal(t, time.Date(2026, time.August, 17, 0, 0, 0, 0, time.UTC), *plan.DateStart)
}
