package prompts

import (
	"fmt"
	"strings"
	"time"
)

// TableSchema provides schema context for one tenant table.
type TableSchema struct {
	Name        string
	Description string
	Columns     []ColumnSchema
}

// ColumnSchema provides column details for plan generation.
type ColumnSchema struct {
	Name        string
	DataType    string
	Role        string // identifier, dimension, measure, time, state, attribute
	Description string
}

// MetricHint names a business metric and the exact expression that computes it.
type MetricHint struct {
	Name       string
	Table      string
	Expression string
}

// DateHint carries a date phrase already resolved to a half-open range.
type DateHint struct {
	Phrase string
	Start  time.Time
	End    time.Time
}

// BuildPlanGenerationPrompt creates the prompt that asks the model for a
// single SELECT statement answering the question. It includes the tenant
// schema, the metric catalog, hard query rules, and resolved date ranges so
// the model never does its own calendar math.
func BuildPlanGenerationPrompt(
	question string,
	tables []TableSchema,
	metrics []MetricHint,
	rules []string,
	dates []DateHint,
	now time.Time,
) string {
	var prompt strings.Builder

	prompt.WriteString("# SQL Plan Generation\n\n")
	prompt.WriteString("Write one PostgreSQL SELECT statement that answers the question below.\n\n")

	prompt.WriteString("## Database Schema\n\n")
	for _, table := range tables {
		prompt.WriteString(fmt.Sprintf("### %s\n", table.Name))
		if table.Description != "" {
			prompt.WriteString(table.Description + "\n")
		}
		prompt.WriteString("Columns:\n")
		for _, col := range table.Columns {
			role := ""
			if col.Role != "" {
				role = fmt.Sprintf(" [%s]", col.Role)
			}
			desc := ""
			if col.Description != "" {
				desc = " - " + col.Description
			}
			prompt.WriteString(fmt.Sprintf("- %s (%s)%s%s\n", col.Name, col.DataType, role, desc))
		}
		prompt.WriteString("\n")
	}

	if len(metrics) > 0 {
		prompt.WriteString("## Metrics\n\n")
		prompt.WriteString("Use exactly these expressions when the question asks for a metric:\n\n")
		for _, m := range metrics {
			prompt.WriteString(fmt.Sprintf("- **%s** (on %s): `%s`\n", m.Name, m.Table, m.Expression))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("## Query Rules\n\n")
	for i, rule := range rules {
		prompt.WriteString(fmt.Sprintf("%d. %s\n", i+1, rule))
	}
	prompt.WriteString(fmt.Sprintf("%d. Match user-provided names with ILIKE; escape %%, _ and \\ inside the value and put wildcards only at the pattern edges.\n", len(rules)+1))
	prompt.WriteString(fmt.Sprintf("%d. Return at most one statement; no comments, no semicolons, no data modification.\n", len(rules)+2))
	prompt.WriteString("\n")

	prompt.WriteString("## Date Context\n\n")
	prompt.WriteString(fmt.Sprintf("Today is %s (%s).\n", now.Format("2006-01-02"), now.Weekday()))
	if len(dates) > 0 {
		prompt.WriteString("Resolved date phrases; use these exact half-open ranges instead of your own calendar math:\n")
		for _, d := range dates {
			prompt.WriteString(fmt.Sprintf("- %q means created_at >= '%s' AND created_at < '%s'\n",
				d.Phrase, d.Start.Format("2006-01-02"), d.End.Format("2006-01-02")))
		}
	}
	prompt.WriteString("\n")

	prompt.WriteString("## Question\n\n")
	prompt.WriteString(question + "\n\n")

	prompt.WriteString("## Output Format\n\n")
	prompt.WriteString("Respond in JSON with:\n")
	prompt.WriteString("- `sql`: the SELECT statement\n")
	prompt.WriteString("- `tables`: the tables it reads\n")
	prompt.WriteString("- `date_phrase`: the date phrase you applied, or null\n\n")

	prompt.WriteString("Example:\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`{
  "sql": "SELECT SUM(total) FROM sales WHERE sale_state = 'CLOSED' AND created_at >= '2024-06-03' AND created_at < '2024-06-10'",
  "tables": ["sales"],
  "date_phrase": "last week"
}
`)
	prompt.WriteString("```\n\n")

	prompt.WriteString("Return ONLY the JSON, no additional text.\n")

	return prompt.String()
}

// BuildPlanGenerationSystemMessage returns the system message for plan generation.
func BuildPlanGenerationSystemMessage() string {
	return `You are a restaurant analytics SQL expert. You translate business questions into a single safe PostgreSQL SELECT statement over the tenant's reporting schema, following every query rule exactly.`
}
