package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mesa-hq/mesa-engine/pkg/dates"
	"github.com/mesa-hq/mesa-engine/pkg/models"
	"github.com/mesa-hq/mesa-engine/pkg/semantics"
)

// defaultFallbackLimit bounds ranking questions that do not name a count.
const defaultFallbackLimit = 10

// FallbackPlanner builds deterministic plans for the common metric questions
// straight from the semantics catalog, without a generator. It covers the
// questions restaurant operators ask every day (gross sales, top products,
// covers, payment methods, expense categories over a date range) and is used
// when no generator is configured or the generator has failed.
type FallbackPlanner interface {
	// Plan derives a query plan from keywords in the question. Questions
	// whose required tables are missing from the tenant's schema context
	// return an error.
	Plan(question string, schemaCtx *models.SchemaContext, now time.Time) (*models.QueryPlan, error)
}

type fallbackPlanner struct {
	catalog *semantics.Catalog
}

// NewFallbackPlanner creates a fallback planner over the given catalog.
func NewFallbackPlanner(catalog *semantics.Catalog) FallbackPlanner {
	if catalog == nil {
		catalog = semantics.Default()
	}
	return &fallbackPlanner{catalog: catalog}
}

var (
	lastNPattern    = regexp.MustCompile(`(?:last|past|[uú]ltim[oa]s)\s+\d+\s+(?:days?|d[ií]as?|weeks?|semanas?|months?|meses?)`)
	topNPattern     = regexp.MustCompile(`top\s+(\d+)`)
	singleDayTokens = regexp.MustCompile(`\b(?:today|yesterday|hoy|ayer)\b`)
)

// datePhrases are scanned in order; the first hit wins. Multi-word phrases
// only, single-word tokens go through singleDayTokens for word boundaries.
var datePhrases = []string{
	"last week", "la semana pasada", "semana pasada",
	"last month", "el mes pasado", "mes pasado",
	"last year", "el año pasado", "año pasado",
	"this week", "esta semana",
	"this month", "este mes",
	"this year", "este año",
}

func (p *fallbackPlanner) Plan(question string, schemaCtx *models.SchemaContext, now time.Time) (*models.QueryPlan, error) {
	q := strings.ToLower(strings.TrimSpace(question))

	dateRange, err := p.resolveRange(q, now)
	if err != nil {
		return nil, err
	}
	grain := detectGrain(q)

	switch {
	case (strings.Contains(q, "top") || strings.Contains(q, "best") || strings.Contains(q, "mejores")) && strings.Contains(q, "product"):
		return p.topProducts(q, schemaCtx, dateRange)

	case (strings.Contains(q, "payment") || strings.Contains(q, "pago")) && (strings.Contains(q, "method") || strings.Contains(q, "métod") || strings.Contains(q, "metod")):
		return p.dimensionBreakdown(schemaCtx, "payment_total", "method", "payment_method", dateRange)

	case (strings.Contains(q, "expense") || strings.Contains(q, "gasto")) && strings.Contains(q, "categor"):
		return p.dimensionBreakdown(schemaCtx, "expense_total", "category", "expense_category", dateRange)

	case strings.Contains(q, "covers") || strings.Contains(q, "guests") || strings.Contains(q, "comensales") || strings.Contains(q, "cubiertos"):
		return p.salesMetric(schemaCtx, "covers", grain, dateRange)

	default:
		return p.salesMetric(schemaCtx, "gross_sales", grain, dateRange)
	}
}

// findDatePhrase returns the first recognizable date phrase in the lowercased
// question, or "" when the question names no time window.
func findDatePhrase(q string) string {
	if m := lastNPattern.FindString(q); m != "" {
		return m
	}
	if m := singleDayTokens.FindString(q); m != "" {
		return m
	}
	for _, candidate := range datePhrases {
		if strings.Contains(q, candidate) {
			return candidate
		}
	}
	return ""
}

// resolveRange finds the first recognizable date phrase in the question and
// resolves it. Questions without one default to the last 7 days.
func (p *fallbackPlanner) resolveRange(q string, now time.Time) (dates.Range, error) {
	phrase := findDatePhrase(q)
	if phrase == "" {
		phrase = "last 7 days"
	}

	r, err := dates.Resolve(phrase, now, "")
	if err != nil {
		return dates.Range{}, fmt.Errorf("failed to resolve date phrase %q: %w", phrase, err)
	}
	return r, nil
}

func detectGrain(q string) string {
	switch {
	case strings.Contains(q, "by day") || strings.Contains(q, "per day") || strings.Contains(q, "daily") ||
		strings.Contains(q, "por día") || strings.Contains(q, "por dia") || strings.Contains(q, "diario"):
		return "day"
	case strings.Contains(q, "by week") || strings.Contains(q, "per week") || strings.Contains(q, "weekly") ||
		strings.Contains(q, "por semana") || strings.Contains(q, "semanal"):
		return "week"
	case strings.Contains(q, "by month") || strings.Contains(q, "per month") || strings.Contains(q, "monthly") ||
		strings.Contains(q, "por mes") || strings.Contains(q, "mensual"):
		return "month"
	default:
		return ""
	}
}

// salesMetric answers plain metric questions on the sales table: a single
// total, or a period series when the question asks for one.
func (p *fallbackPlanner) salesMetric(schemaCtx *models.SchemaContext, metricName, grain string, dateRange dates.Range) (*models.QueryPlan, error) {
	metric, ok := p.catalog.Metric(metricName)
	if !ok {
		return nil, fmt.Errorf("metric %q is not in the catalog", metricName)
	}
	if !schemaCtx.HasTable(metric.Table) {
		return nil, fmt.Errorf("tenant schema does not expose table %q", metric.Table)
	}

	var b strings.Builder
	b.WriteString("SELECT\n")
	if grain != "" {
		fmt.Fprintf(&b, "  DATE_TRUNC('%s', %s.%s) AS period,\n", grain, metric.Table, semantics.ColumnCreatedAt)
	}
	fmt.Fprintf(&b, "  %s AS value\n", metric.Expression)
	fmt.Fprintf(&b, "FROM %s\n", metric.Table)
	b.WriteString("WHERE ")
	b.WriteString(p.predicates(metric.Table, metric.Table, dateRange))
	if grain != "" {
		b.WriteString("\nGROUP BY period\nORDER BY period ASC")
	}

	return &models.QueryPlan{
		SQL:       b.String(),
		DateStart: &dateRange.Start,
		DateEnd:   &dateRange.End,
		Tables:    []string{metric.Table},
	}, nil
}

// topProducts ranks products by item revenue over the range.
func (p *fallbackPlanner) topProducts(q string, schemaCtx *models.SchemaContext, dateRange dates.Range) (*models.QueryPlan, error) {
	for _, table := range []string{semantics.TableItems, semantics.TableSales, semantics.TableProducts} {
		if !schemaCtx.HasTable(table) {
			return nil, fmt.Errorf("tenant schema does not expose table %q", table)
		}
	}
	metric, ok := p.catalog.Metric("item_revenue")
	if !ok {
		return nil, fmt.Errorf("metric %q is not in the catalog", "item_revenue")
	}

	limit := defaultFallbackLimit
	if m := topNPattern.FindStringSubmatch(q); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			limit = n
		}
	}

	salesJoin, err := p.joinClause(semantics.TableItems, semantics.TableSales)
	if err != nil {
		return nil, err
	}
	productsJoin, err := p.joinClause(semantics.TableItems, semantics.TableProducts)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT\n")
	fmt.Fprintf(&b, "  %s.name AS product,\n", semantics.TableProducts)
	fmt.Fprintf(&b, "  %s AS value\n", metric.Expression)
	fmt.Fprintf(&b, "FROM %s\n", semantics.TableItems)
	b.WriteString(salesJoin + "\n")
	b.WriteString(productsJoin + "\n")
	b.WriteString("WHERE ")
	// items carry no timestamp; the sale's created_at is the time axis.
	b.WriteString(p.predicates(semantics.TableItems, semantics.TableSales, dateRange))
	fmt.Fprintf(&b, "\nGROUP BY %s.name\nORDER BY value DESC\nLIMIT %d", semantics.TableProducts, limit)

	return &models.QueryPlan{
		SQL:       b.String(),
		DateStart: &dateRange.Start,
		DateEnd:   &dateRange.End,
		Tables:    []string{semantics.TableItems, semantics.TableSales, semantics.TableProducts},
	}, nil
}

// dimensionBreakdown groups a single-table metric by one of its dimension
// columns (payments by method, expenses by category).
func (p *fallbackPlanner) dimensionBreakdown(schemaCtx *models.SchemaContext, metricName, dimension, alias string, dateRange dates.Range) (*models.QueryPlan, error) {
	metric, ok := p.catalog.Metric(metricName)
	if !ok {
		return nil, fmt.Errorf("metric %q is not in the catalog", metricName)
	}
	if !schemaCtx.HasTable(metric.Table) {
		return nil, fmt.Errorf("tenant schema does not expose table %q", metric.Table)
	}
	if !schemaCtx.HasColumn(metric.Table, dimension) {
		return nil, fmt.Errorf("tenant schema does not expose column %s.%s", metric.Table, dimension)
	}

	var b strings.Builder
	b.WriteString("SELECT\n")
	fmt.Fprintf(&b, "  %s.%s AS %s,\n", metric.Table, dimension, alias)
	fmt.Fprintf(&b, "  %s AS value\n", metric.Expression)
	fmt.Fprintf(&b, "FROM %s\n", metric.Table)
	b.WriteString("WHERE ")
	b.WriteString(p.predicates(metric.Table, metric.Table, dateRange))
	fmt.Fprintf(&b, "\nGROUP BY %s.%s\nORDER BY value DESC", metric.Table, dimension)

	return &models.QueryPlan{
		SQL:       b.String(),
		DateStart: &dateRange.Start,
		DateEnd:   &dateRange.End,
		Tables:    []string{metric.Table},
	}, nil
}

// predicates emits the WHERE body: mandatory state filters for the tables in
// play plus the half-open date window on timeTable.created_at.
func (p *fallbackPlanner) predicates(baseTable, timeTable string, dateRange dates.Range) string {
	var parts []string
	if baseTable == semantics.TableSales || timeTable == semantics.TableSales {
		parts = append(parts, fmt.Sprintf("%s.%s", semantics.TableSales, semantics.ClosedStatePredicate))
	}
	if baseTable == semantics.TableItems {
		parts = append(parts, fmt.Sprintf("%s.%s", semantics.TableItems, semantics.NonCanceledPredicate))
	}
	parts = append(parts,
		fmt.Sprintf("%s.%s >= '%s'", timeTable, semantics.ColumnCreatedAt, dateRange.Start.Format("2006-01-02")),
		fmt.Sprintf("%s.%s < '%s'", timeTable, semantics.ColumnCreatedAt, dateRange.End.Format("2006-01-02")),
	)
	return strings.Join(parts, "\n  AND ")
}

// joinClause emits the catalog's join edge between two tables.
func (p *fallbackPlanner) joinClause(from, to string) (string, error) {
	for _, j := range p.catalog.Joins {
		if j.LeftTable == from && j.RightTable == to {
			return fmt.Sprintf("INNER JOIN %s ON %s.%s = %s.%s", to, from, j.LeftColumn, to, j.RightColumn), nil
		}
		if j.RightTable == from && j.LeftTable == to {
			return fmt.Sprintf("INNER JOIN %s ON %s.%s = %s.%s", to, to, j.LeftColumn, from, j.RightColumn), nil
		}
	}
	return "", fmt.Errorf("no join edge between %s and %s in the catalog", from, to)
}

var _ FallbackPlanner = (*fallbackPlanner)(nil)
