package services

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/audit"
	"github.com/mesa-hq/mesa-engine/pkg/models"
	"github.com/mesa-hq/mesa-engine/pkg/observability"
	"github.com/mesa-hq/mesa-engine/pkg/semantics"
	"github.com/mesa-hq/mesa-engine/pkg/sql"
)

// Rule identifiers carried by rejected verdicts and reported in audit events
// and metrics.
const (
	RuleSingleStatement   = "single_statement"
	RuleReadOnly          = "read_only"
	RuleAllowlistTable    = "allowlist_table"
	RuleAllowlistColumn   = "allowlist_column"
	RuleClosedState       = "closed_state_predicate"
	RuleTimeColumn        = "time_column"
	RuleCanceledPredicate = "canceled_predicate"
	RuleMetricExpression  = "metric_expression"
	RuleLikeEscape        = "like_escape"
	RuleInjectionLiteral  = "injection_literal"
)

// SafetyValidator decides whether a candidate plan may reach a tenant data
// source. Validation is purely lexical over the statement text; when a check
// cannot be decided with confidence the plan is rejected, never waved
// through. Every plan passes through here exactly once, whoever produced it.
type SafetyValidator interface {
	// Validate runs every safety check against the plan. Accepted verdicts
	// carry the sanitized statement to execute; rejected verdicts carry the
	// rule that failed. The snapshot attributes audit events to the caller.
	Validate(plan *models.QueryPlan, schemaCtx *models.SchemaContext, snapshot models.SessionSnapshot) models.ValidationVerdict
}

// ValidatorConfig tunes plan sanitization.
type ValidatorConfig struct {
	// PreviewLimit is the row cap wrapped around accepted statements that
	// carry no LIMIT of their own.
	PreviewLimit int
}

// DefaultValidatorConfig returns the validator settings used when the caller
// provides none.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{PreviewLimit: 200}
}

type safetyValidator struct {
	auditor *audit.SecurityAuditor
	config  ValidatorConfig
	logger  *zap.Logger
}

// NewSafetyValidator creates a safety validator.
func NewSafetyValidator(auditor *audit.SecurityAuditor, config ValidatorConfig, logger *zap.Logger) SafetyValidator {
	if config.PreviewLimit <= 0 {
		config.PreviewLimit = DefaultValidatorConfig().PreviewLimit
	}
	return &safetyValidator{
		auditor: auditor,
		config:  config,
		logger:  logger,
	}
}

var (
	// closedStatePattern detects the mandatory closed-sale predicate. The
	// match is case-insensitive; the planner is told the exact casing.
	closedStatePattern = regexp.MustCompile(`(?i)\bsale_state\s*=\s*'CLOSED'`)

	// closedAtFilterPattern catches closed_at used as a filter. Projecting
	// closed_at or null-checking it stays legal; comparing against it is the
	// wrong time axis.
	closedAtFilterPattern = regexp.MustCompile(`(?i)\b(?:[a-z_][a-z0-9_]*\.)?closed_at\s*(?:[<>=!]|\bBETWEEN\b|\bIN\b)`)

	// nonCanceledPatterns are the accepted spellings of the line-item
	// cancellation filter.
	nonCanceledPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:[a-z_][a-z0-9_]*\.)?canceled\s+IS\s+NOT\s+TRUE\b`),
		regexp.MustCompile(`(?i)\b(?:[a-z_][a-z0-9_]*\.)?canceled\s*=\s*FALSE\b`),
		regexp.MustCompile(`(?i)\bNOT\s+(?:[a-z_][a-z0-9_]*\.)?canceled\b`),
	}
)

func (v *safetyValidator) Validate(plan *models.QueryPlan, schemaCtx *models.SchemaContext, snapshot models.SessionSnapshot) models.ValidationVerdict {
	result := sql.ValidateAndNormalize(plan.SQL)
	if result.Error != nil {
		return v.reject(schemaCtx, snapshot, RuleSingleStatement, result.Error.Error())
	}
	normalized := result.NormalizedSQL

	if kind := sql.DetectKind(normalized); !sql.IsReadOnly(kind) {
		return v.reject(schemaCtx, snapshot, RuleReadOnly,
			fmt.Sprintf("statement kind %s is not a read-only retrieval", kind))
	}

	refs := sql.ExtractRefs(normalized)
	masked := sql.MaskLiterals(normalized)

	if ruleID, detail := checkAllowlist(refs, schemaCtx); ruleID != "" {
		return v.reject(schemaCtx, snapshot, ruleID, detail)
	}

	if tableReferenced(refs, semantics.TableSales) && !closedStatePattern.MatchString(normalized) {
		return v.reject(schemaCtx, snapshot, RuleClosedState,
			"sales query without the sale_state = 'CLOSED' predicate")
	}

	if closedAtFilterPattern.MatchString(masked) {
		return v.reject(schemaCtx, snapshot, RuleTimeColumn,
			"time filter on closed_at; filters must use created_at")
	}

	if tableReferenced(refs, semantics.TableItems) && !hasNonCanceledPredicate(masked) {
		return v.reject(schemaCtx, snapshot, RuleCanceledPredicate,
			"items query without the canceled IS NOT TRUE predicate")
	}

	if detail := checkCurrentPriceAggregation(masked, refs); detail != "" {
		return v.reject(schemaCtx, snapshot, RuleMetricExpression, detail)
	}

	for _, pattern := range sql.LikePatternsIn(normalized) {
		if ok, detail := sql.CheckLikePattern(pattern); !ok {
			return v.reject(schemaCtx, snapshot, RuleLikeEscape,
				fmt.Sprintf("%s: %q", detail, pattern))
		}
	}

	if dirty := sql.ScreenLiterals(normalized); len(dirty) > 0 {
		for _, hit := range dirty {
			v.auditor.LogInjectionAttempt(schemaCtx.TenantID, snapshot.UserID, snapshot.Identity, audit.SQLInjectionDetails{
				Source:      hit.Source,
				Value:       hit.Value,
				Fingerprint: hit.Fingerprint,
			})
		}
		return v.reject(schemaCtx, snapshot, RuleInjectionLiteral,
			fmt.Sprintf("injection pattern in string literal (fingerprint %s)", dirty[0].Fingerprint))
	}

	sanitized := normalized
	if !sql.HasTrailingLimit(sanitized) {
		sanitized = sql.EnsureLimit(sanitized, v.config.PreviewLimit)
	}

	v.logger.Debug("Plan accepted",
		zap.String("tenant_id", schemaCtx.TenantID.String()),
		zap.Int("tables", len(refs.Tables)),
		zap.Bool("limit_wrapped", sanitized != normalized))

	return models.ValidationVerdict{
		Outcome:      models.OutcomeAccepted,
		SanitizedSQL: sanitized,
	}
}

func (v *safetyValidator) reject(schemaCtx *models.SchemaContext, snapshot models.SessionSnapshot, ruleID, detail string) models.ValidationVerdict {
	v.auditor.LogValidationRejection(schemaCtx.TenantID, snapshot.UserID, snapshot.Identity, audit.ValidationRejectionDetails{
		RuleID: ruleID,
		Detail: detail,
	})
	observability.ObserveValidationRejection(ruleID)

	return models.ValidationVerdict{
		Outcome: models.OutcomeRejected,
		RuleID:  ruleID,
	}
}

// checkAllowlist verifies every table and column reference against the
// tenant's schema context. Unqualified identifiers must match an allowed
// column, an output alias, a CTE, or a referenced table; anything
// unrecognized is rejected rather than assumed harmless.
func checkAllowlist(refs sql.Refs, schemaCtx *models.SchemaContext) (string, string) {
	for _, t := range refs.Tables {
		if refs.HasCTE(t.Name) {
			continue
		}
		if t.Schema != "" && !strings.EqualFold(t.Schema, "public") {
			return RuleAllowlistTable, fmt.Sprintf("table %s.%s is outside the tenant schema", t.Schema, t.Name)
		}
		if !hasTableFold(schemaCtx, t.Name) {
			return RuleAllowlistTable, fmt.Sprintf("table %s is not in the tenant allowlist", t.Name)
		}
	}

	for _, c := range refs.Columns {
		base, ok := refs.ResolveQualifier(c.Qualifier)
		if !ok || refs.HasCTE(base) {
			// Columns of CTEs and derived tables are expressions the
			// underlying checks already cover.
			continue
		}
		if c.Name == "*" {
			continue
		}
		if !hasColumnFold(schemaCtx, base, c.Name) {
			return RuleAllowlistColumn, fmt.Sprintf("column %s.%s is not in the tenant allowlist", base, c.Name)
		}
	}

	for _, name := range refs.Bare {
		if knownBareIdentifier(refs, schemaCtx, name) {
			continue
		}
		return RuleAllowlistColumn, fmt.Sprintf("identifier %s does not match any allowed column", name)
	}

	return "", ""
}

func tableReferenced(refs sql.Refs, table string) bool {
	for _, t := range refs.Tables {
		if strings.EqualFold(t.Name, table) && !refs.HasCTE(t.Name) {
			return true
		}
	}
	return false
}

func hasTableFold(schemaCtx *models.SchemaContext, table string) bool {
	for _, col := range schemaCtx.Columns {
		if strings.EqualFold(col.Table, table) {
			return true
		}
	}
	return false
}

func hasColumnFold(schemaCtx *models.SchemaContext, table, column string) bool {
	for _, col := range schemaCtx.Columns {
		if strings.EqualFold(col.Table, table) && strings.EqualFold(col.Name, column) {
			return true
		}
	}
	return false
}

func knownBareIdentifier(refs sql.Refs, schemaCtx *models.SchemaContext, name string) bool {
	for _, alias := range refs.OutputAliases {
		if strings.EqualFold(alias, name) {
			return true
		}
	}
	if refs.HasCTE(name) {
		return true
	}
	for _, t := range refs.Tables {
		if strings.EqualFold(t.Name, name) || strings.EqualFold(t.Alias, name) {
			return true
		}
	}
	if hasTableFold(schemaCtx, name) {
		return true
	}
	for _, col := range schemaCtx.Columns {
		if strings.EqualFold(col.Name, name) {
			return true
		}
	}
	return false
}

func hasNonCanceledPredicate(masked string) bool {
	for _, pattern := range nonCanceledPatterns {
		if pattern.MatchString(masked) {
			return true
		}
	}
	return false
}

// checkCurrentPriceAggregation rejects SUM/AVG over products.price. The
// products table carries the current menu price; revenue comes from the
// line-item price charged at sale time.
func checkCurrentPriceAggregation(masked string, refs sql.Refs) string {
	qualifiers := []string{semantics.TableProducts}
	for _, t := range refs.Tables {
		if strings.EqualFold(t.Name, semantics.TableProducts) && t.Alias != "" {
			qualifiers = append(qualifiers, t.Alias)
		}
	}

	// With products as the only table, a bare price can only be the
	// current menu price.
	bareIsCurrentPrice := len(refs.Tables) == 1 && strings.EqualFold(refs.Tables[0].Name, semantics.TableProducts)

	lower := strings.ToLower(masked)
	for _, agg := range []string{"sum", "avg"} {
		for _, arg := range aggregateArgs(lower, agg) {
			for _, q := range qualifiers {
				if containsWord(arg, strings.ToLower(q)+".price") {
					return fmt.Sprintf("%s over products.price aggregates the current menu price, not revenue", strings.ToUpper(agg))
				}
			}
			if bareIsCurrentPrice && containsWord(arg, "price") {
				return fmt.Sprintf("%s over products.price aggregates the current menu price, not revenue", strings.ToUpper(agg))
			}
		}
	}
	return ""
}

// aggregateArgs returns the parenthesized argument text of every call to the
// named aggregate, matching parens by depth.
func aggregateArgs(lower, agg string) []string {
	var args []string
	idx := 0
	for {
		i := strings.Index(lower[idx:], agg)
		if i < 0 {
			return args
		}
		i += idx
		idx = i + len(agg)

		if i > 0 && isWordByte(lower[i-1]) {
			continue
		}
		j := i + len(agg)
		for j < len(lower) && (lower[j] == ' ' || lower[j] == '\t' || lower[j] == '\n') {
			j++
		}
		if j >= len(lower) || lower[j] != '(' {
			continue
		}

		depth := 0
		start := j + 1
		for k := j; k < len(lower); k++ {
			switch lower[k] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					args = append(args, lower[start:k])
					k = len(lower)
				}
			}
		}
	}
}

// containsWord reports whether w occurs in s bounded by non-identifier
// characters. Dots inside w are matched literally.
func containsWord(s, w string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], w)
		if i < 0 {
			return false
		}
		i += idx
		idx = i + 1

		if i > 0 && isWordByte(s[i-1]) {
			continue
		}
		end := i + len(w)
		if end < len(s) && isWordByte(s[end]) {
			continue
		}
		return true
	}
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

var _ SafetyValidator = (*safetyValidator)(nil)
