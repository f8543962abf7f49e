package models

import (
	"time"

	"github.com/google/uuid"
)

// ColumnContext is one (table, column, semantic role) entry in a tenant's
// schema context. Role values come from the semantics catalog.
type ColumnContext struct {
	Table       string `json:"table"`
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Role        string `json:"role"`
	Description string `json:"description,omitempty"`
}

// SchemaContext is the tenant-scoped description of allowed tables/columns
// and the mandatory business rules. Built fresh per request from tenant
// metadata; never cached across tenants.
type SchemaContext struct {
	TenantID uuid.UUID       `json:"tenant_id"`
	Columns  []ColumnContext `json:"columns"`
	Rules    []string        `json:"rules"`
}

// Tables returns the distinct table names in context order.
func (c *SchemaContext) Tables() []string {
	seen := make(map[string]bool, len(c.Columns))
	var tables []string
	for _, col := range c.Columns {
		if !seen[col.Table] {
			seen[col.Table] = true
			tables = append(tables, col.Table)
		}
	}
	return tables
}

// HasTable reports whether the table is in this tenant's allowlist.
func (c *SchemaContext) HasTable(table string) bool {
	for _, col := range c.Columns {
		if col.Table == table {
			return true
		}
	}
	return false
}

// HasColumn reports whether (table, column) is in this tenant's allowlist.
func (c *SchemaContext) HasColumn(table, column string) bool {
	for _, col := range c.Columns {
		if col.Table == table && col.Name == column {
			return true
		}
	}
	return false
}

// ColumnsFor returns the column entries for one table, in context order.
func (c *SchemaContext) ColumnsFor(table string) []ColumnContext {
	var cols []ColumnContext
	for _, col := range c.Columns {
		if col.Table == table {
			cols = append(cols, col)
		}
	}
	return cols
}

// QueryPlan is a candidate query produced by the planner. It is consumed
// exactly once by the safety validator and never executed directly.
type QueryPlan struct {
	SQL       string     `json:"sql"`
	DateStart *time.Time `json:"date_start,omitempty"` // half-open [DateStart, DateEnd)
	DateEnd   *time.Time `json:"date_end,omitempty"`
	Tables    []string   `json:"tables"`
	Columns   []string   `json:"columns"`
}

// VerdictOutcome is the result classification of a validation pass.
type VerdictOutcome string

const (
	OutcomeAccepted VerdictOutcome = "accepted"
	OutcomeRejected VerdictOutcome = "rejected"
)

// ValidationVerdict is the validator's decision for one QueryPlan.
// SanitizedSQL is populated only for accepted plans; RuleID only for
// rejected ones.
type ValidationVerdict struct {
	Outcome      VerdictOutcome `json:"outcome"`
	SanitizedSQL string         `json:"sanitized_sql,omitempty"`
	RuleID       string         `json:"rule_id,omitempty"`
}

// Accepted reports whether the plan passed every safety check.
func (v ValidationVerdict) Accepted() bool {
	return v.Outcome == OutcomeAccepted
}
