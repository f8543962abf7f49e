package sql

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	trailingLimitPattern = regexp.MustCompile(`(?i)\bLIMIT\s+\d+(?:\s+OFFSET\s+\d+)?\s*$`)
	leadingTopPattern    = regexp.MustCompile(`(?i)^\s*SELECT\s+(?:DISTINCT\s+)?TOP\b`)
)

// HasTrailingLimit reports whether the statement already ends with a
// top-level LIMIT clause. Literals are masked first so LIMIT inside a
// string cannot satisfy the check.
func HasTrailingLimit(sqlQuery string) bool {
	return trailingLimitPattern.MatchString(MaskLiterals(sqlQuery))
}

// EnsureLimit caps the number of rows a statement can return by wrapping it
// in a subselect with a LIMIT. Statements that already end in a LIMIT are
// returned unchanged; the wrap never rewrites the inner query.
func EnsureLimit(sqlQuery string, limit int) string {
	trimmed := strings.TrimSpace(sqlQuery)
	if HasTrailingLimit(trimmed) {
		return trimmed
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS __q LIMIT %d", trimmed, limit)
}

// EnsureTopLimit is the cap for engines without LIMIT syntax. Statements
// that already start with SELECT TOP are returned unchanged.
func EnsureTopLimit(sqlQuery string, limit int) string {
	trimmed := strings.TrimSpace(sqlQuery)
	if leadingTopPattern.MatchString(trimmed) {
		return trimmed
	}
	return fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS __q", limit, trimmed)
}
