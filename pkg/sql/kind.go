package sql

import (
	"regexp"
	"strings"
)

// StatementKind classifies a SQL statement by its leading keyword.
type StatementKind string

const (
	KindSelect  StatementKind = "SELECT"
	KindInsert  StatementKind = "INSERT"
	KindUpdate  StatementKind = "UPDATE"
	KindDelete  StatementKind = "DELETE"
	KindDDL     StatementKind = "DDL"     // CREATE, ALTER, DROP, TRUNCATE
	KindCommand StatementKind = "COMMAND" // CALL, GRANT, SET, COPY, transaction control, ...
	KindUnknown StatementKind = "UNKNOWN"
)

// modifyingCTEPattern matches CTEs that contain data-modifying operations.
// Example: WITH deleted AS (DELETE FROM ...) SELECT * FROM deleted
var modifyingCTEPattern = regexp.MustCompile(`(?i)\bAS\s*\(\s*(INSERT|UPDATE|DELETE)\b`)

var commandPrefixes = []string{
	"CALL", "EXEC", "EXECUTE", "GRANT", "REVOKE", "SET", "COPY", "DO",
	"VACUUM", "ANALYZE", "EXPLAIN", "SHOW", "LISTEN", "NOTIFY",
	"PREPARE", "DEALLOCATE", "BEGIN", "COMMIT", "ROLLBACK", "SAVEPOINT",
}

// DetectKind determines the statement kind from the first keyword.
// WITH statements count as SELECT only when no CTE modifies data.
func DetectKind(sqlQuery string) StatementKind {
	normalized := strings.ToUpper(strings.TrimSpace(sqlQuery))

	switch {
	case strings.HasPrefix(normalized, "SELECT"):
		return KindSelect

	case strings.HasPrefix(normalized, "WITH"):
		// WITH could front a pure SELECT or hide a data-modifying CTE:
		// WITH deleted AS (DELETE FROM ...) SELECT * FROM deleted
		if modifyingCTEPattern.MatchString(sqlQuery) {
			return KindUnknown
		}
		return KindSelect

	case strings.HasPrefix(normalized, "INSERT"):
		return KindInsert

	case strings.HasPrefix(normalized, "UPDATE"):
		return KindUpdate

	case strings.HasPrefix(normalized, "DELETE"):
		return KindDelete

	case strings.HasPrefix(normalized, "CREATE"),
		strings.HasPrefix(normalized, "ALTER"),
		strings.HasPrefix(normalized, "DROP"),
		strings.HasPrefix(normalized, "TRUNCATE"):
		return KindDDL
	}

	for _, prefix := range commandPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return KindCommand
		}
	}

	return KindUnknown
}

// IsReadOnly reports whether the kind is a read-only retrieval. Only SELECT
// qualifies; everything else is rejected by the safety validator.
func IsReadOnly(kind StatementKind) bool {
	return kind == KindSelect
}
