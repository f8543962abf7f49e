// Package sql provides the static analysis primitives behind the safety
// validator: statement normalization, statement-kind detection, identifier
// extraction, pattern-literal escaping, and row-limit enforcement. Nothing
// here executes SQL; generated query text is treated strictly as untrusted
// input to be analyzed.
package sql

import (
	"errors"
	"strings"
)

var (
	// ErrEmptyStatement indicates the query contains no statement at all.
	ErrEmptyStatement = errors.New("empty SQL statement")

	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

	// ErrCommentedSQL indicates the query embeds comments, which can mask
	// additional statements and are never produced by a legitimate plan.
	ErrCommentedSQL = errors.New("SQL comments are not allowed")
)

// ValidationResult contains the normalized SQL and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize checks that the query is exactly one comment-free
// statement and strips the trailing semicolon.
//
// The validation order is:
//  1. Strip trailing semicolon and whitespace (normalize)
//  2. Reject comments (-- or /* */) outside string literals
//  3. Reject multiple statements (any remaining semicolons outside strings)
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return ValidationResult{Error: ErrEmptyStatement}
	}

	normalized := stripTrailingSemicolon(sqlQuery)
	if normalized == "" {
		return ValidationResult{Error: ErrEmptyStatement}
	}

	if err := scanOutsideStrings(normalized); err != nil {
		return ValidationResult{Error: err}
	}

	return ValidationResult{NormalizedSQL: normalized}
}

// scanOutsideStrings walks the statement once, tracking string literal
// state, and reports semicolons or comment openers found outside literals.
// Only the SQL doubled quote escapes a quote: PostgreSQL (with
// standard_conforming_strings, the default) and T-SQL both treat a
// backslash inside a literal as a plain character, so treating \' as an
// escape here would keep scanning "inside" a literal the engine has
// already closed. A doubled quote exits and immediately re-enters the
// literal, which keeps the scan correct without a lookahead.
func scanOutsideStrings(sqlQuery string) error {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prevChar := rune(0)

	for _, char := range sqlQuery {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return ErrMultipleStatements
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			case '-':
				if prevChar == '-' {
					return ErrCommentedSQL
				}
			case '*':
				if prevChar == '/' {
					return ErrCommentedSQL
				}
			}
		case stateSingleQuote:
			if char == '\'' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' {
				state = stateNormal
			}
		}
		prevChar = char
	}

	return nil
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace around it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}
