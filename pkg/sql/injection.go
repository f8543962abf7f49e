package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes an injection pattern detected in a value.
type InjectionCheckResult struct {
	IsSQLi      bool   // true if a SQL injection pattern was detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Source      string // where the value came from ("question", "literal", ...)
	Value       string // the value that was checked
}

// CheckValueForInjection runs libinjection over a single untrusted value.
//
// Returns nil when the value is clean, or a result describing the detected
// pattern:
//
//	result := CheckValueForInjection("question", "'; DROP TABLE sales--")
//	// result.IsSQLi == true
//	// result.Fingerprint == "s&1c" (or similar)
func CheckValueForInjection(source, value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Source:      source,
		Value:       value,
	}
}

// ScreenLiterals checks every string literal embedded in a generated
// statement for injection patterns. Literal content is the only place user
// text can reach the final SQL, so a dirty literal means the generator was
// steered into emitting something it should not have.
//
// Returns one result per dirty literal, or an empty slice when all are clean.
func ScreenLiterals(sqlQuery string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for _, lit := range ExtractStringLiterals(sqlQuery) {
		if result := CheckValueForInjection("literal", lit); result != nil {
			results = append(results, result)
		}
	}
	return results
}

// ExtractStringLiterals returns the unquoted contents of every single-quoted
// literal in the statement, in order of appearance. Doubled quotes inside a
// literal are collapsed to one.
func ExtractStringLiterals(sqlQuery string) []string {
	var literals []string
	var current []byte
	inString := false

	for i := 0; i < len(sqlQuery); i++ {
		c := sqlQuery[i]
		if !inString {
			if c == '\'' {
				inString = true
				current = current[:0]
			}
			continue
		}

		if c == '\'' {
			if i+1 < len(sqlQuery) && sqlQuery[i+1] == '\'' {
				current = append(current, '\'')
				i++
				continue
			}
			literals = append(literals, string(current))
			inString = false
			continue
		}
		current = append(current, c)
	}

	return literals
}
