package sql

import (
	"regexp"
	"strings"
)

// likePattern captures the string literal following LIKE or ILIKE.
var likePattern = regexp.MustCompile(`(?i)\b(?:LIKE|ILIKE)\s*('(?:[^']|'')*')`)

// EscapeLikeLiteral escapes a raw user value for interpolation into a LIKE
// pattern: backslash, percent, and underscore become literal characters.
// Callers add their own pattern wildcards around the escaped value.
func EscapeLikeLiteral(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch r {
		case '\\', '%', '_':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LikePatternsIn returns the unquoted string literals used as LIKE or ILIKE
// patterns in the statement.
func LikePatternsIn(sqlQuery string) []string {
	matches := likePattern.FindAllStringSubmatch(sqlQuery, -1)
	if len(matches) == 0 {
		return nil
	}
	patterns := make([]string, 0, len(matches))
	for _, m := range matches {
		patterns = append(patterns, unquoteLiteral(m[1]))
	}
	return patterns
}

// NormalizeLikePatterns rewrites every LIKE/ILIKE pattern literal in the
// statement so it satisfies CheckLikePattern: interior percent signs and all
// underscores are backslash-escaped, edge percents stay as wildcards. Applied
// to generated SQL before validation, since generators echo user text into
// patterns without escaping it.
func NormalizeLikePatterns(sqlQuery string) string {
	return likePattern.ReplaceAllStringFunc(sqlQuery, func(match string) string {
		sub := likePattern.FindStringSubmatch(match)
		if sub == nil {
			return match
		}
		lit := sub[1]
		normalized := normalizeLikePattern(unquoteLiteral(lit))
		quoted := "'" + strings.ReplaceAll(normalized, "'", "''") + "'"
		return strings.Replace(match, lit, quoted, 1)
	})
}

func normalizeLikePattern(pattern string) string {
	runes := []rune(pattern)
	var b strings.Builder
	b.Grow(len(pattern) + 4)
	escaped := false
	for i, r := range runes {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		switch r {
		case '\\':
			b.WriteRune(r)
			escaped = true
		case '_':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '%':
			if i != 0 && i != len(runes)-1 {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CheckLikePattern enforces the wildcard policy for match patterns built
// from user text: percent signs may appear unescaped only at the pattern
// edges, and underscores must always be escaped. Everything else must come
// through EscapeLikeLiteral.
func CheckLikePattern(pattern string) (ok bool, detail string) {
	runes := []rune(pattern)
	escaped := false
	for i, r := range runes {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '_':
			return false, "unescaped underscore wildcard in match pattern"
		case '%':
			if i != 0 && i != len(runes)-1 {
				return false, "unescaped percent wildcard inside match pattern"
			}
		}
	}
	return true, ""
}

// unquoteLiteral strips the delimiting quotes from a single-quoted SQL
// literal and collapses doubled quotes.
func unquoteLiteral(lit string) string {
	if len(lit) >= 2 && lit[0] == '\'' && lit[len(lit)-1] == '\'' {
		lit = lit[1 : len(lit)-1]
	}
	return strings.ReplaceAll(lit, "''", "'")
}
