package sql

import (
	"strings"
)

// TableRef is one table referenced in FROM or JOIN position.
type TableRef struct {
	Schema string // empty unless schema-qualified
	Name   string
	Alias  string // empty when unaliased
}

// ColumnRef is one qualified column reference (qualifier.column).
type ColumnRef struct {
	Qualifier string
	Name      string
}

// Refs collects every identifier a statement references. Extraction is
// purely lexical: string literal contents are masked first so nothing inside
// a literal can pose as an identifier.
type Refs struct {
	Tables        []TableRef
	Columns       []ColumnRef // qualified references only
	Bare          []string    // unqualified identifiers in expression positions
	CTEs          []string
	OutputAliases []string // AS names and derived-table aliases

	aliases map[string]string // lowercased alias -> base table name
}

// HasCTE reports whether name was defined as a CTE in this statement.
func (r *Refs) HasCTE(name string) bool {
	for _, cte := range r.CTEs {
		if strings.EqualFold(cte, name) {
			return true
		}
	}
	return false
}

// ResolveQualifier maps an alias or table name to the underlying base table,
// when the qualifier refers to one. CTE and subquery aliases do not resolve.
func (r *Refs) ResolveQualifier(q string) (string, bool) {
	if table, ok := r.aliases[strings.ToLower(q)]; ok {
		return table, true
	}
	for _, t := range r.Tables {
		if strings.EqualFold(t.Name, q) {
			return t.Name, true
		}
	}
	return "", false
}

type token struct {
	text  string
	punct byte // '(', ')' or ',' for punctuation tokens, 0 for identifiers
}

func (t token) isIdent() bool { return t.punct == 0 }

// sqlKeywords are tokens that can never be table or column references.
var sqlKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "BY": true,
	"ORDER": true, "HAVING": true, "LIMIT": true, "OFFSET": true,
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"OUTER": true, "CROSS": true, "ON": true, "USING": true, "NATURAL": true,
	"AND": true, "OR": true, "NOT": true, "AS": true, "IN": true, "IS": true,
	"NULL": true, "LIKE": true, "ILIKE": true, "BETWEEN": true, "ESCAPE": true,
	"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"DISTINCT": true, "UNION": true, "INTERSECT": true, "EXCEPT": true,
	"ALL": true, "ANY": true, "SOME": true, "EXISTS": true, "LATERAL": true,
	"INTERVAL": true, "ASC": true, "DESC": true, "NULLS": true, "FIRST": true,
	"LAST": true, "WITH": true, "RECURSIVE": true, "OVER": true,
	"PARTITION": true, "FILTER": true, "TRUE": true, "FALSE": true,
	"EPOCH": true, "YEAR": true, "QUARTER": true, "MONTH": true, "WEEK": true,
	"DAY": true, "HOUR": true, "MINUTE": true, "SECOND": true, "DOW": true,
	"DOY": true, "CURRENT_DATE": true, "CURRENT_TIMESTAMP": true,
	"FETCH": true, "NEXT": true, "ROWS": true, "ONLY": true, "TOP": true,
	"VALUES": true,
}

// dateParts appear before FROM inside EXTRACT(...), where FROM does not
// start a table list.
var dateParts = map[string]bool{
	"EPOCH": true, "YEAR": true, "QUARTER": true, "MONTH": true, "WEEK": true,
	"DAY": true, "HOUR": true, "MINUTE": true, "SECOND": true, "DOW": true, "DOY": true,
}

// ExtractRefs lexes the statement and collects referenced tables, qualified
// column references, bare identifiers, CTE names, and output aliases.
func ExtractRefs(sqlQuery string) Refs {
	tokens := tokenize(MaskLiterals(sqlQuery))

	refs := Refs{aliases: make(map[string]string)}

	// CTE definitions have the unique shape: name AS (
	for i := 0; i+2 < len(tokens); i++ {
		if tokens[i].isIdent() && !sqlKeywords[strings.ToUpper(tokens[i].text)] &&
			tokens[i+1].isIdent() && strings.EqualFold(tokens[i+1].text, "AS") &&
			tokens[i+2].punct == '(' {
			refs.CTEs = append(refs.CTEs, tokens[i].text)
		}
	}

	i := 0
	for i < len(tokens) {
		t := tokens[i]
		if !t.isIdent() {
			i++
			continue
		}

		upper := strings.ToUpper(t.text)

		if upper == "FROM" || upper == "JOIN" {
			// EXTRACT(EPOCH FROM ...) is an expression, not a table list.
			if upper == "FROM" && i > 0 && tokens[i-1].isIdent() && dateParts[strings.ToUpper(tokens[i-1].text)] {
				i++
				continue
			}
			i = parseTableList(tokens, i+1, upper == "FROM", &refs)
			continue
		}

		if upper == "AS" {
			// expr AS name defines an output alias; name AS ( was already
			// collected as a CTE above.
			if i+1 < len(tokens) && tokens[i+1].isIdent() && !sqlKeywords[strings.ToUpper(tokens[i+1].text)] {
				refs.OutputAliases = append(refs.OutputAliases, tokens[i+1].text)
				i += 2
				continue
			}
			i++
			continue
		}

		if sqlKeywords[upper] {
			i++
			continue
		}

		// Identifier after a cast operator is a type name (total::numeric).
		if i > 0 && tokens[i-1].punct == ':' {
			i++
			continue
		}

		// An identifier directly after a closing paren names the derived
		// table or expression just closed, as in (SELECT ...) sub.
		if i > 0 && tokens[i-1].punct == ')' && (i+1 >= len(tokens) || tokens[i+1].punct != '(') {
			refs.OutputAliases = append(refs.OutputAliases, t.text)
			i++
			continue
		}

		// Identifier followed by ( is a function call.
		if i+1 < len(tokens) && tokens[i+1].punct == '(' {
			i++
			continue
		}

		// Qualified star: s.* references every column of s.
		if i+2 < len(tokens) && tokens[i+1].punct == '.' && tokens[i+2].punct == '*' {
			refs.Columns = append(refs.Columns, ColumnRef{Qualifier: t.text, Name: "*"})
			i += 3
			continue
		}

		if idx := strings.LastIndexByte(t.text, '.'); idx >= 0 {
			refs.Columns = append(refs.Columns, ColumnRef{
				Qualifier: t.text[:idx],
				Name:      t.text[idx+1:],
			})
		} else {
			refs.Bare = append(refs.Bare, t.text)
		}
		i++
	}

	return refs
}

// parseTableList consumes `table [AS] [alias] (, table [AS] [alias])*`
// starting at index start and returns the index to resume the outer walk.
// A '(' in table position begins a subquery, which the outer walk scans on
// its own; comma continuation applies to FROM lists only.
func parseTableList(tokens []token, start int, commaList bool, refs *Refs) int {
	i := start
	for i < len(tokens) {
		if tokens[i].punct == '(' {
			return i
		}
		if !tokens[i].isIdent() || sqlKeywords[strings.ToUpper(tokens[i].text)] {
			return i
		}

		ref := parseTableToken(tokens[i].text)
		i++

		if i < len(tokens) && tokens[i].isIdent() && strings.EqualFold(tokens[i].text, "AS") {
			i++
		}
		if i < len(tokens) && tokens[i].isIdent() && !sqlKeywords[strings.ToUpper(tokens[i].text)] {
			ref.Alias = tokens[i].text
			i++
		}

		refs.Tables = append(refs.Tables, ref)
		if ref.Alias != "" {
			refs.aliases[strings.ToLower(ref.Alias)] = ref.Name
		}

		if commaList && i < len(tokens) && tokens[i].punct == ',' {
			i++
			continue
		}
		return i
	}
	return i
}

func parseTableToken(text string) TableRef {
	if idx := strings.LastIndexByte(text, '.'); idx >= 0 {
		return TableRef{Schema: text[:idx], Name: text[idx+1:]}
	}
	return TableRef{Name: text}
}

// tokenize splits masked SQL into identifier and punctuation tokens.
// Double-quoted identifiers become plain identifier tokens; single-quoted
// literal spans (already masked to spaces) are skipped entirely.
func tokenize(masked string) []token {
	var tokens []token
	i := 0
	n := len(masked)

	for i < n {
		c := masked[i]
		switch {
		case c == '\'':
			// Masked literal: spaces up to the closing quote.
			j := i + 1
			for j < n && masked[j] != '\'' {
				j++
			}
			i = j + 1

		case c == '"':
			j := i + 1
			for j < n && masked[j] != '"' {
				j++
			}
			if j > i+1 {
				tokens = append(tokens, token{text: masked[i+1 : j]})
			}
			i = j + 1

		case isIdentStart(c):
			start := i
			i++
			for i < n && (isIdentPart(masked[i]) || (masked[i] == '.' && i+1 < n && isIdentStart(masked[i+1]))) {
				i++
			}
			tokens = append(tokens, token{text: masked[start:i]})

		case c >= '0' && c <= '9':
			j := i + 1
			for j < n && ((masked[j] >= '0' && masked[j] <= '9') || masked[j] == '.') {
				j++
			}
			tokens = append(tokens, token{punct: '0'})
			i = j

		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		default:
			// Operators and remaining punctuation become single tokens so
			// adjacency checks see them.
			tokens = append(tokens, token{punct: c})
			i++
		}
	}

	return tokens
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '$'
}

// MaskLiterals blanks the contents of single-quoted string literals while
// preserving their length and delimiting quotes, so downstream lexing can
// never mistake literal text for SQL structure. Only a doubled single
// quote is treated as escaped content; a backslash is a plain character
// on both supported engines, so a quote after one still terminates the
// literal, exactly as the engine would read it.
func MaskLiterals(sqlQuery string) string {
	out := []byte(sqlQuery)
	inString := false

	for i := 0; i < len(out); i++ {
		c := out[i]
		if !inString {
			if c == '\'' {
				inString = true
			}
			continue
		}

		if c == '\'' {
			// Doubled quote is escaped content, not a terminator.
			if i+1 < len(out) && out[i+1] == '\'' {
				out[i] = ' '
				out[i+1] = ' '
				i++
				continue
			}
			inString = false
			continue
		}
		out[i] = ' '
	}

	return string(out)
}
