package rules

import (
	"fmt"
	"strings"
)

// Dialect selects the surface syntax of conditions
type Dialect string

const (
	// DialectCEL takes conditions as CEL expressions
	DialectCEL Dialect = "cel"

	// DialectSQL accepts SQL-style boolean syntax (AND/OR/NOT, =, <>) and
	// rewrites it to CEL before compilation. A quote inside a string literal
	// may be doubled ('it''s') or backslash escaped.
	DialectSQL Dialect = "sql"
)

// ParseDialect maps a configuration value to a Dialect. Empty means CEL.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cel":
		return DialectCEL, nil
	case "sql":
		return DialectSQL, nil
	default:
		return "", fmt.Errorf("unknown condition dialect %q (must be one of: cel, sql)", s)
	}
}

// Translate rewrites a condition written in d into CEL
func (d Dialect) Translate(condition string) string {
	if d != DialectSQL {
		return condition
	}
	return translateSQL(condition)
}

func translateSQL(src string) string {
	var b strings.Builder
	b.Grow(len(src) + 8)

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\'' || c == '"':
			end := scanString(src, i)
			writeSQLString(&b, src[i:end])
			i = end

		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			b.WriteString(translateWord(src[i:j]))
			i = j

		case c == '<':
			switch next(src, i) {
			case '>':
				b.WriteString("!=")
				i += 2
			case '=':
				b.WriteString("<=")
				i += 2
			default:
				b.WriteByte('<')
				i++
			}

		case c == '>' || c == '!':
			if next(src, i) == '=' {
				b.WriteByte(c)
				b.WriteByte('=')
				i += 2
			} else {
				b.WriteByte(c)
				i++
			}

		case c == '=':
			b.WriteString("==")
			if next(src, i) == '=' {
				i += 2
			} else {
				i++
			}

		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

func translateWord(w string) string {
	switch strings.ToUpper(w) {
	case "AND":
		return "&&"
	case "OR":
		return "||"
	case "NOT":
		return "!"
	case "TRUE", "FALSE", "NULL":
		return strings.ToLower(w)
	}
	return w
}

// scanString returns the index just past the string literal starting at i.
// A doubled quote inside the literal does not terminate it.
func scanString(src string, i int) int {
	quote := src[i]
	j := i + 1
	for j < len(src) {
		switch src[j] {
		case '\\':
			j += 2
			continue
		case quote:
			if next(src, j) == quote {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return len(src)
}

// writeSQLString copies a quoted literal, rewriting doubled quotes as
// backslash escapes
func writeSQLString(b *strings.Builder, lit string) {
	quote := lit[0]
	b.WriteByte(quote)
	for j := 1; j < len(lit); j++ {
		c := lit[j]
		switch {
		case c == '\\' && j+1 < len(lit):
			b.WriteByte(c)
			b.WriteByte(lit[j+1])
			j++
		case c == quote && j+1 < len(lit) && lit[j+1] == quote:
			b.WriteByte('\\')
			b.WriteByte(quote)
			j++
		default:
			b.WriteByte(c)
		}
	}
}

func next(src string, i int) byte {
	if i+1 < len(src) {
		return src[i+1]
	}
	return 0
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
