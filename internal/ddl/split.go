// Package ddl holds the small amount of SQL text handling schemagate needs:
// splitting scripts into statements, reading CREATE TABLE definitions and
// building additive reconciliation statements.
package ddl

import (
	"strings"
	"unicode"
)

// Escapes selects how a backslash inside a quoted string is read.
type Escapes int

const (
	// StandardEscapes reads a backslash as an ordinary character, except in
	// Postgres E'...' strings.
	StandardEscapes Escapes = iota
	// BackslashEscapes reads a backslash as escaping the next character in
	// every quoted string, as MySQL does.
	BackslashEscapes
)

// EscapesFor returns the escape rules of the named driver.
func EscapesFor(driverName string) Escapes {
	if driverName == "mysql" {
		return BackslashEscapes
	}
	return StandardEscapes
}

// Split breaks a SQL script into statements on top-level semicolons using
// standard SQL string rules.
func Split(script string) []string {
	return SplitWith(script, StandardEscapes)
}

// SplitWith is Split with explicit escape rules. Quoted strings, quoted
// identifiers, comments and Postgres dollar-quoted bodies are kept intact.
// Statements made only of comments are dropped.
func SplitWith(script string, escapes Escapes) []string {
	var (
		result  []string
		current strings.Builder
		hasCode bool
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" && hasCode {
			result = append(result, stmt)
		}
		current.Reset()
		hasCode = false
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		switch {
		case c == '-' && i+1 < len(runes) && runes[i+1] == '-':
			end := indexFrom(runes, i, '\n')
			current.WriteString(string(runes[i:end]))
			i = end - 1

		case c == '/' && i+1 < len(runes) && runes[i+1] == '*':
			end := indexOfPair(runes, i+2, '*', '/')
			current.WriteString(string(runes[i:end]))
			i = end - 1

		case c == '\'' || c == '"' || c == '`':
			backslash := c != '`' && (escapes == BackslashEscapes || c == '\'' && escapeStringPrefix(runes, i))
			end := closingQuote(runes, i, backslash)
			current.WriteString(string(runes[i:end]))
			hasCode = true
			i = end - 1

		case c == '$':
			tag, ok := dollarTag(runes, i)
			if !ok {
				current.WriteRune(c)
				hasCode = true
				continue
			}
			end := indexOfTag(runes, i+len(tag), tag)
			current.WriteString(string(runes[i:end]))
			hasCode = true
			i = end - 1

		case c == ';':
			flush()

		default:
			current.WriteRune(c)
			if !isSpace(c) {
				hasCode = true
			}
		}
	}
	flush()

	return result
}

func isSpace(c rune) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// indexFrom returns the position of the first r at or after start, or len(runes).
func indexFrom(runes []rune, start int, r rune) int {
	for i := start; i < len(runes); i++ {
		if runes[i] == r {
			return i
		}
	}
	return len(runes)
}

// indexOfPair returns the position right after the first "ab" at or after start.
func indexOfPair(runes []rune, start int, a, b rune) int {
	for i := start; i+1 < len(runes); i++ {
		if runes[i] == a && runes[i+1] == b {
			return i + 2
		}
	}
	return len(runes)
}

// escapeStringPrefix reports whether the quote at start opens an E'...'
// string.
func escapeStringPrefix(runes []rune, start int) bool {
	if start < 1 || runes[start-1] != 'E' && runes[start-1] != 'e' {
		return false
	}
	if start < 2 {
		return true
	}
	prev := runes[start-2]
	return !(prev == '_' || unicode.IsLetter(prev) || unicode.IsDigit(prev))
}

// closingQuote returns the position right after the quote that closes the
// one at start. Doubled quotes do not close, and neither does an escaped
// quote when backslash is set.
func closingQuote(runes []rune, start int, backslash bool) int {
	quote := runes[start]
	for i := start + 1; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			if backslash {
				i++
			}
		case quote:
			if i+1 < len(runes) && runes[i+1] == quote {
				i++
				continue
			}
			return i + 1
		}
	}
	return len(runes)
}

// dollarTag recognizes $$ and $tag$ openers.
func dollarTag(runes []rune, start int) (string, bool) {
	for i := start + 1; i < len(runes); i++ {
		c := runes[i]
		if c == '$' {
			return string(runes[start : i+1]), true
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' && i > start+1) {
			return "", false
		}
	}
	return "", false
}

func indexOfTag(runes []rune, start int, tag string) int {
	tr := []rune(tag)
	for i := start; i+len(tr) <= len(runes); i++ {
		if string(runes[i:i+len(tr)]) == tag {
			return i + len(tr)
		}
	}
	return len(runes)
}
