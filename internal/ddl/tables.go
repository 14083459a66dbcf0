package ddl

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Table is a parsed CREATE TABLE statement.
type Table struct {
	Name      string
	Columns   []ColumnDef
	Statement string
}

// ColumnDef is a column within a CREATE TABLE statement.
type ColumnDef struct {
	Name       string
	Definition string
}

var createTableRe = regexp.MustCompile(
	"(?is)^\\s*CREATE\\s+(?:TEMP(?:ORARY)?\\s+)?TABLE\\s+(?:IF\\s+NOT\\s+EXISTS\\s+)?([`\"\\w.]+)\\s*\\(",
)

var tableConstraintRe = regexp.MustCompile(
	`(?i)^(PRIMARY\s+KEY|FOREIGN\s+KEY|CHECK|UNIQUE|CONSTRAINT|KEY|INDEX|EXCLUDE)\b`,
)

// ParseTables reads every CREATE TABLE statement from a script, in order.
func ParseTables(script string) []Table {
	var tables []Table
	for _, stmt := range Split(script) {
		if table, ok := ParseCreateTable(stmt); ok {
			tables = append(tables, table)
		}
	}
	return tables
}

// ParseCreateTable parses a single statement. ok is false when the
// statement is not a CREATE TABLE.
func ParseCreateTable(stmt string) (Table, bool) {
	stmt = stripLeadingComments(stmt)

	loc := createTableRe.FindStringSubmatchIndex(stmt)
	if loc == nil {
		return Table{}, false
	}

	name := Unquote(stmt[loc[2]:loc[3]])
	if dot := strings.LastIndex(name, "."); dot >= 0 {
		name = name[dot+1:]
	}

	open := loc[1] - 1
	closing := matchingParen(stmt, open)
	if closing < 0 {
		return Table{}, false
	}

	return Table{
		Name:      name,
		Columns:   parseColumns(stmt[open+1 : closing]),
		Statement: stmt,
	}, true
}

// CreatedTables lists the tables a set of statements creates.
func CreatedTables(statements []string) []string {
	var names []string
	for _, stmt := range statements {
		if table, ok := ParseCreateTable(stmt); ok {
			names = append(names, table.Name)
		}
	}
	return names
}

// Unquote strips identifier quoting (`x`, "x", [x]).
func Unquote(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) >= 2 {
			first, last := p[0], p[len(p)-1]
			if first == '`' && last == '`' || first == '"' && last == '"' || first == '[' && last == ']' {
				p = p[1 : len(p)-1]
			}
		}
		parts[i] = p
	}
	return strings.Join(parts, ".")
}

func stripLeadingComments(stmt string) string {
	for {
		stmt = strings.TrimSpace(stmt)
		switch {
		case strings.HasPrefix(stmt, "--"):
			nl := strings.IndexByte(stmt, '\n')
			if nl < 0 {
				return ""
			}
			stmt = stmt[nl+1:]
		case strings.HasPrefix(stmt, "/*"):
			end := strings.Index(stmt, "*/")
			if end < 0 {
				return ""
			}
			stmt = stmt[end+2:]
		default:
			return stmt
		}
	}
}

func matchingParen(s string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTopLevel splits on commas that are not nested in parentheses or quotes.
func splitTopLevel(body string) []string {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(body); i++ {
		c := body[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, body[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, body[start:])
}

func parseColumns(body string) []ColumnDef {
	var cols []ColumnDef
	for _, part := range splitTopLevel(body) {
		part = strings.TrimSpace(stripLeadingComments(part))
		if part == "" {
			continue
		}

		if tableConstraintRe.MatchString(part) {
			continue
		}

		fields := strings.Fields(part)
		if len(fields) < 2 {
			continue
		}
		cols = append(cols, ColumnDef{
			Name:       Unquote(fields[0]),
			Definition: strings.Join(fields[1:], " "),
		})
	}
	return cols
}

var (
	notNullRe       = regexp.MustCompile(`(?i)\bNOT\s+NULL\b`)
	defaultRe       = regexp.MustCompile(`(?i)\bDEFAULT\b`)
	columnKeyRe     = regexp.MustCompile(`(?i)\b(PRIMARY\s+KEY|UNIQUE|AUTOINCREMENT|AUTO_INCREMENT)\b`)
	multipleSpaceRe = regexp.MustCompile(`\s{2,}`)
)

// RelaxDefinition turns a column definition into one that can be added to a
// table that already holds rows: key constraints go away, and NOT NULL is
// dropped unless a DEFAULT backs it.
func RelaxDefinition(def string) string {
	def = columnKeyRe.ReplaceAllString(def, "")
	if !defaultRe.MatchString(def) {
		def = notNullRe.ReplaceAllString(def, "")
	}
	return strings.TrimSpace(multipleSpaceRe.ReplaceAllString(def, " "))
}

// QuoteFunc quotes an identifier for a particular engine.
type QuoteFunc func(ident string) string

// AdditiveDiff lists the statements that bring existing up to target without
// dropping or altering anything already there: missing tables are created
// from their original statement, missing columns are added with a relaxed
// definition. existing maps table name to its column names.
func AdditiveDiff(target []Table, existing map[string][]string, quote QuoteFunc) []string {
	var statements []string

	for _, table := range target {
		columns, ok := existing[table.Name]
		if !ok {
			statements = append(statements, table.Statement)
			continue
		}

		have := make(map[string]struct{}, len(columns))
		for _, c := range columns {
			have[strings.ToLower(c)] = struct{}{}
		}

		var missing []ColumnDef
		for _, col := range table.Columns {
			if _, ok := have[strings.ToLower(col.Name)]; !ok {
				missing = append(missing, col)
			}
		}
		sort.SliceStable(missing, func(i, j int) bool { return missing[i].Name < missing[j].Name })

		for _, col := range missing {
			statements = append(statements, fmt.Sprintf(
				"ALTER TABLE %s ADD COLUMN %s %s",
				quote(table.Name), quote(col.Name), RelaxDefinition(col.Definition),
			))
		}
	}

	return statements
}
