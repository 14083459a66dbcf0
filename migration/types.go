package migration

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Direction rune

const (
	Down  Direction = 'd'
	Up    Direction = 'u'
	Stamp Direction = 's'
)

// ---

const VersionBits = 64

type Version uint64

func (v Version) String() string {
	return strconv.FormatUint(uint64(v), 10)
}

// ParseVersion reads a version stamp as stored in the version table.
func ParseVersion(s string) (Version, error) {
	v, err := strconv.ParseUint(s, 10, VersionBits)
	if err != nil {
		return 0, err
	}
	return Version(v), nil
}

type Migration struct {
	Version Version
	Name    string
}

// ---

// Revision is one unit of schema change. Statements are executed in order
// inside a single transaction, followed by Apply when it is set.
type Revision struct {
	Migration
	Statements []string
	Apply      func(ctx context.Context, tx *sql.Tx) error
}

// SortRevisions orders revisions by version, oldest first.
func SortRevisions(revs []Revision) {
	sort.SliceStable(revs, func(i, j int) bool {
		return revs[i].Version < revs[j].Version
	})
}

// ---

type Status uint

const (
	Pending Status = iota
	Applied
	Missing
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Applied:
		return "applied"
	case Missing:
		return "missing"
	}
	return "unknown"
}

// ---

type Log struct {
	Migration
	Direction
	AppliedAt time.Time
}

// ---

type Description struct {
	Migration
	CanUndo bool
}

type State struct {
	Description
	Status    Status
	AppliedAt time.Time
}

// ---

// Column is the column-level detail reported by a driver's catalog.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Snapshot is the result of a single schema inspection.
type Snapshot struct {
	tables              map[string]struct{}
	hasVersionTable     bool
	versionTableColumns map[string]struct{}
}

func NewSnapshot(tables []string, hasVersionTable bool, versionTableColumns []string) Snapshot {
	return Snapshot{
		tables:              toSet(tables),
		hasVersionTable:     hasVersionTable,
		versionTableColumns: toSet(versionTableColumns),
	}
}

// Tables returns the table names in sorted order.
func (s Snapshot) Tables() []string {
	return fromSet(s.tables)
}

// HasTable matches name the way unquoted identifiers are matched, ignoring
// case.
func (s Snapshot) HasTable(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Lookup returns the catalog spelling of name. An exact match wins over a
// case-insensitive one.
func (s Snapshot) Lookup(name string) (string, bool) {
	if _, ok := s.tables[name]; ok {
		return name, true
	}
	for _, table := range s.Tables() {
		if strings.EqualFold(table, name) {
			return table, true
		}
	}
	return "", false
}

func (s Snapshot) Empty() bool {
	return len(s.tables) == 0
}

func (s Snapshot) HasVersionTable() bool {
	return s.hasVersionTable
}

// VersionTableColumns is diagnostic only.
func (s Snapshot) VersionTableColumns() []string {
	return fromSet(s.versionTableColumns)
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func fromSet(set map[string]struct{}) []string {
	result := make([]string, 0, len(set))
	for item := range set {
		result = append(result, item)
	}
	sort.Strings(result)
	return result
}
