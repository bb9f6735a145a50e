package domain

import "strings"

// Scope is the granularity at which Data Encryption Keys are partitioned:
// the whole database, or a single logical table within it. Scope is the
// persistence key for wrapped DEKs in both the in-memory cache and the
// sidecar file.
type Scope struct {
	kind  scopeKind
	table string
}

type scopeKind uint8

const (
	scopeDatabase scopeKind = iota
	scopeTable
)

// DatabaseScope is the scope covering the whole database.
var DatabaseScope = Scope{kind: scopeDatabase}

// TableScope returns the scope for a single named table.
func TableScope(name string) Scope {
	return Scope{kind: scopeTable, table: name}
}

// String renders the scope in its canonical persistence form: "db" for the
// whole-database scope, "tbl:<name>" for a table scope.
func (s Scope) String() string {
	if s.kind == scopeTable {
		return "tbl:" + s.table
	}
	return "db"
}

// IsTable reports whether this scope names a specific table.
func (s Scope) IsTable() bool {
	return s.kind == scopeTable
}

// TableName returns the table name for a table scope, or "" for the
// database scope.
func (s Scope) TableName() string {
	return s.table
}

// ParseScope parses the canonical string form produced by String.
func ParseScope(s string) (Scope, bool) {
	if s == "db" {
		return DatabaseScope, true
	}
	if name, ok := strings.CutPrefix(s, "tbl:"); ok && name != "" {
		return TableScope(name), true
	}
	return Scope{}, false
}
