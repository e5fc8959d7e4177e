package model

import (
	"fmt"
	"strings"
)

// EntityName names a table or view of the remote data source.
type EntityName struct {
	Schema string
	Name   string
}

// String returns the qualified "schema.name" form, or just "name" if
// Schema is empty.
func (n EntityName) String() string {
	if n.Schema == "" {
		return n.Name
	}
	return n.Schema + "." + n.Name
}

// IsZero returns true if the EntityName is empty.
func (n EntityName) IsZero() bool { return n.Name == "" }

// ParseEntityName parses a "schema.name" or "name" string.
func ParseEntityName(s string) EntityName {
	if ind := strings.LastIndexByte(s, '.'); ind != -1 {
		return EntityName{Schema: s[:ind], Name: s[ind+1:]}
	}
	return EntityName{Name: s}
}

// Entity is the owner of one or more attributes of a fetched result.
// Entities are created once per fetch generation.
type Entity struct {
	Name EntityName
	// View is true if the entity is a view, which is never addressed
	// through a physical index or constraint.
	View bool
}

func (e *Entity) String() string {
	if e == nil {
		return "<none>"
	}
	return e.Name.String()
}

// ConstraintType enumerates physical unique row identifiers.
type ConstraintType int

const (
	UniqueIndex ConstraintType = iota
	UniqueKey
	PrimaryKey
)

func (t ConstraintType) String() string {
	switch t {
	case UniqueIndex:
		return "UNIQUE INDEX"
	case UniqueKey:
		return "UNIQUE KEY"
	case PrimaryKey:
		return "PRIMARY KEY"
	default:
		return fmt.Sprintf("ConstraintType(%d)", int(t))
	}
}

// Constraint is a unique index or a unique / primary key constraint of an entity.
type Constraint struct {
	Name    string
	Type    ConstraintType
	Columns []string
}

// ForeignKey is a reference from columns of an entity to another entity.
type ForeignKey struct {
	Name       string
	Columns    []string
	RefEntity  EntityName
	RefColumns []string
}

// EntityMeta is the discovered physical description of an entity.
type EntityMeta struct {
	Name EntityName
	View bool

	// Indexes are unique indexes which do not back a Constraint.
	Indexes []Constraint
	// Constraints are unique and primary key constraints.
	Constraints []Constraint
	ForeignKeys []ForeignKey
	// Generated columns have values assigned by the server on insert.
	Generated []string
	// NotNull columns may not hold NULL.
	NotNull []string
}

// IsGenerated returns true if |column| is a generated column of the entity.
func (m *EntityMeta) IsGenerated(column string) bool {
	for _, c := range m.Generated {
		if strings.EqualFold(c, column) {
			return true
		}
	}
	return false
}

// IsNotNull returns true if |column| is declared NOT NULL.
func (m *EntityMeta) IsNotNull(column string) bool {
	for _, c := range m.NotNull {
		if strings.EqualFold(c, column) {
			return true
		}
	}
	return false
}
