package model

import (
	"fmt"
	"strings"
)

// AttributeBinding describes one column of a fetched result. Bindings are
// built when the first page of a fetch generation arrives, and are not
// modified afterwards: a change of result shape builds new bindings.
type AttributeBinding struct {
	// Name of the attribute, as known to its owning Entity.
	Name string
	// Label of the attribute within the result. Often equal to Name.
	Label string
	// Position of the attribute within the result, and the index of its
	// value within Row.Values.
	Position int
	// TypeName is the database type name reported by the driver.
	TypeName string
	Kind     DataKind
	Codec    Codec
	// Entity which owns the attribute. Nil if it could not be discovered,
	// or if metadata discovery is disabled.
	Entity *Entity
	// Pseudo is true of driver-exposed synthetic columns (eg, a row id).
	Pseudo bool
	// AutoGenerated is true of columns assigned by the server on insert.
	AutoGenerated bool
	Nullable      bool
	// Identifier addresses rows of the owning Entity. Nil if none could be
	// resolved, in which case the attribute cannot be edited.
	Identifier *RowIdentifier
	// Reference is a late-bound foreign key to which the attribute belongs.
	Reference *ForeignKey
	// Children are late-bound nested attributes of a document attribute.
	Children []*AttributeBinding
	// Parent of a nested attribute.
	Parent *AttributeBinding
}

// NewAttributeBinding returns an AttributeBinding of the given name, position,
// and database type name, having a Codec of the type's DataKind.
func NewAttributeBinding(name string, position int, typeName string) *AttributeBinding {
	var kind = KindForTypeName(typeName)
	return &AttributeBinding{
		Name:     name,
		Label:    name,
		Position: position,
		TypeName: typeName,
		Kind:     kind,
		Codec:    CodecFor(kind),
		Nullable: true,
	}
}

// Editable returns true if values of the attribute may be modified.
func (a *AttributeBinding) Editable() bool {
	return a.Entity != nil && a.Identifier != nil && !a.Pseudo && a.Parent == nil
}

// Matches returns true if the attribute is |column| of |entity|.
func (a *AttributeBinding) Matches(entity *Entity, column string) bool {
	return a.Entity == entity && strings.EqualFold(a.Name, column)
}

func (a *AttributeBinding) String() string {
	if a.Parent != nil {
		return a.Parent.String() + "." + a.Name
	}
	if a.Entity != nil {
		return a.Entity.String() + "." + a.Name
	}
	return a.Label
}

// IdentifierKind enumerates the sources of a RowIdentifier.
type IdentifierKind int

const (
	IdentifierPseudo IdentifierKind = iota
	IdentifierUniqueIndex
	IdentifierUniqueKey
	IdentifierPrimaryKey
	IdentifierVirtual
)

func (k IdentifierKind) String() string {
	switch k {
	case IdentifierPseudo:
		return "PSEUDO"
	case IdentifierUniqueIndex:
		return "UNIQUE_INDEX"
	case IdentifierUniqueKey:
		return "UNIQUE_KEY"
	case IdentifierPrimaryKey:
		return "PRIMARY_KEY"
	case IdentifierVirtual:
		return "VIRTUAL"
	default:
		return fmt.Sprintf("IdentifierKind(%d)", int(k))
	}
}

// RowIdentifier is the set of key attributes sufficient to address one row
// of its Entity.
type RowIdentifier struct {
	Entity *Entity
	Kind   IdentifierKind
	// Name of the index or constraint, or of the pseudo attribute.
	Name string
	// Attributes are the fetched key attributes, in key order.
	Attributes []*AttributeBinding
	// Missing are key columns which are not among the fetched attributes.
	Missing []string
	// AllColumns is true if a virtual identifier was bound to every fetched
	// attribute of the Entity, in lieu of declared key columns.
	AllColumns bool
}

// Incomplete returns true if the RowIdentifier cannot address rows, because
// it has no key attributes or some key columns were not fetched.
func (r *RowIdentifier) Incomplete() bool {
	return len(r.Attributes) == 0 || len(r.Missing) != 0
}

// Columns returns the names of key attributes.
func (r *RowIdentifier) Columns() []string {
	var out = make([]string, 0, len(r.Attributes)+len(r.Missing))
	for _, a := range r.Attributes {
		out = append(out, a.Name)
	}
	return append(out, r.Missing...)
}

func (r *RowIdentifier) String() string {
	return fmt.Sprintf("%s %s(%s)", r.Kind, r.Entity, strings.Join(r.Columns(), ", "))
}
