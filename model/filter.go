package model

import (
	"sort"
	"strings"
)

// AttributeConstraint is the filter and ordering state of one attribute.
// Attributes are identified by their name and position, which together must
// be unchanged for a constraint to carry across a metadata rebind.
type AttributeConstraint struct {
	Attribute string
	Position  int
	Visible   bool
	// Criteria is free-form condition text applied to the attribute, eg
	// "> 10" or "LIKE 'a%'" or "IS NULL".
	Criteria string
	// OrderPosition is the 1-based position of the attribute within the
	// ordering, or zero if the attribute is not ordered.
	OrderPosition   int
	OrderDescending bool
}

func (c *AttributeConstraint) matches(name string, position int) bool {
	return c.Position == position && strings.EqualFold(c.Attribute, name)
}

func (c *AttributeConstraint) equal(o *AttributeConstraint, ignoreVisibility bool) bool {
	return c.matches(o.Attribute, o.Position) &&
		(ignoreVisibility || c.Visible == o.Visible) &&
		c.Criteria == o.Criteria &&
		c.OrderPosition == o.OrderPosition &&
		c.OrderDescending == o.OrderDescending
}

// DataFilter is the ordered set of attribute constraints of a result, plus
// free-form WHERE and ORDER BY text.
type DataFilter struct {
	Constraints []*AttributeConstraint
	Where       string
	Order       string
}

// Constraint returns the AttributeConstraint of the named attribute
// position, or nil.
func (f *DataFilter) Constraint(name string, position int) *AttributeConstraint {
	if f == nil {
		return nil
	}
	for _, c := range f.Constraints {
		if c.matches(name, position) {
			return c
		}
	}
	return nil
}

// HasFilters returns true if the DataFilter restricts returned rows.
func (f *DataFilter) HasFilters() bool {
	if strings.TrimSpace(f.Where) != "" {
		return true
	}
	for _, c := range f.Constraints {
		if strings.TrimSpace(c.Criteria) != "" {
			return true
		}
	}
	return false
}

// HasOrdering returns true if the DataFilter orders returned rows.
func (f *DataFilter) HasOrdering() bool {
	return strings.TrimSpace(f.Order) != "" || len(f.OrderConstraints()) != 0
}

// OrderConstraints returns constraints having an OrderPosition, in order.
func (f *DataFilter) OrderConstraints() []*AttributeConstraint {
	var out []*AttributeConstraint
	for _, c := range f.Constraints {
		if c.OrderPosition > 0 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderPosition < out[j].OrderPosition })
	return out
}

// VisibleConstraints returns constraints of visible attributes.
func (f *DataFilter) VisibleConstraints() []*AttributeConstraint {
	var out []*AttributeConstraint
	for _, c := range f.Constraints {
		if c.Visible {
			out = append(out, c)
		}
	}
	return out
}

// Equal returns true if DataFilters |f| and |o| are filter-equal. If
// |ignoreVisibility|, constraints differing only in visibility are equal.
func (f *DataFilter) Equal(o *DataFilter, ignoreVisibility bool) bool {
	if f == nil || o == nil {
		return f == o
	}
	if f.Where != o.Where || f.Order != o.Order || len(f.Constraints) != len(o.Constraints) {
		return false
	}
	for i := range f.Constraints {
		if !f.Constraints[i].equal(o.Constraints[i], ignoreVisibility) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the DataFilter.
func (f *DataFilter) Clone() *DataFilter {
	var out = &DataFilter{Where: f.Where, Order: f.Order}
	for _, c := range f.Constraints {
		var cc = *c
		out.Constraints = append(out.Constraints, &cc)
	}
	return out
}

// ResetOrdering removes all attribute ordering and free-form order text.
func (f *DataFilter) ResetOrdering() {
	f.Order = ""
	for _, c := range f.Constraints {
		c.OrderPosition, c.OrderDescending = 0, false
	}
}

// SetOrder orders by the named attribute position, after any existing
// attribute ordering. If the attribute is already ordered only its
// direction is changed.
func (f *DataFilter) SetOrder(name string, position int, descending bool) bool {
	var c = f.Constraint(name, position)
	if c == nil {
		return false
	}
	if c.OrderPosition == 0 {
		c.OrderPosition = len(f.OrderConstraints()) + 1
	}
	c.OrderDescending = descending
	return true
}

// newFilterFor builds a DataFilter having a constraint for each attribute,
// carrying over the state of matched constraints of |prior|.
func newFilterFor(attrs []*AttributeBinding, prior *DataFilter) *DataFilter {
	var out = new(DataFilter)

	for _, a := range attrs {
		var c = &AttributeConstraint{
			Attribute: a.Name,
			Position:  a.Position,
			Visible:   true,
		}
		if prior != nil {
			if p := prior.Constraint(a.Name, a.Position); p != nil {
				c.Visible, c.Criteria = p.Visible, p.Criteria
				c.OrderPosition, c.OrderDescending = p.OrderPosition, p.OrderDescending
			}
		}
		out.Constraints = append(out.Constraints, c)
	}
	if prior != nil {
		out.Where, out.Order = prior.Where, prior.Order
	}
	return out
}
