package model

import (
	"fmt"
	"sort"
)

// RowState is the edit state of a Row.
type RowState int

const (
	// RowNormal rows were fetched, and are not marked for removal.
	RowNormal RowState = iota
	// RowAdded rows were added by the client and not yet inserted.
	RowAdded
	// RowRemoved rows were fetched, and are marked for removal.
	RowRemoved
)

func (s RowState) String() string {
	switch s {
	case RowNormal:
		return "NORMAL"
	case RowAdded:
		return "ADDED"
	case RowRemoved:
		return "REMOVED"
	default:
		return fmt.Sprintf("RowState(%d)", int(s))
	}
}

// Row is one fetched or added record.
type Row struct {
	// Index of the Row within the Model.
	Index int
	// Visual display order of the Row.
	Visual int
	State  RowState
	// Values of the Row, indexed by AttributeBinding.Position.
	Values []interface{}

	// Original values of edited cells, keyed on attribute position.
	changes map[int]cellChange
	// Sequence at which the Row was added or marked for removal.
	stateSeq uint64
}

type cellChange struct {
	original interface{}
	seq      uint64
}

// IsChanged returns true if any cell of the Row has been edited.
func (r *Row) IsChanged() bool { return len(r.changes) != 0 }

// IsCellChanged returns true if the cell at attribute |pos| has been edited.
func (r *Row) IsCellChanged(pos int) bool {
	var _, ok = r.changes[pos]
	return ok
}

// Original returns the last-fetched value of the cell at attribute |pos|.
func (r *Row) Original(pos int) interface{} {
	if c, ok := r.changes[pos]; ok {
		return c.original
	}
	return r.Values[pos]
}

// ChangedPositions returns positions of edited cells, in edit order.
func (r *Row) ChangedPositions() []int {
	var out = make([]int, 0, len(r.changes))
	for pos := range r.changes {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return r.changes[out[i]].seq < r.changes[out[j]].seq })
	return out
}

func (r *Row) clearChange(pos int) { delete(r.changes, pos) }

// CellRef addresses an edited cell of the Model.
type CellRef struct {
	Row       int
	Attribute *AttributeBinding
	seq       uint64
}
