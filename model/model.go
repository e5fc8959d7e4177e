// Package model is the in-memory cache of a paginated remote query result.
// A Model holds the fetched rows of the current fetch generation, its
// DataFilter, and the pending changes made by the client: edited cells, and
// added and removed rows.
//
// Model is not safe for concurrent use. All mutations are synchronous, and
// callers are responsible for ensuring a single writer.
package model

import (
	"sort"

	"github.com/pkg/errors"
)

// EventKind enumerates Model change notifications.
type EventKind int

const (
	// MetadataChanged is published when a new fetch generation is installed.
	MetadataChanged EventKind = iota
	// RowsChanged is published when rows are replaced, appended, added or removed.
	RowsChanged
	// CellChanged is published when a cell value is updated.
	CellChanged
)

// Event is a Model change notification. Row and Attribute are set only for
// CellChanged events.
type Event struct {
	Kind      EventKind
	Row       int
	Attribute *AttributeBinding
}

// Model is the result cache of one result set.
type Model struct {
	attrs       []*AttributeBinding
	identifiers []*RowIdentifier
	rows        []*Row
	filter      *DataFilter
	history     FilterHistory
	historyKey  string
	subscribers []func(Event)

	// seq orders edits, additions and removals.
	seq uint64
}

// NewModel returns an empty Model. |history| may be nil.
func NewModel(history FilterHistory) *Model {
	return &Model{
		filter:  new(DataFilter),
		history: history,
	}
}

// Subscribe |fn| to Model change notifications.
func (m *Model) Subscribe(fn func(Event)) { m.subscribers = append(m.subscribers, fn) }

func (m *Model) publish(ev Event) {
	for _, fn := range m.subscribers {
		fn(ev)
	}
}

// SetHistoryKey sets the key under which applied filters are recorded
// into the Model's FilterHistory.
func (m *Model) SetHistoryKey(key string) { m.historyKey = key }

// SetMetaData installs a new fetch generation of |attrs|. Prior rows,
// pending changes and identifiers are discarded. Identifiers of the
// generation are collected from the attributes, which are expected to
// already be bound. Filter state of attributes having an unchanged name
// and position is preserved.
func (m *Model) SetMetaData(attrs []*AttributeBinding) {
	m.attrs = attrs
	m.rows = nil
	m.identifiers = nil

	for _, a := range attrs {
		if a.Identifier == nil {
			continue
		}
		var found bool
		for _, id := range m.identifiers {
			found = found || id == a.Identifier
		}
		if !found {
			m.identifiers = append(m.identifiers, a.Identifier)
		}
	}
	m.filter = newFilterFor(attrs, m.filter)
	m.publish(Event{Kind: MetadataChanged})
}

// Attributes returns the attributes of the current generation.
func (m *Model) Attributes() []*AttributeBinding { return m.attrs }

// Attribute returns the attribute of the given label, or nil.
func (m *Model) Attribute(label string) *AttributeBinding {
	for _, a := range m.attrs {
		if a.Label == label {
			return a
		}
	}
	for _, a := range m.attrs {
		if a.Name == label {
			return a
		}
	}
	return nil
}

// Identifiers returns the distinct identifiers of the current generation.
func (m *Model) Identifiers() []*RowIdentifier { return m.identifiers }

// Identifier returns the RowIdentifier of |entity|, or nil.
func (m *Model) Identifier(entity *Entity) *RowIdentifier {
	for _, id := range m.identifiers {
		if id.Entity == entity {
			return id
		}
	}
	return nil
}

// DefaultIdentifier returns the identifier of the entity owning the first
// identified attribute. It addresses rows which are added or removed as a
// whole. Nil if the result has no identified entity.
func (m *Model) DefaultIdentifier() *RowIdentifier {
	for _, a := range m.attrs {
		if a.Identifier != nil {
			return a.Identifier
		}
	}
	return nil
}

// SetData replaces all rows with new NORMAL rows of |data|.
func (m *Model) SetData(data [][]interface{}) {
	m.rows = make([]*Row, 0, len(data))
	m.appendRows(data)
	m.publish(Event{Kind: RowsChanged})
}

// AppendData extends rows with new NORMAL rows of |data|. Existing rows are
// not modified.
func (m *Model) AppendData(data [][]interface{}) {
	m.appendRows(data)
	m.publish(Event{Kind: RowsChanged})
}

func (m *Model) appendRows(data [][]interface{}) {
	for _, values := range data {
		var ind = len(m.rows)
		m.rows = append(m.rows, &Row{
			Index:  ind,
			Visual: ind,
			State:  RowNormal,
			Values: values,
		})
	}
}

// RowCount returns the number of rows.
func (m *Model) RowCount() int { return len(m.rows) }

// Row returns the Row at |index|, or nil.
func (m *Model) Row(index int) *Row {
	if index < 0 || index >= len(m.rows) {
		return nil
	}
	return m.rows[index]
}

// Rows returns all rows, ordered on Index.
func (m *Model) Rows() []*Row { return m.rows }

// VisualRows returns all rows, ordered on Visual.
func (m *Model) VisualRows() []*Row {
	var out = append([]*Row(nil), m.rows...)
	sort.Slice(out, func(i, j int) bool { return out[i].Visual < out[j].Visual })
	return out
}

// SortRows re-sorts the visual order of rows on values of |attr|. NULLs
// order first. Row indices are not changed. ErrInvalidAttribute is returned
// if |attr| is not an attribute of the Model.
func (m *Model) SortRows(attr *AttributeBinding, descending bool) error {
	if !m.owns(attr) {
		return ErrInvalidAttribute
	}
	var out = append([]*Row(nil), m.rows...)

	sort.SliceStable(out, func(i, j int) bool {
		var c = compareCells(attr.Kind, out[i].Values[attr.Position], out[j].Values[attr.Position])
		if descending {
			return c > 0
		}
		return c < 0
	})
	for i, r := range out {
		r.Visual = i
	}
	m.publish(Event{Kind: RowsChanged})
	return nil
}

// GetCellValue returns the current value of the cell.
func (m *Model) GetCellValue(attr *AttributeBinding, row int) (interface{}, error) {
	var r, err = m.cell(attr, row)
	if err != nil {
		return nil, err
	}
	return r.Values[attr.Position], nil
}

// UpdateCellValue sets the value of the cell. The first modification of a
// cell records its original value, and a modification which restores the
// original value discards the record.
func (m *Model) UpdateCellValue(attr *AttributeBinding, row int, value interface{}) error {
	var r, err = m.cell(attr, row)
	if err != nil {
		return err
	} else if r.State == RowRemoved {
		return ErrRowRemoved
	} else if !attr.Editable() {
		return errors.WithMessagef(ErrReadOnlyAttribute, "updating %s", attr)
	}

	var pos = attr.Position
	var current = r.Values[pos]

	if r.State == RowAdded {
		// Added rows have no fetched values to restore.
	} else if c, ok := r.changes[pos]; ok {
		if attr.Codec.Equal(c.original, value) {
			r.clearChange(pos)
		}
	} else if !attr.Codec.Equal(current, value) {
		if r.changes == nil {
			r.changes = make(map[int]cellChange)
		}
		m.seq++
		r.changes[pos] = cellChange{original: current, seq: m.seq}
	}
	r.Values[pos] = value

	m.publish(Event{Kind: CellChanged, Row: row, Attribute: attr})
	return nil
}

func (m *Model) cell(attr *AttributeBinding, row int) (*Row, error) {
	if row < 0 || row >= len(m.rows) {
		return nil, errors.WithMessagef(ErrInvalidRow, "row %d", row)
	} else if !m.owns(attr) {
		return nil, ErrInvalidAttribute
	}
	return m.rows[row], nil
}

func (m *Model) owns(attr *AttributeBinding) bool {
	return attr != nil && attr.Position >= 0 && attr.Position < len(m.attrs) && m.attrs[attr.Position] == attr
}

// NewRowValues returns values of a new row. If |copyFrom| is non-nil its
// values are copied, otherwise each value is nil if its attribute is
// nullable, or its Codec's ZeroValue if not. Values of pseudo and generated
// attributes are always nil.
func (m *Model) NewRowValues(copyFrom []interface{}) []interface{} {
	var out = make([]interface{}, len(m.attrs))

	for i, a := range m.attrs {
		switch {
		case a.Pseudo || a.AutoGenerated:
		case copyFrom != nil:
			out[i] = copyFrom[i]
		case !a.Nullable:
			out[i] = a.Codec.ZeroValue()
		}
	}
	return out
}

// AddNewRow inserts a new ADDED Row at |index|, which is clamped to the
// valid range. If |values| is nil, initial values are those of
// NewRowValues(nil), and otherwise of NewRowValues(values).
func (m *Model) AddNewRow(index int, values []interface{}) (*Row, error) {
	if values != nil && len(values) != len(m.attrs) {
		return nil, errors.Errorf("expected %d values (got %d)", len(m.attrs), len(values))
	}
	if index < 0 {
		index = 0
	} else if index > len(m.rows) {
		index = len(m.rows)
	}

	var visual = len(m.rows)
	if index < len(m.rows) {
		visual = m.rows[index].Visual
	}
	for _, r := range m.rows {
		if r.Visual >= visual {
			r.Visual++
		}
	}

	m.seq++
	var row = &Row{
		Visual:   visual,
		State:    RowAdded,
		Values:   m.NewRowValues(values),
		stateSeq: m.seq,
	}
	m.rows = append(m.rows, nil)
	copy(m.rows[index+1:], m.rows[index:])
	m.rows[index] = row
	m.reindex(index)

	m.publish(Event{Kind: RowsChanged})
	return row, nil
}

// DeleteRow marks a NORMAL row for removal. ADDED rows are removed outright.
// Deleting a REMOVED row is a no-op.
func (m *Model) DeleteRow(index int) error {
	var r = m.Row(index)
	if r == nil {
		return errors.WithMessagef(ErrInvalidRow, "row %d", index)
	}

	switch r.State {
	case RowNormal:
		m.seq++
		r.State, r.stateSeq = RowRemoved, m.seq
		m.publish(Event{Kind: RowsChanged})
	case RowAdded:
		m.RemoveRows([]int{index})
	}
	return nil
}

// RemoveRows physically removes rows at |indices| from the Model.
// Remaining rows keep contiguous indices and visual orders.
func (m *Model) RemoveRows(indices []int) {
	if len(indices) == 0 {
		return
	}
	var drop = make(map[*Row]struct{}, len(indices))
	for _, ind := range indices {
		if r := m.Row(ind); r != nil {
			drop[r] = struct{}{}
		}
	}

	var kept = m.rows[:0]
	for _, r := range m.rows {
		if _, ok := drop[r]; !ok {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i != len(m.rows); i++ {
		m.rows[i] = nil
	}
	m.rows = kept
	m.reindex(0)

	// Compact visual orders, preserving their relative order.
	var byVisual = m.VisualRows()
	for i, r := range byVisual {
		r.Visual = i
	}
	m.publish(Event{Kind: RowsChanged})
}

func (m *Model) reindex(from int) {
	for i := from; i < len(m.rows); i++ {
		m.rows[i].Index = i
	}
}

// IsDirty returns true if the Model has any edited cells, or added or
// removed rows.
func (m *Model) IsDirty() bool {
	for _, r := range m.rows {
		if r.State != RowNormal || len(r.changes) != 0 {
			return true
		}
	}
	return false
}

// IsRowChanged returns true if row |index| has edited cells.
func (m *Model) IsRowChanged(index int) bool {
	var r = m.Row(index)
	return r != nil && r.IsChanged()
}

// ChangedCells returns edited cells of NORMAL rows, in edit order.
func (m *Model) ChangedCells() []CellRef {
	var out []CellRef
	for _, r := range m.rows {
		if r.State != RowNormal {
			continue
		}
		for pos, c := range r.changes {
			out = append(out, CellRef{Row: r.Index, Attribute: m.attrs[pos], seq: c.seq})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// AddedRows returns indices of ADDED rows, in the order they were added.
func (m *Model) AddedRows() []int { return m.rowsInState(RowAdded) }

// RemovedRows returns indices of REMOVED rows, in the order they were removed.
func (m *Model) RemovedRows() []int { return m.rowsInState(RowRemoved) }

func (m *Model) rowsInState(state RowState) []int {
	var out []int
	for _, r := range m.rows {
		if r.State == state {
			out = append(out, r.Index)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.rows[out[i]].stateSeq < m.rows[out[j]].stateSeq })
	return out
}

// RejectChanges restores edited cells to their original values, discards
// ADDED rows, and returns REMOVED rows to NORMAL. It's a no-op if the Model
// is not dirty.
func (m *Model) RejectChanges() {
	if !m.IsDirty() {
		return
	}
	var added []int

	for _, r := range m.rows {
		for pos, c := range r.changes {
			r.Values[pos] = c.original
		}
		r.changes = nil

		switch r.State {
		case RowAdded:
			added = append(added, r.Index)
		case RowRemoved:
			r.State = RowNormal
		}
	}
	if len(added) != 0 {
		m.RemoveRows(added)
	} else {
		m.publish(Event{Kind: RowsChanged})
	}
}

// AcceptInsert reflects a persisted insert of ADDED row |index|. Values of
// |returned| (keyed on attribute position) overwrite the row's values, and
// the row becomes NORMAL.
func (m *Model) AcceptInsert(index int, returned map[int]interface{}) {
	var r = m.Row(index)
	if r == nil {
		return
	}
	for pos, v := range returned {
		r.Values[pos] = v
	}
	r.State, r.changes = RowNormal, nil
	m.publish(Event{Kind: RowsChanged})
}

// AcceptUpdate reflects a persisted update of cells |positions| of row
// |index|. Values of |returned| overwrite the row's values, and the
// change records of the cells are cleared.
func (m *Model) AcceptUpdate(index int, positions []int, returned map[int]interface{}) {
	var r = m.Row(index)
	if r == nil {
		return
	}
	for pos, v := range returned {
		r.Values[pos] = v
	}
	for _, pos := range positions {
		r.clearChange(pos)
	}
	m.publish(Event{Kind: RowsChanged})
}

// DataFilter returns the current DataFilter of the Model.
func (m *Model) DataFilter() *DataFilter { return m.filter }

// SetDataFilter replaces the current DataFilter, and records its WHERE
// text into the FilterHistory.
func (m *Model) SetDataFilter(f *DataFilter) {
	m.filter = f
	if m.history != nil {
		m.history.Record(m.historyKey, f.Where)
	}
}

// CreateDataFilter derives a new DataFilter from the current attributes,
// carrying over the state of the current filter.
func (m *Model) CreateDataFilter() *DataFilter {
	return newFilterFor(m.attrs, m.filter)
}

// UpdateDataFilter merges |f| into the current DataFilter. Constraints of
// |f| are matched to current attributes by name and position, and those
// not matched are ignored. WHERE and ORDER text is taken from |f|.
func (m *Model) UpdateDataFilter(f *DataFilter) {
	var next = newFilterFor(m.attrs, m.filter)

	for _, c := range next.Constraints {
		if o := f.Constraint(c.Attribute, c.Position); o != nil {
			c.Visible, c.Criteria = o.Visible, o.Criteria
			c.OrderPosition, c.OrderDescending = o.OrderPosition, o.OrderDescending
		}
	}
	next.Where, next.Order = f.Where, f.Order
	m.SetDataFilter(next)
}

// FilterHistory returns the Model's FilterHistory, which may be nil.
func (m *Model) FilterHistory() FilterHistory { return m.history }
