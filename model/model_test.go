package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCellUpdateTracksOriginalValues(t *testing.T) {
	var m, attrs = buildModelFixture()
	m.SetData([][]interface{}{
		{int64(1), "one"},
		{int64(2), "two"},
	})
	require.False(t, m.IsDirty())

	// Case: a first edit records the original value.
	require.NoError(t, m.UpdateCellValue(attrs[1], 0, "uno"))
	require.True(t, m.IsDirty())
	require.True(t, m.IsRowChanged(0))
	require.Equal(t, "one", m.Row(0).Original(1))

	// Case: a second edit retains the first original.
	require.NoError(t, m.UpdateCellValue(attrs[1], 0, "eins"))
	require.Equal(t, "one", m.Row(0).Original(1))

	var v, err = m.GetCellValue(attrs[1], 0)
	require.NoError(t, err)
	require.Equal(t, "eins", v)

	// Case: restoring the original value discards the change.
	require.NoError(t, m.UpdateCellValue(attrs[1], 0, "one"))
	require.False(t, m.IsDirty())

	// Case: an edit to the current value is not a change.
	require.NoError(t, m.UpdateCellValue(attrs[1], 1, "two"))
	require.False(t, m.IsDirty())

	// Case: invalid rows and attributes are rejected.
	require.Equal(t, ErrInvalidRow, errCause(m.UpdateCellValue(attrs[1], 5, "x")))
	require.Equal(t, ErrInvalidAttribute, m.UpdateCellValue(NewAttributeBinding("other", 1, "TEXT"), 0, "x"))
}

func TestChangedCellsAreInEditOrder(t *testing.T) {
	var m, attrs = buildModelFixture()
	m.SetData([][]interface{}{
		{int64(1), "one"},
		{int64(2), "two"},
	})

	require.NoError(t, m.UpdateCellValue(attrs[1], 1, "deux"))
	require.NoError(t, m.UpdateCellValue(attrs[1], 0, "un"))
	require.NoError(t, m.UpdateCellValue(attrs[0], 1, int64(20)))

	var cells = m.ChangedCells()
	require.Len(t, cells, 3)
	require.Equal(t, []int{1, 0, 1}, []int{cells[0].Row, cells[1].Row, cells[2].Row})
	require.Equal(t, attrs[1], cells[0].Attribute)
	require.Equal(t, attrs[0], cells[2].Attribute)
	require.Equal(t, []int{1, 0}, m.Row(1).ChangedPositions())
}

func TestAddAndDeleteRows(t *testing.T) {
	var m, attrs = buildModelFixture()
	attrs[1].Nullable = false

	m.SetData([][]interface{}{
		{int64(1), "one"},
		{int64(2), "two"},
	})

	// Case: a new row inserted at the front shifts others.
	var row, err = m.AddNewRow(0, nil)
	require.NoError(t, err)
	require.Equal(t, RowAdded, row.State)
	require.Equal(t, []interface{}{nil, ""}, row.Values) // |id| is generated.
	require.Equal(t, 0, row.Index)
	require.Equal(t, 1, m.Row(1).Index)
	require.Equal(t, 3, m.RowCount())

	// Case: a copied row takes the values of its source, less generated ones.
	row, err = m.AddNewRow(99, []interface{}{int64(2), "two"})
	require.NoError(t, err)
	require.Equal(t, 3, row.Index)
	require.Equal(t, []interface{}{nil, "two"}, row.Values)
	require.Equal(t, []int{0, 3}, m.AddedRows())

	// Case: edits to added rows are not tracked as cell changes.
	require.NoError(t, m.UpdateCellValue(attrs[1], 3, "three"))
	require.False(t, m.Row(3).IsChanged())
	require.Empty(t, m.ChangedCells())

	// Case: deleting a fetched row marks it removed.
	require.NoError(t, m.DeleteRow(2))
	require.Equal(t, RowRemoved, m.Row(2).State)
	require.Equal(t, []int{2}, m.RemovedRows())
	require.Equal(t, ErrRowRemoved, m.UpdateCellValue(attrs[1], 2, "x"))

	// Case: deleting an added row removes it outright.
	require.NoError(t, m.DeleteRow(0))
	require.Equal(t, 3, m.RowCount())
	require.Equal(t, []int{2}, m.AddedRows())
	require.Equal(t, []int{1}, m.RemovedRows())

	for i, r := range m.Rows() {
		require.Equal(t, i, r.Index)
	}
	for i, r := range m.VisualRows() {
		require.Equal(t, i, r.Visual)
	}
}

func TestRejectChangesRestoresFetchedState(t *testing.T) {
	var m, attrs = buildModelFixture()
	m.SetData([][]interface{}{
		{int64(1), "one"},
		{int64(2), "two"},
	})

	var events int
	m.Subscribe(func(Event) { events++ })

	// Case: rejecting a clean Model is a no-op.
	m.RejectChanges()
	require.Equal(t, 0, events)

	require.NoError(t, m.UpdateCellValue(attrs[1], 0, "uno"))
	require.NoError(t, m.DeleteRow(1))
	var _, err = m.AddNewRow(2, nil)
	require.NoError(t, err)

	m.RejectChanges()
	require.False(t, m.IsDirty())
	require.Equal(t, 2, m.RowCount())
	require.Equal(t, []interface{}{int64(1), "one"}, m.Row(0).Values)
	require.Equal(t, RowNormal, m.Row(1).State)
}

func TestAcceptReflectsPersistedRows(t *testing.T) {
	var m, attrs = buildModelFixture()
	m.SetData([][]interface{}{{int64(1), "one"}})

	require.NoError(t, m.UpdateCellValue(attrs[1], 0, "uno"))
	m.AcceptUpdate(0, []int{1}, nil)
	require.False(t, m.IsDirty())
	require.Equal(t, "uno", m.Row(0).Values[1])

	var _, err = m.AddNewRow(1, nil)
	require.NoError(t, err)
	m.AcceptInsert(1, map[int]interface{}{0: int64(7)})
	require.False(t, m.IsDirty())
	require.Equal(t, []interface{}{int64(7), nil}, m.Row(1).Values)
}

func TestSortRowsChangesVisualOrderOnly(t *testing.T) {
	var m, attrs = buildModelFixture()
	m.SetData([][]interface{}{
		{int64(1), "b"},
		{int64(2), nil},
		{int64(3), "a"},
	})

	require.NoError(t, m.SortRows(attrs[1], false))
	var visual []interface{}
	for _, r := range m.VisualRows() {
		visual = append(visual, r.Values[0])
	}
	require.Equal(t, []interface{}{int64(2), int64(3), int64(1)}, visual)
	require.Equal(t, int64(1), m.Row(0).Values[0])

	require.NoError(t, m.SortRows(attrs[0], true))
	require.Equal(t, 0, m.Row(2).Visual)

	// Case: attributes not bound to the Model are rejected.
	require.Equal(t, ErrInvalidAttribute, m.SortRows(nil, false))
	var foreign = *attrs[0]
	require.Equal(t, ErrInvalidAttribute, m.SortRows(&foreign, false))
	require.Equal(t, 0, m.Row(2).Visual)
}

func TestSortRowsOrdersDecimalsNumerically(t *testing.T) {
	var amount = NewAttributeBinding("amount", 0, "NUMERIC(12,2)")
	var m = NewModel(nil)
	m.SetMetaData([]*AttributeBinding{amount})
	m.SetData([][]interface{}{{"10.5"}, {int64(9)}, {"9.25"}, {nil}})

	require.NoError(t, m.SortRows(amount, false))
	var visual []interface{}
	for _, r := range m.VisualRows() {
		visual = append(visual, r.Values[0])
	}
	require.Equal(t, []interface{}{nil, int64(9), "9.25", "10.5"}, visual)
}

func TestMetadataRebindPreservesFilterState(t *testing.T) {
	var m, attrs = buildModelFixture()

	var f = m.CreateDataFilter()
	f.Where = "id > 1"
	f.Constraint("name", 1).Criteria = "LIKE 'a%'"
	require.True(t, f.SetOrder("id", 0, true))
	m.UpdateDataFilter(f)

	require.True(t, m.DataFilter().HasFilters())
	require.True(t, m.DataFilter().HasOrdering())
	require.True(t, m.DataFilter().Equal(f, false))

	// Case: a rebind of unchanged name & position carries state over.
	var next = []*AttributeBinding{
		NewAttributeBinding("id", 0, "INTEGER"),
		NewAttributeBinding("title", 1, "TEXT"),
	}
	next[0].Entity, next[1].Entity = attrs[0].Entity, attrs[0].Entity
	m.SetMetaData(next)

	var c = m.DataFilter().Constraint("id", 0)
	require.Equal(t, 1, c.OrderPosition)
	require.True(t, c.OrderDescending)
	require.Empty(t, m.DataFilter().Constraint("title", 1).Criteria)
	require.Equal(t, "id > 1", m.DataFilter().Where)
	require.Nil(t, m.DefaultIdentifier())
}

func TestDefaultIdentifierIsOfFirstIdentifiedAttribute(t *testing.T) {
	var m, attrs = buildModelFixture()
	require.Equal(t, attrs[0].Identifier, m.DefaultIdentifier())
	require.Equal(t, []*RowIdentifier{attrs[0].Identifier}, m.Identifiers())
	require.Equal(t, attrs[0].Identifier, m.Identifier(attrs[0].Entity))
	require.Nil(t, m.Identifier(&Entity{Name: EntityName{Name: "other"}}))
	require.Equal(t, attrs[1], m.Attribute("name"))
}

func TestLRUFilterHistory(t *testing.T) {
	var h = NewLRUFilterHistory(2, 2)
	var m, _ = buildModelFixture()
	m.history = h
	m.SetHistoryKey("main.item")

	for _, w := range []string{"a = 1", "b = 2", " ", "a = 1", "c = 3"} {
		var f = m.CreateDataFilter()
		f.Where = w
		m.SetDataFilter(f)
	}
	require.Equal(t, []string{"c = 3", "a = 1"}, h.Recent("main.item"))

	// Case: least-recently used keys are evicted.
	h.Record("k2", "x")
	h.Record("k3", "y")
	require.Nil(t, h.Recent("main.item"))
	require.Equal(t, []string{"y"}, h.Recent("k3"))
}

func buildModelFixture() (*Model, []*AttributeBinding) {
	var entity = &Entity{Name: EntityName{Schema: "main", Name: "item"}}
	var attrs = []*AttributeBinding{
		NewAttributeBinding("id", 0, "INTEGER"),
		NewAttributeBinding("name", 1, "TEXT"),
	}
	var id = &RowIdentifier{
		Entity:     entity,
		Kind:       IdentifierPrimaryKey,
		Name:       "pk_item",
		Attributes: attrs[:1],
	}
	for _, a := range attrs {
		a.Entity, a.Identifier = entity, id
	}
	attrs[0].AutoGenerated, attrs[0].Nullable = true, false

	var m = NewModel(nil)
	m.SetMetaData(attrs)
	return m, attrs
}

func errCause(err error) error {
	type causer interface{ Cause() error }
	for {
		if c, ok := err.(causer); ok {
			err = c.Cause()
		} else {
			return err
		}
	}
}
