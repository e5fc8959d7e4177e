package receiver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.rowset.dev/core/identifier"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/source"
	"go.rowset.dev/core/sourcetest"
)

func TestFirstPageBindsAndContinuationAppends(t *testing.T) {
	var c = buildFixture(5)
	var m = model.NewModel(nil)
	var resolver = &identifier.Resolver{Metadata: c}
	var ctx = context.Background()

	var resolutions int
	m.Subscribe(func(ev model.Event) {
		if ev.Kind == model.MetadataChanged {
			resolutions++
		}
	})

	var r = New(Config{ReadMetadata: true}, resolver, m)
	var _, err = c.ReadData(ctx, nil, r, m.DataFilter(), 0, 2, 0)
	require.NoError(t, err)
	r.Close()

	require.Equal(t, 2, m.RowCount())
	require.True(t, r.HasMoreData())
	require.Equal(t, 2, r.RowsFetched())
	require.Equal(t, model.IdentifierPrimaryKey, m.DefaultIdentifier().Kind)
	require.True(t, m.Attributes()[1].Editable())
	require.Equal(t, 1, c.Describes())

	var first = m.Row(0)
	var attrs = m.Attributes()

	// Case: a continuation page appends, without re-binding or re-resolving.
	var next = New(Config{ReadMetadata: true}, resolver, m)
	next.Continue(attrs)
	_, err = c.ReadData(ctx, nil, next, m.DataFilter(), 2, 2, source.FlagSegment)
	require.NoError(t, err)

	require.Equal(t, 4, m.RowCount())
	require.True(t, first == m.Row(0))
	require.True(t, attrs[0] == m.Attributes()[0])
	require.Equal(t, 1, resolutions)
	require.Equal(t, 1, c.Describes())
	require.True(t, next.HasMoreData())

	// Case: a short page has no more data.
	next = New(Config{ReadMetadata: true}, resolver, m)
	next.Continue(attrs)
	_, err = c.ReadData(ctx, nil, next, m.DataFilter(), 4, 2, source.FlagSegment)
	require.NoError(t, err)
	require.Equal(t, 5, m.RowCount())
	require.False(t, next.HasMoreData())

	for i, row := range m.VisualRows() {
		require.Equal(t, i, row.Visual)
	}
}

func TestHasMoreDataRule(t *testing.T) {
	for _, tc := range []struct {
		rows, maxRows int
		more          bool
	}{
		{50, 50, true},
		{37, 50, false},
		{60, 0, false},
		{0, 10, false},
	} {
		var c = buildFixture(tc.rows)
		var r = New(Config{}, nil, model.NewModel(nil))

		var _, err = c.ReadData(context.Background(), nil, r, nil, 0, tc.maxRows, 0)
		require.NoError(t, err)
		require.Equal(t, tc.more, r.HasMoreData(), "rows %d maxRows %d", tc.rows, tc.maxRows)
	}
}

func TestDecodeFailuresAreDeduplicatedWarnings(t *testing.T) {
	var c = buildFixture(0)
	c.Rows = [][]interface{}{
		{int64(1), "one", "x"},
		{int64(2), "two", "y"},
		{int64(3), "three", "1.5"},
		{int64(4), "four", "7"},
	}
	var m = model.NewModel(nil)
	var r = New(Config{}, nil, m)

	var _, err = c.ReadData(context.Background(), nil, r, nil, 0, 0, 0)
	require.NoError(t, err)

	// "x" and "y" fail with distinct messages; "1.5" as well.
	require.Len(t, r.Warnings(), 3)
	require.Equal(t, 4, m.RowCount())
	require.True(t, model.IsUndefined(m.Row(0).Values[2]))
	require.Equal(t, int64(7), m.Row(3).Values[2])

	var fe = r.Warnings()[0].(*model.FetchError)
	require.Equal(t, "count", fe.Attribute.Name)
	require.Equal(t, 0, fe.Row)

	// Case: identical failures of a column are reported once.
	c.Rows = [][]interface{}{{int64(1), "a", "bad"}, {int64(2), "b", "bad"}}
	r = New(Config{}, nil, m)
	_, err = c.ReadData(context.Background(), nil, r, nil, 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, r.Warnings(), 1)
}

func TestMetadataDisabledLeavesAttributesReadOnly(t *testing.T) {
	var c = buildFixture(2)
	var m = model.NewModel(nil)
	var r = New(Config{ReadMetadata: false}, &identifier.Resolver{Metadata: c}, m)

	var _, err = c.ReadData(context.Background(), nil, r, nil, 0, 0, 0)
	require.NoError(t, err)

	require.Nil(t, m.DefaultIdentifier())
	for _, a := range m.Attributes() {
		require.Nil(t, a.Entity)
		require.False(t, a.Editable())
	}
	require.Equal(t, 0, c.Describes())
}

func TestLateBindingOfReferencesAndDocuments(t *testing.T) {
	var name = model.EntityName{Name: "orders"}
	var c = sourcetest.NewContainer(name,
		sourcetest.Column("id", "INTEGER"),
		sourcetest.Column("customer_id", "INTEGER"),
		sourcetest.Column("details", "JSON"),
	)
	c.Rows = [][]interface{}{
		{int64(1), int64(10), `{"sku": "a-1", "qty": 2}`},
		{int64(2), int64(11), `{"sku": "b-2", "gift": true}`},
		{int64(3), nil, nil},
	}
	c.Metadata[name] = &model.EntityMeta{
		Name:        name,
		Constraints: []model.Constraint{{Name: "pk", Type: model.PrimaryKey, Columns: []string{"id"}}},
		ForeignKeys: []model.ForeignKey{{
			Name:       "fk_customer",
			Columns:    []string{"customer_id"},
			RefEntity:  model.EntityName{Name: "customers"},
			RefColumns: []string{"id"},
		}},
	}
	var m = model.NewModel(nil)
	var r = New(Config{ReadMetadata: true, ReadReferences: true}, &identifier.Resolver{Metadata: c}, m)

	var _, err = c.ReadData(context.Background(), nil, r, nil, 0, 0, 0)
	require.NoError(t, err)

	var attrs = m.Attributes()
	require.Nil(t, attrs[0].Reference)
	require.Equal(t, "fk_customer", attrs[1].Reference.Name)

	var children = attrs[2].Children
	require.Len(t, children, 3)
	require.Equal(t, []string{"gift", "qty", "sku"},
		[]string{children[0].Name, children[1].Name, children[2].Name})
	require.Equal(t, model.KindBoolean, children[0].Kind)
	require.Equal(t, model.KindFloat, children[1].Kind)
	require.Equal(t, "details.sku", children[2].Label)
	require.False(t, children[2].Editable())
}

func TestContinuationShapeMismatch(t *testing.T) {
	var c = buildFixture(3)
	var r = New(Config{}, nil, model.NewModel(nil))
	r.Continue([]*model.AttributeBinding{model.NewAttributeBinding("id", 0, "INTEGER")})

	var _, err = c.ReadData(context.Background(), nil, r, nil, 0, 0, source.FlagSegment)
	require.EqualError(t, err, "continuation page has 3 columns (expected 1)")
}

func buildFixture(rows int) *sourcetest.Container {
	var name = model.EntityName{Schema: "main", Name: "items"}
	var c = sourcetest.NewContainer(name,
		sourcetest.Column("id", "INTEGER"),
		sourcetest.Column("name", "TEXT"),
		sourcetest.Column("count", "INTEGER"),
	)
	c.Metadata[name] = &model.EntityMeta{
		Name:        name,
		Constraints: []model.Constraint{{Name: "pk", Type: model.PrimaryKey, Columns: []string{"id"}}},
	}
	for i := 0; i != rows; i++ {
		c.Rows = append(c.Rows, []interface{}{int64(i), "item", int64(i * 10)})
	}
	return c
}
