package persist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.rowset.dev/core/identifier"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/receiver"
	"go.rowset.dev/core/source"
	"go.rowset.dev/core/sourcetest"
)

func TestUpdateOfSingleCell(t *testing.T) {
	var c = buildEmployees()
	var m = readModel(t, c, false)
	var p = New(c, m)

	require.NoError(t, m.UpdateCellValue(m.Attribute("salary"), 0, int64(900)))
	require.NoError(t, p.ApplyChanges(context.Background(), nil))

	require.Equal(t, []string{
		"open persist",
		"UPDATE employees SET salary=900 WHERE id=1",
		"close persist",
	}, c.CallStrings())

	require.False(t, m.Row(0).IsChanged())
	require.False(t, m.IsDirty())
	require.Equal(t, int64(900), c.Snapshot()[0][2])
}

func TestEditedKeyIsAddressedByItsOriginalValue(t *testing.T) {
	var c = buildEmployees()
	var m = readModel(t, c, false)
	var p = New(c, m)

	require.NoError(t, m.UpdateCellValue(m.Attribute("id"), 0, int64(5)))
	require.NoError(t, m.UpdateCellValue(m.Attribute("name"), 0, "ann"))
	require.NoError(t, p.ApplyChanges(context.Background(), nil))

	require.Equal(t, "UPDATE employees SET id=5,name=ann WHERE id=1", c.CallStrings()[1])
	require.Equal(t, []interface{}{int64(5), "ann", int64(100)}, c.Snapshot()[0])
}

func TestNoUsableKeyFailsBeforeExecution(t *testing.T) {
	var name = model.EntityName{Name: "logs"}
	var c = sourcetest.NewContainer(name,
		sourcetest.Column("ts", "INTEGER"),
		sourcetest.Column("message", "TEXT"),
	)
	c.Rows = [][]interface{}{{int64(1), "started"}, {int64(2), nil}}

	var m = readModel(t, c, false)
	var p = New(c, m)
	require.Equal(t, model.IdentifierVirtual, m.DefaultIdentifier().Kind)

	require.NoError(t, m.UpdateCellValue(m.Attribute("message"), 0, "begun"))

	var err = p.ApplyChanges(context.Background(), nil)
	var iae *model.IdentifierAmbiguityError
	require.True(t, errors.As(err, &iae))
	require.Equal(t, name, iae.Entity)
	require.Empty(t, c.Calls())
	require.True(t, m.IsDirty())

	// Case: with all columns as the key, the change is applied.
	m = readModel(t, c, true)
	p = New(c, m)
	require.True(t, m.DefaultIdentifier().AllColumns)

	require.NoError(t, m.UpdateCellValue(m.Attribute("message"), 1, "restarted"))
	require.NoError(t, p.ApplyChanges(context.Background(), nil))
	require.Equal(t, "UPDATE logs SET message=restarted WHERE message=<nil>,ts=2", c.CallStrings()[1])
	require.Equal(t, []interface{}{int64(2), "restarted"}, c.Snapshot()[1])
}

func TestInsertReflectsGeneratedKey(t *testing.T) {
	for _, alias := range []string{"", "rowid"} {
		var c = buildEmployees()
		c.KeyAlias = alias
		var m = readModel(t, c, false)
		var p = New(c, m)

		var row, err = m.AddNewRow(3, nil)
		require.NoError(t, err)
		require.Nil(t, row.Values[0])
		require.NoError(t, m.UpdateCellValue(m.Attribute("name"), 3, "dee"))

		require.NoError(t, p.ApplyChanges(context.Background(), nil))
		require.Equal(t, "INSERT employees SET name=dee,salary=<nil>", c.CallStrings()[1])

		require.Equal(t, model.RowNormal, m.Row(3).State)
		require.Equal(t, []interface{}{int64(1000), "dee", nil}, m.Row(3).Values)
		require.False(t, m.IsDirty())
	}
}

func TestDeleteRemovesRowsAndKeepsIndicesContiguous(t *testing.T) {
	var c = buildEmployees()
	var m = readModel(t, c, false)
	var p = New(c, m)

	require.NoError(t, m.DeleteRow(2))
	require.NoError(t, m.DeleteRow(0))
	require.NoError(t, p.ApplyChanges(context.Background(), nil))

	require.Equal(t, []string{
		"open persist",
		"DELETE employees WHERE id=3",
		"DELETE employees WHERE id=1",
		"close persist",
	}, c.CallStrings())

	require.Equal(t, 1, m.RowCount())
	require.Equal(t, int64(2), m.Row(0).Values[0])
	require.Equal(t, 0, m.Row(0).Index)
	require.Equal(t, 0, m.Row(0).Visual)
	require.Len(t, c.Snapshot(), 1)
}

func TestStatementsAreOrderedByKind(t *testing.T) {
	var c = buildEmployees()
	var m = readModel(t, c, false)
	var p = New(c, m)

	require.NoError(t, m.UpdateCellValue(m.Attribute("salary"), 1, int64(1)))
	var _, err = m.AddNewRow(0, nil)
	require.NoError(t, err)
	require.NoError(t, m.UpdateCellValue(m.Attribute("salary"), 1, int64(2))) // Row 1 is now id=1.
	require.NoError(t, m.DeleteRow(3))

	plan, err := p.Plan()
	require.NoError(t, err)

	var kinds []StatementKind
	for _, s := range plan.Statements {
		kinds = append(kinds, s.Kind)
	}
	require.Equal(t, []StatementKind{Delete, Insert, Update, Update}, kinds)
	require.Equal(t, int64(2), plan.Statements[2].Keys[0].Value) // Edited first.
	require.Equal(t, int64(1), plan.Statements[3].Keys[0].Value)

	var applied *Plan
	require.NoError(t, p.ApplyChanges(context.Background(), func(p *Plan, _ error) { applied = p }))
	require.Equal(t, Counters{Deleted: 1, Inserted: 1, Updated: 2}, applied.Counters)
	require.Equal(t, Done, applied.State)
	require.Equal(t, 3, m.RowCount())
	require.False(t, m.IsDirty())
}

func TestInsertOmitsHiddenAttributes(t *testing.T) {
	var c = buildEmployees()
	var m = readModel(t, c, false)
	var p = New(c, m)

	var f = m.CreateDataFilter()
	f.Constraint("salary", 2).Visible = false
	m.UpdateDataFilter(f)

	var _, err = m.AddNewRow(3, []interface{}{nil, "eve", int64(5)})
	require.NoError(t, err)

	plan, err := p.Plan()
	require.NoError(t, err)
	require.Len(t, plan.Statements, 1)

	var names []string
	for _, v := range plan.Statements[0].Values {
		names = append(names, v.Attribute.Name)
	}
	require.Equal(t, []string{"name"}, names)

	// Case: once visible again, the attribute is inserted.
	f = m.CreateDataFilter()
	f.Constraint("salary", 2).Visible = true
	m.UpdateDataFilter(f)

	plan, err = p.Plan()
	require.NoError(t, err)
	require.Len(t, plan.Statements[0].Values, 2)
}

func TestRowSpanningEntitiesYieldsUpdatePerEntity(t *testing.T) {
	var emp, dept = model.EntityName{Name: "employees"}, model.EntityName{Name: "departments"}
	var c = sourcetest.NewContainer(emp,
		sourcetest.Column("id", "INTEGER"),
		sourcetest.Column("name", "TEXT"),
		source.ColumnMeta{Name: "id", Label: "dept_id", TypeName: "INTEGER", Entity: dept},
		source.ColumnMeta{Name: "title", Label: "dept_title", TypeName: "TEXT", Entity: dept},
	)
	c.Rows = [][]interface{}{{int64(1), "ann", int64(10), "eng"}}
	for _, n := range []model.EntityName{emp, dept} {
		c.Metadata[n] = &model.EntityMeta{
			Name:        n,
			Constraints: []model.Constraint{{Name: "pk", Type: model.PrimaryKey, Columns: []string{"id"}}},
		}
	}
	var m = readModel(t, c, false)
	var p = New(c, m)
	require.Len(t, m.Identifiers(), 2)

	require.NoError(t, m.UpdateCellValue(m.Attribute("dept_title"), 0, "research"))
	require.NoError(t, m.UpdateCellValue(m.Attribute("name"), 0, "anne"))
	require.NoError(t, p.ApplyChanges(context.Background(), nil))

	require.Equal(t, []string{
		"open persist",
		"UPDATE departments SET title=research WHERE id=10",
		"UPDATE employees SET name=anne WHERE id=1",
		"close persist",
	}, c.CallStrings())
	require.Equal(t, []interface{}{int64(1), "anne", int64(10), "research"}, c.Snapshot()[0])
}

func TestPartialFailureUnderAutoCommit(t *testing.T) {
	var c = buildEmployees()
	var boom = errors.New("boom")
	c.FailOn = failOnKey(2, boom)

	var m = readModel(t, c, false)
	var p = New(c, m)

	for i := 0; i != 3; i++ {
		require.NoError(t, m.UpdateCellValue(m.Attribute("salary"), i, int64(i+7)))
	}

	var plan *Plan
	var err = p.ApplyChanges(context.Background(), func(p *Plan, _ error) { plan = p })
	require.True(t, errors.Is(err, boom))

	var see *model.StatementExecutionError
	require.True(t, errors.As(err, &see))

	require.Equal(t, Done, plan.State)
	require.NotNil(t, plan.Statements[1].Err)
	require.Equal(t, []bool{true, false, false}, executed(plan))
	require.Equal(t, Counters{Updated: 1}, plan.Counters)

	// Row 0 is reflected. Rows 1 & 2 remain dirty for retry.
	require.False(t, m.IsRowChanged(0))
	require.True(t, m.IsRowChanged(1))
	require.True(t, m.IsRowChanged(2))
	require.Equal(t, int64(7), c.Snapshot()[0][2])

	// Case: a retry reprocesses only what remains dirty.
	c.FailOn = nil
	c.ResetCalls()
	require.NoError(t, p.ApplyChanges(context.Background(), nil))
	require.Equal(t, []string{
		"open persist",
		"UPDATE employees SET salary=8 WHERE id=2",
		"UPDATE employees SET salary=9 WHERE id=3",
		"close persist",
	}, c.CallStrings())
	require.False(t, m.IsDirty())
}

func TestPartialFailureRollsBackToSavepoint(t *testing.T) {
	var c = buildEmployees()
	c.AutoCommit, c.Savepoints = false, true
	var boom = errors.New("boom")
	c.FailOn = failOnKey(2, boom)

	var m = readModel(t, c, false)
	var p = New(c, m)

	for i := 0; i != 3; i++ {
		require.NoError(t, m.UpdateCellValue(m.Attribute("salary"), i, int64(i+7)))
	}
	var plan *Plan
	var err = p.ApplyChanges(context.Background(), func(p *Plan, _ error) { plan = p })
	require.True(t, errors.Is(err, boom))

	require.Equal(t, []string{
		"open persist",
		"SAVEPOINT sp1",
		"UPDATE employees SET salary=7 WHERE id=1",
		"UPDATE employees SET salary=8 WHERE id=2",
		"ROLLBACK TO sp1",
		"close persist",
	}, c.CallStrings())

	require.Equal(t, Done, plan.State)
	require.Equal(t, []bool{true, false, false}, executed(plan))
	require.Equal(t, Counters{Updated: 1}, plan.Counters)
	require.NotNil(t, plan.Statements[1].Err)

	// Row 0 is reflected as updated. Rows 1 & 2 remain dirty.
	require.False(t, m.IsRowChanged(0))
	require.Equal(t, int64(7), m.Row(0).Values[2])
	require.True(t, m.IsRowChanged(1))
	require.True(t, m.IsRowChanged(2))

	// Case: a successful run releases its savepoint.
	c.FailOn = nil
	c.ResetCalls()
	require.NoError(t, p.ApplyChanges(context.Background(), nil))
	require.Equal(t, []string{
		"open persist",
		"SAVEPOINT sp2",
		"UPDATE employees SET salary=8 WHERE id=2",
		"UPDATE employees SET salary=9 WHERE id=3",
		"RELEASE sp2",
		"close persist",
	}, c.CallStrings())
	require.False(t, m.IsDirty())
}

func TestUnreflectRolledBackKeepsRunPending(t *testing.T) {
	var c = buildEmployees()
	c.AutoCommit, c.Savepoints = false, true
	var boom = errors.New("boom")
	c.FailOn = failOnKey(2, boom)

	var m = readModel(t, c, false)
	var p = New(c, m)
	p.UnreflectRolledBack = true

	for i := 0; i != 3; i++ {
		require.NoError(t, m.UpdateCellValue(m.Attribute("salary"), i, int64(i+7)))
	}
	var plan *Plan
	var err = p.ApplyChanges(context.Background(), func(p *Plan, _ error) { plan = p })
	require.True(t, errors.Is(err, boom))
	require.Equal(t, "ROLLBACK TO sp1", c.CallStrings()[4])

	require.Equal(t, []bool{false, false, false}, executed(plan))
	require.Equal(t, Counters{}, plan.Counters)
	require.True(t, m.IsRowChanged(0))
	require.Equal(t, int64(100), c.Snapshot()[0][2])

	// Case: without a savepoint, executed statements are still reflected.
	c.Savepoints = false
	c.ResetCalls()
	err = p.ApplyChanges(context.Background(), func(p *Plan, _ error) { plan = p })
	require.True(t, errors.Is(err, boom))
	require.Equal(t, []bool{true, false, false}, executed(plan))
	require.False(t, m.IsRowChanged(0))
}

func TestUnmatchedKeyLeavesRowDirty(t *testing.T) {
	var c = buildEmployees()
	var m = readModel(t, c, false)
	var p = New(c, m)

	require.NoError(t, m.UpdateCellValue(m.Attribute("salary"), 0, int64(900)))
	require.NoError(t, m.DeleteRow(2))

	// The server's rows change out from under the Model.
	c.Rows[0][0], c.Rows[2][0] = int64(41), int64(43)

	var plan *Plan
	var err = p.ApplyChanges(context.Background(), func(p *Plan, _ error) { plan = p })
	require.True(t, errors.Is(err, ErrNoRowsAffected))

	var see *model.StatementExecutionError
	require.True(t, errors.As(err, &see))
	require.Contains(t, see.Statement, "DELETE")

	require.Equal(t, []bool{false, false}, executed(plan))
	require.Equal(t, Counters{}, plan.Counters)
	require.True(t, m.IsRowChanged(0))
	require.Equal(t, model.RowRemoved, m.Row(2).State)
	require.True(t, m.IsDirty())

	// Case: an UPDATE which matches nothing fails the same way.
	p.RejectChanges()
	require.NoError(t, m.UpdateCellValue(m.Attribute("salary"), 0, int64(900)))
	err = p.ApplyChanges(context.Background(), nil)
	require.True(t, errors.Is(err, ErrNoRowsAffected))
	require.True(t, m.IsRowChanged(0))
	require.Equal(t, int64(100), c.Snapshot()[0][2])
}

func TestCancelledRunExecutesNothing(t *testing.T) {
	var c = buildEmployees()
	var m = readModel(t, c, false)
	var p = New(c, m)

	require.NoError(t, m.DeleteRow(0))

	var ctx, cancel = context.WithCancel(context.Background())
	cancel()

	var err = p.ApplyChanges(ctx, nil)
	require.Equal(t, context.Canceled, err)
	require.Equal(t, []string{"open persist", "close persist"}, c.CallStrings())
	require.Equal(t, model.RowRemoved, m.Row(0).State)
}

func TestGenerateChangesScriptDoesNotMutate(t *testing.T) {
	var c = buildEmployees()
	var m = readModel(t, c, false)
	var p = New(c, m)

	require.NoError(t, m.UpdateCellValue(m.Attribute("name"), 1, "o'neil"))
	require.NoError(t, m.DeleteRow(0))
	var _, err = m.AddNewRow(3, []interface{}{int64(9), "eve", nil})
	require.NoError(t, err)

	script, err := p.GenerateChangesScript(context.Background())
	require.NoError(t, err)

	require.Contains(t, script, "-- 3 change(s) of employees (run ")
	require.Contains(t, script, "\nDELETE FROM employees WHERE id = 1;\n")
	require.Contains(t, script, "\nINSERT INTO employees (name, salary) VALUES ('eve', NULL);\n")
	require.Contains(t, script, "\nUPDATE employees SET name = 'o''neil' WHERE id = 2;\n")

	require.Empty(t, c.Calls())
	require.True(t, m.IsDirty())
	require.Equal(t, model.RowRemoved, m.Row(0).State)
	require.Equal(t, model.RowAdded, m.Row(3).State)
}

func TestRenderStatementLiterals(t *testing.T) {
	var entity = &model.Entity{Name: model.EntityName{Schema: "Main", Name: "logs"}}
	var ts = model.NewAttributeBinding("ts", 0, "INTEGER")
	var msg = model.NewAttributeBinding("Message", 1, "TEXT")
	var blob = model.NewAttributeBinding("data", 2, "BLOB")
	var ok = model.NewAttributeBinding("ok", 3, "BOOLEAN")

	require.Equal(t, `DELETE FROM "Main".logs WHERE ts IS NULL AND "Message" = 'hi'`, RenderStatement(&StatementBatch{
		Kind:   Delete,
		Entity: entity,
		Keys:   []source.AttributeValue{{Attribute: ts, Value: nil}, {Attribute: msg, Value: "hi"}},
	}))
	require.Equal(t, `INSERT INTO "Main".logs (data, ok) VALUES (X'0aff', TRUE)`, RenderStatement(&StatementBatch{
		Kind:   Insert,
		Entity: entity,
		Values: []source.AttributeValue{{Attribute: blob, Value: []byte{0x0a, 0xff}}, {Attribute: ok, Value: true}},
	}))
}

func TestKeyDataReceiverMatching(t *testing.T) {
	var entity = &model.Entity{Name: model.EntityName{Name: "t"}}
	var a = model.NewAttributeBinding("a", 0, "INTEGER")
	var b = model.NewAttributeBinding("b", 1, "INTEGER")
	a.Entity, b.Entity = entity, entity

	var stmt = &StatementBatch{Kind: Insert, Entity: entity}
	var r = NewKeyDataReceiver(stmt, []*model.AttributeBinding{a, b})

	// Case: no name match, and no generated attribute.
	r.ReceiveKeys([]string{"rowid"}, []interface{}{int64(1)})
	require.Nil(t, stmt.Returned)

	r.ReceiveKeys([]string{"B"}, []interface{}{"12"})
	require.Equal(t, map[int]interface{}{1: int64(12)}, stmt.Returned)

	// Case: fall back to the first generated attribute.
	a.AutoGenerated = true
	r.ReceiveKeys([]string{"rowid"}, []interface{}{int64(5)})
	require.Equal(t, map[int]interface{}{0: int64(5), 1: int64(12)}, stmt.Returned)
}

func buildEmployees() *sourcetest.Container {
	var name = model.EntityName{Name: "employees"}
	var c = sourcetest.NewContainer(name,
		source.ColumnMeta{Name: "id", TypeName: "INTEGER"},
		sourcetest.Column("name", "TEXT"),
		sourcetest.Column("salary", "INTEGER"),
	)
	c.Rows = [][]interface{}{
		{int64(1), "ann", int64(100)},
		{int64(2), "bob", int64(200)},
		{int64(3), "cat", int64(300)},
	}
	c.Metadata[name] = &model.EntityMeta{
		Name:        name,
		Constraints: []model.Constraint{{Name: "pk", Type: model.PrimaryKey, Columns: []string{"id"}}},
		Generated:   []string{"id"},
	}
	return c
}

func readModel(t *testing.T, c *sourcetest.Container, allColumns bool) *model.Model {
	var m = model.NewModel(nil)
	var resolver = &identifier.Resolver{
		Metadata:           c,
		VirtualKeys:        identifier.NewMemoryVirtualKeyStore(),
		UseAllColumnsAsKey: allColumns,
	}
	var r = receiver.New(receiver.Config{ReadMetadata: true}, resolver, m)
	defer r.Close()

	var _, err = c.ReadData(context.Background(), nil, r, m.DataFilter(), 0, 0, 0)
	require.NoError(t, err)
	c.ResetCalls()
	return m
}

func failOnKey(id int64, err error) func(sourcetest.Call) error {
	return func(call sourcetest.Call) error {
		if call.Keys["id"] == id {
			return err
		}
		return nil
	}
}

func executed(plan *Plan) []bool {
	var out []bool
	for _, s := range plan.Statements {
		out = append(out, s.Executed)
	}
	return out
}
