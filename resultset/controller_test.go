package resultset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.rowset.dev/core/identifier"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/persist"
	"go.rowset.dev/core/source"
	"go.rowset.dev/core/sourcetest"
)

func TestRefreshAndSegmentedReads(t *testing.T) {
	var c = buildEmployees(5)
	var cfg = DefaultConfig()
	cfg.SegmentSize = 2
	var ctl = NewController(cfg, c, c, nil)
	var ctx = context.Background()

	require.NoError(t, ctl.Refresh(ctx).Err())
	assert.Equal(t, 2, rowCount(ctl))
	assert.True(t, ctl.HasMoreData())
	assert.Equal(t, 2, ctl.Statistics().RowsFetched)

	require.NoError(t, ctl.ReadNextSegment(ctx).Err())
	require.NoError(t, ctl.ReadNextSegment(ctx).Err())
	assert.Equal(t, 5, rowCount(ctl))
	assert.False(t, ctl.HasMoreData())

	ctl.View(func(m *model.Model) {
		assert.Equal(t, int64(5), m.Row(4).Values[0])
		assert.Equal(t, model.IdentifierPrimaryKey, m.DefaultIdentifier().Kind)
	})

	// Case: a further segment doesn't read.
	var reads = len(c.Filters())
	require.NoError(t, ctl.ReadNextSegment(ctx).Err())
	assert.Len(t, c.Filters(), reads)
}

func TestSegmentOffsetExcludesAddedRows(t *testing.T) {
	var c = buildEmployees(3)
	var cfg = DefaultConfig()
	cfg.SegmentSize = 2
	var ctl = NewController(cfg, c, c, nil)
	var ctx = context.Background()

	require.NoError(t, ctl.Refresh(ctx).Err())
	require.NoError(t, ctl.Update(func(m *model.Model) error {
		var _, err = m.AddNewRow(0, nil)
		return err
	}))
	require.NoError(t, ctl.ReadNextSegment(ctx).Err())

	ctl.View(func(m *model.Model) {
		require.Equal(t, 4, m.RowCount())
		assert.Equal(t, model.RowAdded, m.Row(0).State)
		assert.Equal(t, int64(3), m.Row(3).Values[0])
	})
}

func TestReadAndPersistAreMutuallyExclusive(t *testing.T) {
	var c = buildEmployees(3)
	var release = make(chan struct{})
	c.ReadHook = func(context.Context) error { <-release; return nil }

	var ctl = NewController(DefaultConfig(), c, c, nil)
	var ctx = context.Background()

	var op = ctl.Refresh(ctx)
	assert.True(t, ctl.InFlight())
	assert.Equal(t, ErrJobInFlight, ctl.Refresh(ctx).Err())
	assert.Equal(t, ErrJobInFlight, ctl.ApplyChanges(ctx, nil).Err())

	// Updates are permitted during reads.
	assert.NoError(t, ctl.Update(func(*model.Model) error { return nil }))

	close(release)
	require.NoError(t, op.Err())
	assert.False(t, ctl.InFlight())
	assert.Equal(t, 3, rowCount(ctl))
}

func TestUpdatesAreRejectedDuringPersist(t *testing.T) {
	var c = buildEmployees(3)
	var ctl = NewController(DefaultConfig(), c, c, nil)
	var ctx = context.Background()
	require.NoError(t, ctl.Refresh(ctx).Err())

	var entered = make(chan struct{}, 1)
	var release = make(chan struct{})
	c.FailOn = func(sourcetest.Call) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	}

	require.NoError(t, ctl.Update(func(m *model.Model) error {
		return m.UpdateCellValue(m.Attribute("salary"), 1, int64(250))
	}))

	var listened *persist.Plan
	var op = ctl.ApplyChanges(ctx, func(plan *persist.Plan, err error) {
		assert.NoError(t, err)
		listened = plan
	})
	<-entered

	assert.Equal(t, ErrJobInFlight, ctl.Update(func(*model.Model) error { return nil }))
	assert.Equal(t, ErrJobInFlight, ctl.RejectChanges())
	assert.Equal(t, ErrJobInFlight, ctl.ReadNextSegment(ctx).Err())
	ctl.View(func(m *model.Model) { assert.True(t, m.IsDirty()) })

	close(release)
	require.NoError(t, op.Err())
	require.NotNil(t, listened)
	assert.Equal(t, persist.Done, listened.State)
	assert.Equal(t, 1, listened.Counters.Updated)

	ctl.View(func(m *model.Model) { assert.False(t, m.IsDirty()) })
	assert.Equal(t, int64(250), c.Snapshot()[1][2])
}

func TestApplyChangesFailsFastWithoutIdentifier(t *testing.T) {
	var name = model.EntityName{Name: "logs"}
	var c = sourcetest.NewContainer(name, sourcetest.Column("ts", "INTEGER"), sourcetest.Column("msg", "TEXT"))
	c.Rows = [][]interface{}{{int64(1), "started"}}

	var ctl = NewController(DefaultConfig(), c, c, nil)
	var ctx = context.Background()
	require.NoError(t, ctl.Refresh(ctx).Err())

	// Without a VirtualKeyStore, the entity has no identifier at all.
	var err = ctl.Update(func(m *model.Model) error {
		return m.UpdateCellValue(m.Attribute("msg"), 0, "begun")
	})
	assert.True(t, errors.Is(err, model.ErrReadOnlyAttribute))

	// Case: with a VirtualKeyStore, the identifier is virtual but has no
	// columns, and the commit fails before any statement is issued.
	ctl = NewController(DefaultConfig(), c, c, identifier.NewMemoryVirtualKeyStore())
	require.NoError(t, ctl.Refresh(ctx).Err())
	require.NoError(t, ctl.Update(func(m *model.Model) error {
		return m.UpdateCellValue(m.Attribute("msg"), 0, "begun")
	}))
	c.ResetCalls()

	var notified error
	err = ctl.ApplyChanges(ctx, func(_ *persist.Plan, err error) { notified = err }).Err()

	var iae *model.IdentifierAmbiguityError
	require.True(t, errors.As(err, &iae))
	assert.Equal(t, err, notified)
	assert.Empty(t, c.Calls())

	// Case: using all columns as the key.
	var cfg = DefaultConfig()
	cfg.UseAllColumnsAsKeyByDefault = true
	ctl = NewController(cfg, c, c, identifier.NewMemoryVirtualKeyStore())
	require.NoError(t, ctl.Refresh(ctx).Err())
	require.NoError(t, ctl.Update(func(m *model.Model) error {
		return m.UpdateCellValue(m.Attribute("msg"), 0, "begun")
	}))
	require.NoError(t, ctl.ApplyChanges(ctx, nil).Err())
	assert.Equal(t, "begun", c.Snapshot()[0][1])
}

func TestCancelIsCooperative(t *testing.T) {
	var c = buildEmployees(3)
	var started = make(chan struct{})
	c.ReadHook = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	var ctl = NewController(DefaultConfig(), c, c, nil)

	var op = ctl.Refresh(context.Background())
	<-started
	ctl.Cancel()

	assert.Equal(t, context.Canceled, op.Err())
	assert.False(t, ctl.InFlight())
	assert.Equal(t, 0, rowCount(ctl))
}

func TestCancelWatchdogAbandonsStuckRead(t *testing.T) {
	var c = buildEmployees(3)
	var stuck = make(chan struct{})
	c.ReadHook = func(context.Context) error { <-stuck; return nil }

	var cfg = DefaultConfig()
	cfg.CancelForceTimeoutMs = 10
	var ctl = NewController(cfg, c, c, nil)
	var ctx = context.Background()

	var op = ctl.Refresh(ctx)
	ctl.Cancel()
	assert.Equal(t, ErrForceCancelled, op.Err())
	assert.False(t, ctl.InFlight())

	// The abandoned read completes, but its result isn't delivered.
	close(stuck)
	assert.Equal(t, 0, rowCount(ctl))

	// A new read may begin.
	require.NoError(t, ctl.Refresh(ctx).Err())
	assert.Equal(t, 3, rowCount(ctl))
}

func TestFailedReadLeavesModelUntouched(t *testing.T) {
	var c = buildEmployees(3)
	var reads int32
	c.ReadHook = func(context.Context) error {
		if atomic.AddInt32(&reads, 1) == 2 {
			return errors.New("connection reset")
		}
		return nil
	}
	var ctl = NewController(DefaultConfig(), c, c, nil)
	var ctx = context.Background()

	require.NoError(t, ctl.Refresh(ctx).Err())
	require.NoError(t, ctl.Update(func(m *model.Model) error {
		return m.UpdateCellValue(m.Attribute("name"), 0, "anne")
	}))

	assert.EqualError(t, ctl.Refresh(ctx).Err(), "connection reset")
	ctl.View(func(m *model.Model) {
		assert.True(t, m.IsDirty())
		assert.Equal(t, "anne", m.Row(0).Values[1])
	})
}

func TestRefreshAndCount(t *testing.T) {
	var c = buildEmployees(4)
	var cfg = DefaultConfig()
	cfg.SegmentSize = 3
	var ctl = NewController(cfg, c, c, nil)

	assert.Equal(t, int64(-1), ctl.RowCount())
	require.NoError(t, ctl.RefreshAndCount(context.Background()).Err())
	assert.Equal(t, int64(4), ctl.RowCount())
	assert.Equal(t, 3, rowCount(ctl))

	var n, err = ctl.CountRows(context.Background()).Count()
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestRefreshAfterUpdateAndSingleRowMode(t *testing.T) {
	var c = buildEmployees(1)
	var cfg = DefaultConfig()
	cfg.RefreshAfterUpdate = true
	cfg.AutoSwitchSingleRowMode = true
	var ctl = NewController(cfg, c, c, nil)
	var ctx = context.Background()

	require.NoError(t, ctl.Refresh(ctx).Err())
	assert.True(t, ctl.SingleRowMode())

	require.NoError(t, ctl.Update(func(m *model.Model) error {
		return m.UpdateCellValue(m.Attribute("name"), 0, "anne")
	}))
	var reads = len(c.Filters())
	require.NoError(t, ctl.ApplyChanges(ctx, nil).Err())

	assert.Len(t, c.Filters(), reads+1)
	ctl.View(func(m *model.Model) {
		assert.False(t, m.IsDirty())
		assert.Equal(t, "anne", m.Row(0).Values[1])
	})
}

func TestGenerateChangesScript(t *testing.T) {
	var c = buildEmployees(2)
	var ctl = NewController(DefaultConfig(), c, c, nil)
	var ctx = context.Background()
	require.NoError(t, ctl.Refresh(ctx).Err())

	require.NoError(t, ctl.Update(func(m *model.Model) error { return m.DeleteRow(1) }))

	var script, err = ctl.GenerateChangesScript(ctx)
	require.NoError(t, err)
	assert.Contains(t, script, "DELETE FROM employees WHERE id = 2;\n")

	require.NoError(t, ctl.RejectChanges())
	ctl.View(func(m *model.Model) { assert.False(t, m.IsDirty()) })
}

func TestVirtualKeysDirPersistsIdentifiers(t *testing.T) {
	var dir = t.TempDir()
	var cfg = DefaultConfig()
	cfg.VirtualKeysDir = dir

	var keys, err = cfg.VirtualKeyStore()
	require.NoError(t, err)

	var c = sourcetest.NewContainer(model.EntityName{Name: "logs"}, sourcetest.Column("msg", "TEXT"))
	var ctl = NewController(cfg, c, c, keys)
	require.NoError(t, ctl.Refresh(context.Background()).Err())

	ctl.View(func(m *model.Model) {
		assert.Equal(t, model.IdentifierVirtual, m.DefaultIdentifier().Kind)
	})
	var b []byte
	b, err = os.ReadFile(filepath.Join(dir, "virtual-keys.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "- entity: logs\n  columns: []\n", string(b))
}

func buildEmployees(n int) *sourcetest.Container {
	var name = model.EntityName{Name: "employees"}
	var c = sourcetest.NewContainer(name,
		source.ColumnMeta{Name: "id", TypeName: "INTEGER"},
		sourcetest.Column("name", "TEXT"),
		sourcetest.Column("salary", "INTEGER"),
	)
	for i := 1; i <= n; i++ {
		c.Rows = append(c.Rows, []interface{}{int64(i), string(rune('a' + i - 1)), int64(100 * i)})
	}
	c.Metadata[name] = &model.EntityMeta{
		Name:        name,
		Constraints: []model.Constraint{{Name: "pk", Type: model.PrimaryKey, Columns: []string{"id"}}},
		Generated:   []string{"id"},
	}
	return c
}

func rowCount(ctl *Controller) (n int) {
	ctl.View(func(m *model.Model) { n = m.RowCount() })
	return
}

func TestConfigSelectsRollbackReflection(t *testing.T) {
	var c = sourcetest.NewContainer(model.EntityName{Name: "logs"}, sourcetest.Column("ts", "INTEGER"))

	assert.False(t, NewController(DefaultConfig(), c, c, nil).persister.UnreflectRolledBack)

	var cfg = DefaultConfig()
	cfg.UnreflectRolledBack = true
	assert.True(t, NewController(cfg, c, c, nil).persister.UnreflectRolledBack)
}
