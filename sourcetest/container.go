// Package sourcetest provides an in-memory source.DataContainer for tests.
package sourcetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/source"
)

// Call is a logged invocation of a Container or one of its Sessions.
type Call struct {
	Op     string
	Entity model.EntityName
	Keys   map[string]interface{}
	Values map[string]interface{}
}

func (c Call) String() string {
	var b strings.Builder
	b.WriteString(c.Op)
	if !c.Entity.IsZero() {
		b.WriteString(" " + c.Entity.String())
	}
	if len(c.Values) != 0 {
		b.WriteString(" SET " + formatMap(c.Values))
	}
	if len(c.Keys) != 0 {
		b.WriteString(" WHERE " + formatMap(c.Keys))
	}
	return b.String()
}

func formatMap(m map[string]interface{}) string {
	var parts []string
	for k, v := range m {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// Container is an in-memory DataContainer of fixed Columns, holding Rows of
// raw values. Writes are applied to Rows. Columns may span more than one
// entity, in which case writes of an entity affect only its own columns.
type Container struct {
	ContainerName string
	Columns       []source.ColumnMeta
	Rows          [][]interface{}
	// Metadata returned by DescribeEntity. Entities not present are
	// described as having no keys.
	Metadata map[model.EntityName]*model.EntityMeta
	// DescribeErr, if set, fails every DescribeEntity.
	DescribeErr error

	AutoCommit bool
	Savepoints bool
	// NextKey is the next value assigned to a generated column.
	NextKey int64
	// KeyAlias, if set, is the column name reported for generated keys in
	// place of the actual column name.
	KeyAlias string

	// FailOn is invoked with each write Call before it's applied, and a
	// returned error fails the write.
	FailOn func(Call) error
	// ReadHook is invoked at the start of each ReadData.
	ReadHook func(context.Context) error

	mu         sync.Mutex
	calls      []Call
	filters    []*model.DataFilter
	describes  int
	savepoints map[string][][]interface{}
	spSeq      int
}

var _ source.DataContainer = (*Container)(nil)
var _ source.MetadataProvider = (*Container)(nil)

// NewContainer returns a Container of |entity| having the given columns,
// each owned by |entity|.
func NewContainer(entity model.EntityName, columns ...source.ColumnMeta) *Container {
	for i := range columns {
		if columns[i].Entity.IsZero() {
			columns[i].Entity = entity
		}
		if columns[i].Label == "" {
			columns[i].Label = columns[i].Name
		}
	}
	return &Container{
		ContainerName: entity.String(),
		Columns:       columns,
		Metadata:      make(map[model.EntityName]*model.EntityMeta),
		AutoCommit:    true,
		NextKey:       1000,
	}
}

// Column returns a nullable ColumnMeta of the name and type.
func Column(name, typeName string) source.ColumnMeta {
	return source.ColumnMeta{Name: name, Label: name, TypeName: typeName, Nullable: true}
}

// Calls returns logged write and session Calls.
func (c *Container) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallStrings returns logged Calls as strings.
func (c *Container) CallStrings() []string {
	var out []string
	for _, call := range c.Calls() {
		out = append(out, call.String())
	}
	return out
}

// ResetCalls clears logged Calls.
func (c *Container) ResetCalls() {
	c.mu.Lock()
	c.calls = nil
	c.mu.Unlock()
}

// Filters returns DataFilters passed to ReadData and CountData.
func (c *Container) Filters() []*model.DataFilter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*model.DataFilter(nil), c.filters...)
}

// Describes returns the number of DescribeEntity invocations.
func (c *Container) Describes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.describes
}

// Snapshot returns a copy of current Rows.
func (c *Container) Snapshot() [][]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyRows(c.Rows)
}

// Name implements DataContainer.
func (c *Container) Name() string { return c.ContainerName }

// OpenSession implements DataContainer.
func (c *Container) OpenSession(_ context.Context, purpose source.Purpose) (source.Session, error) {
	c.log(Call{Op: "open " + purpose.String()})
	return &session{c: c, purpose: purpose}, nil
}

// DescribeEntity implements MetadataProvider.
func (c *Container) DescribeEntity(_ context.Context, name model.EntityName) (*model.EntityMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.describes++
	if c.DescribeErr != nil {
		return nil, c.DescribeErr
	} else if m, ok := c.Metadata[name]; ok {
		return m, nil
	}
	return &model.EntityMeta{Name: name}, nil
}

// ReadData implements DataContainer.
func (c *Container) ReadData(ctx context.Context, _ source.Session, recv source.DataReceiver,
	filter *model.DataFilter, offset, maxRows int, flags source.ReadFlags) (source.Statistics, error) {

	if c.ReadHook != nil {
		if err := c.ReadHook(ctx); err != nil {
			return source.Statistics{}, err
		}
	}

	c.mu.Lock()
	c.filters = append(c.filters, filter)
	var rows = copyRows(c.Rows)
	var columns = append([]source.ColumnMeta(nil), c.Columns...)
	c.mu.Unlock()

	if flags&source.FlagNoMetadata != 0 {
		for i := range columns {
			columns[i].Entity, columns[i].Pseudo = model.EntityName{}, false
		}
	}
	var stats = source.Statistics{QueryText: "SELECT * FROM " + c.ContainerName}

	if err := recv.FetchStart(ctx, columns, offset, maxRows); err != nil {
		return stats, err
	}
	for i := offset; i < len(rows) && (maxRows <= 0 || i < offset+maxRows); i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		} else if err = recv.FetchRow(ctx, rows[i]); err != nil {
			return stats, err
		}
		stats.RowsFetched++
	}
	return stats, recv.FetchEnd(ctx)
}

// CountData implements DataContainer.
func (c *Container) CountData(_ context.Context, _ source.Session, filter *model.DataFilter) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.filters = append(c.filters, filter)
	return int64(len(c.Rows)), nil
}

// InsertData implements DataContainer.
func (c *Container) InsertData(_ context.Context, _ source.Session, entity model.EntityName,
	values []source.AttributeValue, keys source.KeyReceiver) (int64, error) {

	var call = Call{Op: "INSERT", Entity: entity, Values: toMap(values)}
	if err := c.check(call); err != nil {
		return 0, err
	}

	c.mu.Lock()
	var row = make([]interface{}, len(c.Columns))
	var keyCols []string
	var keyVals []interface{}

	for i, col := range c.Columns {
		if col.Entity != entity {
			continue
		}
		if v, ok := call.Values[col.Name]; ok {
			row[i] = v
		}
		if m := c.Metadata[entity]; row[i] == nil && m != nil && m.IsGenerated(col.Name) {
			row[i] = c.NextKey
			c.NextKey++

			var name = col.Name
			if c.KeyAlias != "" {
				name = c.KeyAlias
			}
			keyCols, keyVals = append(keyCols, name), append(keyVals, row[i])
		}
	}
	c.Rows = append(c.Rows, row)
	c.mu.Unlock()

	if keys != nil && len(keyCols) != 0 {
		keys.ReceiveKeys(keyCols, keyVals)
	}
	return 1, nil
}

// UpdateData implements DataContainer.
func (c *Container) UpdateData(_ context.Context, _ source.Session, entity model.EntityName,
	keys, values []source.AttributeValue, _ source.KeyReceiver) (int64, error) {

	var call = Call{Op: "UPDATE", Entity: entity, Keys: toMap(keys), Values: toMap(values)}
	if err := c.check(call); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var count int64
	for _, row := range c.Rows {
		if !c.rowMatches(entity, row, keys) {
			continue
		}
		for _, v := range values {
			if i := c.columnIndex(entity, v.Attribute.Name); i != -1 {
				row[i] = v.Value
			}
		}
		count++
	}
	return count, nil
}

// DeleteData implements DataContainer.
func (c *Container) DeleteData(_ context.Context, _ source.Session, entity model.EntityName,
	keys []source.AttributeValue) (int64, error) {

	var call = Call{Op: "DELETE", Entity: entity, Keys: toMap(keys)}
	if err := c.check(call); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var kept = c.Rows[:0]
	var count int64

	for _, row := range c.Rows {
		if c.rowMatches(entity, row, keys) {
			count++
		} else {
			kept = append(kept, row)
		}
	}
	c.Rows = kept
	return count, nil
}

func (c *Container) check(call Call) error {
	c.log(call)
	if c.FailOn != nil {
		return c.FailOn(call)
	}
	return nil
}

func (c *Container) log(call Call) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

func (c *Container) columnIndex(entity model.EntityName, name string) int {
	for i, col := range c.Columns {
		if col.Entity == entity && strings.EqualFold(col.Name, name) {
			return i
		}
	}
	return -1
}

func (c *Container) rowMatches(entity model.EntityName, row []interface{}, keys []source.AttributeValue) bool {
	for _, k := range keys {
		var i = c.columnIndex(entity, k.Attribute.Name)
		if i == -1 || !k.Attribute.Codec.Equal(row[i], k.Value) {
			return false
		}
	}
	return len(keys) != 0
}

type session struct {
	c       *Container
	purpose source.Purpose
}

func (s *session) AutoCommit() bool         { return s.c.AutoCommit }
func (s *session) SupportsSavepoints() bool { return s.c.Savepoints }

func (s *session) SetSavepoint(context.Context) (source.Savepoint, error) {
	if !s.c.Savepoints {
		return source.Savepoint{}, errors.New("savepoints are not supported")
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	s.c.spSeq++
	var sp = source.Savepoint{Name: fmt.Sprintf("sp%d", s.c.spSeq)}
	if s.c.savepoints == nil {
		s.c.savepoints = make(map[string][][]interface{})
	}
	s.c.savepoints[sp.Name] = copyRows(s.c.Rows)
	s.c.calls = append(s.c.calls, Call{Op: "SAVEPOINT " + sp.Name})
	return sp, nil
}

func (s *session) ReleaseSavepoint(_ context.Context, sp source.Savepoint) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	delete(s.c.savepoints, sp.Name)
	s.c.calls = append(s.c.calls, Call{Op: "RELEASE " + sp.Name})
	return nil
}

func (s *session) RollbackTo(_ context.Context, sp source.Savepoint) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	var rows, ok = s.c.savepoints[sp.Name]
	if !ok {
		return errors.Errorf("savepoint %s does not exist", sp.Name)
	}
	s.c.Rows = rows
	delete(s.c.savepoints, sp.Name)
	s.c.calls = append(s.c.calls, Call{Op: "ROLLBACK TO " + sp.Name})
	return nil
}

func (s *session) Close() error {
	s.c.log(Call{Op: "close " + s.purpose.String()})
	return nil
}

func toMap(values []source.AttributeValue) map[string]interface{} {
	var out = make(map[string]interface{}, len(values))
	for _, v := range values {
		out[v.Attribute.Name] = v.Value
	}
	return out
}

func copyRows(rows [][]interface{}) [][]interface{} {
	var out = make([][]interface{}, len(rows))
	for i, r := range rows {
		out[i] = append([]interface{}(nil), r...)
	}
	return out
}
