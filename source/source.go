// Package source defines the contract between the result-set engine and a
// remote data source. The engine reads pages of a container's rows through
// a DataReceiver, counts them, and writes pending changes back as
// individual INSERT, UPDATE and DELETE calls within a Session.
package source

import (
	"context"
	"fmt"
	"time"

	"go.rowset.dev/core/model"
)

// Purpose of an opened Session. Persist sessions are always distinct from
// those used to read, so that reads and writes never interleave on one
// connection or transaction.
type Purpose int

const (
	PurposeRead Purpose = iota
	PurposeCount
	PurposePersist
)

func (p Purpose) String() string {
	switch p {
	case PurposeRead:
		return "read"
	case PurposeCount:
		return "count"
	case PurposePersist:
		return "persist"
	default:
		return fmt.Sprintf("Purpose(%d)", int(p))
	}
}

// Savepoint is an established transaction sub-boundary of a Session.
type Savepoint struct {
	Name string
}

// Session is an execution context of a DataContainer.
type Session interface {
	// AutoCommit returns true if each statement of the Session commits
	// as it's executed.
	AutoCommit() bool
	// SupportsSavepoints returns true if SetSavepoint may be called.
	SupportsSavepoints() bool
	// SetSavepoint establishes a new Savepoint.
	SetSavepoint(context.Context) (Savepoint, error)
	// ReleaseSavepoint releases a Savepoint, retaining its effects.
	ReleaseSavepoint(context.Context, Savepoint) error
	// RollbackTo reverts all effects since the Savepoint was established.
	RollbackTo(context.Context, Savepoint) error
	// Close the Session, returning resources it holds.
	Close() error
}

// ColumnMeta is the raw metadata of one column of a read result.
type ColumnMeta struct {
	Name     string
	Label    string
	TypeName string
	// Entity owning the column, or zero if not known to the source.
	Entity        model.EntityName
	Pseudo        bool
	AutoGenerated bool
	Nullable      bool
}

// DataReceiver consumes one paginated read. ReadData invokes FetchStart,
// then FetchRow for each row, then FetchEnd. Close is invoked by the
// receiver's owner when the read is complete, whether or not it succeeded.
type DataReceiver interface {
	FetchStart(ctx context.Context, columns []ColumnMeta, offset, maxRows int) error
	// FetchRow receives raw driver values of a row, in column order. The
	// |values| slice may be re-used by the source after FetchRow returns.
	FetchRow(ctx context.Context, values []interface{}) error
	FetchEnd(ctx context.Context) error
	Close()
}

// KeyReceiver receives the generated key columns of an INSERT or UPDATE.
type KeyReceiver interface {
	ReceiveKeys(columns []string, values []interface{})
}

// AttributeValue pairs an attribute with a value to be written or matched.
type AttributeValue struct {
	Attribute *model.AttributeBinding
	Value     interface{}
}

func (v AttributeValue) String() string {
	return fmt.Sprintf("%s=%s", v.Attribute.Name, v.Attribute.Codec.Format(v.Value))
}

// ReadFlags modify the behavior of ReadData.
type ReadFlags uint

const (
	// FlagNoMetadata skips discovery of column entities and pseudo columns.
	FlagNoMetadata ReadFlags = 1 << iota
	// FlagSegment marks a read of a continuation page.
	FlagSegment
)

// Statistics of a completed read.
type Statistics struct {
	RowsFetched int
	ExecuteTime time.Duration
	FetchTime   time.Duration
	QueryText   string
}

// DataContainer is a readable, and possibly writable, set of rows.
type DataContainer interface {
	// Name of the container, for display.
	Name() string
	// OpenSession opens a new Session of the given Purpose.
	OpenSession(context.Context, Purpose) (Session, error)
	// ReadData reads up to |maxRows| rows (or all rows, if zero) starting at
	// |offset|, matching the DataFilter, into the DataReceiver.
	ReadData(ctx context.Context, session Session, recv DataReceiver, filter *model.DataFilter,
		offset, maxRows int, flags ReadFlags) (Statistics, error)
	// CountData counts rows matching the DataFilter.
	CountData(ctx context.Context, session Session, filter *model.DataFilter) (int64, error)
	// InsertData inserts a row of |values| into |entity|. Generated keys of
	// the row are passed to |keys|, which may be nil.
	InsertData(ctx context.Context, session Session, entity model.EntityName,
		values []AttributeValue, keys KeyReceiver) (int64, error)
	// UpdateData sets |values| of the |entity| row matching |keys|.
	UpdateData(ctx context.Context, session Session, entity model.EntityName,
		keys, values []AttributeValue, recv KeyReceiver) (int64, error)
	// DeleteData deletes the |entity| row matching |keys|.
	DeleteData(ctx context.Context, session Session, entity model.EntityName,
		keys []AttributeValue) (int64, error)
}

// MetadataProvider describes the physical structure of entities.
type MetadataProvider interface {
	DescribeEntity(ctx context.Context, name model.EntityName) (*model.EntityMeta, error)
}

// ScriptRenderer is an optional capability of a DataContainer, which renders
// statements as script text in the container's own dialect.
type ScriptRenderer interface {
	RenderInsert(entity model.EntityName, values []AttributeValue) string
	RenderUpdate(entity model.EntityName, keys, values []AttributeValue) string
	RenderDelete(entity model.EntityName, keys []AttributeValue) string
}
