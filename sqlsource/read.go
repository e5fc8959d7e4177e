package sqlsource

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/source"
)

// readQuery is one paged read of a container.
type readQuery struct {
	text    string
	offset  int
	maxRows int
	// column returns the ColumnMeta of the column |index| of the result.
	column func(index int, name, typeName string, nullable bool) source.ColumnMeta
}

// read executes the readQuery within |sess|, passing its rows to |recv|.
func (s *Source) read(ctx context.Context, sess source.Session, recv source.DataReceiver, q readQuery) (source.Statistics, error) {
	var stats = source.Statistics{QueryText: q.text}

	var ss, err = sessionOf(sess, s)
	if err != nil {
		return stats, err
	}
	var started = time.Now()

	rows, err := ss.q.QueryContext(ctx, q.text)
	if err != nil {
		return stats, errors.WithMessage(err, "executing query")
	}
	defer rows.Close()
	stats.ExecuteTime = time.Since(started)

	types, err := rows.ColumnTypes()
	if err != nil {
		return stats, errors.WithMessage(err, "reading column types")
	}
	var columns = make([]source.ColumnMeta, len(types))
	for i, ct := range types {
		var nullable, ok = ct.Nullable()
		columns[i] = q.column(i, ct.Name(), ct.DatabaseTypeName(), nullable || !ok)
	}

	if err = recv.FetchStart(ctx, columns, q.offset, q.maxRows); err != nil {
		return stats, err
	}
	started = time.Now()

	var values = make([]interface{}, len(columns))
	var ptrs = make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err = ctx.Err(); err != nil {
			return stats, err
		}
		if err = rows.Scan(ptrs...); err != nil {
			return stats, errors.WithMessage(err, "scanning row")
		}
		if err = recv.FetchRow(ctx, values); err != nil {
			return stats, err
		}
		stats.RowsFetched++
	}
	if err = rows.Err(); err != nil {
		return stats, errors.WithMessage(err, "reading rows")
	}
	stats.FetchTime = time.Since(started)

	if err = recv.FetchEnd(ctx); err != nil {
		return stats, err
	}

	log.WithFields(log.Fields{
		"query":   q.text,
		"rows":    stats.RowsFetched,
		"execute": stats.ExecuteTime,
		"fetch":   stats.FetchTime,
	}).Debug("read rows")

	return stats, nil
}

// count executes a COUNT query within |sess|.
func (s *Source) count(ctx context.Context, sess source.Session, text string) (int64, error) {
	var ss, err = sessionOf(sess, s)
	if err != nil {
		return 0, err
	}
	var n int64
	if err = ss.q.QueryRowContext(ctx, text).Scan(&n); err != nil {
		return 0, errors.WithMessage(err, "counting rows")
	}
	return n, nil
}

// Query is a read-only container of the rows of free-form query text.
// The text is wrapped as a subquery, to which filters and paging apply.
type Query struct {
	src  *Source
	Text string
}

var _ source.DataContainer = (*Query)(nil)

func (q *Query) Name() string {
	var t = strings.Join(strings.Fields(q.Text), " ")
	if len(t) > 48 {
		t = t[:45] + "..."
	}
	return t
}

func (q *Query) OpenSession(ctx context.Context, purpose source.Purpose) (source.Session, error) {
	if purpose == source.PurposePersist {
		return nil, ErrReadOnlyContainer
	}
	return q.src.openSession(ctx, purpose)
}

func (q *Query) subquery() string {
	return "(" + strings.TrimRight(strings.TrimSpace(q.Text), ";") + ") q"
}

func (q *Query) ReadData(ctx context.Context, sess source.Session, recv source.DataReceiver, filter *model.DataFilter,
	offset, maxRows int, _ source.ReadFlags) (source.Statistics, error) {

	var d = q.src.Dialect
	return q.src.read(ctx, sess, recv, readQuery{
		text: "SELECT * FROM " + q.subquery() + d.whereClause(filter) + d.orderClause(filter) +
			d.limitClause(offset, maxRows),
		offset:  offset,
		maxRows: maxRows,
		column: func(_ int, name, typeName string, nullable bool) source.ColumnMeta {
			return source.ColumnMeta{Name: name, Label: name, TypeName: typeName, Nullable: nullable}
		},
	})
}

func (q *Query) CountData(ctx context.Context, sess source.Session, filter *model.DataFilter) (int64, error) {
	return q.src.count(ctx, sess, "SELECT COUNT(*) FROM "+q.subquery()+q.src.Dialect.whereClause(filter))
}

func (q *Query) InsertData(context.Context, source.Session, model.EntityName, []source.AttributeValue, source.KeyReceiver) (int64, error) {
	return 0, ErrReadOnlyContainer
}

func (q *Query) UpdateData(context.Context, source.Session, model.EntityName, []source.AttributeValue, []source.AttributeValue, source.KeyReceiver) (int64, error) {
	return 0, ErrReadOnlyContainer
}

func (q *Query) DeleteData(context.Context, source.Session, model.EntityName, []source.AttributeValue) (int64, error) {
	return 0, ErrReadOnlyContainer
}
