package sqlsource

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/source"
)

// Table is a container of the rows of one entity.
type Table struct {
	src    *Source
	Entity model.EntityName
	// ExposeRowID reads the Dialect's row identity column as a leading
	// pseudo attribute of the result.
	ExposeRowID bool
}

var (
	_ source.DataContainer  = (*Table)(nil)
	_ source.ScriptRenderer = (*Table)(nil)
)

func (t *Table) Name() string { return t.Entity.String() }

func (t *Table) OpenSession(ctx context.Context, purpose source.Purpose) (source.Session, error) {
	return t.src.openSession(ctx, purpose)
}

// meta returns the EntityMeta of |name|, or nil if it can't be described.
func (t *Table) meta(ctx context.Context, name model.EntityName) *model.EntityMeta {
	var meta, err = t.src.DescribeEntity(ctx, name)
	if err != nil {
		log.WithFields(log.Fields{"entity": name, "err": err}).Debug("failed to describe entity")
		return nil
	}
	return meta
}

func (t *Table) ReadData(ctx context.Context, sess source.Session, recv source.DataReceiver, filter *model.DataFilter,
	offset, maxRows int, flags source.ReadFlags) (source.Statistics, error) {

	var d = t.src.Dialect
	var withMeta = flags&source.FlagNoMetadata == 0
	var meta *model.EntityMeta
	if withMeta {
		meta = t.meta(ctx, t.Entity)
	}

	var cols = "*"
	if t.ExposeRowID {
		cols = d.RowIDColumn() + " AS " + d.QuoteIdent(d.RowIDColumn()) + ", *"
	}

	return t.src.read(ctx, sess, recv, readQuery{
		text: "SELECT " + cols + " FROM " + d.QuoteEntity(t.Entity) + d.whereClause(filter) +
			d.orderClause(filter) + d.limitClause(offset, maxRows),
		offset:  offset,
		maxRows: maxRows,
		column: func(index int, name, typeName string, nullable bool) source.ColumnMeta {
			var col = source.ColumnMeta{Name: name, Label: name, TypeName: typeName, Nullable: nullable}
			if !withMeta {
				return col
			}
			col.Entity = t.Entity

			if t.ExposeRowID && index == 0 {
				col.Pseudo, col.Nullable = true, false
				if col.TypeName == "" {
					col.TypeName = d.rowIDTypeName()
				}
			} else if meta != nil {
				col.AutoGenerated = meta.IsGenerated(name)
				col.Nullable = nullable && !meta.IsNotNull(name)
			}
			return col
		},
	})
}

func (t *Table) CountData(ctx context.Context, sess source.Session, filter *model.DataFilter) (int64, error) {
	var d = t.src.Dialect
	return t.src.count(ctx, sess, "SELECT COUNT(*) FROM "+d.QuoteEntity(t.Entity)+d.whereClause(filter))
}

// InsertData implements source.DataContainer. Generated keys are returned
// through PostgreSQL's RETURNING clause, and through LastInsertId of SQLite,
// where they're reported both as the row id and as the single generated
// column of the entity, which is necessarily an alias of the row id.
func (t *Table) InsertData(ctx context.Context, sess source.Session, entity model.EntityName,
	values []source.AttributeValue, keys source.KeyReceiver) (int64, error) {

	var ss, err = sessionOf(sess, t.src)
	if err != nil {
		return 0, err
	}
	var d = t.src.Dialect
	var b = &builder{d: d}

	b.write("INSERT INTO ", d.QuoteEntity(entity))
	if len(values) == 0 {
		b.write(" DEFAULT VALUES")
	} else {
		var cols, params []string
		for _, v := range values {
			var arg, err = argValue(v)
			if err != nil {
				return 0, err
			}
			cols = append(cols, d.QuoteIdent(v.Attribute.Name))
			params = append(params, b.bind(arg))
		}
		b.write(" (", strings.Join(cols, ", "), ") VALUES (", strings.Join(params, ", "), ")")
	}

	var generated []string
	if keys != nil {
		if meta := t.meta(ctx, entity); meta != nil {
			generated = meta.Generated
		}
	}

	if d == Postgres && len(generated) != 0 {
		return t.insertReturning(ctx, ss, b, generated, keys)
	}

	res, err := ss.q.ExecContext(ctx, b.String(), b.args...)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if d == SQLite && keys != nil {
		var cols []string
		if t.ExposeRowID && entity == t.Entity {
			cols = append(cols, d.RowIDColumn())
		}
		if len(generated) == 1 {
			cols = append(cols, generated[0])
		}
		if len(cols) != 0 {
			var id, err = res.LastInsertId()
			if err != nil {
				return count, errors.WithMessage(err, "reading inserted row id")
			}
			var vals = make([]interface{}, len(cols))
			for i := range vals {
				vals[i] = id
			}
			keys.ReceiveKeys(cols, vals)
		}
	}
	return count, nil
}

func (t *Table) insertReturning(ctx context.Context, ss *session, b *builder, generated []string, keys source.KeyReceiver) (int64, error) {
	var d = t.src.Dialect
	var quoted = make([]string, len(generated))
	for i, g := range generated {
		quoted[i] = d.QuoteIdent(g)
	}
	b.write(" RETURNING ", strings.Join(quoted, ", "))

	var vals = make([]interface{}, len(generated))
	var ptrs = make([]interface{}, len(generated))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := ss.q.QueryRowContext(ctx, b.String(), b.args...).Scan(ptrs...); err == sql.ErrNoRows {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	keys.ReceiveKeys(generated, vals)
	return 1, nil
}

// UpdateData implements source.DataContainer. Generated keys are not
// returned by updates, and |recv| is unused.
func (t *Table) UpdateData(ctx context.Context, sess source.Session, entity model.EntityName,
	keys, values []source.AttributeValue, _ source.KeyReceiver) (int64, error) {

	var ss, err = sessionOf(sess, t.src)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, errors.New("update has no key")
	}
	var d = t.src.Dialect
	var b = &builder{d: d}

	b.write("UPDATE ", d.QuoteEntity(entity), " SET ")
	for i, v := range values {
		var arg, err = argValue(v)
		if err != nil {
			return 0, err
		}
		if i != 0 {
			b.write(", ")
		}
		b.write(d.QuoteIdent(v.Attribute.Name), " = ", b.bind(arg))
	}
	b.write(" WHERE ")
	if err = b.predicate(keys); err != nil {
		return 0, err
	}
	return t.exec(ctx, ss, b)
}

func (t *Table) DeleteData(ctx context.Context, sess source.Session, entity model.EntityName,
	keys []source.AttributeValue) (int64, error) {

	var ss, err = sessionOf(sess, t.src)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, errors.New("delete has no key")
	}
	var d = t.src.Dialect
	var b = &builder{d: d}

	b.write("DELETE FROM ", d.QuoteEntity(entity), " WHERE ")
	if err = b.predicate(keys); err != nil {
		return 0, err
	}
	return t.exec(ctx, ss, b)
}

func (t *Table) exec(ctx context.Context, ss *session, b *builder) (int64, error) {
	var res, err = ss.q.ExecContext(ctx, b.String(), b.args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RenderInsert implements source.ScriptRenderer.
func (t *Table) RenderInsert(entity model.EntityName, values []source.AttributeValue) string {
	var d = t.src.Dialect
	if len(values) == 0 {
		return "INSERT INTO " + d.QuoteEntity(entity) + " DEFAULT VALUES"
	}
	var cols, vals []string
	for _, v := range values {
		cols = append(cols, d.QuoteIdent(v.Attribute.Name))
		vals = append(vals, d.Literal(v.Attribute, v.Value))
	}
	return "INSERT INTO " + d.QuoteEntity(entity) + " (" + strings.Join(cols, ", ") +
		") VALUES (" + strings.Join(vals, ", ") + ")"
}

// RenderUpdate implements source.ScriptRenderer.
func (t *Table) RenderUpdate(entity model.EntityName, keys, values []source.AttributeValue) string {
	var d = t.src.Dialect
	var sets []string
	for _, v := range values {
		sets = append(sets, d.QuoteIdent(v.Attribute.Name)+" = "+d.Literal(v.Attribute, v.Value))
	}
	return "UPDATE " + d.QuoteEntity(entity) + " SET " + strings.Join(sets, ", ") +
		" WHERE " + d.renderPredicate(keys)
}

// RenderDelete implements source.ScriptRenderer.
func (t *Table) RenderDelete(entity model.EntityName, keys []source.AttributeValue) string {
	var d = t.src.Dialect
	return "DELETE FROM " + d.QuoteEntity(entity) + " WHERE " + d.renderPredicate(keys)
}
