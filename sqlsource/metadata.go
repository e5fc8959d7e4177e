package sqlsource

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.rowset.dev/core/model"
)

// ErrEntityNotFound is returned when describing an entity which doesn't exist.
var ErrEntityNotFound = errors.New("entity not found")

func (s *Source) describe(ctx context.Context, name model.EntityName) (*model.EntityMeta, error) {
	var schema = name.Schema
	if schema == "" {
		schema = s.Dialect.DefaultSchema()
	}
	var meta = &model.EntityMeta{Name: name}
	var err error

	switch s.Dialect {
	case SQLite:
		err = describeSQLite(ctx, s.DB, schema, name.Name, meta)
	case Postgres:
		err = describePostgres(ctx, s.DB, schema, name.Name, meta)
	default:
		err = errors.Errorf("unsupported dialect %s", s.Dialect)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "describing %s", name)
	}
	return meta, nil
}

func describeSQLite(ctx context.Context, db *sql.DB, schema, table string, meta *model.EntityMeta) error {
	var d = SQLite
	var kind string

	if err := db.QueryRowContext(ctx,
		"SELECT type FROM "+d.QuoteIdent(schema)+".sqlite_master WHERE name = ? AND type IN ('table', 'view')",
		table).Scan(&kind); err == sql.ErrNoRows {
		return ErrEntityNotFound
	} else if err != nil {
		return err
	}
	meta.View = kind == "view"

	var pragma = func(name string) string {
		return "PRAGMA " + d.QuoteIdent(schema) + "." + name + "(" + d.QuoteIdent(table) + ")"
	}

	// Columns, their NOT NULL constraints, and the primary key in key order.
	rows, err := db.QueryContext(ctx, pragma("table_info"))
	if err != nil {
		return err
	}
	type pkColumn struct {
		name, typeName string
		seq            int
	}
	var pk []pkColumn

	for rows.Next() {
		var cid, notNull, pkSeq int
		var col, typeName string
		var dflt sql.NullString

		if err = rows.Scan(&cid, &col, &typeName, &notNull, &dflt, &pkSeq); err != nil {
			rows.Close()
			return err
		}
		if notNull != 0 {
			meta.NotNull = append(meta.NotNull, col)
		}
		if pkSeq != 0 {
			pk = append(pk, pkColumn{name: col, typeName: typeName, seq: pkSeq})
		}
	}
	if err = closeRows(rows); err != nil {
		return err
	}

	if len(pk) != 0 {
		sort.Slice(pk, func(i, j int) bool { return pk[i].seq < pk[j].seq })

		var c = model.Constraint{Name: "PRIMARY", Type: model.PrimaryKey}
		for _, p := range pk {
			c.Columns = append(c.Columns, p.name)
		}
		meta.Constraints = append(meta.Constraints, c)

		// A single INTEGER PRIMARY KEY is an alias of the row id.
		if len(pk) == 1 && strings.EqualFold(pk[0].typeName, "INTEGER") {
			meta.Generated = append(meta.Generated, pk[0].name)
		}
	}

	// Unique indexes. Those created by UNIQUE constraints have origin "u",
	// and by CREATE INDEX have origin "c". Partial indexes don't guarantee
	// uniqueness over all rows, and are skipped.
	type index struct {
		name    string
		typ     model.ConstraintType
		columns []string
	}
	var indexes []index

	if rows, err = db.QueryContext(ctx, pragma("index_list")); err != nil {
		return err
	}
	var names, _ = rows.Columns()
	for rows.Next() {
		var seq, unique, partial int
		var name, origin string
		var dest = []interface{}{&seq, &name, &unique, &origin, &partial}

		if err = rows.Scan(fitDest(dest, len(names))...); err != nil {
			rows.Close()
			return err
		}
		if unique == 0 || partial != 0 || origin == "pk" {
			continue
		}
		var idx = index{name: name, typ: model.UniqueIndex}
		if origin == "u" {
			idx.typ = model.UniqueKey
		}
		indexes = append(indexes, idx)
	}
	if err = closeRows(rows); err != nil {
		return err
	}

	for _, idx := range indexes {
		if rows, err = db.QueryContext(ctx, "PRAGMA "+d.QuoteIdent(schema)+".index_info("+d.QuoteIdent(idx.name)+")"); err != nil {
			return err
		}
		var ok = true
		for rows.Next() {
			var seq, cid int
			var col sql.NullString

			if err = rows.Scan(&seq, &cid, &col); err != nil {
				rows.Close()
				return err
			}
			if !col.Valid {
				ok = false // Expression column.
			}
			idx.columns = append(idx.columns, col.String)
		}
		if err = closeRows(rows); err != nil {
			return err
		}
		if !ok {
			continue
		}

		var c = model.Constraint{Name: idx.name, Type: idx.typ, Columns: idx.columns}
		if c.Type == model.UniqueKey {
			meta.Constraints = append(meta.Constraints, c)
		} else {
			meta.Indexes = append(meta.Indexes, c)
		}
	}

	// Foreign keys, having a row per column grouped by key id.
	if rows, err = db.QueryContext(ctx, pragma("foreign_key_list")); err != nil {
		return err
	}
	var byID = make(map[int]*model.ForeignKey)
	var ids []int

	for rows.Next() {
		var id, seq int
		var refTable, from, onUpdate, onDelete, match string
		var to sql.NullString

		if err = rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			rows.Close()
			return err
		}
		var fk, ok = byID[id]
		if !ok {
			fk = &model.ForeignKey{RefEntity: model.EntityName{Schema: meta.Name.Schema, Name: refTable}}
			byID[id] = fk
			ids = append(ids, id)
		}
		fk.Columns = append(fk.Columns, from)
		if to.Valid {
			fk.RefColumns = append(fk.RefColumns, to.String)
		}
	}
	if err = closeRows(rows); err != nil {
		return err
	}

	sort.Ints(ids)
	for _, id := range ids {
		var fk = byID[id]
		fk.Name = "fk_" + table + "_" + strings.Join(fk.Columns, "_")
		meta.ForeignKeys = append(meta.ForeignKeys, *fk)
	}
	return nil
}

// Queries of the PostgreSQL catalog. Key columns are aggregated in key order.
const (
	pgRelKind = `
		SELECT c.relkind::text FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r', 'p', 'v', 'm', 'f')`

	pgColumns = `
		SELECT column_name, is_nullable, COALESCE(column_default, ''), is_identity, is_generated
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	pgConstraints = `
		SELECT con.conname, con.contype::text,
			ARRAY(SELECT a.attname FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
				ORDER BY k.ord)::text[],
			COALESCE(rn.nspname, ''), COALESCE(rc.relname, ''),
			ARRAY(SELECT a.attname FROM unnest(con.confkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum
				ORDER BY k.ord)::text[]
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_class rc ON rc.oid = con.confrelid
		LEFT JOIN pg_namespace rn ON rn.oid = rc.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND con.contype IN ('p', 'u', 'f')
		ORDER BY con.conname`

	pgUniqueIndexes = `
		SELECT ic.relname,
			ARRAY(SELECT a.attname FROM unnest(i.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum
				ORDER BY k.ord)::text[]
		FROM pg_index i
		JOIN pg_class ic ON ic.oid = i.indexrelid
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
			AND i.indisunique AND i.indpred IS NULL
			AND NOT 0 = ANY (i.indkey::int2[])
			AND NOT EXISTS (SELECT 1 FROM pg_constraint con WHERE con.conindid = i.indexrelid)
		ORDER BY ic.relname`
)

func describePostgres(ctx context.Context, db *sql.DB, schema, table string, meta *model.EntityMeta) error {
	var kind string
	if err := db.QueryRowContext(ctx, pgRelKind, schema, table).Scan(&kind); err == sql.ErrNoRows {
		return ErrEntityNotFound
	} else if err != nil {
		return err
	}
	meta.View = kind == "v" || kind == "m"

	var rows, err = db.QueryContext(ctx, pgColumns, schema, table)
	if err != nil {
		return err
	}
	for rows.Next() {
		var col, nullable, dflt, identity, generated string
		if err = rows.Scan(&col, &nullable, &dflt, &identity, &generated); err != nil {
			rows.Close()
			return err
		}
		if nullable == "NO" {
			meta.NotNull = append(meta.NotNull, col)
		}
		if strings.HasPrefix(dflt, "nextval(") || identity == "YES" || generated == "ALWAYS" {
			meta.Generated = append(meta.Generated, col)
		}
	}
	if err = closeRows(rows); err != nil {
		return err
	}

	if rows, err = db.QueryContext(ctx, pgConstraints, schema, table); err != nil {
		return err
	}
	for rows.Next() {
		var name, typ, refSchema, refTable string
		var cols, refCols []string

		if err = rows.Scan(&name, &typ, pq.Array(&cols), &refSchema, &refTable, pq.Array(&refCols)); err != nil {
			rows.Close()
			return err
		}
		switch typ {
		case "p":
			meta.Constraints = append(meta.Constraints, model.Constraint{Name: name, Type: model.PrimaryKey, Columns: cols})
		case "u":
			meta.Constraints = append(meta.Constraints, model.Constraint{Name: name, Type: model.UniqueKey, Columns: cols})
		case "f":
			var ref = model.EntityName{Schema: refSchema, Name: refTable}
			if refSchema == schema {
				ref.Schema = meta.Name.Schema
			}
			meta.ForeignKeys = append(meta.ForeignKeys, model.ForeignKey{
				Name:       name,
				Columns:    cols,
				RefEntity:  ref,
				RefColumns: refCols,
			})
		}
	}
	if err = closeRows(rows); err != nil {
		return err
	}

	if rows, err = db.QueryContext(ctx, pgUniqueIndexes, schema, table); err != nil {
		return err
	}
	for rows.Next() {
		var name string
		var cols []string

		if err = rows.Scan(&name, pq.Array(&cols)); err != nil {
			rows.Close()
			return err
		}
		meta.Indexes = append(meta.Indexes, model.Constraint{Name: name, Type: model.UniqueIndex, Columns: cols})
	}
	return closeRows(rows)
}

func closeRows(rows *sql.Rows) error {
	var err = rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

// fitDest adapts |dest| to a result having |n| columns, which varies with
// the SQLite version. Surplus columns are discarded.
func fitDest(dest []interface{}, n int) []interface{} {
	if n <= len(dest) {
		return dest[:n]
	}
	for len(dest) < n {
		dest = append(dest, new(interface{}))
	}
	return dest
}
