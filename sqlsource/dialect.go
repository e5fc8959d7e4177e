package sqlsource

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/persist"
	"go.rowset.dev/core/source"
)

// Dialect of a SQL database.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// ParseDialect parses a Dialect from its name or "database/sql" driver name.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	default:
		return 0, errors.Errorf("unknown dialect %q", s)
	}
}

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

// DriverName is the "database/sql" driver of the Dialect. Programs must
// import the driver package to register it.
func (d Dialect) DriverName() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite3"
}

// Placeholder returns the bind parameter of 1-based argument |n|.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// QuoteIdent quotes |name| as an identifier.
func (d Dialect) QuoteIdent(name string) string {
	return pq.QuoteIdentifier(name)
}

// QuoteEntity quotes each part of the EntityName.
func (d Dialect) QuoteEntity(n model.EntityName) string {
	if n.Schema == "" {
		return d.QuoteIdent(n.Name)
	}
	return d.QuoteIdent(n.Schema) + "." + d.QuoteIdent(n.Name)
}

// DefaultSchema is the schema of entities which name none.
func (d Dialect) DefaultSchema() string {
	if d == Postgres {
		return "public"
	}
	return "main"
}

// RowIDColumn is the name of the Dialect's pseudo row identity column.
func (d Dialect) RowIDColumn() string {
	if d == Postgres {
		return "ctid"
	}
	return "rowid"
}

func (d Dialect) rowIDTypeName() string {
	if d == Postgres {
		return "TID"
	}
	return "INTEGER"
}

func (d Dialect) limitClause(offset, maxRows int) string {
	switch {
	case maxRows > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", maxRows, offset)
	case maxRows > 0:
		return fmt.Sprintf(" LIMIT %d", maxRows)
	case offset > 0 && d == SQLite:
		// SQLite requires a LIMIT with any OFFSET.
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	case offset > 0:
		return fmt.Sprintf(" OFFSET %d", offset)
	default:
		return ""
	}
}

// Literal renders |v| of |attr| as a SQL literal of the Dialect.
func (d Dialect) Literal(attr *model.AttributeBinding, v interface{}) string {
	if d != Postgres {
		return persist.Literal(attr, v)
	}
	switch vv := v.(type) {
	case []byte:
		return `'\x` + hex.EncodeToString(vv) + `'::bytea`
	case string:
		return pq.QuoteLiteral(vv)
	default:
		return persist.Literal(attr, v)
	}
}

// whereClause renders constraint criteria and free-form WHERE text of the
// DataFilter. Criteria text follows the quoted attribute name, as in
// `"salary" > 100`.
func (d Dialect) whereClause(f *model.DataFilter) string {
	if f == nil {
		return ""
	}
	var parts []string
	for _, c := range f.Constraints {
		if crit := strings.TrimSpace(c.Criteria); crit != "" {
			parts = append(parts, d.QuoteIdent(c.Attribute)+" "+crit)
		}
	}
	if w := strings.TrimSpace(f.Where); w != "" {
		parts = append(parts, "("+w+")")
	}
	if len(parts) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(parts, " AND ")
}

func (d Dialect) orderClause(f *model.DataFilter) string {
	if f == nil {
		return ""
	}
	var parts []string
	for _, c := range f.OrderConstraints() {
		var p = d.QuoteIdent(c.Attribute)
		if c.OrderDescending {
			p += " DESC"
		}
		parts = append(parts, p)
	}
	if o := strings.TrimSpace(f.Order); o != "" {
		parts = append(parts, o)
	}
	if len(parts) == 0 {
		return ""
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// builder accumulates statement text and its bound arguments.
type builder struct {
	d    Dialect
	b    strings.Builder
	args []interface{}
}

func (b *builder) write(parts ...string) {
	for _, p := range parts {
		b.b.WriteString(p)
	}
}

func (b *builder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

// predicate writes key equality conditions. NULL keys match with IS NULL.
func (b *builder) predicate(keys []source.AttributeValue) error {
	for i, k := range keys {
		if i != 0 {
			b.write(" AND ")
		}
		var col = b.d.QuoteIdent(k.Attribute.Name)

		if k.Value == nil {
			b.write(col, " IS NULL")
			continue
		}
		var arg, err = argValue(k)
		if err != nil {
			return err
		}
		b.write(col, " = ", b.bind(arg))
	}
	return nil
}

func (b *builder) String() string { return b.b.String() }

// renderPredicate is the literal form of builder.predicate.
func (d Dialect) renderPredicate(keys []source.AttributeValue) string {
	var parts []string
	for _, k := range keys {
		if k.Value == nil {
			parts = append(parts, d.QuoteIdent(k.Attribute.Name)+" IS NULL")
		} else {
			parts = append(parts, d.QuoteIdent(k.Attribute.Name)+" = "+d.Literal(k.Attribute, k.Value))
		}
	}
	return strings.Join(parts, " AND ")
}
