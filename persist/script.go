package persist

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.rowset.dev/core/model"
	"go.rowset.dev/core/source"
)

// GenerateChangesScript plans the pending changes of the Model and renders
// them as a script, without executing them or modifying the Model. If the
// DataContainer is a source.ScriptRenderer, statements are rendered in its
// dialect.
func (p *Persister) GenerateChangesScript(ctx context.Context) (string, error) {
	var plan, err = p.Plan()
	if err != nil {
		return "", err
	}
	var renderer, _ = p.container.(source.ScriptRenderer)

	var b strings.Builder
	fmt.Fprintf(&b, "-- %d change(s) of %s (run %s)\n", len(plan.Statements), p.container.Name(), plan.RunID)

	for _, stmt := range plan.Statements {
		if err = ctx.Err(); err != nil {
			return "", err
		}
		if renderer != nil {
			b.WriteString(renderWith(renderer, stmt))
		} else {
			b.WriteString(RenderStatement(stmt))
		}
		b.WriteString(";\n")
	}
	return b.String(), nil
}

func renderWith(r source.ScriptRenderer, stmt *StatementBatch) string {
	switch stmt.Kind {
	case Delete:
		return r.RenderDelete(stmt.Entity.Name, stmt.Keys)
	case Insert:
		return r.RenderInsert(stmt.Entity.Name, stmt.Values)
	default:
		return r.RenderUpdate(stmt.Entity.Name, stmt.Keys, stmt.Values)
	}
}

// RenderStatement renders a StatementBatch as ANSI SQL having inline
// literal values. It's intended for display, and not for execution.
func RenderStatement(stmt *StatementBatch) string {
	var table = QuoteEntity(stmt.Entity.Name)

	switch stmt.Kind {
	case Delete:
		return "DELETE FROM " + table + " WHERE " + renderPredicate(stmt.Keys)
	case Insert:
		var cols, vals []string
		for _, v := range stmt.Values {
			cols = append(cols, QuoteIdent(v.Attribute.Name))
			vals = append(vals, Literal(v.Attribute, v.Value))
		}
		return "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(vals, ", ") + ")"
	default:
		var sets []string
		for _, v := range stmt.Values {
			sets = append(sets, QuoteIdent(v.Attribute.Name)+" = "+Literal(v.Attribute, v.Value))
		}
		return "UPDATE " + table + " SET " + strings.Join(sets, ", ") + " WHERE " + renderPredicate(stmt.Keys)
	}
}

func renderPredicate(keys []source.AttributeValue) string {
	var parts []string
	for _, k := range keys {
		if k.Value == nil {
			parts = append(parts, QuoteIdent(k.Attribute.Name)+" IS NULL")
		} else {
			parts = append(parts, QuoteIdent(k.Attribute.Name)+" = "+Literal(k.Attribute, k.Value))
		}
	}
	return strings.Join(parts, " AND ")
}

// QuoteIdent quotes |name| as an ANSI identifier, if it's not a plain
// lower-case identifier.
func QuoteIdent(name string) string {
	var plain = name != ""
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9' && i != 0:
		default:
			plain = false
		}
	}
	if plain {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteEntity quotes each part of the EntityName.
func QuoteEntity(n model.EntityName) string {
	if n.Schema == "" {
		return QuoteIdent(n.Name)
	}
	return QuoteIdent(n.Schema) + "." + QuoteIdent(n.Name)
}

// Literal renders |v| of |attr| as a SQL literal.
func Literal(attr *model.AttributeBinding, v interface{}) string {
	switch vv := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if vv {
			return "TRUE"
		}
		return "FALSE"
	case int64, int, float64:
		return attr.Codec.Format(v)
	case []byte:
		return "X'" + hex.EncodeToString(vv) + "'"
	case time.Time:
		return quoteString(vv.Format("2006-01-02 15:04:05.999999999Z07:00"))
	default:
		return quoteString(attr.Codec.Format(v))
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
