package persist

import (
	"github.com/google/uuid"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/source"
)

// plan builds the StatementBatches of pending changes of |m|: a DELETE for
// each REMOVED row, an INSERT for each ADDED row, and an UPDATE for each
// distinct (row, entity) of edited cells. Each kind is ordered on the
// sequence in which its changes were made.
func plan(m *model.Model) (*Plan, error) {
	var out = &Plan{RunID: uuid.New(), State: Planning}

	var removed, added = m.RemovedRows(), m.AddedRows()
	if len(removed) != 0 || len(added) != 0 {
		var id = m.DefaultIdentifier()
		if id == nil {
			return nil, &model.IdentifierAmbiguityError{Entity: firstEntity(m)}
		}
		if len(removed) != 0 && id.Incomplete() {
			return nil, &model.IdentifierAmbiguityError{Entity: id.Entity.Name, Identifier: id}
		}

		for _, ind := range removed {
			out.Statements = append(out.Statements, &StatementBatch{
				Kind:   Delete,
				Entity: id.Entity,
				Row:    ind,
				Keys:   keyValues(m.Row(ind), id),
			})
		}
		for _, ind := range added {
			out.Statements = append(out.Statements, &StatementBatch{
				Kind:   Insert,
				Entity: id.Entity,
				Row:    ind,
				Values: insertValues(m, m.Row(ind), id.Entity),
			})
		}
	}

	type group struct {
		row    int
		entity *model.Entity
	}
	var updates = make(map[group]*StatementBatch)

	for _, cell := range m.ChangedCells() {
		var attr = cell.Attribute
		var id = attr.Identifier

		if id == nil {
			return nil, &model.IdentifierAmbiguityError{Entity: entityName(attr.Entity)}
		} else if id.Incomplete() {
			return nil, &model.IdentifierAmbiguityError{Entity: entityName(attr.Entity), Identifier: id}
		}

		var row = m.Row(cell.Row)
		var g = group{row: cell.Row, entity: attr.Entity}
		var stmt, ok = updates[g]

		if !ok {
			stmt = &StatementBatch{
				Kind:   Update,
				Entity: attr.Entity,
				Row:    cell.Row,
				Keys:   keyValues(row, id),
			}
			updates[g] = stmt
			out.Statements = append(out.Statements, stmt)
		}
		stmt.Values = append(stmt.Values, source.AttributeValue{
			Attribute: attr,
			Value:     row.Values[attr.Position],
		})
	}
	return out, nil
}

// keyValues returns the key of |row| under identifier |id|. Key attributes
// which were themselves edited use their original value, which is the
// key of the row as known to the server.
func keyValues(row *model.Row, id *model.RowIdentifier) []source.AttributeValue {
	var out = make([]source.AttributeValue, 0, len(id.Attributes))
	for _, a := range id.Attributes {
		out = append(out, source.AttributeValue{Attribute: a, Value: row.Original(a.Position)})
	}
	return out
}

// insertValues returns the values of ADDED |row| of |entity|. Pseudo
// attributes, attributes hidden by the Model's DataFilter, and generated
// attributes having no value are omitted.
func insertValues(m *model.Model, row *model.Row, entity *model.Entity) []source.AttributeValue {
	var filter = m.DataFilter()
	var out []source.AttributeValue

	for _, a := range m.Attributes() {
		var v = row.Values[a.Position]

		if a.Entity != entity || a.Pseudo || a.Parent != nil {
			continue
		} else if a.AutoGenerated && v == nil {
			continue
		} else if c := filter.Constraint(a.Name, a.Position); c != nil && !c.Visible {
			continue
		}
		out = append(out, source.AttributeValue{Attribute: a, Value: v})
	}
	return out
}

func firstEntity(m *model.Model) model.EntityName {
	for _, a := range m.Attributes() {
		if a.Entity != nil {
			return a.Entity.Name
		}
	}
	return model.EntityName{}
}

func entityName(e *model.Entity) model.EntityName {
	if e == nil {
		return model.EntityName{}
	}
	return e.Name
}
