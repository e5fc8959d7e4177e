package persist

import (
	"strings"

	log "github.com/sirupsen/logrus"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/source"
)

// KeyDataReceiver is a source.KeyReceiver which maps generated key columns
// of one INSERT or UPDATE onto attributes of the statement's entity.
// Columns are matched on attribute name. A column having no match is
// assigned to the first auto-generated attribute of the entity, and is
// otherwise logged and ignored: drivers report generated keys of composite
// keys inconsistently.
type KeyDataReceiver struct {
	stmt  *StatementBatch
	attrs []*model.AttributeBinding
}

var _ source.KeyReceiver = (*KeyDataReceiver)(nil)

// NewKeyDataReceiver returns a KeyDataReceiver which populates the Returned
// values of |stmt|, matched against the |attrs| of its entity.
func NewKeyDataReceiver(stmt *StatementBatch, attrs []*model.AttributeBinding) *KeyDataReceiver {
	var owned []*model.AttributeBinding
	for _, a := range attrs {
		if a.Entity == stmt.Entity && a.Parent == nil {
			owned = append(owned, a)
		}
	}
	return &KeyDataReceiver{stmt: stmt, attrs: owned}
}

// ReceiveKeys implements source.KeyReceiver.
func (r *KeyDataReceiver) ReceiveKeys(columns []string, values []interface{}) {
	for i, col := range columns {
		if i >= len(values) {
			break
		}
		var attr = r.match(col)
		if attr == nil {
			log.WithFields(log.Fields{
				"entity": r.stmt.Entity,
				"column": col,
			}).Warn("generated key matches no attribute; ignoring")
			continue
		}

		var v, err = attr.Codec.Decode(values[i])
		if err != nil {
			log.WithFields(log.Fields{
				"attribute": attr.String(),
				"column":    col,
				"err":       err,
			}).Warn("failed to decode generated key; ignoring")
			continue
		}
		if r.stmt.Returned == nil {
			r.stmt.Returned = make(map[int]interface{})
		}
		r.stmt.Returned[attr.Position] = v
	}
}

func (r *KeyDataReceiver) match(column string) *model.AttributeBinding {
	for _, a := range r.attrs {
		if strings.EqualFold(a.Name, column) {
			return a
		}
	}
	for _, a := range r.attrs {
		if a.AutoGenerated {
			return a
		}
	}
	return nil
}
