package receiver

import (
	"context"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.rowset.dev/core/model"
)

// bindReferences binds attributes to the foreign keys of their entities.
func (r *Receiver) bindReferences(ctx context.Context) {
	if r.resolver == nil || r.resolver.Metadata == nil {
		return
	}
	var described = make(map[*model.Entity]struct{})

	for _, a := range r.attrs {
		if a.Entity == nil {
			continue
		} else if _, ok := described[a.Entity]; ok {
			continue
		}
		described[a.Entity] = struct{}{}

		var meta, err = r.resolver.Metadata.DescribeEntity(ctx, a.Entity.Name)
		if err != nil {
			log.WithFields(log.Fields{
				"entity": a.Entity,
				"err":    err,
			}).Warn("failed to describe entity references")
			continue
		}
		for i := range meta.ForeignKeys {
			var fk = &meta.ForeignKeys[i]

			for _, b := range r.attrs {
				if b.Entity != a.Entity || b.Reference != nil {
					continue
				}
				for _, col := range fk.Columns {
					if strings.EqualFold(col, b.Name) {
						b.Reference = fk
					}
				}
			}
		}
	}
}

// bindNested binds child attributes of document attributes, from the
// union of object keys observed across buffered |rows|.
func bindNested(attrs []*model.AttributeBinding, rows [][]interface{}) {
	for _, a := range attrs {
		if a.Kind != model.KindDocument {
			continue
		}
		var kinds = make(map[string]model.DataKind)

		for _, row := range rows {
			var obj, ok = row[a.Position].(map[string]interface{})
			if !ok {
				continue
			}
			for key, v := range obj {
				if k, ok := kinds[key]; !ok || k == model.KindUnknown {
					kinds[key] = kindOfValue(v)
				}
			}
		}

		var keys = make([]string, 0, len(kinds))
		for key := range kinds {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		a.Children = nil
		for i, key := range keys {
			var child = &model.AttributeBinding{
				Name:     key,
				Label:    a.Label + "." + key,
				Position: i,
				Kind:     kinds[key],
				Codec:    model.CodecFor(kinds[key]),
				Entity:   a.Entity,
				Nullable: true,
				Parent:   a,
			}
			a.Children = append(a.Children, child)
		}
	}
}

func kindOfValue(v interface{}) model.DataKind {
	switch v.(type) {
	case string:
		return model.KindString
	case float64:
		return model.KindFloat
	case bool:
		return model.KindBoolean
	case map[string]interface{}, []interface{}:
		return model.KindDocument
	default:
		return model.KindUnknown
	}
}
