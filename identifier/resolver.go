// Package identifier resolves the RowIdentifier used to address rows of
// each entity owning attributes of a fetched result.
package identifier

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/source"
)

// Resolver discovers the best RowIdentifier of an entity. Candidates are
// considered in order:
//
//   - A pseudo attribute of the entity (eg, a row id) is always preferred.
//   - Unless the entity is a view, its unique indexes and then its unique
//     and primary key constraints. A primary key is returned immediately,
//     and otherwise the first candidate is retained.
//   - A virtual identifier, looked up or created within VirtualKeys.
//
// A Resolver having neither Metadata nor VirtualKeys resolves only pseudo
// identifiers.
type Resolver struct {
	// Metadata describes entities. If nil, physical keys are not discovered.
	Metadata source.MetadataProvider
	// VirtualKeys persists virtual identifiers. If nil, virtual identifiers
	// are not used.
	VirtualKeys VirtualKeyStore
	// UseAllColumnsAsKey binds a virtual identifier having no declared
	// columns to all fetched attributes of its entity.
	UseAllColumnsAsKey bool
}

// Resolve the RowIdentifier of |entity| from among its fetched |attrs|.
// It returns nil if the entity has no candidate identifier, and a
// *model.MetadataDiscoveryError if it could not be described.
func (r *Resolver) Resolve(ctx context.Context, entity *model.Entity, attrs []*model.AttributeBinding) (*model.RowIdentifier, error) {
	var owned = ownedBy(entity, attrs)

	for _, a := range owned {
		if a.Pseudo {
			return &model.RowIdentifier{
				Entity:     entity,
				Kind:       model.IdentifierPseudo,
				Name:       a.Name,
				Attributes: []*model.AttributeBinding{a},
			}, nil
		}
	}

	if r.Metadata != nil {
		var meta, err = r.Metadata.DescribeEntity(ctx, entity.Name)
		if err != nil {
			return nil, &model.MetadataDiscoveryError{Entity: entity.Name, Err: err}
		}
		entity.View = entity.View || meta.View

		for _, a := range owned {
			if meta.IsGenerated(a.Name) {
				a.AutoGenerated = true
			}
		}
		if !entity.View {
			if id := physicalIdentifier(entity, meta, owned); id != nil {
				return id, nil
			}
		}
	}

	if r.VirtualKeys == nil {
		return nil, nil
	}
	return r.virtualIdentifier(entity, owned)
}

func physicalIdentifier(entity *model.Entity, meta *model.EntityMeta, owned []*model.AttributeBinding) *model.RowIdentifier {
	var candidates []model.Constraint
	candidates = append(candidates, meta.Indexes...)
	candidates = append(candidates, meta.Constraints...)

	var out *model.RowIdentifier
	for _, c := range candidates {
		if !isGoodIdentifier(c, owned) {
			continue
		}
		var id = bindColumns(entity, c.Columns, owned)
		id.Kind, id.Name = kindOf(c.Type), c.Name

		if c.Type == model.PrimaryKey {
			return id
		} else if out == nil {
			out = id
		}
	}
	return out
}

// isGoodIdentifier returns true if each column of the constraint refers to
// a fetched attribute. Unmatched columns are tolerated, and are reported
// through RowIdentifier.Missing instead.
func isGoodIdentifier(c model.Constraint, owned []*model.AttributeBinding) bool {
	for _, col := range c.Columns {
		if findAttribute(owned, col) == nil {
			log.WithFields(log.Fields{
				"constraint": c.Name,
				"column":     col,
			}).Debug("identifier column is not fetched")
		}
	}
	return true
}

func (r *Resolver) virtualIdentifier(entity *model.Entity, owned []*model.AttributeBinding) (*model.RowIdentifier, error) {
	var columns, ok, err = r.VirtualKeys.Lookup(entity.Name)
	if err != nil {
		return nil, &model.MetadataDiscoveryError{Entity: entity.Name, Err: err}
	} else if !ok {
		if err = r.VirtualKeys.Save(entity.Name, nil); err != nil {
			log.WithFields(log.Fields{
				"entity": entity.Name,
				"err":    err,
			}).Warn("failed to persist new virtual identifier")
		}
	}

	var id = bindColumns(entity, columns, owned)
	id.Kind, id.Name = model.IdentifierVirtual, "VIRTUAL_KEY"

	if len(columns) == 0 && r.UseAllColumnsAsKey {
		for _, a := range owned {
			if !a.Pseudo && a.Kind != model.KindDocument && a.Kind != model.KindBinary {
				id.Attributes = append(id.Attributes, a)
			}
		}
		id.AllColumns = true
	}
	return id, nil
}

func bindColumns(entity *model.Entity, columns []string, owned []*model.AttributeBinding) *model.RowIdentifier {
	var id = &model.RowIdentifier{Entity: entity}
	for _, col := range columns {
		if a := findAttribute(owned, col); a != nil {
			id.Attributes = append(id.Attributes, a)
		} else {
			id.Missing = append(id.Missing, col)
		}
	}
	return id
}

func kindOf(t model.ConstraintType) model.IdentifierKind {
	switch t {
	case model.PrimaryKey:
		return model.IdentifierPrimaryKey
	case model.UniqueKey:
		return model.IdentifierUniqueKey
	default:
		return model.IdentifierUniqueIndex
	}
}

func ownedBy(entity *model.Entity, attrs []*model.AttributeBinding) []*model.AttributeBinding {
	var out []*model.AttributeBinding
	for _, a := range attrs {
		if a.Entity == entity && a.Parent == nil {
			out = append(out, a)
		}
	}
	return out
}

func findAttribute(attrs []*model.AttributeBinding, column string) *model.AttributeBinding {
	for _, a := range attrs {
		if strings.EqualFold(a.Name, column) {
			return a
		}
	}
	return nil
}

// BindIdentifiers resolves the RowIdentifier of each distinct entity owning
// |attrs|, and assigns it to the entity's attributes. Entities which fail
// discovery are left without an identifier, and their errors are returned.
func BindIdentifiers(ctx context.Context, r *Resolver, attrs []*model.AttributeBinding) []error {
	var seen = make(map[*model.Entity]struct{})
	var errs []error

	for _, a := range attrs {
		if a.Entity == nil {
			continue
		} else if _, ok := seen[a.Entity]; ok {
			continue
		}
		seen[a.Entity] = struct{}{}

		var id, err = r.Resolve(ctx, a.Entity, attrs)
		if err != nil {
			log.WithFields(log.Fields{
				"entity": a.Entity,
				"err":    err,
			}).Warn("failed to resolve row identifier; entity is read-only")
			errs = append(errs, err)
			continue
		} else if id == nil {
			continue
		}
		for _, b := range ownedBy(a.Entity, attrs) {
			b.Identifier = id
		}
	}
	return errs
}
