// Package receiver implements the source.DataReceiver which materializes a
// paginated read into a Target, which is typically a *model.Model.
package receiver

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.rowset.dev/core/identifier"
	"go.rowset.dev/core/metrics"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/source"
)

// Config of a Receiver.
type Config struct {
	// ReadMetadata enables discovery of owning entities and identifiers.
	// If false, all attributes are read-only.
	ReadMetadata bool
	// ReadReferences enables late binding of foreign key references.
	ReadReferences bool
}

// Target receives the attributes and rows of a read.
type Target interface {
	SetMetaData(attrs []*model.AttributeBinding)
	SetData(rows [][]interface{})
	AppendData(rows [][]interface{})
}

var _ Target = (*model.Model)(nil)

// Receiver is a source.DataReceiver of one read. A first page read binds
// new attributes and replaces the rows of the Target. A continuation page,
// prepared by Continue, re-uses prior bindings and appends to the Target.
type Receiver struct {
	cfg      Config
	resolver *identifier.Resolver
	target   Target

	attrs        []*model.AttributeBinding
	continuation bool
	maxRows      int
	rows         [][]interface{}
	fetched      int
	hasMore      bool

	warnings  []error
	seen      map[warningKey]struct{}
	discovery []error
}

type warningKey struct {
	position int
	class    string
}

var _ source.DataReceiver = (*Receiver)(nil)

// New returns a Receiver of the Target. |resolver| may be nil, in which
// case identifiers are not resolved.
func New(cfg Config, resolver *identifier.Resolver, target Target) *Receiver {
	return &Receiver{
		cfg:      cfg,
		resolver: resolver,
		target:   target,
	}
}

// Continue prepares the Receiver to read a continuation page of a prior
// read having |attrs|.
func (r *Receiver) Continue(attrs []*model.AttributeBinding) {
	r.attrs, r.continuation = attrs, true
}

// FetchStart implements source.DataReceiver.
func (r *Receiver) FetchStart(ctx context.Context, columns []source.ColumnMeta, offset, maxRows int) error {
	r.rows, r.maxRows, r.fetched, r.hasMore = nil, maxRows, 0, false

	if r.continuation {
		if len(columns) != len(r.attrs) {
			return errors.Errorf("continuation page has %d columns (expected %d)", len(columns), len(r.attrs))
		}
		return nil
	}
	r.attrs = r.bindAttributes(columns)

	if r.cfg.ReadMetadata && r.resolver != nil {
		r.discovery = identifier.BindIdentifiers(ctx, r.resolver, r.attrs)
	}
	r.target.SetMetaData(r.attrs)

	log.WithFields(log.Fields{
		"columns": len(columns),
		"offset":  offset,
		"maxRows": maxRows,
	}).Debug("bound first page attributes")

	return nil
}

func (r *Receiver) bindAttributes(columns []source.ColumnMeta) []*model.AttributeBinding {
	var entities = make(map[model.EntityName]*model.Entity)
	var out = make([]*model.AttributeBinding, len(columns))

	for i, col := range columns {
		var a = model.NewAttributeBinding(col.Name, i, col.TypeName)
		if col.Label != "" {
			a.Label = col.Label
		}
		a.Nullable, a.Pseudo, a.AutoGenerated = col.Nullable, col.Pseudo, col.AutoGenerated

		if r.cfg.ReadMetadata && !col.Entity.IsZero() {
			var e, ok = entities[col.Entity]
			if !ok {
				e = &model.Entity{Name: col.Entity}
				entities[col.Entity] = e
			}
			a.Entity = e
		}
		out[i] = a
	}
	return out
}

// FetchRow implements source.DataReceiver.
func (r *Receiver) FetchRow(_ context.Context, values []interface{}) error {
	if len(values) < len(r.attrs) {
		return errors.Errorf("row has %d values (expected %d)", len(values), len(r.attrs))
	}
	var row = make([]interface{}, len(r.attrs))

	for i, a := range r.attrs {
		var v, err = a.Codec.Decode(values[i])
		if err != nil {
			r.warn(&model.FetchError{Attribute: a, Row: len(r.rows), Err: err})
			v = model.Undefined
		}
		row[i] = v
	}
	r.rows = append(r.rows, row)
	return nil
}

func (r *Receiver) warn(err *model.FetchError) {
	var key = warningKey{
		position: err.Attribute.Position,
		class:    fmt.Sprintf("%T: %s", errors.Cause(err.Err), err.Err),
	}
	if r.seen == nil {
		r.seen = make(map[warningKey]struct{})
	}
	if _, ok := r.seen[key]; ok {
		return
	}
	r.seen[key] = struct{}{}
	r.warnings = append(r.warnings, err)
	metrics.FetchWarningsTotal.Inc()

	log.WithFields(log.Fields{
		"attribute": err.Attribute.String(),
		"row":       err.Row,
		"err":       err.Err,
	}).Warn("failed to decode cell value")
}

// FetchEnd implements source.DataReceiver.
func (r *Receiver) FetchEnd(ctx context.Context) error {
	if r.continuation {
		r.target.AppendData(r.rows)
	} else {
		if r.cfg.ReadMetadata && r.cfg.ReadReferences {
			r.bindReferences(ctx)
		}
		bindNested(r.attrs, r.rows)
		r.target.SetData(r.rows)
	}
	r.fetched = len(r.rows)
	r.hasMore = r.maxRows > 0 && r.fetched >= r.maxRows
	metrics.RowsFetchedTotal.Add(float64(len(r.rows)))

	return nil
}

// Close implements source.DataReceiver. It releases buffered rows and
// warning state, but does not modify the Target.
func (r *Receiver) Close() {
	r.rows, r.seen = nil, nil
}

// HasMoreData returns true if the last page was full, and further rows may
// be read by a continuation page.
func (r *Receiver) HasMoreData() bool { return r.hasMore }

// Warnings returns distinct *model.FetchErrors of the read.
func (r *Receiver) Warnings() []error { return r.warnings }

// DiscoveryErrors returns *model.MetadataDiscoveryErrors of the read.
func (r *Receiver) DiscoveryErrors() []error { return r.discovery }

// Attributes returns the bound attributes of the read.
func (r *Receiver) Attributes() []*model.AttributeBinding { return r.attrs }

// RowsFetched returns the number of rows of the last page.
func (r *Receiver) RowsFetched() int { return r.fetched }
