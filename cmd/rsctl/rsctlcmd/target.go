package rsctlcmd

import (
	"context"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	mbp "go.rowset.dev/core/mainboilerplate"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/resultset"
	"go.rowset.dev/core/source"
	"go.rowset.dev/core/sqlsource"
)

// nullToken is the assigned or matched value denoting NULL.
const nullToken = `\N`

// TargetConfig selects the container read by a command.
type TargetConfig struct {
	Table string `long:"table" short:"t" description:"Table or view to read, as [schema.]name"`
	Query string `long:"query" short:"q" description:"Query to read. Results of queries are read-only"`
	Where string `long:"where" short:"w" description:"Condition filtering the rows read"`
	Order string `long:"order" description:"Ordering of the rows read"`
	RowID bool   `long:"rowid" description:"Read the row id pseudo-column, which then identifies rows of the table"`
}

func (cfg TargetConfig) container(src *sqlsource.Source) (source.DataContainer, error) {
	switch {
	case cfg.Table != "" && cfg.Query != "":
		return nil, errors.New("expected only one of --table or --query")
	case cfg.Table != "":
		var t = src.Table(model.ParseEntityName(cfg.Table))
		t.ExposeRowID = cfg.RowID
		return t, nil
	case cfg.Query != "":
		return src.Query(cfg.Query), nil
	default:
		return nil, errors.New("expected one of --table or --query")
	}
}

// resultSet is an opened database and a Controller of the target container.
type resultSet struct {
	src *sqlsource.Source
	ctl *resultset.Controller
}

func openResultSet(ctx context.Context, target TargetConfig) (*resultSet, error) {
	var cfg = baseCfg.ResultSet.Config()
	var keys, err = cfg.VirtualKeyStore()
	if err != nil {
		return nil, err
	}
	var src = baseCfg.Database.MustOpen(ctx)

	container, err := target.container(src)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	var ctl = resultset.NewController(cfg, container, src, keys)

	if target.Where != "" || target.Order != "" {
		mbp.Must(ctl.Update(func(m *model.Model) error {
			m.SetDataFilter(&model.DataFilter{Where: target.Where, Order: target.Order})
			return nil
		}), "failed to set filter")
	}
	return &resultSet{src: src, ctl: ctl}, nil
}

// read the first page of the result set and, if |all|, each further page.
func (rs *resultSet) read(ctx context.Context, all bool) error {
	if err := rs.ctl.Refresh(ctx).Err(); err != nil {
		return err
	}
	for all && rs.ctl.HasMoreData() {
		if err := rs.ctl.ReadNextSegment(ctx).Err(); err != nil {
			return err
		}
	}
	for _, w := range rs.ctl.Warnings() {
		log.WithField("warning", w).Warn("read warning")
	}
	return nil
}

func (rs *resultSet) close() {
	if rs.src.InTransaction() {
		log.Warn("rolling back uncommitted changes")
		_ = rs.src.Rollback()
	}
	if err := rs.src.Close(); err != nil {
		log.WithField("err", err).Warn("failed to close database")
	}
}

// assignment is a column and its textual value.
type assignment struct {
	column string
	value  string
}

func parseAssignments(args []string) ([]assignment, error) {
	var out []assignment
	for _, arg := range args {
		var ind = strings.IndexByte(arg, '=')
		if ind <= 0 {
			return nil, errors.Errorf("expected column=value (got %q)", arg)
		}
		out = append(out, assignment{column: arg[:ind], value: arg[ind+1:]})
	}
	return out, nil
}

// decode the assigned value using the codec of |attr|.
func (a assignment) decode(attr *model.AttributeBinding) (interface{}, error) {
	if a.value == nullToken {
		return nil, nil
	}
	return attr.Codec.Decode(a.value)
}

// matches is true if the formatted value of |attr| within |row| is the
// assigned value.
func (a assignment) matches(attr *model.AttributeBinding, row *model.Row) bool {
	var v = row.Values[attr.Position]
	if a.value == nullToken {
		return v == nil
	}
	return v != nil && attr.Codec.Format(v) == a.value
}

// matchRows returns indices of rows matching all |keys|.
func matchRows(m *model.Model, keys []assignment) ([]int, error) {
	var attrs = make([]*model.AttributeBinding, len(keys))
	for i, k := range keys {
		if attrs[i] = m.Attribute(k.column); attrs[i] == nil {
			return nil, errors.Errorf("column %q was not read", k.column)
		}
	}

	var out []int
	for _, row := range m.Rows() {
		var ok = row.State != model.RowAdded
		for i := 0; ok && i != len(keys); i++ {
			ok = keys[i].matches(attrs[i], row)
		}
		if ok {
			out = append(out, row.Index)
		}
	}
	return out, nil
}

func summarize(n int64, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(n) + " " + noun + "s"
}
