package rsctlcmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/olekukonko/tablewriter"
	"go.rowset.dev/core/model"
	"gopkg.in/yaml.v2"
)

type cmdRead struct {
	TargetConfig
	All    bool   `long:"all" short:"a" description:"Read all pages, rather than only the first"`
	Count  bool   `long:"count" short:"c" description:"Also count all rows matching the filter"`
	Format string `long:"format" short:"o" choice:"table" choice:"yaml" choice:"json" default:"table" description:"Output format"`
}

func init() {
	RegisterCommands = append(RegisterCommands, AddCmdRead)
}

func AddCmdRead(cmd *flags.Command) error {
	_, err := cmd.AddCommand("read", "Read rows of a table or query", `
Read rows of a table, view, or query.

Rows are read in pages of --rs.segment-size. By default only the first page is
read; use --all to read every page.

Read the first page of a table:
>    rsctl read --table employees

Read all rows of a query, filtered and ordered:
>    rsctl read --all --query "SELECT * FROM employees" --where "salary > 100" --order "name"

Results can be output in a variety of --format options:
table: Prints as a table, with NULL values shown as NULL.
yaml:  Prints a YAML sequence of rows, each a mapping of column labels to values.
json:  Prints rows encoded as JSON objects, one per line.
`, &cmdRead{})
	return err
}

func (cmd *cmdRead) Execute([]string) error {
	var ctx, done = startup()
	defer done()

	var rs, err = openResultSet(ctx, cmd.TargetConfig)
	if err != nil {
		return err
	}
	defer rs.close()

	var started = time.Now()
	if cmd.Count {
		err = rs.ctl.RefreshAndCount(ctx).Err()
		for err == nil && cmd.All && rs.ctl.HasMoreData() {
			err = rs.ctl.ReadNextSegment(ctx).Err()
		}
	} else {
		err = rs.read(ctx, cmd.All)
	}
	if err != nil {
		return err
	}

	rs.ctl.View(func(m *model.Model) {
		switch cmd.Format {
		case "table":
			err = writeTable(stdout, m)
		case "yaml":
			err = writeYAML(stdout, m)
		case "json":
			err = writeJSON(stdout, m)
		}
		if err == nil {
			var summary = summarize(int64(m.RowCount()), "row") + " read in " + time.Since(started).Round(time.Microsecond).String()
			if cmd.Count {
				summary += " of " + summarize(rs.ctl.RowCount(), "row")
			} else if rs.ctl.HasMoreData() {
				summary += " (more available)"
			}
			fmt.Fprintln(stderr, summary)
		}
	})
	return err
}

func writeTable(w io.Writer, m *model.Model) error {
	var table = tablewriter.NewWriter(w)

	var header []any
	for _, a := range m.Attributes() {
		header = append(header, a.Label)
	}
	table.Header(header...)

	for _, row := range m.VisualRows() {
		var cells = make([]string, len(row.Values))
		for _, a := range m.Attributes() {
			cells[a.Position] = a.Codec.Format(row.Values[a.Position])
		}
		if err := table.Append(cells); err != nil {
			return err
		}
	}
	return table.Render()
}

func writeYAML(w io.Writer, m *model.Model) error {
	var rows = make([]yaml.MapSlice, 0, m.RowCount())
	for _, row := range m.VisualRows() {
		var item = make(yaml.MapSlice, 0, len(row.Values))
		for _, a := range m.Attributes() {
			item = append(item, yaml.MapItem{Key: a.Label, Value: yamlValue(row.Values[a.Position])})
		}
		rows = append(rows, item)
	}
	var b, err = yaml.Marshal(rows)
	if err == nil {
		_, err = w.Write(b)
	}
	return err
}

func yamlValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case []byte:
		return model.CodecFor(model.KindBinary).Format(vv)
	case time.Time:
		return vv.Format(time.RFC3339Nano)
	default:
		return v
	}
}

func writeJSON(w io.Writer, m *model.Model) error {
	var enc = json.NewEncoder(w)
	for _, row := range m.VisualRows() {
		var doc = make(map[string]interface{}, len(row.Values))
		for _, a := range m.Attributes() {
			doc[a.Label] = row.Values[a.Position]
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}
	return nil
}
