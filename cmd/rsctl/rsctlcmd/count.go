package rsctlcmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
)

type cmdCount struct {
	TargetConfig
	Human bool `long:"human" short:"H" description:"Print the count with thousands separators"`
}

func init() {
	RegisterCommands = append(RegisterCommands, AddCmdCount)
}

func AddCmdCount(cmd *flags.Command) error {
	_, err := cmd.AddCommand("count", "Count rows of a table or query", `
Count the rows of a table, view, or query which match --where.

>    rsctl count --table employees --where "dept = 2"
`, &cmdCount{})
	return err
}

func (cmd *cmdCount) Execute([]string) error {
	var ctx, done = startup()
	defer done()

	var rs, err = openResultSet(ctx, cmd.TargetConfig)
	if err != nil {
		return err
	}
	defer rs.close()

	n, err := rs.ctl.CountRows(ctx).Count()
	if err != nil {
		return err
	}
	if cmd.Human {
		fmt.Fprintln(stdout, humanize.Comma(n))
	} else {
		fmt.Fprintln(stdout, n)
	}
	return nil
}
