// Package rsctlcmd implements the rsctl tool, which reads and edits the
// tables and query results of a SQL database.
package rsctlcmd

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/jessevdk/go-flags"
	_ "github.com/mattn/go-sqlite3" // Register the "sqlite3" driver.
	mbp "go.rowset.dev/core/mainboilerplate"
)

const iniFilename = "rsctl.ini"

var (
	baseCfg = new(struct {
		Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
		Diagnostics mbp.DiagnosticsConfig `group:"Diagnostics" namespace:"diagnostics" env-namespace:"DIAGNOSTICS"`
		Database    mbp.DatabaseConfig    `group:"Database" namespace:"db" env-namespace:"DB"`
		ResultSet   mbp.ResultSetConfig   `group:"Result Set" namespace:"rs" env-namespace:"RS"`
	})
	// KeysCfg is the configuration of the "keys" command, which contains
	// sub-commands managing virtual keys.
	KeysCfg = new(struct{})

	RegisterCommands     []RegisterCommandFunc
	KeysRegisterCommands []RegisterCommandFunc

	// Command output is written to |stdout|, and summaries to |stderr|.
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// RegisterCommandFunc registers a sub-command with its parent.
type RegisterCommandFunc func(*flags.Command) error

// startup initializes logging and diagnostics, and returns a context which
// is cancelled on interrupt. The returned function must be called once the
// command completes.
func startup() (context.Context, func()) {
	mbp.InitLog(baseCfg.Log)
	var stopDiagnostics = mbp.InitDiagnostics(baseCfg.Diagnostics)
	var ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt)

	return ctx, func() {
		stop()
		stopDiagnostics()
	}
}

func mustAddCmd(cmd *flags.Command, name, short, long string, cfg interface{}) *flags.Command {
	cmd, err := cmd.AddCommand(name, short, long, cfg)
	mbp.Must(err, "failed to add command")
	return cmd
}

// Execute parses configuration and runs the selected command.
func Execute() {
	var parser = flags.NewParser(baseCfg, flags.Default)

	mbp.AddPrintConfigCmd(parser, iniFilename)
	parser.LongDescription = `rsctl reads and edits tables and query results of SQLite and PostgreSQL databases.

	Reads are paged, and edits are applied through the same change tracking used
	to edit a result set interactively: rows are addressed by their primary or
	unique keys, or by a virtual key declared with "keys set".

	See --help pages of each sub-command for documentation and usage examples.
	Optionally configure rsctl with a '` + iniFilename + `' file in the current working directory,
	$ROWSET_CONFIG_ROOT, or '~/.config/rowset/` + iniFilename + `'. Use the 'print-config'
	sub-command to inspect the tool's current configuration.
	`

	for _, addCommand := range RegisterCommands {
		mbp.Must(addCommand(parser.Command), "could not add subcommand")
	}
	var cmdKeys = mustAddCmd(parser.Command, "keys", "Manage virtual keys", `
Virtual keys identify rows of tables and views which have no primary key or
unique index. They're stored within --rs.virtual-keys-dir.
`, KeysCfg)
	for _, addCommand := range KeysRegisterCommands {
		mbp.Must(addCommand(cmdKeys), "could not add keys subcommand")
	}

	mbp.MustParseConfig(parser, iniFilename)
}
