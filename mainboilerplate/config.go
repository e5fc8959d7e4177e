package mainboilerplate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

// ConfigSearchPaths returns the directories searched for an INI file, in
// order of preference:
//   - The current working directory.
//   - $ROWSET_CONFIG_ROOT, if set.
//   - ~/.config/rowset (under $HOME or %UserProfile%).
func ConfigSearchPaths() []string {
	var out = []string{"."}
	if root := os.Getenv("ROWSET_CONFIG_ROOT"); root != "" {
		out = append(out, root)
	}
	for _, home := range []string{os.Getenv("HOME"), os.Getenv("UserProfile")} {
		if home != "" {
			out = append(out, filepath.Join(home, ".config", "rowset"))
		}
	}
	return out
}

// MustParseConfig requires that the Parser parse from the combination of the
// first INI file named |configName| found within ConfigSearchPaths,
// configured environment bindings, and explicit flags (in increasing
// order of precedence).
func MustParseConfig(parser *flags.Parser, configName string) {
	// Options of other commands may appear in the INI file.
	var origOptions = parser.Options
	parser.Options |= flags.IgnoreUnknown

	var ini = flags.NewIniParser(parser)
	for _, dir := range ConfigSearchPaths() {
		var path = filepath.Join(dir, configName)

		if err := ini.ParseFile(path); os.IsNotExist(err) {
			continue
		} else if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		log.WithField("path", path).Debug("parsed configuration file")
		break
	}

	parser.Options = origOptions
	MustParseArgs(parser, os.Args[1:])
}

// MustParseArgs requires that Parser be able to ParseArgs without error.
func MustParseArgs(parser *flags.Parser, args []string) {
	var _, err = parser.ParseArgs(args)
	if err == nil {
		return
	}
	var flagErr, ok = err.(*flags.Error)
	if !ok {
		// Commands return plain errors, which go-flags has already printed.
		os.Exit(1)
	}

	switch flagErr.Type {
	case flags.ErrDuplicatedFlag, flags.ErrTag, flags.ErrInvalidTag, flags.ErrShortNameTooLong, flags.ErrMarshal:
		// A developer error of the parsed configuration struct, rather than
		// of user input.
		panic(err)

	case flags.ErrCommandRequired:
		os.Stderr.WriteString("\n")
		parser.WriteHelp(os.Stderr)
		fmt.Fprintf(os.Stderr, "\nVersion %s, built at %s.\n", Version, BuildDate)
		os.Exit(1)

	case flags.ErrHelp:
		if parser.Options&flags.PrintErrors == 0 {
			parser.WriteHelp(os.Stderr)
		}
		fmt.Fprintf(os.Stderr, "\nVersion %s, built at %s.\n", Version, BuildDate)
		os.Exit(0)

	default:
		os.Exit(1)
	}
}

// AddPrintConfigCmd adds a "print-config" command to the Parser, which
// writes the combined runtime configuration in INI format.
func AddPrintConfigCmd(parser *flags.Parser, configName string) {
	var _, err = parser.AddCommand("print-config", "Print combined configuration and exit", `
print-config parses the combined configuration from `+configName+`, flags,
and environment variables, and then writes the configuration to stdout in INI format.
`, &printConfig{parser})
	Must(err, "failed to add print-config command")
}

type printConfig struct {
	*flags.Parser `no-flag:"t"`
}

func (p printConfig) Execute([]string) error {
	flags.NewIniParser(p.Parser).Write(os.Stdout,
		flags.IniIncludeComments|flags.IniCommentDefaults|flags.IniIncludeDefaults)
	return nil
}
