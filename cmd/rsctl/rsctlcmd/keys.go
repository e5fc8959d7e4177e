package rsctlcmd

import (
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"go.rowset.dev/core/identifier"
	"go.rowset.dev/core/model"
	"gopkg.in/yaml.v2"
)

type cmdKeysList struct{}

type cmdKeysSet struct {
	Entity  string `long:"entity" short:"e" required:"true" description:"Entity of the key, as [schema.]name"`
	Columns string `long:"columns" short:"c" description:"Comma-separated columns of the key. If empty, the key has no columns"`
}

func init() {
	KeysRegisterCommands = append(KeysRegisterCommands, AddCmdKeysList, AddCmdKeysSet)
}

func AddCmdKeysList(cmd *flags.Command) error {
	_, err := cmd.AddCommand("list", "List virtual keys", `
List virtual keys of --rs.virtual-keys-dir as YAML.

A key having no columns was created when its entity was first read, and
doesn't yet identify rows. Use "keys set" to declare its columns, or use
--rs.all-columns-as-key.
`, &cmdKeysList{})
	return err
}

func AddCmdKeysSet(cmd *flags.Command) error {
	_, err := cmd.AddCommand("set", "Declare the virtual key of an entity", `
Declare the columns of the virtual key of an entity, creating or replacing it.

>    rsctl keys set --entity main.logs --columns ts,source
`, &cmdKeysSet{})
	return err
}

func (cmd *cmdKeysList) Execute([]string) error {
	var _, done = startup()
	defer done()

	var store, err = virtualKeyStore()
	if err != nil {
		return err
	}
	keys, err := store.List()
	if err != nil {
		return err
	}
	if keys == nil {
		keys = []identifier.VirtualKey{}
	}
	b, err := yaml.Marshal(keys)
	if err == nil {
		_, err = stdout.Write(b)
	}
	return err
}

func (cmd *cmdKeysSet) Execute([]string) error {
	var _, done = startup()
	defer done()

	var store, err = virtualKeyStore()
	if err != nil {
		return err
	}
	var columns []string
	for _, c := range strings.Split(cmd.Columns, ",") {
		if c = strings.TrimSpace(c); c != "" {
			columns = append(columns, c)
		}
	}
	return store.Save(model.ParseEntityName(cmd.Entity), columns)
}

func virtualKeyStore() (identifier.VirtualKeyStore, error) {
	if baseCfg.ResultSet.VirtualKeysDir == "" {
		return nil, errors.New("--rs.virtual-keys-dir is required")
	}
	return baseCfg.ResultSet.Config().VirtualKeyStore()
}
