package rsctlcmd

import (
	"context"
	"fmt"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/persist"
)

// EditConfig is common configuration of edit operations.
type EditConfig struct {
	TargetConfig
	DryRun bool `long:"dry-run" description:"Print the statements of the edit, without executing them"`
}

type cmdUpdate struct {
	EditConfig
	Keys []string `long:"key" short:"k" required:"true" description:"column=value selecting rows to update. Repeatable; rows must match all keys. Use \\N for NULL"`
	Sets []string `long:"set" short:"s" required:"true" description:"column=value to assign. Repeatable. Use \\N for NULL"`
}

type cmdInsert struct {
	EditConfig
	Sets []string `long:"set" short:"s" description:"column=value of the inserted row. Repeatable. Use \\N for NULL"`
}

type cmdDelete struct {
	EditConfig
	Keys []string `long:"key" short:"k" required:"true" description:"column=value selecting rows to delete. Repeatable; rows must match all keys. Use \\N for NULL"`
}

func init() {
	RegisterCommands = append(RegisterCommands, AddCmdUpdate, AddCmdInsert, AddCmdDelete)
}

func AddCmdUpdate(cmd *flags.Command) error {
	_, err := cmd.AddCommand("update", "Update rows of a table", `
Update columns of rows matching --key.

All rows matching --where are read, and those whose values match every --key
(as formatted by "rsctl read") are updated. Each updated row is addressed by
its primary key, unique key, or virtual key.

>    rsctl update --table employees --key id=3 --set salary=310
`, &cmdUpdate{})
	return err
}

func AddCmdInsert(cmd *flags.Command) error {
	_, err := cmd.AddCommand("insert", "Insert a row into a table", `
Insert a row having the --set column values. Columns which aren't set are
NULL, or are assigned by the database if generated.

>    rsctl insert --table employees --set name=erin --set salary=90
`, &cmdInsert{})
	return err
}

func AddCmdDelete(cmd *flags.Command) error {
	_, err := cmd.AddCommand("delete", "Delete rows of a table", `
Delete rows matching --key. Rows are matched as with "rsctl update".

>    rsctl delete --table employees --key name=bob --dry-run
`, &cmdDelete{})
	return err
}

func (cmd *cmdUpdate) Execute([]string) error {
	var keys, err = parseAssignments(cmd.Keys)
	if err != nil {
		return err
	}
	sets, err := parseAssignments(cmd.Sets)
	if err != nil {
		return err
	}
	return cmd.EditConfig.run(func(m *model.Model) error {
		var rows, err = matchRows(m, keys)
		if err != nil {
			return err
		} else if len(rows) == 0 {
			return errors.New("no rows match the given keys")
		}
		for _, row := range rows {
			if err = assign(m, row, sets); err != nil {
				return err
			}
		}
		return nil
	})
}

func (cmd *cmdInsert) Execute([]string) error {
	var sets, err = parseAssignments(cmd.Sets)
	if err != nil {
		return err
	}
	// Only attributes of the result are needed, and not its rows.
	cmd.Where, cmd.Order = "1 = 0", ""

	return cmd.EditConfig.run(func(m *model.Model) error {
		var index = m.RowCount()
		if _, err := m.AddNewRow(index, nil); err != nil {
			return err
		}
		return assign(m, index, sets)
	})
}

func (cmd *cmdDelete) Execute([]string) error {
	var keys, err = parseAssignments(cmd.Keys)
	if err != nil {
		return err
	}
	return cmd.EditConfig.run(func(m *model.Model) error {
		var rows, err = matchRows(m, keys)
		if err != nil {
			return err
		} else if len(rows) == 0 {
			return errors.New("no rows match the given keys")
		}
		// Fetched rows are marked for removal, and keep their indices.
		for _, row := range rows {
			if err = m.DeleteRow(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// run reads all rows of the target, applies |edit| to its Model, and then
// either applies or prints the resulting changes.
func (cfg EditConfig) run(edit func(*model.Model) error) error {
	var ctx, done = startup()
	defer done()

	var rs, err = openResultSet(ctx, cfg.TargetConfig)
	if err != nil {
		return err
	}
	defer rs.close()

	if err = rs.read(ctx, true); err != nil {
		return err
	} else if err = rs.ctl.Update(edit); err != nil {
		return err
	}

	if cfg.DryRun {
		script, err := rs.ctl.GenerateChangesScript(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(stdout, script)
		return err
	}
	return rs.apply(ctx)
}

// apply the pending changes of the result set, committing them if the
// database uses a manual commit.
func (rs *resultSet) apply(ctx context.Context) error {
	var counters persist.Counters

	var err = rs.ctl.ApplyChanges(ctx, func(plan *persist.Plan, err error) {
		if plan == nil {
			return
		}
		counters = plan.Counters

		for _, stmt := range plan.Statements {
			if stmt.Err != nil {
				log.WithFields(log.Fields{
					"statement": stmt,
					"err":       stmt.Err,
				}).Error("statement failed")
			}
		}
	}).Err()

	if err == nil && rs.src.InTransaction() {
		err = rs.src.Commit()
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(stderr, "%s deleted, %s inserted, %s updated\n",
		summarize(int64(counters.Deleted), "row"),
		summarize(int64(counters.Inserted), "row"),
		summarize(int64(counters.Updated), "row"))
	return nil
}

// assign the values of |sets| to the row at |index|.
func assign(m *model.Model, index int, sets []assignment) error {
	for _, s := range sets {
		var attr = m.Attribute(s.column)
		if attr == nil {
			return errors.Errorf("column %q was not read", s.column)
		}
		var v, err = s.decode(attr)
		if err != nil {
			return errors.WithMessagef(err, "decoding %s", s.column)
		} else if err = m.UpdateCellValue(attr, index, v); err != nil {
			return err
		}
	}
	return nil
}
