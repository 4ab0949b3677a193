package cli

import (
	"github.com/spf13/cobra"

	"github.com/wildthink/pipeline"
)

// NewExecCommand creates the exec command: run one write statement
// through a ConnectionQueue.
func NewExecCommand(opts *RootOptions) *cobra.Command {
	var (
		dbPath string
		params []string
	)

	cmd := &cobra.Command{
		Use:   "exec <sql>",
		Short: "Execute a write statement through the single-writer queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := resolveDB(dbPath)
			if err != nil {
				return err
			}
			bindArgs, err := parseParams(params)
			if err != nil {
				return err
			}

			queue, err := pipeline.NewConnectionQueue(db)
			if err != nil {
				return WrapExitError(ExitCommandError, "open database", err)
			}
			defer queue.Close()

			type result struct {
				changes int64
				rowid   int64
			}
			res, err := pipeline.QueueSync(queue, func(c *pipeline.Connection) (result, error) {
				if err := c.Execute(args[0], bindArgs...); err != nil {
					return result{}, err
				}
				return result{changes: c.Changes(), rowid: c.LastInsertRowID()}, nil
			})
			if err != nil {
				return WrapExitError(ExitFailure, "execute", err)
			}

			f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return f.Emit(map[string]any{
				"changes":        res.changes,
				"last_insert_id": res.rowid,
			}, []string{"changes", "last_insert_id"})
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path")
	cmd.Flags().StringArrayVar(&params, "param", nil, "named parameter name=value (repeatable)")
	return cmd
}
