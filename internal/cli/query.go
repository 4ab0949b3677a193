package cli

import (
	"github.com/spf13/cobra"

	"github.com/wildthink/pipeline"
)

// NewQueryCommand creates the query command: run one SELECT against a
// snapshot-pinned read queue and render the rows.
func NewQueryCommand(opts *RootOptions) *cobra.Command {
	var (
		dbPath string
		params []string
	)

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a read-only query against a pinned snapshot",
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

			queue, err := pipeline.NewConnectionReadQueue(db)
			if err != nil {
				return WrapExitError(ExitCommandError, "open database", err)
			}
			defer queue.Close()

			type resultSet struct {
				columns []string
				rows    []map[string]any
			}
			res, err := pipeline.QueueReadSync(queue, func(c *pipeline.Connection) (resultSet, error) {
				stmt, err := c.Prepare(args[0])
				if err != nil {
					return resultSet{}, err
				}
				defer stmt.Finalize()
				if err := stmt.BindAll(bindArgs...); err != nil {
					return resultSet{}, err
				}
				columns, rows, err := collectRows(stmt)
				if err != nil {
					return resultSet{}, err
				}
				return resultSet{columns: columns, rows: rows}, nil
			})
			if err != nil {
				return WrapExitError(ExitFailure, "query", err)
			}

			f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return f.EmitRows(res.columns, res.rows)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path")
	cmd.Flags().StringArrayVar(&params, "param", nil, "named parameter name=value (repeatable)")
	return cmd
}
