package cli

import (
	"github.com/spf13/cobra"

	"github.com/wildthink/pipeline"
)

// NewInspectCommand creates the inspect command: summarize the database
// (version, size) and list its schema objects.
func NewInspectCommand(opts *RootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show database version, size, and schema objects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := resolveDB(dbPath)
			if err != nil {
				return err
			}

			queue, err := pipeline.NewConnectionReadQueue(db)
			if err != nil {
				return WrapExitError(ExitCommandError, "open database", err)
			}
			defer queue.Close()

			type report struct {
				version   int64
				pageCount int64
				pageSize  int64
				columns   []string
				objects   []map[string]any
			}
			rep, err := pipeline.QueueReadSync(queue, func(c *pipeline.Connection) (report, error) {
				var r report
				var err error
				if r.version, err = currentVersion(c); err != nil {
					return r, err
				}
				if r.pageCount, err = queryInt64(c, "PRAGMA page_count"); err != nil {
					return r, err
				}
				if r.pageSize, err = queryInt64(c, "PRAGMA page_size"); err != nil {
					return r, err
				}
				stmt, err := c.Prepare(
					"SELECT type, name, tbl_name FROM sqlite_schema WHERE name NOT LIKE 'sqlite_%' ORDER BY type, name")
				if err != nil {
					return r, err
				}
				defer stmt.Finalize()
				r.columns, r.objects, err = collectRows(stmt)
				return r, err
			})
			if err != nil {
				return WrapExitError(ExitFailure, "inspect", err)
			}

			f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			if err := f.Emit(map[string]any{
				"version":    rep.version,
				"page_count": rep.pageCount,
				"page_size":  rep.pageSize,
				"size_bytes": rep.pageCount * rep.pageSize,
			}, []string{"version", "page_count", "page_size", "size_bytes"}); err != nil {
				return err
			}
			if len(rep.objects) == 0 {
				return nil
			}
			return f.EmitRows(rep.columns, rep.objects)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path")
	return cmd
}
