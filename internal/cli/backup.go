package cli

import (
	"github.com/spf13/cobra"

	"github.com/wildthink/pipeline"
)

// NewBackupCommand creates the backup command: write a consistent copy of
// the database while the writer stays online.
func NewBackupCommand(opts *RootOptions) *cobra.Command {
	var (
		dbPath   string
		destPath string
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Copy the database to a new file without stopping writes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := resolveDB(dbPath)
			if err != nil {
				return err
			}
			if destPath == "" {
				return NewExitError(ExitCommandError, "no destination given: set --to")
			}

			queue, err := pipeline.NewConnectionQueue(db)
			if err != nil {
				return WrapExitError(ExitCommandError, "open database", err)
			}
			defer queue.Close()

			err = queue.Sync(func(c *pipeline.Connection) error {
				return c.Backup(cmd.Context(), destPath)
			})
			if err != nil {
				return WrapExitError(ExitFailure, "backup", err)
			}

			f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return f.Emit(map[string]any{
				"source":      db,
				"destination": destPath,
			}, []string{"source", "destination"})
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path")
	cmd.Flags().StringVar(&destPath, "to", "", "destination file for the copy")
	return cmd
}
