package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wildthink/pipeline"
	"github.com/wildthink/pipeline/internal/manifest"
)

// NewMigrateCommand creates the migrate command: apply pending manifest
// migrations, each in its own transaction.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	var (
		dbPath      string
		manifestDir string
		toVersion   int
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations from the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := resolveDB(dbPath)
			if err != nil {
				return err
			}
			m, err := manifest.Load(manifestDir)
			if err != nil {
				return WrapExitError(ExitCommandError, "load manifest", err)
			}
			if toVersion > m.Version() {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("--to %d exceeds manifest version %d", toVersion, m.Version()))
			}

			queue, err := pipeline.NewConnectionQueue(db,
				pipeline.WithQueueConnectionOptions(manifestPragmas(m)...))
			if err != nil {
				return WrapExitError(ExitCommandError, "open database", err)
			}
			defer queue.Close()

			f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

			if dryRun {
				version, err := pipeline.QueueSync(queue, func(c *pipeline.Connection) (int64, error) {
					return currentVersion(c)
				})
				if err != nil {
					return WrapExitError(ExitFailure, "read version", err)
				}
				pending := m.Pending(int(version))
				rows := make([]map[string]any, 0, len(pending))
				for _, mig := range pending {
					if toVersion > 0 && mig.Version > toVersion {
						break
					}
					rows = append(rows, map[string]any{
						"version":     int64(mig.Version),
						"description": mig.Description,
						"statements":  int64(len(mig.Up)),
					})
				}
				return f.EmitRows([]string{"version", "description", "statements"}, rows)
			}

			applied, final, err := applyPending(queue, m, toVersion)
			if err != nil {
				return WrapExitError(ExitFailure, "migrate", err)
			}
			return f.Emit(map[string]any{
				"applied": applied,
				"version": final,
			}, []string{"applied", "version"})
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path")
	cmd.Flags().StringVar(&manifestDir, "manifest", ".", "directory containing the CUE manifest")
	cmd.Flags().IntVar(&toVersion, "to", 0, "stop after this version (0 = all)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list pending migrations without applying them")
	return cmd
}
