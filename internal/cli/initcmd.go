package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wildthink/pipeline"
	"github.com/wildthink/pipeline/internal/manifest"
)

// NewInitCommand creates the init command: create a fresh database from a
// CUE manifest and apply every migration.
func NewInitCommand(opts *RootOptions) *cobra.Command {
	var (
		dbPath      string
		manifestDir string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a database from a manifest and apply all migrations",
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

			queue, err := pipeline.NewConnectionQueue(db,
				pipeline.WithQueueConnectionOptions(manifestPragmas(m)...))
			if err != nil {
				return WrapExitError(ExitCommandError, "open database", err)
			}
			defer queue.Close()

			// init only works on an empty database; migrate handles the rest.
			err = queue.Sync(func(c *pipeline.Connection) error {
				version, err := currentVersion(c)
				if err != nil {
					return err
				}
				objects, err := schemaObjectCount(c)
				if err != nil {
					return err
				}
				if version != 0 || objects != 0 {
					return fmt.Errorf("database %s is not empty (version %d, %d schema objects); use migrate", db, version, objects)
				}
				return nil
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "init", err)
			}

			applied, final, err := applyPending(queue, m, 0)
			if err != nil {
				return WrapExitError(ExitFailure, "init", err)
			}

			f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return f.Emit(map[string]any{
				"database": m.Database.Name,
				"applied":  applied,
				"version":  final,
			}, []string{"database", "applied", "version"})
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path")
	cmd.Flags().StringVar(&manifestDir, "manifest", ".", "directory containing the CUE manifest")
	return cmd
}

// manifestPragmas maps the manifest's pragma list onto connection options.
func manifestPragmas(m *manifest.Manifest) []pipeline.ConnectionOption {
	out := make([]pipeline.ConnectionOption, 0, len(m.Database.Pragmas))
	for _, p := range m.Database.Pragmas {
		out = append(out, pipeline.WithPragma(p))
	}
	return out
}
