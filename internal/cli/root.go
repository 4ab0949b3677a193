// Package cli implements the pipeline command-line tool: ad-hoc SQL
// execution and queries through the queue layer, manifest-driven schema
// management, database inspection, and online backup.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "text" | "json" | "yaml"
	Profile    string // profile name from the config file
	ConfigPath string // YAML config file with profiles
	LogFile    string // rotate logs to this file instead of stderr
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for the pipeline CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "pipeline",
		Short:         "Safe serialized access to embedded SQLite databases",
		Long:          "pipeline runs SQL through single-writer and snapshot-reader queues,\nmanages schema from CUE manifests, and inspects or backs up databases.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyProfile(opts); err != nil {
				return err
			}
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			setupLogging(opts.Verbose, opts.LogFile)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVar(&opts.Profile, "profile", "", "profile name from the config file")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file with profiles")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "write rotated logs to this file instead of stderr")

	cmd.AddCommand(NewExecCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
