package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is one named set of flag defaults from the config file.
type Profile struct {
	DB      string `yaml:"db"`
	Format  string `yaml:"format"`
	LogFile string `yaml:"log_file"`
}

// configFile is the YAML shape of --config:
//
//	profiles:
//	  dev:
//	    db: dev.db
//	    format: text
type configFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// defaultConfigPath is consulted when --config is not given.
const defaultConfigPath = "pipeline.yaml"

// profileDB carries the selected profile's database default to commands
// whose --db flag was left empty.
var profileDB string

// applyProfile loads the selected profile, if any, and fills in flag
// values the user did not set explicitly.
func applyProfile(opts *RootOptions) error {
	path := opts.ConfigPath
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			if opts.Profile != "" {
				return fmt.Errorf("--profile %q given but no config file found", opts.Profile)
			}
			return nil
		}
		path = defaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg configFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if opts.Profile == "" {
		return nil
	}
	p, ok := cfg.Profiles[opts.Profile]
	if !ok {
		return fmt.Errorf("profile %q not found in %s", opts.Profile, path)
	}

	profileDB = p.DB
	if p.Format != "" && opts.Format == "text" {
		opts.Format = p.Format
	}
	if p.LogFile != "" && opts.LogFile == "" {
		opts.LogFile = p.LogFile
	}
	return nil
}

// resolveDB picks the --db flag value or the profile default.
func resolveDB(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if profileDB != "" {
		return profileDB, nil
	}
	return "", NewExitError(ExitCommandError, "no database given: set --db or a profile with a db entry")
}
