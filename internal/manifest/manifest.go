// Package manifest loads database manifests written in CUE. A manifest
// declares the database identity, the pragmas to apply at open, and the
// ordered migration list the CLI's init and migrate commands replay:
//
//	database: {
//	    name:    "inventory"
//	    pragmas: ["journal_mode = WAL"]
//	}
//	migrations: [{
//	    version:     1
//	    description: "create tables"
//	    up: ["CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)"]
//	}]
//
// Versions must be contiguous from 1; schema position information is
// preserved in errors so failures point at the offending CUE.
package manifest

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// Error codes for manifest loading failures.
const (
	ErrCodeNotFound = "M001" // manifest directory missing or not a directory
	ErrCodeLoad     = "M002" // CUE instance loading failed
	ErrCodeBuild    = "M003" // CUE value building failed
	ErrCodeSchema   = "M004" // manifest does not match the expected shape
	ErrCodeVersions = "M005" // migration versions not contiguous from 1
)

// LoadError is a positioned manifest loading failure.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Database identifies the database and the pragmas applied at open.
type Database struct {
	Name    string   `json:"name"`
	Pragmas []string `json:"pragmas,omitempty"`
}

// Migration is one schema version step.
type Migration struct {
	Version     int      `json:"version"`
	Description string   `json:"description"`
	Up          []string `json:"up"`
}

// Manifest is a loaded, validated database manifest. Migrations are
// sorted by version.
type Manifest struct {
	Database   Database
	Migrations []Migration
}

// Version returns the manifest's latest migration version, 0 when there
// are no migrations.
func (m *Manifest) Version() int {
	if len(m.Migrations) == 0 {
		return 0
	}
	return m.Migrations[len(m.Migrations)-1].Version
}

// Pending returns the migrations with versions above current, in order.
func (m *Manifest) Pending(current int) []Migration {
	for i, mig := range m.Migrations {
		if mig.Version > current {
			return m.Migrations[i:]
		}
	}
	return nil
}

// Load reads and validates the CUE manifest in dir.
func Load(dir string) (*Manifest, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifest directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing manifest directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := cueFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoad, Message: fmt.Sprintf("listing manifest files: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeLoad, Message: fmt.Sprintf("no CUE files in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances(files, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoad, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoad, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuild, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	m := &Manifest{}

	dbVal := value.LookupPath(cue.ParsePath("database"))
	if !dbVal.Exists() {
		return nil, &LoadError{Code: ErrCodeSchema, Message: "manifest has no database field", Pos: value.Pos()}
	}
	if err := dbVal.Decode(&m.Database); err != nil {
		return nil, &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("decoding database: %v", err), Pos: dbVal.Pos()}
	}
	if m.Database.Name == "" {
		return nil, &LoadError{Code: ErrCodeSchema, Message: "database.name must be non-empty", Pos: dbVal.Pos()}
	}

	migVal := value.LookupPath(cue.ParsePath("migrations"))
	if migVal.Exists() {
		if err := migVal.Decode(&m.Migrations); err != nil {
			return nil, &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("decoding migrations: %v", err), Pos: migVal.Pos()}
		}
	}

	sort.Slice(m.Migrations, func(i, j int) bool {
		return m.Migrations[i].Version < m.Migrations[j].Version
	})
	for i, mig := range m.Migrations {
		if mig.Version != i+1 {
			return nil, &LoadError{
				Code:    ErrCodeVersions,
				Message: fmt.Sprintf("migration versions must be contiguous from 1; found version %d at position %d", mig.Version, i+1),
				Pos:     migVal.Pos(),
			}
		}
		if len(mig.Up) == 0 {
			return nil, &LoadError{
				Code:    ErrCodeSchema,
				Message: fmt.Sprintf("migration %d has no up statements", mig.Version),
				Pos:     migVal.Pos(),
			}
		}
	}

	return m, nil
}

// cueFiles lists the .cue files in dir, in name order. Manifests are
// plain CUE files without a package clause, so the loader is pointed at
// the files rather than the directory's package.
func cueFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".cue") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
