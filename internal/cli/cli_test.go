package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cliManifest = `
database: {
	name:    "store"
	pragmas: ["journal_mode = WAL"]
}
migrations: [{
	version:     1
	description: "create items"
	up: ["CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT, price REAL)"]
}]
`

func manifestDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "store.cue"), []byte(cliManifest), 0o644))
	return dir
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_InitExecQuery(t *testing.T) {
	db := filepath.Join(t.TempDir(), "store.db")
	mdir := manifestDir(t)

	out, err := runCLI(t, "init", "--db", db, "--manifest", mdir, "--format", "json")
	require.NoError(t, err)

	var initRes map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &initRes))
	assert.Equal(t, "store", initRes["database"])
	assert.Equal(t, float64(1), initRes["version"])

	out, err = runCLI(t, "exec",
		"INSERT INTO items (name, price) VALUES (:name, :price)",
		"--db", db, "--param", "name=widget", "--param", "price=9.5",
		"--format", "json")
	require.NoError(t, err)

	var execRes map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &execRes))
	assert.Equal(t, float64(1), execRes["changes"])
	assert.Equal(t, float64(1), execRes["last_insert_id"])

	out, err = runCLI(t, "query",
		"SELECT name, price FROM items WHERE name = :name",
		"--db", db, "--param", "name=widget", "--format", "json")
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "widget", rows[0]["name"])
	assert.Equal(t, 9.5, rows[0]["price"])
}

func TestCLI_InitRefusesNonEmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "store.db")
	mdir := manifestDir(t)

	_, err := runCLI(t, "init", "--db", db, "--manifest", mdir)
	require.NoError(t, err)

	_, err = runCLI(t, "init", "--db", db, "--manifest", mdir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "not empty")
}

func TestCLI_MigrateDryRunAndApply(t *testing.T) {
	db := filepath.Join(t.TempDir(), "store.db")
	mdir := t.TempDir()
	twoStep := `
database: name: "store"
migrations: [{
	version:     1
	description: "create items"
	up: ["CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT, price REAL)"]
}, {
	version:     2
	description: "add stock"
	up: ["ALTER TABLE items ADD COLUMN stock INTEGER"]
}]
`
	require.NoError(t, os.WriteFile(filepath.Join(mdir, "store.cue"), []byte(twoStep), 0o644))

	out, err := runCLI(t, "migrate", "--db", db, "--manifest", mdir, "--dry-run", "--format", "json")
	require.NoError(t, err)
	var pending []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	assert.Len(t, pending, 2)

	out, err = runCLI(t, "migrate", "--db", db, "--manifest", mdir, "--format", "json")
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, float64(2), res["applied"])
	assert.Equal(t, float64(2), res["version"])

	// Nothing left to do.
	out, err = runCLI(t, "migrate", "--db", db, "--manifest", mdir, "--format", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, float64(0), res["applied"])
}

func TestCLI_MigrateToBeyondManifest(t *testing.T) {
	db := filepath.Join(t.TempDir(), "store.db")
	mdir := manifestDir(t)

	_, err := runCLI(t, "migrate", "--db", db, "--manifest", mdir, "--to", "9")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCLI_Inspect(t *testing.T) {
	db := filepath.Join(t.TempDir(), "store.db")
	mdir := manifestDir(t)
	_, err := runCLI(t, "init", "--db", db, "--manifest", mdir)
	require.NoError(t, err)

	out, err := runCLI(t, "inspect", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "version: 1")
	assert.Contains(t, out, "items")
	assert.Contains(t, out, "page_size")
}

func TestCLI_Backup(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "store.db")
	mdir := manifestDir(t)
	_, err := runCLI(t, "init", "--db", db, "--manifest", mdir)
	require.NoError(t, err)

	dest := filepath.Join(dir, "copy.db")
	_, err = runCLI(t, "backup", "--db", db, "--to", dest)
	require.NoError(t, err)
	assert.FileExists(t, dest)

	// Destination collisions are refused.
	_, err = runCLI(t, "backup", "--db", db, "--to", dest)
	require.Error(t, err)
}

func TestCLI_QueryFailureExitCode(t *testing.T) {
	db := filepath.Join(t.TempDir(), "store.db")
	mdir := manifestDir(t)
	_, err := runCLI(t, "init", "--db", db, "--manifest", mdir)
	require.NoError(t, err)

	_, err = runCLI(t, "query", "SELECT * FROM nope", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestCLI_InvalidFormat(t *testing.T) {
	_, err := runCLI(t, "inspect", "--db", "x.db", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestCLI_MissingDatabaseFlag(t *testing.T) {
	resetProfile(t)
	_, err := runCLI(t, "exec", "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
