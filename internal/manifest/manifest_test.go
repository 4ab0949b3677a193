package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, cueSrc string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "db.cue"), []byte(cueSrc), 0o644))
	return dir
}

const validManifest = `
database: {
	name:    "inventory"
	pragmas: ["journal_mode = WAL"]
}
migrations: [{
	version:     1
	description: "create items"
	up: ["CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)"]
}, {
	version:     2
	description: "add price"
	up: ["ALTER TABLE items ADD COLUMN price REAL"]
}]
`

func TestLoad_Valid(t *testing.T) {
	m, err := Load(writeManifest(t, validManifest))
	require.NoError(t, err)

	assert.Equal(t, "inventory", m.Database.Name)
	assert.Equal(t, []string{"journal_mode = WAL"}, m.Database.Pragmas)
	require.Len(t, m.Migrations, 2)
	assert.Equal(t, 2, m.Version())
	assert.Equal(t, "create items", m.Migrations[0].Description)
}

func TestLoad_MultipleFilesUnify(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "database.cue"), []byte(`
database: name: "split"
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "migrations.cue"), []byte(`
migrations: [{
	version:     1
	description: "create items"
	up: ["CREATE TABLE items (id INTEGER PRIMARY KEY)"]
}]
`), 0o644))

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "split", m.Database.Name)
	assert.Equal(t, 1, m.Version())
}

func TestLoad_NoCUEFiles(t *testing.T) {
	_, err := Load(t.TempDir())
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeLoad, le.Code)
}

func TestLoad_MigrationsSortedByVersion(t *testing.T) {
	m, err := Load(writeManifest(t, `
database: name: "db"
migrations: [{
	version: 2
	description: "second"
	up: ["SELECT 2"]
}, {
	version: 1
	description: "first"
	up: ["SELECT 1"]
}]
`))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Migrations[0].Version)
	assert.Equal(t, 2, m.Migrations[1].Version)
}

func TestLoad_NoMigrations(t *testing.T) {
	m, err := Load(writeManifest(t, `database: name: "empty"`))
	require.NoError(t, err)
	assert.Equal(t, 0, m.Version())
	assert.Empty(t, m.Pending(0))
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeNotFound, le.Code)
}

func TestLoad_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := Load(file)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeNotFound, le.Code)
}

func TestLoad_MissingDatabaseField(t *testing.T) {
	_, err := Load(writeManifest(t, `migrations: []`))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeSchema, le.Code)
}

func TestLoad_EmptyDatabaseName(t *testing.T) {
	_, err := Load(writeManifest(t, `database: name: ""`))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeSchema, le.Code)
}

func TestLoad_VersionGapRejected(t *testing.T) {
	_, err := Load(writeManifest(t, `
database: name: "db"
migrations: [{
	version: 1
	description: "first"
	up: ["SELECT 1"]
}, {
	version: 3
	description: "skipped two"
	up: ["SELECT 3"]
}]
`))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeVersions, le.Code)
}

func TestLoad_VersionsMustStartAtOne(t *testing.T) {
	_, err := Load(writeManifest(t, `
database: name: "db"
migrations: [{
	version: 2
	description: "starts late"
	up: ["SELECT 1"]
}]
`))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeVersions, le.Code)
}

func TestLoad_MigrationNeedsUpStatements(t *testing.T) {
	_, err := Load(writeManifest(t, `
database: name: "db"
migrations: [{
	version: 1
	description: "empty"
	up: []
}]
`))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeSchema, le.Code)
}

func TestLoad_MalformedCUE(t *testing.T) {
	_, err := Load(writeManifest(t, `database: { name: `))
	require.Error(t, err)
	var le *LoadError
	require.ErrorAs(t, err, &le)
}

func TestManifest_Pending(t *testing.T) {
	m, err := Load(writeManifest(t, validManifest))
	require.NoError(t, err)

	assert.Len(t, m.Pending(0), 2)
	pending := m.Pending(1)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Version)
	assert.Empty(t, m.Pending(2))
}
