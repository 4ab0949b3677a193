package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConn opens a temp-file database for one test.
func testConn(t *testing.T, opts ...ConnectionOption) *Connection {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.closeDiscarding() })
	return c
}

func TestOpen_Memory(t *testing.T) {
	c, err := Open(":memory:")
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, ":memory:", c.Target())
	assert.False(t, c.ReadOnly())
	require.NoError(t, c.Execute("CREATE TABLE t (x)"))
}

func TestOpen_CreateIfMissingDisabled(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.db"), CreateIfMissing(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEngineOpen)
}

func TestOpen_ReadOnlyRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.db")
	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Execute("CREATE TABLE t (x)"))
	require.NoError(t, w.Close())

	r, err := Open(path, ReadOnly())
	require.NoError(t, err)
	defer r.Close()

	assert.True(t, r.ReadOnly())
	assert.Error(t, r.Execute("INSERT INTO t VALUES (1)"))
	require.NoError(t, r.Execute("SELECT * FROM t"))
}

func TestOpen_PragmasApplyInOrder(t *testing.T) {
	c := testConn(t,
		WithPragma("user_version = 3"),
		WithPragma("user_version = 7"))

	var v int64
	require.NoError(t, c.queryRow("PRAGMA user_version", func(r *Row) error {
		var err error
		v, err = RowInt64(r, 0)
		return err
	}))
	assert.Equal(t, int64(7), v)
}

func TestConnection_ExecuteWithArgs(t *testing.T) {
	c := testConn(t)
	require.NoError(t, c.Execute("CREATE TABLE t (a, b)"))
	require.NoError(t, c.Execute("INSERT INTO t VALUES (?, ?)", int64(1), "one"))
	require.NoError(t, c.Execute("INSERT INTO t VALUES (:a, :b)",
		Named("a", int64(2)), Named("b", "two")))

	assert.Equal(t, int64(1), c.Changes())

	var total int64
	require.NoError(t, c.queryRow("SELECT COUNT(*) FROM t", func(r *Row) error {
		var err error
		total, err = RowInt64(r, 0)
		return err
	}))
	assert.Equal(t, int64(2), total)
}

func TestConnection_LastInsertRowID(t *testing.T) {
	c := testConn(t)
	require.NoError(t, c.Execute("CREATE TABLE t (id INTEGER PRIMARY KEY, x)"))
	require.NoError(t, c.Execute("INSERT INTO t (x) VALUES ('a')"))
	first := c.LastInsertRowID()
	require.NoError(t, c.Execute("INSERT INTO t (x) VALUES ('b')"))
	assert.Equal(t, first+1, c.LastInsertRowID())
}

func TestConnection_TotalChanges(t *testing.T) {
	c := testConn(t)
	require.NoError(t, c.Execute("CREATE TABLE t (x)"))
	require.NoError(t, c.Execute("INSERT INTO t VALUES (1)"))
	require.NoError(t, c.Execute("INSERT INTO t VALUES (2)"))

	total, err := c.TotalChanges()
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestConnection_PrepareSyntaxError(t *testing.T) {
	c := testConn(t)
	_, err := c.Prepare("SELEKT 1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestConnection_PrepareRejectsTrailingContent(t *testing.T) {
	c := testConn(t)
	_, err := c.Prepare("SELECT 1; SELECT 2")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyntax)
	assert.Contains(t, err.Error(), "trailing content")

	// A trailing semicolon alone is fine.
	stmt, err := c.Prepare("SELECT 1;")
	require.NoError(t, err)
	require.NoError(t, stmt.Finalize())
}

func TestConnection_ExecuteScript(t *testing.T) {
	c := testConn(t)
	err := c.ExecuteScript(`
		CREATE TABLE t (x);
		INSERT INTO t VALUES (1);
		INSERT INTO t VALUES (2);
	`)
	require.NoError(t, err)

	var n int64
	require.NoError(t, c.queryRow("SELECT COUNT(*) FROM t", func(r *Row) error {
		var err error
		n, err = RowInt64(r, 0)
		return err
	}))
	assert.Equal(t, int64(2), n)
}

func TestConnection_ExecuteScriptStopsAtFirstFailure(t *testing.T) {
	c := testConn(t)
	err := c.ExecuteScript(`
		CREATE TABLE t (x);
		INSERT INTO nope VALUES (1);
		INSERT INTO t VALUES (2);
	`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecute)
	assert.Contains(t, err.Error(), "statement 2")

	// The first statement ran; the third never did.
	var n int64
	require.NoError(t, c.queryRow("SELECT COUNT(*) FROM t", func(r *Row) error {
		var err error
		n, err = RowInt64(r, 0)
		return err
	}))
	assert.Equal(t, int64(0), n)
}

func TestConnection_CloseRefusesWithLiveStatements(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "close.db"))
	require.NoError(t, err)

	stmt, err := c.Prepare("SELECT 1")
	require.NoError(t, err)

	err = c.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, stmt.Finalize())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "close is idempotent")
}

func TestConnection_UseAfterClose(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "gone.db"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Execute("SELECT 1"), ErrClosed)
	_, err = c.Prepare("SELECT 1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConnection_Backup(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "src.db"))
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Execute("CREATE TABLE t (x)"))
	require.NoError(t, c.Execute("INSERT INTO t VALUES (42)"))

	dest := filepath.Join(dir, "copy.db")
	require.NoError(t, c.Backup(context.Background(), dest))

	copyConn, err := Open(dest, ReadOnly())
	require.NoError(t, err)
	defer copyConn.Close()

	var x int64
	require.NoError(t, copyConn.queryRow("SELECT x FROM t", func(r *Row) error {
		var err error
		x, err = RowInt64(r, 0)
		return err
	}))
	assert.Equal(t, int64(42), x)
}

func TestConnection_BackupRefusesExistingDest(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "src.db"))
	require.NoError(t, err)
	defer c.Close()

	dest := filepath.Join(dir, "exists.db")
	require.NoError(t, os.WriteFile(dest, []byte("x"), 0o644))

	err = c.Backup(context.Background(), dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMisuse)
}

func TestConnection_TimeBindingEpoch(t *testing.T) {
	c := testConn(t, WithTimeBinding(TimeAsEpoch))
	require.NoError(t, c.Execute("CREATE TABLE t (ts)"))

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.Execute("INSERT INTO t VALUES (?)", ts))

	var stored Value
	require.NoError(t, c.queryRow("SELECT ts FROM t", func(r *Row) error {
		var err error
		stored, err = r.Value(0)
		return err
	}))
	assert.True(t, stored.Equal(Integer(ts.Unix())))
}
