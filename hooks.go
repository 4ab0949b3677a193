package pipeline

import (
	"fmt"
	"strings"
)

// CommitHookFunc observes commits. When invoked from Transaction's commit
// path a non-nil error vetoes the COMMIT, converting it to a rollback.
// When invoked after an autocommit write statement, or after a top-level
// savepoint release, the commit has already happened; a returned error is
// logged, not honored.
type CommitHookFunc func() error

// RollbackHookFunc observes rollbacks.
type RollbackHookFunc func()

// UpdateOp identifies the row change an update hook reports.
type UpdateOp int

const (
	// OpInsert reports an inserted row.
	OpInsert UpdateOp = iota
	// OpUpdate reports an updated row.
	OpUpdate
	// OpDelete reports a deleted row.
	OpDelete
)

// String returns the string representation of the UpdateOp.
func (op UpdateOp) String() string {
	switch op {
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "insert"
	}
}

// UpdateHookFunc receives one call per changed row, on the goroutine
// driving the connection.
type UpdateHookFunc func(op UpdateOp, table string, rowid int64)

// RegisterCommitHook installs fn as the connection's commit observer.
// Registering nil removes the hook.
func (c *Connection) RegisterCommitHook(fn CommitHookFunc) {
	c.commitHook = fn
	if fn != nil {
		if total, err := c.TotalChanges(); err == nil {
			c.lastTotalChanges = total
		}
	}
}

// RegisterRollbackHook installs fn as the connection's rollback observer.
// Registering nil removes the hook.
func (c *Connection) RegisterRollbackHook(fn RollbackHookFunc) {
	c.rollbackHook = fn
}

// updateHookFunction is the internal scalar function the per-table
// triggers invoke.
const updateHookFunction = "pipeline_update_hook"

// RegisterUpdateHook installs fn as a per-row change observer for the
// named tables, implemented with temporary AFTER triggers that call an
// internal scalar function with (op, table, rowid). Registering nil
// removes the triggers. The tables must exist when the hook is
// registered.
func (c *Connection) RegisterUpdateHook(fn UpdateHookFunc, tables ...string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if fn == nil {
		c.updateHook = nil
		return c.dropUpdateTriggers()
	}
	if len(tables) == 0 {
		return fmt.Errorf("%w: update hook needs at least one table", ErrMisuse)
	}

	if _, ok := c.functions[updateHookFunction]; !ok {
		err := c.RegisterScalarFunction(updateHookFunction, 3, false, func(_ *FunctionContext, args []Value) (Value, error) {
			c.dispatchUpdateHook(args)
			return Null(), nil
		})
		if err != nil {
			return err
		}
	}

	// Replacing an earlier registration drops its triggers first.
	if err := c.dropUpdateTriggers(); err != nil {
		return err
	}

	c.updateHook = fn
	for _, table := range tables {
		if err := c.createUpdateTriggers(table); err != nil {
			c.updateHook = nil
			return err
		}
	}
	c.hookTables = append([]string(nil), tables...)
	c.logger.Debug("update hook registered", "tables", strings.Join(tables, ","))
	return nil
}

func (c *Connection) dispatchUpdateHook(args []Value) {
	fn := c.updateHook
	if fn == nil || len(args) != 3 {
		return
	}
	opText, _, _ := args[0].TextValue()
	table, _, _ := args[1].TextValue()
	rowid, _, _ := args[2].Int64()
	var op UpdateOp
	switch opText {
	case "update":
		op = OpUpdate
	case "delete":
		op = OpDelete
	default:
		op = OpInsert
	}
	fn(op, table, rowid)
}

func (c *Connection) createUpdateTriggers(table string) error {
	q := quoteIdent(table)
	lit := "'" + strings.ReplaceAll(table, "'", "''") + "'"
	for _, t := range []struct {
		op    string
		event string
		rowid string
	}{
		{"insert", "INSERT", "new.rowid"},
		{"update", "UPDATE", "new.rowid"},
		{"delete", "DELETE", "old.rowid"},
	} {
		name := quoteIdent(fmt.Sprintf("pipeline_uh_%s_%s", t.op, table))
		sql := fmt.Sprintf(
			"CREATE TEMP TRIGGER IF NOT EXISTS %s AFTER %s ON %s BEGIN SELECT %s('%s', %s, %s); END",
			name, t.event, q, updateHookFunction, t.op, lit, t.rowid)
		if err := c.execRaw(sql); err != nil {
			return fmt.Errorf("install %s trigger on %q: %w", t.op, table, err)
		}
	}
	return nil
}

func (c *Connection) dropUpdateTriggers() error {
	for _, table := range c.hookTables {
		for _, op := range []string{"insert", "update", "delete"} {
			name := quoteIdent(fmt.Sprintf("pipeline_uh_%s_%s", op, table))
			if err := c.execRaw("DROP TRIGGER IF EXISTS temp." + name); err != nil {
				return err
			}
		}
	}
	c.hookTables = nil
	return nil
}

// syncChangeBaseline re-snapshots total_changes so the autocommit observer
// does not re-report writes that a transaction path already reported.
func (c *Connection) syncChangeBaseline() {
	if c.commitHook == nil {
		return
	}
	if total, err := c.TotalChanges(); err == nil {
		c.lastTotalChanges = total
	}
}

// observeAutocommit notifies the commit hook after a write statement that
// committed in autocommit mode. The engine's per-statement change count is
// sticky across reads, so fresh writes are detected by the total_changes
// delta. Veto is impossible on this path; the statement already committed.
func (c *Connection) observeAutocommit() {
	if c.commitHook == nil || c.txState != TxNone || !c.conn.AutocommitEnabled() {
		return
	}
	total, err := c.TotalChanges()
	if err != nil || total == c.lastTotalChanges {
		return
	}
	c.lastTotalChanges = total
	if err := c.commitHook(); err != nil {
		c.logger.Warn("commit hook returned error after autocommit statement", "error", err)
	}
}
