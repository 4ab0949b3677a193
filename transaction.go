package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// TransactionState tracks the connection's transaction phase.
type TransactionState int

const (
	// TxNone means no transaction is active (autocommit).
	TxNone TransactionState = iota
	// TxActive means a transaction or savepoint is open.
	TxActive
	// TxCommitting means a commit is in flight.
	TxCommitting
	// TxRollingBack means a rollback is in flight.
	TxRollingBack
)

// String returns the string representation of the TransactionState.
func (s TransactionState) String() string {
	switch s {
	case TxActive:
		return "Active"
	case TxCommitting:
		return "Committing"
	case TxRollingBack:
		return "RollingBack"
	default:
		return "None"
	}
}

// TransactionKind selects the locking behavior of BEGIN.
type TransactionKind int

const (
	// TxDeferred takes no lock until the first access.
	TxDeferred TransactionKind = iota
	// TxImmediate takes the write lock at BEGIN.
	TxImmediate
	// TxExclusive takes an exclusive lock at BEGIN.
	TxExclusive
)

func (k TransactionKind) beginSQL() string {
	switch k {
	case TxImmediate:
		return "BEGIN IMMEDIATE"
	case TxExclusive:
		return "BEGIN EXCLUSIVE"
	default:
		return "BEGIN DEFERRED"
	}
}

// TxOutcome is the explicit directive a transaction body returns.
type TxOutcome int

const (
	// TxCommit commits the transaction.
	TxCommit TxOutcome = iota
	// TxRollback rolls the transaction back without error.
	TxRollback
)

// InTransaction reports whether a transaction or savepoint is open.
func (c *Connection) InTransaction() bool {
	return c.txState != TxNone || !c.conn.AutocommitEnabled()
}

// TransactionState returns the current transaction phase.
func (c *Connection) TransactionState() TransactionState { return c.txState }

// Transaction runs body inside a transaction of the given kind. The body
// returns an explicit outcome directive; an error or panic from the body
// forces a rollback before the error (or panic) propagates. If that forced
// rollback itself fails, the combined error is RollbackFailed-kind and the
// connection should be considered suspect.
//
// Transactions do not nest; use Savepoint inside an open transaction.
func (c *Connection) Transaction(kind TransactionKind, body func(*Connection) (TxOutcome, error)) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.InTransaction() {
		return fmt.Errorf("%w: transaction already active; use Savepoint to nest", ErrMisuse)
	}
	if err := c.execRaw(kind.beginSQL()); err != nil {
		return err
	}
	c.txState = TxActive

	outcome, err := c.runBody(body)
	if err != nil || outcome == TxRollback {
		if rbErr := c.rollbackTx(); rbErr != nil {
			return c.rollbackFailure(rbErr, err)
		}
		return err
	}
	return c.commitTx()
}

// runBody invokes body with panic protection: a panicking body gets its
// transaction rolled back before the panic continues up the stack.
func (c *Connection) runBody(body func(*Connection) (TxOutcome, error)) (outcome TxOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			if rbErr := c.rollbackTx(); rbErr != nil {
				c.logger.Error("rollback failed while unwinding panic",
					"target", c.target, "error", rbErr)
			}
			panic(p)
		}
	}()
	return body(c)
}

func (c *Connection) commitTx() error {
	if c.commitHook != nil {
		if err := c.commitHook(); err != nil {
			if rbErr := c.rollbackTx(); rbErr != nil {
				return c.rollbackFailure(rbErr, err)
			}
			return fmt.Errorf("commit vetoed by hook: %w", err)
		}
	}
	c.txState = TxCommitting
	if err := c.execRaw("COMMIT"); err != nil {
		c.txState = TxActive
		if rbErr := c.rollbackTx(); rbErr != nil {
			return c.rollbackFailure(rbErr, err)
		}
		return err
	}
	c.txState = TxNone
	c.savepoints = nil
	c.syncChangeBaseline()
	return nil
}

func (c *Connection) rollbackTx() error {
	c.txState = TxRollingBack
	var err error
	// Some statement failures roll the transaction back themselves; a
	// second ROLLBACK would fail with "no transaction is active" and be
	// misreported as fatal.
	if !c.conn.AutocommitEnabled() {
		err = c.execRaw("ROLLBACK")
	}
	c.txState = TxNone
	c.savepoints = nil
	c.syncChangeBaseline()
	if err != nil {
		return err
	}
	if c.rollbackHook != nil {
		c.rollbackHook()
	}
	return nil
}

// rollbackFailure builds the fatal combined error for a rollback that
// could not complete. cause may be nil when the body requested rollback
// without an error. Idempotent: an error already marked RollbackFailed is
// not re-wrapped.
func (c *Connection) rollbackFailure(rbErr, cause error) error {
	if errors.Is(rbErr, ErrRollbackFailed) {
		if cause != nil {
			return fmt.Errorf("%w (rolling back after: %w)", rbErr, cause)
		}
		return rbErr
	}
	c.logger.Error("rollback failed; connection suspect",
		"target", c.target, "rollback_error", rbErr, "cause", cause)
	if cause != nil {
		return fmt.Errorf("%w: %w (rolling back after: %w)", ErrRollbackFailed, rbErr, cause)
	}
	return fmt.Errorf("%w: %w", ErrRollbackFailed, rbErr)
}

// BeginSavepoint opens a named savepoint. Names must be unique within the
// active nesting; reuse is a SavepointConflict-kind error.
func (c *Connection) BeginSavepoint(name string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: empty savepoint name", ErrMisuse)
	}
	if slices.Contains(c.savepoints, name) {
		return fmt.Errorf("%w: savepoint %q already open", ErrSavepointConflict, name)
	}
	if err := c.execRaw("SAVEPOINT " + quoteIdent(name)); err != nil {
		return err
	}
	c.savepoints = append(c.savepoints, name)
	c.txState = TxActive
	return nil
}

// ReleaseSavepoint commits the named savepoint. The target must be the
// innermost open savepoint: releasing an outer savepoint while an inner
// one is still open is a SavepointConflict-kind error.
func (c *Connection) ReleaseSavepoint(name string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	i := slices.Index(c.savepoints, name)
	if i < 0 {
		return fmt.Errorf("%w: no open savepoint named %q", ErrMisuse, name)
	}
	if i != len(c.savepoints)-1 {
		return fmt.Errorf("%w: cannot release %q while inner savepoint %q is open",
			ErrSavepointConflict, name, c.savepoints[len(c.savepoints)-1])
	}
	if err := c.execRaw("RELEASE SAVEPOINT " + quoteIdent(name)); err != nil {
		return err
	}
	c.savepoints = c.savepoints[:i]
	if len(c.savepoints) == 0 && c.conn.AutocommitEnabled() {
		// A top-level release commits; report it like any other
		// autocommit write.
		c.txState = TxNone
		c.observeAutocommit()
	}
	return nil
}

// RollbackToSavepoint undoes everything since the named savepoint,
// discarding any savepoints opened after it. The savepoint itself stays
// open; release it to pop it.
func (c *Connection) RollbackToSavepoint(name string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	i := slices.Index(c.savepoints, name)
	if i < 0 {
		return fmt.Errorf("%w: no open savepoint named %q", ErrMisuse, name)
	}
	c.txState = TxRollingBack
	err := c.execRaw("ROLLBACK TO SAVEPOINT " + quoteIdent(name))
	c.txState = TxActive
	if err != nil {
		return c.rollbackFailure(err, nil)
	}
	c.savepoints = c.savepoints[:i+1]
	// total_changes keeps counting rows a rollback undid; re-baseline so
	// a following top-level release does not report them as committed.
	c.syncChangeBaseline()
	return nil
}

// Savepoint runs body inside a named savepoint. Commit releases it;
// Rollback or an error rolls back to it (then releases), re-raising the
// triggering error. Savepoints nest: call Savepoint again inside body.
func (c *Connection) Savepoint(name string, body func(*Connection) (TxOutcome, error)) error {
	if err := c.BeginSavepoint(name); err != nil {
		return err
	}
	outcome, err := c.runSavepointBody(name, body)
	if err != nil || outcome == TxRollback {
		if rbErr := c.rollbackToAndRelease(name); rbErr != nil {
			return c.rollbackFailure(rbErr, err)
		}
		return err
	}
	return c.ReleaseSavepoint(name)
}

func (c *Connection) runSavepointBody(name string, body func(*Connection) (TxOutcome, error)) (outcome TxOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			if rbErr := c.rollbackToAndRelease(name); rbErr != nil {
				c.logger.Error("savepoint rollback failed while unwinding panic",
					"target", c.target, "savepoint", name, "error", rbErr)
			}
			panic(p)
		}
	}()
	return body(c)
}

func (c *Connection) rollbackToAndRelease(name string) error {
	if err := c.RollbackToSavepoint(name); err != nil {
		return err
	}
	return c.ReleaseSavepoint(name)
}

// SavepointScope runs body inside an anonymous savepoint with a generated
// unique name.
func (c *Connection) SavepointScope(body func(*Connection) (TxOutcome, error)) error {
	name := "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	return c.Savepoint(name, body)
}

// quoteIdent quotes a SQL identifier, escaping embedded double quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
