package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"zombiezen.com/go/sqlite"

	"github.com/wildthink/pipeline/internal/sqltoken"
)

// Connection owns one engine connection handle. It is NOT thread-safe:
// the engine is driven without internal locking, so at most one operation
// may be in flight at any instant. Production code reaches a Connection
// only through the queue that owns it (ConnectionQueue or
// ConnectionReadQueue); constructing one directly is for single-goroutine
// use and tests.
type Connection struct {
	conn     *sqlite.Conn
	target   string
	readOnly bool
	closed   bool

	logger      *slog.Logger
	busy        BusyPolicy
	timeBinding TimeBinding

	// Live prepared statements. Close refuses to proceed while this is
	// non-empty; closeDiscarding finalizes the stragglers instead.
	stmts map[*Statement]struct{}

	// Transaction/savepoint state machine (transaction.go).
	txState    TransactionState
	savepoints []string

	// Extension registries (function.go, collation.go, hooks.go).
	functions    map[string]struct{}
	collations   map[string]struct{}
	commitHook   CommitHookFunc
	rollbackHook RollbackHookFunc
	updateHook   UpdateHookFunc
	hookTables   []string

	// total_changes snapshot; lets the autocommit observer tell fresh
	// writes apart from the engine's sticky per-statement change count.
	lastTotalChanges int64
}

type connConfig struct {
	readOnly    bool
	create      bool
	pragmas     []string
	logger      *slog.Logger
	busy        BusyPolicy
	timeBinding TimeBinding
}

// ConnectionOption configures Open.
type ConnectionOption func(*connConfig)

// ReadOnly opens the database read-only. Write statements fail at the
// engine with a read-only error.
func ReadOnly() ConnectionOption {
	return func(c *connConfig) { c.readOnly = true }
}

// CreateIfMissing controls whether Open creates a missing database file.
// Defaults to true for writable connections.
func CreateIfMissing(create bool) ConnectionOption {
	return func(c *connConfig) { c.create = create }
}

// WithPragma queues a PRAGMA to apply, in order, right after open.
// The argument is the pragma body, e.g. "journal_mode = WAL".
func WithPragma(pragma string) ConnectionOption {
	return func(c *connConfig) { c.pragmas = append(c.pragmas, pragma) }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(c *connConfig) { c.logger = logger }
}

// WithBusyPolicy sets the retry policy consulted by the owning queue for
// busy contention.
func WithBusyPolicy(p BusyPolicy) ConnectionOption {
	return func(c *connConfig) { c.busy = p }
}

// WithTimeBinding sets how time.Time values are bound.
func WithTimeBinding(tb TimeBinding) ConnectionOption {
	return func(c *connConfig) { c.timeBinding = tb }
}

// Open opens the database at target, which is a filesystem path or
// ":memory:". Fails with an EngineOpen-kind error when the engine cannot
// open the target.
func Open(target string, opts ...ConnectionOption) (*Connection, error) {
	cfg := connConfig{
		create:      true,
		logger:      slog.Default(),
		busy:        DefaultBusyPolicy(),
		timeBinding: TimeAsText,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	flags := sqlite.OpenNoMutex | sqlite.OpenURI
	if cfg.readOnly {
		flags |= sqlite.OpenReadOnly
	} else {
		flags |= sqlite.OpenReadWrite
		if cfg.create {
			flags |= sqlite.OpenCreate
		}
	}
	if target == ":memory:" {
		flags |= sqlite.OpenMemory
	}

	conn, err := sqlite.OpenConn(target, flags)
	if err != nil {
		return nil, classifyEngineError(err, ErrEngineOpen)
	}

	// Busy handling is the queue layer's job; surface contention
	// immediately so BusyPolicy sees it.
	conn.SetBusyTimeout(0)

	c := &Connection{
		conn:        conn,
		target:      target,
		readOnly:    cfg.readOnly,
		logger:      cfg.logger,
		busy:        cfg.busy,
		timeBinding: cfg.timeBinding,
		stmts:       make(map[*Statement]struct{}),
		functions:   make(map[string]struct{}),
		collations:  make(map[string]struct{}),
	}

	for _, pragma := range cfg.pragmas {
		if err := c.execRaw("PRAGMA " + pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	c.logger.Debug("connection opened", "target", target, "read_only", cfg.readOnly)
	return c, nil
}

// Target returns the path or ":memory:" target this connection was opened
// against.
func (c *Connection) Target() string { return c.target }

// ReadOnly reports whether the connection was opened read-only.
func (c *Connection) ReadOnly() bool { return c.readOnly }

func (c *Connection) checkOpen() error {
	if c.closed {
		return fmt.Errorf("%w: %s", ErrClosed, c.target)
	}
	return nil
}

// NamedArg binds a value to a named parameter in Execute and
// Statement.BindAll argument lists.
type NamedArg struct {
	Name  string
	Value any
}

// Named pairs a parameter name with a value. The name may carry its sigil
// (":a") or not ("a").
func Named(name string, value any) NamedArg {
	return NamedArg{Name: name, Value: value}
}

// Execute runs a single SQL statement to completion, binding positional
// and Named arguments. Result rows, if any, are discarded.
func (c *Connection) Execute(sql string, args ...any) error {
	stmt, err := c.Prepare(sql)
	if err != nil {
		return err
	}
	defer stmt.Finalize()

	if err := stmt.BindAll(args...); err != nil {
		return err
	}
	for {
		ok, err := stmt.Step()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	return nil
}

// ExecuteScript runs a multi-statement script, stopping at the first
// failure. Statements are split on top-level semicolons; no arguments are
// bound.
func (c *Connection) ExecuteScript(script string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	for i, stmt := range sqltoken.Split(script) {
		if err := c.execRaw(stmt); err != nil {
			return fmt.Errorf("%w: statement %d: %w", ErrExecute, i+1, err)
		}
	}
	c.observeAutocommit()
	return nil
}

// Prepare compiles sql into a reusable Statement owned by this connection.
// Fails with a Syntax-kind error for uncompilable SQL and for trailing
// content after the first statement.
func (c *Connection) Prepare(sql string) (*Statement, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	stmt, trailing, err := c.conn.PrepareTransient(sql)
	if err != nil {
		return nil, classifyEngineError(err, ErrSyntax)
	}
	if rest := strings.TrimSpace(sql[len(sql)-trailing:]); rest != "" {
		stmt.Finalize()
		return nil, fmt.Errorf("%w: trailing content after statement: %q", ErrSyntax, rest)
	}
	s := newStatement(c, stmt, sql)
	c.stmts[s] = struct{}{}
	return s, nil
}

// Close closes the connection. It fails with a Closed-kind error while
// prepared statements are still live: finalize them first, or let the
// owning queue close via closeDiscarding.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	if n := len(c.stmts); n > 0 {
		return fmt.Errorf("%w: %d prepared statements still live", ErrClosed, n)
	}
	return c.closeHandle()
}

// closeDiscarding finalizes any straggler statements, then closes. Used by
// the owning queue at teardown, where a leaked statement is a caller bug
// worth a warning but not worth leaking the engine handle over.
func (c *Connection) closeDiscarding() error {
	if c.closed {
		return nil
	}
	for s := range c.stmts {
		c.logger.Warn("finalizing statement left live at close", "sql", s.SQL())
		s.Finalize()
	}
	return c.closeHandle()
}

func (c *Connection) closeHandle() error {
	c.closed = true
	err := c.conn.Close()
	c.logger.Debug("connection closed", "target", c.target)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return nil
}

// Changes returns the number of rows changed by the most recent statement.
func (c *Connection) Changes() int64 {
	return int64(c.conn.Changes())
}

// LastInsertRowID returns the rowid of the most recent successful INSERT.
func (c *Connection) LastInsertRowID() int64 {
	return c.conn.LastInsertRowID()
}

// TotalChanges returns the number of rows changed since the connection
// opened.
func (c *Connection) TotalChanges() (int64, error) {
	var total int64
	err := c.queryRow("SELECT total_changes()", func(r *Row) error {
		n, err := RowInt64(r, 0)
		total = n
		return err
	})
	return total, err
}

// Backup writes an online copy of the database to destPath via VACUUM
// INTO. The destination must not already exist. The copy is transactional:
// it reflects a single consistent snapshot.
func (c *Connection) Backup(ctx context.Context, destPath string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("%w: backup destination %q already exists", ErrMisuse, destPath)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: stat backup destination: %w", ErrMisuse, err)
	}

	old := c.conn.SetInterrupt(ctx.Done())
	defer c.conn.SetInterrupt(old)

	c.logger.Info("backup started", "target", c.target, "dest", destPath)
	if err := c.Execute("VACUUM INTO ?", destPath); err != nil {
		return err
	}
	c.logger.Info("backup finished", "dest", destPath)
	return nil
}

// execRaw runs one internal SQL statement (transaction control, pragmas)
// directly against the engine, outside the statement registry.
func (c *Connection) execRaw(sql string) error {
	stmt, _, err := c.conn.PrepareTransient(sql)
	if err != nil {
		return classifyEngineError(err, ErrSyntax)
	}
	defer stmt.Finalize()
	for {
		ok, err := stmt.Step()
		if err != nil {
			return classifyEngineError(err, ErrStep)
		}
		if !ok {
			return nil
		}
	}
}

// queryRow runs sql and hands the first result row to fn. Used internally
// for pragma and metadata reads.
func (c *Connection) queryRow(sql string, fn func(*Row) error) error {
	stmt, err := c.Prepare(sql)
	if err != nil {
		return err
	}
	defer stmt.Finalize()

	ok, err := stmt.Step()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: query returned no rows: %s", ErrStep, sql)
	}
	row, err := stmt.Row()
	if err != nil {
		return err
	}
	return fn(row)
}
