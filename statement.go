package pipeline

import (
	"fmt"
	"iter"

	"zombiezen.com/go/sqlite"

	"github.com/wildthink/pipeline/internal/sqltoken"
)

// StatementState tracks where a Statement sits in its bind/step/reset
// cycle.
type StatementState int

const (
	// StateReady means the statement can bind parameters and step.
	StateReady StatementState = iota
	// StateExecuting means the statement has a current result row.
	StateExecuting
	// StateCompleted means evaluation finished (or failed); Reset is
	// required before the statement runs again.
	StateCompleted
)

// String returns the string representation of the StatementState.
func (s StatementState) String() string {
	switch s {
	case StateExecuting:
		return "Executing"
	case StateCompleted:
		return "Completed"
	default:
		return "Ready"
	}
}

// Statement owns one compiled statement handle tied to its Connection.
// The connection must outlive the statement; using a finalized statement
// is a Misuse-kind error, never undefined behavior.
//
// State machine: Ready --step--> Executing (row available, repeatable)
// --step--> Completed (done); Executing/Completed --reset--> Ready.
// Binding is permitted only in Ready.
type Statement struct {
	conn *Connection
	stmt *sqlite.Stmt
	sql  string

	params   []sqltoken.Param
	names    map[string]int // parameter token -> 1-based index
	bindings map[int]Value  // 1-based index -> bound value

	columns  []string
	colIndex map[string]int

	state     StatementState
	finalized bool

	// generation invalidates outstanding Row views: every step, reset,
	// and finalize bumps it, and a Row captured under an older generation
	// reports a stale-view error instead of reading the wrong row.
	generation uint64
}

func newStatement(c *Connection, stmt *sqlite.Stmt, sql string) *Statement {
	params := sqltoken.Params(sql)
	names := make(map[string]int, len(params))
	for _, p := range params {
		if p.Name != "" {
			names[p.Name] = p.Index
		}
	}
	cols := make([]string, stmt.ColumnCount())
	colIndex := make(map[string]int, len(cols))
	for i := range cols {
		cols[i] = stmt.ColumnName(i)
		colIndex[cols[i]] = i
	}
	return &Statement{
		conn:     c,
		stmt:     stmt,
		sql:      sql,
		params:   params,
		names:    names,
		bindings: make(map[int]Value, len(params)),
		columns:  cols,
		colIndex: colIndex,
	}
}

// SQL returns the statement's source text.
func (s *Statement) SQL() string { return s.sql }

// State returns the current execution state.
func (s *Statement) State() StatementState { return s.state }

// ParameterCount returns the number of bind parameters.
func (s *Statement) ParameterCount() int { return s.stmtParamCount() }

func (s *Statement) stmtParamCount() int {
	max := 0
	for _, p := range s.params {
		if p.Index > max {
			max = p.Index
		}
	}
	return max
}

// ColumnCount returns the number of result columns.
func (s *Statement) ColumnCount() int { return len(s.columns) }

// ColumnName returns the name of the 0-based result column.
func (s *Statement) ColumnName(i int) (string, error) {
	if i < 0 || i >= len(s.columns) {
		return "", fmt.Errorf("%w: column index %d out of range [0,%d)", ErrConversion, i, len(s.columns))
	}
	return s.columns[i], nil
}

// ColumnNames returns the result column names in order.
func (s *Statement) ColumnNames() []string {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

func (s *Statement) checkUsable() error {
	if s.finalized {
		return fmt.Errorf("%w: statement is finalized", ErrMisuse)
	}
	return s.conn.checkOpen()
}

// resolveParam maps a 1-based index or a parameter name to the engine
// index. Names may carry their sigil or not.
func (s *Statement) resolveParam(indexOrName any) (int, error) {
	switch p := indexOrName.(type) {
	case int:
		if p < 1 || p > s.stmtParamCount() {
			return 0, fmt.Errorf("%w: parameter index %d out of range [1,%d]", ErrBind, p, s.stmtParamCount())
		}
		return p, nil
	case string:
		if idx, ok := s.names[p]; ok {
			return idx, nil
		}
		for _, sigil := range []string{":", "@", "$"} {
			if idx, ok := s.names[sigil+p]; ok {
				return idx, nil
			}
		}
		return 0, fmt.Errorf("%w: no parameter named %q in %q", ErrBind, p, s.sql)
	default:
		return 0, fmt.Errorf("%w: parameter selector must be int or string, got %T", ErrBind, indexOrName)
	}
}

// Bind binds a value to the parameter named by a 1-based index or a name
// token. Permitted only while the statement is Ready; after a step, Reset
// first.
func (s *Statement) Bind(indexOrName any, value any) error {
	if err := s.checkUsable(); err != nil {
		return err
	}
	if s.state != StateReady {
		return fmt.Errorf("%w: bind while %s; reset first", ErrMisuse, s.state)
	}
	idx, err := s.resolveParam(indexOrName)
	if err != nil {
		return err
	}
	v, err := valueOf(value, s.conn.timeBinding)
	if err != nil {
		return fmt.Errorf("%w: parameter %v: %w", ErrBind, indexOrName, err)
	}
	s.bindEngine(idx, v)
	s.bindings[idx] = v
	return nil
}

func (s *Statement) bindEngine(idx int, v Value) {
	switch v.kind {
	case KindInteger:
		s.stmt.BindInt64(idx, v.n)
	case KindReal:
		s.stmt.BindFloat(idx, v.f)
	case KindText:
		s.stmt.BindText(idx, v.s)
	case KindBlob:
		s.stmt.BindBytes(idx, v.b)
	default:
		s.stmt.BindNull(idx)
	}
}

// BindAll binds an argument list: plain values positionally in order,
// NamedArg values by name.
func (s *Statement) BindAll(args ...any) error {
	pos := 0
	for _, arg := range args {
		if named, ok := arg.(NamedArg); ok {
			if err := s.Bind(named.Name, named.Value); err != nil {
				return err
			}
			continue
		}
		pos++
		if err := s.Bind(pos, arg); err != nil {
			return err
		}
	}
	return nil
}

// Bindings returns the currently bound value for the 1-based parameter
// index. Parameters never bound report NULL, matching the engine.
func (s *Statement) Bindings(index int) Value {
	if v, ok := s.bindings[index]; ok {
		return v
	}
	return Null()
}

// Step advances execution. It returns true when a result row is
// available and false when the statement completed. Stepping a Completed
// statement without Reset is a Misuse-kind error. An engine failure
// leaves the statement Completed-with-error, requiring Reset before
// reuse.
func (s *Statement) Step() (bool, error) {
	if err := s.checkUsable(); err != nil {
		return false, err
	}
	if s.state == StateCompleted {
		return false, fmt.Errorf("%w: step after completion without reset", ErrMisuse)
	}
	s.generation++
	row, err := s.stmt.Step()
	if err != nil {
		s.state = StateCompleted
		return false, classifyEngineError(err, ErrStep)
	}
	if row {
		s.state = StateExecuting
		return true, nil
	}
	s.state = StateCompleted
	s.conn.observeAutocommit()
	return false, nil
}

// Reset returns the statement to Ready. Bindings are preserved;
// outstanding Row views become stale.
func (s *Statement) Reset() error {
	if err := s.checkUsable(); err != nil {
		return err
	}
	s.generation++
	s.state = StateReady
	if err := s.stmt.Reset(); err != nil {
		return classifyEngineError(err, ErrStep)
	}
	return nil
}

// ClearBindings sets every parameter to NULL.
func (s *Statement) ClearBindings() error {
	if err := s.checkUsable(); err != nil {
		return err
	}
	if err := s.stmt.ClearBindings(); err != nil {
		return classifyEngineError(err, ErrBind)
	}
	for i := 1; i <= s.stmtParamCount(); i++ {
		s.bindings[i] = Null()
	}
	return nil
}

// Row returns a view over the current result row. Valid only while the
// statement stays Executing with no intervening step or reset.
func (s *Statement) Row() (*Row, error) {
	if err := s.checkUsable(); err != nil {
		return nil, err
	}
	if s.state != StateExecuting {
		return nil, fmt.Errorf("%w: no current row (state %s)", ErrMisuse, s.state)
	}
	return &Row{stmt: s, generation: s.generation}, nil
}

// Each steps through all remaining rows, handing each to fn. Iteration
// stops at the first error from stepping or from fn.
func (s *Statement) Each(fn func(*Row) error) error {
	for {
		ok, err := s.Step()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		row, err := s.Row()
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// Rows returns a pull-based row sequence: lazy, finite, and restartable
// after Reset. Breaking out of the range leaves the statement mid-
// execution; Reset it before reuse.
func (s *Statement) Rows() iter.Seq2[*Row, error] {
	return func(yield func(*Row, error) bool) {
		for {
			ok, err := s.Step()
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				return
			}
			row, err := s.Row()
			if !yield(row, err) {
				return
			}
		}
	}
}

// Finalize releases the compiled statement. Idempotent; the statement is
// unusable afterwards.
func (s *Statement) Finalize() error {
	if s.finalized {
		return nil
	}
	s.finalized = true
	s.state = StateCompleted
	s.generation++
	delete(s.conn.stmts, s)
	if err := s.stmt.Finalize(); err != nil {
		return classifyEngineError(err, ErrStep)
	}
	return nil
}
