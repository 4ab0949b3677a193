package pipeline

import (
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
)

// Sentinel errors for the package error taxonomy. Every error returned by
// this package wraps exactly one of these (plus whatever engine error caused
// it), so callers classify with errors.Is or KindOf.
var (
	// ErrEngineOpen indicates the engine could not open a database.
	ErrEngineOpen = errors.New("cannot open database")

	// ErrSyntax indicates SQL text the engine could not compile, or
	// trailing content after the first statement in a single-statement
	// context.
	ErrSyntax = errors.New("syntax error")

	// ErrBind indicates an invalid parameter index or name, or a Go value
	// with no database representation.
	ErrBind = errors.New("bind failed")

	// ErrStep indicates an engine failure while evaluating a statement.
	// The statement is left completed-with-error and needs Reset before
	// reuse.
	ErrStep = errors.New("step failed")

	// ErrExecute indicates a failure inside a multi-statement script.
	ErrExecute = errors.New("execute failed")

	// ErrConversion is the umbrella for value conversion failures.
	// ErrTypeMismatch, ErrOutOfRange, and ErrUnexpectedNull all match it.
	ErrConversion = errors.New("conversion failed")

	// ErrTypeMismatch indicates a stored value kind that cannot be coerced
	// to the requested type.
	ErrTypeMismatch = fmt.Errorf("%w: type mismatch", ErrConversion)

	// ErrOutOfRange indicates a numeric narrowing that would lose
	// information. Narrowing never truncates silently.
	ErrOutOfRange = fmt.Errorf("%w: out of range", ErrConversion)

	// ErrUnexpectedNull indicates a NULL where a non-optional value was
	// requested.
	ErrUnexpectedNull = fmt.Errorf("%w: unexpected NULL", ErrConversion)

	// ErrMisuse indicates the API was used out of sequence: stepping a
	// completed statement without reset, binding mid-execution, touching a
	// stale row view, or using a finalized statement.
	ErrMisuse = errors.New("misuse")

	// ErrBusy indicates transient lock contention. Retryable; see
	// BusyPolicy.
	ErrBusy = errors.New("database busy")

	// ErrSavepointConflict indicates a savepoint name reused within the
	// active nesting, or a release that does not target the innermost
	// open savepoint.
	ErrSavepointConflict = errors.New("savepoint conflict")

	// ErrRollbackFailed indicates the engine could not undo a transaction.
	// Fatal: the connection should be considered suspect, closed, and
	// reopened.
	ErrRollbackFailed = errors.New("rollback failed")

	// ErrCancelled indicates a queued work item dropped during queue
	// teardown before it started executing.
	ErrCancelled = errors.New("cancelled")

	// ErrClosed indicates a close that cannot proceed (live statements) or
	// use of an already-closed connection.
	ErrClosed = errors.New("connection closed")
)

// Kind categorizes an error for switch-style handling.
type Kind int

const (
	// KindUnknown represents an unclassified error.
	KindUnknown Kind = iota
	// KindEngineOpen represents database open failures.
	KindEngineOpen
	// KindSyntax represents SQL compilation failures.
	KindSyntax
	// KindBind represents parameter binding failures.
	KindBind
	// KindStep represents statement evaluation failures.
	KindStep
	// KindExecute represents script execution failures.
	KindExecute
	// KindConversion represents value conversion failures.
	KindConversion
	// KindMisuse represents out-of-sequence API use.
	KindMisuse
	// KindBusy represents retryable lock contention.
	KindBusy
	// KindSavepointConflict represents savepoint naming/ordering violations.
	KindSavepointConflict
	// KindRollbackFailed represents an unrecoverable rollback failure.
	KindRollbackFailed
	// KindCancelled represents work dropped at queue teardown.
	KindCancelled
	// KindClosed represents use of a closed connection.
	KindClosed
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindEngineOpen:
		return "EngineOpen"
	case KindSyntax:
		return "Syntax"
	case KindBind:
		return "Bind"
	case KindStep:
		return "Step"
	case KindExecute:
		return "Execute"
	case KindConversion:
		return "Conversion"
	case KindMisuse:
		return "Misuse"
	case KindBusy:
		return "Busy"
	case KindSavepointConflict:
		return "SavepointConflict"
	case KindRollbackFailed:
		return "RollbackFailed"
	case KindCancelled:
		return "Cancelled"
	case KindClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// kindPriorities defines the deterministic order for error classification.
// Higher priority (lower index) kinds are checked first in KindOf.
// RollbackFailed outranks everything because it wraps both the rollback
// error and the error that triggered the rollback.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindRollbackFailed, ErrRollbackFailed},
	{KindCancelled, ErrCancelled},
	{KindSavepointConflict, ErrSavepointConflict},
	{KindBusy, ErrBusy},
	{KindClosed, ErrClosed},
	{KindMisuse, ErrMisuse},
	{KindConversion, ErrConversion},
	{KindBind, ErrBind},
	{KindStep, ErrStep},
	{KindSyntax, ErrSyntax},
	{KindEngineOpen, ErrEngineOpen},
	{KindExecute, ErrExecute},
}

// KindOf returns the Kind of the given error by checking the sentinel chain
// in a deterministic priority order. Returns KindUnknown for nil and for
// errors that wrap no pipeline sentinel.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, p := range kindPriorities {
		if errors.Is(err, p.err) {
			return p.kind
		}
	}
	return KindUnknown
}

// HasKind reports whether the given error classifies as the specified kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the error is transient contention worth
// retrying. RollbackFailed is never retryable even when the rollback itself
// failed with a busy condition.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy) && !errors.Is(err, ErrRollbackFailed)
}

// classifyEngineError maps an engine error onto the package taxonomy.
// Busy/locked contention becomes ErrBusy regardless of the operation;
// everything else keeps the engine message wrapped under the operation's
// fallback sentinel.
func classifyEngineError(err, fallback error) error {
	if err == nil {
		return nil
	}
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultBusy, sqlite.ResultLocked:
		return fmt.Errorf("%w: %w", ErrBusy, err)
	case sqlite.ResultCantOpen:
		return fmt.Errorf("%w: %w", ErrEngineOpen, err)
	case sqlite.ResultInterrupt:
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	default:
		return fmt.Errorf("%w: %w", fallback, err)
	}
}
