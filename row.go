package pipeline

import (
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
)

// Row is a transient view over a Statement's current result row. It stays
// valid only until the next Step, Reset, or Finalize on the statement;
// after that every accessor reports a Misuse-kind stale-view error. Rows
// never outlive the queue closure that produced them.
type Row struct {
	stmt       *Statement
	generation uint64
}

func (r *Row) check() error {
	if r.stmt.finalized {
		return fmt.Errorf("%w: row view on a finalized statement", ErrMisuse)
	}
	if r.stmt.state != StateExecuting || r.stmt.generation != r.generation {
		return fmt.Errorf("%w: stale row view; the statement has stepped or reset", ErrMisuse)
	}
	return nil
}

// resolve maps a 0-based column index or a column name to the engine
// index.
func (r *Row) resolve(col any) (int, error) {
	switch c := col.(type) {
	case int:
		if c < 0 || c >= len(r.stmt.columns) {
			return 0, fmt.Errorf("%w: column index %d out of range [0,%d)", ErrConversion, c, len(r.stmt.columns))
		}
		return c, nil
	case string:
		if i, ok := r.stmt.colIndex[c]; ok {
			return i, nil
		}
		return 0, fmt.Errorf("%w: no column named %q", ErrConversion, c)
	default:
		return 0, fmt.Errorf("%w: column selector must be int or string, got %T", ErrConversion, col)
	}
}

// ColumnCount returns the number of columns in the row.
func (r *Row) ColumnCount() int { return len(r.stmt.columns) }

// ColumnName returns the name of the 0-based column.
func (r *Row) ColumnName(i int) (string, error) { return r.stmt.ColumnName(i) }

// Value reads the column as a Value, preserving the engine's storage
// class: TEXT and BLOB stay distinct, integers stay integers.
func (r *Row) Value(col any) (Value, error) {
	if err := r.check(); err != nil {
		return Null(), err
	}
	i, err := r.resolve(col)
	if err != nil {
		return Null(), err
	}
	return r.readColumn(i), nil
}

func (r *Row) readColumn(i int) Value {
	stmt := r.stmt.stmt
	switch stmt.ColumnType(i) {
	case sqlite.TypeInteger:
		return Integer(stmt.ColumnInt64(i))
	case sqlite.TypeFloat:
		return Real(stmt.ColumnFloat(i))
	case sqlite.TypeText:
		return Text(stmt.ColumnText(i))
	case sqlite.TypeBlob:
		buf := make([]byte, stmt.ColumnLen(i))
		stmt.ColumnBytes(i, buf)
		return Value{kind: KindBlob, b: buf}
	default:
		return Null()
	}
}

// Typed getters mirror the Value accessors: ok is false for NULL, err
// reports conversion failures.

// Int64 reads the column as an int64.
func (r *Row) Int64(col any) (int64, bool, error) {
	v, err := r.Value(col)
	if err != nil {
		return 0, false, err
	}
	return v.Int64()
}

// Int reads the column as an int.
func (r *Row) Int(col any) (int, bool, error) {
	v, err := r.Value(col)
	if err != nil {
		return 0, false, err
	}
	return v.Int()
}

// Bool reads the column as a bool.
func (r *Row) Bool(col any) (bool, bool, error) {
	v, err := r.Value(col)
	if err != nil {
		return false, false, err
	}
	return v.Bool()
}

// Float64 reads the column as a float64.
func (r *Row) Float64(col any) (float64, bool, error) {
	v, err := r.Value(col)
	if err != nil {
		return 0, false, err
	}
	return v.Float64()
}

// Text reads the column as a string.
func (r *Row) Text(col any) (string, bool, error) {
	v, err := r.Value(col)
	if err != nil {
		return "", false, err
	}
	return v.TextValue()
}

// Blob reads the column as a byte slice.
func (r *Row) Blob(col any) ([]byte, bool, error) {
	v, err := r.Value(col)
	if err != nil {
		return nil, false, err
	}
	return v.BlobValue()
}

// Strict non-optional accessors: NULL is an UnexpectedNull-kind error.

// RowInt64 reads the column as a non-optional int64.
func RowInt64(r *Row, col any) (int64, error) {
	n, ok, err := r.Int64(col)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: column %v", ErrUnexpectedNull, col)
	}
	return n, nil
}

// RowFloat64 reads the column as a non-optional float64.
func RowFloat64(r *Row, col any) (float64, error) {
	f, ok, err := r.Float64(col)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: column %v", ErrUnexpectedNull, col)
	}
	return f, nil
}

// RowText reads the column as a non-optional string.
func RowText(r *Row, col any) (string, error) {
	s, ok, err := r.Text(col)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: column %v", ErrUnexpectedNull, col)
	}
	return s, nil
}

// RowBlob reads the column as a non-optional byte slice.
func RowBlob(r *Row, col any) ([]byte, error) {
	b, ok, err := r.Blob(col)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: column %v", ErrUnexpectedNull, col)
	}
	return b, nil
}

// Scan copies the row's columns positionally into dest pointers. Plain
// pointers (*int64, *string, ...) treat NULL as an UnexpectedNull-kind
// error; double pointers (**int64, **string, ...) are set to nil for NULL;
// ValueScanner destinations receive the raw Value.
func (r *Row) Scan(dest ...any) error {
	if err := r.check(); err != nil {
		return err
	}
	if len(dest) > len(r.stmt.columns) {
		return fmt.Errorf("%w: %d destinations for %d columns", ErrConversion, len(dest), len(r.stmt.columns))
	}
	for i, d := range dest {
		if err := scanInto(r.readColumn(i), d); err != nil {
			return fmt.Errorf("column %d: %w", i, err)
		}
	}
	return nil
}

func scanInto(v Value, dest any) error {
	switch d := dest.(type) {
	case ValueScanner:
		return d.ScanValue(v)
	case *Value:
		*d = v
		return nil
	case *any:
		*d = v.Native()
		return nil
	case *int64:
		return scanStrict(v.Int64, d)
	case *int:
		return scanStrict(v.Int, d)
	case *int32:
		return scanStrict(v.Int32, d)
	case *bool:
		return scanStrict(v.Bool, d)
	case *float64:
		return scanStrict(v.Float64, d)
	case *string:
		return scanStrict(v.TextValue, d)
	case *[]byte:
		return scanStrict(v.BlobValue, d)
	case *time.Time:
		return scanStrict(v.Time, d)
	case **int64:
		return scanNullable(v.Int64, d)
	case **int:
		return scanNullable(v.Int, d)
	case **bool:
		return scanNullable(v.Bool, d)
	case **float64:
		return scanNullable(v.Float64, d)
	case **string:
		return scanNullable(v.TextValue, d)
	case **time.Time:
		return scanNullable(v.Time, d)
	default:
		return fmt.Errorf("%w: unsupported scan destination %T", ErrConversion, dest)
	}
}

func scanStrict[T any](get func() (T, bool, error), dest *T) error {
	x, ok, err := get()
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnexpectedNull
	}
	*dest = x
	return nil
}

func scanNullable[T any](get func() (T, bool, error), dest **T) error {
	x, ok, err := get()
	if err != nil {
		return err
	}
	if !ok {
		*dest = nil
		return nil
	}
	*dest = &x
	return nil
}
