package pipeline

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ValueKind tags the variant stored in a Value. The set is closed: these
// five kinds are exactly the storage classes the engine distinguishes.
type ValueKind int

const (
	// KindNull is the NULL storage class.
	KindNull ValueKind = iota
	// KindInteger is a 64-bit signed integer.
	KindInteger
	// KindReal is a 64-bit float.
	KindReal
	// KindText is a UTF-8 string.
	KindText
	// KindBlob is an arbitrary byte sequence.
	KindBlob
)

// String returns the string representation of the ValueKind.
func (k ValueKind) String() string {
	switch k {
	case KindInteger:
		return "Integer"
	case KindReal:
		return "Real"
	case KindText:
		return "Text"
	case KindBlob:
		return "Blob"
	default:
		return "Null"
	}
}

// Value is one column value crossing the engine boundary. Immutable once
// constructed; structural equality only (see Equal).
type Value struct {
	kind ValueKind
	n    int64
	f    float64
	s    string
	b    []byte
}

// Integer constructs an integer Value.
func Integer(v int64) Value { return Value{kind: KindInteger, n: v} }

// Real constructs a real Value.
func Real(v float64) Value { return Value{kind: KindReal, f: v} }

// Text constructs a text Value.
func Text(v string) Value { return Value{kind: KindText, s: v} }

// Blob constructs a blob Value. The bytes are copied so the Value stays
// immutable even if the caller mutates the slice afterwards.
func Blob(v []byte) Value {
	b := make([]byte, len(v))
	copy(b, v)
	return Value{kind: KindBlob, b: b}
}

// Null constructs the NULL Value. The zero Value is also NULL.
func Null() Value { return Value{} }

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Equal reports structural equality. Blobs compare by content; integer and
// real values of different kinds are never equal even when numerically so.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.n == o.n
	case KindReal:
		return v.f == o.f
	case KindText:
		return v.s == o.s
	case KindBlob:
		return bytes.Equal(v.b, o.b)
	default:
		return true
	}
}

// String renders the value for logs and debug output.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.n, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return strconv.Quote(v.s)
	case KindBlob:
		return fmt.Sprintf("blob(%d bytes)", len(v.b))
	default:
		return "NULL"
	}
}

// Native returns the value as the closest native Go type: int64, float64,
// string, []byte (copied), or nil for NULL.
func (v Value) Native() any {
	switch v.kind {
	case KindInteger:
		return v.n
	case KindReal:
		return v.f
	case KindText:
		return v.s
	case KindBlob:
		b := make([]byte, len(v.b))
		copy(b, v.b)
		return b
	default:
		return nil
	}
}

// Typed accessors come in the (value, ok, error) shape: ok is false for
// NULL (the optional-style empty result), err reports ErrTypeMismatch or
// ErrOutOfRange. The strict non-optional helpers live on Row.

// Int64 returns the value as an int64. Real values convert only when they
// carry an exact integer; anything else is ErrOutOfRange.
func (v Value) Int64() (int64, bool, error) {
	switch v.kind {
	case KindNull:
		return 0, false, nil
	case KindInteger:
		return v.n, true, nil
	case KindReal:
		if v.f != math.Trunc(v.f) || v.f < math.MinInt64 || v.f >= math.MaxInt64 {
			return 0, false, fmt.Errorf("%w: real %v is not an exact int64", ErrOutOfRange, v.f)
		}
		return int64(v.f), true, nil
	default:
		return 0, false, fmt.Errorf("%w: %s value is not an integer", ErrTypeMismatch, v.kind)
	}
}

// Int returns the value as an int, failing with ErrOutOfRange when the
// stored integer does not fit.
func (v Value) Int() (int, bool, error) {
	n, ok, err := v.Int64()
	if err != nil || !ok {
		return 0, ok, err
	}
	if n < math.MinInt || n > math.MaxInt {
		return 0, false, fmt.Errorf("%w: %d does not fit in int", ErrOutOfRange, n)
	}
	return int(n), true, nil
}

// Int32 returns the value as an int32, failing with ErrOutOfRange when the
// stored integer does not fit.
func (v Value) Int32() (int32, bool, error) {
	n, ok, err := v.Int64()
	if err != nil || !ok {
		return 0, ok, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, false, fmt.Errorf("%w: %d does not fit in int32", ErrOutOfRange, n)
	}
	return int32(n), true, nil
}

// Bool returns the value as a bool. Only integer values convert: zero is
// false, anything else is true.
func (v Value) Bool() (bool, bool, error) {
	switch v.kind {
	case KindNull:
		return false, false, nil
	case KindInteger:
		return v.n != 0, true, nil
	default:
		return false, false, fmt.Errorf("%w: %s value is not a bool", ErrTypeMismatch, v.kind)
	}
}

// Float64 returns the value as a float64. Integers widen.
func (v Value) Float64() (float64, bool, error) {
	switch v.kind {
	case KindNull:
		return 0, false, nil
	case KindInteger:
		return float64(v.n), true, nil
	case KindReal:
		return v.f, true, nil
	default:
		return 0, false, fmt.Errorf("%w: %s value is not a real", ErrTypeMismatch, v.kind)
	}
}

// TextValue returns the value as a string. Only text converts; blobs do
// not implicitly decode.
func (v Value) TextValue() (string, bool, error) {
	switch v.kind {
	case KindNull:
		return "", false, nil
	case KindText:
		return v.s, true, nil
	default:
		return "", false, fmt.Errorf("%w: %s value is not text", ErrTypeMismatch, v.kind)
	}
}

// BlobValue returns the value as a byte slice (copied).
func (v Value) BlobValue() ([]byte, bool, error) {
	switch v.kind {
	case KindNull:
		return nil, false, nil
	case KindBlob:
		b := make([]byte, len(v.b))
		copy(b, v.b)
		return b, true, nil
	default:
		return nil, false, fmt.Errorf("%w: %s value is not a blob", ErrTypeMismatch, v.kind)
	}
}

// Time returns the value as a time.Time, accepting either representation
// produced by the time binding strategies: RFC 3339 text or integer Unix
// seconds.
func (v Value) Time() (time.Time, bool, error) {
	switch v.kind {
	case KindNull:
		return time.Time{}, false, nil
	case KindText:
		t, err := time.Parse(time.RFC3339Nano, v.s)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %q is not an RFC 3339 timestamp", ErrTypeMismatch, v.s)
		}
		return t, true, nil
	case KindInteger:
		return time.Unix(v.n, 0).UTC(), true, nil
	default:
		return time.Time{}, false, fmt.Errorf("%w: %s value is not a timestamp", ErrTypeMismatch, v.kind)
	}
}

// Valuer is implemented by caller types that know their own database
// representation. ValueOf honors it before any built-in mapping.
type Valuer interface {
	DatabaseValue() (Value, error)
}

// ValueScanner is implemented by caller types that can receive a Value,
// used by Row.Scan.
type ValueScanner interface {
	ScanValue(Value) error
}

// TimeBinding selects how time.Time values cross the boundary.
type TimeBinding int

const (
	// TimeAsText stores timestamps as RFC 3339 text with nanoseconds, in
	// UTC. The default: sorts lexicographically and survives inspection.
	TimeAsText TimeBinding = iota
	// TimeAsEpoch stores timestamps as integer Unix seconds.
	TimeAsEpoch
)

// ValueOf maps a native Go value to a Value using the default TimeAsText
// strategy. Connections apply their configured strategy instead; see
// WithTimeBinding.
func ValueOf(v any) (Value, error) {
	return valueOf(v, TimeAsText)
}

func valueOf(v any, tb TimeBinding) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case Valuer:
		return x.DatabaseValue()
	case bool:
		if x {
			return Integer(1), nil
		}
		return Integer(0), nil
	case int:
		return Integer(int64(x)), nil
	case int8:
		return Integer(int64(x)), nil
	case int16:
		return Integer(int64(x)), nil
	case int32:
		return Integer(int64(x)), nil
	case int64:
		return Integer(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return Null(), fmt.Errorf("%w: uint %d overflows int64", ErrOutOfRange, x)
		}
		return Integer(int64(x)), nil
	case uint8:
		return Integer(int64(x)), nil
	case uint16:
		return Integer(int64(x)), nil
	case uint32:
		return Integer(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return Null(), fmt.Errorf("%w: uint64 %d overflows int64", ErrOutOfRange, x)
		}
		return Integer(int64(x)), nil
	case float32:
		return Real(float64(x)), nil
	case float64:
		return Real(x), nil
	case string:
		return Text(x), nil
	case []byte:
		return Blob(x), nil
	case time.Time:
		if tb == TimeAsEpoch {
			return Integer(x.Unix()), nil
		}
		return Text(x.UTC().Format(time.RFC3339Nano)), nil
	default:
		return Null(), fmt.Errorf("%w: unsupported Go type %T", ErrBind, v)
	}
}
