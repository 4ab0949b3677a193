package pipeline

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rot13(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return 'a' + (r-'a'+13)%26
		case r >= 'A' && r <= 'Z':
			return 'A' + (r-'A'+13)%26
		default:
			return r
		}
	}, s)
}

func TestRegisterScalarFunction(t *testing.T) {
	c := testConn(t)

	err := c.RegisterScalarFunction("rot13", 1, true, func(_ *FunctionContext, args []Value) (Value, error) {
		s, ok, err := args[0].TextValue()
		if err != nil || !ok {
			return Null(), err
		}
		return Text(rot13(s)), nil
	})
	require.NoError(t, err)

	var got string
	require.NoError(t, c.queryRow("SELECT rot13('Hello')", func(r *Row) error {
		var err error
		got, err = RowText(r, 0)
		return err
	}))
	assert.Equal(t, "Uryyb", got)

	// Applying it twice round-trips.
	require.NoError(t, c.queryRow("SELECT rot13(rot13('Hello'))", func(r *Row) error {
		var err error
		got, err = RowText(r, 0)
		return err
	}))
	assert.Equal(t, "Hello", got)
}

func TestRegisterScalarFunction_NullPassesThrough(t *testing.T) {
	c := testConn(t)
	require.NoError(t, c.RegisterScalarFunction("idfn", 1, true, func(_ *FunctionContext, args []Value) (Value, error) {
		return args[0], nil
	}))

	var v Value
	require.NoError(t, c.queryRow("SELECT idfn(NULL)", func(r *Row) error {
		var err error
		v, err = r.Value(0)
		return err
	}))
	assert.True(t, v.IsNull())
}

func TestRegisterScalarFunction_ErrorPropagates(t *testing.T) {
	c := testConn(t)
	require.NoError(t, c.RegisterScalarFunction("failing", 0, false, func(*FunctionContext, []Value) (Value, error) {
		return Null(), errors.New("function exploded")
	}))

	err := c.Execute("SELECT failing()")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStep, "a callback error must fail the statement")
	assert.Contains(t, err.Error(), "function exploded")
}

func TestRegisterScalarFunction_ErrorDoesNotBecomeResult(t *testing.T) {
	c := testConn(t)
	require.NoError(t, c.RegisterScalarFunction("boom", 0, false, func(*FunctionContext, []Value) (Value, error) {
		return Null(), errors.New("kapow")
	}))

	stmt, err := c.Prepare("SELECT boom()")
	require.NoError(t, err)
	defer stmt.Finalize()

	ok, err := stmt.Step()
	assert.False(t, ok, "the error must not surface as a result row")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStep)
}

func TestRegisterScalarFunction_Validation(t *testing.T) {
	c := testConn(t)
	assert.ErrorIs(t, c.RegisterScalarFunction("", 0, false, func(*FunctionContext, []Value) (Value, error) {
		return Null(), nil
	}), ErrMisuse)
	assert.ErrorIs(t, c.RegisterScalarFunction("f", 0, false, nil), ErrMisuse)
}

// geomean accumulates a geometric mean over positive inputs.
type geomean struct {
	logSum float64
	n      int64
}

func (g *geomean) Step(args []Value) error {
	f, ok, err := args[0].Float64()
	if err != nil || !ok {
		return err
	}
	if f <= 0 {
		return fmt.Errorf("geomean needs positive inputs, got %v", f)
	}
	g.logSum += math.Log(f)
	g.n++
	return nil
}

func (g *geomean) Final() (Value, error) {
	if g.n == 0 {
		return Null(), nil
	}
	return Real(math.Exp(g.logSum / float64(g.n))), nil
}

func TestRegisterAggregateFunction(t *testing.T) {
	c := testConn(t)
	require.NoError(t, c.ExecuteScript(`
		CREATE TABLE nums (x REAL);
		INSERT INTO nums VALUES (2), (8);
	`))

	require.NoError(t, c.RegisterAggregateFunction("geomean", 1, false, func() AggregateFunction {
		return &geomean{}
	}))

	var got float64
	require.NoError(t, c.queryRow("SELECT geomean(x) FROM nums", func(r *Row) error {
		var err error
		got, err = RowFloat64(r, 0)
		return err
	}))
	assert.InDelta(t, 4.0, got, 1e-9)
}

func TestRegisterAggregateFunction_StepErrorPropagates(t *testing.T) {
	c := testConn(t)
	require.NoError(t, c.ExecuteScript(`
		CREATE TABLE nums (x REAL);
		INSERT INTO nums VALUES (2), (-8);
	`))
	require.NoError(t, c.RegisterAggregateFunction("geomean", 1, false, func() AggregateFunction {
		return &geomean{}
	}))

	err := c.Execute("SELECT geomean(x) FROM nums")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStep)
	assert.Contains(t, err.Error(), "positive inputs")
}

func TestRegisterAggregateFunction_EmptyInputIsNull(t *testing.T) {
	c := testConn(t)
	require.NoError(t, c.Execute("CREATE TABLE nums (x REAL)"))
	require.NoError(t, c.RegisterAggregateFunction("geomean", 1, false, func() AggregateFunction {
		return &geomean{}
	}))

	var v Value
	require.NoError(t, c.queryRow("SELECT geomean(x) FROM nums", func(r *Row) error {
		var err error
		v, err = r.Value(0)
		return err
	}))
	assert.True(t, v.IsNull())
}

// movingSum supports window frames by tracking a running total.
type movingSum struct{ total int64 }

func (m *movingSum) Step(args []Value) error {
	n, _, err := args[0].Int64()
	m.total += n
	return err
}

func (m *movingSum) Final() (Value, error)   { return Integer(m.total), nil }
func (m *movingSum) Current() (Value, error) { return Integer(m.total), nil }

func (m *movingSum) Inverse(args []Value) error {
	n, _, err := args[0].Int64()
	m.total -= n
	return err
}

func TestRegisterAggregateFunction_Window(t *testing.T) {
	c := testConn(t)
	require.NoError(t, c.ExecuteScript(`
		CREATE TABLE w (x INTEGER);
		INSERT INTO w VALUES (1), (2), (3), (4);
	`))
	require.NoError(t, c.RegisterAggregateFunction("msum", 1, false, func() AggregateFunction {
		return &movingSum{}
	}))

	stmt, err := c.Prepare(
		"SELECT msum(x) OVER (ORDER BY x ROWS BETWEEN 1 PRECEDING AND CURRENT ROW) FROM w ORDER BY x")
	require.NoError(t, err)
	defer stmt.Finalize()

	var got []int64
	require.NoError(t, stmt.Each(func(r *Row) error {
		n, err := RowInt64(r, 0)
		got = append(got, n)
		return err
	}))
	assert.Equal(t, []int64{1, 3, 5, 7}, got)
}

func TestFunctionContext_ExposesConnection(t *testing.T) {
	c := testConn(t)
	var seen *Connection
	require.NoError(t, c.RegisterScalarFunction("whoami", 0, false, func(fc *FunctionContext, _ []Value) (Value, error) {
		seen = fc.Connection()
		return Null(), nil
	}))
	require.NoError(t, c.Execute("SELECT whoami()"))
	assert.Same(t, c, seen)
}
