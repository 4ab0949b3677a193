package pipeline

import (
	"fmt"

	"zombiezen.com/go/sqlite"
)

// FunctionContext is passed to scalar functions. It exposes the connection
// the invocation is running on; callbacks execute synchronously on
// whatever goroutine is currently driving that connection, so they inherit
// the owning queue's serialization.
type FunctionContext struct {
	conn *Connection
}

// Connection returns the connection the function was invoked on.
func (fc *FunctionContext) Connection() *Connection { return fc.conn }

// ScalarFunc is the capability a custom scalar SQL function implements.
type ScalarFunc func(ctx *FunctionContext, args []Value) (Value, error)

// AggregateFunction is the capability set a custom aggregate implements.
// One instance is created per aggregate invocation in a query.
type AggregateFunction interface {
	// Step is called once per input row.
	Step(args []Value) error
	// Final produces the aggregate result after the last Step.
	Final() (Value, error)
}

// WindowFunction extends AggregateFunction for window-frame use. Detected
// by interface upgrade at registration time.
type WindowFunction interface {
	AggregateFunction
	// Inverse removes a row previously added by Step from the current
	// window.
	Inverse(args []Value) error
	// Current produces the value for the present window frame.
	Current() (Value, error)
}

// RegisterScalarFunction registers a custom scalar SQL function on this
// connection. nArgs of -1 accepts any argument count. A deterministic
// function must return the same output for the same inputs within one
// statement; the engine uses that for optimization.
func (c *Connection) RegisterScalarFunction(name string, nArgs int, deterministic bool, fn ScalarFunc) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if name == "" || fn == nil {
		return fmt.Errorf("%w: scalar function needs a name and an implementation", ErrMisuse)
	}
	fctx := &FunctionContext{conn: c}
	impl := &sqlite.FunctionImpl{
		NArgs:         nArgs,
		Deterministic: deterministic,
		AllowIndirect: true,
		Scalar: func(ctx sqlite.Context, args []sqlite.Value) (sqlite.Value, error) {
			out, err := fn(fctx, valuesFromEngine(args))
			if err != nil {
				return sqlite.Value{}, callbackError(err)
			}
			return engineValue(out), nil
		},
	}
	if err := c.conn.CreateFunction(name, impl); err != nil {
		return classifyEngineError(err, ErrMisuse)
	}
	c.functions[name] = struct{}{}
	c.logger.Debug("scalar function registered", "name", name, "nargs", nArgs)
	return nil
}

// RegisterAggregateFunction registers a custom aggregate SQL function.
// makeAgg is called once per aggregate invocation to produce a fresh
// accumulator. If the returned accumulator also implements WindowFunction,
// the function is usable in window frames.
func (c *Connection) RegisterAggregateFunction(name string, nArgs int, deterministic bool, makeAgg func() AggregateFunction) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if name == "" || makeAgg == nil {
		return fmt.Errorf("%w: aggregate function needs a name and a constructor", ErrMisuse)
	}
	impl := &sqlite.FunctionImpl{
		NArgs:         nArgs,
		Deterministic: deterministic,
		AllowIndirect: true,
		MakeAggregate: func(ctx sqlite.Context) (sqlite.AggregateFunction, error) {
			agg := makeAgg()
			if agg == nil {
				return nil, callbackError(fmt.Errorf("%w: aggregate constructor for %q returned nil", ErrMisuse, name))
			}
			return &aggregateBridge{name: name, agg: agg}, nil
		},
	}
	if err := c.conn.CreateFunction(name, impl); err != nil {
		return classifyEngineError(err, ErrMisuse)
	}
	c.functions[name] = struct{}{}
	c.logger.Debug("aggregate function registered", "name", name, "nargs", nArgs)
	return nil
}

// aggregateBridge adapts the package's AggregateFunction capability to the
// engine's callback set. The engine asks WindowValue for the result (both
// the final aggregate value and per-frame window values); Finalize is
// cleanup only.
type aggregateBridge struct {
	name string
	agg  AggregateFunction
}

func (b *aggregateBridge) Step(ctx sqlite.Context, rowArgs []sqlite.Value) error {
	if err := b.agg.Step(valuesFromEngine(rowArgs)); err != nil {
		return callbackError(err)
	}
	return nil
}

func (b *aggregateBridge) WindowValue(ctx sqlite.Context) (sqlite.Value, error) {
	var (
		out Value
		err error
	)
	if w, ok := b.agg.(WindowFunction); ok {
		out, err = w.Current()
	} else {
		out, err = b.agg.Final()
	}
	if err != nil {
		return sqlite.Value{}, callbackError(err)
	}
	return engineValue(out), nil
}

func (b *aggregateBridge) WindowInverse(ctx sqlite.Context, rowArgs []sqlite.Value) error {
	w, ok := b.agg.(WindowFunction)
	if !ok {
		return callbackError(fmt.Errorf("%w: aggregate %q does not support window frames", ErrMisuse, b.name))
	}
	if err := w.Inverse(valuesFromEngine(rowArgs)); err != nil {
		return callbackError(err)
	}
	return nil
}

func (b *aggregateBridge) Finalize(ctx sqlite.Context) {}

// callbackError tags a callback's error with the engine's generic error
// code. Without the code the engine glue surfaces the message as the
// function's TEXT result instead of failing the invoking statement.
func callbackError(err error) error {
	return fmt.Errorf("%w: %w", sqlite.ResultError.ToError(), err)
}

// valuesFromEngine converts the engine's argument values.
func valuesFromEngine(args []sqlite.Value) []Value {
	out := make([]Value, len(args))
	for i, a := range args {
		out[i] = valueFromEngineValue(a)
	}
	return out
}

func valueFromEngineValue(ev sqlite.Value) Value {
	switch ev.Type() {
	case sqlite.TypeInteger:
		return Integer(ev.Int64())
	case sqlite.TypeFloat:
		return Real(ev.Float())
	case sqlite.TypeText:
		return Text(ev.Text())
	case sqlite.TypeBlob:
		return Blob(ev.Blob())
	default:
		return Null()
	}
}

func engineValue(v Value) sqlite.Value {
	switch v.kind {
	case KindInteger:
		return sqlite.IntegerValue(v.n)
	case KindReal:
		return sqlite.FloatValue(v.f)
	case KindText:
		return sqlite.TextValue(v.s)
	case KindBlob:
		return sqlite.BlobValue(v.b)
	default:
		return sqlite.Value{}
	}
}
