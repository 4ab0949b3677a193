package pipeline

import (
	"fmt"
)

// Virtual-table and FTS-tokenizer extension points are expressed as
// capability interfaces: the set of named operations a pluggable type must
// implement to be registered. Registration is capability-gated — the
// pure-Go engine build consumed here does not expose the module
// registration surface, so RegisterModule and RegisterTokenizer validate
// their arguments and then report the missing capability. The interfaces
// are the stable contract; the gate lifts when the engine grows the
// surface.

// IndexConstraint is one usable constraint the planner offers BestIndex.
type IndexConstraint struct {
	// Column is the 0-based constrained column (-1 for rowid).
	Column int
	// Op is the constraint operator: "=", "<", "<=", ">", ">=", "MATCH",
	// "LIKE", "GLOB".
	Op string
	// Usable reports whether the constraint's right-hand side will be
	// available to Filter.
	Usable bool
}

// IndexOrder is one term of the ORDER BY the planner would like satisfied.
type IndexOrder struct {
	Column int
	Desc   bool
}

// IndexInfo carries the planner's question into BestIndex and the module's
// answer back out.
type IndexInfo struct {
	Constraints []IndexConstraint
	OrderBy     []IndexOrder

	// Outputs, filled in by BestIndex.

	// Used marks, per constraint, whether its value should be passed to
	// Filter (in argument order).
	Used []bool
	// IndexNum and IndexStr are opaque plan identifiers handed to Filter.
	IndexNum int
	IndexStr string
	// OrderByConsumed reports that the cursor will emit rows already in
	// the requested order.
	OrderByConsumed bool
	// EstimatedCost is the plan's relative cost.
	EstimatedCost float64
}

// VirtualTableModule is the capability set a virtual-table implementation
// registers under a module name.
type VirtualTableModule interface {
	// Create provisions the backing resources for CREATE VIRTUAL TABLE
	// and returns the table instance. args carries the module arguments
	// from the DDL.
	Create(args []string) (VirtualTable, error)
	// Connect attaches to existing backing resources for an already
	// created table.
	Connect(args []string) (VirtualTable, error)
}

// VirtualTable is one attached virtual table.
type VirtualTable interface {
	// BestIndex answers the planner: choose a plan for the given
	// constraints and record it in the IndexInfo outputs.
	BestIndex(*IndexInfo) error
	// Open returns a new cursor over the table.
	Open() (VirtualCursor, error)
	// Disconnect releases the in-memory attachment.
	Disconnect() error
	// Destroy drops the backing resources (DROP TABLE).
	Destroy() error
}

// VirtualCursor scans a virtual table for one query.
type VirtualCursor interface {
	// Filter restarts the scan using the plan chosen by BestIndex; args
	// carries the constraint values BestIndex marked Used.
	Filter(indexNum int, indexStr string, args []Value) error
	// Next advances to the next row.
	Next() error
	// EOF reports whether the scan is exhausted.
	EOF() bool
	// Column produces the value of the 0-based column for the current
	// row.
	Column(i int) (Value, error)
	// RowID returns the current row's rowid.
	RowID() (int64, error)
	// Close releases the cursor.
	Close() error
}

// Token is one token produced by a full-text tokenizer.
type Token struct {
	// Text is the normalized token.
	Text string
	// Start and End are byte offsets into the original text.
	Start, End int
}

// Tokenizer is the capability set a custom FTS tokenizer implements.
type Tokenizer interface {
	Tokenize(text string) ([]Token, error)
}

// RegisterModule registers a virtual-table module under name.
func (c *Connection) RegisterModule(name string, module VirtualTableModule) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if name == "" || module == nil {
		return fmt.Errorf("%w: virtual-table module needs a name and an implementation", ErrMisuse)
	}
	return fmt.Errorf("%w: this engine build does not expose virtual-table registration", ErrMisuse)
}

// RegisterTokenizer registers a custom FTS tokenizer under name.
func (c *Connection) RegisterTokenizer(name string, tokenizer Tokenizer) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if name == "" || tokenizer == nil {
		return fmt.Errorf("%w: tokenizer needs a name and an implementation", ErrMisuse)
	}
	return fmt.Errorf("%w: this engine build does not expose tokenizer registration", ErrMisuse)
}
