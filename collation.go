package pipeline

import (
	"fmt"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"zombiezen.com/go/sqlite"
)

// CollationFunc compares two strings for a custom collation: negative when
// a sorts before b, zero when equal, positive otherwise. The function must
// define a total order and always give the same answer for the same pair.
type CollationFunc func(a, b string) int

// RegisterCollation registers a custom collation on this connection,
// usable in SQL as COLLATE name. Like all extension callbacks it runs on
// whatever goroutine drives the connection.
func (c *Connection) RegisterCollation(name string, cmp CollationFunc) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if name == "" || cmp == nil {
		return fmt.Errorf("%w: collation needs a name and a compare function", ErrMisuse)
	}
	if err := c.conn.SetCollation(name, sqlite.CollatingFunc(cmp)); err != nil {
		return classifyEngineError(err, ErrMisuse)
	}
	c.collations[name] = struct{}{}
	c.logger.Debug("collation registered", "name", name)
	return nil
}

// RegisterLocalizedCollation registers a collation backed by the Unicode
// collation tables for the given language tag, e.g. case-insensitive
// German ordering:
//
//	conn.RegisterLocalizedCollation("de_ci", language.German, collate.IgnoreCase)
func (c *Connection) RegisterLocalizedCollation(name string, tag language.Tag, opts ...collate.Option) error {
	coll := collate.New(tag, opts...)
	return c.RegisterCollation(name, coll.CompareString)
}
