// Package sqltoken is a minimal scanner for SQLite SQL text. It discovers
// bind parameters with their engine-assigned indexes and splits scripts
// into individual statements, skipping string literals, quoted identifiers,
// and comments. It does not parse SQL.
package sqltoken

import (
	"strconv"
	"strings"
)

// Param is one bind parameter occurrence. Name is the literal token
// including its sigil (":a", "@a", "$a", "?3"); it is empty for a bare "?".
// Index is the 1-based index the engine assigns.
type Param struct {
	Index int
	Name  string
}

// Params scans sql and returns its bind parameters in first-occurrence
// order, following the engine's numbering rules: "?" takes one past the
// largest index assigned so far, "?N" takes index N, and a named parameter
// takes the next free index on first occurrence and reuses it afterwards.
func Params(sql string) []Param {
	var (
		params  []Param
		byName  = map[string]int{}
		maxUsed int
	)
	s := scanner{src: sql}
	for !s.eof() {
		if s.skipNonCode() {
			continue
		}
		c := s.peek()
		switch {
		case c == '?':
			s.next()
			digits := s.takeWhile(isDigit)
			if digits == "" {
				maxUsed++
				params = append(params, Param{Index: maxUsed})
				continue
			}
			n, err := strconv.Atoi(digits)
			if err != nil || n < 1 {
				continue
			}
			if n > maxUsed {
				maxUsed = n
			}
			params = append(params, Param{Index: n, Name: "?" + digits})
		case c == ':' || c == '@' || c == '$':
			s.next()
			name := s.takeWhile(isNameRune)
			if name == "" {
				continue
			}
			token := string(c) + name
			idx, seen := byName[token]
			if !seen {
				maxUsed++
				idx = maxUsed
				byName[token] = idx
				params = append(params, Param{Index: idx, Name: token})
			}
		default:
			s.next()
		}
	}
	return params
}

// Split breaks a script into individual statements on top-level semicolons.
// Empty and comment-only statements are dropped; the returned statements
// keep their original text (without the terminating semicolon).
func Split(sql string) []string {
	var (
		stmts []string
		start int
	)
	s := scanner{src: sql}
	flush := func(end int) {
		stmt := sql[start:end]
		if hasCode(stmt) {
			stmts = append(stmts, strings.TrimSpace(stmt))
		}
	}
	for !s.eof() {
		if s.skipNonCode() {
			continue
		}
		if s.peek() == ';' {
			flush(s.pos)
			s.next()
			start = s.pos
			continue
		}
		s.next()
	}
	flush(len(sql))
	return stmts
}

// hasCode reports whether the fragment contains anything beyond whitespace
// and comments.
func hasCode(sql string) bool {
	s := scanner{src: sql}
	for !s.eof() {
		if s.skipNonCode() {
			continue
		}
		if !isSpace(s.peek()) {
			return true
		}
		s.next()
	}
	return false
}

type scanner struct {
	src string
	pos int
}

func (s *scanner) eof() bool  { return s.pos >= len(s.src) }
func (s *scanner) peek() byte { return s.src[s.pos] }
func (s *scanner) next()      { s.pos++ }

func (s *scanner) takeWhile(pred func(byte) bool) string {
	start := s.pos
	for !s.eof() && pred(s.peek()) {
		s.next()
	}
	return s.src[start:s.pos]
}

// skipNonCode consumes one literal, quoted identifier, or comment if the
// scanner sits at its opening delimiter. Returns true if anything was
// consumed.
func (s *scanner) skipNonCode() bool {
	switch c := s.peek(); c {
	case '\'', '"', '`':
		s.skipQuoted(c)
		return true
	case '[':
		s.skipUntil(']')
		return true
	case '-':
		if s.pos+1 < len(s.src) && s.src[s.pos+1] == '-' {
			s.skipUntil('\n')
			return true
		}
	case '/':
		if s.pos+1 < len(s.src) && s.src[s.pos+1] == '*' {
			s.skipBlockComment()
			return true
		}
	}
	return false
}

// skipQuoted consumes a quoted region, honoring the doubled-quote escape.
func (s *scanner) skipQuoted(quote byte) {
	s.next()
	for !s.eof() {
		if s.peek() == quote {
			s.next()
			if s.eof() || s.peek() != quote {
				return
			}
		}
		s.next()
	}
}

func (s *scanner) skipUntil(end byte) {
	s.next()
	for !s.eof() {
		if s.peek() == end {
			s.next()
			return
		}
		s.next()
	}
}

func (s *scanner) skipBlockComment() {
	s.pos += 2
	for s.pos+1 < len(s.src) {
		if s.src[s.pos] == '*' && s.src[s.pos+1] == '/' {
			s.pos += 2
			return
		}
		s.next()
	}
	s.pos = len(s.src)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isNameRune(c byte) bool {
	return c == '_' || isDigit(c) ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}
