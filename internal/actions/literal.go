package actions

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// literalKind is the type a literal expression would have if it were evaluated.
type literalKind int

const (
	literalInvalid literalKind = iota
	literalString
	literalInt
)

// literal is a parsed string or integer literal. Nothing is ever evaluated.
type literal struct {
	kind literalKind
	str  string
	num  int
	// raw is the integer text with its sign, kept for values beyond int range.
	raw string
}

// intPattern is the integer literal grammar: decimal without leading zeros
// (a run of zeros is allowed), hex, octal, and binary, each with single
// underscores between digits.
var intPattern = regexp.MustCompile(`^(?:[1-9](?:_?[0-9])*|0+(?:_?0)*|0[xX](?:_?[0-9a-fA-F])+|0[oO](?:_?[0-7])+|0[bB](?:_?[01])+)$`)

// parseLiteral classifies src as a single string or integer literal.
//
// Expectations:
//   - "'42'" and "\"42\"" are string literals with value "42"
//   - "42" and "-3" are integer literals
//   - Integers of any size are integer literals
//   - Leading-zero decimals such as "042" are invalid
//   - Backtick strings are invalid
//   - A string must span the whole source: trailing comments or tokens are invalid
//   - Identifiers, calls, tuples, and arithmetic are invalid
//   - Empty or whitespace-only input is invalid
func parseLiteral(src string) literal {
	s := strings.TrimSpace(src)
	if s == "" {
		return literal{}
	}
	if s[0] == '\'' || s[0] == '"' {
		return parseString(s)
	}
	return parseInt(s)
}

// parseString accepts one quoted string covering all of s. The quotes are
// checked here; expr decodes the escapes.
func parseString(s string) literal {
	if stringEnd(s) != len(s)-1 {
		return literal{}
	}
	tree, err := parser.Parse(s)
	if err != nil {
		return literal{}
	}
	str, ok := tree.Node.(*ast.StringNode)
	if !ok {
		return literal{}
	}
	return literal{kind: literalString, str: str.Value}
}

// stringEnd returns the index of the quote closing the string that opens at
// s[0], or -1 when the string is unterminated on its line.
func stringEnd(s string) int {
	q := s[0]
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case q:
			return i
		case '\n':
			return -1
		}
	}
	return -1
}

// parseInt accepts an integer literal preceded by any number of unary signs.
func parseInt(s string) literal {
	neg := false
	for s != "" && (s[0] == '-' || s[0] == '+') {
		if s[0] == '-' {
			neg = !neg
		}
		s = strings.TrimSpace(s[1:])
	}
	if !intPattern.MatchString(s) {
		return literal{}
	}
	raw := strings.ReplaceAll(s, "_", "")
	if neg {
		raw = "-" + raw
	}
	lit := literal{kind: literalInt, raw: raw}
	base := 10
	digits := raw
	if len(s) > 1 && s[0] == '0' && strings.ContainsAny(s[1:2], "xXoObB") {
		base = 0
	} else {
		digits = strings.TrimLeft(strings.TrimPrefix(raw, "-"), "0")
		if digits == "" {
			digits = "0"
		}
		if neg {
			digits = "-" + digits
		}
	}
	if n, err := strconv.ParseInt(digits, base, 64); err == nil && n == int64(int(n)) {
		lit.num = int(n)
		lit.raw = strconv.FormatInt(n, 10)
	}
	return lit
}

// parseArgs parses a comma-separated argument list of literals.
// ok is false when any argument is not a string or integer literal.
func parseArgs(src string) (args []literal, ok bool) {
	if strings.TrimSpace(src) == "" {
		return nil, true
	}
	parts, ok := splitArgs(src)
	if !ok {
		return nil, false
	}
	for _, p := range parts {
		lit := parseLiteral(p)
		if lit.kind == literalInvalid {
			return nil, false
		}
		args = append(args, lit)
	}
	return args, true
}

// splitArgs splits src on commas outside quoted strings. ok is false when a
// string is left open.
func splitArgs(src string) (parts []string, ok bool) {
	start := 0
	for i := 0; i < len(src); i++ {
		switch src[i] {
		case '\'', '"':
			end := stringEnd(src[i:])
			if end < 0 {
				return nil, false
			}
			i += end
		case ',':
			parts = append(parts, src[start:i])
			start = i + 1
		}
	}
	return append(parts, src[start:]), true
}

// text renders the literal's value as it appears in an action record.
func (l literal) text() string {
	switch l.kind {
	case literalString:
		return l.str
	case literalInt:
		return l.raw
	}
	return ""
}
