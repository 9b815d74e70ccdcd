// Package actions validates and canonicalizes raw agent action strings.
//
// Two grammars are recognised:
//   - the function-call form recorded in execution logs, e.g. click('42'),
//     fill('7', 'hello'), select_option('3', 'Blue'), send_msg_to_user('done');
//   - the bracket form used by evaluation data, e.g. CLICK [12], TYPE [7] [hello].
//
// Both map onto the same types.Action record. Argument validity is decided by a
// literal parser, never by evaluating argument text.
package actions

import (
	"strings"

	"github.com/haricheung/agent-workflow-memory/internal/types"
)

// Op is the operation class selected by prefix matching on a raw action.
type Op string

const (
	OpClick       Op = "click"
	OpFill        Op = "fill"
	OpSelect      Op = "select"
	OpScroll      Op = "scroll"
	OpNoop        Op = "noop"
	OpSendMessage Op = "send_msg_to_user"
	OpOther       Op = "other"
)

// opPrefixes is checked in order; the first matching prefix wins.
var opPrefixes = []struct {
	prefix string
	op     Op
}{
	{"click(", OpClick},
	{"fill(", OpFill},
	{"type(", OpFill},
	{"select_option(", OpSelect},
	{"select(", OpSelect},
	{"scroll(", OpScroll},
	{"noop(", OpNoop},
	{"send_msg_to_user(", OpSendMessage},
}

// Drop reasons recorded for discarded actions.
const (
	ReasonMalformed    = "malformed"
	ReasonIDNotString  = "id_not_string"
	ReasonIDNotInteger = "id_not_integer"
	ReasonNoIntent     = "no_intent"
)

// Drop records one discarded action and why it was discarded.
type Drop struct {
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

// Classify returns the operation class of a raw action string.
//
// Expectations:
//   - Matches on the trimmed string's prefix, not on a substring
//   - "fill(" and "type(" both classify as OpFill
//   - "select_option(" and "select(" both classify as OpSelect
//   - Anything without a known prefix is OpOther
func Classify(raw string) Op {
	s := strings.TrimSpace(raw)
	for _, p := range opPrefixes {
		if strings.HasPrefix(s, p.prefix) {
			return p.op
		}
	}
	return OpOther
}

// Check decides whether a raw action carries workflow-relevant intent.
// reason is empty when the action is kept.
//
// Expectations:
//   - click keeps only a string-literal argument whose inner text is an integer literal
//   - click('42') is kept; click(42) is dropped with ReasonIDNotString
//   - click('a1') is dropped with ReasonIDNotInteger
//   - fill/type keeps only when the text before the first comma is a string literal
//   - fill without a comma is dropped as malformed rather than failing
//   - scroll and noop are always dropped with ReasonNoIntent
//   - select, send-message, and unrecognised actions are kept unchanged
func Check(raw string) (keep bool, reason string) {
	s := strings.TrimSpace(raw)
	switch Classify(s) {
	case OpClick:
		open := strings.Index(s, "(")
		end := strings.Index(s, ")")
		if open < 0 || end < open {
			return false, ReasonMalformed
		}
		arg := s[open+1 : end]
		if parseLiteral(arg).kind != literalString {
			return false, ReasonIDNotString
		}
		// The id must be a string-wrapped integer: drop the first and last
		// characters of the raw argument and require an integer literal inside.
		if len(arg) < 2 || parseLiteral(arg[1:len(arg)-1]).kind != literalInt {
			return false, ReasonIDNotInteger
		}
		return true, ""
	case OpFill:
		open := strings.Index(s, "(")
		comma := strings.Index(s, ",")
		if open < 0 || comma < open {
			return false, ReasonMalformed
		}
		if parseLiteral(strings.TrimSpace(s[open+1:comma])).kind != literalString {
			return false, ReasonIDNotString
		}
		return true, ""
	case OpScroll, OpNoop:
		return false, ReasonNoIntent
	}
	return true, ""
}

// Filter keeps the raw actions that pass Check, in order, and reports the rest.
func Filter(raws []string) (kept []string, dropped []Drop) {
	for _, a := range raws {
		if ok, reason := Check(a); ok {
			kept = append(kept, a)
		} else {
			dropped = append(dropped, Drop{Raw: a, Reason: reason})
		}
	}
	return kept, dropped
}

// Normalize converts a raw function-call action into its typed record.
// ok is false when Check would drop the action.
//
// Expectations:
//   - click('42') yields Click{ID: "42"}
//   - fill('7', 'hello') yields Type{ID: "7", Value: "hello"}
//   - select_option('3', 'Blue') yields Select{ID: "3", Value: "Blue"}
//   - send_msg_to_user('done') yields SendMessage{Value: "done"}
//   - An unrecognised but well-formed action yields Other with Raw set
//   - Dropped actions return ok=false
func Normalize(raw string) (types.Action, bool) {
	s := strings.TrimSpace(raw)
	if keep, _ := Check(s); !keep {
		return types.Action{}, false
	}
	a := types.Action{Kind: types.ActionOther, Raw: s}
	args := callArgs(s)
	switch Classify(s) {
	case OpClick:
		a.Kind = types.ActionClick
		if len(args) > 0 {
			a.ID = args[0]
		}
	case OpFill:
		a.Kind = types.ActionType
		if len(args) > 0 {
			a.ID = args[0]
		}
		if len(args) > 1 {
			a.Value = args[1]
		}
	case OpSelect:
		a.Kind = types.ActionSelect
		if len(args) > 0 {
			a.ID = args[0]
		}
		if len(args) > 1 {
			a.Value = args[1]
		}
	case OpSendMessage:
		a.Kind = types.ActionSendMessage
		if len(args) > 0 {
			a.Value = args[0]
		}
	}
	return a, true
}

// callArgs returns the literal arguments of a function-call action as text.
// When the argument list is not made of literals, the raw comma-split
// arguments are returned trimmed of surrounding quotes.
func callArgs(s string) []string {
	open := strings.Index(s, "(")
	end := strings.LastIndex(s, ")")
	if open < 0 || end < open {
		return nil
	}
	inner := s[open+1 : end]
	if lits, ok := parseArgs(inner); ok {
		out := make([]string, len(lits))
		for i, l := range lits {
			out[i] = l.text()
		}
		return out
	}
	var out []string
	for _, part := range strings.Split(inner, ",") {
		out = append(out, strings.Trim(strings.TrimSpace(part), `'"`))
	}
	return out
}

// OpName returns the raw operation name of a function-call action: the text
// before the first "(". An action without parentheses is returned whole.
func OpName(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "("); i >= 0 {
		return s[:i]
	}
	return s
}
