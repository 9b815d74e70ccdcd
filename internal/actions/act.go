package actions

import (
	"regexp"
	"strings"

	"github.com/haricheung/agent-workflow-memory/internal/types"
)

// actPattern matches the bracket grammar: an optional operation, a bracketed
// target id, and an optional bracketed value.
var actPattern = regexp.MustCompile(`(?:^|\s)(CLICK|SELECT|TYPE)?\s?\[(.+?)\](?:\s\[(.+?)\])?`)

// ParseAct parses a bracket-form action such as "TYPE [7] [hello]".
// ok is false when no bracketed target is present.
//
// Expectations:
//   - "CLICK [12]" yields Click{ID: "12"}
//   - "TYPE [7] [hello world]" yields Type{ID: "7", Value: "hello world"}
//   - "SELECT [3] [Blue]" yields Select{ID: "3", Value: "Blue"}
//   - A bracketed id with no operation yields Other with the id set
//   - Text with no bracketed id returns ok=false
func ParseAct(s string) (types.Action, bool) {
	m := actPattern.FindStringSubmatch(s)
	if m == nil {
		return types.Action{}, false
	}
	a := types.Action{Kind: types.ActionOther, ID: m[2], Value: m[3], Raw: strings.TrimSpace(s)}
	switch m[1] {
	case "CLICK":
		a.Kind = types.ActionClick
	case "TYPE":
		a.Kind = types.ActionType
	case "SELECT":
		a.Kind = types.ActionSelect
	}
	return a, true
}

// OperationName returns the upper-case bracket-grammar operation of a, or ""
// when the kind has no bracket form.
func OperationName(a types.Action) string {
	switch a.Kind {
	case types.ActionClick:
		return "CLICK"
	case types.ActionType:
		return "TYPE"
	case types.ActionSelect:
		return "SELECT"
	}
	return ""
}

// CanonicalString builds the (operation, value) string compared by action F1.
// A click contributes only its operation; an action without an operation
// contributes only its value.
//
// Expectations:
//   - Click yields "CLICK "
//   - Type with value "hello world" yields "TYPE hello world"
//   - A zero Action yields " "
func CanonicalString(a types.Action) string {
	op := OperationName(a)
	if op == "" {
		return " " + a.Value
	}
	if a.Kind == types.ActionClick || a.Value == "" {
		return op + " "
	}
	return op + " " + a.Value
}
