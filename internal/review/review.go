// Package review provides the accept/reject capability applied to candidate
// workflows before they are persisted.
//
// The induction pipeline never decides by itself whether a human looks at a
// candidate: it receives a Reviewer chosen by configuration. AutoAccept keeps
// everything; Interactive shows each candidate on a terminal and asks.
package review

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-runewidth"
)

// Reviewer decides whether one candidate workflow is kept.
type Reviewer interface {
	Review(ctx context.Context, candidate string) (bool, error)
}

// AutoAccept keeps every candidate.
type AutoAccept struct{}

// Review always returns true.
func (AutoAccept) Review(ctx context.Context, candidate string) (bool, error) {
	return true, ctx.Err()
}

// Interactive prints each candidate and reads a y/n answer from a line editor.
//
// Expectations:
//   - "y" and "yes" (any case, surrounding space ignored) accept
//   - Any other answer rejects
//   - Preview lines wider than the terminal are clipped with an ellipsis
//   - EOF on input returns an error and rejects the candidate
type Interactive struct {
	rl    *readline.Instance
	out   io.Writer
	width func() int
}

// Options configures NewInteractive. Zero values select the process terminal.
type Options struct {
	Stdin  io.ReadCloser
	Stdout io.Writer
	// Width returns the preview width in columns; nil asks the terminal.
	Width func() int
}

// NewInteractive opens a line editor for the review prompt.
// Call Close when done.
func NewInteractive(opts Options) (*Interactive, error) {
	cfg := &readline.Config{Prompt: "Add? (y/n): "}
	if opts.Stdin != nil {
		cfg.Stdin = opts.Stdin
		cfg.FuncIsTerminal = func() bool { return false }
		cfg.FuncMakeRaw = func() error { return nil }
		cfg.FuncExitRaw = func() error { return nil }
		cfg.FuncOnWidthChanged = func(func()) {}
	}
	if opts.Stdout != nil {
		cfg.Stdout = opts.Stdout
		cfg.Stderr = opts.Stdout
	}
	width := opts.Width
	if width != nil {
		cfg.FuncGetWidth = width
	}
	rl, err := readline.NewEx(cfg)
	if err != nil {
		return nil, fmt.Errorf("review: open line editor: %w", err)
	}
	if width == nil {
		width = rl.Config.FuncGetWidth
	}
	out := opts.Stdout
	if out == nil {
		out = rl.Stdout()
	}
	return &Interactive{rl: rl, out: out, width: width}, nil
}

// Review prints the candidate and waits for an answer.
func (r *Interactive) Review(ctx context.Context, candidate string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(r.out, "Workflow:\n%s\n\n", Preview(candidate, r.width()))
	line, err := r.rl.Readline()
	if err != nil {
		return false, fmt.Errorf("review: read answer: %w", err)
	}
	ans := strings.ToLower(strings.TrimSpace(line))
	return ans == "y" || ans == "yes", nil
}

// Close releases the line editor.
func (r *Interactive) Close() error {
	if r == nil || r.rl == nil {
		return nil
	}
	return r.rl.Close()
}

// Preview clips every line of s to width display columns. A width <= 0
// returns s unchanged.
//
// Expectations:
//   - Lines within the width are unchanged
//   - Wide (CJK) runes count as two columns
//   - Clipped lines end with "…" and never exceed width
func Preview(s string, width int) string {
	if width <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = runewidth.Truncate(l, width, "…")
	}
	return strings.Join(lines, "\n")
}

// Apply runs every candidate through r and returns the accepted ones in order.
//
// Expectations:
//   - Keeps candidate order
//   - Stops at the first reviewer error and returns what was accepted so far
func Apply(ctx context.Context, r Reviewer, candidates []string) ([]string, error) {
	var kept []string
	for _, c := range candidates {
		ok, err := r.Review(ctx, c)
		if err != nil {
			return kept, err
		}
		if ok {
			kept = append(kept, c)
		}
	}
	slog.Info("[REVIEW] candidates reviewed", "total", len(candidates), "accepted", len(kept))
	return kept, nil
}
