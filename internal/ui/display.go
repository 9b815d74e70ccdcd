// Package ui renders a live terminal view of an evaluation run.
package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/haricheung/agent-workflow-memory/internal/evaluate"
)

// ANSI codes
const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
)

// clearLine returns the cursor to column 0 and erases the spinner line.
const clearLine = "\r\033[K"

var spinRunes = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

var skipLabel = map[string]string{
	"element_missing":   "element missing",
	"context_limit":     "context limit",
	"generation_failed": "generation failed",
}

// Display prints one line per finished episode and animates a spinner with
// the step in progress. It reads from the runner's progress channel.
type Display struct {
	tap     <-chan evaluate.Progress
	out     io.Writer
	mu      sync.Mutex
	status  string
	started time.Time
	spinIdx int

	episodes  int
	successes int
	steps     int
	stepHits  int
}

// New creates a Display reading from tap and writing to out.
func New(tap <-chan evaluate.Progress, out io.Writer) *Display {
	return &Display{tap: tap, out: out}
}

// Run renders until tap is closed or ctx is done, then prints the run
// summary. All writes happen on the calling goroutine.
func (d *Display) Run(ctx context.Context) {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	d.started = time.Now()
	fmt.Fprintf(d.out, "%s┌─── ⚡ awm evaluate %s%s\n", ansiDim, strings.Repeat("─", 40), ansiReset)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprint(d.out, clearLine)
			d.summary()
			return

		case p, ok := <-d.tap:
			if !ok {
				fmt.Fprint(d.out, clearLine)
				d.summary()
				return
			}
			d.handle(p)

		case <-ticker.C:
			d.mu.Lock()
			status := d.status
			d.mu.Unlock()
			if status == "" {
				continue
			}
			frame := spinRunes[d.spinIdx%len(spinRunes)]
			d.spinIdx++
			fmt.Fprintf(d.out, "\r%s%s%s %s", ansiCyan, string(frame), ansiReset, status)
		}
	}
}

// handle applies one progress event. Episode events print a line and
// update the tallies; step events only update the spinner status.
func (d *Display) handle(p evaluate.Progress) {
	if !p.Done {
		d.setStatus(stepStatus(p))
		return
	}
	d.episodes++
	d.successes += p.Success
	d.steps += p.Steps
	d.stepHits += p.StepSuccess
	fmt.Fprint(d.out, clearLine)
	fmt.Fprintln(d.out, episodeLine(p))
	d.setStatus("")
}

func (d *Display) summary() {
	elapsed := time.Since(d.started).Round(time.Millisecond)
	fmt.Fprintf(d.out, "%s└─── %d episodes  %d succeeded  %s  %v%s\n",
		ansiDim, d.episodes, d.successes, rate(d.stepHits, d.steps), elapsed, ansiReset)
}

func (d *Display) setStatus(s string) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

// stepStatus is the spinner label for a step event.
//
// Expectations:
//   - "task 3/7" for a scored step
//   - A skipped step appends its reason in yellow
func stepStatus(p evaluate.Progress) string {
	s := fmt.Sprintf("%s %d/%d", clip(p.TaskID, 40), p.Step, p.Steps)
	if p.Skip != "" {
		label := skipLabel[p.Skip]
		if label == "" {
			label = p.Skip
		}
		s += " " + ansiYellow + label + ansiReset
	}
	return s
}

// episodeLine is the permanent line printed for a finished episode.
//
// Expectations:
//   - Starts with ✅ when the episode succeeded, ❌ otherwise
//   - Shows the succeeded steps over the total
func episodeLine(p evaluate.Progress) string {
	icon, color := "✅", ansiGreen
	if p.Success == 0 {
		icon, color = "❌", ansiRed
	}
	return fmt.Sprintf("  %s %s%s%s  %d/%d steps", icon, color, clip(p.TaskID, 40), ansiReset, p.StepSuccess, p.Steps)
}

func rate(hits, total int) string {
	if total == 0 {
		return "step-sr -"
	}
	return fmt.Sprintf("step-sr %.1f%%", 100*float64(hits)/float64(total))
}

// clip truncates s to at most n terminal columns, appending "…" if trimmed.
func clip(s string, n int) string {
	return runewidth.Truncate(s, n, "…")
}
