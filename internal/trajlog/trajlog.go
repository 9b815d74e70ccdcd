// Package trajlog turns a recorded agent execution log into ordered
// (thought, actions) steps.
//
// A log is a sequence of blank-line separated blocks that alternate between a
// thought block and an action block. The last line of a thought block carries
// the loop's log marker; everything after it is the thought. Action-block lines
// after the first are the raw action candidates, filtered through
// actions.Filter before they become part of a step.
package trajlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/haricheung/agent-workflow-memory/internal/actions"
	"github.com/haricheung/agent-workflow-memory/internal/fsutil"
	"github.com/haricheung/agent-workflow-memory/internal/types"
)

// Marker is the log-line substring that anchors thought extraction.
const Marker = "browsergym.experiments.loop - INFO -"

var (
	// ErrMalformedLog is returned when a log does not split into thought/action pairs.
	ErrMalformedLog = errors.New("trajlog: malformed log")
	// ErrMarkerNotFound is returned when a thought block lacks the marker.
	ErrMarkerNotFound = errors.New("trajlog: thought marker not found")
	// ErrNoValidSteps is returned when every step of a log is dropped.
	ErrNoValidSteps = errors.New("trajlog: no valid steps")
)

// StepDrop records a step that was removed because none of its actions survived.
type StepDrop struct {
	Index   int            `json:"index"` // 0-based pair index in the log
	Actions []actions.Drop `json:"actions"`
}

// Report collects the soft failures of one parse.
type Report struct {
	Pairs   int            `json:"pairs"`
	Dropped []actions.Drop `json:"dropped,omitempty"`
	Steps   []StepDrop     `json:"dropped_steps,omitempty"`
}

// Blocks splits lines into maximal runs of non-blank lines. Every line is
// trimmed of surrounding whitespace.
//
// Expectations:
//   - Consecutive blank lines never produce an empty block
//   - A trailing run without a terminating blank line still counts
//   - Returns nil for input that has no non-blank line
func Blocks(lines []string) [][]string {
	var blocks [][]string
	var cur []string
	for _, line := range lines {
		s := strings.TrimSpace(line)
		if s == "" {
			if len(cur) > 0 {
				blocks = append(blocks, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, s)
	}
	if len(cur) > 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}

// Thought extracts the thought text from the last line of a thought block.
//
// Expectations:
//   - Returns the text after the marker, trimmed
//   - Returns ErrMarkerNotFound when the marker is absent
func Thought(block []string) (string, error) {
	if len(block) == 0 {
		return "", ErrMarkerNotFound
	}
	last := block[len(block)-1]
	idx := strings.Index(last, Marker)
	if idx < 0 {
		return "", ErrMarkerNotFound
	}
	return strings.TrimSpace(last[idx+len(Marker):]), nil
}

// ParseSteps recovers the steps of one log.
//
// Expectations:
//   - An odd block count returns ErrMalformedLog
//   - The first line of each action block is a header and is never an action
//   - Steps with no surviving action are dropped and recorded in the Report
//   - The thought of a kept step without the marker returns ErrMarkerNotFound
//   - A log whose every step is dropped returns ErrNoValidSteps
func ParseSteps(lines []string) ([]types.Step, Report, error) {
	blocks := Blocks(lines)
	var rep Report
	if len(blocks)%2 != 0 {
		return nil, rep, fmt.Errorf("%w: %d blocks", ErrMalformedLog, len(blocks))
	}
	rep.Pairs = len(blocks) / 2

	var steps []types.Step
	for i := 1; i < len(blocks); i += 2 {
		kept, dropped := actions.Filter(blocks[i][1:])
		rep.Dropped = append(rep.Dropped, dropped...)
		if len(kept) == 0 {
			rep.Steps = append(rep.Steps, StepDrop{Index: i / 2, Actions: dropped})
			continue
		}
		thought, err := Thought(blocks[i-1])
		if err != nil {
			return nil, rep, fmt.Errorf("trajlog: step %d: %w", i/2, err)
		}
		steps = append(steps, types.Step{Thought: thought, Actions: kept})
	}
	if len(steps) == 0 {
		return nil, rep, ErrNoValidSteps
	}
	if len(rep.Dropped) > 0 {
		slog.Debug("[TRAJLOG] dropped actions", "count", len(rep.Dropped), "dropped_steps", len(rep.Steps))
	}
	return steps, rep, nil
}

// Parse reads a log from r and parses it with ParseSteps.
func Parse(r io.Reader) ([]types.Step, Report, error) {
	lines, err := fsutil.ReadLines(r)
	if err != nil {
		return nil, Report{}, fmt.Errorf("trajlog: %w", err)
	}
	return ParseSteps(lines)
}

// ParseFile opens and parses the log at path.
func ParseFile(path string) ([]types.Step, Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Report{}, fmt.Errorf("trajlog: open %s: %w", path, err)
	}
	defer f.Close()
	steps, rep, err := Parse(f)
	if err != nil {
		return nil, rep, fmt.Errorf("%s: %w", path, err)
	}
	return steps, rep, nil
}
