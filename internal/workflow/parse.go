package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haricheung/agent-workflow-memory/internal/types"
)

const (
	thinkOpen   = "<think>\n"
	thinkClose  = "\n</think>\n<action>\n"
	actionClose = "\n</action>"
	queryPrefix = "Query: "

	// deltaMarker names the trailing section excluded from website workflows.
	deltaMarker = "delta"
	minBlockLen = 4
)

// ParseTrajectories recovers trajectories rendered by Render or
// FormatTrajectory. Chunks that do not start with "Query: " (such as the
// examples header) are skipped, as are chunks without a single step.
//
// Expectations:
//   - Inverts Render: queries, thoughts, and actions are recovered in order
//   - Skips the "## Concrete Examples" header
//   - Returns nil for text without any trajectory
func ParseTrajectories(text string) []types.Trajectory {
	var out []types.Trajectory
	for _, chunk := range strings.Split(text, trajectorySep) {
		chunk = strings.Trim(chunk, "\n")
		if !strings.HasPrefix(chunk, queryPrefix) {
			continue
		}
		nl := strings.Index(chunk, "\n")
		if nl < 0 {
			continue
		}
		steps := parseSteps(chunk[nl+1:])
		if len(steps) == 0 {
			continue
		}
		out = append(out, types.Trajectory{Query: chunk[len(queryPrefix):nl], Steps: steps})
	}
	return out
}

func parseSteps(s string) []types.Step {
	var steps []types.Step
	for {
		i := strings.Index(s, thinkOpen)
		if i < 0 {
			return steps
		}
		s = s[i+len(thinkOpen):]
		j := strings.Index(s, thinkClose)
		if j < 0 {
			return steps
		}
		thought := s[:j]
		s = s[j+len(thinkClose):]
		k := strings.Index(s, actionClose)
		if k < 0 {
			return steps
		}
		steps = append(steps, types.Step{Thought: thought, Actions: strings.Split(s[:k], "\n")})
		s = s[k+len(actionClose):]
	}
}

// CleanName normalises a workflow name line into a "## name" heading.
//
// Expectations:
//   - Keeps only the text after the first colon, trimmed
//   - Keeps only a backtick-delimited span when one is present
//   - An opening backtick without a closing one keeps the rest of the line
//   - Always returns "## " + name
func CleanName(name string) string {
	if i := strings.Index(name, ":"); i >= 0 {
		name = strings.TrimSpace(name[i+1:])
	}
	if i := strings.Index(name, "`"); i >= 0 {
		name = name[i+1:]
		if j := strings.Index(name, "`"); j >= 0 {
			name = name[:j]
		}
	}
	return "## " + name
}

// ParseBlocks extracts the workflow blocks of one file's text. A block
// qualifies when it has at least four lines; its first line, stripped of
// leading "#", is the name and its second line the docstring.
//
// Expectations:
//   - "## Site: Foo\nShort doc.\nstep one\nstep two" yields name "## Foo", docstring "Short doc."
//   - Content is the cleaned name line followed by the remaining lines
//   - Blocks with fewer than four lines are skipped
func ParseBlocks(site, text string) []types.WorkflowBlock {
	var out []types.WorkflowBlock
	for _, b := range strings.Split(text, "\n\n") {
		lines := strings.Split(strings.TrimSpace(b), "\n")
		if len(lines) < minBlockLen {
			continue
		}
		name := CleanName(strings.TrimSpace(strings.TrimLeft(lines[0], "#")))
		out = append(out, types.WorkflowBlock{
			Site:      site,
			Name:      name,
			Docstring: strings.TrimSpace(lines[1]),
			Content:   strings.Join(append([]string{name}, lines[1:]...), "\n"),
		})
	}
	return out
}

// SiteFromPath derives the website name of a workflow file: the base name up
// to the first "." and then up to the first "_".
//
// Expectations:
//   - "workflow/shopping_neural.txt" yields "shopping"
//   - "aa.txt" yields "aa"
func SiteFromPath(path string) string {
	base := filepath.Base(path)
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	if i := strings.Index(base, "_"); i >= 0 {
		base = base[:i]
	}
	return base
}

// LoadFile reads a workflow file and parses its blocks.
func LoadFile(path string) ([]types.WorkflowBlock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	return ParseBlocks(SiteFromPath(path), string(data)), nil
}

// isHeader reports whether block is a single heading line ending with name.
func isHeader(block, name string) bool {
	lines := strings.Split(strings.TrimSpace(block), "\n")
	if len(lines) > 1 {
		return false
	}
	text := strings.TrimSpace(lines[0])
	return strings.HasPrefix(text, "#") && strings.HasSuffix(strings.ToLower(text), strings.ToLower(name))
}

// FilterWebsite keeps the part of an induced response that belongs to
// website. Blocks after the website header and before the "delta" sentinel
// header are kept; any remaining block mentioning "delta" is dropped.
//
// Expectations:
//   - Blocks up to and including the website header are dropped
//   - Without a website header every block is a candidate
//   - The sentinel header and everything after it are dropped
//   - Header matching ignores case
//   - Any kept block containing "delta" in any case is dropped
func FilterWebsite(text, website string) string {
	blocks := strings.Split(text, "\n\n")
	for i, b := range blocks {
		if isHeader(b, website) {
			blocks = blocks[i+1:]
			break
		}
	}
	for i, b := range blocks {
		if isHeader(b, deltaMarker) {
			blocks = blocks[:i]
			break
		}
	}
	kept := blocks[:0]
	for _, b := range blocks {
		if !strings.Contains(strings.ToLower(b), deltaMarker) {
			kept = append(kept, b)
		}
	}
	return strings.Join(kept, "\n\n")
}
