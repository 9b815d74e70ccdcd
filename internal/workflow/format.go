// Package workflow renders trajectories into the text blocks consumed by
// workflow induction prompts, and parses persisted workflow files back into
// structured blocks.
//
// Rendered layout, one step:
//
//	<think>
//	thought
//	</think>
//	<action>
//	action
//	...
//	</action>
//
// Steps are joined by a blank line, a trajectory is prefixed with
// "Query: <query>", and trajectories are joined by two blank lines under the
// "## Concrete Examples" header.
package workflow

import (
	"strconv"
	"strings"

	"github.com/haricheung/agent-workflow-memory/internal/types"
)

const (
	ExamplesHeader  = "## Concrete Examples"
	WorkflowsHeader = "## Summary Workflows"
	// QueriesSuffix closes a website-induction prompt.
	QueriesSuffix = "# Summary Workflows"

	stepSep       = "\n\n"
	trajectorySep = "\n\n\n"
)

// ActionHints is appended to neurally induced workflow files so the acting
// model sees the exact call forms.
const ActionHints = "\n\nclick('id') # input string id value for all actions\n\nselect_option('id', 'value') # for dropdown menu"

// FormatStep renders one step.
func FormatStep(s types.Step) string {
	return "<think>\n" + s.Thought + "\n</think>\n<action>\n" + strings.Join(s.Actions, "\n") + "\n</action>"
}

// FormatSteps renders steps joined by a blank line.
func FormatSteps(steps []types.Step) string {
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = FormatStep(s)
	}
	return strings.Join(parts, stepSep)
}

// FormatTrajectory renders "Query: <query>" followed by the steps.
//
// Expectations:
//   - The first line is "Query: " + query
//   - Steps follow on the next line with no blank line in between
func FormatTrajectory(t types.Trajectory) string {
	return "Query: " + t.Query + "\n" + FormatSteps(t.Steps)
}

// JoinExamples lays out already-formatted trajectories under the examples header.
func JoinExamples(texts []string) string {
	return strings.Join(append([]string{ExamplesHeader}, texts...), trajectorySep)
}

// Render produces the rule-induced workflow file for trajs.
//
// Expectations:
//   - Starts with "## Concrete Examples"
//   - Trajectories are separated by two blank lines
//   - An empty input renders only the header
func Render(trajs []types.Trajectory) string {
	texts := make([]string, len(trajs))
	for i, t := range trajs {
		texts[i] = FormatTrajectory(t)
	}
	return JoinExamples(texts)
}

// FormatPrompt produces the examples section of a neural induction prompt:
// the examples header, one "Query: q\nActions:\n<steps>" block per trajectory,
// and the summary header, all joined by a blank line.
func FormatPrompt(trajs []types.Trajectory) string {
	parts := []string{ExamplesHeader}
	for _, t := range trajs {
		parts = append(parts, "Query: "+t.Query+"\nActions:\n"+FormatSteps(t.Steps))
	}
	parts = append(parts, WorkflowsHeader)
	return strings.Join(parts, stepSep)
}

// QueryExample is one task and its recorded action/environment lines, as fed
// to website-level induction.
type QueryExample struct {
	Task        string
	ActionReprs []string
}

// FormatQueries renders numbered query examples. prefix, when non-empty, is
// placed on its own line before the examples; suffix, when non-empty, is
// appended after a blank line.
//
// Expectations:
//   - Each example renders "Query #i: task", "Actions and Environments:", its lines, then an empty line
//   - Query numbers start at 1
//   - Empty prefix and suffix add nothing
func FormatQueries(examples []QueryExample, prefix, suffix string) string {
	var lines []string
	for i, ex := range examples {
		lines = append(lines, "Query #"+strconv.Itoa(i+1)+": "+ex.Task)
		lines = append(lines, "Actions and Environments:")
		lines = append(lines, ex.ActionReprs...)
		lines = append(lines, "")
	}
	prompt := strings.Join(lines, "\n")
	if prefix != "" {
		prompt = prefix + "\n" + prompt
	}
	if suffix != "" {
		prompt += "\n\n" + suffix
	}
	return prompt
}

// WebsitePrompt prefixes FormatQueries output with the "Website: d,s,w" line.
func WebsitePrompt(tags types.Tags, examples []QueryExample, prefix, suffix string) string {
	return "Website: " + tags.String() + "\n" + FormatQueries(examples, prefix, suffix)
}
