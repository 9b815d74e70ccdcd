package induce

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/haricheung/agent-workflow-memory/internal/dedup"
	"github.com/haricheung/agent-workflow-memory/internal/fsutil"
	"github.com/haricheung/agent-workflow-memory/internal/llm"
	"github.com/haricheung/agent-workflow-memory/internal/review"
	"github.com/haricheung/agent-workflow-memory/internal/types"
	"github.com/haricheung/agent-workflow-memory/internal/workflow"
)

// Report summarises one induction run.
type Report struct {
	RunID    string      `json:"run_id"`
	Output   string      `json:"output"`
	Input    int         `json:"input"`
	Dedup    dedup.Stats `json:"dedup"`
	Accepted int         `json:"accepted"`
	Skips    []Skip      `json:"skips,omitempty"`
}

// Prompt holds the fixed texts placed before the examples of an induction prompt.
type Prompt struct {
	Instruction string
	OneShot     string
}

// Build joins the instruction, the one-shot example, and body by blank lines.
// Empty parts are left out.
func (p Prompt) Build(body string) string {
	var parts []string
	for _, s := range []string{p.Instruction, p.OneShot, body} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// RuleOptions configures Rule.
type RuleOptions struct {
	Dedup    dedup.Options
	Reviewer review.Reviewer
	Output   string
}

// Rule deduplicates trajs, has every survivor reviewed, and writes the
// accepted ones under the concrete-examples header.
//
// Expectations:
//   - Runs template then signature deduplication
//   - Only reviewer-accepted trajectories are written, in order
//   - The file is written whole; nothing is written on error
//   - An empty Output defaults to workflow/<site>.txt
func Rule(ctx context.Context, trajs []types.Trajectory, opts RuleOptions, rng *rand.Rand) (Report, error) {
	rep := Report{RunID: uuid.NewString(), Input: len(trajs)}
	kept, st := dedup.Deduplicate(trajs, opts.Dedup, rng)
	rep.Dedup = st

	candidates := make([]string, len(kept))
	for i, t := range kept {
		candidates[i] = workflow.FormatTrajectory(t)
	}
	reviewer := opts.Reviewer
	if reviewer == nil {
		reviewer = review.AutoAccept{}
	}
	accepted, err := review.Apply(ctx, reviewer, candidates)
	if err != nil {
		return rep, fmt.Errorf("induce: review: %w", err)
	}
	rep.Accepted = len(accepted)

	rep.Output = opts.Output
	if rep.Output == "" {
		rep.Output = DefaultOutput(siteOf(trajs), "")
		slog.Warn("[INDUCE] no output path given, using default", "path", rep.Output)
	}
	if err := fsutil.WriteFile(rep.Output, workflow.JoinExamples(accepted)); err != nil {
		return rep, fmt.Errorf("induce: %w", err)
	}
	slog.Info("[INDUCE] rule workflows written", "run_id", rep.RunID, "accepted", rep.Accepted, "path", rep.Output)
	return rep, nil
}

// NeuralOptions configures Neural.
type NeuralOptions struct {
	// PerTemplate caps the trajectories sampled per task template.
	PerTemplate int
	Prompt      Prompt
	Model       string
	Temperature float32
	MaxTokens   int
	Output      string
}

// Neural samples up to PerTemplate trajectories per template, asks gen to
// summarise them into workflows, and writes the response followed by the
// action hints.
//
// Expectations:
//   - The prompt is the instruction, the one-shot text, and FormatPrompt output, blank-line joined
//   - Reasoning blocks in the response are stripped
//   - The written file ends with the action hints
//   - An empty Output defaults to workflow/<site>_neural.txt
//   - A generation error is returned and nothing is written
func Neural(ctx context.Context, gen llm.Generator, trajs []types.Trajectory, opts NeuralOptions, rng *rand.Rand) (Report, error) {
	rep := Report{RunID: uuid.NewString(), Input: len(trajs)}
	groups := dedup.GroupByTemplate(trajs)
	picked := dedup.Sample(groups, opts.PerTemplate, rng)
	rep.Dedup = dedup.Stats{Input: len(trajs), Templates: groups.Len(), AfterTemplate: len(picked)}
	rep.Accepted = len(picked)
	slog.Info("[INDUCE] template stage", "input", len(trajs), "templates", groups.Len(), "kept", len(picked))

	prompt := opts.Prompt.Build(workflow.FormatPrompt(picked))
	text, err := generate(ctx, gen, prompt, opts.Model, opts.Temperature, opts.MaxTokens)
	if err != nil {
		return rep, err
	}

	rep.Output = opts.Output
	if rep.Output == "" {
		rep.Output = DefaultOutput(siteOf(trajs), "neural")
		slog.Warn("[INDUCE] no output path given, using default", "path", rep.Output)
	}
	if err := fsutil.WriteFile(rep.Output, text+workflow.ActionHints); err != nil {
		return rep, fmt.Errorf("induce: %w", err)
	}
	slog.Info("[INDUCE] neural workflows written", "run_id", rep.RunID, "examples", len(picked), "path", rep.Output)
	return rep, nil
}

// generate sends prompt as a single user message and returns the response
// with reasoning blocks stripped.
func generate(ctx context.Context, gen llm.Generator, prompt, model string, temperature float32, maxTokens int) (string, error) {
	slog.Debug("[INDUCE] prompt", "chars", len(prompt))
	text, usage, err := gen.Generate(ctx, []types.Message{{Role: "user", Content: prompt}}, llm.Options{
		Model:       model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("induce: generate: %w", err)
	}
	slog.Debug("[INDUCE] response", "prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens, "elapsed_ms", usage.ElapsedMs)
	return llm.StripThinkBlocks(text), nil
}

// DefaultOutput is the workflow file path used when none is given:
// workflow/<site>.txt, or workflow/<site>_<suffix>.txt.
func DefaultOutput(site, suffix string) string {
	name := site
	if suffix != "" {
		name += "_" + suffix
	}
	return filepath.Join("workflow", name+".txt")
}

// siteOf returns the site of the last trajectory; all trajectories of one
// induction run are assumed to share it.
func siteOf(trajs []types.Trajectory) string {
	if len(trajs) == 0 {
		return "unknown"
	}
	return trajs[len(trajs)-1].Site
}
