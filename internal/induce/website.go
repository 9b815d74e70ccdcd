package induce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/haricheung/agent-workflow-memory/internal/fsutil"
	"github.com/haricheung/agent-workflow-memory/internal/llm"
	"github.com/haricheung/agent-workflow-memory/internal/memory"
	"github.com/haricheung/agent-workflow-memory/internal/tasklog"
	"github.com/haricheung/agent-workflow-memory/internal/types"
	"github.com/haricheung/agent-workflow-memory/internal/workflow"
)

// ErrNoTrainExamples is returned by Offline when the website has no training
// examples of its own.
var ErrNoTrainExamples = errors.New("induce: no training examples")

// TrainSet groups training examples by their composite tag.
type TrainSet map[types.Tags][]types.TrainExample

// LoadTrainSet reads every *.json file under dir (each a JSON array of
// training examples) and groups the examples by tag.
func LoadTrainSet(dir string) (TrainSet, error) {
	paths, err := fsutil.GlobFiles(dir, "*.json")
	if err != nil {
		return nil, fmt.Errorf("induce: %w", err)
	}
	set := TrainSet{}
	for _, p := range paths {
		var exs []types.TrainExample
		if err := readJSON(p, &exs); err != nil {
			return nil, err
		}
		set.Add(exs...)
		slog.Debug("[INDUCE] train file loaded", "path", p, "examples", len(exs))
	}
	slog.Info("[INDUCE] train set loaded", "files", len(paths), "websites", len(set))
	return set, nil
}

// Add files each example under its tag, keeping input order.
func (s TrainSet) Add(exs ...types.TrainExample) {
	for _, ex := range exs {
		s[ex.Tags()] = append(s[ex.Tags()], ex)
	}
}

// WebsiteOptions configures Offline and Online.
type WebsiteOptions struct {
	Prompt      Prompt
	Prefix      string
	Suffix      string
	Model       string
	Temperature float32
	MaxTokens   int
	OutputDir   string
	// OutputSuffix names the file <website-lowercase>_<suffix>.txt; empty
	// names it <website>.txt.
	OutputSuffix string
	// Output, when set, overrides OutputDir and OutputSuffix.
	Output string
}

func (o WebsiteOptions) outputPath(website string) string {
	if o.Output != "" {
		return o.Output
	}
	name := website + ".txt"
	if o.OutputSuffix != "" {
		name = strings.ToLower(website) + "_" + o.OutputSuffix + ".txt"
	}
	return filepath.Join(o.OutputDir, name)
}

// Offline induces workflows for one website from its training examples.
//
// Expectations:
//   - The prompt body is "Website: d,s,w" followed by the numbered queries
//   - The response is cut to the section for tags.Website by FilterWebsite
//   - Tags with no training examples of their own is an error naming the
//     nearest level that has examples
func Offline(ctx context.Context, gen llm.Generator, set TrainSet, tags types.Tags, opts WebsiteOptions) (Report, error) {
	exs, level := memory.Lookup(set, tags)
	if level != memory.LevelWebsite {
		return Report{RunID: uuid.NewString()}, fmt.Errorf("%w: %s (nearest level with examples: %s)", ErrNoTrainExamples, tags, level)
	}
	rep := Report{RunID: uuid.NewString(), Input: len(exs)}
	queries := make([]workflow.QueryExample, len(exs))
	for i, ex := range exs {
		queries[i] = workflow.QueryExample{Task: ex.ConfirmedTask, ActionReprs: ex.ActionReprs}
	}
	slog.Info("[INDUCE] offline split", "tags", tags.String(), "examples", len(exs))
	body := workflow.WebsitePrompt(tags, queries, opts.Prefix, opts.Suffix)
	return writeWebsite(ctx, gen, rep, opts.Prompt.Build(body), tags.Website, opts)
}

// Online induces workflows for one website from the model's own evaluation
// records. Each record is matched to its sample by task id; every model call
// contributes its last user message as "# <env>" followed by the model output.
//
// Expectations:
//   - The prompt body starts "Website: d, s, w" taken from the first sample
//   - Episodes without a matching sample are skipped
//   - No samples is an error
func Online(ctx context.Context, gen llm.Generator, samples []types.Sample, episodes []*tasklog.Episode, opts WebsiteOptions) (Report, error) {
	rep := Report{RunID: uuid.NewString(), Input: len(episodes)}
	if len(samples) == 0 {
		return rep, fmt.Errorf("induce: no samples for online induction")
	}
	byID := make(map[string]types.Sample, len(samples))
	for _, s := range samples {
		byID[s.TaskID] = s
	}
	var queries []workflow.QueryExample
	for _, ep := range episodes {
		s, ok := byID[ep.TaskID()]
		if !ok {
			rep.Skips = append(rep.Skips, Skip{Dir: ep.TaskID(), Reason: "no matching sample"})
			continue
		}
		queries = append(queries, workflow.QueryExample{Task: s.ConfirmedTask, ActionReprs: EnvActions(ep)})
	}
	first := samples[0]
	head := "Website: " + strings.Join([]string{first.Domain, first.Subdomain, first.Website}, ", ") + "\n"
	body := head + workflow.FormatQueries(queries, opts.Prefix, opts.Suffix)
	slog.Info("[INDUCE] online records", "website", first.Website, "episodes", len(queries), "skipped", len(rep.Skips))
	return writeWebsite(ctx, gen, rep, opts.Prompt.Build(body), first.Website, opts)
}

// EnvActions renders the model calls of one episode as "# <env>\n<output>" lines.
func EnvActions(ep *tasklog.Episode) []string {
	var out []string
	for _, call := range ep.LLMCalls() {
		env := ""
		if n := len(call.Input); n > 0 {
			env = call.Input[n-1].Content
		}
		out = append(out, "# "+env+"\n"+call.Output)
	}
	return out
}

func writeWebsite(ctx context.Context, gen llm.Generator, rep Report, prompt, website string, opts WebsiteOptions) (Report, error) {
	text, err := generate(ctx, gen, prompt, opts.Model, opts.Temperature, opts.MaxTokens)
	if err != nil {
		return rep, err
	}
	text = workflow.FilterWebsite(text, website)
	rep.Accepted = len(workflow.ParseBlocks(website, text))
	rep.Output = opts.outputPath(website)
	if err := fsutil.WriteFile(rep.Output, text); err != nil {
		return rep, fmt.Errorf("induce: %w", err)
	}
	slog.Info("[INDUCE] website workflows written", "run_id", rep.RunID, "website", website, "blocks", rep.Accepted, "path", rep.Output)
	return rep, nil
}

// ReadEpisodes reads every episode record under dir in file name order.
// Unreadable records are skipped with a warning.
func ReadEpisodes(dir string) ([]*tasklog.Episode, error) {
	paths, err := fsutil.GlobFiles(dir, "*.jsonl")
	if err != nil {
		return nil, fmt.Errorf("induce: %w", err)
	}
	var out []*tasklog.Episode
	for _, p := range paths {
		ep, err := tasklog.ReadEpisode(p)
		if err != nil {
			slog.Warn("[INDUCE] skipping record", "path", p, "error", err)
			continue
		}
		out = append(out, ep)
	}
	return out, nil
}

// WriteReport stores rep as indented JSON next to the workflow file.
func WriteReport(rep Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("induce: marshal report: %w", err)
	}
	path := strings.TrimSuffix(rep.Output, filepath.Ext(rep.Output)) + ".report.json"
	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("induce: %w", err)
	}
	return nil
}
