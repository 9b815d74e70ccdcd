package evaluate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haricheung/agent-workflow-memory/internal/actions"
	"github.com/haricheung/agent-workflow-memory/internal/llm"
	"github.com/haricheung/agent-workflow-memory/internal/tasklog"
	"github.com/haricheung/agent-workflow-memory/internal/types"
)

// SystemPrompt is the acting instruction placed first in every step prompt.
const SystemPrompt = "You are a large language model trained to navigate the web. Output the next action and wait for the next observation. Here is the action space:\n" +
	"1. `CLICK [id]`: Click on an HTML element with its id.\n" +
	"2. `TYPE [id] [value]`: Type a string into the element with the id.\n" +
	"3. `SELECT [id] [value]`: Select a value for an HTML element by its id."

// StopTokens end a completion before the model starts a new example.
var StopTokens = []string{"Task:", "obs:"}

// contextFailure is the output recorded for a step whose required query alone
// exceeds the context limit.
const contextFailure = "FAILED DUE TO THE CONTEXT LIMIT: %d"

// Options tunes the acting loop.
type Options struct {
	Model        string
	Temperature  float32
	MaxTokens    int
	TopKElements int
	// HistoryWindow bounds the number of previous steps kept in the prompt; 0 keeps all.
	HistoryWindow int
}

// Runner evaluates episodes one step at a time against a Generator.
//
// Exemplars, when set, returns the demonstration examples for a sample; they
// are added to each step prompt in order while they fit. Log may be nil.
// Progress, when set, receives one event per step and per finished episode;
// events are dropped when the channel is full.
type Runner struct {
	Generator llm.Generator
	Counter   llm.TokenCounter
	Options   Options
	Exemplars func(types.Sample) []types.Example
	Log       *tasklog.Registry
	Progress  chan<- Progress
}

// turn is one previous step as replayed in the prompt.
type turn struct {
	obs    string
	action string
}

// EvalSample runs the acting loop over one sample and returns its metrics.
// The episode record is written through Log when set.
//
// Expectations:
//   - A step whose positive candidates all rank at or beyond TopKElements is a
//     full failure recorded as element_missing, and the model is not called
//   - Exemplars are added in order while the prompt fits the context
//   - When the query alone overflows, the oldest history turns are dropped
//   - When the current observation alone overflows, the step is a full
//     failure recorded as context_limit
//   - A bad-request generation error is a full failure recorded as
//     generation_failed; any other generation error is returned
//   - An episode abandoned by an error or cancellation is discarded from the
//     log registry without writing a file
//   - History always replays the ground-truth observation and action
//   - Success holds one entry: EpisodeSuccess over all steps
func (r *Runner) EvalSample(ctx context.Context, sample types.Sample) (tasklog.Metrics, error) {
	var m tasklog.Metrics
	el := r.Log.Open(sample.TaskID, sample.ConfirmedTask, sample.Website)
	counter := r.Counter
	if counter == nil {
		counter = llm.Estimator{}
	}
	limit := llm.MaxTokens(r.Options.Model)
	sys := []types.Message{{Role: "system", Content: SystemPrompt}}

	var exemplars []types.Example
	if r.Exemplars != nil {
		exemplars = r.Exemplars(sample)
	}

	fail := func(step int, reason string) {
		m.ElementAcc = append(m.ElementAcc, 0)
		m.ActionF1 = append(m.ActionF1, 0)
		m.StepSuccess = append(m.StepSuccess, 0)
		r.publish(Progress{TaskID: sample.TaskID, Step: step, Steps: len(sample.Steps), Skip: reason})
	}

	var history []turn
	for i, step := range sample.Steps {
		if err := ctx.Err(); err != nil {
			r.Log.Discard(sample.TaskID)
			return m, err
		}
		n := i + 1
		past := r.window(history)
		history = append(history, groundTruthTurn(step))

		if !hasCandidateWithin(step.PosCandidates, r.Options.TopKElements) {
			fail(n, tasklog.SkipElementMissing)
			el.StepSkipped(n, tasklog.SkipElementMissing, "ground truth element is not in the observation", nil)
			slog.Debug("[EVAL] element missing", "task_id", sample.TaskID, "step", n)
			continue
		}

		query, tokens, ok := fitQuery(counter, r.Options.Model, sys, sample.ConfirmedTask, past, step.Observation)
		if !ok {
			fail(n, tasklog.SkipContextLimit)
			el.StepSkipped(n, tasklog.SkipContextLimit, fmt.Sprintf(contextFailure, tokens), concat(sys, query))
			slog.Warn("[EVAL] context limit", "task_id", sample.TaskID, "step", n, "tokens", tokens, "limit", limit)
			continue
		}

		var demo []types.Message
		for j, ex := range exemplars {
			candidate := concat(sys, demo, ex, query)
			if counter.CountTokens(candidate, r.Options.Model) > limit {
				slog.Debug("[EVAL] exemplars trimmed", "task_id", sample.TaskID, "step", n, "used", j, "of", len(exemplars))
				break
			}
			demo = append(demo, ex...)
		}

		msgs := concat(sys, demo, query)
		response, usage, err := r.Generator.Generate(ctx, msgs, llm.Options{
			Model:       r.Options.Model,
			Temperature: r.Options.Temperature,
			Stop:        StopTokens,
			MaxTokens:   r.Options.MaxTokens,
		})
		if err != nil {
			if !llm.IsBadRequest(err) {
				r.Log.Discard(sample.TaskID)
				return m, fmt.Errorf("evaluate: %s step %d: %w", sample.TaskID, n, err)
			}
			fail(n, tasklog.SkipGenerationFailed)
			el.StepSkipped(n, tasklog.SkipGenerationFailed, err.Error(), msgs)
			slog.Warn("[EVAL] generation rejected", "task_id", sample.TaskID, "step", n, "error", err)
			continue
		}
		el.LLMCall(n, msgs, response, usage.PromptTokens, usage.CompletionTokens, usage.ElapsedMs)

		pred := llm.ExtractAction(response)
		predAct, _ := actions.ParseAct(pred)
		targetAct, _ := actions.ParseAct(step.TargetAction)

		acc := ElementAccuracy(predAct.ID, step.PosCandidates)
		f1 := ActionF1(actions.CanonicalString(predAct), actions.CanonicalString(targetAct))
		ss := StepSuccess(pred, step.TargetAction)
		m.ElementAcc = append(m.ElementAcc, acc)
		m.ActionF1 = append(m.ActionF1, f1)
		m.StepSuccess = append(m.StepSuccess, ss)
		el.Prediction(n, pred, step.TargetAction, acc, f1, ss)
		r.publish(Progress{TaskID: sample.TaskID, Step: n, Steps: len(sample.Steps), StepSuccess: ss})
	}

	m.Success = []int{EpisodeSuccess(m.StepSuccess, len(sample.Steps))}
	if err := r.Log.Close(sample.TaskID, m); err != nil {
		return m, err
	}
	slog.Info("[EVAL] episode done", "task_id", sample.TaskID, "steps", len(sample.Steps), "success", m.Success[0])
	r.publish(Progress{
		TaskID:      sample.TaskID,
		Steps:       len(sample.Steps),
		StepSuccess: sum(m.StepSuccess),
		Done:        true,
		Success:     m.Success[0],
	})
	return m, nil
}

// Run evaluates every sample in order and returns their metrics.
func (r *Runner) Run(ctx context.Context, samples []types.Sample) ([]tasklog.Metrics, error) {
	out := make([]tasklog.Metrics, 0, len(samples))
	for _, s := range samples {
		m, err := r.EvalSample(ctx, s)
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *Runner) window(history []turn) []turn {
	if w := r.Options.HistoryWindow; w > 0 && len(history) > w {
		return history[len(history)-w:]
	}
	return history
}

func groundTruthTurn(step types.EvalStep) turn {
	obs := step.TargetObservation
	if obs == "" {
		obs = step.Observation
	}
	return turn{
		obs:    "Observation: `" + obs + "`",
		action: "Action: `" + step.TargetAction + "` (" + step.ActionRepr + ")",
	}
}

func hasCandidateWithin(candidates []types.Candidate, topK int) bool {
	for _, c := range candidates {
		if c.Rank < topK {
			return true
		}
	}
	return false
}

// buildQuery lays out the replayed history and the current observation. The
// first user message always carries the task line.
func buildQuery(task string, past []turn, obs string) []types.Message {
	head := "Task: " + task + "\nTrajectory:\n"
	var q []types.Message
	for _, t := range past {
		content := t.obs
		if len(q) == 0 {
			content = head + content
		}
		q = append(q, types.Message{Role: "user", Content: content}, types.Message{Role: "assistant", Content: t.action})
	}
	current := "Observation: `" + obs + "`"
	if len(q) == 0 {
		current = head + current
	}
	return append(q, types.Message{Role: "user", Content: current})
}

// fitQuery builds the query, dropping the oldest history turns until the
// system message plus query fits the model's context. ok is false when even
// the bare observation does not fit; tokens is then its size.
func fitQuery(counter llm.TokenCounter, model string, sys []types.Message, task string, past []turn, obs string) (query []types.Message, tokens int, ok bool) {
	for {
		query = buildQuery(task, past, obs)
		n, err := llm.CheckContext(counter, concat(sys, query), model)
		if err == nil {
			return query, n, true
		}
		if len(past) == 0 {
			return query, n, false
		}
		past = past[1:]
	}
}

func concat(parts ...[]types.Message) []types.Message {
	var out []types.Message
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
