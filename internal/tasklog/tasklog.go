// Package tasklog records one structured log per evaluation episode.
//
// Each episode gets one JSONL file under the registry directory. Events capture
// every stage of the step loop: the prompt and response of each model call, the
// scored prediction, steps that were skipped without asking the model, and the
// four per-step metric lists at the end. The records are the substrate for score
// aggregation and online workflow induction.
//
// Design constraints:
//   - All EpisodeLog methods are nil-safe (no-op on nil receiver) so the
//     evaluator doesn't need nil checks before every log call.
//   - Registry is the sole owner of persistence; the evaluator never opens files.
//   - Events are buffered in memory and the file is written whole, atomically,
//     on Close, so an interrupted run leaves the previous record intact.
package tasklog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/agent-workflow-memory/internal/fsutil"
	"github.com/haricheung/agent-workflow-memory/internal/types"
)

// EventKind labels a single structured event in the episode log.
type EventKind string

const (
	KindEpisodeBegin EventKind = "episode_begin"
	KindEpisodeEnd   EventKind = "episode_end"
	KindLLMCall      EventKind = "llm_call"
	KindPrediction   EventKind = "prediction"
	KindStepSkipped  EventKind = "step_skipped"
)

// Reasons recorded on step_skipped events.
const (
	SkipElementMissing   = "element_missing"
	SkipContextLimit     = "context_limit"
	SkipGenerationFailed = "generation_failed"
)

// Metrics holds the four per-step metric lists of one episode. Success has a
// single entry: the episode-level outcome.
type Metrics struct {
	ElementAcc  []float64 `json:"element_acc"`
	ActionF1    []float64 `json:"action_f1"`
	StepSuccess []int     `json:"step_success"`
	Success     []int     `json:"success"`
}

// Event is one JSONL line in the episode log.
// Fields are omitempty so each event only serialises relevant data.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp string    `json:"ts"`

	// episode_begin / episode_end
	RunID       string   `json:"run_id,omitempty"`
	TaskID      string   `json:"task_id,omitempty"`
	Intent      string   `json:"intent,omitempty"`
	Website     string   `json:"website,omitempty"`
	ElapsedMs   int64    `json:"elapsed_ms,omitempty"`
	TotalTokens int      `json:"total_tokens,omitempty"`
	Metrics     *Metrics `json:"metrics,omitempty"` // episode_end only

	// llm_call / prediction / step_skipped
	Step int `json:"step,omitempty"` // 1-indexed

	// llm_call
	Input            []types.Message `json:"input,omitempty"`
	Output           string          `json:"output,omitempty"`
	PromptTokens     int             `json:"prompt_tokens,omitempty"`
	CompletionTokens int             `json:"completion_tokens,omitempty"`

	// prediction
	Predicted   string   `json:"pred_act,omitempty"`
	Target      string   `json:"target_act,omitempty"`
	ElementAcc  *float64 `json:"element_acc,omitempty"` // pointer: 0 must be serialised
	ActionF1    *float64 `json:"action_f1,omitempty"`
	StepSuccess *int     `json:"step_success,omitempty"`

	// step_skipped
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// EpisodeLog is a handle for recording structured events for one episode.
//
// Expectations:
//   - All methods are nil-safe (no-op when called on nil *EpisodeLog)
//   - Concurrent writes are safe (mutex-protected)
//   - TotalTokens returns the running sum of prompt+completion tokens across all LLMCall events
type EpisodeLog struct {
	taskID           string
	started          time.Time
	mu               sync.Mutex
	events           []Event
	calls            int
	promptTokens     int
	completionTokens int
}

// Registry maps task IDs to open EpisodeLogs.
// It is the sole authority for creating and writing episode log files.
//
// Expectations:
//   - Open records an episode_begin event as the first JSONL line
//   - Open returns the existing log when called twice for the same taskID
//   - Get returns nil for unknown task IDs
//   - Close appends episode_end with the metrics and writes the file atomically
//   - Close creates the log directory if absent
//   - Close removes the taskID from the registry so subsequent Get returns nil
//   - Close no-ops gracefully when taskID is not registered
//   - Discard removes the taskID without writing a file
type Registry struct {
	dir   string
	runID string
	mu    sync.Mutex
	logs  map[string]*EpisodeLog
}

// NewRegistry creates a Registry that writes one JSONL file per episode under dir.
// Every episode opened through it shares one generated run id.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:   dir,
		runID: uuid.NewString(),
		logs:  make(map[string]*EpisodeLog),
	}
}

// RunID returns the id stamped on every episode of this registry.
func (r *Registry) RunID() string {
	if r == nil {
		return ""
	}
	return r.runID
}

// Dir returns the directory episode files are written to.
func (r *Registry) Dir() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// Open creates a new EpisodeLog for taskID, records episode_begin, and registers it.
// Returns nil on a nil Registry.
func (r *Registry) Open(taskID, intent, website string) *EpisodeLog {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if el, ok := r.logs[taskID]; ok {
		return el
	}
	el := &EpisodeLog{taskID: taskID, started: time.Now()}
	r.logs[taskID] = el
	el.write(Event{
		Kind:    KindEpisodeBegin,
		RunID:   r.runID,
		TaskID:  taskID,
		Intent:  intent,
		Website: website,
	})
	return el
}

// Get returns the EpisodeLog for taskID, or nil if not found.
// Nil is safe to pass to all EpisodeLog methods.
func (r *Registry) Get(taskID string) *EpisodeLog {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs[taskID]
}

// Path returns the file an episode is written to.
func (r *Registry) Path(taskID string) string {
	return filepath.Join(r.dir, taskID+".jsonl")
}

// Close records episode_end with m, writes the whole log to disk, and removes
// the entry from the registry. Safe to call on a nil *Registry or unknown taskID.
func (r *Registry) Close(taskID string, m Metrics) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	el, ok := r.logs[taskID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.logs, taskID)
	r.mu.Unlock()

	el.write(Event{
		Kind:        KindEpisodeEnd,
		RunID:       r.runID,
		TaskID:      taskID,
		ElapsedMs:   time.Since(el.started).Milliseconds(),
		TotalTokens: el.TotalTokens(),
		Metrics:     &m,
	})

	data, err := el.encode()
	if err != nil {
		return err
	}
	path := r.Path(taskID)
	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		slog.Error("[TASKLOG] write episode", "path", path, "error", err)
		return fmt.Errorf("tasklog: %w", err)
	}
	slog.Debug("[TASKLOG] episode written", "task_id", taskID, "bytes", len(data), "path", path)
	return nil
}

// Discard removes taskID from the registry without writing anything to disk.
// Used for episodes abandoned before they produced metrics.
func (r *Registry) Discard(taskID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	_, ok := r.logs[taskID]
	delete(r.logs, taskID)
	r.mu.Unlock()
	if ok {
		slog.Debug("[TASKLOG] episode discarded", "task_id", taskID)
	}
}

// LLMCall records the full prompt, response, and token counts of one model call.
// step is 1-indexed.
func (el *EpisodeLog) LLMCall(step int, input []types.Message, output string, promptToks, completionToks int, elapsedMs int64) {
	if el == nil {
		return
	}
	el.mu.Lock()
	el.calls++
	el.promptTokens += promptToks
	el.completionTokens += completionToks
	el.mu.Unlock()
	el.write(Event{
		Kind:             KindLLMCall,
		Step:             step,
		Input:            input,
		Output:           output,
		PromptTokens:     promptToks,
		CompletionTokens: completionToks,
		ElapsedMs:        elapsedMs,
	})
}

// Prediction records one scored prediction against its target.
func (el *EpisodeLog) Prediction(step int, predicted, target string, elementAcc, actionF1 float64, stepSuccess int) {
	if el == nil {
		return
	}
	el.write(Event{
		Kind:        KindPrediction,
		Step:        step,
		Predicted:   predicted,
		Target:      target,
		ElementAcc:  &elementAcc,
		ActionF1:    &actionF1,
		StepSuccess: &stepSuccess,
	})
}

// StepSkipped records a step scored as a failure. For context_limit and
// generation_failed the prompt that was not (or could not be) answered is kept.
func (el *EpisodeLog) StepSkipped(step int, reason, detail string, input []types.Message) {
	if el == nil {
		return
	}
	el.write(Event{
		Kind:   KindStepSkipped,
		Step:   step,
		Reason: reason,
		Detail: detail,
		Input:  input,
	})
}

// Calls returns the number of LLMCall events recorded so far.
func (el *EpisodeLog) Calls() int {
	if el == nil {
		return 0
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.calls
}

// TotalTokens returns the total token count accumulated so far.
//
// Expectations:
//   - Returns 0 on nil receiver
//   - Returns sum of prompt and completion tokens from all LLMCall events
func (el *EpisodeLog) TotalTokens() int {
	if el == nil {
		return 0
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.promptTokens + el.completionTokens
}

// write appends one event to the buffer. Adds timestamp, mutex-protected.
func (el *EpisodeLog) write(e Event) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	el.mu.Lock()
	defer el.mu.Unlock()
	el.events = append(el.events, e)
}

func (el *EpisodeLog) encode() ([]byte, error) {
	el.mu.Lock()
	defer el.mu.Unlock()
	var buf bytes.Buffer
	for _, e := range el.events {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("tasklog: marshal event: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// ErrNoEpisodeEnd is returned when a record has no episode_end event, which
// means the episode never finished.
var ErrNoEpisodeEnd = errors.New("tasklog: episode_end missing")

// Episode is one episode record read back from disk.
type Episode struct {
	Events []Event
}

// ReadEpisode reads a JSONL episode file written by Registry.Close.
//
// Expectations:
//   - Returns the events in file order
//   - Blank lines are skipped
//   - A malformed line is an error naming the line number
func ReadEpisode(path string) (*Episode, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tasklog: %w", err)
	}
	defer f.Close()
	lines, err := fsutil.ReadLines(f)
	if err != nil {
		return nil, fmt.Errorf("tasklog: read %s: %w", path, err)
	}
	ep := &Episode{}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("tasklog: %s line %d: %w", path, i+1, err)
		}
		ep.Events = append(ep.Events, e)
	}
	return ep, nil
}

// TaskID returns the task id of the episode_begin event, or "".
func (ep *Episode) TaskID() string {
	for _, e := range ep.Events {
		if e.Kind == KindEpisodeBegin {
			return e.TaskID
		}
	}
	return ""
}

// Metrics returns the metric lists of the episode_end event.
func (ep *Episode) Metrics() (Metrics, error) {
	for i := len(ep.Events) - 1; i >= 0; i-- {
		if e := ep.Events[i]; e.Kind == KindEpisodeEnd && e.Metrics != nil {
			return *e.Metrics, nil
		}
	}
	return Metrics{}, ErrNoEpisodeEnd
}

// LLMCalls returns the llm_call events in order.
func (ep *Episode) LLMCalls() []Event {
	var out []Event
	for _, e := range ep.Events {
		if e.Kind == KindLLMCall {
			out = append(out, e)
		}
	}
	return out
}
