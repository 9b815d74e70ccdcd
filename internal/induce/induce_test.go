package induce

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haricheung/agent-workflow-memory/internal/dedup"
	"github.com/haricheung/agent-workflow-memory/internal/llm"
	"github.com/haricheung/agent-workflow-memory/internal/tasklog"
	"github.com/haricheung/agent-workflow-memory/internal/trajlog"
	"github.com/haricheung/agent-workflow-memory/internal/types"
	"github.com/haricheung/agent-workflow-memory/internal/workflow"
)

// fakeGenerator returns a fixed response and records the last prompt.
type fakeGenerator struct {
	response string
	err      error
	prompt   string
	opts     llm.Options
}

func (g *fakeGenerator) Generate(_ context.Context, msgs []types.Message, opts llm.Options) (string, llm.Usage, error) {
	if len(msgs) > 0 {
		g.prompt = msgs[len(msgs)-1].Content
	}
	g.opts = opts
	return g.response, llm.Usage{}, g.err
}

// rejectAll declines every candidate.
type rejectAll struct{ seen int }

func (r *rejectAll) Review(context.Context, string) (bool, error) {
	r.seen++
	return false, nil
}

func newRand() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func logText(thought, action string) string {
	return "2024-05-01 10:00:00,000 - step\n" +
		"2024-05-01 10:00:00,000 - " + trajlog.Marker + " " + thought + "\n\n" +
		"action:\n" + action + "\n\n"
}

// resultsFixture lays out a results root and a config directory:
//
//	webarena.1     gt success, autoeval success
//	webarena.2_b   gt failure, autoeval failure
//	webarena.3     gt success, no autoeval record, malformed log
//	nodot          gt success, bad name
func resultsFixture(t *testing.T) (root, configDir string) {
	t.Helper()
	base := t.TempDir()
	root = filepath.Join(base, "results")
	configDir = filepath.Join(base, "config_files")

	write(t, filepath.Join(configDir, "1.json"), `{"intent": "find the cheapest tv", "intent_template_id": 7, "sites": ["shopping"]}`)
	write(t, filepath.Join(configDir, "2.json"), `{"intent": "x", "intent_template_id": 8, "sites": ["shopping"]}`)
	write(t, filepath.Join(configDir, "3.json"), `{"intent": "y", "intent_template_id": 9, "sites": ["shopping"]}`)

	d1 := filepath.Join(root, "webarena.1")
	write(t, filepath.Join(d1, "summary_info.json"), `{"cum_reward": 1.0}`)
	write(t, filepath.Join(d1, "gpt-4o_autoeval.json"), `[{"rm": true}]`)
	write(t, filepath.Join(d1, LogFile), logText("search for tv", "fill('12', 'tv')")+logText("done", "send_msg_to_user('TV-1')"))

	d2 := filepath.Join(root, "webarena.2_b")
	write(t, filepath.Join(d2, "summary_info.json"), `{"cum_reward": 0}`)
	write(t, filepath.Join(d2, "gpt-4o_autoeval.json"), `[{"rm": false}]`)
	write(t, filepath.Join(d2, LogFile), logText("t", "click('1')"))

	d3 := filepath.Join(root, "webarena.3")
	write(t, filepath.Join(d3, "summary_info.json"), `{"cum_reward": 1}`)
	write(t, filepath.Join(d3, LogFile), "only one block\n")

	d4 := filepath.Join(root, "nodot")
	write(t, filepath.Join(d4, "summary_info.json"), `{"cum_reward": 1}`)
	return root, configDir
}

// --- TaskID ---

func TestTaskID(t *testing.T) {
	cases := map[string]string{"webarena.42": "42", "webarena.42_retry": "42", "a.b.c": "b"}
	for in, want := range cases {
		if got, err := TaskID(in); err != nil || got != want {
			t.Errorf("TaskID(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := TaskID("nodot"); err == nil {
		t.Error("expected error for name without a dot")
	}
}

// --- Collect ---

func TestCollect_GroundTruth(t *testing.T) {
	// gt selects non-zero cum_reward; bad names and malformed logs become Skips
	root, cfg := resultsFixture(t)
	c, err := Collect(CollectOptions{ResultDirs: []string{root}, ConfigDir: cfg, Criteria: CriteriaGT})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(c.Trajectories) != 1 {
		t.Fatalf("trajectories = %+v", c.Trajectories)
	}
	tr := c.Trajectories[0]
	if tr.Query != "find the cheapest tv" || tr.TemplateID != "7" || tr.Site != "shopping" || len(tr.Steps) != 2 {
		t.Errorf("trajectory = %+v", tr)
	}
	if len(c.Skips) != 2 {
		t.Errorf("skips = %+v", c.Skips)
	}
	if c.Site != "shopping" {
		t.Errorf("site = %q", c.Site)
	}
}

func TestCollect_Autoeval(t *testing.T) {
	// autoeval selects rm true; an episode without an autoeval record is not selected
	root, cfg := resultsFixture(t)
	c, err := Collect(CollectOptions{ResultDirs: []string{root}, ConfigDir: cfg, Criteria: CriteriaAutoeval, Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(c.Trajectories) != 1 || len(c.Skips) != 0 {
		t.Errorf("trajectories=%d skips=%+v", len(c.Trajectories), c.Skips)
	}
}

func TestCollect_Errors(t *testing.T) {
	if _, err := Collect(CollectOptions{Criteria: "judge"}); !errors.Is(err, ErrUnknownCriteria) {
		t.Errorf("got %v", err)
	}
	if _, err := Collect(CollectOptions{ResultDirs: []string{filepath.Join(t.TempDir(), "missing")}, Criteria: CriteriaGT}); err == nil {
		t.Error("expected error for missing results root")
	}
}

// --- Rule ---

func traj(template, site, query string, actions ...string) types.Trajectory {
	steps := make([]types.Step, len(actions))
	for i, a := range actions {
		steps[i] = types.Step{Thought: "think " + a, Actions: []string{a}}
	}
	return types.Trajectory{Query: query, TemplateID: template, Site: site, Steps: steps}
}

func TestRule_WritesAcceptedAfterDedup(t *testing.T) {
	out := filepath.Join(t.TempDir(), "wf", "shopping.txt")
	trajs := []types.Trajectory{
		traj("1", "shopping", "q1", "click('3')"),
		traj("1", "shopping", "q1 again", "click('4')"),
		traj("2", "shopping", "q2", "fill('5', 'tv')"),
	}
	rep, err := Rule(context.Background(), trajs, RuleOptions{Output: out}, newRand())
	if err != nil {
		t.Fatalf("Rule: %v", err)
	}
	if rep.Dedup.AfterTemplate != 2 || rep.Accepted != 2 || rep.RunID == "" {
		t.Errorf("report = %+v", rep)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.HasPrefix(text, workflow.ExamplesHeader+"\n\n\nQuery: ") || !strings.Contains(text, "Query: q2\n<think>") {
		t.Errorf("file = %q", text)
	}
	// the written file parses back into the accepted trajectories
	if got := workflow.ParseTrajectories(text); len(got) != 2 {
		t.Errorf("parsed %d trajectories", len(got))
	}
}

func TestRule_ReviewerRejects(t *testing.T) {
	// Only reviewer-accepted trajectories are written
	out := filepath.Join(t.TempDir(), "x.txt")
	r := &rejectAll{}
	rep, err := Rule(context.Background(), []types.Trajectory{traj("1", "s", "q", "click('1')")}, RuleOptions{Output: out, Reviewer: r, Dedup: dedup.Options{PerTemplate: 1}}, newRand())
	if err != nil {
		t.Fatalf("Rule: %v", err)
	}
	if r.seen != 1 || rep.Accepted != 0 {
		t.Errorf("seen=%d report=%+v", r.seen, rep)
	}
	if data, _ := os.ReadFile(out); string(data) != workflow.ExamplesHeader {
		t.Errorf("file = %q", data)
	}
}

// --- Neural ---

func TestNeural_PromptAndHints(t *testing.T) {
	out := filepath.Join(t.TempDir(), "shopping_neural.txt")
	gen := &fakeGenerator{response: "<think>hmm</think>## search_item\nSearch for an item."}
	opts := NeuralOptions{
		PerTemplate: 1,
		Prompt:      Prompt{Instruction: "INSTR", OneShot: "SHOT"},
		Model:       "gpt-4o",
		Temperature: 1,
		MaxTokens:   2048,
		Output:      out,
	}
	trajs := []types.Trajectory{traj("1", "shopping", "q1", "click('3')")}
	if _, err := Neural(context.Background(), gen, trajs, opts, newRand()); err != nil {
		t.Fatalf("Neural: %v", err)
	}
	if !strings.HasPrefix(gen.prompt, "INSTR\n\nSHOT\n\n"+workflow.ExamplesHeader) || !strings.HasSuffix(gen.prompt, workflow.WorkflowsHeader) {
		t.Errorf("prompt = %q", gen.prompt)
	}
	if gen.opts.MaxTokens != 2048 || gen.opts.Temperature != 1 {
		t.Errorf("opts = %+v", gen.opts)
	}
	data, _ := os.ReadFile(out)
	if string(data) != "## search_item\nSearch for an item."+workflow.ActionHints {
		t.Errorf("file = %q", data)
	}
}

func TestNeural_GenerationErrorWritesNothing(t *testing.T) {
	// A generation error is returned and nothing is written
	out := filepath.Join(t.TempDir(), "n.txt")
	gen := &fakeGenerator{err: errors.New("down")}
	if _, err := Neural(context.Background(), gen, nil, NeuralOptions{Output: out}, newRand()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("file exists: %v", err)
	}
}

func TestDefaultOutput(t *testing.T) {
	if got := DefaultOutput("shopping", "neural"); got != filepath.Join("workflow", "shopping_neural.txt") {
		t.Errorf("got %q", got)
	}
	if got := DefaultOutput("shopping", ""); got != filepath.Join("workflow", "shopping.txt") {
		t.Errorf("got %q", got)
	}
}

func TestRule_EmptyOutputFallsBackToDefault(t *testing.T) {
	// With no output path the workflows land in workflow/<site>.txt
	t.Chdir(t.TempDir())
	rep, err := Rule(context.Background(), []types.Trajectory{traj("1", "shopping", "q", "click('1')")}, RuleOptions{}, newRand())
	if err != nil {
		t.Fatalf("Rule: %v", err)
	}
	if rep.Output != DefaultOutput("shopping", "") {
		t.Errorf("output = %q", rep.Output)
	}
	if _, err := os.Stat(rep.Output); err != nil {
		t.Errorf("default file not written: %v", err)
	}
}

// --- Offline / Online ---

const response = "# aa\n\n## find_flight\nSearch a flight.\n[combobox] From -> TYPE: {city}\n[button] Search -> CLICK\n\n# delta\n\n## other\nx\ny\nz"

func TestOffline_WebsitePrompt(t *testing.T) {
	dir := t.TempDir()
	tags := types.Tags{Domain: "Travel", Subdomain: "Airlines", Website: "aa"}
	set := TrainSet{}
	set.Add(types.TrainExample{ConfirmedTask: "book a flight", Domain: "Travel", Subdomain: "Airlines", Website: "aa", ActionReprs: []string{"[button] Go -> CLICK"}})
	gen := &fakeGenerator{response: response}
	rep, err := Offline(context.Background(), gen, set, tags, WebsiteOptions{Suffix: workflow.QueriesSuffix, OutputDir: dir, OutputSuffix: "v1", MaxTokens: 1024})
	if err != nil {
		t.Fatalf("Offline: %v", err)
	}
	if !strings.HasPrefix(gen.prompt, "Website: Travel,Airlines,aa\nQuery #1: book a flight") {
		t.Errorf("prompt = %q", gen.prompt)
	}
	if rep.Output != filepath.Join(dir, "aa_v1.txt") || rep.Accepted != 1 {
		t.Errorf("report = %+v", rep)
	}
	data, _ := os.ReadFile(rep.Output)
	if strings.Contains(string(data), "delta") || !strings.HasPrefix(string(data), "## find_flight") {
		t.Errorf("file = %q", data)
	}
}

func TestOffline_UnknownTags(t *testing.T) {
	if _, err := Offline(context.Background(), &fakeGenerator{}, TrainSet{}, types.Tags{Website: "x"}, WebsiteOptions{}); !errors.Is(err, ErrNoTrainExamples) {
		t.Errorf("err = %v, want ErrNoTrainExamples", err)
	}
}

func TestOffline_SiblingExamplesNotBorrowed(t *testing.T) {
	// A website without its own examples fails and names the nearest level; siblings are never used
	set := TrainSet{}
	set.Add(types.TrainExample{ConfirmedTask: "a", Domain: "Travel", Subdomain: "Airlines", Website: "united"})
	gen := &fakeGenerator{response: "x"}
	_, err := Offline(context.Background(), gen, set, types.Tags{Domain: "Travel", Subdomain: "Airlines", Website: "delta"}, WebsiteOptions{OutputDir: t.TempDir()})
	if !errors.Is(err, ErrNoTrainExamples) || !strings.Contains(err.Error(), "subdomain") {
		t.Errorf("err = %v", err)
	}
	if gen.prompt != "" {
		t.Error("generator must not be called")
	}
}

func TestLoadTrainSet_GroupsByTags(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "train_0.json"), `[{"confirmed_task":"a","domain":"D","subdomain":"S","website":"w1","action_reprs":["x"]},
		{"confirmed_task":"b","domain":"D","subdomain":"S","website":"w2","action_reprs":[]}]`)
	write(t, filepath.Join(dir, "train_1.json"), `[{"confirmed_task":"c","domain":"D","subdomain":"S","website":"w1","action_reprs":[]}]`)
	set, err := LoadTrainSet(dir)
	if err != nil {
		t.Fatalf("LoadTrainSet: %v", err)
	}
	w1 := set[types.Tags{Domain: "D", Subdomain: "S", Website: "w1"}]
	if len(set) != 2 || len(w1) != 2 || w1[1].ConfirmedTask != "c" {
		t.Errorf("set = %+v", set)
	}
}

func TestOnline_FromEpisodes(t *testing.T) {
	logDir := t.TempDir()
	reg := tasklog.NewRegistry(logDir)
	el := reg.Open("s1", "book", "aa")
	el.LLMCall(1, []types.Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "Observation: `page`"}}, "Action: `CLICK [3]`", 1, 1, 0)
	reg.Close("s1", tasklog.Metrics{})
	reg.Open("orphan", "", "")
	reg.Close("orphan", tasklog.Metrics{})

	eps, err := ReadEpisodes(logDir)
	if err != nil || len(eps) != 2 {
		t.Fatalf("episodes=%d err=%v", len(eps), err)
	}
	samples := []types.Sample{{TaskID: "s1", ConfirmedTask: "book a flight", Domain: "Travel", Subdomain: "Airlines", Website: "aa"}}
	gen := &fakeGenerator{response: response}
	out := filepath.Join(t.TempDir(), "aa.txt")
	rep, err := Online(context.Background(), gen, samples, eps, WebsiteOptions{Output: out})
	if err != nil {
		t.Fatalf("Online: %v", err)
	}
	want := "Website: Travel, Airlines, aa\nQuery #1: book a flight\nActions and Environments:\n# Observation: `page`\nAction: `CLICK [3]`\n"
	if gen.prompt != want {
		t.Errorf("prompt = %q\nwant %q", gen.prompt, want)
	}
	if len(rep.Skips) != 1 || rep.Skips[0].Dir != "orphan" {
		t.Errorf("skips = %+v", rep.Skips)
	}
	if err := WriteReport(rep); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	if _, err := os.Stat(strings.TrimSuffix(out, ".txt") + ".report.json"); err != nil {
		t.Error(err)
	}
}

func TestOnline_NoSamples(t *testing.T) {
	if _, err := Online(context.Background(), &fakeGenerator{}, nil, nil, WebsiteOptions{}); err == nil {
		t.Error("expected error")
	}
}

func TestPrompt_BuildSkipsEmpty(t *testing.T) {
	if got := (Prompt{OneShot: "S"}).Build("B"); got != "S\n\nB" {
		t.Errorf("got %q", got)
	}
}
