package workflow

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/haricheung/agent-workflow-memory/internal/trajlog"
	"github.com/haricheung/agent-workflow-memory/internal/types"
)

var sample = types.Trajectory{
	Query: "Buy running shoes",
	Steps: []types.Step{
		{Thought: "Search for shoes.", Actions: []string{"fill('12', 'running shoes')", "click('13')"}},
		{Thought: "Open the first result.", Actions: []string{"click('40')"}},
	},
}

// --- forward ---

func TestFormatTrajectory_Layout(t *testing.T) {
	// The first line is "Query: " + query; steps follow with no blank line in between
	got := FormatTrajectory(sample)
	want := "Query: Buy running shoes\n" +
		"<think>\nSearch for shoes.\n</think>\n<action>\nfill('12', 'running shoes')\nclick('13')\n</action>" +
		"\n\n" +
		"<think>\nOpen the first result.\n</think>\n<action>\nclick('40')\n</action>"
	if got != want {
		t.Errorf("got\n%s\nwant\n%s", got, want)
	}
}

func TestRender_HeaderAndSeparators(t *testing.T) {
	// Starts with "## Concrete Examples"; trajectories are separated by two blank lines
	got := Render([]types.Trajectory{sample, sample})
	if !strings.HasPrefix(got, ExamplesHeader+"\n\n\nQuery: ") {
		t.Errorf("unexpected prefix: %q", got[:40])
	}
	if strings.Count(got, "\n\n\nQuery: ") != 2 {
		t.Errorf("expected two trajectory separators in %q", got)
	}
}

func TestRender_Empty(t *testing.T) {
	// An empty input renders only the header
	if got := Render(nil); got != ExamplesHeader {
		t.Errorf("got %q", got)
	}
}

func TestFormatPrompt_Sections(t *testing.T) {
	got := FormatPrompt([]types.Trajectory{sample})
	if !strings.HasPrefix(got, ExamplesHeader+"\n\nQuery: Buy running shoes\nActions:\n<think>") {
		t.Errorf("unexpected prompt start: %q", got)
	}
	if !strings.HasSuffix(got, "</action>\n\n"+WorkflowsHeader) {
		t.Errorf("unexpected prompt end: %q", got)
	}
}

func TestFormatQueries_Numbered(t *testing.T) {
	// Each example renders "Query #i: task", "Actions and Environments:", its lines, then an empty line
	got := FormatQueries([]QueryExample{
		{Task: "Find a flight", ActionReprs: []string{"[button] Search -> CLICK"}},
		{Task: "Rent a car", ActionReprs: []string{"[link] Cars -> CLICK"}},
	}, "", QueriesSuffix)
	want := "Query #1: Find a flight\nActions and Environments:\n[button] Search -> CLICK\n\n" +
		"Query #2: Rent a car\nActions and Environments:\n[link] Cars -> CLICK\n" +
		"\n\n# Summary Workflows"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}

func TestFormatQueries_PrefixAndNoSuffix(t *testing.T) {
	// Empty prefix and suffix add nothing
	ex := []QueryExample{{Task: "t", ActionReprs: []string{"a"}}}
	if got := FormatQueries(ex, "", ""); got != "Query #1: t\nActions and Environments:\na\n" {
		t.Errorf("got %q", got)
	}
	if got := FormatQueries(ex, "P", ""); !strings.HasPrefix(got, "P\nQuery #1: t") {
		t.Errorf("got %q", got)
	}
}

func TestWebsitePrompt_TagsLine(t *testing.T) {
	got := WebsitePrompt(types.Tags{Domain: "Travel", Subdomain: "Airlines", Website: "delta"}, nil, "", "")
	if !strings.HasPrefix(got, "Website: Travel,Airlines,delta\n") {
		t.Errorf("got %q", got)
	}
}

// --- reverse ---

func TestParseTrajectories_InvertsRender(t *testing.T) {
	// Inverts Render: queries, thoughts, and actions are recovered in order
	other := types.Trajectory{Query: "Cancel order", Steps: []types.Step{{Thought: "Go to orders.", Actions: []string{"click('7')"}}}}
	got := ParseTrajectories(Render([]types.Trajectory{sample, other}))
	want := []types.Trajectory{sample, other}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v\nwant %+v", got, want)
	}
}

func TestParseTrajectories_NoTrajectory(t *testing.T) {
	// Returns nil for text without any trajectory
	if got := ParseTrajectories(ExamplesHeader); got != nil {
		t.Errorf("got %+v", got)
	}
}

func TestRoundTrip_LogParseFormatParse(t *testing.T) {
	// parse -> format -> parse yields equal (thought, actions) pairs
	marker := "2024-05-01 10:00:00,000 - " + trajlog.Marker + " "
	log := strings.Join([]string{
		"step header", marker + "Type the query.", "",
		"action:", "fill('3', 'laptops')", "scroll(0, 100)", "",
		"step header", marker + "Press search.", "",
		"action:", "click('4')", "",
	}, "\n")
	steps, _, err := trajlog.ParseSteps(strings.Split(log, "\n"))
	if err != nil {
		t.Fatalf("ParseSteps: %v", err)
	}
	parsed := ParseTrajectories(FormatTrajectory(types.Trajectory{Query: "q", Steps: steps}))
	if len(parsed) != 1 || !reflect.DeepEqual(parsed[0].Steps, steps) {
		t.Errorf("round trip mismatch:\n%+v\n%+v", parsed, steps)
	}
}

func TestCleanName(t *testing.T) {
	// The name is the text after the first colon, or the first backtick span
	cases := map[string]string{
		"Site: Foo":                   "## Foo",
		"Workflow `search_flights` x": "## search_flights",
		"Name: `book_car`":            "## book_car",
		"open `unterminated":          "## unterminated",
		"plain name":                  "## plain name",
	}
	for in, want := range cases {
		if got := CleanName(in); got != want {
			t.Errorf("CleanName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseBlocks_Example(t *testing.T) {
	// "## Site: Foo\nShort doc.\nstep one\nstep two" yields name "## Foo", docstring "Short doc."
	got := ParseBlocks("foo", "## Site: Foo\nShort doc.\nstep one\nstep two")
	want := []types.WorkflowBlock{{
		Site:      "foo",
		Name:      "## Foo",
		Docstring: "Short doc.",
		Content:   "## Foo\nShort doc.\nstep one\nstep two",
	}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v", got)
	}
}

func TestParseBlocks_SkipsShortBlocks(t *testing.T) {
	// Blocks with fewer than four lines are skipped
	text := "# Header\n\n## a\ndoc\none\ntwo\n\n## b\ndoc\nonly"
	got := ParseBlocks("s", text)
	if len(got) != 1 || got[0].Name != "## a" {
		t.Errorf("got %+v", got)
	}
}

func TestSiteFromPath(t *testing.T) {
	cases := map[string]string{
		"workflow/shopping_neural.txt": "shopping",
		"aa.txt":                       "aa",
		"/x/gitlab.v2_test.txt":        "gitlab",
	}
	for in, want := range cases {
		if got := SiteFromPath(in); got != want {
			t.Errorf("SiteFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reddit_v1.txt")
	os.WriteFile(path, []byte("## Post: `create_post`\nCreate a post.\nclick('1')\nfill('2', 'x')\n"), 0o644)
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(got) != 1 || got[0].Site != "reddit" || got[0].Name != "## create_post" {
		t.Errorf("got %+v", got)
	}
}

// --- FilterWebsite ---

func TestFilterWebsite_BetweenHeaderAndDelta(t *testing.T) {
	// Blocks up to and including the website header are dropped; the sentinel header and everything after it are dropped
	text := "preamble\n\n# Website: Amazon\n\n## wf1\na\nb\nc\n\n## wf2\nd\ne\nf\n\n# Delta\n\n## wf3\ng"
	got := FilterWebsite(text, "amazon")
	want := "## wf1\na\nb\nc\n\n## wf2\nd\ne\nf"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}

func TestFilterWebsite_NoHeader(t *testing.T) {
	// Without a website header every block is a candidate
	text := "## wf1\na\n\n## wf2\nb"
	if got := FilterWebsite(text, "amazon"); got != text {
		t.Errorf("got %q", got)
	}
}

func TestFilterWebsite_DropsDeltaMentions(t *testing.T) {
	// Any kept block containing "delta" in any case is dropped
	text := "## wf1\nuse the DELTA app\n\n## wf2\nb"
	if got := FilterWebsite(text, "amazon"); got != "## wf2\nb" {
		t.Errorf("got %q", got)
	}
}
