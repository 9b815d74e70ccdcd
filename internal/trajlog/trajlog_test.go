package trajlog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const thoughtLine = "2024-05-01 10:00:00,000 - " + Marker + " "

// buildLog renders thought/action pairs in the recorded log layout.
func buildLog(pairs ...[2]string) string {
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString("2024-05-01 10:00:00,000 - browsergym - INFO - Step\n")
		b.WriteString(thoughtLine + p[0] + "\n\n")
		b.WriteString("action:\n" + p[1] + "\n\n")
	}
	return b.String()
}

// --- Blocks ---

func TestBlocks_NoEmptyBlocks(t *testing.T) {
	// Consecutive blank lines never produce an empty block
	got := Blocks([]string{"a", "", "", "  ", "b", ""})
	if len(got) != 2 || got[0][0] != "a" || got[1][0] != "b" {
		t.Errorf("got %q", got)
	}
}

func TestBlocks_TrailingRunCounts(t *testing.T) {
	// A trailing run without a terminating blank line still counts
	got := Blocks([]string{"a", "", " b ", "c"})
	if len(got) != 2 || len(got[1]) != 2 || got[1][0] != "b" {
		t.Errorf("got %q", got)
	}
}

func TestBlocks_AllBlank(t *testing.T) {
	// Returns nil for input that has no non-blank line
	if got := Blocks([]string{"", "  "}); got != nil {
		t.Errorf("got %q, want nil", got)
	}
}

// --- Thought ---

func TestThought_TextAfterMarker(t *testing.T) {
	// Returns the text after the marker, trimmed
	got, err := Thought([]string{"header", thoughtLine + "  I should search.  "})
	if err != nil || got != "I should search." {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestThought_MissingMarker(t *testing.T) {
	// Returns ErrMarkerNotFound when the marker is absent
	if _, err := Thought([]string{"no marker here"}); !errors.Is(err, ErrMarkerNotFound) {
		t.Errorf("got %v, want ErrMarkerNotFound", err)
	}
}

// --- ParseSteps ---

func TestParseSteps_TwoSteps(t *testing.T) {
	log := buildLog(
		[2]string{"Find the search box.", "fill('12', 'shoes')"},
		[2]string{"Submit the query.", "click('13')"},
	)
	steps, rep, err := ParseSteps(strings.Split(log, "\n"))
	if err != nil {
		t.Fatalf("ParseSteps: %v", err)
	}
	if rep.Pairs != 2 || len(steps) != 2 {
		t.Fatalf("pairs=%d steps=%d", rep.Pairs, len(steps))
	}
	if steps[0].Thought != "Find the search box." || steps[0].Actions[0] != "fill('12', 'shoes')" {
		t.Errorf("step 0 = %+v", steps[0])
	}
	if steps[1].Actions[0] != "click('13')" {
		t.Errorf("step 1 = %+v", steps[1])
	}
}

func TestParseSteps_OddBlockCount(t *testing.T) {
	// An odd block count returns ErrMalformedLog
	lines := strings.Split(buildLog([2]string{"t", "click('1')"})+"stray block\n", "\n")
	if _, _, err := ParseSteps(lines); !errors.Is(err, ErrMalformedLog) {
		t.Errorf("got %v, want ErrMalformedLog", err)
	}
}

func TestParseSteps_HeaderLineNotAnAction(t *testing.T) {
	// The first line of each action block is a header and is never an action
	lines := []string{thoughtLine + "t", "", "click('1')", "click('2')"}
	steps, _, err := ParseSteps(lines)
	if err != nil {
		t.Fatalf("ParseSteps: %v", err)
	}
	if len(steps[0].Actions) != 1 || steps[0].Actions[0] != "click('2')" {
		t.Errorf("actions = %v", steps[0].Actions)
	}
}

func TestParseSteps_DropsEmptySteps(t *testing.T) {
	// Steps with no surviving action are dropped and recorded in the Report
	log := buildLog(
		[2]string{"Scroll down.", "scroll(0, 300)"},
		[2]string{"Click it.", "click('5')"},
	)
	steps, rep, err := ParseSteps(strings.Split(log, "\n"))
	if err != nil {
		t.Fatalf("ParseSteps: %v", err)
	}
	if len(steps) != 1 || steps[0].Thought != "Click it." {
		t.Errorf("steps = %+v", steps)
	}
	if len(rep.Steps) != 1 || rep.Steps[0].Index != 0 {
		t.Errorf("dropped steps = %+v", rep.Steps)
	}
	if len(rep.Dropped) != 1 || rep.Dropped[0].Raw != "scroll(0, 300)" {
		t.Errorf("dropped actions = %+v", rep.Dropped)
	}
}

func TestParseSteps_MissingMarker(t *testing.T) {
	// The thought of a kept step without the marker returns ErrMarkerNotFound
	lines := []string{"no marker", "", "action:", "click('1')"}
	_, _, err := ParseSteps(lines)
	if !errors.Is(err, ErrMarkerNotFound) {
		t.Errorf("got %v, want ErrMarkerNotFound", err)
	}
	if !strings.Contains(err.Error(), "step 0") {
		t.Errorf("error %q should name the step", err)
	}
}

func TestParseSteps_NoValidSteps(t *testing.T) {
	// A log whose every step is dropped returns ErrNoValidSteps
	log := buildLog([2]string{"Wait.", "noop()"})
	if _, _, err := ParseSteps(strings.Split(log, "\n")); !errors.Is(err, ErrNoValidSteps) {
		t.Errorf("got %v, want ErrNoValidSteps", err)
	}
}

// --- ParseFile ---

func TestParseFile_ReadsLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiment.log")
	os.WriteFile(path, []byte(buildLog([2]string{"Go.", "click('9')"})), 0o644)
	steps, _, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(steps) != 1 || steps[0].Actions[0] != "click('9')" {
		t.Errorf("steps = %+v", steps)
	}
}

func TestParseFile_ErrorNamesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiment.log")
	os.WriteFile(path, []byte("only one block\n"), 0o644)
	_, _, err := ParseFile(path)
	if !errors.Is(err, ErrMalformedLog) || !strings.Contains(err.Error(), path) {
		t.Errorf("got %v", err)
	}
}
