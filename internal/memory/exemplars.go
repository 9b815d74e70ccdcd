package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/haricheung/agent-workflow-memory/internal/types"
)

// LoadExemplars reads an exemplar corpus: a JSON array of examples, each an
// array of {"role", "content", "specifier"?} fragments.
func LoadExemplars(path string) ([]types.Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("memory: read exemplars: %w", err)
	}
	var corpus []types.Example
	if err := json.Unmarshal(data, &corpus); err != nil {
		return nil, fmt.Errorf("memory: parse exemplars %s: %w", path, err)
	}
	return corpus, nil
}

// Exemplars assembles the demonstration messages of an acting prompt: the
// workflow memory as one user message when non-empty, followed by up to k
// concrete examples chosen by SelectByTags.
//
// Expectations:
//   - The workflow text, trimmed, is the first exemplar when non-empty
//   - Whitespace-only workflow text adds no exemplar
//   - Concrete examples follow with specifiers stripped
func Exemplars(workflowText string, corpus []types.Example, tags types.Tags, k int, rng *rand.Rand) []types.Example {
	var out []types.Example
	if wt := strings.TrimSpace(workflowText); wt != "" {
		out = append(out, types.Example{{Role: "user", Content: wt}})
	}
	picked, level := SelectByTags(corpus, tags, k, rng)
	slog.Debug("[MEMORY] exemplars selected", "tags", tags.String(), "level", level, "count", len(picked))
	return append(out, picked...)
}

// SpecifierTexts returns each example's specifier, the text indexed by the
// exemplar-retrieval ablation.
func SpecifierTexts(corpus []types.Example) []string {
	out := make([]string, len(corpus))
	for i, ex := range corpus {
		out[i] = ex.Specifier()
	}
	return out
}

// RenderExample joins the message contents of one example by newline.
func RenderExample(ex types.Example) string {
	parts := make([]string, len(ex))
	for i, m := range ex {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n")
}
