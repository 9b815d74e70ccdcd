package llm

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/haricheung/agent-workflow-memory/internal/types"
)

// ErrContextOverflow is returned when a prompt cannot fit the model's context.
var ErrContextOverflow = errors.New("llm: context limit exceeded")

// DefaultMaxTokens is the context size assumed for models missing from the table.
const DefaultMaxTokens = 8192

// maxTokens is the per-model context table. Lookup falls back to the longest
// matching prefix, so dated snapshots resolve to their family.
var maxTokens = map[string]int{
	"gpt-3.5-turbo":     16385,
	"gpt-3.5-turbo-16k": 16385,
	"gpt-4":             8192,
	"gpt-4-32k":         32768,
	"gpt-4-turbo":       128000,
	"gpt-4o":            128000,
	"gpt-4o-mini":       128000,
	"gpt-4.1":           1047576,
	"deepseek-chat":     65536,
	"deepseek-reasoner": 65536,
}

// TokenCounter estimates the prompt size of a message list.
type TokenCounter interface {
	CountTokens(messages []types.Message, model string) int
}

// MaxTokens returns the context size of model.
//
// Expectations:
//   - Exact table entries are returned as is
//   - "gpt-4o-2024-08-06" resolves through the "gpt-4o" prefix
//   - Unknown models return DefaultMaxTokens
func MaxTokens(model string) int {
	if n, ok := maxTokens[model]; ok {
		return n
	}
	best, n := "", DefaultMaxTokens
	for k, v := range maxTokens {
		if strings.HasPrefix(model, k) && len(k) > len(best) {
			best, n = k, v
		}
	}
	return n
}

// Estimator is the heuristic TokenCounter: roughly four bytes per token for
// ASCII text and one token per non-ASCII rune, plus the chat framing overhead
// of three tokens per message and three for the reply.
type Estimator struct{}

// CountTokens implements TokenCounter.
func (Estimator) CountTokens(messages []types.Message, _ string) int {
	return EstimateTokens(messages)
}

// EstimateTokens applies the Estimator heuristic.
//
// Expectations:
//   - An empty list costs 3 tokens
//   - Each message adds 3 tokens of framing
//   - Longer content never costs fewer tokens
func EstimateTokens(messages []types.Message) int {
	n := 3
	for _, m := range messages {
		n += 3 + textTokens(m.Role) + textTokens(m.Content)
	}
	return n
}

func textTokens(s string) int {
	ascii, other := 0, 0
	for _, r := range s {
		if r < utf8.RuneSelf {
			ascii++
		} else {
			other++
		}
	}
	return (ascii+3)/4 + other
}

// CheckContext returns ErrContextOverflow when messages exceed model's context.
func CheckContext(counter TokenCounter, messages []types.Message, model string) (int, error) {
	n := counter.CountTokens(messages, model)
	if limit := MaxTokens(model); n > limit {
		return n, fmt.Errorf("%w: %d / %d tokens", ErrContextOverflow, n, limit)
	}
	return n, nil
}
