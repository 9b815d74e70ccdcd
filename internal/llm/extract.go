package llm

import "strings"

// StripThinkBlocks removes all <think>...</think> blocks from s.
// Reasoning models emit these before their answer; they are never part of
// the action or workflow text.
//
// Expectations:
//   - Removes a single <think>...</think> block
//   - Removes multiple <think>...</think> blocks
//   - Strips an unclosed <think> block from its start to end of string
//   - Returns s unchanged when no <think> tag is present
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// ExtractAction returns the predicted action in a model response: the text
// inside the first pair of backticks, or the whole trimmed response when no
// such pair exists.
//
// Expectations:
//   - "Action: `CLICK [12]` (button)" yields "CLICK [12]"
//   - A response with one backtick is returned trimmed
//   - Reasoning blocks are stripped first
func ExtractAction(response string) string {
	s := StripThinkBlocks(response)
	start := strings.Index(s, "`")
	if start < 0 {
		return s
	}
	end := strings.Index(s[start+1:], "`")
	if end < 0 {
		return s
	}
	return s[start+1 : start+1+end]
}
