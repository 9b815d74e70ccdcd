// Package evaluate scores predicted actions against recorded ground truth and
// runs the per-step acting loop over evaluation episodes.
package evaluate

import (
	"strings"

	"github.com/haricheung/agent-workflow-memory/internal/types"
)

// ElementAccuracy is 1 when predID names the top-ranked positive candidate.
//
// Expectations:
//   - The candidate with the lowest rank is the target; the first one wins ties
//   - No candidates yields 0
//   - An empty predID yields 0
func ElementAccuracy(predID string, candidates []types.Candidate) float64 {
	if len(candidates) == 0 || predID == "" {
		return 0
	}
	top := candidates[0]
	for _, c := range candidates[1:] {
		if c.Rank < top.Rank {
			top = c
		}
	}
	if top.BackendNodeID == predID {
		return 1
	}
	return 0
}

// ActionF1 is the token-set F1 of two canonical action strings, tokens split
// on whitespace.
//
// Expectations:
//   - Both empty yields 1
//   - Exactly one empty yields 0
//   - "TYPE hello world" against "TYPE hello there" yields 2/3
//   - Duplicate tokens count once
func ActionF1(pred, target string) float64 {
	p := tokenSet(pred)
	t := tokenSet(target)
	if len(p) == 0 && len(t) == 0 {
		return 1
	}
	if len(p) == 0 || len(t) == 0 {
		return 0
	}
	tp := 0
	for tok := range p {
		if _, ok := t[tok]; ok {
			tp++
		}
	}
	if tp == 0 {
		return 0
	}
	precision := float64(tp) / float64(len(p))
	recall := float64(tp) / float64(len(t))
	return 2 * precision * recall / (precision + recall)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.Fields(s) {
		set[f] = struct{}{}
	}
	return set
}

// StepSuccess is 1 when the predicted action string equals the target exactly.
func StepSuccess(pred, target string) int {
	if pred == target {
		return 1
	}
	return 0
}

// EpisodeSuccess is 1 when every one of the last length step successes is 1.
//
// Expectations:
//   - [1,1,0,1] with length 4 yields 0
//   - [0,1,1,1] with length 3 yields 1
//   - A list shorter than length yields 0
//   - length 0 yields 1
func EpisodeSuccess(stepSuccess []int, length int) int {
	if length <= 0 {
		return 1
	}
	if len(stepSuccess) < length {
		return 0
	}
	for _, s := range stepSuccess[len(stepSuccess)-length:] {
		if s != 1 {
			return 0
		}
	}
	return 1
}
