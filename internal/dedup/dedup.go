// Package dedup reduces a set of trajectories to a task-diverse and
// strategy-diverse subset.
//
// Deduplication runs in two stages. Template grouping buckets trajectories by
// their task-template id and keeps up to PerTemplate of each, which removes
// repeated task instances. Signature grouping buckets the survivors by their
// abstract action signature and keeps up to PerSignature of each, which
// removes repeated solution strategies.
package dedup

import (
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/haricheung/agent-workflow-memory/internal/actions"
	"github.com/haricheung/agent-workflow-memory/internal/types"
)

// Groups is an insertion-ordered bucketing of trajectories. Keys are reported
// in the order they were first seen; each bucket is non-empty.
type Groups struct {
	keys    []string
	buckets map[string][]types.Trajectory
}

func newGroups() *Groups {
	return &Groups{buckets: make(map[string][]types.Trajectory)}
}

func (g *Groups) add(key string, t types.Trajectory) {
	if _, ok := g.buckets[key]; !ok {
		g.keys = append(g.keys, key)
	}
	g.buckets[key] = append(g.buckets[key], t)
}

// Keys returns the bucket keys in first-appearance order.
func (g *Groups) Keys() []string { return slices.Clone(g.keys) }

// Bucket returns the trajectories stored under key.
func (g *Groups) Bucket(key string) []types.Trajectory { return g.buckets[key] }

// Len returns the number of buckets.
func (g *Groups) Len() int { return len(g.keys) }

// GroupByTemplate buckets trajectories by TemplateID.
func GroupByTemplate(trajs []types.Trajectory) *Groups {
	g := newGroups()
	for _, t := range trajs {
		g.add(t.TemplateID, t)
	}
	return g
}

// GroupBySignature buckets trajectories by their abstract Signature.
func GroupBySignature(trajs []types.Trajectory) *Groups {
	g := newGroups()
	for _, t := range trajs {
		g.add(Signature(t), t)
	}
	return g
}

// Signature summarises a trajectory's action-type sequence. Each action
// contributes "op(arg)", where arg is the text between the first "(" and the
// next "," or ")"; a send-message action contributes only its operation name.
// Tokens are joined with "_".
//
// Expectations:
//   - click('12') contributes "click('12')"
//   - fill('7', 'hello') contributes "fill('7')"
//   - send_msg_to_user('done') contributes "send_msg_to_user"
//   - Trajectories differing only in typed values share a signature
//   - An action without "(" contributes its whole text
func Signature(t types.Trajectory) string {
	var parts []string
	for _, s := range t.Steps {
		for _, a := range s.Actions {
			parts = append(parts, signatureToken(a))
		}
	}
	return strings.Join(parts, "_")
}

func signatureToken(a string) string {
	op := actions.OpName(a)
	open := strings.Index(a, "(")
	if open < 0 || op == string(actions.OpSendMessage) {
		return op
	}
	rest := a[open+1:]
	end := strings.Index(rest, ",")
	if end < 0 {
		end = strings.Index(rest, ")")
	}
	if end < 0 {
		end = len(rest)
	}
	return op + "(" + rest[:end] + ")"
}

// Sample draws up to n trajectories from every bucket, uniformly and without
// replacement, and concatenates them in bucket order. Within a bucket the
// drawn trajectories keep their original relative order.
//
// Expectations:
//   - A bucket with fewer than n members contributes all of them
//   - n <= 0 is treated as 1
//   - Every bucket contributes at least one trajectory
//   - The same seed yields the same selection
func Sample(g *Groups, n int, rng *rand.Rand) []types.Trajectory {
	if n <= 0 {
		n = 1
	}
	var out []types.Trajectory
	for _, k := range g.keys {
		bucket := g.buckets[k]
		if len(bucket) <= n {
			out = append(out, bucket...)
			continue
		}
		idx := rng.Perm(len(bucket))[:n]
		slices.Sort(idx)
		for _, i := range idx {
			out = append(out, bucket[i])
		}
	}
	return out
}

// Options configures Deduplicate. Zero values fall back to 1.
type Options struct {
	PerTemplate  int `yaml:"per_template" json:"per_template"`
	PerSignature int `yaml:"per_signature" json:"per_signature"`
}

// Stats reports the trajectory counts around each stage.
type Stats struct {
	Input          int `json:"input"`
	Templates      int `json:"templates"`
	AfterTemplate  int `json:"after_template"`
	Signatures     int `json:"signatures"`
	AfterSignature int `json:"after_signature"`
}

// Deduplicate runs template grouping and then signature grouping.
//
// Expectations:
//   - Keeps at most PerTemplate trajectories per template id
//   - Keeps at most PerSignature trajectories per signature among the template survivors
//   - Stats counts match the lengths after each stage
//   - Empty input yields empty output and zero Stats
func Deduplicate(trajs []types.Trajectory, opts Options, rng *rand.Rand) ([]types.Trajectory, Stats) {
	st := Stats{Input: len(trajs)}
	if len(trajs) == 0 {
		return nil, st
	}
	byTemplate := GroupByTemplate(trajs)
	st.Templates = byTemplate.Len()
	survivors := Sample(byTemplate, opts.PerTemplate, rng)
	st.AfterTemplate = len(survivors)
	slog.Info("[DEDUP] template stage", "input", st.Input, "templates", st.Templates, "kept", st.AfterTemplate)

	bySignature := GroupBySignature(survivors)
	st.Signatures = bySignature.Len()
	out := Sample(bySignature, opts.PerSignature, rng)
	st.AfterSignature = len(out)
	slog.Info("[DEDUP] signature stage", "signatures", st.Signatures, "kept", st.AfterSignature)
	return out, st
}
