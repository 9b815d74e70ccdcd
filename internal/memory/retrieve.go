package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/haricheung/agent-workflow-memory/internal/types"
)

// MergeTopK pools hits from several queries, sorts them by ascending score,
// and keeps the global top k. An ID hit by more than one query keeps its best
// score and appears once, unlike a plain pool that would repeat it and let
// one workflow fill several of the k slots.
//
// Expectations:
//   - A: [(1,0.2),(2,0.5)], B: [(3,0.1)], k=2 yields [(3,0.1),(1,0.2)]
//   - Duplicate IDs keep the lowest score
//   - Returns fewer than k hits when the pool is smaller
//   - k <= 0 returns nil
func MergeTopK(lists [][]types.Hit, k int) []types.Hit {
	if k <= 0 {
		return nil
	}
	best := make(map[int]float64)
	var order []int
	for _, hits := range lists {
		for _, h := range hits {
			s, seen := best[h.ID]
			if !seen {
				order = append(order, h.ID)
				best[h.ID] = h.Score
			} else if h.Score < s {
				best[h.ID] = h.Score
			}
		}
	}
	pool := make([]types.Hit, len(order))
	for i, id := range order {
		pool[i] = types.Hit{ID: id, Score: best[id]}
	}
	sortHits(pool)
	if len(pool) > k {
		pool = pool[:k]
	}
	return pool
}

// Retrieve queries s once per query string, k hits each, and merges the
// results with MergeTopK.
func Retrieve(ctx context.Context, s Searcher, queries []string, k int) ([]types.Hit, error) {
	lists := make([][]types.Hit, 0, len(queries))
	for _, q := range queries {
		hits, err := s.Query(ctx, q, k)
		if err != nil {
			return nil, fmt.Errorf("memory: query %q: %w", q, err)
		}
		lists = append(lists, hits)
	}
	merged := MergeTopK(lists, k)
	if len(merged) > 0 {
		slog.Info("[MEMORY] retrieved", "queries", len(queries), "k", k, "kept", len(merged), "best_id", merged[0].ID, "best_score", merged[0].Score)
	}
	return merged, nil
}

// WorkflowTexts returns the "{name}\n{docstring}" text indexed for each block.
func WorkflowTexts(blocks []types.WorkflowBlock) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.Name + "\n" + b.Docstring
	}
	return out
}

// RandomWorkflows samples up to k blocks uniformly without replacement.
func RandomWorkflows(blocks []types.WorkflowBlock, k int, rng *rand.Rand) []types.WorkflowBlock {
	if len(blocks) == 0 {
		return nil
	}
	return sample(blocks, k, rng)
}

// Retrieval modes understood by SelectWorkflows.
const (
	ModeRandom   = "random"
	ModeSemantic = "semantic"
)

// SelectWorkflows picks the workflow blocks placed in an acting prompt.
// Random mode ignores queries; semantic mode indexes WorkflowTexts and
// retrieves the global top k across queries.
//
// Expectations:
//   - Unknown modes return an error
//   - Semantic mode over zero blocks returns ErrEmptyCorpus
//   - Semantic results follow the merged ranking order
func SelectWorkflows(ctx context.Context, mode string, embedder Embedder, blocks []types.WorkflowBlock, queries []string, k int, rng *rand.Rand) ([]types.WorkflowBlock, error) {
	switch mode {
	case ModeRandom:
		return RandomWorkflows(blocks, k, rng), nil
	case ModeSemantic:
		ix, err := NewIndex(ctx, embedder, WorkflowTexts(blocks))
		if err != nil {
			return nil, err
		}
		hits, err := Retrieve(ctx, ix, queries, k)
		if err != nil {
			return nil, err
		}
		out := make([]types.WorkflowBlock, len(hits))
		for i, h := range hits {
			out[i] = blocks[h.ID]
		}
		return out, nil
	}
	return nil, fmt.Errorf("memory: unknown retrieval mode %q", mode)
}

// SelectExamples is the ablation path: it indexes the corpus by specifier
// text and returns the examples nearest to the queries.
func SelectExamples(ctx context.Context, embedder Embedder, corpus []types.Example, queries []string, k int) ([]types.Example, error) {
	ix, err := NewIndex(ctx, embedder, SpecifierTexts(corpus))
	if err != nil {
		return nil, err
	}
	hits, err := Retrieve(ctx, ix, queries, k)
	if err != nil {
		return nil, err
	}
	out := make([]types.Example, len(hits))
	for i, h := range hits {
		out[i] = corpus[h.ID]
	}
	return out, nil
}
