package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/haricheung/agent-workflow-memory/internal/types"
)

// ErrEmptyCorpus is returned when an index is built over zero texts.
var ErrEmptyCorpus = errors.New("memory: empty retrieval corpus")

// Embedder turns texts into vectors. All vectors from one Embedder share a
// dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher answers nearest-neighbour queries. Hits are ordered by ascending
// score; lower means more similar.
type Searcher interface {
	Query(ctx context.Context, text string, k int) ([]types.Hit, error)
}

// Index is an exact nearest-neighbour index over embedded texts. Hit IDs are
// positions in the text slice given to NewIndex.
type Index struct {
	embedder Embedder
	vecs     [][]float32
}

// NewIndex embeds texts and builds an index over them.
//
// Expectations:
//   - Returns ErrEmptyCorpus for zero texts without calling the embedder
//   - Returns an error when the embedder returns a different number of vectors
func NewIndex(ctx context.Context, embedder Embedder, texts []string) (*Index, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyCorpus
	}
	vecs, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("memory: embed corpus: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("memory: embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	return &Index{embedder: embedder, vecs: vecs}, nil
}

// Len returns the number of indexed texts.
func (ix *Index) Len() int { return len(ix.vecs) }

// Query returns the k indexed texts nearest to text by squared Euclidean
// distance. Equal distances are ordered by ID.
//
// Expectations:
//   - Hits are sorted by ascending score
//   - Returns at most min(k, Len()) hits
//   - An exact duplicate of an indexed text scores 0
func (ix *Index) Query(ctx context.Context, text string, k int) ([]types.Hit, error) {
	qv, err := ix.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("memory: embedder returned %d vectors for 1 query", len(qv))
	}
	hits := make([]types.Hit, len(ix.vecs))
	for i, v := range ix.vecs {
		hits[i] = types.Hit{ID: i, Score: squaredL2(qv[0], v)}
	}
	sortHits(hits)
	if k < len(hits) {
		hits = hits[:max(k, 0)]
	}
	return hits, nil
}

func squaredL2(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	for _, x := range a[n:] {
		sum += float64(x) * float64(x)
	}
	for _, x := range b[n:] {
		sum += float64(x) * float64(x)
	}
	return sum
}

func sortHits(hits []types.Hit) {
	slices.SortStableFunc(hits, func(a, b types.Hit) int {
		return cmp.Or(cmp.Compare(a.Score, b.Score), cmp.Compare(a.ID, b.ID))
	})
}
