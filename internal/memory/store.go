package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB key prefix scheme. "|" separates the parts; model names may contain colons.
//
//	v|<model>|<sha256(text)> → JSON []float32   (embedding vector)
//	t|<model>|<sha256(text)> → text             (source text, for inspection)
const (
	prefixVector = "v|"
	prefixText   = "t|"
)

// VectorStore persists embedding vectors in LevelDB so repeated retrieval
// runs over the same workflow files do not re-embed them.
//
// Expectations:
//   - Get reports a miss (not an error) for unknown texts
//   - Vectors are namespaced by model: the same text under another model is a miss
//   - Put followed by Get returns the same vector
type VectorStore struct {
	db *leveldb.DB
}

// OpenVectorStore opens (or creates) a LevelDB database at dbPath.
// dbPath should be a directory path (LevelDB creates it if absent).
func OpenVectorStore(dbPath string) (*VectorStore, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("memory: open vector store %s: %w", dbPath, err)
	}
	return &VectorStore{db: db}, nil
}

// Close releases the database.
func (s *VectorStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the stored vector for text under model.
func (s *VectorStore) Get(model, text string) ([]float32, bool, error) {
	data, err := s.db.Get([]byte(vecKey(model, text)), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memory: get vector: %w", err)
	}
	var v []float32
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false, fmt.Errorf("memory: decode vector: %w", err)
	}
	return v, true, nil
}

// Put stores vecs[i] for texts[i] under model in one batch.
func (s *VectorStore) Put(model string, texts []string, vecs [][]float32) error {
	if len(texts) != len(vecs) {
		return fmt.Errorf("memory: put %d vectors for %d texts", len(vecs), len(texts))
	}
	batch := new(leveldb.Batch)
	for i, t := range texts {
		data, err := json.Marshal(vecs[i])
		if err != nil {
			return fmt.Errorf("memory: encode vector: %w", err)
		}
		h := textHash(t)
		batch.Put([]byte(prefixVector+safeKeyPart(model)+"|"+h), data)
		batch.Put([]byte(prefixText+safeKeyPart(model)+"|"+h), []byte(t))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("memory: write vectors: %w", err)
	}
	return nil
}

// Count returns the number of vectors stored under model.
func (s *VectorStore) Count(model string) (int, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixVector+safeKeyPart(model)+"|")), nil)
	defer iter.Release()
	n := 0
	for iter.Next() {
		n++
	}
	return n, iter.Error()
}

// CachedEmbedder serves vectors from a VectorStore and embeds only the misses.
// A nil store disables caching.
type CachedEmbedder struct {
	inner Embedder
	store *VectorStore
	model string
}

// NewCachedEmbedder wraps inner with store, namespacing vectors by model.
func NewCachedEmbedder(inner Embedder, store *VectorStore, model string) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, store: store, model: model}
}

// Embed returns one vector per text, calling the wrapped embedder once for
// all distinct uncached texts.
//
// Expectations:
//   - A fully cached batch makes no embedder call
//   - Duplicate uncached texts are embedded once
//   - Freshly embedded vectors are persisted for the next call
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.store == nil {
		return c.inner.Embed(ctx, texts)
	}
	out := make([][]float32, len(texts))
	missIdx := make(map[string][]int)
	var misses []string
	for i, t := range texts {
		v, ok, err := c.store.Get(c.model, t)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = v
			continue
		}
		if _, seen := missIdx[t]; !seen {
			misses = append(misses, t)
		}
		missIdx[t] = append(missIdx[t], i)
	}
	if len(misses) == 0 {
		slog.Debug("[MEMORY] embedding cache hit", "texts", len(texts))
		return out, nil
	}
	vecs, err := c.inner.Embed(ctx, misses)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(misses) {
		return nil, fmt.Errorf("memory: embedder returned %d vectors for %d texts", len(vecs), len(misses))
	}
	for j, t := range misses {
		for _, i := range missIdx[t] {
			out[i] = vecs[j]
		}
	}
	if err := c.store.Put(c.model, misses, vecs); err != nil {
		slog.Warn("[MEMORY] could not persist embeddings", "error", err)
	}
	slog.Debug("[MEMORY] embedding cache", "texts", len(texts), "embedded", len(misses))
	return out, nil
}

// vecKey returns the vector key for text under model.
func vecKey(model, text string) string {
	return prefixVector + safeKeyPart(model) + "|" + textHash(text)
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// safeKeyPart replaces "|" with "_" so LevelDB keys parse unambiguously.
func safeKeyPart(s string) string {
	return strings.ReplaceAll(s, "|", "_")
}
