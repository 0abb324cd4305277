package rerank

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/amanmcp/internal/embed"
	"github.com/Aman-CERP/amanmcp/internal/search"
)

// DefaultDocCacheSize bounds EmbeddingReranker's document-embedding cache,
// following the same idiom as embed.CachedEmbedder.
const DefaultDocCacheSize = 2000

// EmbeddingReranker re-scores candidates with
// 0.5*rrf_score + 0.5*cosine_similarity(query_embedding, doc_embedding).
// It reuses whatever dense Embedder the vector backend already has
// configured, so it never needs its own model.
type EmbeddingReranker struct {
	Embedder embed.Embedder
	cache    *lru.Cache[string, []float32]
}

// NewEmbeddingReranker wraps embedder with a document-embedding cache.
func NewEmbeddingReranker(embedder embed.Embedder) *EmbeddingReranker {
	cache, _ := lru.New[string, []float32](DefaultDocCacheSize)
	return &EmbeddingReranker{Embedder: embedder, cache: cache}
}

var _ Reranker = (*EmbeddingReranker)(nil)

func (r *EmbeddingReranker) Rerank(ctx context.Context, query string, results []*search.SearchResult, topK int) ([]*search.SearchResult, error) {
	if r.Embedder == nil || len(results) == 0 {
		return results, nil
	}

	head, tail := splitTop(results, topK)

	qvec, err := r.Embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("rerank: query embedding failed, skipping embedding rerank", slog.String("error", err.Error()))
		return results, nil
	}

	texts := make([]string, 0, len(head))
	textIdx := make([]int, 0, len(head))
	for i, res := range head {
		if _, ok := r.docEmbedding(res); !ok {
			texts = append(texts, docText(res))
			textIdx = append(textIdx, i)
		}
	}
	if len(texts) > 0 {
		vecs, err := r.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			slog.Warn("rerank: document embedding batch failed, skipping embedding rerank", slog.String("error", err.Error()))
			return results, nil
		}
		for j, i := range textIdx {
			r.cache.Add(docKey(head[i]), vecs[j])
		}
	}

	reranked := make([]*search.SearchResult, len(head))
	for i, res := range head {
		dvec, ok := r.docEmbedding(res)
		c := res.Clone()
		if !ok {
			reranked[i] = c
			continue
		}
		cosine := cosineSimilarity(qvec, dvec)
		c.SetMeta(search.MetaOriginalFusionScore, c.Score)
		c.SetMeta(search.MetaCosineSimilarity, cosine)
		c.Score = 0.5*c.Score + 0.5*cosine
		c.SetMeta(search.MetaReranked, true)
		reranked[i] = c
	}

	sort.SliceStable(reranked, func(i, j int) bool { return reranked[i].Score > reranked[j].Score })

	out := make([]*search.SearchResult, 0, len(results))
	out = append(out, reranked...)
	out = append(out, tail...)
	return out, nil
}

func (r *EmbeddingReranker) docEmbedding(res *search.SearchResult) ([]float32, bool) {
	return r.cache.Get(docKey(res))
}

func docKey(res *search.SearchResult) string {
	sum := sha256.Sum256([]byte(res.Path + "\x00" + docText(res)))
	return hex.EncodeToString(sum[:])
}

func docText(res *search.SearchResult) string {
	if res.Content != "" {
		return res.Content
	}
	return res.Excerpt
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
