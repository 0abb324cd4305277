package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanmcp/internal/search"
)

type fakeEmbedder struct {
	dims      int
	vecs      map[string][]float32
	embedErr  error
	batchErr  error
	batchCalls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	return make([]float32, f.dims), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.batchCalls++
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int   { return f.dims }
func (f *fakeEmbedder) ModelName() string { return "fake-embedder" }

func resultWithContent(path, content string, score float64) *search.SearchResult {
	return &search.SearchResult{Path: path, Content: content, Score: score}
}

func TestEmbeddingReranker_ReordersByCosineSimilarity(t *testing.T) {
	embedder := &fakeEmbedder{
		dims: 3,
		vecs: map[string][]float32{
			"query":        {1, 0, 0},
			"close match":  {1, 0, 0},
			"distant match": {0, 1, 0},
		},
	}
	r := NewEmbeddingReranker(embedder)

	results := []*search.SearchResult{
		resultWithContent("a.go", "distant match", 0.9),
		resultWithContent("b.go", "close match", 0.1),
	}

	out, err := r.Rerank(context.Background(), "query", results, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b.go", out[0].Path)
	assert.Equal(t, "a.go", out[1].Path)
	assert.True(t, out[0].Metadata[search.MetaReranked].(bool))
}

func TestEmbeddingReranker_NilEmbedderPassesThrough(t *testing.T) {
	r := &EmbeddingReranker{}
	results := []*search.SearchResult{resultWithContent("a.go", "x", 1)}

	out, err := r.Rerank(context.Background(), "query", results, 0)
	require.NoError(t, err)
	assert.Equal(t, results, out)
}

func TestEmbeddingReranker_QueryEmbedFailureReturnsOriginal(t *testing.T) {
	embedder := &fakeEmbedder{dims: 3, embedErr: errors.New("boom")}
	r := NewEmbeddingReranker(embedder)
	results := []*search.SearchResult{resultWithContent("a.go", "x", 1)}

	out, err := r.Rerank(context.Background(), "query", results, 0)
	require.NoError(t, err)
	assert.Equal(t, results, out)
}

func TestEmbeddingReranker_RespectsTopKTail(t *testing.T) {
	embedder := &fakeEmbedder{
		dims: 2,
		vecs: map[string][]float32{
			"query": {1, 0},
			"doc1":  {0, 1},
		},
	}
	r := NewEmbeddingReranker(embedder)

	results := []*search.SearchResult{
		resultWithContent("a.go", "doc1", 0.5),
		resultWithContent("b.go", "doc2", 0.4),
		resultWithContent("c.go", "doc3", 0.3),
	}

	out, err := r.Rerank(context.Background(), "query", results, 1)
	require.NoError(t, err)
	require.Len(t, out, 3)
	// tail entries (index 1 onward) pass through unmodified and unreranked
	assert.Equal(t, "b.go", out[1].Path)
	assert.Equal(t, "c.go", out[2].Path)
}

func TestEmbeddingReranker_CachesDocumentEmbeddings(t *testing.T) {
	embedder := &fakeEmbedder{dims: 2, vecs: map[string][]float32{"query": {1, 0}}}
	r := NewEmbeddingReranker(embedder)

	results := []*search.SearchResult{resultWithContent("a.go", "same content", 0.5)}

	_, err := r.Rerank(context.Background(), "query", results, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.batchCalls)

	_, err = r.Rerank(context.Background(), "query", results, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.batchCalls, "second rerank should hit the document cache")
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{}, []float32{}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 2}, []float32{1}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
