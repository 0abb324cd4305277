// Package rerank implements the reranker adapters: an embedding-cosine
// reranker that needs only the already-configured dense Embedder, and a
// cross-encoder reranker that calls out to a remote HTTP reranking API.
// Both take a fused, ranked result list and return a re-scored list; both
// leave result count and path identity untouched.
package rerank

import (
	"context"

	"github.com/Aman-CERP/amanmcp/internal/search"
)

// Reranker re-scores a fused result list against the original query text.
// Implementations only need to look at the leading topK entries; trailing
// entries beyond topK are passed through unchanged.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []*search.SearchResult, topK int) ([]*search.SearchResult, error)
}

func splitTop(results []*search.SearchResult, topK int) (head, tail []*search.SearchResult) {
	if topK <= 0 || topK >= len(results) {
		return results, nil
	}
	return results[:topK], results[topK:]
}
