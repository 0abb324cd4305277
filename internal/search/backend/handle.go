// Package backend implements the backend adapters: thin, uniform wrappers
// over the concrete retrieval collaborators (BM25 indices, the HNSW vector
// store, the SPLADE sparse index, the binary Hamming index) that present a
// single Search(ctx, handle, query, limit) shape to the hybrid and chain
// engines. Every adapter tags its own source and absorbs its own errors:
// a backend that fails to answer returns an empty result list and logs,
// it never fails the overall search.
package backend

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/amanmcp/internal/embed"
	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/store"
)

// Handle bundles the collaborators available for one project index. Any
// field may be nil; adapters check their own dependency and return an
// empty list rather than panic when it is absent. This mirrors the
// Python original's per-directory "index not available, skip it" handling
// in chain search.
type Handle struct {
	Metadata store.MetadataStore

	Exact store.BM25Index // strict AND-of-terms FTS backend (SQLite FTS5)
	Fuzzy store.BM25Index // permissive OR/stemmed FTS backend (Bleve)

	Vector   store.VectorStore
	Embedder embed.Embedder

	Splade        store.SpladeIndex
	SpladeEncoder SpladeEncoder

	Binary        store.BinarySearcher
	BinaryEncoder BinaryEncoder
}

// Adapter is the uniform backend contract every retrieval source
// implements: run a query against a handle and return scored, source-
// tagged results. Adapters never return an error; a backend that cannot
// answer (missing collaborator, query failure, dimension mismatch) logs
// and returns an empty slice.
type Adapter interface {
	Source() search.SourceID
	Search(ctx context.Context, h *Handle, query string, limit int) []*search.SearchResult
}

// resultsFromBM25 converts BM25Result hits into SearchResults, enriching
// each with the chunk's path/content/symbols from the metadata store. A
// chunk that fails to load is skipped rather than aborting the batch.
func resultsFromBM25(ctx context.Context, meta store.MetadataStore, hits []*store.BM25Result, source search.SourceID, score func(*store.BM25Result) float64) []*search.SearchResult {
	if meta == nil || len(hits) == 0 {
		return nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.DocID
	}
	chunks, err := meta.GetChunks(ctx, ids)
	if err != nil {
		slog.Warn("backend: failed to load chunks for BM25 hits", slog.String("source", string(source)), slog.String("error", err.Error()))
		return nil
	}
	byID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	out := make([]*search.SearchResult, 0, len(hits))
	for _, h := range hits {
		c, ok := byID[h.DocID]
		if !ok {
			continue
		}
		out = append(out, chunkResult(c, score(h), h.MatchedTerms))
	}
	return out
}

func chunkResult(c *store.Chunk, score float64, matchedTerms []string) *search.SearchResult {
	r := &search.SearchResult{
		Path:         c.FilePath,
		Score:        score,
		Content:      c.Content,
		Excerpt:      excerpt(c.Content),
		StartLine:    c.StartLine,
		EndLine:      c.EndLine,
		MatchedTerms: matchedTerms,
	}
	if len(c.Symbols) > 0 {
		s := c.Symbols[0]
		r.Symbol = &search.Symbol{Name: s.Name, Kind: string(s.Type), StartLine: s.StartLine, EndLine: s.EndLine}
	}
	return r
}

// excerpt trims content to a short preview; the full text stays available
// in Content for rerankers and callers that need it.
func excerpt(content string) string {
	const maxLen = 240
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen]) + "…"
}
