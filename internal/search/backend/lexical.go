package backend

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/search/fusionkernel"
	"github.com/Aman-CERP/amanmcp/internal/store"
)

// ExactAdapter queries the strict AND-of-terms FTS backend. BM25 raw
// scores are negative (more negative is a better match); they are passed
// through NormalizeBM25 into [0,1] before leaving the adapter so every
// source in a BackendResults map is comparable.
type ExactAdapter struct{}

func (ExactAdapter) Source() search.SourceID { return search.SourceExact }

func (ExactAdapter) Search(ctx context.Context, h *Handle, query string, limit int) []*search.SearchResult {
	if h == nil || h.Exact == nil {
		return nil
	}
	hits, err := h.Exact.Search(ctx, query, limit)
	if err != nil {
		slog.Warn("backend: exact search failed", slog.String("error", err.Error()))
		return nil
	}
	return resultsFromBM25(ctx, h.Metadata, hits, search.SourceExact, func(r *store.BM25Result) float64 {
		return fusionkernel.NormalizeBM25(r.Score)
	})
}

// FuzzyAdapter queries the permissive OR/stemmed FTS backend, giving
// recall for misspellings and partial identifiers that the exact backend
// would miss.
type FuzzyAdapter struct{}

func (FuzzyAdapter) Source() search.SourceID { return search.SourceFuzzy }

func (FuzzyAdapter) Search(ctx context.Context, h *Handle, query string, limit int) []*search.SearchResult {
	if h == nil || h.Fuzzy == nil {
		return nil
	}
	hits, err := h.Fuzzy.Search(ctx, query, limit)
	if err != nil {
		slog.Warn("backend: fuzzy search failed", slog.String("error", err.Error()))
		return nil
	}
	return resultsFromBM25(ctx, h.Metadata, hits, search.SourceFuzzy, func(r *store.BM25Result) float64 {
		return fusionkernel.NormalizeBM25(r.Score)
	})
}

var (
	_ Adapter = ExactAdapter{}
	_ Adapter = FuzzyAdapter{}
)
