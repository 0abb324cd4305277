package backend

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/store"
)

// SpladeEncoder turns query text into a sparse SPLADE term-weight vector.
// This is a model-serving concern (a SPLADE encoder is a neural model,
// typically served over HTTP) and is therefore a collaborator the backend
// adapter consumes rather than implements, the same way VectorAdapter
// consumes embed.Embedder rather than running a model itself.
type SpladeEncoder interface {
	EncodeQuery(ctx context.Context, text string) (store.SpladeVector, error)
}

// SpladeAdapter performs sparse retrieval via term-overlap dot product.
// With no SpladeEncoder configured, Search returns nil: SPLADE is an
// optional enrichment source, never a required one.
type SpladeAdapter struct{}

func (SpladeAdapter) Source() search.SourceID { return search.SourceSplade }

func (SpladeAdapter) Search(ctx context.Context, h *Handle, query string, limit int) []*search.SearchResult {
	if h == nil || h.Splade == nil || h.SpladeEncoder == nil {
		return nil
	}

	qvec, err := h.SpladeEncoder.EncodeQuery(ctx, query)
	if err != nil {
		slog.Warn("backend: splade query encoding failed", slog.String("error", err.Error()))
		return nil
	}

	hits, err := h.Splade.Search(ctx, qvec, limit)
	if err != nil {
		slog.Warn("backend: splade search failed", slog.String("error", err.Error()))
		return nil
	}
	if len(hits) == 0 || h.Metadata == nil {
		return nil
	}

	ids := make([]string, len(hits))
	scoreByID := make(map[string]float64, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
		scoreByID[hit.ID] = hit.Score
	}

	chunks, err := h.Metadata.GetChunks(ctx, ids)
	if err != nil {
		slog.Warn("backend: failed to load chunks for splade hits", slog.String("error", err.Error()))
		return nil
	}

	out := make([]*search.SearchResult, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, chunkResult(c, scoreByID[c.ID], nil))
	}
	return out
}

var _ Adapter = SpladeAdapter{}
