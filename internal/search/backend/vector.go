package backend

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/Aman-CERP/amanmcp/internal/embed"
	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/store"
)

// VectorAdapter performs dense nearest-neighbor retrieval against the
// HNSW-backed vector store. Before embedding a query, it checks the
// store's pinned dimension/model (recorded in MetadataStore state at
// index build time) against the active embedder; a mismatch is a hard
// failure for this adapter only, since a wrong-dimension or wrong-model
// query vector would produce meaningless nearest neighbors rather than an
// explicit error. The rest of the search proceeds with whatever other
// backends are available.
type VectorAdapter struct{}

func (VectorAdapter) Source() search.SourceID { return search.SourceVector }

func (VectorAdapter) Search(ctx context.Context, h *Handle, query string, limit int) []*search.SearchResult {
	if h == nil || h.Vector == nil || h.Embedder == nil {
		return nil
	}

	if err := checkModelPinning(ctx, h.Metadata, h.Embedder); err != nil {
		slog.Warn("backend: vector search skipped, dimension/model mismatch", slog.String("error", err.Error()))
		return nil
	}

	qvec, err := h.Embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("backend: query embedding failed", slog.String("error", err.Error()))
		return nil
	}

	hits, err := h.Vector.Search(ctx, qvec, limit)
	if err != nil {
		slog.Warn("backend: vector search failed", slog.String("error", err.Error()))
		return nil
	}
	if len(hits) == 0 {
		return nil
	}

	ids := make([]string, len(hits))
	scoreByID := make(map[string]float64, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
		scoreByID[hit.ID] = float64(hit.Score)
	}

	if h.Metadata == nil {
		return nil
	}
	chunks, err := h.Metadata.GetChunks(ctx, ids)
	if err != nil {
		slog.Warn("backend: failed to load chunks for vector hits", slog.String("error", err.Error()))
		return nil
	}

	out := make([]*search.SearchResult, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, chunkResult(c, scoreByID[c.ID], nil))
	}
	return out
}

// checkModelPinning enforces spec §4.4: a stored index dimension/model
// that disagrees with the active embedder is a hard failure for vector
// retrieval, not a silent degradation to wrong-dimension comparisons.
func checkModelPinning(ctx context.Context, meta store.MetadataStore, embedder embed.Embedder) error {
	if meta == nil {
		return nil
	}

	dimStr, err := meta.GetState(ctx, store.StateKeyIndexDimension)
	if err != nil || dimStr == "" {
		return nil // no index built yet, nothing to pin against
	}
	storedDim, err := strconv.Atoi(dimStr)
	if err != nil {
		return nil
	}
	if storedDim != embedder.Dimensions() {
		return store.ErrDimensionMismatch{Expected: storedDim, Got: embedder.Dimensions()}
	}

	storedModel, err := meta.GetState(ctx, store.StateKeyIndexModel)
	if err == nil && storedModel != "" && storedModel != embedder.ModelName() {
		return store.ErrDimensionMismatch{Expected: storedDim, Got: embedder.Dimensions()}
	}

	return nil
}

var _ Adapter = VectorAdapter{}
