package backend

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/amanmcp/internal/embed"
	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/store"
)

// BinaryEncoder turns query text into a packed 256-bit code for Hamming
// retrieval.
type BinaryEncoder interface {
	EncodeQuery(ctx context.Context, text string) ([store.BinaryCodeWords]uint64, error)
}

// SignBinaryEncoder derives a binary code from a dense embedding's sign
// bits: bit i is 1 when the embedding's i-th dimension is >= 0. This is
// the standard SimHash-style binarization used ahead of Hamming coarse
// retrieval, and it lets the binary backend reuse whatever Embedder is
// already configured rather than requiring a second model. Embeddings
// shorter than 256 dimensions wrap around; longer ones are truncated to
// the first 256.
type SignBinaryEncoder struct {
	Embedder embed.Embedder
}

func (e SignBinaryEncoder) EncodeQuery(ctx context.Context, text string) ([store.BinaryCodeWords]uint64, error) {
	var code [store.BinaryCodeWords]uint64

	vec, err := e.Embedder.Embed(ctx, text)
	if err != nil {
		return code, err
	}
	if len(vec) == 0 {
		return code, nil
	}

	for bit := 0; bit < store.BinaryCodeBits; bit++ {
		if vec[bit%len(vec)] >= 0 {
			code[bit/64] |= 1 << uint(bit%64)
		}
	}
	return code, nil
}

var _ BinaryEncoder = SignBinaryEncoder{}

// BinaryAdapter performs coarse Hamming-distance retrieval. Scores are
// 1 - distance/256, matching the Score field already produced by
// store.BinaryResult.
type BinaryAdapter struct{}

func (BinaryAdapter) Source() search.SourceID { return search.SourceBinary }

func (BinaryAdapter) Search(ctx context.Context, h *Handle, query string, limit int) []*search.SearchResult {
	if h == nil || h.Binary == nil || h.BinaryEncoder == nil {
		return nil
	}

	code, err := h.BinaryEncoder.EncodeQuery(ctx, query)
	if err != nil {
		slog.Warn("backend: binary query encoding failed", slog.String("error", err.Error()))
		return nil
	}

	hits, err := h.Binary.Search(ctx, code, limit)
	if err != nil {
		slog.Warn("backend: binary search failed", slog.String("error", err.Error()))
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
		slog.Warn("backend: failed to load chunks for binary hits", slog.String("error", err.Error()))
		return nil
	}

	out := make([]*search.SearchResult, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, chunkResult(c, scoreByID[c.ID], nil))
	}
	return out
}

var _ Adapter = BinaryAdapter{}
