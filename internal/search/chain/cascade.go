package chain

import (
	"context"
	"time"

	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/search/backend"
	"github.com/Aman-CERP/amanmcp/internal/search/rerank"
)

// DefaultCascadeStrategy is applied when no strategy is given by the
// caller, config, or options.
const DefaultCascadeStrategy = search.CascadeBinary

// CascadeSearch is the unified two-stage retrieval entry point: a cheap
// coarse ranker (binary Hamming or dense HNSW, gathered per directory)
// narrows to coarseK candidates, then a fine ranker (embedding cosine or
// cross-encoder) reorders them down to k. Strategy precedence is the
// explicit argument, then opts.CascadeStrategy, then DefaultCascadeStrategy.
func (e *Engine) CascadeSearch(ctx context.Context, query, sourcePath string, k, coarseK int, opts search.SearchOptions, strategy search.CascadeStrategy) (*search.ChainSearchResult, error) {
	start := time.Now()
	if k <= 0 {
		k = 10
	}
	if coarseK <= 0 {
		coarseK = 100
	}

	effective := strategy
	if effective == "" {
		effective = opts.CascadeStrategy
	}
	switch effective {
	case search.CascadeBinary, search.CascadeDenseRerank, search.CascadeBinaryRerank, search.CascadeHybrid:
	default:
		effective = DefaultCascadeStrategy
	}

	startDir, ok := e.Tree.FindStartIndex(ctx, sourcePath)
	if !ok {
		return &search.ChainSearchResult{Query: query, Stats: search.ChainStats{TimeMS: time.Since(start).Milliseconds()}}, nil
	}
	dirIDs := collectDescendants(ctx, e.Tree, startDir, opts.Depth)
	stats := search.ChainStats{DirsSearched: len(dirIDs)}

	var final []*search.SearchResult
	var errs []string

	switch effective {
	case search.CascadeBinary:
		final, errs = e.coarseFineCascade(ctx, dirIDs, query, k, coarseK, opts, backend.BinaryAdapter{}, e.EmbeddingReranker)
		if final == nil {
			final, errs = e.hybridCascade(ctx, query, sourcePath, k, opts)
		}
	case search.CascadeDenseRerank:
		final, errs = e.coarseFineCascade(ctx, dirIDs, query, k, coarseK, opts, backend.VectorAdapter{}, e.CrossEncoderReranker)
	case search.CascadeBinaryRerank:
		final, errs = e.coarseFineCascade(ctx, dirIDs, query, k, coarseK, opts, backend.BinaryAdapter{}, e.CrossEncoderReranker)
		if final == nil {
			final, errs = e.hybridCascade(ctx, query, sourcePath, k, opts)
		}
	default: // hybrid
		final, errs = e.hybridCascade(ctx, query, sourcePath, k, opts)
	}

	stats.Errors = errs
	stats.FilesMatched = len(final)
	stats.TimeMS = time.Since(start).Milliseconds()
	return &search.ChainSearchResult{Query: query, Results: final, Stats: stats}, nil
}

// coarseFineCascade runs coarseAdapter across every directory in dirIDs,
// merges the candidates, reranks the top coarseK with fineReranker (which
// may be nil, in which case the coarse order stands), and truncates to k.
// Returns a nil slice (not an error) when no directory produced any
// coarse candidate, signaling the caller to fall back to hybridCascade.
func (e *Engine) coarseFineCascade(ctx context.Context, dirIDs []string, query string, k, coarseK int, opts search.SearchOptions, coarseAdapter backend.Adapter, fineReranker rerank.Reranker) ([]*search.SearchResult, []string) {
	var all []*search.SearchResult
	var errs []string
	for _, dirID := range dirIDs {
		h := e.Tree.Handle(ctx, dirID)
		if h == nil {
			continue
		}
		res := coarseAdapter.Search(ctx, h, query, coarseK)
		all = append(all, res...)
	}
	if len(all) == 0 {
		return nil, errs
	}

	coarse := mergeAndRank(all, coarseK, 0)

	fine := coarse
	if fineReranker != nil {
		reranked, err := fineReranker.Rerank(ctx, query, coarse, len(coarse))
		if err == nil {
			fine = reranked
		}
	}
	if len(fine) > k {
		fine = fine[:k]
	}
	return fine, errs
}

// hybridCascade runs the full multi-backend Hybrid search (RRF across
// exact/fuzzy/vector/splade) with vector forced on, followed by
// cross-encoder reranking, truncated to k. This is also the fallback
// target when a binary or binary_rerank cascade finds no binary
// candidates anywhere in the tree.
func (e *Engine) hybridCascade(ctx context.Context, query, sourcePath string, k int, opts search.SearchOptions) ([]*search.SearchResult, []string) {
	hybridOpts := opts
	if hybridOpts.EnabledSources == nil {
		hybridOpts.EnabledSources = map[search.SourceID]bool{}
	} else {
		clone := make(map[search.SourceID]bool, len(hybridOpts.EnabledSources))
		for src, enabled := range hybridOpts.EnabledSources {
			clone[src] = enabled
		}
		hybridOpts.EnabledSources = clone
	}
	hybridOpts.EnabledSources[search.SourceVector] = true
	hybridOpts.TotalLimit = k
	hybridOpts.LimitPerDir = k

	result, err := e.Search(ctx, query, sourcePath, hybridOpts)
	if err != nil || result == nil {
		return nil, nil
	}

	final := result.Results
	if e.CrossEncoderReranker != nil {
		reranked, rerr := e.CrossEncoderReranker.Rerank(ctx, query, final, len(final))
		if rerr == nil {
			final = reranked
		}
	}
	if len(final) > k {
		final = final[:k]
	}
	return final, result.Stats.Errors
}
