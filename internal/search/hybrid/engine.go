// Package hybrid implements the Hybrid Search Engine: the per-index
// orchestrator that dispatches a query to every enabled backend adapter
// in parallel, fuses their results, and runs the post-fusion rerank and
// filter chain. Chain search (internal/search/chain) builds on top of
// this as its per-directory primitive.
package hybrid

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/search/backend"
	"github.com/Aman-CERP/amanmcp/internal/search/fusionkernel"
	"github.com/Aman-CERP/amanmcp/internal/search/intent"
	"github.com/Aman-CERP/amanmcp/internal/search/rerank"
)

// DefaultOverallTimeout bounds the whole fan-out across every adapter.
const DefaultOverallTimeout = 30 * time.Second

// DefaultPerAdapterTimeout bounds any single adapter's Search call so one
// slow backend cannot exhaust the overall budget by itself.
const DefaultPerAdapterTimeout = 10 * time.Second

// DefaultEmbeddingRerankTopK caps how many of the fused results get
// embedding-cosine reranked; the rest pass through untouched.
const DefaultEmbeddingRerankTopK = 100

// Engine runs one project index's Hybrid search: classify intent, fan out
// to backends, fuse, rerank, filter, truncate.
type Engine struct {
	Handle     *backend.Handle
	Classifier intent.Classifier

	EmbeddingReranker    rerank.Reranker // optional
	CrossEncoderReranker rerank.Reranker // optional

	Category fusionkernel.PathCategory // optional, defaults to scanner-derived code/doc split

	OverallTimeout    time.Duration
	PerAdapterTimeout time.Duration
}

// NewEngine builds an Engine around h with sensible defaults. Rerankers
// are left nil; callers that want embedding or cross-encoder reranking
// assign Engine.EmbeddingReranker / Engine.CrossEncoderReranker directly.
func NewEngine(h *backend.Handle) *Engine {
	return &Engine{
		Handle:            h,
		Classifier:        intent.NewCachedClassifier(intent.NewPatternClassifier(), 512),
		Category:          defaultCategory,
		OverallTimeout:    DefaultOverallTimeout,
		PerAdapterTimeout: DefaultPerAdapterTimeout,
	}
}

// Search runs the full Hybrid pipeline for one query against one index.
// An empty handle (no Metadata store configured, i.e. the index does not
// exist) returns an empty result list rather than an error, matching the
// "index file missing, skip it" early guard chain search relies on.
func (e *Engine) Search(ctx context.Context, query string, opts search.SearchOptions, limit int) ([]*search.SearchResult, error) {
	if e.Handle == nil || e.Handle.Metadata == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	queryIntent := search.IntentMixed
	if e.Classifier != nil {
		if ci, err := e.Classifier.Classify(ctx, query); err == nil {
			queryIntent = ci
		}
	}

	weights := opts.Weights
	if weights == nil {
		weights = search.WeightsForIntent(queryIntent)
	}

	adapters := backend.Select(opts)

	overall := e.OverallTimeout
	if overall <= 0 {
		overall = DefaultOverallTimeout
	}
	perAdapter := e.PerAdapterTimeout
	if perAdapter <= 0 {
		perAdapter = DefaultPerAdapterTimeout
	}

	fetchLimit := limit
	if fetchLimit < 50 {
		fetchLimit = 50 // overfetch so fusion and rerank have room to reorder
	}

	results := e.dispatch(ctx, adapters, query, fetchLimit, overall, perAdapter)

	fused := fusionkernel.RRF(results, weights, fusionkernel.DefaultK)
	fused = fusionkernel.SymbolBoost(fused, fusionkernel.DefaultSymbolBoostFactor)

	rerankTopK := DefaultEmbeddingRerankTopK
	if rerankTopK > len(fused) {
		rerankTopK = len(fused)
	}
	if e.EmbeddingReranker != nil {
		var err error
		fused, err = e.EmbeddingReranker.Rerank(ctx, query, fused, rerankTopK)
		if err != nil {
			slog.Warn("hybrid: embedding rerank failed, continuing with fusion order", slog.String("error", err.Error()))
		}
	}
	if e.CrossEncoderReranker != nil {
		var err error
		fused, err = e.CrossEncoderReranker.Rerank(ctx, query, fused, rerankTopK)
		if err != nil {
			slog.Warn("hybrid: cross-encoder rerank failed, continuing with prior order", slog.String("error", err.Error()))
		}
	}

	category := e.Category
	if category == nil {
		category = defaultCategory
	}
	fused = fusionkernel.CategoryFilter(fused, queryIntent, category, true)

	if opts.Offset > 0 {
		if opts.Offset >= len(fused) {
			return nil, nil
		}
		fused = fused[opts.Offset:]
	}
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, nil
}

// dispatch runs every adapter concurrently under a shared overall
// deadline, each additionally bounded by perAdapter. Adapters never
// return an error (they absorb their own failures), so the only failure
// mode here is a context deadline, which simply truncates that adapter's
// contribution to nothing.
func (e *Engine) dispatch(ctx context.Context, adapters []backend.Adapter, query string, limit int, overall, perAdapter time.Duration) search.BackendResults {
	ctx, cancel := context.WithTimeout(ctx, overall)
	defer cancel()

	out := make(search.BackendResults, len(adapters))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		a := a
		g.Go(func() error {
			actx, acancel := context.WithTimeout(gctx, perAdapter)
			defer acancel()
			res := a.Search(actx, e.Handle, query, limit)
			mu.Lock()
			out[a.Source()] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // adapters never return errors; nothing to propagate
	return out
}

func defaultCategory(path string) string {
	return categoryForPath(path)
}
