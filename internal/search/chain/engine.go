package chain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/search/hybrid"
	"github.com/Aman-CERP/amanmcp/internal/search/rerank"
)

// DefaultMaxWorkers is the default size of the long-lived shared pool.
const DefaultMaxWorkers = 8

// nonCodeExtensions mirrors the MCP smart-search tool's fixed exclusion
// set: extensions that are never source code regardless of language.
var nonCodeExtensions = map[string]bool{
	"md": true, "txt": true, "json": true, "yaml": true, "yml": true,
	"xml": true, "csv": true, "log": true,
	"ini": true, "cfg": true, "conf": true, "toml": true, "env": true, "properties": true,
	"html": true, "htm": true, "svg": true, "png": true, "jpg": true, "jpeg": true,
	"gif": true, "ico": true, "webp": true,
	"pdf": true, "doc": true, "docx": true, "xls": true, "xlsx": true, "ppt": true, "pptx": true,
	"lock": true, "sum": true, "mod": true,
}

// Engine is the whole-project Chain Search Engine. EmbeddingReranker and
// CrossEncoderReranker, if set, are shared across every directory's
// Hybrid engine rather than constructed per-call.
type Engine struct {
	Tree Tree

	EmbeddingReranker    rerank.Reranker
	CrossEncoderReranker rerank.Reranker

	MaxWorkers int
}

// NewEngine builds an Engine around tree with DefaultMaxWorkers.
func NewEngine(tree Tree) *Engine {
	return &Engine{Tree: tree, MaxWorkers: DefaultMaxWorkers}
}

// Search executes a chain search from sourcePath: resolve the start
// index, collect descendants, search each directory's Hybrid engine in
// parallel, filter, merge, rank, and optionally group.
func (e *Engine) Search(ctx context.Context, query, sourcePath string, opts search.SearchOptions) (*search.ChainSearchResult, error) {
	start := time.Now()
	stats := search.ChainStats{}

	startDir, ok := e.Tree.FindStartIndex(ctx, sourcePath)
	if !ok {
		stats.TimeMS = time.Since(start).Milliseconds()
		return &search.ChainSearchResult{Query: query, Stats: stats}, nil
	}

	dirIDs := collectDescendants(ctx, e.Tree, startDir, opts.Depth)
	stats.DirsSearched = len(dirIDs)
	if len(dirIDs) == 0 {
		stats.TimeMS = time.Since(start).Milliseconds()
		return &search.ChainSearchResult{Query: query, Stats: stats}, nil
	}

	results, errs := e.searchParallel(ctx, dirIDs, query, opts)
	stats.Errors = errs

	if opts.CodeOnly || len(opts.ExcludedExtensions) > 0 {
		results = filterByExtension(results, opts.CodeOnly, opts.ExcludedExtensions)
	}

	limit := opts.TotalLimit
	if limit <= 0 {
		limit = 20
	}
	final := mergeAndRank(results, limit, opts.Offset)

	if opts.GroupResults {
		final = groupSimilarResults(final, opts.GroupingThreshold)
	}
	stats.FilesMatched = len(final)

	var symbols []*search.Symbol
	if opts.IncludeSymbols {
		symbols = e.searchSymbolsParallel(ctx, dirIDs, query, limit)
	}

	stats.TimeMS = time.Since(start).Milliseconds()
	return &search.ChainSearchResult{
		Query:   query,
		Results: final,
		Symbols: symbols,
		Stats:   stats,
	}, nil
}

// searchParallel fans query out to every directory's Hybrid engine.
// Vector or hybrid-weighted searches collapse the worker count to 1 to
// serialize GPU-resident embedder access, matching the Python original's
// GPU-safety guard.
func (e *Engine) searchParallel(ctx context.Context, dirIDs []string, query string, opts search.SearchOptions) ([]*search.SearchResult, []string) {
	workers := e.MaxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}
	if opts.PureVector || opts.EnabledSources[search.SourceVector] {
		workers = 1
	}
	if workers > len(dirIDs) {
		workers = len(dirIDs)
	}

	type outcome struct {
		results []*search.SearchResult
		err     error
		dirID   string
	}

	jobs := make(chan string)
	out := make(chan outcome, len(dirIDs))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for dirID := range jobs {
				res, err := e.searchSingleDir(ctx, dirID, query, opts)
				out <- outcome{results: res, err: err, dirID: dirID}
			}
		}()
	}
	go func() {
		for _, d := range dirIDs {
			jobs <- d
		}
		close(jobs)
	}()
	go func() {
		wg.Wait()
		close(out)
	}()

	var all []*search.SearchResult
	var errs []string
	for o := range out {
		if o.err != nil {
			errs = append(errs, fmt.Sprintf("search failed for %s: %v", o.dirID, o.err))
			continue
		}
		all = append(all, o.results...)
	}
	return all, errs
}

// searchSingleDir runs one directory's Hybrid search. A missing or
// unopenable index (nil handle) is not an error: it contributes no
// results, same as the Python original's try/except-and-skip.
func (e *Engine) searchSingleDir(ctx context.Context, dirID, query string, opts search.SearchOptions) ([]*search.SearchResult, error) {
	h := e.Tree.Handle(ctx, dirID)
	if h == nil {
		return nil, nil
	}
	limit := opts.LimitPerDir
	if limit <= 0 {
		limit = 20
	}
	engine := hybrid.NewEngine(h)
	engine.EmbeddingReranker = e.EmbeddingReranker
	engine.CrossEncoderReranker = e.CrossEncoderReranker
	return engine.Search(ctx, query, opts, limit)
}

func filterByExtension(results []*search.SearchResult, codeOnly bool, excluded []string) []*search.SearchResult {
	excludedSet := make(map[string]bool, len(excluded))
	for _, ext := range excluded {
		excludedSet[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	if codeOnly {
		for ext := range nonCodeExtensions {
			excludedSet[ext] = true
		}
	}
	if len(excludedSet) == 0 {
		return results
	}

	out := make([]*search.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Path == "" {
			continue
		}
		if i := strings.LastIndex(r.Path, "."); i >= 0 {
			ext := strings.ToLower(r.Path[i+1:])
			if excludedSet[ext] {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// mergeAndRank deduplicates by path keeping the highest-scoring
// representative, sorts descending by score, then applies offset/limit.
func mergeAndRank(results []*search.SearchResult, limit, offset int) []*search.SearchResult {
	byPath := make(map[string]*search.SearchResult, len(results))
	order := make([]string, 0, len(results))
	for _, r := range results {
		existing, ok := byPath[r.Path]
		if !ok {
			byPath[r.Path] = r
			order = append(order, r.Path)
			continue
		}
		if r.Score > existing.Score {
			byPath[r.Path] = r
		}
	}

	unique := make([]*search.SearchResult, 0, len(order))
	for _, p := range order {
		unique = append(unique, byPath[p])
	}
	sort.SliceStable(unique, func(i, j int) bool { return unique[i].Score > unique[j].Score })

	if offset >= len(unique) {
		return nil
	}
	unique = unique[offset:]
	if len(unique) > limit {
		unique = unique[:limit]
	}
	return unique
}

// groupSimilarResults clusters results whose score differs from the best
// in their cluster by less than threshold, keeping the best as the
// cluster representative and stashing the rest under a metadata key.
// Clustering proceeds in descending-score order, so each new cluster's
// representative is the highest-scoring result not yet claimed.
func groupSimilarResults(results []*search.SearchResult, threshold float64) []*search.SearchResult {
	if threshold <= 0 || len(results) == 0 {
		return results
	}

	claimed := make([]bool, len(results))
	out := make([]*search.SearchResult, 0, len(results))
	for i, r := range results {
		if claimed[i] {
			continue
		}
		claimed[i] = true
		var grouped []*search.SearchResult
		for j := i + 1; j < len(results); j++ {
			if claimed[j] {
				continue
			}
			if r.Score-results[j].Score < threshold {
				claimed[j] = true
				grouped = append(grouped, results[j])
			}
		}
		if len(grouped) > 0 {
			c := r.Clone()
			c.SetMeta("grouped_results", grouped)
			out = append(out, c)
		} else {
			out = append(out, r)
		}
	}
	return out
}
