// Package fusionkernel implements the pure ranking primitives shared by
// the hybrid and chain search engines: weight normalization, reciprocal
// rank fusion, weighted-sum fusion, BM25 score normalization, source
// tagging, symbol boosting, category filtering, and adaptive weight
// selection. Every operation takes lists and returns lists; none mutate
// a caller's SearchResult in place.
package fusionkernel

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/Aman-CERP/amanmcp/internal/search"
)

// DefaultK is the standard RRF smoothing constant.
const DefaultK = 60

// DefaultSymbolBoostFactor is applied to results whose Symbol is set.
const DefaultSymbolBoostFactor = 1.5

// NormalizeWeights divides each weight by the total. If the total is not
// finite or not strictly positive, the input is returned unchanged — the
// caller proceeds with the un-normalized weights rather than dividing by
// zero or propagating NaN/∞.
func NormalizeWeights(weights search.FusionWeights) search.FusionWeights {
	var total float64
	for _, w := range weights {
		total += w
	}
	if math.IsNaN(total) || math.IsInf(total, 0) || total <= 0 {
		return weights
	}

	out := make(search.FusionWeights, len(weights))
	for s, w := range weights {
		out[s] = w / total
	}
	return out
}

// accumulator tracks a path's fused score plus the data needed for
// deterministic tie-breaking and representative-result selection.
type accumulator struct {
	score   float64
	order   int // first-seen insertion order, for stable tie-break
	best    *search.SearchResult
	bestRk  int // richness rank of `best`: 2=content, 1=excerpt/symbol, 0=bare
}

func richness(r *search.SearchResult) int {
	switch {
	case r.Content != "":
		return 2
	case r.Excerpt != "" || r.Symbol != nil:
		return 1
	default:
		return 0
	}
}

// RRF computes Reciprocal Rank Fusion over an arbitrary number of
// sources: score(p) = Σ_s weights[s] / (k + rank_s(p)). Within a single
// source, a duplicate path keeps its first occurrence (later ones are
// ignored). k<=0 defaults to DefaultK. The result is sorted by score
// descending, ties broken by first-seen order across the input sources
// (in map-iteration order of results.Keys(), which callers should treat
// as insertion order by constructing BackendResults deterministically).
func RRF(results search.BackendResults, weights search.FusionWeights, k int) []*search.SearchResult {
	if k <= 0 {
		k = DefaultK
	}
	norm := NormalizeWeights(weights)

	acc := make(map[string]*accumulator)
	order := 0
	for _, source := range orderedSources(results) {
		list := results[source]
		w := norm[source]
		seen := make(map[string]bool, len(list))
		for rank, r := range list {
			if seen[r.Path] {
				continue
			}
			seen[r.Path] = true

			a, ok := acc[r.Path]
			if !ok {
				a = &accumulator{order: order}
				order++
				acc[r.Path] = a
			}
			a.score += w / float64(k+rank+1)
			rich := richness(r)
			if a.best == nil || rich > a.bestRk {
				a.best = r
				a.bestRk = rich
			}
		}
	}

	out := make([]*search.SearchResult, 0, len(acc))
	for path, a := range acc {
		res := a.best.Clone()
		res.Path = path
		res.Score = a.score
		res.SetMeta(search.MetaFusionScore, a.score)
		res.SetMeta(search.MetaOriginalScore, a.best.Score)
		out = append(out, res)
	}
	sortByScoreThenOrder(out, acc)
	return out
}

// WeightedSum sums weights[s] * normalizedScore_s(path) across sources,
// where normalizedScore linearly rescales each source's raw scores to
// [0,1] within that source (min->0, max->1; a source with a single
// distinct score maps every result to 1).
func WeightedSum(results search.BackendResults, weights search.FusionWeights) []*search.SearchResult {
	norm := NormalizeWeights(weights)

	acc := make(map[string]*accumulator)
	order := 0
	for _, source := range orderedSources(results) {
		list := results[source]
		w := norm[source]
		if len(list) == 0 {
			continue
		}
		lo, hi := list[0].Score, list[0].Score
		for _, r := range list {
			if r.Score < lo {
				lo = r.Score
			}
			if r.Score > hi {
				hi = r.Score
			}
		}
		spread := hi - lo

		seen := make(map[string]bool, len(list))
		for _, r := range list {
			if seen[r.Path] {
				continue
			}
			seen[r.Path] = true

			normScore := 1.0
			if spread > 0 {
				normScore = (r.Score - lo) / spread
			}

			a, ok := acc[r.Path]
			if !ok {
				a = &accumulator{order: order}
				order++
				acc[r.Path] = a
			}
			a.score += w * normScore
			rich := richness(r)
			if a.best == nil || rich > a.bestRk {
				a.best = r
				a.bestRk = rich
			}
		}
	}

	out := make([]*search.SearchResult, 0, len(acc))
	for path, a := range acc {
		res := a.best.Clone()
		res.Path = path
		res.Score = a.score
		res.SetMeta(search.MetaFusionScore, a.score)
		out = append(out, res)
	}
	sortByScoreThenOrder(out, acc)
	return out
}

func orderedSources(results search.BackendResults) []search.SourceID {
	preferred := []search.SourceID{
		search.SourceExact, search.SourceFuzzy, search.SourceVector,
		search.SourceSplade, search.SourceBinary, search.SourceDense,
	}
	out := make([]search.SourceID, 0, len(results))
	for _, s := range preferred {
		if _, ok := results[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func sortByScoreThenOrder(results []*search.SearchResult, acc map[string]*accumulator) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return acc[results[i].Path].order < acc[results[j].Path].order
	})
}

// NormalizeBM25 maps a raw BM25 score (negative, more-negative-is-better
// per the FTS backends' convention) to [0,1] via a bounded, monotone
// decreasing logistic transform: more negative → closer to 1.
func NormalizeBM25(raw float64) float64 {
	return 1.0 / (1.0 + math.Exp(raw))
}

// TagSource returns a copy of results with metadata[search_source] set to
// source on every element, without mutating the input list's elements.
func TagSource(results []*search.SearchResult, source search.SourceID) []*search.SearchResult {
	out := make([]*search.SearchResult, len(results))
	for i, r := range results {
		out[i] = r.Clone().SetMeta(search.MetaSearchSource, string(source))
	}
	return out
}

// SymbolBoost multiplies the score of every result whose Symbol.Name is
// non-empty by factor, recording original_fusion_score and boosted=true.
// Non-boosted results are returned unchanged (still cloned, so the
// caller's list is never mutated). Does not re-sort.
func SymbolBoost(results []*search.SearchResult, factor float64) []*search.SearchResult {
	if factor <= 0 {
		factor = DefaultSymbolBoostFactor
	}
	out := make([]*search.SearchResult, len(results))
	for i, r := range results {
		c := r.Clone()
		if c.Symbol != nil && c.Symbol.Name != "" {
			c.SetMeta(search.MetaOriginalFusionScore, c.Score)
			c.Score *= factor
			c.SetMeta(search.MetaBoosted, true)
		}
		out[i] = c
	}
	return out
}

// PathCategory classifies a path as "code" or "doc" for category
// filtering. Callers typically derive this from file extension or chunk
// content type.
type PathCategory func(path string) string

// CategoryFilter keeps only results matching the intent's admitted
// category: KEYWORD admits "code" only, SEMANTIC and MIXED admit all.
// If allowMixed is true and filtering would produce zero results, the
// unfiltered input is returned instead.
func CategoryFilter(results []*search.SearchResult, queryIntent search.QueryIntent, category PathCategory, allowMixed bool) []*search.SearchResult {
	if queryIntent != search.IntentKeyword {
		return append([]*search.SearchResult(nil), results...)
	}

	filtered := make([]*search.SearchResult, 0, len(results))
	for _, r := range results {
		if category(r.Path) == "code" {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 && allowMixed {
		return append([]*search.SearchResult(nil), results...)
	}
	return filtered
}

var (
	codeSignalPattern = regexp.MustCompile(`[_]|[A-Z][a-z]|::|->`)
	nlSignalPattern    = regexp.MustCompile(`(?i)^(how|what|where|why|when|which|who)\b`)
)

// AdaptiveWeights optionally overrides base weights for active sources
// based on the raw query text: clear code signals boost exact/splade,
// clear natural-language signals boost vector. This is the only
// operation in the fusion kernel whose behavior depends on query text
// rather than purely on result lists.
func AdaptiveWeights(query string, active map[search.SourceID]bool, base search.FusionWeights) search.FusionWeights {
	out := make(search.FusionWeights, len(base))
	for s, w := range base {
		out[s] = w
	}

	switch {
	case codeSignalPattern.MatchString(query) && !strings.Contains(query, " "):
		if active[search.SourceExact] {
			out[search.SourceExact] = out[search.SourceExact] * 1.3
		}
		if active[search.SourceSplade] {
			out[search.SourceSplade] = out[search.SourceSplade] * 1.3
		}
	case nlSignalPattern.MatchString(query):
		if active[search.SourceVector] {
			out[search.SourceVector] = out[search.SourceVector] * 1.3
		}
	}

	return NormalizeWeights(out)
}
