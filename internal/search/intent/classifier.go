// Package intent implements the query intent classifier: a single pure
// operation mapping a query string to {KEYWORD, SEMANTIC, MIXED}.
package intent

import (
	"context"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/amanmcp/internal/search"
)

// Compiled once at package init.
var (
	errorCodePattern = regexp.MustCompile(`(?i)^(ERR_\w+|E\d{4,5}|[A-Z]{2,}\d{3,}|\w+Exception)$`)
	quotedPattern     = regexp.MustCompile(`^["'].*["']$`)
	filePathPattern   = regexp.MustCompile(`(?i)^[\w\-\./\\]+\.(go|ts|tsx|js|jsx|py|md|json|yaml|yml|toml|css|scss|html|rs|java|kt|c|cpp|h|hpp|rb|php|swift|sh|bash|zsh)$`)

	camelCasePattern      = regexp.MustCompile(`^[a-z]+([A-Z][a-z0-9]*)+$`)
	pascalCasePattern     = regexp.MustCompile(`^([A-Z][a-z0-9]*){2,}$`)
	snakeCasePattern      = regexp.MustCompile(`^[a-z]+(_[a-z0-9]+)+$`)
	screamingSnakePattern = regexp.MustCompile(`^[A-Z]+(_[A-Z0-9]+)+$`)
	scopeOperatorPattern  = regexp.MustCompile(`::|->`)
	codeKeywordPattern    = regexp.MustCompile(`(?i)^(def|class|fn|function)\b`)

	naturalLanguagePattern = regexp.MustCompile(`(?i)^(who|what|where|why|when|which|how|can|does|is|are|should|explain|describe|show|find|list)\b`)
	infinitivePattern      = regexp.MustCompile(`(?i)\bto\s+[a-z]+\b`)
	lowercasePhraseWord    = regexp.MustCompile(`^[a-z]{4,}$`)
)

// Classifier classifies a query into a QueryIntent.
type Classifier interface {
	Classify(ctx context.Context, query string) (search.QueryIntent, error)
}

// PatternClassifier is the heuristic classifier described in spec §4.1:
// it never errors and never calls out over the network.
type PatternClassifier struct{}

// NewPatternClassifier returns the heuristic query classifier.
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

var _ Classifier = (*PatternClassifier)(nil)

// Classify applies the ordered heuristic rules from spec §4.1.
func (p *PatternClassifier) Classify(_ context.Context, query string) (search.QueryIntent, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return search.IntentMixed, nil
	}

	hasCode := p.hasCodeTokens(q)
	hasNL := p.hasNaturalLanguageTokens(q)

	switch {
	case hasCode && hasNL:
		return search.IntentMixed, nil
	case hasCode:
		return search.IntentKeyword, nil
	case hasNL:
		return search.IntentSemantic, nil
	}

	if len([]rune(q)) < 3 && !strings.Contains(q, " ") {
		return search.IntentKeyword, nil
	}

	// Multi-word queries with no clear signal lean semantic; this mirrors
	// the teacher's pattern classifier 3+-word fallback.
	if len(strings.Fields(q)) >= 3 {
		return search.IntentSemantic, nil
	}

	return search.IntentMixed, nil
}

// hasCodeTokens detects snake_case/CamelCase/scope-operator/leading
// code-keyword shapes, plus the error-code/quoted/file-path lexical
// shapes that are unambiguously code-ish.
func (p *PatternClassifier) hasCodeTokens(q string) bool {
	if errorCodePattern.MatchString(q) || quotedPattern.MatchString(q) || filePathPattern.MatchString(q) {
		return true
	}
	if scopeOperatorPattern.MatchString(q) || codeKeywordPattern.MatchString(q) {
		return true
	}
	if strings.Contains(q, ".") && !strings.Contains(q, " ") && len(q) > 1 {
		return true
	}
	if !strings.Contains(q, " ") {
		if camelCasePattern.MatchString(q) || pascalCasePattern.MatchString(q) ||
			snakeCasePattern.MatchString(q) || screamingSnakePattern.MatchString(q) {
			return true
		}
	}
	return false
}

// hasNaturalLanguageTokens detects question words, "to"-infinitives, and
// multi-word lowercase phrases of 4+ letter words.
func (p *PatternClassifier) hasNaturalLanguageTokens(q string) bool {
	if naturalLanguagePattern.MatchString(q) || infinitivePattern.MatchString(q) {
		return true
	}
	fields := strings.Fields(strings.ToLower(q))
	if len(fields) < 2 {
		return false
	}
	phraseWords := 0
	for _, f := range fields {
		if lowercasePhraseWord.MatchString(f) {
			phraseWords++
		}
	}
	return phraseWords >= 2
}

// CachedClassifier wraps a Classifier with an LRU cache keyed by the raw
// query text, following the same caching idiom as embed.CachedEmbedder:
// classification is pure and deterministic per query, so repeated calls
// for the same text (common across a session) skip re-evaluation.
type CachedClassifier struct {
	inner Classifier
	cache *lru.Cache[string, search.QueryIntent]
}

// DefaultCacheSize bounds the classification cache.
const DefaultCacheSize = 500

// NewCachedClassifier wraps inner with an LRU cache of the given size.
// A non-positive size falls back to DefaultCacheSize.
func NewCachedClassifier(inner Classifier, size int) *CachedClassifier {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, search.QueryIntent](size)
	return &CachedClassifier{inner: inner, cache: cache}
}

var _ Classifier = (*CachedClassifier)(nil)

// Classify returns the cached intent if present, otherwise delegates and
// caches the result.
func (c *CachedClassifier) Classify(ctx context.Context, query string) (search.QueryIntent, error) {
	if v, ok := c.cache.Get(query); ok {
		return v, nil
	}
	intent, err := c.inner.Classify(ctx, query)
	if err != nil {
		return intent, err
	}
	c.cache.Add(query, intent)
	return intent, nil
}
