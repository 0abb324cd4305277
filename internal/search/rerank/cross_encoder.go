package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	amerrors "github.com/Aman-CERP/amanmcp/internal/errors"
	"github.com/Aman-CERP/amanmcp/internal/search"
)

// CrossEncoderProvider identifies a remote reranking API and its defaults.
type CrossEncoderProvider string

const (
	ProviderSiliconFlow CrossEncoderProvider = "siliconflow"
	ProviderCohere      CrossEncoderProvider = "cohere"
	ProviderJina        CrossEncoderProvider = "jina"
	ProviderLegacyMLX    CrossEncoderProvider = "legacy" // local MLX-compatible /rerank server
)

type providerDefaults struct {
	apiBase      string
	endpoint     string
	defaultModel string
	envAPIKey    string
}

var providerDefaultsTable = map[CrossEncoderProvider]providerDefaults{
	ProviderSiliconFlow: {apiBase: "https://api.siliconflow.cn", endpoint: "/v1/rerank", defaultModel: "BAAI/bge-reranker-v2-m3", envAPIKey: "RERANKER_API_KEY"},
	ProviderCohere:      {apiBase: "https://api.cohere.ai", endpoint: "/v1/rerank", defaultModel: "rerank-english-v3.0", envAPIKey: "RERANKER_API_KEY"},
	ProviderJina:        {apiBase: "https://api.jina.ai", endpoint: "/v1/rerank", defaultModel: "jina-reranker-v2-base-multilingual", envAPIKey: "RERANKER_API_KEY"},
	ProviderLegacyMLX:   {apiBase: "http://localhost:9659", endpoint: "/rerank", defaultModel: "reranker-small", envAPIKey: ""},
}

// CrossEncoderConfig configures the HTTP cross-encoder reranker.
type CrossEncoderConfig struct {
	Provider CrossEncoderProvider
	Model    string // empty uses the provider default
	APIKey   string // empty resolves from env, then workspace .env

	APIBase string // empty uses the provider default
	Timeout time.Duration

	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	MaxInputTokens int // 0 infers from model name
}

// DefaultCrossEncoderConfig returns sensible defaults for provider.
func DefaultCrossEncoderConfig(provider CrossEncoderProvider) CrossEncoderConfig {
	return CrossEncoderConfig{
		Provider:    provider,
		Timeout:     30 * time.Second,
		MaxRetries:  3,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  8 * time.Second,
	}
}

// CrossEncoderReranker scores (query, document) pairs via a remote HTTP
// reranking API. Score formula and batching follow the provider's own
// relevance_score/index response contract; results beyond the model's
// token budget are split into token-aware batches so a query with many
// long candidates still completes in one rerank call from the caller's
// point of view.
type CrossEncoderReranker struct {
	cfg            CrossEncoderConfig
	client         *http.Client
	apiBase        string
	model          string
	apiKey         string
	maxInputTokens int
}

// NewCrossEncoderReranker resolves provider defaults, the API key (in
// order: cfg.APIKey, environment variable, workspace .env file), and
// constructs the HTTP client. The legacy MLX provider needs no API key.
func NewCrossEncoderReranker(cfg CrossEncoderConfig, workspaceEnv map[string]string) (*CrossEncoderReranker, error) {
	defaults, ok := providerDefaultsTable[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown reranker provider %q", cfg.Provider)
	}

	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaults.apiBase
	}
	apiBase = strings.TrimRight(apiBase, "/")

	model := cfg.Model
	if model == "" {
		model = defaults.defaultModel
	}

	apiKey := resolveAPIKey(cfg.APIKey, defaults.envAPIKey, workspaceEnv)
	if apiKey == "" && cfg.Provider != ProviderLegacyMLX {
		return nil, fmt.Errorf("missing API key for reranker provider %q: pass CrossEncoderConfig.APIKey or set $%s", cfg.Provider, defaults.envAPIKey)
	}

	maxInputTokens := cfg.MaxInputTokens
	if maxInputTokens == 0 {
		lower := strings.ToLower(model)
		if strings.Contains(lower, "8b") || strings.Contains(lower, "large") {
			maxInputTokens = 32768
		} else {
			maxInputTokens = 8192
		}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &CrossEncoderReranker{
		cfg:            cfg,
		client:         &http.Client{Timeout: timeout},
		apiBase:        apiBase,
		model:          model,
		apiKey:         apiKey,
		maxInputTokens: maxInputTokens,
	}, nil
}

// resolveAPIKey checks the explicit argument, then the process
// environment, then a workspace .env map supplied by the caller (the
// config layer owns .env loading; this package only consumes the result).
func resolveAPIKey(explicit, envVar string, workspaceEnv map[string]string) string {
	if explicit != "" {
		return explicit
	}
	if envVar == "" {
		return ""
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if workspaceEnv != nil {
		if v, ok := workspaceEnv[envVar]; ok {
			return v
		}
	}
	return ""
}

var _ Reranker = (*CrossEncoderReranker)(nil)

func (c *CrossEncoderReranker) Rerank(ctx context.Context, query string, results []*search.SearchResult, topK int) ([]*search.SearchResult, error) {
	head, tail := splitTop(results, topK)
	if len(head) == 0 {
		return results, nil
	}

	docs := make([]string, len(head))
	for i, r := range head {
		docs[i] = docText(r)
	}

	scores, err := c.scoreDocuments(ctx, query, docs)
	if err != nil {
		slog.Warn("rerank: cross-encoder request failed, leaving fusion order unchanged", slog.String("error", err.Error()))
		return results, nil
	}

	reranked := make([]*search.SearchResult, len(head))
	for i, r := range head {
		c := r.Clone()
		c.SetMeta(search.MetaOriginalFusionScore, c.Score)
		c.Score = scores[i]
		c.SetMeta(search.MetaReranked, true)
		reranked[i] = c
	}
	stableSortDesc(reranked)

	out := make([]*search.SearchResult, 0, len(results))
	out = append(out, reranked...)
	out = append(out, tail...)
	return out, nil
}

func stableSortDesc(results []*search.SearchResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// scoreDocuments splits documents into token-aware batches (90% of the
// model's input budget, leaving headroom for the query) and merges the
// per-batch scores back into original order.
func (c *CrossEncoderReranker) scoreDocuments(ctx context.Context, query string, documents []string) ([]float64, error) {
	budget := int(float64(c.maxInputTokens) * 0.9)
	queryTokens := estimateTokens(query)

	type indexed struct {
		idx int
		doc string
	}
	var batches [][]indexed
	var current []indexed
	currentTokens := queryTokens
	for i, doc := range documents {
		docTokens := estimateTokens(doc)
		if currentTokens+docTokens > budget && len(current) > 0 {
			batches = append(batches, current)
			current = nil
			currentTokens = queryTokens
		}
		current = append(current, indexed{idx: i, doc: doc})
		currentTokens += docTokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	scores := make([]float64, len(documents))
	for _, batch := range batches {
		batchDocs := make([]string, len(batch))
		for i, b := range batch {
			batchDocs[i] = b.doc
		}
		batchScores, err := c.requestRerank(ctx, query, batchDocs)
		if err != nil {
			return nil, err
		}
		for i, b := range batch {
			scores[b.idx] = batchScores[i]
		}
	}
	return scores, nil
}

func estimateTokens(text string) int {
	return len(text) / 4
}

type rerankRequest struct {
	Model            string   `json:"model"`
	Query            string   `json:"query"`
	Documents        []string `json:"documents"`
	TopN             int      `json:"top_n"`
	ReturnDocuments  bool     `json:"return_documents"`
}

type rerankHit struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
	Score          float64 `json:"score"`
}

type rerankResponse struct {
	Results []rerankHit `json:"results"`
}

// httpStatusError carries the HTTP status so the retry loop can classify
// it: 401/403 are non-retryable, 429 and 5xx are retryable and may carry
// a Retry-After override.
type httpStatusError struct {
	status     int
	body       string
	retryAfter time.Duration
	hasRetryAfter bool
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("rerank request failed (HTTP %d): %s", e.status, e.body)
}

func (e *httpStatusError) NonRetryable() bool {
	return e.status == http.StatusUnauthorized || e.status == http.StatusForbidden
}

func (e *httpStatusError) RetryAfter() (time.Duration, bool) {
	return e.retryAfter, e.hasRetryAfter
}

func (c *CrossEncoderReranker) requestRerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	cfg := amerrors.RetryConfig{
		MaxRetries:   c.cfg.MaxRetries,
		InitialDelay: c.cfg.BackoffBase,
		MaxDelay:     c.cfg.BackoffMax,
		Multiplier:   2.0,
		Jitter:       true,
	}
	if cfg.MaxRetries == 0 && c.cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 8 * time.Second
	}

	return amerrors.RetryWithResult(ctx, cfg, func() ([]float64, error) {
		return c.doRequest(ctx, query, documents)
	})
}

func (c *CrossEncoderReranker) doRequest(ctx context.Context, query string, documents []string) ([]float64, error) {
	payload := rerankRequest{
		Model:           c.model,
		Query:           query,
		Documents:       documents,
		TopN:            len(documents),
		ReturnDocuments: false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	url := c.apiBase + providerDefaultsTable[c.cfg.Provider].endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.cfg.Provider == ProviderCohere {
		req.Header.Set("Cohere-Version", "2022-12-06")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		preview := string(respBody)
		if len(preview) > 300 {
			preview = preview[:300] + "…"
		}
		statusErr := &httpStatusError{status: resp.StatusCode, body: preview}
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			statusErr.retryAfter = d
			statusErr.hasRetryAfter = true
		}
		return nil, statusErr
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scores := make([]float64, len(documents))
	filled := 0
	for _, hit := range decoded.Results {
		if hit.Index < 0 || hit.Index >= len(documents) {
			continue
		}
		score := hit.RelevanceScore
		if score == 0 {
			score = hit.Score
		}
		scores[hit.Index] = score
		filled++
	}
	if filled != len(documents) {
		return nil, fmt.Errorf("rerank response scored %d/%d documents", filled, len(documents))
	}
	return scores, nil
}

func parseRetryAfter(header string) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseFloat(header, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), true
	}
	return 0, false
}
