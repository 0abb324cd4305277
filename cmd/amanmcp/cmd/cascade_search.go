package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanmcp/internal/config"
	"github.com/Aman-CERP/amanmcp/internal/embed"
	"github.com/Aman-CERP/amanmcp/internal/logging"
	"github.com/Aman-CERP/amanmcp/internal/output"
	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/search/chain"
	"github.com/Aman-CERP/amanmcp/internal/search/rerank"
	"github.com/Aman-CERP/amanmcp/internal/search/wiring"
	"github.com/Aman-CERP/amanmcp/internal/store"
)

// cascadeSearchOptions holds CLI flags for the two-stage cascade search.
type cascadeSearchOptions struct {
	limit    int
	coarseK  int
	strategy string
	format   string
}

func newCascadeSearchCmd() *cobra.Command {
	var opts cascadeSearchOptions

	cmd := &cobra.Command{
		Use:   "cascade-search <query>",
		Short: "Two-stage cascade search (coarse candidate generation + fine rerank)",
		Long: `Runs the chain search engine's cascade retrieval: a cheap coarse ranker
(binary Hamming or dense HNSW) narrows the index to coarseK candidates,
then a fine ranker (embedding cosine or cross-encoder) reorders them
down to the final limit.

Strategies: binary, dense_rerank, binary_rerank, hybrid.
A binary or binary_rerank cascade with no binary index built falls back
to hybrid automatically.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runCascadeSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().IntVar(&opts.coarseK, "coarse-k", 100, "Candidates kept from the coarse stage")
	cmd.Flags().StringVar(&opts.strategy, "strategy", "", "Cascade strategy: binary, dense_rerank, binary_rerank, hybrid (default: config or binary)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runCascadeSearch(ctx context.Context, cmd *cobra.Command, query string, opts cascadeSearchOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	dataDir := filepath.Join(root, ".amanmcp")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return fmt.Errorf("no index found. Run 'amanmcp index' first")
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25Config := store.DefaultBM25Config()
	exact, err := store.NewBM25IndexWithBackend(bm25BasePath, bm25Config, cfg.Search.BM25Backend)
	if err != nil {
		return fmt.Errorf("failed to open BM25 index: %w", err)
	}
	defer func() { _ = exact.Close() }()

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	existingDims, err := store.ReadHNSWStoreDimensions(vectorPath)
	if err != nil {
		existingDims = 0
	}

	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})
	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()
	dimensions := embedder.Dimensions()
	slog.Debug("cascade_search_embedder", slog.Int("dimensions", dimensions), slog.Int("existing_dims", existingDims))

	vectorConfig := store.DefaultVectorStoreConfig(dimensions)
	vector, err := store.NewHNSWStore(vectorConfig)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()
	if _, err := os.Stat(vectorPath); err == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Debug("vector_load_failed", slog.String("error", loadErr.Error()))
		}
	}

	handle := wiring.NewHandle(wiring.HandleConfig{
		Metadata: metadata,
		Exact:    exact,
		Vector:   vector,
		Embedder: embedder,
	})

	binaryPath := filepath.Join(dataDir, "binary.idx")
	if _, err := os.Stat(binaryPath); err == nil {
		binaryIdx := store.NewFlatBinaryIndex()
		if loadErr := binaryIdx.Load(binaryPath); loadErr == nil {
			wiring.WithSignBinaryEncoder(handle, binaryIdx)
		}
	}

	tree := wiring.NewSingleDirTree(root, handle)
	engine := chain.NewEngine(tree)
	engine.EmbeddingReranker = rerank.NewEmbeddingReranker(embedder)
	if cfg.Search.Reranker.EnableCrossEncoderRerank {
		ceCfg := rerank.DefaultCrossEncoderConfig(rerank.CrossEncoderProvider(cfg.Search.Reranker.Backend))
		if cfg.Search.Reranker.Model != "" {
			ceCfg.Model = cfg.Search.Reranker.Model
		}
		if cfg.Search.Reranker.MaxInputTokens > 0 {
			ceCfg.MaxInputTokens = cfg.Search.Reranker.MaxInputTokens
		}
		if ce, ceErr := rerank.NewCrossEncoderReranker(ceCfg, nil); ceErr == nil {
			engine.CrossEncoderReranker = ce
		} else {
			slog.Warn("cross_encoder_reranker_unavailable", slog.String("error", ceErr.Error()))
		}
	}

	strategy := search.CascadeStrategy(opts.strategy)
	if strategy == "" {
		strategy = search.CascadeStrategy(cfg.Search.Cascade.Strategy)
	}
	coarseK := opts.coarseK
	if coarseK <= 0 {
		coarseK = cfg.Search.Cascade.CoarseK
	}

	result, err := engine.CascadeSearch(ctx, query, root, opts.limit, coarseK, search.SearchOptions{}, strategy)
	if err != nil {
		return fmt.Errorf("cascade search failed: %w", err)
	}

	if len(result.Results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	for i, r := range result.Results {
		out.Status("", fmt.Sprintf("%d. %s:%d-%d (score %.4f)", i+1, r.Path, r.StartLine, r.EndLine, r.Score))
		if r.Excerpt != "" {
			out.Status("", "   "+r.Excerpt)
		}
	}
	return nil
}
