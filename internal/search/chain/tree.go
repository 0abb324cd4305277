// Package chain implements the Chain Search Engine: the whole-project
// orchestrator that resolves a source directory to its index, walks the
// directory-index tree, fans a query out to every descendant directory's
// Hybrid engine in parallel, and merges the per-directory results into
// one ranked, deduplicated list. It also implements the cascade search
// entry point (binary / dense_rerank / binary_rerank / hybrid strategies).
package chain

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/amanmcp/internal/search/backend"
)

// Tree resolves a source path to its starting directory index and walks
// the subdirectory-link table from there. Implementations correspond to
// the registry + path-mapper + per-directory index-database collaborators
// described in the spec's external-interfaces section; this package only
// depends on the behavioral contract below.
type Tree interface {
	// FindStartIndex resolves sourcePath to a directory ID: an exact
	// index for that path if one exists, otherwise the nearest ancestor
	// with an index. ok is false when no index covers sourcePath at all.
	FindStartIndex(ctx context.Context, sourcePath string) (dirID string, ok bool)

	// Subdirectories returns the direct child directory IDs linked from
	// dirID's index. An empty slice means dirID has no indexed children.
	Subdirectories(ctx context.Context, dirID string) ([]string, error)

	// Handle returns the backend handle for dirID, or nil if dirID's
	// index could not be opened (missing, locked, corrupt). A nil handle
	// is treated as "search this directory and get nothing", matching
	// the Python original's per-directory try/except-and-skip.
	Handle(ctx context.Context, dirID string) *backend.Handle
}

// collectDescendants walks tree depth-first from start, respecting depth
// (-1 unlimited, 0 = start only) and guarding against cycles with a
// visited set keyed by the resolved directory ID. Traversal order is
// deterministic: each directory's children are visited in the order
// Subdirectories returns them.
func collectDescendants(ctx context.Context, tree Tree, start string, depth int) []string {
	visited := make(map[string]bool)
	var collected []string

	var walk func(dirID string, currentDepth int)
	walk = func(dirID string, currentDepth int) {
		if visited[dirID] {
			return
		}
		visited[dirID] = true
		collected = append(collected, dirID)

		if depth >= 0 && currentDepth >= depth {
			return
		}

		children, err := tree.Subdirectories(ctx, dirID)
		if err != nil {
			slog.Warn("chain: failed to read subdirectories", slog.String("dir", dirID), slog.String("error", err.Error()))
			return
		}
		for _, child := range children {
			walk(child, currentDepth+1)
		}
	}
	walk(start, 0)
	return collected
}
