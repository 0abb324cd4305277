// Package wiring builds the production collaborators the chain and hybrid
// engines only see as interfaces: a backend.Handle from a project's actual
// metadata/BM25/vector stores, and a chain.Tree over it. Most projects index
// a single directory, so Tree here is a trivial one-node tree; a multi-root
// registry-backed Tree can implement the same interface without touching
// the chain or hybrid packages.
package wiring

import (
	"context"

	"github.com/Aman-CERP/amanmcp/internal/embed"
	"github.com/Aman-CERP/amanmcp/internal/search/backend"
	"github.com/Aman-CERP/amanmcp/internal/search/chain"
	"github.com/Aman-CERP/amanmcp/internal/store"
)

// singleDirTree is a chain.Tree over exactly one indexed directory. It has
// no children and resolves every source path to the same handle.
type singleDirTree struct {
	dirID  string
	handle *backend.Handle
}

// NewSingleDirTree wraps handle as a one-node chain.Tree, rooted at dirID.
// FindStartIndex accepts any sourcePath, since there is only one index to
// resolve to.
func NewSingleDirTree(dirID string, handle *backend.Handle) chain.Tree {
	return &singleDirTree{dirID: dirID, handle: handle}
}

func (t *singleDirTree) FindStartIndex(ctx context.Context, sourcePath string) (string, bool) {
	if t.handle == nil {
		return "", false
	}
	return t.dirID, true
}

func (t *singleDirTree) Subdirectories(ctx context.Context, dirID string) ([]string, error) {
	return nil, nil
}

func (t *singleDirTree) Handle(ctx context.Context, dirID string) *backend.Handle {
	if dirID != t.dirID {
		return nil
	}
	return t.handle
}

// HandleConfig bundles the collaborators a caller already constructed
// (metadata store, BM25 backends, vector store, embedder). Splade and
// binary retrieval are left unset here: SPLADE needs a sparse encoder
// model and binary needs nothing beyond the embedder, both external to
// this wiring helper, which callers can still set directly on the
// returned Handle.
type HandleConfig struct {
	Metadata store.MetadataStore
	Exact    store.BM25Index
	Fuzzy    store.BM25Index
	Vector   store.VectorStore
	Embedder embed.Embedder
}

// NewHandle builds a backend.Handle from cfg, also deriving a binary
// Hamming encoder from the embedder's sign bits when both an embedder and
// a binary index are supplied by the caller after construction. Binary
// retrieval is opt-in: callers that want it set Handle.Binary themselves
// and call WithSignBinaryEncoder.
func NewHandle(cfg HandleConfig) *backend.Handle {
	return &backend.Handle{
		Metadata: cfg.Metadata,
		Exact:    cfg.Exact,
		Fuzzy:    cfg.Fuzzy,
		Vector:   cfg.Vector,
		Embedder: cfg.Embedder,
	}
}

// WithSignBinaryEncoder attaches binary index idx to h, deriving its query
// encoder from h.Embedder's sign bits rather than a separately trained
// binary model. No-op if h.Embedder is nil.
func WithSignBinaryEncoder(h *backend.Handle, idx store.BinarySearcher) {
	if h == nil || h.Embedder == nil || idx == nil {
		return
	}
	h.Binary = idx
	h.BinaryEncoder = backend.SignBinaryEncoder{Embedder: h.Embedder}
}
