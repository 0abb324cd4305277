package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// SpladeVector is a sparse weighted term vector: vocabulary term ID to
// non-negative activation weight. SPLADE models emit these directly; the
// vocabulary is shared between queries and documents, so term IDs are
// comparable across both.
type SpladeVector map[uint32]float32

// SpladeResult is a single sparse-retrieval hit.
type SpladeResult struct {
	ID    string
	Score float64 // dot product of query and document vectors
}

// SpladeIndex is an inverted index over sparse term vectors, scored by dot
// product. Candidate generation uses per-term roaring postings lists so
// that a query only scores documents sharing at least one active term,
// rather than scanning the whole corpus.
type SpladeIndex interface {
	Add(ctx context.Context, id string, vec SpladeVector) error
	AddBatch(ctx context.Context, ids []string, vecs []SpladeVector) error
	Search(ctx context.Context, query SpladeVector, k int) ([]*SpladeResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// RoaringSpladeIndex implements SpladeIndex with a roaring-bitmap posting
// list per term and a document-vector table for final scoring.
type RoaringSpladeIndex struct {
	mu sync.RWMutex

	idMap  map[string]uint32 // string ID -> internal doc key
	keyMap map[uint32]string // internal doc key -> string ID
	nextID uint32

	postings map[uint32]*roaring.Bitmap // term ID -> doc keys with that term active
	vectors  map[uint32]SpladeVector    // doc key -> sparse vector

	closed bool
}

// NewRoaringSpladeIndex creates an empty sparse index.
func NewRoaringSpladeIndex() *RoaringSpladeIndex {
	return &RoaringSpladeIndex{
		idMap:    make(map[string]uint32),
		keyMap:   make(map[uint32]string),
		postings: make(map[uint32]*roaring.Bitmap),
		vectors:  make(map[uint32]SpladeVector),
	}
}

var _ SpladeIndex = (*RoaringSpladeIndex)(nil)

// Add inserts or replaces a document's sparse vector.
func (r *RoaringSpladeIndex) Add(ctx context.Context, id string, vec SpladeVector) error {
	return r.AddBatch(ctx, []string{id}, []SpladeVector{vec})
}

// AddBatch inserts or replaces several documents' sparse vectors.
func (r *RoaringSpladeIndex) AddBatch(ctx context.Context, ids []string, vecs []SpladeVector) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vecs) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vecs))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("splade index is closed")
	}

	for i, id := range ids {
		key, exists := r.idMap[id]
		if exists {
			r.removePostings(key)
		} else {
			key = r.nextID
			r.nextID++
			r.idMap[id] = key
			r.keyMap[key] = id
		}

		r.vectors[key] = vecs[i]
		for term := range vecs[i] {
			bm, ok := r.postings[term]
			if !ok {
				bm = roaring.New()
				r.postings[term] = bm
			}
			bm.Add(key)
		}
	}

	return nil
}

func (r *RoaringSpladeIndex) removePostings(key uint32) {
	for term := range r.vectors[key] {
		if bm, ok := r.postings[term]; ok {
			bm.Remove(key)
			if bm.IsEmpty() {
				delete(r.postings, term)
			}
		}
	}
}

// Search returns the k documents with the highest dot-product score
// against query, restricted to documents sharing at least one active
// term with the query.
func (r *RoaringSpladeIndex) Search(ctx context.Context, query SpladeVector, k int) ([]*SpladeResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("splade index is closed")
	}
	if k <= 0 || len(query) == 0 {
		return []*SpladeResult{}, nil
	}

	candidates := roaring.New()
	for term := range query {
		if bm, ok := r.postings[term]; ok {
			candidates.Or(bm)
		}
	}
	if candidates.IsEmpty() {
		return []*SpladeResult{}, nil
	}

	out := make([]*SpladeResult, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		key := it.Next()
		var score float64
		for term, qw := range query {
			if dw, ok := r.vectors[key][term]; ok {
				score += float64(qw) * float64(dw)
			}
		}
		out = append(out, &SpladeResult{ID: r.keyMap[key], Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Delete removes documents by ID.
func (r *RoaringSpladeIndex) Delete(ctx context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("splade index is closed")
	}

	for _, id := range ids {
		if key, exists := r.idMap[id]; exists {
			r.removePostings(key)
			delete(r.vectors, key)
			delete(r.idMap, id)
			delete(r.keyMap, key)
		}
	}
	return nil
}

// AllIDs returns all document IDs in the index.
func (r *RoaringSpladeIndex) AllIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.idMap))
	for id := range r.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of documents in the index.
func (r *RoaringSpladeIndex) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.idMap)
}

// spladeMetadata is the gob-persisted payload: ID mappings, document
// vectors, and the serialized postings bitmaps.
type spladeMetadata struct {
	IDMap    map[string]uint32
	NextID   uint32
	Vectors  map[uint32]SpladeVector
	Postings map[uint32][]byte // roaring bitmap binary encoding
}

// Save persists the index to a single gob file, temp-file-then-rename for
// atomicity.
func (r *RoaringSpladeIndex) Save(path string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("splade index is closed")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	postings := make(map[uint32][]byte, len(r.postings))
	for term, bm := range r.postings {
		buf, err := bm.ToBytes()
		if err != nil {
			return fmt.Errorf("serialize postings for term %d: %w", term, err)
		}
		postings[term] = buf
	}

	meta := spladeMetadata{
		IDMap:    r.idMap,
		NextID:   r.nextID,
		Vectors:  r.vectors,
		Postings: postings,
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp splade file: %w", err)
	}

	w := bufio.NewWriter(file)
	enc := gob.NewEncoder(w)
	if err := enc.Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp splade file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode splade index: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flush splade file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close splade file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Load restores the index from a file written by Save.
func (r *RoaringSpladeIndex) Load(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("splade index is closed")
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open splade file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close splade file", slog.String("error", err.Error()))
		}
	}()

	var meta spladeMetadata
	dec := gob.NewDecoder(bufio.NewReader(file))
	if err := dec.Decode(&meta); err != nil {
		return fmt.Errorf("decode splade index: %w", err)
	}

	r.idMap = meta.IDMap
	r.nextID = meta.NextID
	r.vectors = meta.Vectors
	r.keyMap = make(map[uint32]string, len(r.idMap))
	for id, key := range r.idMap {
		r.keyMap[key] = id
	}

	r.postings = make(map[uint32]*roaring.Bitmap, len(meta.Postings))
	for term, buf := range meta.Postings {
		bm := roaring.New()
		if _, err := bm.FromBuffer(buf); err != nil {
			return fmt.Errorf("decode postings for term %d: %w", term, err)
		}
		r.postings[term] = bm
	}

	return nil
}

// Close releases resources.
func (r *RoaringSpladeIndex) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.postings = nil
	r.vectors = nil
	return nil
}
