package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/bits-and-blooms/bitset"
	mmap "github.com/blevesearch/mmap-go"
	"golang.org/x/sync/errgroup"
)

// BinaryCodeWords is the number of uint64 words in a packed binary code.
// 4 words * 64 bits = 256-bit codes, matching the sign-bit projection of a
// dense embedding used for coarse Hamming retrieval.
const BinaryCodeWords = 4

// BinaryCodeBits is the bit width of a packed binary code.
const BinaryCodeBits = BinaryCodeWords * 64

// BinaryResult is a single Hamming-distance search hit.
type BinaryResult struct {
	ID       string
	Distance int     // Hamming distance, 0-256, lower is closer
	Score    float64 // 1 - distance/256
}

// BinarySearcher stores packed 256-bit codes and answers nearest-neighbor
// queries by Hamming distance. It is the coarse Stage 1 retriever in the
// binary cascade search strategies.
type BinarySearcher interface {
	Add(ctx context.Context, ids []string, codes [][BinaryCodeWords]uint64) error
	Search(ctx context.Context, query [BinaryCodeWords]uint64, k int) ([]*BinaryResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// FlatBinaryIndex is a flat (non-indexed) BinarySearcher: every query scans
// every live code. This is acceptable because binary codes are only ever
// used as the coarse stage of a cascade ahead of a cheap, small coarse_k,
// and Hamming distance on packed words is inexpensive enough that a linear
// scan parallelized across CPUs comfortably covers per-directory index
// sizes.
type FlatBinaryIndex struct {
	mu sync.RWMutex

	idMap  map[string]int // string ID -> slot
	keyMap map[int]string // slot -> string ID
	codes  []*bitset.BitSet
	live   []bool // codes[i] is tombstoned when live[i] is false
	free   []int  // tombstoned slots available for reuse

	closed bool
}

// NewFlatBinaryIndex creates an empty binary searcher.
func NewFlatBinaryIndex() *FlatBinaryIndex {
	return &FlatBinaryIndex{
		idMap:  make(map[string]int),
		keyMap: make(map[int]string),
	}
}

var _ BinarySearcher = (*FlatBinaryIndex)(nil)

func wordsToBitSet(words [BinaryCodeWords]uint64) *bitset.BitSet {
	b := bitset.New(BinaryCodeBits)
	for w, word := range words {
		for bit := 0; bit < 64; bit++ {
			if word&(1<<uint(bit)) != 0 {
				b.Set(uint(w*64 + bit))
			}
		}
	}
	return b
}

func bitSetToWords(b *bitset.BitSet) [BinaryCodeWords]uint64 {
	var out [BinaryCodeWords]uint64
	words := b.Bytes()
	copy(out[:], words)
	return out
}

// Add inserts or replaces packed codes by ID.
func (f *FlatBinaryIndex) Add(ctx context.Context, ids []string, codes [][BinaryCodeWords]uint64) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(codes) {
		return fmt.Errorf("ids and codes length mismatch: %d vs %d", len(ids), len(codes))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("binary index is closed")
	}

	for i, id := range ids {
		bs := wordsToBitSet(codes[i])
		if slot, exists := f.idMap[id]; exists {
			f.codes[slot] = bs
			f.live[slot] = true
			continue
		}

		var slot int
		if n := len(f.free); n > 0 {
			slot = f.free[n-1]
			f.free = f.free[:n-1]
			f.codes[slot] = bs
			f.live[slot] = true
		} else {
			slot = len(f.codes)
			f.codes = append(f.codes, bs)
			f.live = append(f.live, true)
		}
		f.idMap[id] = slot
		f.keyMap[slot] = id
	}

	return nil
}

// Search returns the k codes with the smallest Hamming distance to query.
func (f *FlatBinaryIndex) Search(ctx context.Context, query [BinaryCodeWords]uint64, k int) ([]*BinaryResult, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, fmt.Errorf("binary index is closed")
	}
	if k <= 0 {
		return []*BinaryResult{}, nil
	}

	qBits := wordsToBitSet(query)

	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	n := len(f.codes)
	if n == 0 {
		return []*BinaryResult{}, nil
	}
	chunk := (n + workers - 1) / workers

	partials := make([][]*BinaryResult, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		start := w * chunk
		end := start + chunk
		if start >= n {
			continue
		}
		if end > n {
			end = n
		}
		g.Go(func() error {
			local := make([]*BinaryResult, 0, end-start)
			for i := start; i < end; i++ {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				if !f.live[i] {
					continue
				}
				dist := int(qBits.SymmetricDifference(f.codes[i]).Count())
				local = append(local, &BinaryResult{
					ID:       f.keyMap[i],
					Distance: dist,
					Score:    1.0 - float64(dist)/float64(BinaryCodeBits),
				})
			}
			partials[w] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make([]*BinaryResult, 0, n)
	for _, p := range partials {
		all = append(all, p...)
	}

	// coarse_k is typically small relative to n so a full sort is
	// unnecessary, but a stable full sort keeps the implementation simple
	// and is still cheap at per-directory index sizes.
	sort.SliceStable(all, func(i, j int) bool { return all[i].Distance < all[j].Distance })
	if len(all) > k {
		all = all[:k]
	}
	return all, nil
}

// Delete tombstones codes by ID; the slot is reused by a future Add.
func (f *FlatBinaryIndex) Delete(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("binary index is closed")
	}

	for _, id := range ids {
		if slot, exists := f.idMap[id]; exists {
			f.live[slot] = false
			f.codes[slot] = nil
			delete(f.idMap, id)
			delete(f.keyMap, slot)
			f.free = append(f.free, slot)
		}
	}
	return nil
}

// AllIDs returns all live IDs in the index.
func (f *FlatBinaryIndex) AllIDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make([]string, 0, len(f.idMap))
	for id := range f.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live codes.
func (f *FlatBinaryIndex) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.idMap)
}

// binaryMetadata is the gob-persisted side-table: ID mappings and
// tombstones. The packed codes themselves live in the mmap'd flat file.
type binaryMetadata struct {
	IDMap map[string]int
	Live  []bool
	Free  []int
}

// Save persists the index as a flat packed-code file plus a metadata
// side-file, following the same temp-file-then-rename pattern as the
// vector store.
func (f *FlatBinaryIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return fmt.Errorf("binary index is closed")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create binary codes file: %w", err)
	}

	w := bufio.NewWriter(file)
	var wordBuf [BinaryCodeWords]uint64
	for _, bs := range f.codes {
		if bs == nil {
			wordBuf = [BinaryCodeWords]uint64{}
		} else {
			wordBuf = bitSetToWords(bs)
		}
		for _, word := range wordBuf {
			var b [8]byte
			for j := 0; j < 8; j++ {
				b[j] = byte(word >> (8 * j))
			}
			if _, err := w.Write(b[:]); err != nil {
				file.Close()
				os.Remove(tmpPath)
				return fmt.Errorf("write code: %w", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flush codes file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close codes file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename codes file: %w", err)
	}

	return f.saveMetadata(path + ".meta")
}

func (f *FlatBinaryIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := binaryMetadata{IDMap: f.idMap, Live: f.live, Free: f.free}
	enc := gob.NewEncoder(file)
	if err := enc.Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp metadata file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode binary metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load memory-maps the packed codes file read-only and reconstructs the
// in-memory bitsets plus ID mappings from the metadata side-file.
func (f *FlatBinaryIndex) Load(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("binary index is closed")
	}

	if err := f.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to load binary metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open codes file: %w", err)
	}
	defer file.Close()

	m, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to mmap codes file: %w", err)
	}
	defer func() {
		if err := m.Unmap(); err != nil {
			slog.Warn("failed to unmap codes file", slog.String("error", err.Error()))
		}
	}()

	recordSize := BinaryCodeWords * 8
	n := len(m) / recordSize
	f.codes = make([]*bitset.BitSet, n)
	for i := 0; i < n; i++ {
		var words [BinaryCodeWords]uint64
		for w := 0; w < BinaryCodeWords; w++ {
			off := i*recordSize + w*8
			var word uint64
			for j := 0; j < 8; j++ {
				word |= uint64(m[off+j]) << (8 * j)
			}
			words[w] = word
		}
		f.codes[i] = wordsToBitSet(words)
	}

	return nil
}

func (f *FlatBinaryIndex) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close binary metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta binaryMetadata
	dec := gob.NewDecoder(file)
	if err := dec.Decode(&meta); err != nil {
		return fmt.Errorf("decode binary metadata: %w", err)
	}

	f.idMap = meta.IDMap
	f.live = meta.Live
	f.free = meta.Free
	f.keyMap = make(map[int]string, len(f.idMap))
	for id, slot := range f.idMap {
		f.keyMap[slot] = id
	}

	return nil
}

// Close releases resources.
func (f *FlatBinaryIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	f.codes = nil
	return nil
}
