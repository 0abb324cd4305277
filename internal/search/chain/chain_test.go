package chain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/search/backend"
	"github.com/Aman-CERP/amanmcp/internal/store"
)

// fakeTree is an in-memory Tree for tests: a small directory graph with
// one Handle per directory.
type fakeTree struct {
	start    map[string]string // sourcePath -> dirID
	children map[string][]string
	handles  map[string]*backend.Handle
}

func (f *fakeTree) FindStartIndex(ctx context.Context, sourcePath string) (string, bool) {
	d, ok := f.start[sourcePath]
	return d, ok
}

func (f *fakeTree) Subdirectories(ctx context.Context, dirID string) ([]string, error) {
	return f.children[dirID], nil
}

func (f *fakeTree) Handle(ctx context.Context, dirID string) *backend.Handle {
	return f.handles[dirID]
}

type fakeMeta struct {
	chunks map[string]*store.Chunk
}

func (m *fakeMeta) SaveProject(ctx context.Context, p *store.Project) error { return nil }
func (m *fakeMeta) GetProject(ctx context.Context, id string) (*store.Project, error) {
	return nil, nil
}
func (m *fakeMeta) UpdateProjectStats(ctx context.Context, id string, f, c int) error { return nil }
func (m *fakeMeta) RefreshProjectStats(ctx context.Context, id string) error          { return nil }
func (m *fakeMeta) SaveFiles(ctx context.Context, files []*store.File) error          { return nil }
func (m *fakeMeta) GetFileByPath(ctx context.Context, projectID, path string) (*store.File, error) {
	return nil, nil
}
func (m *fakeMeta) GetChangedFiles(ctx context.Context, projectID string, since time.Time) ([]*store.File, error) {
	return nil, nil
}
func (m *fakeMeta) GetChunks(ctx context.Context, ids []string) ([]*store.Chunk, error) {
	out := make([]*store.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
func (m *fakeMeta) GetChunk(ctx context.Context, id string) (*store.Chunk, error) { return m.chunks[id], nil }
func (m *fakeMeta) GetChunksByFile(ctx context.Context, fileID string) ([]*store.Chunk, error) {
	return nil, nil
}
func (m *fakeMeta) SaveChunks(ctx context.Context, chunks []*store.Chunk) error { return nil }
func (m *fakeMeta) DeleteChunks(ctx context.Context, ids []string) error       { return nil }
func (m *fakeMeta) DeleteChunksByFile(ctx context.Context, fileID string) error { return nil }
func (m *fakeMeta) SearchSymbols(ctx context.Context, name string, limit int) ([]*store.Symbol, error) {
	return nil, nil
}
func (m *fakeMeta) GetState(ctx context.Context, key string) (string, error) { return "", nil }
func (m *fakeMeta) SetState(ctx context.Context, key, value string) error    { return nil }
func (m *fakeMeta) SaveChunkEmbeddings(ctx context.Context, ids []string, embeddings [][]float32, model string) error {
	return nil
}
func (m *fakeMeta) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	return nil, nil
}
func (m *fakeMeta) GetEmbeddingStats(ctx context.Context) (int, int, error) { return 0, 0, nil }
func (m *fakeMeta) SaveIndexCheckpoint(ctx context.Context, stage string, total, embedded int, model string) error {
	return nil
}
func (m *fakeMeta) LoadIndexCheckpoint(ctx context.Context) (*store.IndexCheckpoint, error) {
	return nil, nil
}
func (m *fakeMeta) ClearIndexCheckpoint(ctx context.Context) error { return nil }
func (m *fakeMeta) Close() error                                  { return nil }
func (m *fakeMeta) ListFiles(ctx context.Context, projectID, cursor string, limit int) ([]*store.File, string, error) {
	return nil, "", nil
}
func (m *fakeMeta) GetFilePathsByProject(ctx context.Context, projectID string) ([]string, error) {
	return nil, nil
}
func (m *fakeMeta) GetFilesForReconciliation(ctx context.Context, projectID string) (map[string]*store.File, error) {
	return nil, nil
}
func (m *fakeMeta) ListFilePathsUnder(ctx context.Context, projectID, dirPrefix string) ([]string, error) {
	return nil, nil
}
func (m *fakeMeta) DeleteFile(ctx context.Context, fileID string) error            { return nil }
func (m *fakeMeta) DeleteFilesByProject(ctx context.Context, projectID string) error { return nil }

type fakeBM25 struct{ hits []*store.BM25Result }

func (f *fakeBM25) Index(ctx context.Context, docs []*store.Document) error { return nil }
func (f *fakeBM25) Search(ctx context.Context, query string, limit int) ([]*store.BM25Result, error) {
	return f.hits, nil
}
func (f *fakeBM25) Delete(ctx context.Context, docIDs []string) error { return nil }
func (f *fakeBM25) AllIDs() ([]string, error)                        { return nil, nil }
func (f *fakeBM25) Stats() *store.IndexStats                         { return &store.IndexStats{} }
func (f *fakeBM25) Save(path string) error                           { return nil }
func (f *fakeBM25) Load(path string) error                           { return nil }
func (f *fakeBM25) Close() error                                     { return nil }

func TestEngine_Search_MergesAcrossDirectories(t *testing.T) {
	rootChunks := map[string]*store.Chunk{"r1": {ID: "r1", FilePath: "root.go", Content: "root"}}
	subChunks := map[string]*store.Chunk{"s1": {ID: "s1", FilePath: "sub/sub.go", Content: "sub"}}

	tree := &fakeTree{
		start:    map[string]string{"/proj": "root"},
		children: map[string][]string{"root": {"sub"}},
		handles: map[string]*backend.Handle{
			"root": {Metadata: &fakeMeta{chunks: rootChunks}, Exact: &fakeBM25{hits: []*store.BM25Result{{DocID: "r1", Score: -1}}}},
			"sub":  {Metadata: &fakeMeta{chunks: subChunks}, Exact: &fakeBM25{hits: []*store.BM25Result{{DocID: "s1", Score: -1}}}},
		},
	}

	e := NewEngine(tree)
	result, err := e.Search(context.Background(), "x", "/proj", search.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.DirsSearched)

	paths := make(map[string]bool)
	for _, r := range result.Results {
		paths[r.Path] = true
	}
	assert.True(t, paths["root.go"])
	assert.True(t, paths["sub/sub.go"])
}

func TestEngine_Search_UnknownSourceReturnsEmpty(t *testing.T) {
	tree := &fakeTree{start: map[string]string{}}
	e := NewEngine(tree)

	result, err := e.Search(context.Background(), "x", "/missing", search.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Results)
	assert.Equal(t, 0, result.Stats.DirsSearched)
}

func TestCollectDescendants_GuardsCycles(t *testing.T) {
	tree := &fakeTree{
		children: map[string][]string{
			"a": {"b"},
			"b": {"a"}, // cycle
		},
	}
	got := collectDescendants(context.Background(), tree, "a", -1)
	assert.ElementsMatch(t, []string{"a", "b"}, got)
}

func TestCollectDescendants_RespectsDepth(t *testing.T) {
	tree := &fakeTree{
		children: map[string][]string{
			"a": {"b"},
			"b": {"c"},
		},
	}
	got := collectDescendants(context.Background(), tree, "a", 0)
	assert.Equal(t, []string{"a"}, got)

	got = collectDescendants(context.Background(), tree, "a", 1)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestMergeAndRank_DedupesKeepingMaxScore(t *testing.T) {
	results := []*search.SearchResult{
		{Path: "a.go", Score: 0.5},
		{Path: "a.go", Score: 0.9},
		{Path: "b.go", Score: 0.7},
	}
	out := mergeAndRank(results, 10, 0)
	require.Len(t, out, 2)
	assert.Equal(t, "a.go", out[0].Path)
	assert.Equal(t, 0.9, out[0].Score)
}

func TestMergeAndRank_AppliesOffsetAndLimit(t *testing.T) {
	results := []*search.SearchResult{
		{Path: "a.go", Score: 0.9},
		{Path: "b.go", Score: 0.8},
		{Path: "c.go", Score: 0.7},
	}
	out := mergeAndRank(results, 1, 1)
	require.Len(t, out, 1)
	assert.Equal(t, "b.go", out[0].Path)
}

func TestFilterByExtension_CodeOnlyDropsNonCode(t *testing.T) {
	results := []*search.SearchResult{
		{Path: "main.go", Score: 1},
		{Path: "README.md", Score: 1},
	}
	out := filterByExtension(results, true, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "main.go", out[0].Path)
}

func TestFilterByExtension_ExplicitExclusions(t *testing.T) {
	results := []*search.SearchResult{
		{Path: "main.go", Score: 1},
		{Path: "main.test.go", Score: 1},
	}
	out := filterByExtension(results, false, []string{".go"})
	assert.Empty(t, out)
}

func TestGroupSimilarResults_ClustersNearDuplicates(t *testing.T) {
	results := []*search.SearchResult{
		{Path: "a.go", Score: 0.91},
		{Path: "b.go", Score: 0.90},
		{Path: "c.go", Score: 0.10},
	}
	out := groupSimilarResults(results, 0.05)
	require.Len(t, out, 2)
	assert.Equal(t, "a.go", out[0].Path)
	grouped, ok := out[0].Metadata["grouped_results"].([]*search.SearchResult)
	require.True(t, ok)
	require.Len(t, grouped, 1)
	assert.Equal(t, "b.go", grouped[0].Path)
}

func TestCascadeSearch_BinaryFallsBackToHybridWithoutBinaryIndex(t *testing.T) {
	chunks := map[string]*store.Chunk{"r1": {ID: "r1", FilePath: "root.go", Content: "root"}}
	tree := &fakeTree{
		start: map[string]string{"/proj": "root"},
		handles: map[string]*backend.Handle{
			"root": {Metadata: &fakeMeta{chunks: chunks}, Exact: &fakeBM25{hits: []*store.BM25Result{{DocID: "r1", Score: -1}}}},
		},
	}
	e := NewEngine(tree)

	result, err := e.CascadeSearch(context.Background(), "root", "/proj", 5, 20, search.SearchOptions{}, search.CascadeBinary)
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestDedupSymbols_RemovesDuplicatesAndSortsByName(t *testing.T) {
	symbols := []*search.Symbol{
		{Name: "Zeta", Kind: "function", StartLine: 1, EndLine: 2},
		{Name: "Alpha", Kind: "function", StartLine: 1, EndLine: 2},
		{Name: "Alpha", Kind: "function", StartLine: 1, EndLine: 2},
	}
	out := dedupSymbols(symbols)
	require.Len(t, out, 2)
	assert.Equal(t, "Alpha", out[0].Name)
	assert.Equal(t, "Zeta", out[1].Name)
}
