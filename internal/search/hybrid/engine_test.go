package hybrid

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

// testMetadataStore implements just enough of store.MetadataStore to drive
// chunk hydration for adapters; every other method is an unused stub.
type testMetadataStore struct {
	chunks map[string]*store.Chunk
}

func (m *testMetadataStore) SaveProject(ctx context.Context, p *store.Project) error { return nil }
func (m *testMetadataStore) GetProject(ctx context.Context, id string) (*store.Project, error) {
	return nil, nil
}
func (m *testMetadataStore) UpdateProjectStats(ctx context.Context, id string, f, c int) error {
	return nil
}
func (m *testMetadataStore) RefreshProjectStats(ctx context.Context, id string) error { return nil }
func (m *testMetadataStore) SaveFiles(ctx context.Context, files []*store.File) error { return nil }
func (m *testMetadataStore) GetFileByPath(ctx context.Context, projectID, path string) (*store.File, error) {
	return nil, nil
}
func (m *testMetadataStore) GetChangedFiles(ctx context.Context, projectID string, since time.Time) ([]*store.File, error) {
	return nil, nil
}
func (m *testMetadataStore) ListFiles(ctx context.Context, projectID, cursor string, limit int) ([]*store.File, string, error) {
	return nil, "", nil
}
func (m *testMetadataStore) GetFilePathsByProject(ctx context.Context, projectID string) ([]string, error) {
	return nil, nil
}
func (m *testMetadataStore) GetFilesForReconciliation(ctx context.Context, projectID string) (map[string]*store.File, error) {
	return nil, nil
}
func (m *testMetadataStore) ListFilePathsUnder(ctx context.Context, projectID, dirPrefix string) ([]string, error) {
	return nil, nil
}
func (m *testMetadataStore) DeleteFile(ctx context.Context, fileID string) error           { return nil }
func (m *testMetadataStore) DeleteFilesByProject(ctx context.Context, projectID string) error { return nil }
func (m *testMetadataStore) SaveChunks(ctx context.Context, chunks []*store.Chunk) error   { return nil }
func (m *testMetadataStore) GetChunk(ctx context.Context, id string) (*store.Chunk, error) {
	return m.chunks[id], nil
}
func (m *testMetadataStore) GetChunks(ctx context.Context, ids []string) ([]*store.Chunk, error) {
	out := make([]*store.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
func (m *testMetadataStore) GetChunksByFile(ctx context.Context, fileID string) ([]*store.Chunk, error) {
	return nil, nil
}
func (m *testMetadataStore) DeleteChunks(ctx context.Context, ids []string) error          { return nil }
func (m *testMetadataStore) DeleteChunksByFile(ctx context.Context, fileID string) error   { return nil }
func (m *testMetadataStore) SearchSymbols(ctx context.Context, name string, limit int) ([]*store.Symbol, error) {
	return nil, nil
}
func (m *testMetadataStore) GetState(ctx context.Context, key string) (string, error) { return "", nil }
func (m *testMetadataStore) SetState(ctx context.Context, key, value string) error    { return nil }
func (m *testMetadataStore) SaveChunkEmbeddings(ctx context.Context, ids []string, embeddings [][]float32, model string) error {
	return nil
}
func (m *testMetadataStore) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	return nil, nil
}
func (m *testMetadataStore) GetEmbeddingStats(ctx context.Context) (int, int, error) { return 0, 0, nil }
func (m *testMetadataStore) SaveIndexCheckpoint(ctx context.Context, stage string, total, embedded int, model string) error {
	return nil
}
func (m *testMetadataStore) LoadIndexCheckpoint(ctx context.Context) (*store.IndexCheckpoint, error) {
	return nil, nil
}
func (m *testMetadataStore) ClearIndexCheckpoint(ctx context.Context) error { return nil }
func (m *testMetadataStore) Close() error                                  { return nil }

type testBM25Index struct {
	hits []*store.BM25Result
}

func (t *testBM25Index) Index(ctx context.Context, docs []*store.Document) error { return nil }
func (t *testBM25Index) Search(ctx context.Context, query string, limit int) ([]*store.BM25Result, error) {
	return t.hits, nil
}
func (t *testBM25Index) Delete(ctx context.Context, docIDs []string) error { return nil }
func (t *testBM25Index) AllIDs() ([]string, error)                        { return nil, nil }
func (t *testBM25Index) Stats() *store.IndexStats                         { return &store.IndexStats{} }
func (t *testBM25Index) Save(path string) error                           { return nil }
func (t *testBM25Index) Load(path string) error                           { return nil }
func (t *testBM25Index) Close() error                                     { return nil }

func TestEngine_Search_FusesAcrossBackends(t *testing.T) {
	chunks := map[string]*store.Chunk{
		"c1": {ID: "c1", FilePath: "pkg/foo.go", Content: "func Foo() {}"},
		"c2": {ID: "c2", FilePath: "README.md", Content: "# Foo docs"},
	}
	meta := &testMetadataStore{chunks: chunks}
	exact := &testBM25Index{hits: []*store.BM25Result{{DocID: "c1", Score: -2.0}}}
	fuzzy := &testBM25Index{hits: []*store.BM25Result{{DocID: "c2", Score: -1.0}}}

	h := &backend.Handle{Metadata: meta, Exact: exact, Fuzzy: fuzzy}
	e := NewEngine(h)
	e.Category = nil // exercise the defaultCategory fallback path

	out, err := e.Search(context.Background(), "foo", search.SearchOptions{}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	paths := make(map[string]bool)
	for _, r := range out {
		paths[r.Path] = true
	}
	assert.True(t, paths["pkg/foo.go"])
}

func TestEngine_Search_NilHandleReturnsEmpty(t *testing.T) {
	e := NewEngine(nil)
	out, err := e.Search(context.Background(), "foo", search.SearchOptions{}, 10)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestEngine_Search_RespectsLimit(t *testing.T) {
	chunks := map[string]*store.Chunk{}
	hits := make([]*store.BM25Result, 0, 30)
	for i := 0; i < 30; i++ {
		id := "c" + string(rune('a'+i))
		chunks[id] = &store.Chunk{ID: id, FilePath: id + ".go", Content: "x"}
		hits = append(hits, &store.BM25Result{DocID: id, Score: -float64(i)})
	}
	meta := &testMetadataStore{chunks: chunks}
	exact := &testBM25Index{hits: hits}

	h := &backend.Handle{Metadata: meta, Exact: exact}
	e := NewEngine(h)

	out, err := e.Search(context.Background(), "x", search.SearchOptions{}, 5)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), 5)
}

func TestCategoryForPath(t *testing.T) {
	assert.Equal(t, "code", categoryForPath("main.go"))
	assert.Equal(t, "doc", categoryForPath("README.md"))
	assert.Equal(t, "doc", categoryForPath("noextension"))
}
