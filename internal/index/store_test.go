package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alucardeht/scss-lsp/internal/symbols"
)

func newTestStore(t *testing.T) *IndexStore {
	t.Helper()
	store, err := NewIndexStore(filepath.Join(t.TempDir(), "cache", "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleIndex(path string) *symbols.Index {
	return &symbols.Index{
		Document: "file://" + path,
		Filepath: path,
		Variables: []symbols.Symbol{
			{Name: "$grid-columns", Kind: symbols.KindVariable, Offset: 0, Value: "12"},
			{Name: "$gutter", Kind: symbols.KindVariable, Offset: 19, Position: symbols.Position{Line: 1}, Value: "1rem"},
		},
		Mixins: []symbols.Symbol{
			{Name: "button", Kind: symbols.KindMixin, Offset: 40, Position: symbols.Position{Line: 3, Character: 7},
				Parameters: []string{"$size", "$color"}},
		},
		Functions: []symbols.Symbol{
			{Name: "rem", Kind: symbols.KindFunction, Offset: 80, Position: symbols.Position{Line: 6, Character: 10}},
		},
		Imports: []symbols.Import{
			{Target: "variables", Offset: 100, Position: symbols.Position{Line: 8, Character: 8}},
			{Target: "mixins/index", Offset: 121, Position: symbols.Position{Line: 9, Character: 8}},
			{Target: "theme", Namespace: "t", Offset: 143, Position: symbols.Position{Line: 10, Character: 5}},
		},
	}
}

func TestSaveAndLoadIndex(t *testing.T) {
	store := newTestStore(t)
	path := "/work/_grid.scss"
	want := sampleIndex(path)

	file := &IndexedFile{Path: path, URI: want.Document, ContentHash: "abc", Encoding: "utf-8"}
	require.NoError(t, store.SaveIndex(file, want))
	assert.NotZero(t, file.ID)
	assert.Equal(t, StatusIndexed, file.Status)

	got, err := store.LoadIndex(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, got)

	cached, err := store.GetFile(path)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "abc", cached.ContentHash)
	assert.Equal(t, "utf-8", cached.Encoding)
	assert.False(t, cached.IndexedAt.IsZero())
}

func TestSaveIndexReplacesPrevious(t *testing.T) {
	store := newTestStore(t)
	path := "/work/_grid.scss"

	require.NoError(t, store.SaveIndex(&IndexedFile{Path: path, URI: "file://" + path, ContentHash: "v1"}, sampleIndex(path)))

	smaller := &symbols.Index{
		Document:  "file://" + path,
		Filepath:  path,
		Variables: []symbols.Symbol{{Name: "$only", Kind: symbols.KindVariable}},
	}
	require.NoError(t, store.SaveIndex(&IndexedFile{Path: path, URI: "file://" + path, ContentHash: "v2"}, smaller))

	got, err := store.LoadIndex(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Variables, 1)
	assert.Empty(t, got.Mixins)
	assert.Empty(t, got.Imports)

	hits, err := store.SearchSymbols("gutter", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalFiles)
	assert.Equal(t, 1, stats.TotalSymbols)
}

func TestOlderCacheIsMigrated(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")
	store, err := NewIndexStore(dbPath)
	require.NoError(t, err)
	path := "/work/_grid.scss"
	require.NoError(t, store.SaveIndex(&IndexedFile{Path: path, URI: "file://" + path, ContentHash: "abc"}, sampleIndex(path)))

	// rewind to the version 1 layout
	for _, stmt := range []string{
		`ALTER TABLE imports DROP COLUMN namespace`,
		`DELETE FROM schema_version`,
		`INSERT INTO schema_version (version) VALUES (1)`,
	} {
		_, err := store.db.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	store, err = NewIndexStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cached, err := store.GetFile(path)
	require.NoError(t, err)
	assert.Nil(t, cached, "older entries are indexed again")

	want := sampleIndex(path)
	require.NoError(t, store.SaveIndex(&IndexedFile{Path: path, URI: want.Document, ContentHash: "abc"}, want))
	got, err := store.LoadIndex(path)
	require.NoError(t, err)
	assert.Equal(t, want.Imports, got.Imports)

	var version int
	require.NoError(t, store.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, SchemaVersion, version)
}

func TestGetFileMissing(t *testing.T) {
	store := newTestStore(t)

	file, err := store.GetFile("/nowhere.scss")
	require.NoError(t, err)
	assert.Nil(t, file)

	idx, err := store.LoadIndex("/nowhere.scss")
	require.NoError(t, err)
	assert.Nil(t, idx)
}

func TestMarkFileDropsSymbols(t *testing.T) {
	store := newTestStore(t)
	path := "/work/_grid.scss"
	require.NoError(t, store.SaveIndex(&IndexedFile{Path: path, URI: "file://" + path}, sampleIndex(path)))

	require.NoError(t, store.MarkFile(&IndexedFile{Path: path, URI: "file://" + path, Status: StatusFailed, ErrorMessage: "boom"}))

	idx, err := store.LoadIndex(path)
	require.NoError(t, err)
	assert.Nil(t, idx)

	failed, err := store.ListFiles(StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].ErrorMessage)

	indexed, err := store.ListFiles(StatusIndexed)
	require.NoError(t, err)
	assert.Empty(t, indexed)
}

func TestDeleteFile(t *testing.T) {
	store := newTestStore(t)
	path := "/work/_grid.scss"
	require.NoError(t, store.SaveIndex(&IndexedFile{Path: path, URI: "file://" + path}, sampleIndex(path)))

	require.NoError(t, store.DeleteFile(path))
	require.NoError(t, store.DeleteFile(path))

	file, err := store.GetFile(path)
	require.NoError(t, err)
	assert.Nil(t, file)

	hits, err := store.SearchSymbols("grid", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchSymbols(t *testing.T) {
	store := newTestStore(t)
	for _, path := range []string{"/work/_a.scss", "/work/_b.scss"} {
		require.NoError(t, store.SaveIndex(&IndexedFile{Path: path, URI: "file://" + path}, sampleIndex(path)))
	}

	hits, err := store.SearchSymbols("grid-col", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "$grid-columns", hits[0].Name)
	assert.Equal(t, symbols.KindVariable, hits[0].Kind)
	assert.Equal(t, "/work/_a.scss", hits[0].Path)
	assert.Equal(t, "/work/_b.scss", hits[1].Path)

	hits, err = store.SearchSymbols("butt", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, symbols.KindMixin, hits[0].Kind)
	assert.Equal(t, symbols.Position{Line: 3, Character: 7}, hits[0].Position)

	hits, err = store.SearchSymbols(`$"*`, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, `"grid col" *`, ftsQuery("$grid-col"))
	assert.Equal(t, `"größe" *`, ftsQuery("größe"))
	assert.Equal(t, "", ftsQuery(`"*()`))
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveIndex(&IndexedFile{Path: "/w/a.scss", URI: "file:///w/a.scss"}, sampleIndex("/w/a.scss")))
	require.NoError(t, store.MarkFile(&IndexedFile{Path: "/w/b.scss", URI: "file:///w/b.scss", Status: StatusSkipped}))
	require.NoError(t, store.MarkFile(&IndexedFile{Path: "/w/c.scss", URI: "file:///w/c.scss", Status: StatusFailed}))

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalFiles)
	assert.Equal(t, 1, stats.IndexedFiles)
	assert.Equal(t, 1, stats.SkippedFiles)
	assert.Equal(t, 1, stats.FailedFiles)
	assert.Equal(t, 4, stats.TotalSymbols)
	assert.False(t, stats.LastIndexedAt.IsZero())
}
