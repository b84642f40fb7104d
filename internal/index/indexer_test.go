package index

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-docqa/internal/ai/testutil"
	"gopherai-docqa/internal/model"
	"gopherai-docqa/internal/platform/sqlite"
	"gopherai-docqa/internal/storage"
)

func newTestIndexer(t *testing.T, embedder *testutil.HashEmbedder) (*Indexer, ChunkStore) {
	t.Helper()
	store := NewFileChunkStore(storage.NewLayout(t.TempDir()))
	return NewIndexer(store, embedder, Config{ChunkSize: 200, ChunkOverlap: 40}, nil), store
}

func TestIndexer_BuildRejectsBlankText(t *testing.T) {
	x, _ := newTestIndexer(t, &testutil.HashEmbedder{})
	_, err := x.Build(context.Background(), "u1", "d1", "  \n\t ")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestIndexer_BuildRejectsNoiseOnly(t *testing.T) {
	x, _ := newTestIndexer(t, &testutil.HashEmbedder{})
	_, err := x.Build(context.Background(), "u1", "d1", "tiny")
	assert.ErrorIs(t, err, ErrNoChunksProduced)
}

func TestIndexer_BuildPersistsChunks(t *testing.T) {
	x, store := newTestIndexer(t, &testutil.HashEmbedder{})
	ix, err := x.Build(context.Background(), "u1", "d1", longText(20))
	require.NoError(t, err)
	require.Greater(t, len(ix.Chunks), 1)

	persisted, err := store.Load(context.Background(), "u1", "d1")
	require.NoError(t, err)
	assert.Equal(t, ix.Chunks, persisted)
	for i, c := range persisted {
		assert.Equal(t, i, c.Index)
		assert.GreaterOrEqual(t, len(c.Content), MinChunkLength)
	}
}

func TestIndexer_LoadMissingIsNotAnError(t *testing.T) {
	x, _ := newTestIndexer(t, &testutil.HashEmbedder{})
	ix, ok, err := x.Load(context.Background(), "u1", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, ix)
}

func TestIndexer_LoadEmbedsOnceAndCaches(t *testing.T) {
	embedder := &testutil.HashEmbedder{Delay: 5 * time.Millisecond}
	x, _ := newTestIndexer(t, embedder)
	built, err := x.Build(context.Background(), "u1", "d1", longText(20))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ix, ok, err := x.Load(context.Background(), "u1", "d1")
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Len(t, ix.Chunks, len(built.Chunks))
		}()
	}
	wg.Wait()

	assert.Equal(t, len(built.Chunks), embedder.Calls(), "concurrent loads must share one build")

	_, _, err = x.Load(context.Background(), "u1", "d1")
	require.NoError(t, err)
	assert.Equal(t, len(built.Chunks), embedder.Calls(), "later loads hit the cache")
}

func TestIndexer_RebuildInvalidatesCache(t *testing.T) {
	x, _ := newTestIndexer(t, &testutil.HashEmbedder{})
	ctx := context.Background()

	_, err := x.Build(ctx, "u1", "d1", "The first version of this document is about apples and orchards.")
	require.NoError(t, err)
	ix, _, err := x.Load(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Contains(t, ix.Chunks[0].Content, "apples")

	_, err = x.Build(ctx, "u1", "d1", "The second version of this document is about bananas and plantations.")
	require.NoError(t, err)
	ix, _, err = x.Load(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Contains(t, ix.Chunks[0].Content, "bananas")
}

func TestIndexer_LoadPropagatesEmbeddingFailure(t *testing.T) {
	embedder := &testutil.HashEmbedder{}
	x, _ := newTestIndexer(t, embedder)
	_, err := x.Build(context.Background(), "u1", "d1", longText(5))
	require.NoError(t, err)

	embedder.Err = errors.New("backend down")
	_, ok, err := x.Load(context.Background(), "u1", "d1")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestIndexer_LoadEmbedsInBatches(t *testing.T) {
	embedder := &testutil.BatchHashEmbedder{}
	store := NewFileChunkStore(storage.NewLayout(t.TempDir()))
	x := NewIndexer(store, embedder, Config{ChunkSize: 200, ChunkOverlap: 40, EmbedBatchSize: 3}, nil)
	ctx := context.Background()

	built, err := x.Build(ctx, "u1", "d1", longText(20))
	require.NoError(t, err)
	require.Greater(t, len(built.Chunks), 3)

	ix, ok, err := x.Load(ctx, "u1", "d1")
	require.NoError(t, err)
	require.True(t, ok)

	sizes := embedder.BatchSizes()
	assert.Len(t, sizes, (len(built.Chunks)+2)/3)
	total := 0
	for _, n := range sizes {
		assert.LessOrEqual(t, n, 3)
		total += n
	}
	assert.Equal(t, len(built.Chunks), total)
	assert.Zero(t, embedder.Calls(), "no single-text calls when batching is available")

	query, err := embedder.Embed(ctx, built.Chunks[len(built.Chunks)-1].Content)
	require.NoError(t, err)
	results := ix.Search(query, 1)
	require.Len(t, results, 1)
	assert.Equal(t, len(built.Chunks)-1, results[0].Chunk.Index)

	embedder.Err = errors.New("backend down")
	_, err = x.Build(ctx, "u1", "d2", longText(5))
	require.NoError(t, err)
	_, ok, err = x.Load(ctx, "u1", "d2")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestIndexer_Delete(t *testing.T) {
	x, _ := newTestIndexer(t, &testutil.HashEmbedder{})
	ctx := context.Background()
	_, err := x.Build(ctx, "u1", "d1", longText(5))
	require.NoError(t, err)
	_, ok, err := x.Load(ctx, "u1", "d1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, x.Delete(ctx, "u1", "d1"))
	_, ok, err = x.Load(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndex_SearchRanksBySimilarity(t *testing.T) {
	embedder := &testutil.HashEmbedder{}
	x, _ := newTestIndexer(t, embedder)
	ctx := context.Background()
	text := strings.Join([]string{
		"The tenant shall pay rent on the first day of each month.",
		"The landlord is responsible for structural repairs to the roof.",
		"Either party may terminate this lease with sixty days written notice.",
	}, "\n\n")
	x.splitter = NewSplitter(80, 0)
	_, err := x.Build(ctx, "u1", "d1", text)
	require.NoError(t, err)

	ix, ok, err := x.Load(ctx, "u1", "d1")
	require.NoError(t, err)
	require.True(t, ok)

	query, err := embedder.Embed(ctx, "how do I terminate the lease with notice")
	require.NoError(t, err)
	results := ix.Search(query, 2)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Chunk.Content, "terminate")
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestChunkStores(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sqliteStore, err := NewSQLiteChunkStore(ctx, db)
	require.NoError(t, err)

	stores := map[string]ChunkStore{
		"file":   NewFileChunkStore(storage.NewLayout(t.TempDir())),
		"sqlite": sqliteStore,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(ctx, "u1", "d1")
			assert.ErrorIs(t, err, storage.ErrNotFound)

			first := []model.Chunk{{Index: 0, Content: "alpha"}, {Index: 1, Content: "beta"}, {Index: 2, Content: "gamma"}}
			require.NoError(t, store.Save(ctx, "u1", "d1", first))
			second := []model.Chunk{{Index: 0, Content: "delta"}}
			require.NoError(t, store.Save(ctx, "u1", "d1", second))

			got, err := store.Load(ctx, "u1", "d1")
			require.NoError(t, err)
			assert.Equal(t, second, got, "save overwrites the previous chunk set")

			_, err = store.Load(ctx, "u2", "d1")
			assert.ErrorIs(t, err, storage.ErrNotFound)

			require.NoError(t, store.Delete(ctx, "u1", "d1"))
			_, err = store.Load(ctx, "u1", "d1")
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}
