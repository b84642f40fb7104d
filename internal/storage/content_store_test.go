package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := NewContentStore(NewLayout(t.TempDir()))

	require.NoError(t, store.Save(ctx, "u1", "d1", "hello\nworld"))
	text, err := store.Load(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", text)
}

func TestContentStore_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	first := NewContentStore(NewLayout(root))
	require.NoError(t, first.Save(ctx, "u1", "d1", "durable text"))

	restarted := NewContentStore(NewLayout(root))
	text, err := restarted.Load(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Equal(t, "durable text", text)
}

func TestContentStore_NotFound(t *testing.T) {
	store := NewContentStore(NewLayout(t.TempDir()))
	_, err := store.Load(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContentStore_DeleteRemovesBothLayers(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewContentStore(NewLayout(root))

	require.NoError(t, store.Save(ctx, "u1", "d1", "text"))
	require.NoError(t, store.Delete(ctx, "u1", "d1"))

	_, err := store.Load(ctx, "u1", "d1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = os.Stat(filepath.Join(root, "u1", "content", "d1.txt"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, store.Delete(ctx, "u1", "d1"))
}

func TestContentStore_RejectsTraversal(t *testing.T) {
	store := NewContentStore(NewLayout(t.TempDir()))
	err := store.Save(context.Background(), "../etc", "d1", "x")
	assert.ErrorIs(t, err, ErrInvalidID)
	err = store.Save(context.Background(), "u1", "a/b", "x")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestContentStore_ConcurrentSaveIsAtomic(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewContentStore(NewLayout(root))

	versions := make([]string, 8)
	for i := range versions {
		versions[i] = strings.Repeat(fmt.Sprintf("v%d-", i), 2000)
	}

	var wg sync.WaitGroup
	for _, v := range versions {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			assert.NoError(t, store.Save(ctx, "u1", "d1", v))
		}(v)
	}
	wg.Wait()

	fresh := NewContentStore(NewLayout(root))
	got, err := fresh.Load(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Contains(t, versions, got)

	entries, err := os.ReadDir(filepath.Join(root, "u1", "content"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestBlobStore(t *testing.T) {
	ctx := context.Background()
	store := NewBlobStore(NewLayout(t.TempDir()))

	require.NoError(t, store.Save(ctx, "u1", "d1", []byte{1, 2, 3}))
	data, err := store.Load(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	require.NoError(t, store.Delete(ctx, "u1", "d1"))
	_, err = store.Load(ctx, "u1", "d1")
	assert.ErrorIs(t, err, ErrNotFound)
}
