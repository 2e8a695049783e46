package feed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_StoreAndLoadAll(t *testing.T) {
	cache, err := NewCache(t.TempDir(), nil)
	require.NoError(t, err)

	// Store out of order; LoadAll must come back in page order.
	require.NoError(t, cache.Store(2, page(120, feedFile("file:3", "", "c.txt"))))
	require.NoError(t, cache.Store(0, page(100, feedFile("file:1", "", "a.txt"))))
	require.NoError(t, cache.Store(1, page(110, feedFile("file:2", "", "b.txt"))))

	pages, err := cache.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, pages, 3)

	assert.Equal(t, int64(100), pages[0].LargestChangestamp)
	assert.Equal(t, int64(110), pages[1].LargestChangestamp)
	assert.Equal(t, int64(120), pages[2].LargestChangestamp)
	require.Len(t, pages[1].Entries, 1)
	assert.Equal(t, "b.txt", pages[1].Entries[0].Title)
}

func TestCache_OverwriteIsAtomicPerPage(t *testing.T) {
	cache, err := NewCache(t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, cache.Store(0, page(100, feedFile("file:1", "", "old.txt"))))
	require.NoError(t, cache.Store(0, page(200, feedFile("file:1", "", "new.txt"))))

	pages, err := cache.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "new.txt", pages[0].Entries[0].Title, "A re-stored page replaces the old one")
}

func TestCache_EmptyAndClear(t *testing.T) {
	cache, err := NewCache(t.TempDir(), nil)
	require.NoError(t, err)

	pages, err := cache.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pages, "An empty cache loads no pages")

	require.NoError(t, cache.Store(0, page(100)))
	require.NoError(t, cache.Clear())

	pages, err = cache.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pages, "Clear should drop every cached page")
}

func TestCache_RoundTripThroughReconciler(t *testing.T) {
	cache, err := NewCache(t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, cache.Store(0, page(100,
		feedFolder("folder:dir1", "", "dir"),
		feedFile("file:1", "folder:dir1", "file.txt"),
	)))

	pages, err := cache.LoadAll(context.Background())
	require.NoError(t, err)

	r, ds := newTestReconciler(t)
	_, err = r.ApplyFeeds(pages, 0, 100)
	require.NoError(t, err)

	got, ok := ds.Tree().FindByPath("/drive/dir/file.txt")
	require.True(t, ok, "Cached pages should reconcile identically to fresh ones")
	assert.Equal(t, "file:1", got.GetResourceID())
}
