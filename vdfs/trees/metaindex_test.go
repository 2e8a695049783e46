package trees

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metaFile(id string, size int64, modified time.Time) *FileEntry {
	f := NewFileEntry(id, "", id+".bin")
	f.Metadata.Size = size
	f.Metadata.CreatedAt = modified
	f.Metadata.ModifiedAt = modified
	return f
}

func TestMetadataIndex_RangeSearch(t *testing.T) {
	stamp := time.Date(2012, 6, 15, 12, 0, 0, 0, time.UTC)

	idx := NewMetadataIndex()
	idx.Insert(metaFile("file:small", 100, stamp))
	idx.Insert(metaFile("file:medium", 200, stamp))
	idx.Insert(metaFile("file:huge", 5000, stamp))

	probe, ok := NewEntryPoint(metaFile("file:probe", 150, stamp))
	require.True(t, ok)

	results := idx.RangeSearch(probe, 100)

	ids := make([]string, 0, len(results))
	for _, e := range results {
		ids = append(ids, e.GetResourceID())
	}
	assert.ElementsMatch(t, []string{"file:small", "file:medium"}, ids,
		"Only entries within the size radius should match")
}

func TestMetadataIndex_NearestNeighbors(t *testing.T) {
	stamp := time.Date(2012, 6, 15, 12, 0, 0, 0, time.UTC)

	idx := NewMetadataIndex()
	idx.Insert(metaFile("file:a", 100, stamp))
	idx.Insert(metaFile("file:b", 1000, stamp))
	idx.Insert(metaFile("file:c", 10000, stamp))

	probe, ok := NewEntryPoint(metaFile("file:probe", 950, stamp))
	require.True(t, ok)

	results := idx.NearestNeighbors(probe, 1)
	require.Len(t, results, 1)
	assert.Equal(t, "file:b", results[0].GetResourceID())
}

func TestMetadataIndex_InsertRemoveLifecycle(t *testing.T) {
	stamp := time.Date(2012, 6, 15, 12, 0, 0, 0, time.UTC)

	idx := NewMetadataIndex()

	// Entries with no modification time are not worth indexing.
	idx.Insert(NewFileEntry("file:bare", "", "bare.txt"))
	assert.Zero(t, idx.Size())

	idx.Insert(metaFile("file:x", 100, stamp))
	idx.Insert(metaFile("file:y", 200, stamp))
	assert.Equal(t, 2, idx.Size())

	idx.Remove("file:x")
	idx.Remove("file:never-indexed")
	assert.Equal(t, 1, idx.Size())

	probe, ok := NewEntryPoint(metaFile("file:probe", 100, stamp))
	require.True(t, ok)
	results := idx.RangeSearch(probe, 50)
	assert.Empty(t, results, "A removed entry must not come back from searches")
}

func TestMetadataIndex_EmptyIndexSearches(t *testing.T) {
	idx := NewMetadataIndex()

	probe, ok := NewEntryPoint(metaFile("file:probe", 1, time.Now()))
	require.True(t, ok)

	assert.Nil(t, idx.RangeSearch(probe, 10))
	assert.Nil(t, idx.NearestNeighbors(probe, 3))
}
