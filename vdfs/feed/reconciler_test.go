package feed

import (
	"testing"
	"time"

	"github.com/ZanzyTHEbar/virtual-drivefs/vdfs/trees"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedFolder(id, parentID, title string) *DocumentEntry {
	return &DocumentEntry{
		SelfLink:   id,
		ParentLink: parentID,
		Title:      title,
		Kind:       KindFolder,
	}
}

func feedFile(id, parentID, title string) *DocumentEntry {
	return &DocumentEntry{
		SelfLink:   id,
		ParentLink: parentID,
		Title:      title,
		Kind:       KindFile,
		Size:       512,
		MD5:        "0cc175b9c0f1b6a831c399e269772661",
		ModifiedAt: time.Date(2011, 4, 1, 18, 34, 8, 0, time.UTC),
	}
}

func deletedDoc(id string) *DocumentEntry {
	return &DocumentEntry{SelfLink: id, Deleted: true}
}

func page(changestamp int64, docs ...*DocumentEntry) *FeedPage {
	return &FeedPage{Entries: docs, LargestChangestamp: changestamp}
}

func newTestReconciler(t *testing.T, opts ...ReconcilerOption) (*Reconciler, *trees.DirectoryService) {
	t.Helper()
	ds := trees.NewDirectoryService()
	return NewReconciler(ds, opts...), ds
}

func TestReconciler_FullSnapshot(t *testing.T) {
	t.Run("builds the tree and reports every populated directory", func(t *testing.T) {
		r, ds := newTestReconciler(t)

		changed, err := r.ApplyFeeds([]*FeedPage{page(100,
			feedFolder("folder:dir1", "", "dir"),
			feedFile("file:1", "folder:dir1", "file.txt"),
		)}, 0, 100)
		require.NoError(t, err)

		assert.ElementsMatch(t, []string{"/drive", "/drive/dir"}, changed.Paths())
		assert.Equal(t, int64(100), ds.LargestChangestamp(), "Full feed should adopt the root feed changestamp")

		dir := ds.GetEntryByResourceID("folder:dir1")
		require.NotNil(t, dir)
		assert.Equal(t, "/drive/dir", trees.EntryPath(dir))

		file, ok := ds.Tree().FindByPath("/drive/dir/file.txt")
		require.True(t, ok)
		assert.Equal(t, "file:1", file.GetResourceID())
	})

	t.Run("replaying an identical snapshot changes nothing", func(t *testing.T) {
		r, ds := newTestReconciler(t)

		snapshot := func() []*FeedPage {
			return []*FeedPage{page(100,
				feedFolder("folder:dir1", "", "dir"),
				feedFile("file:1", "folder:dir1", "file.txt"),
			)}
		}

		_, err := r.ApplyFeeds(snapshot(), 0, 100)
		require.NoError(t, err)

		changed, err := r.ApplyFeeds(snapshot(), 0, 100)
		require.NoError(t, err)

		assert.Zero(t, changed.Len(), "An unchanged snapshot should report no changed directories")
		assert.Equal(t, 2, ds.Tree().EntryCount())
	})

	t.Run("entries missing from a resync are deleted", func(t *testing.T) {
		r, ds := newTestReconciler(t)

		_, err := r.ApplyFeeds([]*FeedPage{page(100,
			feedFolder("folder:dir1", "", "dir"),
			feedFile("file:1", "folder:dir1", "file.txt"),
			feedFile("file:2", "", "loose.txt"),
		)}, 0, 100)
		require.NoError(t, err)

		// The resync no longer lists file:1 or file:2.
		changed, err := r.ApplyFeeds([]*FeedPage{page(150,
			feedFolder("folder:dir1", "", "dir"),
		)}, 0, 150)
		require.NoError(t, err)

		assert.Nil(t, ds.GetEntryByResourceID("file:1"), "Entry absent from the resync should be removed")
		assert.Nil(t, ds.GetEntryByResourceID("file:2"))
		assert.True(t, changed.Contains("/drive/dir"), "A removed file's former directory should be reported")
		assert.True(t, changed.Contains("/drive"), "The root should be reported for its removed child")
		assert.Equal(t, int64(150), ds.LargestChangestamp())
	})

	t.Run("a resync sweeping a directory reports its whole subtree", func(t *testing.T) {
		r, ds := newTestReconciler(t)

		_, err := r.ApplyFeeds([]*FeedPage{page(100,
			feedFolder("folder:outer", "", "outer"),
			feedFolder("folder:inner", "folder:outer", "inner"),
			feedFile("file:deep", "folder:inner", "deep.txt"),
		)}, 0, 100)
		require.NoError(t, err)

		changed, err := r.ApplyFeeds([]*FeedPage{page(200)}, 0, 200)
		require.NoError(t, err)

		assert.Equal(t, 0, ds.Tree().EntryCount(), "An empty snapshot should empty the tree")
		assert.True(t, changed.Contains("/drive/outer"))
		assert.True(t, changed.Contains("/drive/outer/inner"), "Descendant directories of a swept subtree should be reported")
	})
}

func TestReconciler_DeltaFeeds(t *testing.T) {
	seed := func(t *testing.T) (*Reconciler, *trees.DirectoryService) {
		t.Helper()
		r, ds := newTestReconciler(t)
		_, err := r.ApplyFeeds([]*FeedPage{page(100,
			feedFolder("folder:dir1", "", "dir"),
			feedFile("file:1", "folder:dir1", "file.txt"),
		)}, 0, 100)
		require.NoError(t, err)
		return r, ds
	}

	t.Run("a rename reports only the containing directory", func(t *testing.T) {
		r, ds := seed(t)

		renamed := feedFile("file:1", "folder:dir1", "renamed.txt")
		changed, err := r.ApplyFeeds([]*FeedPage{page(120, renamed)}, 100, 0)
		require.NoError(t, err)

		assert.ElementsMatch(t, []string{"/drive/dir"}, changed.Paths())

		got := ds.GetEntryByResourceID("file:1")
		require.NotNil(t, got)
		assert.Equal(t, "renamed.txt", got.GetTitle())
		assert.Equal(t, int64(120), ds.LargestChangestamp(), "Delta should advance the changestamp to the feed maximum")
	})

	t.Run("a move reports both directories", func(t *testing.T) {
		r, ds := seed(t)
		_, err := r.ApplyFeeds([]*FeedPage{page(110, feedFolder("folder:dir2", "", "dir2"))}, 100, 0)
		require.NoError(t, err)

		moved := feedFile("file:1", "folder:dir2", "file.txt")
		changed, err := r.ApplyFeeds([]*FeedPage{page(120, moved)}, 110, 0)
		require.NoError(t, err)

		assert.ElementsMatch(t, []string{"/drive/dir", "/drive/dir2"}, changed.Paths())
		got, ok := ds.Tree().FindByPath("/drive/dir2/file.txt")
		require.True(t, ok)
		assert.Equal(t, "file:1", got.GetResourceID())
	})

	t.Run("a deletion removes the entry and reports its directory", func(t *testing.T) {
		r, ds := seed(t)

		changed, err := r.ApplyFeeds([]*FeedPage{page(130, deletedDoc("file:1"))}, 100, 0)
		require.NoError(t, err)

		assert.Nil(t, ds.GetEntryByResourceID("file:1"))
		assert.ElementsMatch(t, []string{"/drive/dir"}, changed.Paths())
	})

	t.Run("a directory rename carries its subtree in the changed set", func(t *testing.T) {
		r, ds := seed(t)

		changed, err := r.ApplyFeeds([]*FeedPage{page(140, feedFolder("folder:dir1", "", "dir-renamed"))}, 100, 0)
		require.NoError(t, err)

		assert.True(t, changed.Contains("/drive/dir"), "The directory's former path should be reported")
		assert.True(t, changed.Contains("/drive/dir-renamed"), "The directory's new path should be reported")
		assert.True(t, changed.Contains("/drive"), "The parent of a renamed directory sees a changed child list")

		got, ok := ds.Tree().FindByPath("/drive/dir-renamed/file.txt")
		require.True(t, ok, "Children should survive a directory replacement")
		assert.Equal(t, "file:1", got.GetResourceID())
	})

	t.Run("deltas never advance the changestamp backwards", func(t *testing.T) {
		r, ds := seed(t)

		_, err := r.ApplyFeeds([]*FeedPage{page(90, feedFile("file:1", "folder:dir1", "late.txt"))}, 100, 0)
		require.NoError(t, err)

		assert.Equal(t, int64(100), ds.LargestChangestamp(), "A stale feed changestamp should not lower the high-water mark")
	})

	t.Run("deltas do not sweep entries missing from the batch", func(t *testing.T) {
		r, ds := seed(t)

		_, err := r.ApplyFeeds([]*FeedPage{page(120, feedFile("file:new", "folder:dir1", "new.txt"))}, 100, 0)
		require.NoError(t, err)

		assert.NotNil(t, ds.GetEntryByResourceID("file:1"), "Delta feeds list only what changed; the rest must survive")
	})
}

func TestReconciler_LastWriteWins(t *testing.T) {
	r, ds := newTestReconciler(t)

	// Two occurrences of the same resource ID across pages of one batch;
	// the later one must win.
	changed, err := r.ApplyFeeds([]*FeedPage{
		page(100, feedFile("file:dup", "", "first.txt")),
		page(100, feedFile("file:dup", "", "second.txt")),
	}, 0, 100)
	require.NoError(t, err)

	got := ds.GetEntryByResourceID("file:dup")
	require.NotNil(t, got)
	assert.Equal(t, "second.txt", got.GetTitle(), "The last occurrence in the batch should win")
	assert.Equal(t, 1, ds.Tree().EntryCount(), "Duplicate IDs should collapse to a single entry")
	assert.True(t, changed.Contains("/drive"))
}

func TestReconciler_Orphans(t *testing.T) {
	t.Run("an unresolvable parent pools the entry without failing the batch", func(t *testing.T) {
		r, ds := newTestReconciler(t)

		changed, err := r.ApplyFeeds([]*FeedPage{page(100,
			feedFile("file:g", "folder:missing", "g.txt"),
		)}, 0, 100)
		require.NoError(t, err, "Unresolvable parents are expected, not fatal")

		assert.Nil(t, ds.GetEntryByResourceID("file:g"), "Orphans must stay out of the authoritative tree")
		assert.NotNil(t, ds.GetOrCreateOrphanPool().GetEntryByResourceID("file:g"))
		assert.Zero(t, changed.Len(), "A pooled orphan touches no tree directory")
	})

	t.Run("an orphan attaches once its parent arrives", func(t *testing.T) {
		r, ds := newTestReconciler(t)

		_, err := r.ApplyFeeds([]*FeedPage{page(100,
			feedFile("file:g", "folder:late", "g.txt"),
		)}, 0, 100)
		require.NoError(t, err)

		// The next delta delivers the parent and re-delivers the child.
		changed, err := r.ApplyFeeds([]*FeedPage{page(120,
			feedFolder("folder:late", "", "late"),
			feedFile("file:g", "folder:late", "g.txt"),
		)}, 100, 0)
		require.NoError(t, err)

		got, ok := ds.Tree().FindByPath("/drive/late/g.txt")
		require.True(t, ok, "The orphan should attach under its materialized parent")
		assert.Equal(t, "file:g", got.GetResourceID())
		assert.Nil(t, ds.GetOrCreateOrphanPool().GetEntryByResourceID("file:g"), "The pooled copy should be dropped on attachment")
		assert.True(t, changed.Contains("/drive/late"))
	})

	t.Run("an entry whose parent disappears moves from tree to pool", func(t *testing.T) {
		r, ds := newTestReconciler(t)

		_, err := r.ApplyFeeds([]*FeedPage{page(100,
			feedFolder("folder:dir1", "", "dir"),
			feedFile("file:1", "folder:dir1", "file.txt"),
		)}, 0, 100)
		require.NoError(t, err)

		// A delta reparents the file under a folder this client never saw.
		changed, err := r.ApplyFeeds([]*FeedPage{page(120,
			feedFile("file:1", "folder:unknown", "file.txt"),
		)}, 100, 0)
		require.NoError(t, err)

		assert.Nil(t, ds.GetEntryByResourceID("file:1"), "The stale tree copy must not linger")
		assert.NotNil(t, ds.GetOrCreateOrphanPool().GetEntryByResourceID("file:1"))
		assert.True(t, changed.Contains("/drive/dir"), "Removing the stale copy changes its old directory")
	})

	t.Run("a parent that is not a directory orphans the child", func(t *testing.T) {
		r, ds := newTestReconciler(t)

		_, err := r.ApplyFeeds([]*FeedPage{page(100,
			feedFile("file:host", "", "host.txt"),
			feedFile("file:child", "file:host", "child.txt"),
		)}, 0, 100)
		require.NoError(t, err)

		assert.Nil(t, ds.GetEntryByResourceID("file:child"))
		assert.NotNil(t, ds.GetOrCreateOrphanPool().GetEntryByResourceID("file:child"))
	})

	t.Run("a parent cycle degrades to orphans instead of recursing", func(t *testing.T) {
		r, ds := newTestReconciler(t)

		_, err := r.ApplyFeeds([]*FeedPage{page(100,
			feedFolder("folder:a", "folder:b", "a"),
			feedFolder("folder:b", "folder:a", "b"),
		)}, 0, 100)
		require.NoError(t, err, "Mutually-parented directories must not loop forever")

		pool := ds.GetOrCreateOrphanPool()
		assert.NotNil(t, pool.GetEntryByResourceID("folder:a"))
		assert.NotNil(t, pool.GetEntryByResourceID("folder:b"))
	})

	t.Run("a full resync drops orphans missing from the snapshot", func(t *testing.T) {
		r, ds := newTestReconciler(t)

		_, err := r.ApplyFeeds([]*FeedPage{page(100,
			feedFolder("folder:d", "", "d"),
		)}, 0, 100)
		require.NoError(t, err)

		// A delta pools an entry whose parent this client never sees.
		_, err = r.ApplyFeeds([]*FeedPage{page(120,
			feedFile("file:g", "folder:ghost", "g.txt"),
		)}, 100, 0)
		require.NoError(t, err)
		require.NotNil(t, ds.GetOrCreateOrphanPool().GetEntryByResourceID("file:g"))

		// The remote deletes the entry; the next resync omits it entirely.
		_, err = r.ApplyFeeds([]*FeedPage{page(0,
			feedFolder("folder:d", "", "d"),
		)}, 0, 130)
		require.NoError(t, err)

		assert.Nil(t, ds.GetOrCreateOrphanPool().GetEntryByResourceID("file:g"),
			"An orphan absent from a full snapshot no longer exists remotely")
	})

	t.Run("a full resync keeps orphans the snapshot still carries", func(t *testing.T) {
		r, ds := newTestReconciler(t)

		_, err := r.ApplyFeeds([]*FeedPage{page(120,
			feedFile("file:g", "folder:ghost", "g.txt"),
		)}, 100, 0)
		require.NoError(t, err)

		_, err = r.ApplyFeeds([]*FeedPage{page(0,
			feedFile("file:g", "folder:ghost", "g.txt"),
		)}, 0, 130)
		require.NoError(t, err)

		assert.NotNil(t, ds.GetOrCreateOrphanPool().GetEntryByResourceID("file:g"),
			"An orphan re-delivered by the snapshot stays pooled")
	})
}

func TestReconciler_DuplicateTitles(t *testing.T) {
	t.Run("twin titles in one directory occupy distinct paths", func(t *testing.T) {
		r, ds := newTestReconciler(t)

		_, err := r.ApplyFeeds([]*FeedPage{page(100,
			feedFolder("folder:d", "", "d"),
			feedFile("file:1", "folder:d", "a.txt"),
			feedFile("file:2", "folder:d", "a.txt"),
		)}, 0, 100)
		require.NoError(t, err)

		first, ok := ds.Tree().FindByPath("/drive/d/a.txt")
		require.True(t, ok)
		assert.Equal(t, "file:1", first.GetResourceID())
		second, ok := ds.Tree().FindByPath("/drive/d/a.txt (2)")
		require.True(t, ok, "The colliding title should be de-duplicated, not shadowed")
		assert.Equal(t, "file:2", second.GetResourceID())
	})

	t.Run("a resync dropping one twin keeps the survivor reachable", func(t *testing.T) {
		r, ds := newTestReconciler(t)

		_, err := r.ApplyFeeds([]*FeedPage{page(100,
			feedFolder("folder:d", "", "d"),
			feedFile("file:1", "folder:d", "a.txt"),
			feedFile("file:2", "folder:d", "a.txt"),
		)}, 0, 100)
		require.NoError(t, err)

		_, err = r.ApplyFeeds([]*FeedPage{page(0,
			feedFolder("folder:d", "", "d"),
			feedFile("file:1", "folder:d", "a.txt"),
		)}, 0, 150)
		require.NoError(t, err)

		require.NotNil(t, ds.GetEntryByResourceID("file:1"))
		found, ok := ds.Tree().FindByPath("/drive/d/a.txt")
		require.True(t, ok, "The surviving twin must stay visible in the path index")
		assert.Equal(t, "file:1", found.GetResourceID())
		_, ok = ds.Tree().FindByPath("/drive/d/a.txt (2)")
		assert.False(t, ok, "The removed twin's path should be released")
	})
}

func TestReconciler_BatchParentOrdering(t *testing.T) {
	r, ds := newTestReconciler(t)

	// The child sorts before its parent by resource ID; topological
	// resolution must still attach it correctly.
	changed, err := r.ApplyFeeds([]*FeedPage{page(100,
		feedFile("file:aaa", "folder:zzz", "child.txt"),
		feedFolder("folder:zzz", "", "parent"),
	)}, 0, 100)
	require.NoError(t, err)

	got, ok := ds.Tree().FindByPath("/drive/parent/child.txt")
	require.True(t, ok, "A parent later in the batch should still be applied before its children")
	assert.Equal(t, "file:aaa", got.GetResourceID())
	assert.True(t, changed.Contains("/drive/parent"))
}

func TestReconciler_FeedToEntryMap(t *testing.T) {
	r, _ := newTestReconciler(t)

	entryMap, changestamp, stats, err := r.FeedToEntryMap([]*FeedPage{
		page(90,
			feedFolder("folder:d", "", "d"),
			feedFile("file:f", "folder:d", "f.txt"),
			&DocumentEntry{SelfLink: "document:hosted", Title: "notes", Kind: KindDocument},
			&DocumentEntry{Title: "no-self-link"},
		),
		page(110, deletedDoc("file:gone")),
		nil,
	})
	require.NoError(t, err)

	assert.Len(t, entryMap, 4)
	assert.Equal(t, int64(110), changestamp, "The batch changestamp is the maximum across pages")
	assert.Equal(t, 1, stats.NumDirectories)
	assert.Equal(t, 1, stats.NumRegularFiles)
	assert.Equal(t, 1, stats.NumHostedDocuments)
	assert.Equal(t, 1, stats.NumDeleted)
	assert.Equal(t, 1, stats.NumUnprocessable, "An entry without a resource ID is unprocessable")

	hosted, ok := entryMap["document:hosted"]
	require.True(t, ok)
	assert.Equal(t, trees.KindHostedDocument, hosted.GetKind())
	assert.Zero(t, hosted.GetMetadata().Size, "Hosted documents carry no byte content")
}

func TestReconciler_Filtering(t *testing.T) {
	t.Run("ignored titles never reach the tree", func(t *testing.T) {
		r, ds := newTestReconciler(t, WithIgnoreList(NewIgnoreList("*.bak")))

		_, err := r.ApplyFeeds([]*FeedPage{page(100,
			feedFile("file:junk", "", ".DS_Store"),
			feedFile("file:bak", "", "old.bak"),
			feedFile("file:keep", "", "keep.txt"),
		)}, 0, 100)
		require.NoError(t, err)

		assert.Nil(t, ds.GetEntryByResourceID("file:junk"), "Default patterns should filter OS junk")
		assert.Nil(t, ds.GetEntryByResourceID("file:bak"), "Extra patterns should filter too")
		assert.NotNil(t, ds.GetEntryByResourceID("file:keep"))
	})

	t.Run("hosted documents can be hidden wholesale", func(t *testing.T) {
		r, ds := newTestReconciler(t, WithHideHostedDocuments(true))

		_, err := r.ApplyFeeds([]*FeedPage{page(100,
			&DocumentEntry{SelfLink: "document:sheet", Title: "budget", Kind: KindSpreadsheet},
			feedFile("file:plain", "", "plain.txt"),
		)}, 0, 100)
		require.NoError(t, err)

		assert.Nil(t, ds.GetEntryByResourceID("document:sheet"))
		assert.NotNil(t, ds.GetEntryByResourceID("file:plain"))
	})
}

func TestReconciler_ChangedDirsAreUnique(t *testing.T) {
	r, _ := newTestReconciler(t)

	// Many files landing in the same directory must collapse to one path.
	changed, err := r.ApplyFeeds([]*FeedPage{page(100,
		feedFolder("folder:dir1", "", "dir"),
		feedFile("file:1", "folder:dir1", "a.txt"),
		feedFile("file:2", "folder:dir1", "b.txt"),
		feedFile("file:3", "folder:dir1", "c.txt"),
	)}, 0, 100)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"/drive", "/drive/dir"}, changed.Paths())
}
