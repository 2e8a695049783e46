package trees

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Structural errors shared by tree mutators.
var (
	ErrEmptyResourceID         = errors.New("entry resource ID cannot be empty")
	ErrDuplicateResourceID     = errors.New("resource ID already present in tree")
	ErrEntryNotFound           = errors.New("entry not found in tree")
	ErrStructuralInconsistency = errors.New("tree structure is inconsistent")
)

// DirectoryTree is the local mirror of the remote hierarchical file store,
// rooted at a sentinel root directory. It maintains a resource-ID map (every
// attached entry has exactly one owner and a unique ID), a patricia path
// index for O(k) path lookups, and a metadata KD index for range queries.
//
// The tree guards its internal indexes with a mutex, but multi-step
// structural edits (detach-then-reattach, subtree removal) are not atomic;
// callers that mutate the tree concurrently must serialize externally.
type DirectoryTree struct {
	Root *DirectoryEntry

	resourceMap map[string]Entry
	pathIndex   *PatriciaPathIndex
	metaIndex   *MetadataIndex

	largestChangestamp int64

	metrics *TreeMetrics
	logger  *slog.Logger
	mu      sync.Mutex
}

// TreeOption allows for customization of DirectoryTree
type TreeOption func(*DirectoryTree)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) TreeOption {
	return func(dt *DirectoryTree) {
		dt.logger = logger
	}
}

// WithRootResourceID overrides the sentinel root's resource ID. The orphan
// pool uses this so pool lookups never alias the main tree's root.
func WithRootResourceID(resourceID string) TreeOption {
	return func(dt *DirectoryTree) {
		delete(dt.resourceMap, dt.Root.ResourceID)
		dt.Root.ResourceID = resourceID
		dt.resourceMap[resourceID] = dt.Root
	}
}

func NewDirectoryTree(opts ...TreeOption) *DirectoryTree {
	dt := &DirectoryTree{
		Root:        newRootDirectory(),
		resourceMap: make(map[string]Entry),
		pathIndex:   NewPatriciaPathIndex(),
		metaIndex:   NewMetadataIndex(),
		metrics: &TreeMetrics{
			OperationCounts: make(map[string]int64),
			LastUpdated:     time.Now(),
		},
		logger: slog.Default(),
	}

	dt.resourceMap[dt.Root.ResourceID] = dt.Root
	dt.pathIndex.Insert(dt.Root)

	for _, opt := range opts {
		opt(dt)
	}

	return dt
}

// GetEntryByResourceID returns the attached entry carrying the given
// resource ID, or nil when the ID is unknown to this tree.
func (dt *DirectoryTree) GetEntryByResourceID(resourceID string) Entry {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	entry, ok := dt.resourceMap[resourceID]
	if !ok {
		return nil
	}
	return entry
}

// FindByPath performs O(k) path lookup using the patricia index.
func (dt *DirectoryTree) FindByPath(path string) (Entry, bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	return dt.pathIndex.Lookup(path)
}

// EntryCount returns the number of attached entries, excluding the root.
func (dt *DirectoryTree) EntryCount() int {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	return len(dt.resourceMap) - 1
}

// ResourceIDs returns the resource IDs of all attached entries, excluding
// the root. The returned slice is a snapshot.
func (dt *DirectoryTree) ResourceIDs() []string {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	ids := make([]string, 0, len(dt.resourceMap)-1)
	for id := range dt.resourceMap {
		if id == dt.Root.ResourceID {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// AddEntry attaches a detached entry as a child of dir. The entry must carry
// a non-empty resource ID not already present in the tree, and dir must
// itself be attached. Ownership of the entry transfers to the tree.
func (dt *DirectoryTree) AddEntry(dir *DirectoryEntry, entry Entry) error {
	if entry.GetResourceID() == "" {
		return ErrEmptyResourceID
	}

	dt.mu.Lock()
	defer dt.mu.Unlock()

	if _, ok := dt.resourceMap[entry.GetResourceID()]; ok {
		return fmt.Errorf("cannot add %q: %w", entry.GetResourceID(), ErrDuplicateResourceID)
	}
	if dir != dt.Root {
		if attached, ok := dt.resourceMap[dir.ResourceID]; !ok || attached != Entry(dir) {
			return fmt.Errorf("destination %q: %w", dir.ResourceID, ErrEntryNotFound)
		}
	}

	dir.addChild(entry)
	dt.registerSubtree(entry)
	dt.metrics.OperationCounts["add_entry"]++
	dt.metrics.LastUpdated = time.Now()

	dt.logger.Debug("entry attached",
		"resource_id", entry.GetResourceID(),
		"parent", dir.ResourceID,
		"path", EntryPath(entry))

	return nil
}

// RemoveEntry detaches entry from its parent and destroys its subtree,
// releasing every affected resource ID. Removing an entry that is not
// actually a child of its recorded parent is a structural inconsistency.
func (dt *DirectoryTree) RemoveEntry(entry Entry) error {
	parent := entry.GetParent()
	if parent == nil {
		return fmt.Errorf("cannot remove %q: %w", entry.GetResourceID(), ErrEntryNotFound)
	}

	dt.mu.Lock()
	defer dt.mu.Unlock()

	path := EntryPath(entry)
	if !parent.removeChild(entry) {
		return fmt.Errorf("entry %q not a child of %q: %w",
			entry.GetResourceID(), parent.ResourceID, ErrStructuralInconsistency)
	}
	dt.unregisterSubtree(entry, path)
	dt.metrics.OperationCounts["remove_entry"]++
	dt.metrics.LastUpdated = time.Now()

	return nil
}

// MoveEntry reparents entry (and its subtree) under newParent, keeping
// resource IDs registered and refreshing subtree paths.
func (dt *DirectoryTree) MoveEntry(entry Entry, newParent *DirectoryEntry) error {
	parent := entry.GetParent()
	if parent == nil {
		return fmt.Errorf("cannot move %q: %w", entry.GetResourceID(), ErrEntryNotFound)
	}

	dt.mu.Lock()
	defer dt.mu.Unlock()

	oldPath := EntryPath(entry)
	if !parent.removeChild(entry) {
		return fmt.Errorf("entry %q not a child of %q: %w",
			entry.GetResourceID(), parent.ResourceID, ErrStructuralInconsistency)
	}
	dt.unregisterSubtreePaths(entry, oldPath)

	newParent.addChild(entry)
	dt.registerSubtree(entry)
	dt.metrics.OperationCounts["move_entry"]++

	return nil
}

// ReplaceEntry supersedes old with replacement under dir. When both are
// directories the replacement takes over the old node's children, so a
// directory refresh does not destroy a subtree that is still live. The old
// entry is destroyed. Replacing an entry that is not actually a child of its
// recorded parent is a structural inconsistency.
func (dt *DirectoryTree) ReplaceEntry(old Entry, dir *DirectoryEntry, replacement Entry) error {
	if replacement.GetResourceID() == "" {
		return ErrEmptyResourceID
	}
	parent := old.GetParent()
	if parent == nil {
		return fmt.Errorf("cannot replace %q: %w", old.GetResourceID(), ErrEntryNotFound)
	}

	dt.mu.Lock()
	defer dt.mu.Unlock()

	oldPath := EntryPath(old)
	if !parent.removeChild(old) {
		return fmt.Errorf("entry %q not a child of %q: %w",
			old.GetResourceID(), parent.ResourceID, ErrStructuralInconsistency)
	}
	dt.unregisterSubtree(old, oldPath)

	// A directory superseded by a directory hands its children to the
	// replacement before it is destroyed.
	oldDir := old.AsDirectory()
	newDir := replacement.AsDirectory()
	if oldDir != nil && newDir != nil {
		for _, child := range oldDir.Children {
			newDir.addChild(child)
		}
		oldDir.Children = nil
		for _, file := range oldDir.Files {
			newDir.addChild(file)
		}
		oldDir.Files = nil
	}

	dir.addChild(replacement)
	dt.registerSubtree(replacement)
	dt.metrics.OperationCounts["replace_entry"]++
	dt.metrics.LastUpdated = time.Now()

	return nil
}

// CollectSubtreePaths returns the directory paths of dir and every
// descendant directory. Path collection is deliberately separate from
// removal so callers can report a removed subtree before destroying it.
func (dt *DirectoryTree) CollectSubtreePaths(dir *DirectoryEntry) []string {
	var paths []string
	dt.collectDirPaths(dir, EntryPath(dir), &paths)
	return paths
}

func (dt *DirectoryTree) collectDirPaths(dir *DirectoryEntry, currentPath string, paths *[]string) {
	*paths = append(*paths, currentPath)
	for _, child := range dir.Children {
		dt.collectDirPaths(child, currentPath+"/"+child.GetBaseName(), paths)
	}
}

// Walk implements TreeWalker with context and metrics
func (dt *DirectoryTree) Walk(ctx context.Context) error {
	start := time.Now()
	defer func() {
		dt.mu.Lock()
		dt.metrics.ProcessingTime = time.Since(start)
		dt.metrics.LastUpdated = time.Now()
		dt.mu.Unlock()
	}()

	return dt.walkEntry(ctx, dt.Root, 0)
}

func (dt *DirectoryTree) walkEntry(ctx context.Context, dir *DirectoryEntry, depth int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	dt.mu.Lock()
	dt.metrics.TotalNodes++
	dt.metrics.MaxDepth = max(dt.metrics.MaxDepth, depth)
	dt.mu.Unlock()

	for _, child := range dir.Children {
		if err := dt.walkEntry(ctx, child, depth+1); err != nil {
			return err
		}
	}

	return nil
}

// ForEach visits every attached entry in depth-first order, directories
// before their contents.
func (dt *DirectoryTree) ForEach(fn func(Entry) error) error {
	return dt.forEachEntry(dt.Root, fn)
}

func (dt *DirectoryTree) forEachEntry(dir *DirectoryEntry, fn func(Entry) error) error {
	if err := fn(dir); err != nil {
		return err
	}
	for _, file := range dir.Files {
		if err := fn(file); err != nil {
			return err
		}
	}
	for _, child := range dir.Children {
		if err := dt.forEachEntry(child, fn); err != nil {
			return err
		}
	}
	return nil
}

// Flatten recursively collects all directory and file paths in a flat list
func (dt *DirectoryTree) Flatten() []string {
	var paths []string
	dt.flattenEntry(dt.Root, &paths)
	return paths
}

func (dt *DirectoryTree) flattenEntry(dir *DirectoryEntry, paths *[]string) {
	*paths = append(*paths, EntryPath(dir))

	for _, child := range dir.Children {
		dt.flattenEntry(child, paths)
	}

	for _, file := range dir.Files {
		*paths = append(*paths, EntryPath(file))
	}
}

// LargestChangestamp returns the logical version of the last snapshot this
// tree mirrors. Zero means the tree has never seen a full feed.
func (dt *DirectoryTree) LargestChangestamp() int64 {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	return dt.largestChangestamp
}

// SetLargestChangestamp records the tree's new high-water mark.
func (dt *DirectoryTree) SetLargestChangestamp(changestamp int64) {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.largestChangestamp = changestamp
}

// GetMetrics returns current metrics with concurrency safety
func (dt *DirectoryTree) GetMetrics(ctx context.Context) (*TreeMetrics, error) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	counts := make(map[string]int64, len(dt.metrics.OperationCounts))
	for op, n := range dt.metrics.OperationCounts {
		counts[op] = n
	}

	return &TreeMetrics{
		TotalNodes:      dt.metrics.TotalNodes,
		TotalSize:       dt.metrics.TotalSize,
		MaxDepth:        dt.metrics.MaxDepth,
		LastUpdated:     dt.metrics.LastUpdated,
		ProcessingTime:  dt.metrics.ProcessingTime,
		OperationCounts: counts,
	}, nil
}

// treeState is the serialized form persisted by the sync-state store.
type treeState struct {
	LargestChangestamp int64           `json:"largest_changestamp"`
	Root               *DirectoryEntry `json:"root"`
}

func (dt *DirectoryTree) MarshalJSON() ([]byte, error) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	return json.Marshal(&treeState{
		LargestChangestamp: dt.largestChangestamp,
		Root:               dt.Root,
	})
}

func (dt *DirectoryTree) UnmarshalJSON(data []byte) error {
	var state treeState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to decode tree state: %w", err)
	}
	if state.Root == nil {
		return fmt.Errorf("tree state has no root: %w", ErrStructuralInconsistency)
	}

	dt.mu.Lock()
	defer dt.mu.Unlock()

	dt.Root = state.Root
	dt.largestChangestamp = state.LargestChangestamp
	dt.resourceMap = make(map[string]Entry)
	dt.pathIndex = NewPatriciaPathIndex()
	dt.metaIndex = NewMetadataIndex()

	// Parent links and indexes are not serialized; rebuild them.
	dt.relink(dt.Root, nil)
	dt.registerSubtree(dt.Root)

	return nil
}

func (dt *DirectoryTree) relink(dir *DirectoryEntry, parent *DirectoryEntry) {
	dir.setParent(parent)
	for _, file := range dir.Files {
		file.setParent(dir)
	}
	for _, child := range dir.Children {
		dt.relink(child, dir)
	}
}

// registerSubtree records entry and every descendant in the resource map,
// path index, and metadata index. Callers must hold dt.mu.
func (dt *DirectoryTree) registerSubtree(entry Entry) {
	dt.resourceMap[entry.GetResourceID()] = entry
	if err := dt.pathIndex.Insert(entry); err != nil {
		dt.logger.Error("failed to insert entry into path index",
			"error", err, "resource_id", entry.GetResourceID())
	}
	dt.metaIndex.Insert(entry)

	if dir := entry.AsDirectory(); dir != nil {
		for _, file := range dir.Files {
			dt.registerSubtree(file)
		}
		for _, child := range dir.Children {
			dt.registerSubtree(child)
		}
	}
}

// unregisterSubtree releases entry and every descendant from all indexes.
// Callers must hold dt.mu. detachedPath is the path the entry had while
// still attached (EntryPath is parent-relative and the entry is already
// detached by the time this runs).
func (dt *DirectoryTree) unregisterSubtree(entry Entry, detachedPath string) {
	delete(dt.resourceMap, entry.GetResourceID())
	dt.pathIndex.Remove(detachedPath)
	dt.metaIndex.Remove(entry.GetResourceID())

	if dir := entry.AsDirectory(); dir != nil {
		for _, file := range dir.Files {
			dt.unregisterSubtree(file, detachedPath+"/"+file.GetBaseName())
		}
		for _, child := range dir.Children {
			dt.unregisterSubtree(child, detachedPath+"/"+child.GetBaseName())
		}
	}
}

// unregisterSubtreePaths releases only the path-index records for entry and
// descendants, keeping resource IDs registered. Used for moves.
func (dt *DirectoryTree) unregisterSubtreePaths(entry Entry, detachedPath string) {
	dt.pathIndex.Remove(detachedPath)

	if dir := entry.AsDirectory(); dir != nil {
		for _, file := range dir.Files {
			dt.unregisterSubtreePaths(file, detachedPath+"/"+file.GetBaseName())
		}
		for _, child := range dir.Children {
			dt.unregisterSubtreePaths(child, detachedPath+"/"+child.GetBaseName())
		}
	}
}
