package trees

import (
	"log/slog"
)

// OrphanPoolResourceID is the resource ID of the orphan pool's sentinel root.
// It is distinct from the main root so pool lookups never alias the tree.
const OrphanPoolResourceID = "folder:orphans"

// DirectoryService owns the authoritative DirectoryTree plus a lazily
// created orphan pool: a secondary tree holding entries whose declared
// parent could not be resolved. Orphaned entries are kept out of the
// authoritative tree so its parent invariant holds unconditionally.
type DirectoryService struct {
	tree    *DirectoryTree
	orphans *DirectoryTree
	logger  *slog.Logger
}

// ServiceOption allows for customization of DirectoryService
type ServiceOption func(*DirectoryService)

// WithServiceLogger sets a custom logger for the service and its trees.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(ds *DirectoryService) {
		ds.logger = logger
	}
}

// WithServiceTree adopts an existing tree, for example one restored from a
// snapshot, instead of starting empty.
func WithServiceTree(tree *DirectoryTree) ServiceOption {
	return func(ds *DirectoryService) {
		ds.tree = tree
	}
}

// NewDirectoryService creates a service with an empty authoritative tree
// unless WithServiceTree supplies one.
func NewDirectoryService(opts ...ServiceOption) *DirectoryService {
	ds := &DirectoryService{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(ds)
	}
	if ds.tree == nil {
		ds.tree = NewDirectoryTree(WithLogger(ds.logger))
	}
	return ds
}

// Tree returns the authoritative directory tree.
func (ds *DirectoryService) Tree() *DirectoryTree {
	return ds.tree
}

// GetEntryByResourceID looks up an entry in the authoritative tree only;
// orphaned entries are not visible here.
func (ds *DirectoryService) GetEntryByResourceID(resourceID string) Entry {
	return ds.tree.GetEntryByResourceID(resourceID)
}

// GetOrCreateOrphanPool returns the orphan pool, creating it on first use.
func (ds *DirectoryService) GetOrCreateOrphanPool() *DirectoryTree {
	if ds.orphans == nil {
		ds.orphans = NewDirectoryTree(
			WithLogger(ds.logger),
			WithRootResourceID(OrphanPoolResourceID),
		)
	}
	return ds.orphans
}

// AddOrphan places entry flat under the orphan pool root. An existing
// orphan with the same resource ID is superseded.
func (ds *DirectoryService) AddOrphan(entry Entry) error {
	pool := ds.GetOrCreateOrphanPool()
	if old := pool.GetEntryByResourceID(entry.GetResourceID()); old != nil {
		return pool.ReplaceEntry(old, pool.Root, entry)
	}
	return pool.AddEntry(pool.Root, entry)
}

// OrphanResourceIDs returns the resource IDs currently held in the orphan
// pool. Nil when no entry has ever been orphaned.
func (ds *DirectoryService) OrphanResourceIDs() []string {
	if ds.orphans == nil {
		return nil
	}
	return ds.orphans.ResourceIDs()
}

// RemoveOrphan drops a stale orphan copy when its resource ID becomes
// resolvable in the authoritative tree. Missing IDs are ignored.
func (ds *DirectoryService) RemoveOrphan(resourceID string) {
	if ds.orphans == nil {
		return
	}
	old := ds.orphans.GetEntryByResourceID(resourceID)
	if old == nil || old == Entry(ds.orphans.Root) {
		return
	}
	if err := ds.orphans.RemoveEntry(old); err != nil {
		ds.logger.Warn("failed to drop stale orphan",
			"resource_id", resourceID, "error", err)
	}
}

// LargestChangestamp returns the authoritative tree's high-water mark.
func (ds *DirectoryService) LargestChangestamp() int64 {
	return ds.tree.LargestChangestamp()
}

// SetLargestChangestamp records a new high-water mark on the tree.
func (ds *DirectoryService) SetLargestChangestamp(changestamp int64) {
	ds.tree.SetLargestChangestamp(changestamp)
}
