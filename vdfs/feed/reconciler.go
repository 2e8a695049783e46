package feed

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/ZanzyTHEbar/virtual-drivefs/vdfs/trees"
)

// Reconciler converts document-feed pages into a consistent mutation of the
// DirectoryService's tree, handling both full-snapshot and incremental-delta
// semantics, and reporting which directories changed.
//
// ApplyFeeds is synchronous and runs to completion: it performs multi-step
// structural edits that must not interleave with other mutators of the same
// tree, so the caller is responsible for serializing access. A structural
// error aborts the batch with no rollback; the tree's integrity is then
// unknown and the caller must fall back to a full resync.
type Reconciler struct {
	dirService *trees.DirectoryService
	ignore     *IgnoreList
	hideHosted bool
	logger     *slog.Logger
}

// ReconcilerOption allows for customization of a Reconciler
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger sets a custom logger
func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithIgnoreList installs an ignore filter applied while building the batch
// map; matching entries never reach the tree.
func WithIgnoreList(ignore *IgnoreList) ReconcilerOption {
	return func(r *Reconciler) {
		r.ignore = ignore
	}
}

// WithHideHostedDocuments drops hosted documents (docs, sheets, and the
// like with no downloadable content) from every batch.
func WithHideHostedDocuments(hide bool) ReconcilerOption {
	return func(r *Reconciler) {
		r.hideHosted = hide
	}
}

// NewReconciler creates a reconciler bound to the given directory service.
func NewReconciler(dirService *trees.DirectoryService, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		dirService: dirService,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// entry application states for topological resolution
const (
	stateUnprocessed = iota
	stateProcessing
	stateDone
)

// ApplyFeeds applies an ordered sequence of feed pages to the tree.
//
// startChangestamp selects the mode: zero means the pages are a full
// snapshot and the tree must exactly mirror them afterwards (entries absent
// from the pages are deleted, and rootFeedChangestamp becomes the tree's
// new high-water mark); a positive value means the pages are an incremental
// delta following that changestamp.
//
// The returned set holds every directory path whose children were added,
// removed, or reparented. It is valid (possibly incomplete) even when an
// error is returned.
func (r *Reconciler) ApplyFeeds(pages []*FeedPage, startChangestamp, rootFeedChangestamp int64) (ChangedDirs, error) {
	isDelta := startChangestamp > 0

	entryMap, feedChangestamp, stats, err := r.FeedToEntryMap(pages)
	if err != nil {
		return nil, err
	}

	r.logger.Info("applying feed batch",
		"entries", len(entryMap),
		"delta", isDelta,
		"regular_files", stats.NumRegularFiles,
		"hosted_documents", stats.NumHostedDocuments,
		"directories", stats.NumDirectories,
		"deleted", stats.NumDeleted,
		"unprocessable", stats.NumUnprocessable)

	changed := NewChangedDirs()

	// Snapshot the pre-batch resource IDs before any mutation so the full
	// resync sweep sees exactly the entries that predate this call.
	var preBatch []string
	if !isDelta {
		preBatch = r.dirService.Tree().ResourceIDs()
	}

	if err := r.applyEntryMap(entryMap, changed); err != nil {
		return changed, err
	}

	if !isDelta {
		if err := r.removeMissingEntries(preBatch, entryMap, changed); err != nil {
			return changed, err
		}
		r.removeMissingOrphans(entryMap)
		r.dirService.SetLargestChangestamp(rootFeedChangestamp)
	} else if feedChangestamp > r.dirService.LargestChangestamp() {
		r.dirService.SetLargestChangestamp(feedChangestamp)
	}

	r.logger.Info("feed batch applied",
		"changed_directories", changed.Len(),
		"changestamp", r.dirService.LargestChangestamp())

	return changed, nil
}

// FeedToEntryMap builds the transient resource-ID map for a batch of feed
// pages, in encounter order: a later occurrence of a resource ID within the
// same batch overwrites an earlier one. It also extracts the feed's largest
// changestamp and tallies per-kind stats. The tree is not touched.
func (r *Reconciler) FeedToEntryMap(pages []*FeedPage) (map[string]trees.Entry, int64, *Stats, error) {
	entryMap := make(map[string]trees.Entry)
	stats := newStats()
	var feedChangestamp int64

	for _, page := range pages {
		if page == nil {
			continue
		}
		if page.LargestChangestamp > feedChangestamp {
			feedChangestamp = page.LargestChangestamp
		}
		for _, doc := range page.Entries {
			entry, err := doc.ToEntry()
			if err != nil {
				stats.NumUnprocessable++
				r.logger.Warn("skipping unprocessable feed entry",
					"title", doc.Title, "error", err)
				continue
			}
			if r.ignore != nil && r.ignore.Match(entry.GetTitle()) {
				stats.NumIgnored++
				continue
			}
			if r.hideHosted && entry.GetKind() == trees.KindHostedDocument {
				stats.NumIgnored++
				continue
			}
			stats.tally(entry)
			// Last occurrence wins within a batch.
			entryMap[entry.GetResourceID()] = entry
		}
	}

	return entryMap, feedChangestamp, stats, nil
}

// applyEntryMap attaches every resolvable entry in the batch map to the
// tree. Parents that are themselves part of the batch are applied first
// (a directory must exist before its children can be attached to it);
// entries whose parent resolves nowhere go to the orphan pool.
func (r *Reconciler) applyEntryMap(entryMap map[string]trees.Entry, changed ChangedDirs) error {
	states := make(map[string]int, len(entryMap))

	// Deterministic application order keeps runs reproducible.
	ids := make([]string, 0, len(entryMap))
	for id := range entryMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var apply func(id string) error
	apply = func(id string) error {
		if states[id] != stateUnprocessed {
			return nil
		}
		states[id] = stateProcessing
		defer func() { states[id] = stateDone }()

		entry := entryMap[id]

		if entry.IsDeleted() {
			return r.removeEntryByID(id, changed)
		}

		destDir, resolved, err := r.resolveParent(entry, entryMap, states, apply)
		if err != nil {
			return err
		}
		if !resolved {
			// Unresolvable parent: expected, non-fatal. The entry lives in
			// the orphan pool and contributes nothing to the changed set
			// beyond the removal of any stale copy it supersedes.
			if r.dirService.GetEntryByResourceID(id) != nil {
				if err := r.removeEntryByID(id, changed); err != nil {
					return err
				}
			}
			if err := r.dirService.AddOrphan(entry); err != nil {
				r.logger.Warn("failed to pool orphaned entry",
					"resource_id", id, "error", err)
			}
			r.logger.Debug("entry orphaned",
				"resource_id", id,
				"parent_resource_id", entry.GetParentResourceID())
			return nil
		}

		return r.attachEntry(entry, destDir, changed)
	}

	for _, id := range ids {
		if err := apply(id); err != nil {
			return err
		}
	}
	return nil
}

// resolveParent finds the directory an entry should attach to. An empty
// parent resource ID means the entry is a direct child of the root. When
// the parent is part of the current batch it is applied first. resolved is
// false when the parent matches nothing in the tree or the batch, or
// resolves to a non-directory.
func (r *Reconciler) resolveParent(
	entry trees.Entry,
	entryMap map[string]trees.Entry,
	states map[string]int,
	apply func(id string) error,
) (*trees.DirectoryEntry, bool, error) {
	tree := r.dirService.Tree()
	parentID := entry.GetParentResourceID()

	if parentID == "" {
		return tree.Root, true, nil
	}

	if existing := r.dirService.GetEntryByResourceID(parentID); existing != nil {
		// The batch may still supersede this parent; apply the batch copy
		// first so children attach to the replacement, not the stale node.
		if _, inBatch := entryMap[parentID]; inBatch && states[parentID] == stateUnprocessed {
			if err := apply(parentID); err != nil {
				return nil, false, err
			}
		}
	} else if _, inBatch := entryMap[parentID]; inBatch && states[parentID] == stateUnprocessed {
		if err := apply(parentID); err != nil {
			return nil, false, err
		}
	}

	parent := r.dirService.GetEntryByResourceID(parentID)
	if parent == nil {
		return nil, false, nil
	}
	dir := parent.AsDirectory()
	if dir == nil {
		r.logger.Warn("parent entry is not a directory",
			"resource_id", entry.GetResourceID(),
			"parent_resource_id", parentID)
		return nil, false, nil
	}
	return dir, true, nil
}

// attachEntry inserts entry under destDir, superseding any entry already
// carrying the same resource ID. The destination's path is recorded in the
// changed set; a replaced directory also contributes its former subtree
// paths because its children's apparent location changes.
func (r *Reconciler) attachEntry(entry trees.Entry, destDir *trees.DirectoryEntry, changed ChangedDirs) error {
	tree := r.dirService.Tree()
	id := entry.GetResourceID()

	// A stale orphan copy is superseded by the resolvable entry.
	r.dirService.RemoveOrphan(id)

	old := r.dirService.GetEntryByResourceID(id)
	if old != nil {
		// Nothing to do when the remote state is unchanged; this keeps a
		// replayed snapshot from reporting phantom changes.
		if old.GetParent() == destDir && trees.EquivalentEntries(old, entry) {
			return nil
		}

		oldParent := old.GetParent()
		if oldDir := old.AsDirectory(); oldDir != nil {
			changed.AddPaths(tree.CollectSubtreePaths(oldDir))
		}
		if err := tree.ReplaceEntry(old, destDir, entry); err != nil {
			return fmt.Errorf("failed to supersede entry %q: %w", id, err)
		}
		if oldParent != nil && oldParent != destDir {
			changed.Add(trees.EntryPath(oldParent))
		}
		// A replaced directory's descendants now live under its new path.
		if newDir := entry.AsDirectory(); newDir != nil {
			changed.AddPaths(tree.CollectSubtreePaths(newDir))
		}
	} else {
		if err := tree.AddEntry(destDir, entry); err != nil {
			return fmt.Errorf("failed to attach entry %q: %w", id, err)
		}
	}

	changed.Add(trees.EntryPath(destDir))
	return nil
}

// removeEntryByID deletes the tree entry carrying id, if any, recording its
// former parent path and, for directories, the removed subtree's paths.
func (r *Reconciler) removeEntryByID(id string, changed ChangedDirs) error {
	old := r.dirService.GetEntryByResourceID(id)
	if old == nil {
		// Deleted remotely and never attached locally; drop any orphan copy.
		r.dirService.RemoveOrphan(id)
		return nil
	}

	tree := r.dirService.Tree()
	parent := old.GetParent()
	if oldDir := old.AsDirectory(); oldDir != nil {
		changed.AddPaths(tree.CollectSubtreePaths(oldDir))
	}
	if err := tree.RemoveEntry(old); err != nil {
		return fmt.Errorf("failed to remove entry %q: %w", id, err)
	}
	if parent != nil {
		changed.Add(trees.EntryPath(parent))
	}
	return nil
}

// removeMissingOrphans bounds the orphan pool on a full resync. A pooled
// entry absent from the snapshot no longer exists remotely; without this
// sweep an orphan whose parent never materializes would linger forever.
// Orphans are invisible in the tree, so the sweep contributes nothing to
// the changed set.
func (r *Reconciler) removeMissingOrphans(entryMap map[string]trees.Entry) {
	ids := r.dirService.OrphanResourceIDs()
	sort.Strings(ids)
	for _, id := range ids {
		if _, inBatch := entryMap[id]; inBatch {
			continue
		}
		r.dirService.RemoveOrphan(id)
		r.logger.Debug("dropped orphan missing from snapshot", "resource_id", id)
	}
}

// removeMissingEntries enforces full-resync semantics: every entry that was
// in the tree before the batch but absent from the batch map is deleted, so
// the tree exactly mirrors the remote snapshot afterwards.
func (r *Reconciler) removeMissingEntries(preBatch []string, entryMap map[string]trees.Entry, changed ChangedDirs) error {
	sort.Strings(preBatch)
	for _, id := range preBatch {
		if _, inBatch := entryMap[id]; inBatch {
			continue
		}
		// An ancestor swept earlier may have removed this entry already.
		if r.dirService.GetEntryByResourceID(id) == nil {
			continue
		}
		if err := r.removeEntryByID(id, changed); err != nil {
			return err
		}
	}
	return nil
}
