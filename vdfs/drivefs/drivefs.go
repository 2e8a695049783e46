package drivefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ZanzyTHEbar/virtual-drivefs/vdfs/config"
	"github.com/ZanzyTHEbar/virtual-drivefs/vdfs/db"
	"github.com/ZanzyTHEbar/virtual-drivefs/vdfs/feed"
	"github.com/ZanzyTHEbar/virtual-drivefs/vdfs/ports"
	"github.com/ZanzyTHEbar/virtual-drivefs/vdfs/trees"

	"github.com/ZanzyTHEbar/assert-lib"
)

// DriveFileSystem is the main manager for the local mirror of a remote
// drive. It owns the directory service, the feed reconciler, the on-disk
// feed cache, and the persisted sync state, and fans reconciliation events
// out to the notifier.
type DriveFileSystem struct {
	// Core services
	dirService *trees.DirectoryService
	reconciler *feed.Reconciler

	// System components
	syncState     *db.SyncStateProvider
	feedCache     *feed.Cache
	notifier      ports.Notifier
	config        *config.DriveFSConfig
	metrics       *trees.MetricsCollector
	assertHandler *assert.AssertHandler

	// ApplyServerFeeds performs multi-step tree edits; one at a time.
	mu sync.Mutex
}

// New creates a drive filesystem manager, restoring the tree from the most
// recent snapshot when one exists.
func New(notifier ports.Notifier, syncState *db.SyncStateProvider) (*DriveFileSystem, error) {
	cfg := &config.AppConfig.DriveFS

	if cfg.CacheDir != "" {
		if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory %s: %w", cfg.CacheDir, err)
		}
	}

	logger := slog.Default()

	assertHandler := assert.NewAssertHandler()

	tree, err := restoreTree(syncState, logger)
	if err != nil {
		return nil, err
	}

	var serviceOpts []trees.ServiceOption
	serviceOpts = append(serviceOpts, trees.WithServiceLogger(logger))
	if tree != nil {
		serviceOpts = append(serviceOpts, trees.WithServiceTree(tree))
	}
	dirService := trees.NewDirectoryService(serviceOpts...)
	assertHandler.Assert(context.Background(), dirService.Tree() != nil && dirService.Tree().Root != nil,
		"directory service must own a rooted tree")

	ignoreList, err := feed.LoadIgnoreFile(cfg.IgnoreFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load ignore file %s: %w", cfg.IgnoreFile, err)
	}

	reconciler := feed.NewReconciler(dirService,
		feed.WithReconcilerLogger(logger),
		feed.WithIgnoreList(ignoreList),
		feed.WithHideHostedDocuments(cfg.HideHostedDocuments),
	)

	feedCache, err := feed.NewCache(cfg.FeedCacheDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize feed cache: %w", err)
	}

	if notifier == nil {
		notifier = &ports.LogNotifier{Logger: logger}
	}

	return &DriveFileSystem{
		dirService:    dirService,
		reconciler:    reconciler,
		syncState:     syncState,
		feedCache:     feedCache,
		notifier:      notifier,
		config:        cfg,
		metrics:       trees.NewMetricsCollector(),
		assertHandler: assertHandler,
	}, nil
}

// restoreTree loads the latest snapshot from the sync-state store. A missing
// snapshot is not an error; the mirror simply starts empty.
func restoreTree(syncState *db.SyncStateProvider, logger *slog.Logger) (*trees.DirectoryTree, error) {
	if syncState == nil {
		return nil, nil
	}

	tree, err := syncState.RestoreLatestSnapshot()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logger.Info("no snapshot found, starting with empty tree")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to restore snapshot: %w", err)
	}

	logger.Info("restored tree from snapshot",
		"entries", tree.EntryCount(),
		"changestamp", tree.LargestChangestamp())
	return tree, nil
}

// High-level API methods

// ApplyServerFeeds reconciles a batch of server feed pages into the local
// tree, persists the resulting sync state, and notifies listeners about
// every changed directory.
//
// startChangestamp zero marks the pages as a full snapshot; a positive
// value marks them as a delta following that changestamp. The returned set
// holds the paths of all directories whose contents changed.
func (dfs *DriveFileSystem) ApplyServerFeeds(ctx context.Context, pages []*feed.FeedPage, startChangestamp, rootFeedChangestamp int64) (feed.ChangedDirs, error) {
	dfs.mu.Lock()
	defer dfs.mu.Unlock()

	slog.Info("Applying server feeds",
		"pages", len(pages),
		"startChangestamp", startChangestamp,
		"rootFeedChangestamp", rootFeedChangestamp)

	changed, err := dfs.reconciler.ApplyFeeds(pages, startChangestamp, rootFeedChangestamp)
	if err != nil {
		dfs.notifier.OnSyncError(err)
		return changed, fmt.Errorf("feed reconciliation failed: %w", err)
	}

	if err := dfs.persistSyncState(); err != nil {
		dfs.notifier.OnSyncError(err)
		return changed, err
	}

	for _, path := range changed.Paths() {
		dfs.notifier.OnDirectoryChanged(path)
	}
	dfs.notifier.OnFeedApplied(dfs.dirService.LargestChangestamp())

	if err := dfs.metrics.UpdateMetrics(ctx, dfs.dirService.Tree()); err != nil {
		slog.Warn("failed to refresh tree metrics", "error", err)
	}
	dfs.metrics.IncrementOperation("apply_feeds")

	slog.Info("Server feeds applied",
		"changedDirectories", changed.Len(),
		"changestamp", dfs.dirService.LargestChangestamp())

	return changed, nil
}

// persistSyncState writes the high-water changestamp and, when configured,
// a fresh tree snapshot. Callers hold dfs.mu.
func (dfs *DriveFileSystem) persistSyncState() error {
	if dfs.syncState == nil {
		return nil
	}

	if err := dfs.syncState.SetLargestChangestamp(dfs.dirService.LargestChangestamp()); err != nil {
		return fmt.Errorf("failed to persist changestamp: %w", err)
	}

	if dfs.config.SnapshotOnApply {
		if _, err := dfs.syncState.TakeSnapshot(dfs.dirService.Tree()); err != nil {
			return fmt.Errorf("failed to persist snapshot: %w", err)
		}
	}

	return nil
}

// CacheFeedPage stores a fetched feed page on disk so an interrupted sync
// can resume without refetching.
func (dfs *DriveFileSystem) CacheFeedPage(index int, page *feed.FeedPage) error {
	return dfs.feedCache.Store(index, page)
}

// LoadCachedFeeds reads back all cached feed pages in fetch order.
func (dfs *DriveFileSystem) LoadCachedFeeds(ctx context.Context) ([]*feed.FeedPage, error) {
	return dfs.feedCache.LoadAll(ctx)
}

// ClearFeedCache discards all cached feed pages, typically after a batch
// has been applied successfully.
func (dfs *DriveFileSystem) ClearFeedCache() error {
	return dfs.feedCache.Clear()
}

// DirectoryService exposes the underlying directory service.
func (dfs *DriveFileSystem) DirectoryService() *trees.DirectoryService {
	return dfs.dirService
}

// Tree returns the authoritative directory tree.
func (dfs *DriveFileSystem) Tree() *trees.DirectoryTree {
	return dfs.dirService.Tree()
}

// LargestChangestamp returns the tree's high-water changestamp.
func (dfs *DriveFileSystem) LargestChangestamp() int64 {
	return dfs.dirService.LargestChangestamp()
}

// Metrics returns the latest aggregate tree metrics.
func (dfs *DriveFileSystem) Metrics() *trees.TreeMetrics {
	return dfs.metrics.Current()
}

// FindByPath resolves a slash-separated title path to an entry.
func (dfs *DriveFileSystem) FindByPath(path string) (trees.Entry, bool) {
	return dfs.dirService.Tree().FindByPath(path)
}

// GetEntryByResourceID looks up an attached entry by resource ID.
func (dfs *DriveFileSystem) GetEntryByResourceID(resourceID string) trees.Entry {
	return dfs.dirService.GetEntryByResourceID(resourceID)
}

// Close releases the sync-state store.
func (dfs *DriveFileSystem) Close() error {
	if dfs.syncState == nil {
		return nil
	}
	return dfs.syncState.Close()
}
