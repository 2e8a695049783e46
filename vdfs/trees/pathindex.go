package trees

import (
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/armon/go-radix"
)

// PathIndexStats tracks performance metrics for the path index
type PathIndexStats struct {
	TotalEntries  int64
	PathLookups   int64
	PrefixLookups int64
	Insertions    int64
	Deletions     int64
	mu            sync.RWMutex
}

// PatriciaPathIndex provides O(k) path lookups over attached entries using a
// compressed trie (patricia tree), where k is the length of the path being
// searched, not the number of entries in the tree
type PatriciaPathIndex struct {
	tree    *radix.Tree      // Core patricia tree for path storage
	mu      sync.RWMutex     // Read-write mutex for concurrent access
	stats   *PathIndexStats  // Performance tracking
	entries map[string]Entry // Direct path -> entry mapping for verification
}

// NewPatriciaPathIndex creates a new patricia tree-based path index
func NewPatriciaPathIndex() *PatriciaPathIndex {
	return &PatriciaPathIndex{
		tree:    radix.New(),
		stats:   &PathIndexStats{},
		entries: make(map[string]Entry),
	}
}

// Insert adds an entry to the path index keyed by its current tree path
func (idx *PatriciaPathIndex) Insert(entry Entry) error {
	if entry == nil {
		return fmt.Errorf("invalid input: entry cannot be nil")
	}

	key := idx.normalizePath(EntryPath(entry))

	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, updated := idx.tree.Insert(key, entry)
	idx.entries[key] = entry

	idx.stats.mu.Lock()
	if !updated {
		idx.stats.TotalEntries++
	}
	idx.stats.Insertions++
	idx.stats.mu.Unlock()

	return nil
}

// Lookup finds an entry by its exact path with O(k) complexity
func (idx *PatriciaPathIndex) Lookup(p string) (Entry, bool) {
	key := idx.normalizePath(p)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	value, found := idx.tree.Get(key)

	idx.stats.mu.Lock()
	idx.stats.PathLookups++
	idx.stats.mu.Unlock()

	if !found {
		return nil, false
	}

	return value.(Entry), true
}

// PrefixLookup finds all entries whose paths start with the given prefix
func (idx *PatriciaPathIndex) PrefixLookup(prefix string) []Entry {
	key := idx.normalizePath(prefix)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var results []Entry
	idx.tree.WalkPrefix(key, func(_ string, value interface{}) bool {
		if entry, ok := value.(Entry); ok {
			results = append(results, entry)
		}
		return false // Continue walking
	})

	idx.stats.mu.Lock()
	idx.stats.PrefixLookups++
	idx.stats.mu.Unlock()

	return results
}

// Remove deletes a path record from the index
func (idx *PatriciaPathIndex) Remove(p string) bool {
	key := idx.normalizePath(p)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, deleted := idx.tree.Delete(key)
	if deleted {
		delete(idx.entries, key)
	}

	idx.stats.mu.Lock()
	if deleted {
		idx.stats.TotalEntries--
	}
	idx.stats.Deletions++
	idx.stats.mu.Unlock()

	return deleted
}

// Size returns the total number of entries in the path index
func (idx *PatriciaPathIndex) Size() int64 {
	idx.stats.mu.RLock()
	defer idx.stats.mu.RUnlock()
	return idx.stats.TotalEntries
}

// GetStats returns a copy of the current path index statistics
func (idx *PatriciaPathIndex) GetStats() PathIndexStats {
	idx.stats.mu.RLock()
	defer idx.stats.mu.RUnlock()

	return PathIndexStats{
		TotalEntries:  idx.stats.TotalEntries,
		PathLookups:   idx.stats.PathLookups,
		PrefixLookups: idx.stats.PrefixLookups,
		Insertions:    idx.stats.Insertions,
		Deletions:     idx.stats.Deletions,
	}
}

// WalkPaths executes fn for each indexed path. Returning true stops the walk.
func (idx *PatriciaPathIndex) WalkPaths(fn func(path string, entry Entry) bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	idx.tree.Walk(func(key string, value interface{}) bool {
		if entry, ok := value.(Entry); ok {
			return fn(key, entry)
		}
		return false
	})
}

// Validate performs integrity checking between the patricia tree and direct mapping
func (idx *PatriciaPathIndex) Validate() []error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var errs []error

	treeCount := 0
	idx.tree.Walk(func(key string, value interface{}) bool {
		treeCount++
		if _, exists := idx.entries[key]; !exists {
			errs = append(errs, fmt.Errorf("path exists in patricia tree but missing from direct mapping: %s", key))
		}
		if _, ok := value.(Entry); !ok {
			errs = append(errs, fmt.Errorf("invalid value type in patricia tree: %s", key))
		}
		return false
	})

	if treeCount != len(idx.entries) {
		errs = append(errs, fmt.Errorf("patricia tree and direct mapping have different counts"))
	}

	if len(errs) > 0 {
		slog.Warn("path index validation found issues", "error_count", len(errs))
	}

	return errs
}

// normalizePath ensures consistent path formatting for the index
func (idx *PatriciaPathIndex) normalizePath(p string) string {
	normalized := path.Clean("/" + strings.TrimPrefix(p, "/"))
	if len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}
