package feed

import "sort"

// ChangedDirs accumulates the set of directory paths whose children were
// added, removed, or reparented during a single ApplyFeeds invocation.
// Consumers use it to invalidate caches and notify observers.
type ChangedDirs map[string]struct{}

// NewChangedDirs creates an empty changed-directory set.
func NewChangedDirs() ChangedDirs {
	return make(ChangedDirs)
}

// Add records one directory path.
func (c ChangedDirs) Add(path string) {
	c[path] = struct{}{}
}

// AddPaths records a batch of directory paths.
func (c ChangedDirs) AddPaths(paths []string) {
	for _, path := range paths {
		c[path] = struct{}{}
	}
}

// Contains reports whether the path was recorded.
func (c ChangedDirs) Contains(path string) bool {
	_, ok := c[path]
	return ok
}

// Len returns the number of distinct changed directories.
func (c ChangedDirs) Len() int {
	return len(c)
}

// Paths returns the recorded paths in sorted order.
func (c ChangedDirs) Paths() []string {
	paths := make([]string, 0, len(c))
	for path := range c {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
