package trees

import (
	"log/slog"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// EntryPoint adapts an entry's metadata to a k-dimensional point for KD-tree
// searches: (size, modified unix seconds, created unix seconds).
type EntryPoint struct {
	Entry Entry
	Point kdtree.Point
}

// NewEntryPoint builds the metadata point for an entry. Entries without a
// modification time carry nothing worth indexing and yield ok=false.
func NewEntryPoint(entry Entry) (EntryPoint, bool) {
	md := entry.GetMetadata()
	if md.ModifiedAt.IsZero() {
		return EntryPoint{}, false
	}
	return EntryPoint{
		Entry: entry,
		Point: kdtree.Point{
			float64(md.Size),
			float64(md.ModifiedAt.Unix()),
			float64(md.CreatedAt.Unix()),
		},
	}, true
}

// Compare performs axis comparisons for KD-Tree.
func (p EntryPoint) Compare(comparable kdtree.Comparable, dim kdtree.Dim) float64 {
	other := comparable.(EntryPoint)
	return p.Point[dim] - other.Point[dim]
}

// Dims returns the number of dimensions in the metadata point.
func (p EntryPoint) Dims() int {
	return len(p.Point)
}

// Distance calculates the Euclidean distance between two EntryPoints.
func (p EntryPoint) Distance(c kdtree.Comparable) float64 {
	other, ok := c.(EntryPoint)
	if !ok {
		return math.Inf(1)
	}
	if len(p.Point) != len(other.Point) {
		return math.Inf(1)
	}

	dist := 0.0
	for i := range p.Point {
		delta := p.Point[i] - other.Point[i]
		dist += delta * delta
	}
	return dist
}

// EntryPointCollection implements kdtree.Interface over entry points.
type EntryPointCollection []EntryPoint

func (c EntryPointCollection) Index(i int) kdtree.Comparable { return c[i] }
func (c EntryPointCollection) Len() int                      { return len(c) }
func (c EntryPointCollection) Pivot(d kdtree.Dim) int {
	return entryPlane{EntryPointCollection: c, Dim: d}.Pivot()
}
func (c EntryPointCollection) Slice(start, end int) kdtree.Interface { return c[start:end] }

// entryPlane is the axis sorter required by kdtree construction.
type entryPlane struct {
	kdtree.Dim
	EntryPointCollection
}

func (p entryPlane) Less(i, j int) bool {
	return p.EntryPointCollection[i].Point[p.Dim] < p.EntryPointCollection[j].Point[p.Dim]
}
func (p entryPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p entryPlane) Slice(start, end int) kdtree.SortSlicer {
	p.EntryPointCollection = p.EntryPointCollection[start:end]
	return p
}
func (p entryPlane) Swap(i, j int) {
	c := p.EntryPointCollection
	c[i], c[j] = c[j], c[i]
}

// MetadataIndex maintains a KD-tree over entry metadata for range and
// nearest-neighbor queries. Rebuilds are deferred and batched: insertions
// and removals mark the index dirty and the tree is reconstructed lazily on
// the next search, with a full rebalance after rebalanceThreshold changes.
type MetadataIndex struct {
	mu                 sync.Mutex
	points             map[string]EntryPoint // resource ID -> point
	tree               *kdtree.Tree
	dirty              bool
	changesSinceBuild  int
	rebalanceThreshold int
}

// NewMetadataIndex creates an empty metadata index.
func NewMetadataIndex() *MetadataIndex {
	return &MetadataIndex{
		points:             make(map[string]EntryPoint),
		rebalanceThreshold: 100,
	}
}

// Insert queues an entry for indexing. Entries without usable metadata are
// skipped silently.
func (mi *MetadataIndex) Insert(entry Entry) {
	point, ok := NewEntryPoint(entry)
	if !ok {
		return
	}

	mi.mu.Lock()
	defer mi.mu.Unlock()

	mi.points[entry.GetResourceID()] = point
	mi.dirty = true
	mi.changesSinceBuild++
}

// Remove drops an entry's point from the index.
func (mi *MetadataIndex) Remove(resourceID string) {
	mi.mu.Lock()
	defer mi.mu.Unlock()

	if _, ok := mi.points[resourceID]; !ok {
		return
	}
	delete(mi.points, resourceID)
	mi.dirty = true
	mi.changesSinceBuild++
}

// Size returns the number of indexed entries.
func (mi *MetadataIndex) Size() int {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return len(mi.points)
}

// rebuild reconstructs the KD-tree from the current point set. Callers must
// hold mi.mu.
func (mi *MetadataIndex) rebuild() {
	data := make(EntryPointCollection, 0, len(mi.points))
	for _, point := range mi.points {
		data = append(data, point)
	}
	mi.tree = kdtree.New(data, false)
	mi.dirty = false

	if mi.changesSinceBuild >= mi.rebalanceThreshold {
		slog.Debug("metadata index rebalanced", "total_points", len(data))
	}
	mi.changesSinceBuild = 0
}

// RangeSearch finds all entries within the given radius of the query point
// in (size, modified, created) space.
func (mi *MetadataIndex) RangeSearch(query EntryPoint, radius float64) []Entry {
	mi.mu.Lock()
	defer mi.mu.Unlock()

	if mi.dirty || mi.tree == nil {
		mi.rebuild()
	}
	if mi.tree.Len() == 0 {
		return nil
	}

	keeper := kdtree.NewDistKeeper(radius * radius)
	mi.tree.NearestSet(keeper, query)

	var results []Entry
	for _, item := range keeper.Heap {
		if point, ok := item.Comparable.(EntryPoint); ok && point.Entry != nil {
			results = append(results, point.Entry)
		}
	}
	return results
}

// NearestNeighbors finds the k entries whose metadata is closest to the
// query point.
func (mi *MetadataIndex) NearestNeighbors(query EntryPoint, k int) []Entry {
	mi.mu.Lock()
	defer mi.mu.Unlock()

	if mi.dirty || mi.tree == nil {
		mi.rebuild()
	}
	if mi.tree.Len() == 0 || k <= 0 {
		return nil
	}

	keeper := kdtree.NewNKeeper(k)
	mi.tree.NearestSet(keeper, query)

	var results []Entry
	for _, item := range keeper.Heap {
		if point, ok := item.Comparable.(EntryPoint); ok && point.Entry != nil {
			results = append(results, point.Entry)
		}
	}
	return results
}
