package trees

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector provides metrics collection functionality for tree operations
type MetricsCollector struct {
	mu      sync.Mutex
	metrics atomic.Value // stores *TreeMetrics
	started time.Time
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		started: time.Now(),
	}
	mc.metrics.Store(&TreeMetrics{
		OperationCounts: make(map[string]int64),
	})
	return mc
}

// IncrementOperation safely increments operation count using mutex locking
func (mc *MetricsCollector) IncrementOperation(op string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	metrics := mc.metrics.Load().(*TreeMetrics)
	metrics.OperationCounts[op]++
	mc.metrics.Store(metrics)
}

// computeTreeMetrics recursively computes metrics starting from the given directory.
func computeTreeMetrics(dir *DirectoryEntry, depth int, metrics *TreeMetrics) {
	if dir == nil {
		return
	}

	metrics.TotalNodes++
	if depth > metrics.MaxDepth {
		metrics.MaxDepth = depth
	}

	for _, file := range dir.Files {
		metrics.TotalNodes++
		metrics.TotalSize += file.Metadata.Size
	}

	for _, child := range dir.Children {
		computeTreeMetrics(child, depth+1, metrics)
	}
}

// UpdateMetrics updates tree metrics based on the current state of the DirectoryTree.
func (mc *MetricsCollector) UpdateMetrics(ctx context.Context, tree *DirectoryTree) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	newMetrics := &TreeMetrics{
		OperationCounts: make(map[string]int64),
		LastUpdated:     time.Now(),
	}

	computeTreeMetrics(tree.Root, 0, newMetrics)
	newMetrics.ProcessingTime = time.Since(mc.started)

	mc.metrics.Store(newMetrics)

	return nil
}

// Current returns the latest computed metrics snapshot.
func (mc *MetricsCollector) Current() *TreeMetrics {
	return mc.metrics.Load().(*TreeMetrics)
}
