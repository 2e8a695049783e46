package trees

import (
	"context"
	"time"
)

// TreeWalker defines operations for traversing tree structures
type TreeWalker interface {
	Walk(ctx context.Context) error
	ForEach(fn func(Entry) error) error
}

// MetricsCollectorI defines operations for collecting tree metrics
type MetricsCollectorI interface {
	UpdateMetrics(ctx context.Context, tree *DirectoryTree) error
	IncrementOperation(op string)
}

// TreeMetrics holds statistical information about the tree
type TreeMetrics struct {
	TotalNodes      int64
	TotalSize       int64
	MaxDepth        int
	LastUpdated     time.Time
	ProcessingTime  time.Duration
	OperationCounts map[string]int64
}
