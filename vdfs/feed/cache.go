package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/sourcegraph/conc/pool"
)

// feedFilePattern names cached feed pages; the numeric suffix preserves
// page order across a LoadAll.
const feedFilePattern = "feed-%06d.json"

// Cache persists fetched feed pages to a local directory so an interrupted
// fetch-and-apply cycle can resume without refetching, and so startup can
// replay the last snapshot offline. Pages are stored one JSON file each.
type Cache struct {
	dir    string
	logger *slog.Logger
}

// NewCache creates a page cache rooted at dir, creating it if needed.
func NewCache(dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create feed cache directory %s: %w", dir, err)
	}
	return &Cache{dir: dir, logger: logger}, nil
}

// Store writes one page at the given position in the batch. The write goes
// through a temp file and rename so readers never observe a torn page.
func (c *Cache) Store(index int, page *FeedPage) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to encode feed page %d: %w", index, err)
	}

	final := filepath.Join(c.dir, fmt.Sprintf(feedFilePattern, index))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write feed page %d: %w", index, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit feed page %d: %w", index, err)
	}

	c.logger.Debug("feed page cached", "index", index, "entries", len(page.Entries))
	return nil
}

// LoadAll reads every cached page concurrently and returns them in page
// order, so batch ordering semantics (last occurrence wins) hold exactly as
// they did when the pages were fetched.
func (c *Cache) LoadAll(ctx context.Context) ([]*FeedPage, error) {
	names, err := filepath.Glob(filepath.Join(c.dir, "feed-*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list feed cache %s: %w", c.dir, err)
	}
	if len(names) == 0 {
		return nil, nil
	}
	sort.Strings(names)

	pages := make([]*FeedPage, len(names))

	p := pool.New().
		WithErrors().
		WithContext(ctx).
		WithMaxGoroutines(min(len(names), runtime.NumCPU()*2))

	for i, name := range names {
		p.Go(func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			data, err := os.ReadFile(name)
			if err != nil {
				return fmt.Errorf("failed to read feed page %s: %w", name, err)
			}
			var page FeedPage
			if err := json.Unmarshal(data, &page); err != nil {
				return fmt.Errorf("failed to decode feed page %s: %w", name, err)
			}
			pages[i] = &page
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}

	c.logger.Debug("feed cache loaded", "pages", len(pages))
	return pages, nil
}

// Clear removes every cached page. Called after a batch is applied so a
// later resume does not replay a superseded snapshot.
func (c *Cache) Clear() error {
	names, err := filepath.Glob(filepath.Join(c.dir, "feed-*.json"))
	if err != nil {
		return fmt.Errorf("failed to list feed cache %s: %w", c.dir, err)
	}
	for _, name := range names {
		if err := os.Remove(name); err != nil {
			return fmt.Errorf("failed to remove cached page %s: %w", name, err)
		}
	}
	return nil
}
