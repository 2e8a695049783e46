package feed

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// defaultIgnoreLines excludes editor droppings and OS junk that should
// never be mirrored into the local tree.
var defaultIgnoreLines = []string{
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"*.tmp",
	`~\$*`, // the dollar must be escaped or it compiles into a regex end anchor
	".~lock.*",
}

// IgnoreList filters feed entries by title using gitignore-style patterns.
type IgnoreList struct {
	ignore *gitignore.GitIgnore
}

// NewIgnoreList compiles the default patterns plus any extra lines.
func NewIgnoreList(extraLines ...string) *IgnoreList {
	lines := append([]string{}, defaultIgnoreLines...)
	lines = append(lines, extraLines...)
	return &IgnoreList{ignore: gitignore.CompileIgnoreLines(lines...)}
}

// LoadIgnoreFile builds an ignore list from the defaults plus the patterns
// in the given file. A missing file yields just the defaults.
func LoadIgnoreFile(path string) (*IgnoreList, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewIgnoreList(), nil
		}
		return nil, fmt.Errorf("failed to open ignore file %s: %w", path, err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ignore file %s: %w", path, err)
	}

	return NewIgnoreList(lines...), nil
}

// Match reports whether an entry title is excluded from reconciliation.
func (l *IgnoreList) Match(title string) bool {
	if l == nil || l.ignore == nil {
		return false
	}
	return l.ignore.MatchesPath(title)
}
