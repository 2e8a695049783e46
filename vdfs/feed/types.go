// Package feed applies paginated document-feed snapshots of a remote drive
// to the local DirectoryTree mirror.
package feed

import (
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/ZanzyTHEbar/virtual-drivefs/vdfs/trees"
)

// FeedPage is one batch of entries from the paginated remote listing
// protocol, already deserialized from the wire format by the upstream
// client. Entries are applied in encounter order across pages.
type FeedPage struct {
	Entries            []*DocumentEntry `json:"entries"`
	LargestChangestamp int64            `json:"largest_changestamp"`
}

// DocumentEntry is the wire-level form of one remote file-or-directory
// object. The canonical resource ID is not carried directly; it is embedded
// in the entry's self link and must be extracted.
type DocumentEntry struct {
	SelfLink   string    `json:"self_link"`
	ParentLink string    `json:"parent_link,omitempty"`
	Title      string    `json:"title"`
	Kind       string    `json:"kind"`
	Deleted    bool      `json:"deleted,omitempty"`
	Size       int64     `json:"size,omitempty"`
	MD5        string    `json:"md5,omitempty"`
	ContentURL string    `json:"content_url,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
}

// Document kinds understood by the feed. Anything that is neither a folder
// nor a plain file is treated as a hosted document (server-side formats
// with no local byte content).
const (
	KindFolder       = "folder"
	KindFile         = "file"
	KindDocument     = "document"
	KindSpreadsheet  = "spreadsheet"
	KindPresentation = "presentation"
	KindDrawing      = "drawing"
	KindForm         = "form"
)

// ExtractResourceID pulls the canonical resource ID out of a self or parent
// link. The ID is the last path segment of the link URL with URL escapes
// undone ("file%3A123" becomes "file:123"). A bare, already-canonical ID
// passes through untouched. Malformed links yield "".
func ExtractResourceID(link string) string {
	if link == "" {
		return ""
	}

	u, err := url.Parse(link)
	if err != nil {
		return ""
	}

	// Opaque URLs ("file:123") are already canonical resource IDs.
	if u.Opaque != "" {
		return link
	}

	segment := path.Base(u.EscapedPath())
	if segment == "." || segment == "/" {
		return ""
	}

	id, err := url.PathUnescape(segment)
	if err != nil {
		return ""
	}
	return id
}

// ResourceID returns the entry's canonical resource ID, or "" when the
// self link does not carry one.
func (d *DocumentEntry) ResourceID() string {
	return ExtractResourceID(d.SelfLink)
}

// ParentResourceID returns the declared parent's resource ID, or "" when
// the entry has no parent link (a direct child of the root).
func (d *DocumentEntry) ParentResourceID() string {
	return ExtractResourceID(d.ParentLink)
}

// EntryKind maps the wire kind onto the tree's entry classes.
func (d *DocumentEntry) EntryKind() trees.EntryKind {
	switch d.Kind {
	case KindFolder:
		return trees.KindDirectory
	case KindFile, "":
		return trees.KindFile
	default:
		return trees.KindHostedDocument
	}
}

// ToEntry converts the wire entry into a detached tree entry. Entries
// without an extractable resource ID are unprocessable: inserting them
// would break the tree's uniqueness invariant on the empty key.
func (d *DocumentEntry) ToEntry() (trees.Entry, error) {
	resourceID := d.ResourceID()
	if resourceID == "" {
		return nil, fmt.Errorf("entry %q: %w", d.Title, trees.ErrEmptyResourceID)
	}

	base := trees.EntryBase{
		ResourceID:       resourceID,
		ParentResourceID: d.ParentResourceID(),
		Title:            d.Title,
		Kind:             d.EntryKind(),
		Deleted:          d.Deleted,
		Metadata: trees.Metadata{
			Size:       d.Size,
			CreatedAt:  d.CreatedAt,
			ModifiedAt: d.ModifiedAt,
			MD5:        d.MD5,
			ContentURL: d.ContentURL,
		},
	}

	if base.Kind == trees.KindDirectory {
		return &trees.DirectoryEntry{EntryBase: base}, nil
	}
	// Hosted documents carry no byte content.
	if base.Kind == trees.KindHostedDocument {
		base.Metadata.Size = 0
	}
	return &trees.FileEntry{EntryBase: base}, nil
}

// Stats tallies per-kind entry counts for one feed batch. The counters are
// observability only; nothing downstream depends on them.
type Stats struct {
	NumRegularFiles    int
	NumHostedDocuments int
	NumDirectories     int
	NumDeleted         int
	NumUnprocessable   int
	NumIgnored         int
	KindCounts         map[trees.EntryKind]int
}

func newStats() *Stats {
	return &Stats{KindCounts: make(map[trees.EntryKind]int)}
}

func (s *Stats) tally(entry trees.Entry) {
	// Tombstones carry no meaningful kind.
	if entry.IsDeleted() {
		s.NumDeleted++
		return
	}
	s.KindCounts[entry.GetKind()]++
	switch entry.GetKind() {
	case trees.KindDirectory:
		s.NumDirectories++
	case trees.KindFile:
		s.NumRegularFiles++
	case trees.KindHostedDocument:
		s.NumHostedDocuments++
	}
}
