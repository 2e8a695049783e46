package trees

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// RootDirectoryResourceID is the well-known resource ID of the remote store's
// root directory. Every tree (including the orphan pool) is rooted at a
// sentinel directory carrying this ID unless overridden.
const RootDirectoryResourceID = "folder:root"

// RootDirectoryTitle is the title assigned to the sentinel root directory.
const RootDirectoryTitle = "drive"

// EntryKind discriminates the three classes of remote objects.
type EntryKind int

const (
	KindDirectory EntryKind = iota
	KindFile
	KindHostedDocument
)

func (k EntryKind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	case KindHostedDocument:
		return "hosted_document"
	default:
		return "unknown"
	}
}

// Metadata holds the remote attributes carried by each entry in the DirectoryTree
type Metadata struct {
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	MD5        string    `json:"md5,omitempty"`
	ContentURL string    `json:"content_url,omitempty"`
}

// Add validation method
func (m *Metadata) Validate() error {
	if m.Size < 0 {
		return fmt.Errorf("size cannot be negative")
	}
	return nil
}

// Equal reports whether two metadata records describe the same remote state.
func (m *Metadata) Equal(other *Metadata) bool {
	return m.Size == other.Size &&
		m.CreatedAt.Equal(other.CreatedAt) &&
		m.ModifiedAt.Equal(other.ModifiedAt) &&
		m.MD5 == other.MD5 &&
		m.ContentURL == other.ContentURL
}

// Entry represents any node in the remote directory tree, file or directory.
// Concrete types are FileEntry and DirectoryEntry.
type Entry interface {
	GetResourceID() string
	GetParentResourceID() string
	GetTitle() string

	// GetBaseName returns the name the entry occupies in tree paths. It is
	// derived from the title on attach and uniquified against siblings, so
	// two children sharing a remote title still have distinct paths.
	GetBaseName() string

	GetKind() EntryKind
	GetMetadata() *Metadata
	IsDirectory() bool
	IsDeleted() bool

	// GetParent returns the directory this entry is attached to, or nil when
	// the entry is detached.
	GetParent() *DirectoryEntry

	// AsDirectory and AsFile perform checked downcasts; they return nil when
	// the entry is of the other kind.
	AsDirectory() *DirectoryEntry
	AsFile() *FileEntry

	setParent(p *DirectoryEntry)
	setBaseName(name string)
}

// EntryBase carries the attributes shared by files and directories.
type EntryBase struct {
	ResourceID       string    `json:"resource_id"`
	ParentResourceID string    `json:"parent_resource_id,omitempty"`
	Title            string    `json:"title"`
	Kind             EntryKind `json:"kind"`
	Deleted          bool      `json:"deleted,omitempty"`
	Metadata         Metadata  `json:"metadata"`

	// BaseName is the sibling-unique path component assigned on attach.
	// Remote titles are not unique within a directory, so colliding titles
	// get a " (2)", " (3)" style modifier before the extension.
	BaseName string `json:"base_name,omitempty"`

	parent *DirectoryEntry
}

func (e *EntryBase) GetResourceID() string       { return e.ResourceID }
func (e *EntryBase) GetParentResourceID() string { return e.ParentResourceID }
func (e *EntryBase) GetTitle() string            { return e.Title }
func (e *EntryBase) GetKind() EntryKind          { return e.Kind }
func (e *EntryBase) GetMetadata() *Metadata      { return &e.Metadata }
func (e *EntryBase) IsDeleted() bool             { return e.Deleted }
func (e *EntryBase) GetParent() *DirectoryEntry  { return e.parent }
func (e *EntryBase) setParent(p *DirectoryEntry) { e.parent = p }
func (e *EntryBase) setBaseName(name string)     { e.BaseName = name }

// GetBaseName falls back to the title for a detached entry that has never
// been through sibling de-duplication.
func (e *EntryBase) GetBaseName() string {
	if e.BaseName == "" {
		return e.Title
	}
	return e.BaseName
}

// FileEntry is a regular file or hosted document in the remote store.
type FileEntry struct {
	EntryBase
}

func (f *FileEntry) IsDirectory() bool            { return false }
func (f *FileEntry) AsDirectory() *DirectoryEntry { return nil }
func (f *FileEntry) AsFile() *FileEntry           { return f }

// NewFileEntry creates a detached file entry with the given identity.
func NewFileEntry(resourceID, parentResourceID, title string) *FileEntry {
	return &FileEntry{
		EntryBase: EntryBase{
			ResourceID:       resourceID,
			ParentResourceID: parentResourceID,
			Title:            title,
			Kind:             KindFile,
		},
	}
}

// DirectoryEntry is a directory in the remote store. Children are split into
// subdirectories and files, mirroring the remote object classes.
type DirectoryEntry struct {
	EntryBase
	Children []*DirectoryEntry `json:"children,omitempty"`
	Files    []*FileEntry      `json:"files,omitempty"`
}

func (d *DirectoryEntry) IsDirectory() bool            { return true }
func (d *DirectoryEntry) AsDirectory() *DirectoryEntry { return d }
func (d *DirectoryEntry) AsFile() *FileEntry           { return nil }

// NewDirectoryEntry creates a detached directory entry with the given identity.
func NewDirectoryEntry(resourceID, parentResourceID, title string) *DirectoryEntry {
	return &DirectoryEntry{
		EntryBase: EntryBase{
			ResourceID:       resourceID,
			ParentResourceID: parentResourceID,
			Title:            title,
			Kind:             KindDirectory,
		},
	}
}

// newRootDirectory creates the sentinel root for a tree.
func newRootDirectory() *DirectoryEntry {
	return NewDirectoryEntry(RootDirectoryResourceID, "", RootDirectoryTitle)
}

// addChild links entry under d without any index upkeep. Structural
// bookkeeping (resource map, path index) is owned by DirectoryTree. The
// entry's base name is re-derived from its title here, so a reattached
// entry sheds any modifier it picked up in a previous directory.
func (d *DirectoryEntry) addChild(entry Entry) {
	d.uniquifyBaseName(entry)
	if dir := entry.AsDirectory(); dir != nil {
		d.Children = append(d.Children, dir)
	}
	if file := entry.AsFile(); file != nil {
		d.Files = append(d.Files, file)
	}
	entry.setParent(d)
}

// removeChild unlinks entry from d. Returns false when entry is not actually
// in d's child lists.
func (d *DirectoryEntry) removeChild(entry Entry) bool {
	if dir := entry.AsDirectory(); dir != nil {
		for i, child := range d.Children {
			if child == dir {
				d.Children = append(d.Children[:i], d.Children[i+1:]...)
				dir.setParent(nil)
				return true
			}
		}
		return false
	}
	if file := entry.AsFile(); file != nil {
		for i, child := range d.Files {
			if child == file {
				d.Files = append(d.Files[:i], d.Files[i+1:]...)
				file.setParent(nil)
				return true
			}
		}
	}
	return false
}

// uniquifyBaseName assigns entry a base name that collides with no existing
// child of d, appending " (2)", " (3)", ... before the extension until the
// name is free.
func (d *DirectoryEntry) uniquifyBaseName(entry Entry) {
	name := entry.GetTitle()
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for modifier := 1; d.findChildByBaseName(name) != nil; {
		modifier++
		name = fmt.Sprintf("%s (%d)%s", stem, modifier, ext)
	}
	entry.setBaseName(name)
}

func (d *DirectoryEntry) findChildByBaseName(name string) Entry {
	for _, child := range d.Children {
		if child.GetBaseName() == name {
			return child
		}
	}
	for _, file := range d.Files {
		if file.GetBaseName() == name {
			return file
		}
	}
	return nil
}

// FindChildByTitle returns the first direct child with the given title,
// directories before files, or nil.
func (d *DirectoryEntry) FindChildByTitle(title string) Entry {
	for _, child := range d.Children {
		if child.Title == title {
			return child
		}
	}
	for _, file := range d.Files {
		if file.Title == title {
			return file
		}
	}
	return nil
}

// EquivalentEntries reports whether two entries carry identical remote
// state: same identity, title, kind, and metadata. Child lists are not
// compared; children are reconciled through their own entries.
func EquivalentEntries(a, b Entry) bool {
	return a.GetResourceID() == b.GetResourceID() &&
		a.GetParentResourceID() == b.GetParentResourceID() &&
		a.GetTitle() == b.GetTitle() &&
		a.GetKind() == b.GetKind() &&
		a.IsDeleted() == b.IsDeleted() &&
		a.GetMetadata().Equal(b.GetMetadata())
}

// EntryPath returns the slash-joined path of entry built from the base
// names of its parent chain. A detached entry yields just its own name.
func EntryPath(entry Entry) string {
	if entry == nil {
		return ""
	}
	joined := entry.GetBaseName()
	for p := entry.GetParent(); p != nil; p = p.GetParent() {
		joined = p.GetBaseName() + "/" + joined
	}
	return "/" + joined
}
