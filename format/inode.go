package format

import (
	"io/fs"
	"sort"
)

// ModeTag identifies which variant of InodeMode an inode carries on disk.
// Values are assigned in wire-format order; Whiteout is the one addition
// over the distilled spec's visible data model (open question (a)).
type ModeTag uint8

const (
	ModeFile ModeTag = iota + 1
	ModeDir
	ModeFifo
	ModeChr
	ModeBlk
	ModeLnk
	ModeSock
	ModeWhiteout
)

func (t ModeTag) fsMode() fs.FileMode {
	switch t {
	case ModeDir:
		return fs.ModeDir
	case ModeFile:
		return 0
	case ModeFifo:
		return fs.ModeNamedPipe
	case ModeChr:
		return fs.ModeDevice | fs.ModeCharDevice
	case ModeBlk:
		return fs.ModeDevice
	case ModeLnk:
		return fs.ModeSymlink
	case ModeSock:
		return fs.ModeSocket
	default:
		return fs.ModeIrregular
	}
}

// DirEntry is one (name, ino) pair inside a directory. Entries must be kept
// sorted by Name, per spec section 3's MetadataBlob description.
type DirEntry struct {
	Name string
	Ino  uint64
}

// InodeMode is the tagged union of everything an inode can be. Exactly one
// of the typed fields is meaningful, selected by Tag.
type InodeMode struct {
	Tag ModeTag

	// ModeFile
	Chunks []BlobRef
	// ModeDir
	Entries []DirEntry
	// ModeChr, ModeBlk
	Rdev uint32
	// ModeLnk
	Target []byte
}

// FileMode returns the POSIX file type bits (no permission bits) for m.
func (m InodeMode) FileMode() fs.FileMode {
	return m.Tag.fsMode()
}

// IsDir reports whether m is a directory.
func (m InodeMode) IsDir() bool { return m.Tag == ModeDir }

// IsWhiteout reports whether m marks a lower-layer entry as deleted.
func (m InodeMode) IsWhiteout() bool { return m.Tag == ModeWhiteout }

// Size returns the file's logical size: the sum of its chunk lengths for a
// regular file, 0 otherwise.
func (m InodeMode) Size() uint64 {
	if m.Tag != ModeFile {
		return 0
	}
	var total uint64
	for _, c := range m.Chunks {
		total += c.Length
	}
	return total
}

// SortEntries sorts Entries lexicographically by name, as required before
// serialization (spec section 3, MetadataBlob).
func (m *InodeMode) SortEntries() {
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Name < m.Entries[j].Name })
}

// Inode is a single filesystem object within one metadata layer.
type Inode struct {
	Ino         uint64
	Uid         uint32
	Gid         uint32
	Permissions uint16
	Mode        InodeMode

	// XattrIndex is a reserved wire-format slot for a future xattr table
	// (open question (b)). It is encoded/decoded like any other field so
	// the on-disk layout already has a place to grow into, but this
	// implementation always writes it as 0; no xattr table is written or
	// read, and no code in this module serves xattr reads.
	XattrIndex uint32
}

// FileMode returns the combined POSIX mode (type + permission bits).
func (i Inode) FileMode() fs.FileMode {
	return i.Mode.FileMode() | fs.FileMode(i.Permissions)
}
