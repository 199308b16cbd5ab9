package reader

import (
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/puzzlefs/go-puzzlefs/format"
)

// FS adapts a PuzzleFS snapshot to the standard io/fs.FS interface, for
// callers (such as test tooling) that want a plain walkable tree
// rather than driving FindInode/DirLookup/FileRead directly - the same
// convenience the teacher's (*Inode).OpenFile gives callers of package
// squashfs.
type FS struct {
	pfs *PuzzleFS
}

// NewFS wraps pfs as an fs.FS rooted at its top-level directory inode.
func NewFS(pfs *PuzzleFS) *FS {
	return &FS{pfs: pfs}
}

var _ fs.FS = (*FS)(nil)
var _ fs.StatFS = (*FS)(nil)

// Open resolves name (a slash-separated path relative to the image root)
// and returns it as an fs.File. Directories implement fs.ReadDirFile.
func (f *FS) Open(name string) (fs.File, error) {
	ino, inode, err := f.resolve(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: toFsErr(err)}
	}
	return f.openInode(ino, inode, path.Base(name)), nil
}

// Stat resolves name and returns its fs.FileInfo without opening it.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	_, inode, err := f.resolve(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: toFsErr(err)}
	}
	return &fileinfo{name: path.Base(name), ino: inode}, nil
}

func (f *FS) openInode(ino uint64, inode format.Inode, name string) fs.File {
	if inode.Mode.IsDir() {
		return &dirFile{pfs: f.pfs, ino: ino, inode: inode, name: name}
	}
	return &file{pfs: f.pfs, inode: inode, name: name}
}

// resolve walks name's path components from the root inode via DirLookup,
// the fs.FS equivalent of repeatedly calling dir_lookup (spec section 4.5).
func (f *FS) resolve(name string) (uint64, format.Inode, error) {
	ino := uint64(RootIno)
	inode, err := f.pfs.FindInode(ino)
	if err != nil {
		return 0, format.Inode{}, err
	}
	if name == "." || name == "" {
		return ino, inode, nil
	}

	for _, part := range splitPath(name) {
		if !inode.Mode.IsDir() {
			return 0, format.Inode{}, format.Newf(format.NotFound, "%q: not a directory", name)
		}
		childIno, err := f.pfs.DirLookup(ino, part)
		if err != nil {
			return 0, format.Inode{}, err
		}
		childInode, err := f.pfs.FindInode(childIno)
		if err != nil {
			return 0, format.Inode{}, err
		}
		ino, inode = childIno, childInode
	}
	return ino, inode, nil
}

func splitPath(name string) []string {
	name = path.Clean(name)
	if name == "." || name == "" {
		return nil
	}
	var parts []string
	for _, p := range pathSplitAll(name) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func pathSplitAll(name string) []string {
	var out []string
	start := 0
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			out = append(out, name[start:i])
			start = i + 1
		}
	}
	out = append(out, name[start:])
	return out
}

func toFsErr(err error) error {
	if format.Is(err, format.NotFound) {
		return fs.ErrNotExist
	}
	return err
}

// file is a convenience object presenting a regular-file inode as an
// fs.File with random access, mirroring the teacher's File type.
type file struct {
	pfs   *PuzzleFS
	inode format.Inode
	name  string
	pos   int64
}

var _ fs.File = (*file)(nil)
var _ io.ReaderAt = (*file)(nil)
var _ io.Seeker = (*file)(nil)

func (f *file) Stat() (fs.FileInfo, error) {
	return &fileinfo{name: f.name, ino: f.inode}, nil
}

func (f *file) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	if n > 0 && err == io.EOF {
		return n, nil
	}
	return n, err
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.pfs.FileRead(f.inode, off, p)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	size := int64(f.inode.Mode.Size())
	switch whence {
	case io.SeekStart:
		f.pos = offset
	case io.SeekCurrent:
		f.pos += offset
	case io.SeekEnd:
		f.pos = size + offset
	}
	return f.pos, nil
}

func (f *file) Close() error { return nil }

// dirFile is a convenience object presenting a directory inode as an
// fs.ReadDirFile, mirroring the teacher's FileDir type.
type dirFile struct {
	pfs     *PuzzleFS
	ino     uint64
	inode   format.Inode
	name    string
	entries []format.DirEntry
	pos     int
	loaded  bool
}

var _ fs.ReadDirFile = (*dirFile)(nil)

func (d *dirFile) Stat() (fs.FileInfo, error) {
	return &fileinfo{name: d.name, ino: d.inode}, nil
}

func (d *dirFile) Read(p []byte) (int, error) {
	return 0, fs.ErrInvalid
}

func (d *dirFile) Close() error { return nil }

func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.loaded {
		entries, err := d.pfs.DirEntries(d.ino)
		if err != nil {
			return nil, err
		}
		d.entries = entries
		d.loaded = true
	}

	if n <= 0 {
		out := make([]fs.DirEntry, 0, len(d.entries)-d.pos)
		for _, e := range d.entries[d.pos:] {
			out = append(out, d.dirEntry(e))
		}
		d.pos = len(d.entries)
		return out, nil
	}

	if d.pos >= len(d.entries) {
		return nil, io.EOF
	}
	end := d.pos + n
	if end > len(d.entries) {
		end = len(d.entries)
	}
	out := make([]fs.DirEntry, 0, end-d.pos)
	for _, e := range d.entries[d.pos:end] {
		out = append(out, d.dirEntry(e))
	}
	d.pos = end
	return out, nil
}

func (d *dirFile) dirEntry(e format.DirEntry) fs.DirEntry {
	return &direntry{name: e.Name, ino: e.Ino, pfs: d.pfs}
}

// direntry implements fs.DirEntry for one directory entry, resolving its
// inode lazily via Info().
type direntry struct {
	name string
	ino  uint64
	pfs  *PuzzleFS
}

var _ fs.DirEntry = (*direntry)(nil)

func (de *direntry) Name() string { return de.name }

func (de *direntry) IsDir() bool {
	inode, err := de.pfs.FindInode(de.ino)
	return err == nil && inode.Mode.IsDir()
}

func (de *direntry) Type() fs.FileMode {
	inode, err := de.pfs.FindInode(de.ino)
	if err != nil {
		return 0
	}
	return inode.Mode.FileMode()
}

func (de *direntry) Info() (fs.FileInfo, error) {
	inode, err := de.pfs.FindInode(de.ino)
	if err != nil {
		return nil, err
	}
	return &fileinfo{name: de.name, ino: inode}, nil
}

// fileinfo implements fs.FileInfo for an inode; puzzlefs has no stored
// modification time (the image is built deterministically from content, not
// from host timestamps), so ModTime reports the zero time the way a
// content-addressed store with no wall-clock metadata should.
type fileinfo struct {
	name string
	ino  format.Inode
}

var _ fs.FileInfo = (*fileinfo)(nil)

func (fi *fileinfo) Name() string       { return fi.name }
func (fi *fileinfo) Size() int64        { return int64(fi.ino.Mode.Size()) }
func (fi *fileinfo) Mode() fs.FileMode  { return fi.ino.FileMode() }
func (fi *fileinfo) ModTime() time.Time { return time.Time{} }
func (fi *fileinfo) IsDir() bool        { return fi.ino.Mode.IsDir() }
func (fi *fileinfo) Sys() any           { return fi.ino }
